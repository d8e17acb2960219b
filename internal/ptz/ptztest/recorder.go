// Package ptztest provides an in-memory ptz.Actuator for tests.
package ptztest

import (
	"fmt"
	"sync"

	"joyptz/internal/ptz"
)

// Call is one recorded actuator call.
type Call struct {
	Op     string
	Vector ptz.Vector
	Focus  float64
	Preset int
	Aux    string
}

func (c Call) String() string {
	switch c.Op {
	case "move":
		return fmt.Sprintf("move%v", c.Vector)
	case "focus":
		return fmt.Sprintf("focus(%.3f)", c.Focus)
	case "preset":
		return fmt.Sprintf("preset(%d)", c.Preset)
	case "aux":
		return fmt.Sprintf("aux(%s)", c.Aux)
	}
	return c.Op
}

// Recorder records every call. Setting Err makes the next calls fail
// without being recorded.
type Recorder struct {
	mu     sync.Mutex
	calls  []Call
	Err    error
	Closed bool
}

func (r *Recorder) record(c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.calls = append(r.calls, c)
	return nil
}

// Fail makes subsequent calls return err until Fail(nil) is called.
func (r *Recorder) Fail(err error) {
	r.mu.Lock()
	r.Err = err
	r.mu.Unlock()
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Ops returns only the operation names of the recorded calls.
func (r *Recorder) Ops() []string {
	calls := r.Calls()
	ops := make([]string, len(calls))
	for i, c := range calls {
		ops[i] = c.Op
	}
	return ops
}

// Reset forgets the recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

func (r *Recorder) Move(v ptz.Vector) error { return r.record(Call{Op: "move", Vector: v}) }
func (r *Recorder) Stop() error { return r.record(Call{Op: "stop"}) }
func (r *Recorder) SetFocus(f float64) error {
	return r.record(Call{Op: "focus", Focus: f})
}

func (r *Recorder) GotoPreset(n int) error {
	if n < 0 {
		return fmt.Errorf("preset %d: %w", n, ptz.ErrInvalidPreset)
	}
	return r.record(Call{Op: "preset", Preset: n})
}

func (r *Recorder) AuxiliaryCommand(name string) error {
	return r.record(Call{Op: "aux", Aux: name})
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	r.Closed = true
	r.mu.Unlock()
	return nil
}

var _ ptz.Actuator = (*Recorder)(nil)
