package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"joyptz/internal/control"
	"joyptz/internal/input"
	"joyptz/internal/ptz"
	"joyptz/internal/ptz/ptztest"
)

type chanSource struct {
	ch chan input.Event
}

func newChanSource() *chanSource { return &chanSource{ch: make(chan input.Event, 8)} }

func (s *chanSource) Events() <-chan input.Event { return s.ch }
func (s *chanSource) Close() error { return nil }

type failureCounter struct {
	failed atomic.Int32
}

func (*failureCounter) CommandSent(string)       {}
func (*failureCounter) CommandSuppressed(string) {}
func (c *failureCounter) CommandFailed(string, error) {
	c.failed.Add(1)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func hasOp(rec *ptztest.Recorder, op string) func() bool {
	return func() bool {
		for _, o := range rec.Ops() {
			if o == op {
				return true
			}
		}
		return false
	}
}

func TestApply(t *testing.T) {
	rec := &ptztest.Recorder{}
	ctrl := control.New(rec, control.DefaultConfig())

	assert.False(t, Apply(ctrl, input.IntentEvent(ptz.Vector{Pan: 0.4}), nil))
	assert.False(t, Apply(ctrl, input.FocusEvent(-0.5), nil))
	v, f := ctrl.Intent()
	assert.Equal(t, ptz.Vector{Pan: 0.4}, v)
	assert.Equal(t, -0.5, f)
	assert.Empty(t, rec.Calls(), "events never reach the camera directly")

	Apply(ctrl, input.CommandEvent(input.Command{Kind: input.CommandSpeed, Speed: 0.3}), nil)
	assert.Equal(t, 0.3, ctrl.Speed())

	Apply(ctrl, input.CommandEvent(input.Command{Kind: input.CommandToggleLock}), nil)
	assert.True(t, ctrl.Locked())

	Apply(ctrl, input.CommandEvent(input.Command{Kind: input.CommandPreset, Preset: 4}), nil)
	Apply(ctrl, input.CommandEvent(input.Command{Kind: input.CommandPreset, Preset: -1}), quietLogger())
	Apply(ctrl, input.CommandEvent(input.Command{Kind: input.CommandAux, Aux: ptz.AuxWiper}), nil)
	assert.Equal(t, []string{"preset", "aux"}, rec.Ops())

	assert.False(t, Apply(ctrl, input.CommandEvent(input.Command{Kind: input.CommandReacquire}), nil))
	assert.True(t, Apply(ctrl, input.CommandEvent(input.Command{Kind: input.CommandQuit}), nil))
}

func TestSpeedCommandKeepsExplicitIntents(t *testing.T) {
	rec := &ptztest.Recorder{}
	ctrl := control.New(rec, control.DefaultConfig())

	Apply(ctrl, input.CommandEvent(input.Command{Kind: input.CommandSpeed, Speed: 0.3}), nil)
	Apply(ctrl, input.IntentEvent(ptz.Vector{Pan: 1}), nil)
	require.NoError(t, ctrl.Tick())

	assert.Equal(t, 0.3, ctrl.Speed())
	calls := rec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, ptz.Vector{Pan: 1}, calls[0].Vector)
}

func TestParsedSpeedScalesDirections(t *testing.T) {
	rec := &ptztest.Recorder{}
	ctrl := control.New(rec, control.DefaultConfig())
	p := input.NewParser()

	for _, line := range []string{"speed 3", "right"} {
		evs, err := p.Parse(line)
		require.NoError(t, err)
		for _, ev := range evs {
			Apply(ctrl, ev, nil)
		}
	}
	require.NoError(t, ctrl.Tick())

	calls := rec.Calls()
	require.Len(t, calls, 1)
	assert.InDelta(t, 0.3, calls[0].Vector.Pan, 1e-9)
}

func TestRunTicksAndHaltsWhenSourceCloses(t *testing.T) {
	rec := &ptztest.Recorder{}
	ctrl := control.New(rec, control.DefaultConfig())
	src := newChanSource()

	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), src, ctrl, WithTickRate(200), WithLogger(quietLogger()))
	}()

	src.ch <- input.IntentEvent(ptz.Vector{Pan: 1})
	assert.Eventually(t, hasOp(rec, "move"), time.Second, 5*time.Millisecond)

	close(src.ch)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}

	ops := rec.Ops()
	assert.Equal(t, "stop", ops[len(ops)-1])
	assert.Equal(t, ptz.Zero, ctrl.Active())
}

func TestRunQuitCommand(t *testing.T) {
	rec := &ptztest.Recorder{}
	ctrl := control.New(rec, control.DefaultConfig())
	src := newChanSource()
	src.ch <- input.CommandEvent(input.Command{Kind: input.CommandQuit})

	err := Run(context.Background(), src, ctrl, WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Equal(t, []string{"stop"}, rec.Ops())
}

func TestRunContextCancel(t *testing.T) {
	rec := &ptztest.Recorder{}
	ctrl := control.New(rec, control.DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Run(ctx, newChanSource(), ctrl, WithLogger(quietLogger()))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"stop"}, rec.Ops())
}

func TestRunSurvivesActuatorErrors(t *testing.T) {
	rec := &ptztest.Recorder{}
	rec.Fail(errors.New("link down"))
	obs := &failureCounter{}
	ctrl := control.New(rec, control.DefaultConfig(), control.WithObserver(obs))
	src := newChanSource()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, src, ctrl, WithTickRate(200), WithLogger(quietLogger()))
	}()

	src.ch <- input.IntentEvent(ptz.Vector{Tilt: -1})
	assert.Eventually(t, func() bool { return obs.failed.Load() >= 3 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, rec.Calls())

	rec.Fail(nil)
	assert.Eventually(t, hasOp(rec, "move"), time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
