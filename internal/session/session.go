// Package session drives a controller from an intent source at a fixed
// cadence.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"joyptz/internal/control"
	"joyptz/internal/input"
	"joyptz/internal/ptz"
)

// DefaultTickRate is the controller tick frequency in Hz.
const DefaultTickRate = 5.0

type runner struct {
	interval time.Duration
	logger   *slog.Logger
	lastErr  string
}

// Option configures Run.
type Option func(*runner)

// WithTickRate sets the tick frequency in Hz. Non-positive values keep the
// default.
func WithTickRate(hz float64) Option {
	return func(r *runner) {
		if hz > 0 {
			r.interval = time.Duration(float64(time.Second) / hz)
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// Run applies events from src to ctrl and ticks ctrl until ctx is done, the
// source closes or a quit command arrives. The camera is halted on the way
// out. Actuator errors are logged and retried by the next tick.
//
// Run is the only goroutine touching ctrl while it runs.
func Run(ctx context.Context, src input.Source, ctrl *control.Controller, opts ...Option) error {
	r := &runner{
		interval: time.Duration(float64(time.Second) / DefaultTickRate),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	defer func() {
		if err := ctrl.Halt(); err != nil {
			r.logger.Error("failed to stop camera", "error", err)
		}
	}()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	events := src.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				r.logger.Info("input source closed")
				return nil
			}
			if quit := r.apply(ctrl, ev); quit {
				r.logger.Info("quit requested")
				return nil
			}
		case <-ticker.C:
			r.report(ctrl.Tick())
		}
	}
}

// Apply applies one event to ctrl. It reports whether the event asked the
// session to end.
func Apply(ctrl *control.Controller, ev input.Event, logger *slog.Logger) bool {
	if logger == nil {
		logger = slog.Default()
	}
	r := &runner{logger: logger}
	return r.apply(ctrl, ev)
}

func (r *runner) apply(ctrl *control.Controller, ev input.Event) bool {
	if ev.Intent != nil {
		ctrl.SetMotion(*ev.Intent)
	}
	if ev.Focus != nil {
		ctrl.SetFocus(*ev.Focus)
	}

	cmd := ev.Command
	switch cmd.Kind {
	case input.CommandNone:
	case input.CommandToggleLock:
		ctrl.ToggleLock()
	case input.CommandPreset:
		if err := ctrl.GotoPreset(cmd.Preset); err != nil {
			r.logger.Warn("preset recall failed", "preset", cmd.Preset, "error", err)
		}
	case input.CommandAux:
		if err := ctrl.Aux(cmd.Aux); err != nil {
			r.logger.Warn("auxiliary command failed", "aux", cmd.Aux, "error", err)
		}
	case input.CommandSpeed:
		// Sources already scaled their intents; this records the operator's choice.
		ctrl.SetSpeed(cmd.Speed)
		r.logger.Debug("speed set", "speed", cmd.Speed)
	case input.CommandQuit:
		return true
	default:
		r.logger.Debug("command ignored", "command", cmd.Kind)
	}
	return false
}

// report logs tick errors, once per distinct failure.
func (r *runner) report(err error) {
	if err == nil {
		if r.lastErr != "" {
			r.logger.Info("camera commands recovered")
			r.lastErr = ""
		}
		return
	}
	if msg := err.Error(); msg != r.lastErr {
		r.lastErr = msg
		var aerr *ptz.ActuatorError
		if errors.As(err, &aerr) {
			r.logger.Warn("camera command failed", "op", aerr.Op, "error", aerr.Err)
			return
		}
		r.logger.Warn("camera command failed", "error", err)
	}
}
