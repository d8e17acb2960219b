package control

import (
	"errors"
	"log/slog"

	"joyptz/internal/ptz"
)

// Observer is notified of every decision the Controller takes.
type Observer interface {
	CommandSent(op string)
	CommandSuppressed(op string)
	CommandFailed(op string, err error)
}

type nopObserver struct{}

func (nopObserver) CommandSent(string)          {}
func (nopObserver) CommandSuppressed(string)    {}
func (nopObserver) CommandFailed(string, error) {}

// Operation names reported to observers.
const (
	OpMove   = "move"
	OpStop   = "stop"
	OpFocus  = "focus"
	OpPreset = "preset"
	OpAux    = "aux"
)

// Controller owns the intent state of one camera session and forwards it to
// an actuator through the Smoother.
//
// A Controller is not safe for concurrent use; a single loop owns it.
type Controller struct {
	act      ptz.Actuator
	smoother *Smoother
	logger   *slog.Logger
	observer Observer

	intent      ptz.Vector
	focus       float64
	active      ptz.Vector
	activeFocus float64
	locked      bool
	speed       float64
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger used for command decisions.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver registers an observer for command decisions.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.observer = o
		}
	}
}

// New creates a Controller for act.
func New(act ptz.Actuator, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		act:      act,
		smoother: NewSmoother(cfg),
		logger:   slog.Default(),
		observer: nopObserver{},
		speed:    1.0,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetIntent stores the desired motion and focus. It never talks to the camera.
func (c *Controller) SetIntent(v ptz.Vector, focus float64) {
	c.intent = v.Sanitize()
	c.focus = ptz.Clamp(focus)
}

// SetMotion replaces the motion intent and keeps the focus intent.
func (c *Controller) SetMotion(v ptz.Vector) {
	c.intent = v.Sanitize()
}

// SetFocus replaces the focus intent and keeps the motion intent.
func (c *Controller) SetFocus(focus float64) {
	c.focus = ptz.Clamp(focus)
}

// Tick forwards the current intent to the actuator when the smoother allows
// it. The last sent state only advances after the actuator accepted the
// command, so a failed command is retried on the next tick.
func (c *Controller) Tick() error {
	if c.locked {
		return nil
	}
	return errors.Join(c.tickMotion(), c.tickFocus())
}

func (c *Controller) tickMotion() error {
	next := c.intent

	if c.smoother.IsStop(next) {
		if !c.smoother.ShouldStop(next, c.active) {
			return nil
		}
		if err := c.act.Stop(); err != nil {
			c.observer.CommandFailed(OpStop, err)
			return ptz.Wrap(OpStop, err)
		}
		c.logger.Debug("stopped", "previous", c.active)
		c.active = ptz.Zero
		c.observer.CommandSent(OpStop)
		return nil
	}

	if !c.smoother.ShouldSend(next, c.active) {
		c.observer.CommandSuppressed(OpMove)
		return nil
	}
	if err := c.act.Move(next); err != nil {
		c.observer.CommandFailed(OpMove, err)
		return ptz.Wrap(OpMove, err)
	}
	c.logger.Debug("move", "vector", next, "magnitude", next.Norm())
	c.active = next
	c.observer.CommandSent(OpMove)
	return nil
}

func (c *Controller) tickFocus() error {
	value, send := c.smoother.Focus(c.focus, c.activeFocus)
	if !send {
		return nil
	}
	if err := c.act.SetFocus(value); err != nil {
		c.observer.CommandFailed(OpFocus, err)
		return ptz.Wrap(OpFocus, err)
	}
	c.activeFocus = value
	c.observer.CommandSent(OpFocus)
	return nil
}

// ToggleLock flips the lock and returns the new state. While locked, intent
// is still recorded but nothing is sent; no stop is issued on entry.
func (c *Controller) ToggleLock() bool {
	c.locked = !c.locked
	c.logger.Info("lock toggled", "locked", c.locked, "active", c.active)
	return c.locked
}

// Locked reports whether the controller is locked.
func (c *Controller) Locked() bool { return c.locked }

// Intent returns the last stored motion and focus intent.
func (c *Controller) Intent() (ptz.Vector, float64) { return c.intent, c.focus }

// Active returns the last vector the actuator accepted.
func (c *Controller) Active() ptz.Vector { return c.active }

// ActiveFocus returns the last focus speed the actuator accepted.
func (c *Controller) ActiveFocus() float64 { return c.activeFocus }

// Speed returns the speed multiplier. Only the tracking loop scales its
// intents by it; keyboard, network and browser sources scale their own
// direction commands before they reach the controller.
func (c *Controller) Speed() float64 { return c.speed }

// SetSpeed sets the speed multiplier. It does not rescale the pending intent.
func (c *Controller) SetSpeed(s float64) {
	c.speed = s
}

// GotoPreset recalls a preset. Failures leave the motion state untouched.
func (c *Controller) GotoPreset(n int) error {
	if err := c.act.GotoPreset(n); err != nil {
		c.observer.CommandFailed(OpPreset, err)
		return ptz.Wrap(OpPreset, err)
	}
	c.observer.CommandSent(OpPreset)
	return nil
}

// Aux sends a named auxiliary command. Failures leave the motion state untouched.
func (c *Controller) Aux(name string) error {
	if err := c.act.AuxiliaryCommand(name); err != nil {
		c.observer.CommandFailed(OpAux, err)
		return ptz.Wrap(OpAux, err)
	}
	c.observer.CommandSent(OpAux)
	return nil
}

// Halt stops the camera regardless of lock state and clears the intent.
// It is used when a session ends.
func (c *Controller) Halt() error {
	c.intent = ptz.Zero
	c.focus = 0
	var errs []error
	if err := c.act.Stop(); err != nil {
		errs = append(errs, ptz.Wrap(OpStop, err))
	} else {
		c.active = ptz.Zero
	}
	if c.activeFocus != 0 {
		if err := c.act.SetFocus(0); err != nil {
			errs = append(errs, ptz.Wrap(OpFocus, err))
		} else {
			c.activeFocus = 0
		}
	}
	return errors.Join(errs...)
}
