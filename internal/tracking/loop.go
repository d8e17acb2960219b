package tracking

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r2"

	"joyptz/internal/ptz"
)

// Steerer is the part of the controller the tracking loop drives.
type Steerer interface {
	SetIntent(v ptz.Vector, focus float64)
	Tick() error
	Speed() float64
	SetSpeed(s float64)
	ToggleLock() bool
}

// Observer receives every decision of the loop.
type Observer interface {
	Sample(d Decision)
}

// Decision describes what the loop did with one tracker result.
type Decision struct {
	Found     bool
	Target    image.Point
	Closeness float64
	Intent    ptz.Vector
	Speed     float64

	// Ticked is set when the controller was ticked, Immediate when that
	// tick bypassed the throttle.
	Ticked    bool
	Immediate bool
}

// Loop steers the camera towards a tracked target.
//
// Speed adaptation is a discrete bang-bang integrator rather than a PID:
// the tracker signal is noisy and drops out, so the loop only reacts to
// relative distance changes larger than SpeedChangeThreshold and moves the
// speed by a fixed step.
type Loop struct {
	cfg      Config
	ctrl     Steerer
	logger   *slog.Logger
	observer Observer
	now      func() time.Time

	center        r2.Vec
	started       bool
	lastMagnitude float64
	hasLast       bool
	closeness     float64
	lastUpdate    time.Time
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the loop logger.
func WithLogger(l *slog.Logger) Option {
	return func(lp *Loop) {
		if l != nil {
			lp.logger = l
		}
	}
}

// WithObserver registers an observer for decisions.
func WithObserver(o Observer) Option {
	return func(lp *Loop) { lp.observer = o }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(lp *Loop) { lp.now = now }
}

// NewLoop creates a tracking loop driving ctrl.
func NewLoop(cfg Config, ctrl Steerer, opts ...Option) *Loop {
	l := &Loop{
		cfg:    cfg.withDefaults(),
		ctrl:   ctrl,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Config returns the effective configuration.
func (l *Loop) Config() Config { return l.cfg }

// Closeness returns the closeness computed on the last successful update.
func (l *Loop) Closeness() float64 { return l.closeness }

// Start fixes the frame center and resets the speed to its floor.
func (l *Loop) Start(frameSize image.Point) error {
	if frameSize.X <= 0 || frameSize.Y <= 0 {
		return fmt.Errorf("invalid frame size %v", frameSize)
	}
	l.center = r2.Vec{X: float64(frameSize.X / 2), Y: float64(frameSize.Y / 2)}
	l.started = true
	l.ctrl.SetSpeed(l.cfg.InitialSpeed)
	return nil
}

// Reacquire resets the speed after the tracker was given a new region;
// a fresh acquisition is not trusted yet.
func (l *Loop) Reacquire() {
	l.ctrl.SetSpeed(l.cfg.InitialSpeed)
}

// Step feeds one tracker result into the loop. The returned error is the
// controller's tick error, if any; it never stops the loop.
// Before Start there is no frame center, so every result counts as lost.
func (l *Loop) Step(r Result) (Decision, error) {
	if !l.started {
		r = Lost
	}
	d := Decision{Found: r.Found}
	var err error

	if !r.Found {
		l.ctrl.SetIntent(ptz.Zero, 0)
		d.Ticked, d.Immediate = true, true
		err = l.ctrl.Tick()
		d.Speed = l.ctrl.Speed()
		l.sample(d)
		return d, err
	}

	d.Target = r.Center()
	offset := r2.Sub(r2.Vec{X: float64(d.Target.X), Y: float64(d.Target.Y)}, l.center)
	mag := r2.Norm(offset)
	l.closeness = mag / r2.Norm(l.center)
	d.Closeness = l.closeness

	switch {
	case l.closeness < l.cfg.CloseEnough:
		l.ctrl.SetIntent(ptz.Zero, 0)
		l.ctrl.SetSpeed(l.cfg.InitialSpeed)
		d.Ticked, d.Immediate = true, true
		err = l.ctrl.Tick()

	case l.closeness > l.cfg.NotCloseEnough && l.due():
		l.adjustSpeed(l.closeness)
		d.Intent = Intent(offset, l.ctrl.Speed(), l.cfg.WobbleThreshold)
		l.ctrl.SetIntent(d.Intent, 0)
		l.lastUpdate = l.now()
		d.Ticked = true
		err = l.ctrl.Tick()

	default:
		d.Intent = Intent(offset, l.ctrl.Speed(), l.cfg.WobbleThreshold)
	}

	d.Speed = l.ctrl.Speed()
	l.sample(d)
	return d, err
}

func (l *Loop) due() bool {
	return l.lastUpdate.IsZero() || l.now().Sub(l.lastUpdate) >= l.cfg.UpdateInterval
}

func (l *Loop) sample(d Decision) {
	if l.observer != nil {
		l.observer.Sample(d)
	}
}

// adjustSpeed steps the controller speed up when the target drifts away and
// down when it comes closer. The first call only records the closeness.
func (l *Loop) adjustSpeed(closeness float64) {
	if !l.hasLast {
		l.lastMagnitude = closeness
		l.hasLast = true
		return
	}

	change := math.Abs(closeness-l.lastMagnitude) / closeness
	if change >= l.cfg.SpeedChangeThreshold {
		speed := l.ctrl.Speed()
		if closeness > l.lastMagnitude {
			speed += l.cfg.SpeedStep
		} else {
			speed -= l.cfg.SpeedStep
		}
		speed = math.Max(l.cfg.InitialSpeed, math.Min(l.cfg.MaxSpeed, speed))
		l.ctrl.SetSpeed(speed)
		l.logger.Debug("speed adjusted", "closeness", closeness, "previous", l.lastMagnitude, "speed", speed)
	}
	l.lastMagnitude = closeness
}

// Intent converts a screen-space offset into a unit pan/tilt direction
// scaled by speed. Screen Y grows downward while tilt grows upward, so the
// vertical component is flipped. Components under wobble are zeroed.
func Intent(offset r2.Vec, speed, wobble float64) ptz.Vector {
	mag := r2.Norm(offset)
	if mag == 0 {
		return ptz.Zero
	}
	v := ptz.Vector{
		Pan:  offset.X / mag * speed,
		Tilt: -offset.Y / mag * speed,
	}
	if math.Abs(v.Pan) < wobble {
		v.Pan = 0
	}
	if math.Abs(v.Tilt) < wobble {
		v.Tilt = 0
	}
	return v
}

// Run reads frames from src until ctx is canceled, the source ends or the
// operator quits. The first frame fixes the center; when disp is non-nil
// the operator selects the initial region on it.
func (l *Loop) Run(ctx context.Context, src FrameSource, tr Tracker, disp Display) error {
	first, err := src.Read()
	if err != nil {
		return fmt.Errorf("read first frame: %w", err)
	}
	if err := l.Start(first.Size()); err != nil {
		return err
	}
	if disp != nil {
		if err := l.acquire(first, tr, disp); err != nil {
			return err
		}
	}
	l.logger.Info("tracking started", "frame", first.Size(), "center", l.center)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frame, err := src.Read()
		if errors.Is(err, io.EOF) {
			l.logger.Info("end of stream")
			return nil
		}
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}

		d, err := l.Step(tr.Update(frame))
		if err != nil {
			l.logger.Warn("tick failed", "error", err)
		}
		if !d.Found {
			l.logger.Debug("tracking failure detected")
		}
		if disp == nil {
			continue
		}

		switch disp.Show(frame, d) {
		case RequestQuit:
			return nil
		case RequestReacquire:
			if err := l.acquire(frame, tr, disp); err != nil {
				l.logger.Warn("re-acquisition failed", "error", err)
			}
		case RequestToggleLock:
			l.ctrl.ToggleLock()
		}
	}
}

func (l *Loop) acquire(f Frame, tr Tracker, disp Display) error {
	roi, err := disp.SelectROI(f)
	if err != nil {
		return fmt.Errorf("select region: %w", err)
	}
	if roi.Empty() {
		return errors.New("select region: empty selection")
	}
	if err := tr.Reinitialize(f, roi); err != nil {
		return fmt.Errorf("initialize tracker: %w", err)
	}
	l.Reacquire()
	l.logger.Info("target acquired", "roi", roi)
	return nil
}
