package control

import (
	"math"

	"joyptz/internal/ptz"
)

// Default smoothing thresholds.
const (
	DefaultMoveThreshold  = 0.05
	DefaultStopThreshold  = 0.006
	DefaultFocusThreshold = 0.05
)

// Config holds the hysteresis and deadband thresholds used by the Smoother.
type Config struct {
	// MoveThreshold is the minimum euclidean distance between a new intent
	// and the last sent vector before a new move is issued.
	MoveThreshold float64

	// StopThreshold is the magnitude under which an intent counts as a stop.
	// Idle sticks usually sit around 0.005.
	StopThreshold float64

	// FocusThreshold is the minimum focus change before a new focus speed is sent.
	FocusThreshold float64
}

// DefaultConfig returns the reference thresholds.
func DefaultConfig() Config {
	return Config{
		MoveThreshold:  DefaultMoveThreshold,
		StopThreshold:  DefaultStopThreshold,
		FocusThreshold: DefaultFocusThreshold,
	}
}

func (c Config) withDefaults() Config {
	if c.MoveThreshold <= 0 {
		c.MoveThreshold = DefaultMoveThreshold
	}
	if c.StopThreshold <= 0 {
		c.StopThreshold = DefaultStopThreshold
	}
	if c.FocusThreshold <= 0 {
		c.FocusThreshold = DefaultFocusThreshold
	}
	return c
}

// Smoother decides whether an intent is worth forwarding to the camera.
//
// Continuous-move protocols are sensitive to load and latency, so near
// identical velocities are dropped instead of being resent.
type Smoother struct {
	cfg Config
}

// NewSmoother creates a Smoother. Zero thresholds take their defaults.
func NewSmoother(cfg Config) *Smoother {
	return &Smoother{cfg: cfg.withDefaults()}
}

// Config returns the effective thresholds.
func (s *Smoother) Config() Config {
	return s.cfg
}

// ShouldSend reports whether next differs enough from active to be sent.
func (s *Smoother) ShouldSend(next, active ptz.Vector) bool {
	return next.Distance(active) >= s.cfg.MoveThreshold
}

// IsStop reports whether v is small enough to mean "no motion".
func (s *Smoother) IsStop(v ptz.Vector) bool {
	return v.Norm() < s.cfg.StopThreshold
}

// ShouldStop reports whether a stop has to be sent for next. A stop is only
// sent when the camera is believed to be moving.
func (s *Smoother) ShouldStop(next, active ptz.Vector) bool {
	return s.IsStop(next) && !active.IsZero()
}

// Focus returns the focus value to forward for next and whether it should
// be sent given the last sent value active.
func (s *Smoother) Focus(next, active float64) (float64, bool) {
	if math.Abs(next) < s.cfg.StopThreshold {
		return 0, active != 0
	}
	return next, math.Abs(next-active) >= s.cfg.FocusThreshold
}
