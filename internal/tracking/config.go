package tracking

import "time"

// Reference values for the tracking loop.
const (
	DefaultUpdateInterval       = 500 * time.Millisecond
	DefaultCloseEnough          = 0.1
	DefaultNotCloseEnough       = 0.25
	DefaultWobbleThreshold      = 0.02
	DefaultInitialSpeed         = 0.07
	DefaultMaxSpeed             = 1.0
	DefaultSpeedStep            = 0.25
	DefaultSpeedChangeThreshold = 0.2
)

// Config tunes the tracking loop.
type Config struct {
	// UpdateInterval is the minimum time between throttled controller updates.
	UpdateInterval time.Duration

	// CloseEnough is the closeness under which the camera snaps to a stop.
	CloseEnough float64

	// NotCloseEnough is the closeness above which speed is adapted and the
	// controller is ticked.
	NotCloseEnough float64

	// WobbleThreshold zeroes intent components smaller than itself.
	WobbleThreshold float64

	// InitialSpeed is the speed floor, used after centering and re-acquisition.
	InitialSpeed float64
	MaxSpeed     float64
	SpeedStep    float64

	// SpeedChangeThreshold is the relative closeness change ignored as noise.
	SpeedChangeThreshold float64
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		UpdateInterval:       DefaultUpdateInterval,
		CloseEnough:          DefaultCloseEnough,
		NotCloseEnough:       DefaultNotCloseEnough,
		WobbleThreshold:      DefaultWobbleThreshold,
		InitialSpeed:         DefaultInitialSpeed,
		MaxSpeed:             DefaultMaxSpeed,
		SpeedStep:            DefaultSpeedStep,
		SpeedChangeThreshold: DefaultSpeedChangeThreshold,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.UpdateInterval <= 0 {
		c.UpdateInterval = d.UpdateInterval
	}
	if c.CloseEnough <= 0 {
		c.CloseEnough = d.CloseEnough
	}
	if c.NotCloseEnough <= 0 {
		c.NotCloseEnough = d.NotCloseEnough
	}
	if c.WobbleThreshold <= 0 {
		c.WobbleThreshold = d.WobbleThreshold
	}
	if c.InitialSpeed <= 0 {
		c.InitialSpeed = d.InitialSpeed
	}
	if c.MaxSpeed <= 0 {
		c.MaxSpeed = d.MaxSpeed
	}
	if c.SpeedStep <= 0 {
		c.SpeedStep = d.SpeedStep
	}
	if c.SpeedChangeThreshold <= 0 {
		c.SpeedChangeThreshold = d.SpeedChangeThreshold
	}
	return c
}
