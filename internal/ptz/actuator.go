package ptz

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPreset is returned when a preset number is outside the
	// range the camera accepts.
	ErrInvalidPreset = errors.New("invalid preset")

	// ErrUnsupported is returned for auxiliary commands a camera does not know.
	ErrUnsupported = errors.New("unsupported command")
)

// Actuator defines the interface for PTZ camera control
type Actuator interface {
	// Move starts a continuous move with the given normalized velocity.
	// pan: -1.0 (left) to 1.0 (right)
	// tilt: -1.0 (down) to 1.0 (up)
	// zoom: -1.0 (wide/out) to 1.0 (tele/in)
	Move(v Vector) error

	// Stop stops all PTZ movement immediately
	Stop() error

	// SetFocus sets the continuous focus speed
	// focus: -1.0 (near) to 1.0 (far), 0 stops
	SetFocus(focus float64) error

	// GotoPreset recalls a stored preset position
	GotoPreset(preset int) error

	// AuxiliaryCommand sends a named camera command such as "wiper" or "ir-on"
	AuxiliaryCommand(name string) error

	// Close closes the actuator connection
	Close() error
}

// ActuatorError reports a failed command.
type ActuatorError struct {
	Op  string
	Err error
}

func (e *ActuatorError) Error() string {
	return fmt.Sprintf("ptz %s: %v", e.Op, e.Err)
}

func (e *ActuatorError) Unwrap() error {
	return e.Err
}

// Wrap returns nil for a nil err, err itself when it already carries an
// *ActuatorError, otherwise a new *ActuatorError for op.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *ActuatorError
	if errors.As(err, &ae) {
		return err
	}
	return &ActuatorError{Op: op, Err: err}
}

// Auxiliary command names understood by the bundled actuators.
const (
	AuxWiper  = "wiper"
	AuxIRAuto = "ir-auto"
	AuxIROn   = "ir-on"
	AuxIROff  = "ir-off"
)
