//go:build !linux

package input

import (
	"errors"
	"log/slog"
)

// OpenJoystick is only available on Linux.
func OpenJoystick(cfg JoystickConfig, logger *slog.Logger) (*Joystick, error) {
	return nil, errors.New("joystick input requires linux evdev")
}
