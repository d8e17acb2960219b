// Package input defines the contract every intent source shares and the
// local sources: Linux joystick/keyboard devices and a line-oriented CLI.
package input

import (
	"fmt"

	"joyptz/internal/ptz"
)

// CommandKind identifies a control command carried by an Event.
type CommandKind int

const (
	CommandNone CommandKind = iota
	CommandToggleLock
	CommandReacquire
	CommandPreset
	CommandAux
	CommandSpeed
	CommandQuit
)

func (k CommandKind) String() string {
	switch k {
	case CommandNone:
		return "none"
	case CommandToggleLock:
		return "lock"
	case CommandReacquire:
		return "reacquire"
	case CommandPreset:
		return "preset"
	case CommandAux:
		return "aux"
	case CommandSpeed:
		return "speed"
	case CommandQuit:
		return "quit"
	}
	return fmt.Sprintf("command(%d)", int(k))
}

// Command is a discrete request from an intent source.
type Command struct {
	Kind   CommandKind
	Preset int
	Aux    string
	Speed  float64
}

// Event is one update from an intent source. Nil fields are left unchanged.
type Event struct {
	Intent  *ptz.Vector
	Focus   *float64
	Command Command
}

// IntentEvent returns an event replacing the motion intent.
func IntentEvent(v ptz.Vector) Event {
	return Event{Intent: &v}
}

// FocusEvent returns an event replacing the focus intent.
func FocusEvent(f float64) Event {
	return Event{Focus: &f}
}

// CommandEvent returns an event carrying only a command.
func CommandEvent(c Command) Event {
	return Event{Command: c}
}

// Source produces events on a channel. The channel is closed when the
// source ends; background goroutines only ever send on it.
type Source interface {
	Events() <-chan Event
	Close() error
}
