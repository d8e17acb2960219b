package input

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"joyptz/internal/ptz"
)

// ErrUnknownCommand is returned by Parser for unrecognized input.
var ErrUnknownCommand = errors.New("unknown command")

// Parser turns text commands into events. It understands both the bare
// form ("left") and the network form ("ptz left").
//
//	left|right|up|down     pan/tilt at the current speed
//	in|out                 zoom
//	stop                   stop motion and focus
//	move <pan> <tilt> <zoom>
//	focus <speed>
//	preset <n>
//	aux <name>
//	speed <n>              n/10 for 1..10, or a fraction in (0, 1]
//	lock | reacquire | quit
type Parser struct {
	// Speed is used for directional commands.
	Speed float64
}

// NewParser returns a parser with full speed.
func NewParser() *Parser {
	return &Parser{Speed: 1.0}
}

// Parse converts one line into events.
func (p *Parser) Parse(line string) ([]Event, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) > 0 && fields[0] == "ptz" {
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrUnknownCommand)
	}

	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "left":
		return intent(ptz.Vector{Pan: -p.Speed}), nil
	case "right":
		return intent(ptz.Vector{Pan: p.Speed}), nil
	case "up":
		return intent(ptz.Vector{Tilt: p.Speed}), nil
	case "down":
		return intent(ptz.Vector{Tilt: -p.Speed}), nil
	case "in":
		return intent(ptz.Vector{Zoom: 1}), nil
	case "out":
		return intent(ptz.Vector{Zoom: -1}), nil
	case "stop":
		return []Event{IntentEvent(ptz.Zero), FocusEvent(0)}, nil
	case "move":
		vals, err := floats(cmd, args, 3)
		if err != nil {
			return nil, err
		}
		return intent(ptz.Vector{Pan: vals[0], Tilt: vals[1], Zoom: vals[2]}), nil
	case "focus":
		vals, err := floats(cmd, args, 1)
		if err != nil {
			return nil, err
		}
		return []Event{FocusEvent(vals[0])}, nil
	case "preset":
		if len(args) != 1 {
			return nil, fmt.Errorf("preset: expected 1 argument, got %d", len(args))
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, fmt.Errorf("preset: %w", err)
		}
		return command(Command{Kind: CommandPreset, Preset: n}), nil
	case "aux":
		if len(args) != 1 {
			return nil, fmt.Errorf("aux: expected 1 argument, got %d", len(args))
		}
		return command(Command{Kind: CommandAux, Aux: args[0]}), nil
	case "speed":
		vals, err := floats(cmd, args, 1)
		if err != nil {
			return nil, err
		}
		s, err := normalizeSpeed(vals[0])
		if err != nil {
			return nil, err
		}
		p.Speed = s
		return command(Command{Kind: CommandSpeed, Speed: s}), nil
	case "lock":
		return command(Command{Kind: CommandToggleLock}), nil
	case "reacquire":
		return command(Command{Kind: CommandReacquire}), nil
	case "quit", "exit":
		return command(Command{Kind: CommandQuit}), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
}

func intent(v ptz.Vector) []Event {
	return []Event{IntentEvent(v)}
}

func command(c Command) []Event {
	return []Event{CommandEvent(c)}
}

func floats(cmd string, args []string, n int) ([]float64, error) {
	if len(args) != n {
		return nil, fmt.Errorf("%s: expected %d arguments, got %d", cmd, n, len(args))
	}
	vals := make([]float64, n)
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cmd, err)
		}
		vals[i] = v
	}
	return vals, nil
}

func normalizeSpeed(v float64) (float64, error) {
	switch {
	case v > 0 && v <= 1:
		return v, nil
	case v > 1 && v <= 10:
		return v / 10, nil
	}
	return 0, fmt.Errorf("speed %v out of range", v)
}
