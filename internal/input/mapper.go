package input

import (
	"math"

	"joyptz/internal/ptz"
)

const (
	axisCount = 6

	// axisNoise clears stick noise around the rest position.
	axisNoise = 0.005
)

// Default axis ranges of an Xbox-style pad.
var (
	DefaultStickRange   = AxisRange{Min: -32768, Max: 32767}
	DefaultTriggerRange = AxisRange{Min: 0, Max: 1023}
)

var moveKeys = map[uint16]bool{
	KEY_RIGHT: true,
	KEY_LEFT:  true,
	KEY_UP:    true,
	KEY_DOWN:  true,
	KEY_EQUAL: true,
	KEY_MINUS: true,
}

var irCycle = []string{ptz.AuxIRAuto, ptz.AuxIROn, ptz.AuxIROff}

// Mapper turns raw evdev events from a gamepad and a keyboard into intent
// events.
//
// Stick axes 0/1 are pan/tilt, the triggers (axes 2 and 5, resting at -1)
// combine into zoom and axis 3 drives focus. Stick values go through a
// squared response curve so small deflections are easier to control.
type Mapper struct {
	ranges [axisCount]AxisRange
	axes   [axisCount]float64
	dirty  bool

	vector ptz.Vector
	speed  float64
	preset int
	irMode int
}

// NewMapper creates a Mapper. ranges may be nil to use the default pad layout.
func NewMapper(ranges map[int]AxisRange) *Mapper {
	m := &Mapper{speed: 1.0, preset: 1}
	for i := range m.ranges {
		m.ranges[i] = DefaultStickRange
	}
	m.ranges[ABS_Z] = DefaultTriggerRange
	m.ranges[ABS_RZ] = DefaultTriggerRange
	for code, r := range ranges {
		if code >= 0 && code < axisCount {
			m.ranges[code] = r
		}
	}
	m.axes[ABS_Z] = -1
	m.axes[ABS_RZ] = -1
	return m
}

// Speed returns the keyboard speed.
func (m *Mapper) Speed() float64 { return m.speed }

// Handle processes one raw event and returns the resulting intent events.
func (m *Mapper) Handle(ev RawEvent) []Event {
	switch ev.Type {
	case EV_ABS:
		return m.handleAxis(ev)
	case EV_KEY:
		return m.handleKey(ev)
	case EV_SYN:
		if ev.Code == SYN_REPORT && m.dirty {
			m.dirty = false
			return m.stickEvents()
		}
	}
	return nil
}

func (m *Mapper) handleAxis(ev RawEvent) []Event {
	switch ev.Code {
	case ABS_HAT0X:
		switch {
		case ev.Value > 0:
			m.preset++
		case ev.Value < 0 && m.preset > 0:
			m.preset--
		default:
			return nil
		}
		return []Event{CommandEvent(Command{Kind: CommandPreset, Preset: m.preset})}
	}
	if int(ev.Code) < axisCount {
		m.axes[ev.Code] = m.ranges[ev.Code].normalize(ev.Value)
		m.dirty = true
	}
	return nil
}

func (m *Mapper) stickEvents() []Event {
	var a [axisCount]float64
	for i, v := range m.axes {
		if math.Abs(v) < axisNoise {
			v = 0
		}
		a[i] = v
	}

	zoom := -(a[ABS_Z]+1)/2.0 + (a[ABS_RZ]+1)/2.0
	v := ptz.Vector{
		Pan:  curve(a[ABS_X]),
		Tilt: -curve(a[ABS_Y]),
		Zoom: curve(zoom),
	}
	m.vector = v
	return []Event{IntentEvent(v), FocusEvent(a[ABS_RX])}
}

func curve(v float64) float64 {
	return v * math.Abs(v)
}

func (m *Mapper) handleKey(ev RawEvent) []Event {
	if ev.Value == evValueRepeat {
		return nil
	}
	if ev.Value == evValueRelease {
		return m.handleRelease(ev.Code)
	}

	switch ev.Code {
	case KEY_RIGHT:
		m.vector.Pan = m.speed
	case KEY_LEFT:
		m.vector.Pan = -m.speed
	case KEY_UP:
		m.vector.Tilt = m.speed
	case KEY_DOWN:
		m.vector.Tilt = -m.speed
	case KEY_EQUAL:
		m.vector.Zoom = 1
	case KEY_MINUS:
		m.vector.Zoom = -1
	case KEY_R:
		return []Event{CommandEvent(Command{Kind: CommandReacquire})}
	case KEY_L:
		return []Event{CommandEvent(Command{Kind: CommandToggleLock})}
	case KEY_Q, KEY_ESC:
		return []Event{CommandEvent(Command{Kind: CommandQuit})}
	default:
		if ev.Code >= KEY_1 && ev.Code <= KEY_0 {
			// KEY_1..KEY_9 are contiguous, KEY_0 follows and means full speed.
			m.speed = float64(ev.Code-KEY_1+1) / 10.0
			return []Event{CommandEvent(Command{Kind: CommandSpeed, Speed: m.speed})}
		}
		return nil
	}
	return []Event{IntentEvent(m.vector)}
}

func (m *Mapper) handleRelease(code uint16) []Event {
	switch code {
	case BTN_SOUTH:
		return []Event{CommandEvent(Command{Kind: CommandToggleLock})}
	case BTN_TR:
		return []Event{CommandEvent(Command{Kind: CommandAux, Aux: ptz.AuxWiper})}
	case BTN_WEST:
		m.irMode = (m.irMode + 1) % len(irCycle)
		return []Event{CommandEvent(Command{Kind: CommandAux, Aux: irCycle[m.irMode]})}
	}
	if moveKeys[code] {
		m.vector = ptz.Zero
		return []Event{IntentEvent(m.vector)}
	}
	return nil
}
