package input

// Linux input event types and codes (from <linux/input-event-codes.h>)
const (
	EV_SYN = 0x00
	EV_KEY = 0x01
	EV_ABS = 0x03

	SYN_REPORT = 0

	ABS_X     = 0x00
	ABS_Y     = 0x01
	ABS_Z     = 0x02
	ABS_RX    = 0x03
	ABS_RY    = 0x04
	ABS_RZ    = 0x05
	ABS_HAT0X = 0x10
	ABS_HAT0Y = 0x11

	BTN_SOUTH = 0x130
	BTN_EAST  = 0x131
	BTN_NORTH = 0x133
	BTN_WEST  = 0x134
	BTN_TL    = 0x136
	BTN_TR    = 0x137

	KEY_ESC   = 1
	KEY_1     = 2
	KEY_9     = 10
	KEY_0     = 11
	KEY_MINUS = 12
	KEY_EQUAL = 13
	KEY_Q     = 16
	KEY_R     = 19
	KEY_L     = 38
	KEY_UP    = 103
	KEY_LEFT  = 105
	KEY_RIGHT = 106
	KEY_DOWN  = 108
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// RawEvent mirrors struct input_event.
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type RawEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// AxisRange is the raw value range reported by a device for one axis.
type AxisRange struct {
	Min int32
	Max int32
}

func (r AxisRange) normalize(v int32) float64 {
	if r.Max <= r.Min {
		return 0
	}
	return 2*float64(v-r.Min)/float64(r.Max-r.Min) - 1
}
