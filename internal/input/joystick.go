package input

import (
	"bytes"
	"encoding/binary"
	"log/slog"
	"sync"
)

// JoystickConfig selects the devices read by a Joystick.
type JoystickConfig struct {
	// Devices are evdev paths such as /dev/input/event3. A gamepad and a
	// keyboard may be read together.
	Devices []string
	// Ranges overrides the raw range of individual axes. Axes without an
	// entry are queried from the device.
	Ranges map[int]AxisRange
}

// Joystick is an event source fed by Linux evdev devices.
type Joystick struct {
	events chan Event
	logger *slog.Logger

	mu     sync.Mutex
	mapper *Mapper

	once    sync.Once
	closeFn func() error
}

// Events returns the event channel. It is closed when the devices go away or
// the joystick is closed.
func (j *Joystick) Events() <-chan Event {
	return j.events
}

// Close releases the devices and stops the reader.
func (j *Joystick) Close() error {
	var err error
	j.once.Do(func() {
		if j.closeFn != nil {
			err = j.closeFn()
		}
	})
	return err
}

func (j *Joystick) dispatch(ev RawEvent, done <-chan struct{}) bool {
	j.mu.Lock()
	out := j.mapper.Handle(ev)
	j.mu.Unlock()

	for _, e := range out {
		select {
		case j.events <- e:
		case <-done:
			return false
		}
	}
	return true
}

var rawEventSize = binary.Size(RawEvent{})

// decodeEvents splits a read buffer into raw events.
func decodeEvents(buf []byte) []RawEvent {
	n := len(buf) / rawEventSize
	out := make([]RawEvent, 0, n)
	reader := bytes.NewReader(buf)
	for i := 0; i < n; i++ {
		var ev RawEvent
		if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
			break
		}
		out = append(out, ev)
	}
	return out
}
