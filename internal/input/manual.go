package input

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"sync"
)

// Manual reads text commands line by line, typically from stdin.
type Manual struct {
	events chan Event
	closer io.Closer
	once   sync.Once
	done   chan struct{}
}

// NewManual starts reading commands from r. If r is an io.Closer it is
// closed by Close.
func NewManual(r io.Reader, logger *slog.Logger) *Manual {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manual{
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}
	if c, ok := r.(io.Closer); ok {
		m.closer = c
	}
	go m.read(r, logger)
	return m
}

func (m *Manual) read(r io.Reader, logger *slog.Logger) {
	defer close(m.events)

	parser := NewParser()
	scan := bufio.NewScanner(r)
	for scan.Scan() {
		evs, err := parser.Parse(scan.Text())
		if err != nil {
			if errors.Is(err, ErrUnknownCommand) {
				logger.Warn("ignoring input", "error", err)
			} else {
				logger.Warn("invalid command", "error", err)
			}
			continue
		}
		for _, ev := range evs {
			select {
			case m.events <- ev:
			case <-m.done:
				return
			}
		}
	}
	if err := scan.Err(); err != nil {
		logger.Error("reading commands", "error", err)
	}
}

// Events returns the event channel. It is closed at end of input.
func (m *Manual) Events() <-chan Event {
	return m.events
}

// Close stops the reader.
func (m *Manual) Close() error {
	var err error
	m.once.Do(func() {
		close(m.done)
		if m.closer != nil {
			err = m.closer.Close()
		}
	})
	return err
}
