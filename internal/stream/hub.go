package stream

import "sync"

// Hub fans RTP packets out to subscribers. Slow subscribers lose packets
// instead of stalling the stream.
type Hub struct {
	mu     sync.RWMutex
	subs   map[chan []byte]struct{}
	closed bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan []byte]struct{})}
}

// Subscribe registers a subscriber with a buffer of size packets. The
// returned cancel func unregisters it and closes the channel.
func (h *Hub) Subscribe(size int) (<-chan []byte, func()) {
	ch := make(chan []byte, size)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
			h.mu.Unlock()
		})
	}
}

// Publish delivers pkt to every subscriber and returns how many dropped it.
func (h *Hub) Publish(pkt []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	dropped := 0
	for ch := range h.subs {
		select {
		case ch <- pkt:
		default:
			dropped++
		}
	}
	return dropped
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close closes every subscriber channel. Later subscriptions get a closed
// channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
