package logging

import "sync"

const subscriberChannelSize = 100

// hub fans log entries out to live subscribers (the /api/logs/stream
// endpoints). Delivery is best-effort: a subscriber that falls behind
// misses entries rather than stalling the logger.
type hub struct {
	mu     sync.Mutex
	lastID uint64
	subs   map[uint64]chan LogEntry
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[uint64]chan LogEntry)}
}

func (h *hub) subscribe(size int) (<-chan LogEntry, func()) {
	if size <= 0 {
		size = subscriberChannelSize
	}
	ch := make(chan LogEntry, size)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.lastID++
	id := h.lastID
	h.subs[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if live, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(live)
		}
	}
}

func (h *hub) broadcast(entry LogEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, ch := range h.subs {
		select {
		case ch <- entry:
		default:
		}
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
