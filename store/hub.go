package store

import "sync"

// hub fans change revisions out to subscribers. Slow subscribers miss
// revisions rather than block writers; the latest State is always readable.
type hub struct {
	mu      sync.Mutex
	clients map[chan uint64]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[chan uint64]struct{})}
}

func (h *hub) subscribe() chan uint64 {
	ch := make(chan uint64, 10)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *hub) unsubscribe(ch chan uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

func (h *hub) publish(rev uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- rev:
		default:
			// drop if slow
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
}
