package syncqueue

import (
	"log/slog"
	"sync"

	"tally/internal/logging"
)

// Listener receives the queue status and an item snapshot after every
// mutation. Snapshots are copies; listeners may retain them.
type Listener func(status QueueStatus, items []Item)

// hub fans out queue notifications to registered listeners. A panicking
// listener is isolated and logged; it never blocks delivery to the others or
// the mutation that triggered the notification.
type hub struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]Listener
	logger    *slog.Logger
}

func newHub(logger *slog.Logger) *hub {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &hub{
		listeners: make(map[int]Listener),
		logger:    logging.WithComponent(logger, "syncqueue.hub"),
	}
}

func (h *hub) subscribe(listener Listener) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	h.listeners[id] = listener
	return id
}

func (h *hub) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.listeners, id)
}

func (h *hub) notify(status QueueStatus, items []Item) {
	h.mu.Lock()
	targets := make([]Listener, 0, len(h.listeners))
	for _, listener := range h.listeners {
		targets = append(targets, listener)
	}
	h.mu.Unlock()

	for _, listener := range targets {
		h.deliver(listener, status, items)
	}
}

func (h *hub) deliver(listener Listener, status QueueStatus, items []Item) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("queue listener panicked",
				logging.Any("panic", r),
				logging.String(logging.FieldEventType, "listener_panic"),
				logging.String(logging.FieldErrorHint, "fix the subscribed callback; other listeners were unaffected"),
			)
		}
	}()
	listener(status, items)
}
