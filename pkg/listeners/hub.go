// Package listeners provides typed fan-out of events to subscribers.
//
// Publish runs on the caller's goroutine. Listeners must return quickly and
// push long work to their own goroutines; a panicking listener is logged and
// skipped without affecting the others.
package listeners

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/marmos91/deckwatch/internal/logger"
)

// Handle identifies one subscription.
type Handle uuid.UUID

func (h Handle) String() string { return uuid.UUID(h).String() }

// Hub delivers events of type E.
type Hub[E any] struct {
	name string

	mu        sync.RWMutex
	listeners map[Handle]func(E)
	order     []Handle

	failures atomic.Uint64
}

// NewHub creates a hub. name appears in failure logs.
func NewHub[E any](name string) *Hub[E] {
	return &Hub[E]{name: name, listeners: make(map[Handle]func(E))}
}

// Subscribe registers fn and returns its handle.
func (h *Hub[E]) Subscribe(fn func(E)) Handle {
	handle := Handle(uuid.New())

	h.mu.Lock()
	h.listeners[handle] = fn
	h.order = append(h.order, handle)
	h.mu.Unlock()

	return handle
}

// Unsubscribe removes the listener. It reports whether handle was registered.
func (h *Hub[E]) Unsubscribe(handle Handle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.listeners[handle]; !ok {
		return false
	}
	delete(h.listeners, handle)
	for i, o := range h.order {
		if o == handle {
			h.order = append(h.order[:i:i], h.order[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of subscribers.
func (h *Hub[E]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Failures returns how many listener invocations have panicked.
func (h *Hub[E]) Failures() uint64 {
	return h.failures.Load()
}

// Publish delivers ev to a snapshot of the current subscribers.
func (h *Hub[E]) Publish(ev E) {
	h.mu.RLock()
	if len(h.order) == 0 {
		h.mu.RUnlock()
		return
	}
	snapshot := make([]func(E), 0, len(h.order))
	for _, handle := range h.order {
		snapshot = append(snapshot, h.listeners[handle])
	}
	h.mu.RUnlock()

	for _, fn := range snapshot {
		h.deliver(fn, ev)
	}
}

func (h *Hub[E]) deliver(fn func(E), ev E) {
	defer func() {
		if r := recover(); r != nil {
			h.failures.Add(1)
			logger.Warn("Problem delivering event to listener",
				logger.KeyHub, h.name,
				logger.KeyEvent, fmt.Sprintf("%T", ev),
				logger.KeyError, r,
				logger.KeyStack, string(debug.Stack()))
		}
	}()
	fn(ev)
}
