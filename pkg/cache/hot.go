// Package cache provides the two in-memory tiers every finder uses: the hot
// cache of what is loaded on each deck right now, and a bounded LRU of
// recently resolved content.
package cache

import (
	"sync"

	"github.com/marmos91/deckwatch/pkg/djlink"
)

// HotCache maps each deck to the record currently resolved for it.
// It is unbounded; its size follows the number of live decks and hot cues.
type HotCache[V any] struct {
	mu      sync.RWMutex
	entries map[djlink.DeckReference]V
}

// NewHotCache creates an empty hot cache.
func NewHotCache[V any]() *HotCache[V] {
	return &HotCache[V]{entries: make(map[djlink.DeckReference]V)}
}

// Get returns the record for deck.
func (h *HotCache[V]) Get(deck djlink.DeckReference) (V, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.entries[deck]
	return v, ok
}

// Put stores v for deck and returns the record it replaced.
func (h *HotCache[V]) Put(deck djlink.DeckReference, v V) (prev V, replaced bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev, replaced = h.entries[deck]
	h.entries[deck] = v
	return prev, replaced
}

// Remove deletes deck and returns what it held.
func (h *HotCache[V]) Remove(deck djlink.DeckReference) (V, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.entries[deck]
	if ok {
		delete(h.entries, deck)
	}
	return v, ok
}

// RemoveIf deletes every deck matching pred and returns the removed entries.
func (h *HotCache[V]) RemoveIf(pred func(djlink.DeckReference, V) bool) map[djlink.DeckReference]V {
	h.mu.Lock()
	defer h.mu.Unlock()
	removed := make(map[djlink.DeckReference]V)
	for deck, v := range h.entries {
		if pred(deck, v) {
			removed[deck] = v
			delete(h.entries, deck)
		}
	}
	return removed
}

// Find returns any record satisfying pred.
func (h *HotCache[V]) Find(pred func(djlink.DeckReference, V) bool) (V, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for deck, v := range h.entries {
		if pred(deck, v) {
			return v, true
		}
	}
	var zero V
	return zero, false
}

// Snapshot returns a copy of the whole cache.
func (h *HotCache[V]) Snapshot() map[djlink.DeckReference]V {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[djlink.DeckReference]V, len(h.entries))
	for deck, v := range h.entries {
		out[deck] = v
	}
	return out
}

// Len returns the number of decks holding a record.
func (h *HotCache[V]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Clear empties the cache.
func (h *HotCache[V]) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = make(map[djlink.DeckReference]V)
}
