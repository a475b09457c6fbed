package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/deckwatch/pkg/djlink"
)

func TestHotCachePutReplaces(t *testing.T) {
	h := NewHotCache[string]()
	deck := djlink.MainDeck(2)

	_, replaced := h.Put(deck, "first")
	assert.False(t, replaced)

	prev, replaced := h.Put(deck, "second")
	assert.True(t, replaced)
	assert.Equal(t, "first", prev)

	v, ok := h.Get(deck)
	require.True(t, ok)
	assert.Equal(t, "second", v)
}

func TestHotCacheRemoveIfByPlayer(t *testing.T) {
	h := NewHotCache[string]()
	h.Put(djlink.DeckReference{Player: 2}, "main")
	h.Put(djlink.DeckReference{Player: 2, HotCue: 1}, "cue")
	h.Put(djlink.DeckReference{Player: 3}, "other")

	removed := h.RemoveIf(func(d djlink.DeckReference, _ string) bool { return d.Player == 2 })

	assert.Len(t, removed, 2)
	assert.Equal(t, 1, h.Len())
	_, ok := h.Get(djlink.DeckReference{Player: 3})
	assert.True(t, ok)
}

func TestHotCacheFindAndSnapshot(t *testing.T) {
	h := NewHotCache[int]()
	h.Put(djlink.MainDeck(1), 10)
	h.Put(djlink.MainDeck(4), 40)

	v, ok := h.Find(func(_ djlink.DeckReference, v int) bool { return v > 30 })
	require.True(t, ok)
	assert.Equal(t, 40, v)

	_, ok = h.Find(func(_ djlink.DeckReference, v int) bool { return v > 100 })
	assert.False(t, ok)

	snap := h.Snapshot()
	h.Clear()
	assert.Len(t, snap, 2, "snapshot is a copy")
	assert.Zero(t, h.Len())
}

func TestHotCacheRemove(t *testing.T) {
	h := NewHotCache[int]()
	h.Put(djlink.MainDeck(1), 1)

	v, ok := h.Remove(djlink.MainDeck(1))
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = h.Remove(djlink.MainDeck(1))
	assert.False(t, ok)
}
