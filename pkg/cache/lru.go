package cache

import (
	"fmt"
	"sync"
)

const nilIndex = -1

type lruNode[K comparable, V any] struct {
	key        K
	value      V
	prev, next int
}

// LRU is a bounded least-recently-used map. Nodes live in a slice and are
// linked by index; freed slots are reused through a free list so steady-state
// operation does not allocate.
//
// LRU is not safe for concurrent use; see SyncLRU.
type LRU[K comparable, V any] struct {
	nodes    []lruNode[K, V]
	index    map[K]int
	head     int // most recently touched
	tail     int // least recently touched
	free     []int
	capacity int
}

// NewLRU creates a cache holding at most capacity entries.
func NewLRU[K comparable, V any](capacity int) (*LRU[K, V], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("lru capacity must be at least 1, got %d", capacity)
	}
	return &LRU[K, V]{
		index:    make(map[K]int, capacity),
		head:     nilIndex,
		tail:     nilIndex,
		capacity: capacity,
	}, nil
}

// Len returns the number of entries.
func (c *LRU[K, V]) Len() int { return len(c.index) }

// Cap returns the capacity.
func (c *LRU[K, V]) Cap() int { return c.capacity }

// Get returns the value for key and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	i, ok := c.index[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.moveToFront(i)
	return c.nodes[i].value, true
}

// Peek returns the value for key without touching it.
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	i, ok := c.index[key]
	if !ok {
		var zero V
		return zero, false
	}
	return c.nodes[i].value, true
}

// Put inserts or replaces key and marks it most recently used. When the
// insert overflows capacity the least recently used entry is evicted and
// returned.
func (c *LRU[K, V]) Put(key K, value V) (evictedKey K, evicted bool) {
	if i, ok := c.index[key]; ok {
		c.nodes[i].value = value
		c.moveToFront(i)
		return evictedKey, false
	}

	if len(c.index) >= c.capacity {
		evictedKey = c.nodes[c.tail].key
		c.removeAt(c.tail)
		evicted = true
	}

	i := c.alloc(key, value)
	c.index[key] = i
	c.pushFront(i)
	return evictedKey, evicted
}

// Remove deletes key. It reports whether the key was present.
func (c *LRU[K, V]) Remove(key K) bool {
	i, ok := c.index[key]
	if !ok {
		return false
	}
	c.removeAt(i)
	return true
}

// RemoveIf deletes every entry whose key satisfies pred and returns how many
// were removed.
func (c *LRU[K, V]) RemoveIf(pred func(K) bool) int {
	removed := 0
	for i := c.head; i != nilIndex; {
		next := c.nodes[i].next
		if pred(c.nodes[i].key) {
			c.removeAt(i)
			removed++
		}
		i = next
	}
	return removed
}

// Resize changes the capacity. Shrinking below the current size evicts the
// least recently used entries before returning.
func (c *LRU[K, V]) Resize(capacity int) (evicted int, err error) {
	if capacity < 1 {
		return 0, fmt.Errorf("lru capacity must be at least 1, got %d", capacity)
	}
	for len(c.index) > capacity {
		c.removeAt(c.tail)
		evicted++
	}
	c.capacity = capacity
	if evicted > 0 {
		c.compact()
	}
	return evicted, nil
}

// Keys returns the keys from most to least recently used.
func (c *LRU[K, V]) Keys() []K {
	keys := make([]K, 0, len(c.index))
	for i := c.head; i != nilIndex; i = c.nodes[i].next {
		keys = append(keys, c.nodes[i].key)
	}
	return keys
}

// Clear removes every entry and releases the backing storage.
func (c *LRU[K, V]) Clear() {
	c.nodes = nil
	c.free = nil
	c.index = make(map[K]int, c.capacity)
	c.head, c.tail = nilIndex, nilIndex
}

func (c *LRU[K, V]) alloc(key K, value V) int {
	n := lruNode[K, V]{key: key, value: value, prev: nilIndex, next: nilIndex}
	if last := len(c.free) - 1; last >= 0 {
		i := c.free[last]
		c.free = c.free[:last]
		c.nodes[i] = n
		return i
	}
	c.nodes = append(c.nodes, n)
	return len(c.nodes) - 1
}

func (c *LRU[K, V]) pushFront(i int) {
	c.nodes[i].prev = nilIndex
	c.nodes[i].next = c.head
	if c.head != nilIndex {
		c.nodes[c.head].prev = i
	}
	c.head = i
	if c.tail == nilIndex {
		c.tail = i
	}
}

func (c *LRU[K, V]) unlink(i int) {
	n := &c.nodes[i]
	if n.prev != nilIndex {
		c.nodes[n.prev].next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nilIndex {
		c.nodes[n.next].prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev, n.next = nilIndex, nilIndex
}

func (c *LRU[K, V]) moveToFront(i int) {
	if c.head == i {
		return
	}
	c.unlink(i)
	c.pushFront(i)
}

func (c *LRU[K, V]) removeAt(i int) {
	c.unlink(i)
	delete(c.index, c.nodes[i].key)
	c.nodes[i] = lruNode[K, V]{prev: nilIndex, next: nilIndex}
	c.free = append(c.free, i)
}

// compact rebuilds the backing slice in recency order so a shrink actually
// releases memory.
func (c *LRU[K, V]) compact() {
	nodes := make([]lruNode[K, V], 0, len(c.index))
	for i := c.head; i != nilIndex; i = c.nodes[i].next {
		nodes = append(nodes, c.nodes[i])
	}
	for i := range nodes {
		nodes[i].prev = i - 1
		nodes[i].next = i + 1
		c.index[nodes[i].key] = i
	}
	c.head, c.tail = nilIndex, nilIndex
	if len(nodes) > 0 {
		nodes[len(nodes)-1].next = nilIndex
		c.head, c.tail = 0, len(nodes)-1
	}
	c.nodes = nodes
	c.free = nil
}

// SyncLRU guards an LRU with a mutex.
type SyncLRU[K comparable, V any] struct {
	mu  sync.Mutex
	lru *LRU[K, V]
}

// NewSyncLRU creates a mutex-guarded LRU.
func NewSyncLRU[K comparable, V any](capacity int) (*SyncLRU[K, V], error) {
	lru, err := NewLRU[K, V](capacity)
	if err != nil {
		return nil, err
	}
	return &SyncLRU[K, V]{lru: lru}, nil
}

func (s *SyncLRU[K, V]) Get(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Get(key)
}

func (s *SyncLRU[K, V]) Peek(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Peek(key)
}

func (s *SyncLRU[K, V]) Put(key K, value V) (K, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Put(key, value)
}

func (s *SyncLRU[K, V]) Remove(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Remove(key)
}

func (s *SyncLRU[K, V]) RemoveIf(pred func(K) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.RemoveIf(pred)
}

func (s *SyncLRU[K, V]) Resize(capacity int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Resize(capacity)
}

func (s *SyncLRU[K, V]) Keys() []K {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Keys()
}

func (s *SyncLRU[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

func (s *SyncLRU[K, V]) Cap() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Cap()
}

func (s *SyncLRU[K, V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Clear()
}
