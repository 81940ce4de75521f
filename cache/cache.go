package cache

import (
	"bytes"
	"sort"

	"go.uber.org/atomic"
)

// DefaultCapacity is the number of slots used when no capacity is given.
const DefaultCapacity = 100

// Entry is a copy of a stored response, as returned by Entries.
type Entry struct {
	// Absolute request URI the response was fetched for.
	Key     string
	Payload []byte
	// Value of the cache clock at the last write or hit.
	Recency uint64
}

type slot struct {
	occupied bool
	key      string
	payload  []byte
	// written by concurrent readers on hits
	recency atomic.Uint64
}

// ResponseCache is a fixed-capacity store of raw responses keyed by request URI.
// Reads run concurrently with each other; writes exclude everything else.
// When full, the entry touched least recently is evicted.
//
// It is safe for concurrent use.
type ResponseCache struct {
	lock  *rwLock
	slots []slot
	index map[string]int
	// strictly increasing, shared by writes and hits
	clock   atomic.Uint64
	onEvict func(key string)
}

// New creates an empty cache with the given number of slots.
// A capacity of zero or less means DefaultCapacity.
func New(capacity int) *ResponseCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &ResponseCache{
		lock:  newRWLock(),
		slots: make([]slot, capacity),
		index: make(map[string]int, capacity),
	}
}

// OnEvict registers a callback that is called with the key of every evicted entry.
// It runs while the cache is locked and must not call back into the cache.
// It must be set before the cache is shared.
func (c *ResponseCache) OnEvict(fn func(key string)) {
	c.onEvict = fn
}

// Read returns a copy of the payload stored under key, if any.
// A hit marks the entry as the most recently used one.
func (c *ResponseCache) Read(key string) ([]byte, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	i, ok := c.index[key]
	if !ok {
		return nil, false
	}
	s := &c.slots[i]
	s.recency.Store(c.clock.Inc())
	return bytes.Clone(s.payload), true
}

// Write stores a copy of payload under key, replacing any previous entry for key.
// If there is no free slot, the least recently used entry is evicted.
func (c *ResponseCache) Write(key string, payload []byte) {
	c.lock.Lock()
	defer c.lock.Unlock()

	i, ok := c.index[key]
	if !ok {
		i = c.victim()
		if s := &c.slots[i]; s.occupied {
			delete(c.index, s.key)
			if c.onEvict != nil {
				c.onEvict(s.key)
			}
		}
		c.index[key] = i
	}

	s := &c.slots[i]
	s.occupied = true
	s.key = key
	s.payload = bytes.Clone(payload)
	s.recency.Store(c.clock.Inc())
}

// victim returns the slot to use for a new key: the first free slot,
// else the slot with the lowest recency (the lowest index among equals).
// The write lock must be held.
func (c *ResponseCache) victim() int {
	for i := range c.slots {
		if !c.slots[i].occupied {
			return i
		}
	}
	oldest := 0
	for i := 1; i < len(c.slots); i++ {
		if c.slots[i].recency.Load() < c.slots[oldest].recency.Load() {
			oldest = i
		}
	}
	return oldest
}

// Len returns the number of stored entries.
func (c *ResponseCache) Len() int {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return len(c.index)
}

// Capacity returns the number of slots.
func (c *ResponseCache) Capacity() int {
	return len(c.slots)
}

// Entries returns copies of all stored entries in slot order.
// It does not count as a hit.
func (c *ResponseCache) Entries() []Entry {
	c.lock.RLock()
	defer c.lock.RUnlock()

	entries := make([]Entry, 0, len(c.index))
	for i := range c.slots {
		s := &c.slots[i]
		if !s.occupied {
			continue
		}
		entries = append(entries, Entry{
			Key:     s.key,
			Payload: bytes.Clone(s.payload),
			Recency: s.recency.Load(),
		})
	}
	return entries
}

// Restore writes the given entries oldest first, so that their relative recency survives.
// Entries beyond the capacity evict the oldest restored ones, as regular writes would.
func (c *ResponseCache) Restore(entries []Entry) {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Recency < sorted[j].Recency
	})
	for _, e := range sorted {
		c.Write(e.Key, e.Payload)
	}
}
