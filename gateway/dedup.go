package gateway

import (
	"context"
	"sync"
	"time"
)

// DedupStore caches the published Decision per correlation id within a
// bounded window, so at-least-once broker redelivery never triggers a
// second admission run.
type DedupStore interface {
	Get(ctx context.Context, correlationID string) ([]byte, bool)
	Put(ctx context.Context, correlationID string, decision []byte, window time.Duration)
}

type memoryEntry struct {
	b   []byte
	exp time.Time
}

type memoryDedup struct {
	mu sync.Mutex
	m  map[string]memoryEntry
}

// NewMemoryDedup returns an in-process dedup cache. Entries expire lazily
// on read and during Put housekeeping.
func NewMemoryDedup() DedupStore {
	return &memoryDedup{m: make(map[string]memoryEntry)}
}

func (c *memoryDedup) Get(_ context.Context, correlationID string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[correlationID]
	if !ok {
		return nil, false
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(c.m, correlationID)
		return nil, false
	}
	return e.b, true
}

func (c *memoryDedup) Put(_ context.Context, correlationID string, decision []byte, window time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Keep the cache bounded: sweep stale entries on write.
	now := time.Now()
	for k, e := range c.m {
		if !e.exp.IsZero() && now.After(e.exp) {
			delete(c.m, k)
		}
	}

	e := memoryEntry{b: append([]byte(nil), decision...)}
	if window > 0 {
		e.exp = now.Add(window)
	}
	c.m[correlationID] = e
}
