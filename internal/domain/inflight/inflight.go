// Package inflight coalesces work items that are already queued or running.
package inflight

import (
	"context"
	"sync"
	"sync/atomic"
)

// Tracker records keys between Begin and Done so duplicate work for the same
// key can be dropped instead of queued twice.
type Tracker interface {
	// Begin atomically claims key. Returns false if key is already in flight.
	Begin(ctx context.Context, key string) bool

	// Done releases key so the next Begin claims it again.
	Done(ctx context.Context, key string)

	Size() int64
}

// inMemoryTracker implements Tracker with a map.
// For bounded mode (maxSize > 0) keys beyond the bound are admitted untracked.
// For unbounded mode (maxSize <= 0) every key is tracked.
type inMemoryTracker struct {
	mu      sync.Mutex
	keys    map[string]struct{}
	maxSize int
	size    atomic.Int64
}

// NewInMemoryTracker creates a tracker with configuration options.
func NewInMemoryTracker(opts ...Option) Tracker {
	t := &inMemoryTracker{
		maxSize: 50000,
	}

	for _, opt := range opts {
		opt(t)
	}

	t.keys = make(map[string]struct{})
	return t
}

// Begin claims key unless it is already in flight.
func (t *inMemoryTracker) Begin(_ context.Context, key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.keys[key]; exists {
		return false
	}
	if t.maxSize > 0 && len(t.keys) >= t.maxSize {
		return true
	}
	t.keys[key] = struct{}{}
	t.size.Add(1)
	return true
}

// Done releases key. Unknown keys are ignored.
func (t *inMemoryTracker) Done(_ context.Context, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.keys[key]; exists {
		delete(t.keys, key)
		t.size.Add(-1)
	}
}

// Size returns the number of keys in flight.
func (t *inMemoryTracker) Size() int64 {
	return t.size.Load()
}
