package inflight

// Option applies a configuration option to the in-memory tracker.
type Option func(*inMemoryTracker)

// WithMaxSize bounds the number of tracked keys.
// If maxSize > 0: keys past the bound are admitted without tracking.
// If maxSize <= 0: unbounded.
func WithMaxSize(maxSize int) Option {
	return func(t *inMemoryTracker) {
		t.maxSize = maxSize
	}
}
