package presencestore

import (
	"time"

	"github.com/okian/rentrank/pkg/logger"
)

// Default settings shared by the store implementations.
const (
	DefaultLeaseTTL  = 15 * time.Second
	DefaultKeyPrefix = "presence:"
)

type settings struct {
	leaseTTL  time.Duration
	keyPrefix string
	logger    logger.Logger
}

func newSettings(opts []Option) settings {
	s := settings{
		leaseTTL:  DefaultLeaseTTL,
		keyPrefix: DefaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("presence-store")
	}
	return s
}

// Option applies a configuration option to a presence store.
type Option func(*settings)

// WithLeaseTTL sets how long a silent connection stays alive before its
// disconnect hooks may fire. Keepalives run at a third of the TTL.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(s *settings) {
		if ttl > 0 {
			s.leaseTTL = ttl
		}
	}
}

// WithKeyPrefix namespaces every Redis key written by the store.
func WithKeyPrefix(prefix string) Option {
	return func(s *settings) {
		if prefix != "" {
			s.keyPrefix = prefix
		}
	}
}

// WithLogger sets the logger used by the store.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}
