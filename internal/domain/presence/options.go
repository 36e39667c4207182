package presence

import (
	"time"

	"github.com/okian/rentrank/pkg/logger"
)

// DefaultGracePeriod is how long an offline report may be corrected by a
// reconnection before it becomes visible.
const DefaultGracePeriod = 2 * time.Second

type options struct {
	grace  time.Duration
	now    func() time.Time
	logger logger.Logger
}

func newOptions(component string, opts []Option) options {
	o := options{
		grace: DefaultGracePeriod,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.Get().Named(component)
	}
	return o
}

// Option applies a configuration option to a Machine, Session or Listener.
type Option func(*options)

// WithGracePeriod sets the debounce window for offline reports.
func WithGracePeriod(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.grace = d
		}
	}
}

// WithClock sets the time source stamped on transitions.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the component logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
