package service

import (
	"time"

	"github.com/okian/rentrank/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the job queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithInflightSize bounds how many job keys are coalesced at once.
func WithInflightSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.inflightSize = size
		}
	}
}

// WithGracePeriod sets the listener's reconnection window.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.grace = d
		}
	}
}

// WithSweepSchedule sets the cron spec of the offline sweep and the location
// it is evaluated in. An empty spec disables the scheduled sweep.
func WithSweepSchedule(spec string, loc *time.Location) Option {
	return func(s *Service) {
		s.sweepSchedule = spec
		if loc != nil {
			s.location = loc
		}
	}
}

// WithSweepOnStart runs one sweep as soon as the service starts.
func WithSweepOnStart(enabled bool) Option {
	return func(s *Service) {
		s.sweepOnStart = enabled
	}
}

// WithSweepConcurrency bounds the per-user fan-out of a sweep.
func WithSweepConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sweepConcurrency = n
		}
	}
}

// WithReapInterval sets how often expired presence connections are reaped.
// Zero disables reaping.
func WithReapInterval(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.reapInterval = d
		}
	}
}

// WithClock sets the time source used for profile defaults and scoring.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
