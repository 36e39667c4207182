// Package service wires presence tracking to score recalculation and
// provides the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron"

	eventqueue "github.com/okian/rentrank/internal/adapters/mq/queue"
	workerpool "github.com/okian/rentrank/internal/adapters/mq/worker"
	"github.com/okian/rentrank/internal/adapters/presencestore"
	"github.com/okian/rentrank/internal/adapters/profilestore"
	"github.com/okian/rentrank/internal/domain/inflight"
	"github.com/okian/rentrank/internal/domain/model"
	"github.com/okian/rentrank/internal/domain/presence"
	"github.com/okian/rentrank/internal/domain/scoring"
	"github.com/okian/rentrank/pkg/logger"
	"github.com/okian/rentrank/pkg/metrics"
)

// DefaultSweepSchedule runs the offline sweep daily at 01:00.
const DefaultSweepSchedule = "0 0 1 * * *"

const listenerStopTimeout = 5 * time.Second

// Service implements the API dependencies for presence-driven scoring.
type Service struct {
	mu sync.RWMutex

	// Core components
	presence presencestore.Store
	profiles profilestore.Store
	engine   *scoring.Engine
	tracker  inflight.Tracker
	queue    *eventqueue.InMemoryQueue
	pool     *workerpool.Pool
	listener *presence.Listener
	cron     *cron.Cron

	// Configuration
	workerCount      int
	queueSize        int
	inflightSize     int
	grace            time.Duration
	sweepSchedule    string
	location         *time.Location
	sweepOnStart     bool
	sweepConcurrency int
	reapInterval     time.Duration
	now              func() time.Time

	// State
	started        bool
	runCtx         context.Context
	cancel         context.CancelFunc
	stopListener   context.CancelFunc
	wg             sync.WaitGroup
	sweeping       atomic.Bool
	sweepMu        sync.Mutex
	lastSweep      SweepSummary
	hasSweptBefore bool

	logger logger.Logger
}

// New constructs a Service over the two stores. Components are created by
// Start.
func New(presenceStore presencestore.Store, profileStore profilestore.Store, opts ...Option) *Service {
	s := &Service{
		presence:         presenceStore,
		profiles:         profileStore,
		workerCount:      runtime.NumCPU() * 2,
		queueSize:        10_000,
		inflightSize:     50_000,
		grace:            presence.DefaultGracePeriod,
		sweepSchedule:    DefaultSweepSchedule,
		location:         time.Local,
		sweepOnStart:     true,
		sweepConcurrency: 32,
		reapInterval:     5 * time.Second,
		now:              time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	s.engine = scoring.NewEngine(s.profiles,
		scoring.WithClock(s.now),
		scoring.WithLogger(s.logger.Named("score-engine")),
	)
	return s
}

// Start initializes the worker pool, the reaper and the sweep schedule.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting rentrank service...")

	s.runCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	s.tracker = inflight.NewInMemoryTracker(inflight.WithMaxSize(s.inflightSize))
	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.pool = workerpool.NewPool(s.workerCount, s.queue, s,
		workerpool.WithLogger(s.logger.Named("worker")),
	)
	s.pool.Start(s.runCtx)

	if s.sweepSchedule != "" {
		s.cron = cron.NewWithLocation(s.location)
		if err := s.cron.AddFunc(s.sweepSchedule, func() { s.scheduledSweep(s.runCtx) }); err != nil {
			s.cancel()
			_ = s.pool.Shutdown(ctx)
			return fmt.Errorf("schedule offline sweep %q: %w", s.sweepSchedule, err)
		}
		s.cron.Start()
	}

	if reaper, ok := s.presence.(presencestore.Reaper); ok && s.reapInterval > 0 {
		s.wg.Add(1)
		go s.reap(s.runCtx, reaper)
	}

	if s.sweepOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.scheduledSweep(s.runCtx)
		}()
	}

	s.started = true
	s.logger.Info(ctx, "rentrank service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.String("sweepSchedule", s.sweepSchedule),
		logger.Duration("gracePeriod", s.grace),
	)
	return nil
}

// Stop stops the listener and the schedule, then drains the queue.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := context.Background()
	s.logger.Info(ctx, "stopping rentrank service...")

	if s.stopListener != nil {
		s.stopListener()
		select {
		case <-s.listener.Done():
		case <-time.After(listenerStopTimeout):
			s.logger.Warn(ctx, "presence listener did not stop in time")
		}
		s.listener = nil
		s.stopListener = nil
	}
	if s.cron != nil {
		s.cron.Stop()
	}
	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Error(ctx, "worker pool shutdown failed", logger.Error(err))
	}

	s.cancel()
	s.wg.Wait()

	s.started = false
	s.logger.Info(ctx, "rentrank service stopped")
}

// InitPresenceListener starts the central listener that turns presence
// changes into recalculation jobs. It succeeds once per service.
func (s *Service) InitPresenceListener(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return ErrNotStarted
	}
	if s.listener != nil {
		return ErrListenerStarted
	}

	lctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.runCtx, cancel)

	l := presence.NewListener(s.presence, s,
		presence.WithGracePeriod(s.grace),
		presence.WithClock(s.now),
		presence.WithLogger(s.logger.Named("presence-listener")),
	)
	if err := l.Start(lctx); err != nil {
		stop()
		cancel()
		return err
	}

	s.listener = l
	s.stopListener = cancel
	return nil
}

// HandleTransition turns a debounced presence transition into a queued job:
// online recalculates the score, offline only stamps lastActiveAt.
func (s *Service) HandleTransition(ctx context.Context, t presence.Transition) {
	job := model.Job{UserID: t.UserID, EnqueuedAt: t.At}
	switch t.State {
	case model.StateOnline:
		job.Kind = model.JobRecalculate
		job.Trigger = model.TriggerOnline
	case model.StateOffline:
		job.Kind = model.JobTouch
		job.Trigger = model.TriggerOffline
	default:
		return
	}
	s.enqueue(ctx, job)
}

func (s *Service) enqueue(ctx context.Context, job model.Job) {
	key := job.Key()
	if !s.tracker.Begin(ctx, key) {
		metrics.RecordJobCoalesced()
		s.logger.Debug(ctx, "job already queued, coalesced", logger.String("key", key))
		return
	}

	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.tracker.Done(ctx, key)
		level := s.logger.Warn
		if errors.Is(err, eventqueue.ErrClosed) || errors.Is(err, context.Canceled) {
			level = s.logger.Debug
		}
		level(ctx, "failed to enqueue job",
			logger.String("user", job.UserID),
			logger.String("kind", string(job.Kind)),
			logger.Error(err),
		)
	}
}

// Handle executes a queued job. It releases the job key first so a later
// transition for the same user queues again.
func (s *Service) Handle(ctx context.Context, job model.Job) error {
	s.tracker.Done(ctx, job.Key())

	switch job.Kind {
	case model.JobRecalculate:
		return s.engine.Recalculate(ctx, job.UserID, job.Trigger)
	case model.JobTouch:
		return s.engine.Touch(ctx, job.UserID)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

// RecalculateUserScore recomputes one user's score synchronously. A missing
// profile is not an error; store failures are returned.
func (s *Service) RecalculateUserScore(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	if err := s.engine.Recalculate(ctx, userID, model.TriggerManual); err != nil {
		s.logger.Error(ctx, "score recalculation failed", logger.String("user", userID), logger.Error(err))
		return err
	}
	return nil
}

// UpdateProfile creates the profile with defaults when absent, otherwise
// merges patch into it, and then recalculates the score.
func (s *Service) UpdateProfile(ctx context.Context, userID string, patch model.ProfilePatch) (model.Profile, error) {
	if userID == "" {
		return model.Profile{}, ErrEmptyUserID
	}
	if patch.RatingAverage != nil && *patch.RatingAverage < 0 {
		return model.Profile{}, fmt.Errorf("%w: ratingAverage must not be negative", ErrInvalidProfile)
	}
	if patch.RentalCount != nil && *patch.RentalCount < 0 {
		return model.Profile{}, fmt.Errorf("%w: rentalCount must not be negative", ErrInvalidProfile)
	}
	patch.CompositeScore = nil

	created, err := s.profiles.Create(ctx, patch.Apply(model.NewProfile(userID, s.now())))
	if err != nil {
		return model.Profile{}, fmt.Errorf("create profile %s: %w", userID, err)
	}
	if !created && !patch.Empty() {
		if err := s.profiles.Merge(ctx, userID, patch); err != nil {
			return model.Profile{}, fmt.Errorf("update profile %s: %w", userID, err)
		}
	}

	if err := s.engine.Recalculate(ctx, userID, model.TriggerProfileUpdate); err != nil {
		return model.Profile{}, err
	}

	profile, err := s.profiles.Get(ctx, userID)
	if err != nil {
		return model.Profile{}, fmt.Errorf("read profile %s: %w", userID, err)
	}
	s.logger.Info(ctx, "profile updated",
		logger.String("user", userID),
		logger.Bool("created", created),
		logger.Float64("score", profile.CompositeScore),
	)
	return profile, nil
}

// Profile returns the stored profile of userID.
func (s *Service) Profile(ctx context.Context, userID string) (model.Profile, error) {
	if userID == "" {
		return model.Profile{}, ErrEmptyUserID
	}
	return s.profiles.Get(ctx, userID)
}

// Presence returns the current presence record of userID.
func (s *Service) Presence(ctx context.Context, userID string) (model.PresenceRecord, error) {
	if userID == "" {
		return model.PresenceRecord{}, ErrEmptyUserID
	}
	return s.presence.Get(ctx, userID)
}

// PresencePhase returns the listener's debounced view of userID.
func (s *Service) PresencePhase(userID string) presence.Phase {
	s.mu.RLock()
	l := s.listener
	s.mu.RUnlock()
	if l == nil {
		return presence.PhaseUnknown
	}
	return l.Phase(userID)
}

func (s *Service) reap(ctx context.Context, reaper presencestore.Reaper) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fired, err := reaper.Reap(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn(ctx, "presence reap failed", logger.Error(err))
				}
				continue
			}
			if fired > 0 {
				s.logger.Debug(ctx, "disconnect hooks fired", logger.Int("count", fired))
			}
		}
	}
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":          s.started,
		"workerCount":      s.workerCount,
		"queueSize":        s.queueSize,
		"gracePeriodMs":    s.grace.Milliseconds(),
		"sweepSchedule":    s.sweepSchedule,
		"sweepInProgress":  s.sweeping.Load(),
		"listenerStarted":  s.listener != nil,
		"sweepConcurrency": s.sweepConcurrency,
	}

	if s.started {
		queueLen := s.queue.Len()
		stats["queueLength"] = queueLen
		stats["inflight"] = s.tracker.Size()
		stats["processed"] = s.pool.Processed()
		stats["workerCount"] = s.pool.Size()

		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateWorkerCount(s.pool.Size())
	}
	if s.listener != nil {
		stats["trackedUsers"] = s.listener.Tracked()
	}
	if last, ok := s.LastSweep(); ok {
		stats["lastSweep"] = last
	}

	return stats
}
