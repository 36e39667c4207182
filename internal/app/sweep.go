package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/rentrank/internal/domain/model"
	"github.com/okian/rentrank/internal/domain/types"
	"github.com/okian/rentrank/pkg/logger"
	"github.com/okian/rentrank/pkg/metrics"
)

// SweepSummary reports one pass over the offline users.
type SweepSummary = types.SweepSummary

// RecalculateOfflineUsersScore recalculates every user whose presence record
// is offline. Per-user failures are counted in the summary, not returned;
// only a failing offline-user query fails the sweep.
func (s *Service) RecalculateOfflineUsersScore(ctx context.Context) (SweepSummary, error) {
	if !s.sweeping.CompareAndSwap(false, true) {
		return SweepSummary{}, ErrSweepInProgress
	}
	defer s.sweeping.Store(false)

	summary := SweepSummary{StartedAt: s.now()}
	start := time.Now()

	userIDs, err := s.presence.QueryByState(ctx, model.StateOffline)
	if err != nil {
		summary.Duration = time.Since(start)
		metrics.RecordSweep("error", 0, 0, float64(summary.Duration.Milliseconds()))
		s.logger.Error(ctx, "offline user query failed, sweep skipped", logger.Error(err))
		return summary, fmt.Errorf("query offline users: %w", err)
	}
	summary.Total = len(userIDs)

	var succeeded, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.sweepConcurrency)
	for _, userID := range userIDs {
		g.Go(func() error {
			if err := s.engine.Recalculate(ctx, userID, model.TriggerSweep); err != nil {
				failed.Add(1)
				s.logger.Warn(ctx, "sweep recalculation failed",
					logger.String("user", userID),
					logger.Error(err),
				)
				return nil
			}
			succeeded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	summary.Succeeded = int(succeeded.Load())
	summary.Failed = int(failed.Load())
	summary.Duration = time.Since(start)

	metrics.RecordSweep("ok", summary.Succeeded, summary.Failed, float64(summary.Duration.Milliseconds()))
	s.logger.Info(ctx, "offline sweep finished",
		logger.Int("total", summary.Total),
		logger.Int("succeeded", summary.Succeeded),
		logger.Int("failed", summary.Failed),
		logger.Duration("duration", summary.Duration),
	)

	s.sweepMu.Lock()
	s.lastSweep = summary
	s.hasSweptBefore = true
	s.sweepMu.Unlock()

	return summary, nil
}

// LastSweep returns the summary of the most recent completed sweep.
func (s *Service) LastSweep() (SweepSummary, bool) {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()
	return s.lastSweep, s.hasSweptBefore
}

// scheduledSweep runs a sweep on behalf of the schedule. Errors end this
// iteration only; the next scheduled run retries.
func (s *Service) scheduledSweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_, err := s.RecalculateOfflineUsersScore(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrSweepInProgress):
		s.logger.Info(ctx, "previous offline sweep still running, skipping")
	default:
		s.logger.Error(ctx, "scheduled offline sweep failed", logger.Error(err))
	}
}
