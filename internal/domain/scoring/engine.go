package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/rentrank/internal/domain/model"
	"github.com/okian/rentrank/pkg/logger"
	"github.com/okian/rentrank/pkg/metrics"
)

// Result labels for recalculation metrics.
const (
	resultOK      = "ok"
	resultMissing = "missing"
	resultError   = "error"
)

// ProfileStore is the subset of the profile store the engine needs.
type ProfileStore interface {
	Get(ctx context.Context, id string) (model.Profile, error)
	Merge(ctx context.Context, id string, patch model.ProfilePatch) error
}

// Engine reads profiles, recomputes their composite score and writes it back.
type Engine struct {
	profiles ProfileStore
	now      func() time.Time
	logger   logger.Logger
}

// NewEngine creates an engine over the given profile store.
func NewEngine(profiles ProfileStore, opts ...Option) *Engine {
	e := &Engine{
		profiles: profiles,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = logger.Get().Named("score-engine")
	}

	return e
}

// Recalculate recomputes the composite score of userID and stores it together
// with lastActiveAt = now. A missing profile is not an error and is never
// created.
func (e *Engine) Recalculate(ctx context.Context, userID string, trigger model.Trigger) error {
	start := time.Now()
	defer func() {
		metrics.RecordRecalculationLatency(float64(time.Since(start).Milliseconds()))
	}()

	profile, err := e.profiles.Get(ctx, userID)
	if errors.Is(err, model.ErrProfileNotFound) {
		e.logger.Warn(ctx, "user profile does not exist, nothing to recalculate",
			logger.String("user", userID),
			logger.String("trigger", string(trigger)),
		)
		metrics.RecordProfileMissing()
		metrics.RecordRecalculation(string(trigger), resultMissing)
		return nil
	}
	if err != nil {
		metrics.RecordRecalculation(string(trigger), resultError)
		return fmt.Errorf("read profile %s: %w", userID, err)
	}

	now := e.now()
	score := FormulaScore(profile.RatingAverage, profile.RentalCount, now, now)

	if err := e.profiles.Merge(ctx, userID, model.ProfilePatch{
		LastActiveAt:   &now,
		CompositeScore: &score,
	}); err != nil {
		if errors.Is(err, model.ErrProfileNotFound) {
			metrics.RecordRecalculation(string(trigger), resultMissing)
			return nil
		}
		metrics.RecordRecalculation(string(trigger), resultError)
		return fmt.Errorf("write score for %s: %w", userID, err)
	}

	metrics.RecordRecalculation(string(trigger), resultOK)
	e.logger.Debug(ctx, "composite score updated",
		logger.String("user", userID),
		logger.String("trigger", string(trigger)),
		logger.Float64("score", score),
	)
	return nil
}

// Touch stamps lastActiveAt = now without recomputing the score.
func (e *Engine) Touch(ctx context.Context, userID string) error {
	now := e.now()
	err := e.profiles.Merge(ctx, userID, model.ProfilePatch{LastActiveAt: &now})
	if errors.Is(err, model.ErrProfileNotFound) {
		e.logger.Warn(ctx, "user profile does not exist, lastActiveAt not stamped", logger.String("user", userID))
		metrics.RecordProfileMissing()
		return nil
	}
	if err != nil {
		return fmt.Errorf("stamp lastActiveAt for %s: %w", userID, err)
	}
	metrics.RecordProfileTouched()
	return nil
}
