package simulator

import (
	"context"
	"fmt"

	"github.com/okian/rentrank/internal/domain/model"
	"github.com/okian/rentrank/pkg/logger"
)

// maxLoggedMismatches bounds mismatch logging unless verbose is set.
const maxLoggedMismatches = 10

// recordReader is the part of the presence store verification reads.
type recordReader interface {
	Get(ctx context.Context, userID string) (model.PresenceRecord, error)
}

// verifyRecords compares every surviving user's stored record with the one
// it should have ended with.
func verifyRecords(ctx context.Context, store recordReader, users []*simUser, stats *Stats, verbose bool, log logger.Logger) error {
	log.Info(ctx, "verifying final presence records")

	for _, u := range users {
		if u.failed {
			continue
		}
		got, err := store.Get(ctx, u.id)
		if err != nil {
			return fmt.Errorf("read presence of %s: %w", u.id, err)
		}
		stats.Verified++
		if got == u.want {
			continue
		}
		stats.Mismatches++
		if verbose || stats.Mismatches <= maxLoggedMismatches {
			log.Warn(ctx, "presence mismatch",
				logger.String("user", u.id),
				logger.String("wantState", string(u.want.State)),
				logger.Bool("wantForceLogout", u.want.ForceLogout),
				logger.String("gotState", string(got.State)),
				logger.Bool("gotForceLogout", got.ForceLogout),
			)
		}
	}

	if stats.Mismatches > 0 {
		return fmt.Errorf("%w: %d of %d records", ErrVerificationFailed, stats.Mismatches, stats.Verified)
	}
	log.Info(ctx, "presence verification passed", logger.Int("verified", stats.Verified))
	return nil
}
