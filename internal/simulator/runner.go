// Package simulator drives many client presence sessions against a presence
// store and checks that connection blips shorter than the grace period never
// leave a logged-in user offline.
package simulator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/rentrank/internal/adapters/presencestore"
	"github.com/okian/rentrank/internal/domain/model"
	"github.com/okian/rentrank/internal/domain/presence"
	"github.com/okian/rentrank/pkg/logger"
)

const (
	userIDPrefix = "sim-"
	closeTimeout = 5 * time.Second
)

// simUser is one simulated client and the record it should end with.
type simUser struct {
	id      string
	session *presence.Session
	cancel  context.CancelFunc
	done    chan struct{}
	want    model.PresenceRecord
	failed  bool
}

// Run executes a complete simulation against store.
func Run(ctx context.Context, store presencestore.Store, config Config) (*Stats, error) {
	config = config.withDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	log := logger.Get().Named("presence-sim")
	stats := &Stats{StartTime: time.Now(), Users: config.Users}

	log.Info(ctx, "starting presence simulation",
		logger.Int("users", config.Users),
		logger.Int("blips", config.Blips),
		logger.Int("logouts", config.Logouts),
		logger.Int("workers", config.Workers),
		logger.Duration("grace", config.Grace),
		logger.Duration("blipDown", config.BlipDown),
	)

	if r, ok := store.(presencestore.Reaper); ok {
		reapCtx, stopReap := context.WithCancel(ctx)
		defer stopReap()
		go reapLoop(reapCtx, r, config.BlipGap, log)
	}

	users := newUsers(config)
	defer closeUsers(users, log)

	var blips, logouts, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(config.Workers)
	for i, u := range users {
		logout := i < config.Logouts
		g.Go(func() error {
			n, err := simulate(gctx, store, u, config, logout)
			blips.Add(int64(n))
			if err != nil {
				u.failed = true
				failed.Add(1)
				log.Warn(gctx, "simulated user failed", logger.String("user", u.id), logger.Error(err))
				return nil
			}
			if logout {
				logouts.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	stats.Blips = int(blips.Load())
	stats.Logouts = int(logouts.Load())
	stats.Failed = int(failed.Load())

	log.Info(ctx, "waiting for presence to settle", logger.Duration("settle", config.Settle))
	if err := sleep(ctx, config.Settle); err != nil {
		return stats, err
	}

	verifyErr := verifyRecords(ctx, store, users, stats, config.Verbose, log)

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats, log)

	return stats, verifyErr
}

func newUsers(config Config) []*simUser {
	users := make([]*simUser, config.Users)
	for i := range users {
		want := model.Online()
		if i < config.Logouts {
			want = model.LoggedOut()
		}
		users[i] = &simUser{id: userIDPrefix + uuid.NewString(), want: want}
	}
	return users
}

// simulate logs u in, drops and restores its connection config.Blips times
// and optionally logs it out. It returns the number of completed blips.
func simulate(ctx context.Context, store presencestore.Store, u *simUser, config Config, logout bool) (int, error) {
	u.session = presence.NewSession(store,
		presence.WithGracePeriod(config.Grace),
		presence.WithLogger(logger.Get().Named("presence-sim").With(logger.String("user", u.id))),
	)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	u.cancel = cancel
	u.done = make(chan struct{})
	go func() {
		defer close(u.done)
		_ = u.session.Run(runCtx)
	}()

	if err := u.session.Login(ctx, u.id); err != nil {
		return 0, fmt.Errorf("login: %w", err)
	}

	blips := 0
	for range config.Blips {
		if err := sleep(ctx, config.BlipGap); err != nil {
			return blips, err
		}
		u.session.Drop()
		if err := sleep(ctx, config.BlipDown); err != nil {
			return blips, err
		}
		if err := u.session.Reconnect(ctx); err != nil {
			return blips, fmt.Errorf("reconnect after blip %d: %w", blips+1, err)
		}
		blips++
	}

	if logout {
		if err := u.session.Logout(ctx); err != nil {
			return blips, fmt.Errorf("logout: %w", err)
		}
	}
	return blips, nil
}

// closeUsers ends every session cleanly. Clean closes discard armed hooks,
// so the verified records stay as they are.
func closeUsers(users []*simUser, log logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, u := range users {
		if u.session == nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := u.session.Close(ctx); err != nil {
				log.Debug(ctx, "session close failed", logger.String("user", u.id), logger.Error(err))
			}
			u.cancel()
			select {
			case <-u.done:
			case <-ctx.Done():
			}
		}()
	}
	wg.Wait()
}

func reapLoop(ctx context.Context, r presencestore.Reaper, every time.Duration, log logger.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Reap(ctx); err != nil && ctx.Err() == nil {
				log.Warn(ctx, "reap failed", logger.Error(err))
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// displayFinalStats logs the final simulation statistics.
func displayFinalStats(ctx context.Context, stats *Stats, log logger.Logger) {
	var blipsPerSecond float64
	if stats.Duration > 0 {
		blipsPerSecond = float64(stats.Blips) / stats.Duration.Seconds()
	}

	log.Info(ctx, "final statistics",
		logger.Int("users", stats.Users),
		logger.Int("blips", stats.Blips),
		logger.Int("logouts", stats.Logouts),
		logger.Int("failed", stats.Failed),
		logger.Int("verified", stats.Verified),
		logger.Int("mismatches", stats.Mismatches),
		logger.Duration("duration", stats.Duration),
		logger.Float64("blipsPerSecond", blipsPerSecond),
	)
}
