package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/okian/rentrank/internal/adapters/presencestore"
	"github.com/okian/rentrank/internal/adapters/profilestore"
	"github.com/okian/rentrank/internal/config"
	"github.com/okian/rentrank/pkg/logger"
)

// Stores holds the two external stores selected by configuration.
type Stores struct {
	Presence presencestore.Store
	Profiles profilestore.Store

	closers []func() error
}

// OpenStores connects the presence and profile stores named in cfg.
func OpenStores(ctx context.Context, cfg *config.Config, log logger.Logger) (*Stores, error) {
	st := &Stores{}

	p, err := st.openPresence(ctx, cfg, log)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	st.Presence = p

	profiles, err := openProfiles(cfg, log)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	st.Profiles = profiles
	st.closers = append(st.closers, profiles.Close)

	log.Info(ctx, "stores opened",
		logger.String("presence", cfg.PresenceBackend),
		logger.String("profiles", cfg.ProfileDriver),
	)
	return st, nil
}

func (st *Stores) openPresence(ctx context.Context, cfg *config.Config, log logger.Logger) (presencestore.Store, error) {
	opts := []presencestore.Option{
		presencestore.WithLeaseTTL(cfg.LeaseTTL()),
		presencestore.WithLogger(log.Named("presence-store")),
	}

	switch cfg.PresenceBackend {
	case config.PresenceMemory:
		s := presencestore.NewMemoryStore(opts...)
		st.closers = append(st.closers, s.Close)
		return s, nil

	case config.PresenceRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		st.closers = append(st.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		if cfg.RedisPrefix != "" {
			opts = append(opts, presencestore.WithKeyPrefix(cfg.RedisPrefix))
		}
		s := presencestore.NewRedisStore(rdb, opts...)
		// Subscriptions end before the client closes.
		st.closers = append([]func() error{s.Close}, st.closers...)
		return s, nil

	case config.PresenceNATS:
		s, err := presencestore.DialNATS(cfg.NATSURL, cfg.NATSUser, cfg.NATSPass, opts...)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, s.Close)
		return s, nil

	default:
		return nil, fmt.Errorf("%w: %q", presencestore.ErrUnknownStore, cfg.PresenceBackend)
	}
}

func openProfiles(cfg *config.Config, log logger.Logger) (profilestore.Store, error) {
	switch cfg.ProfileDriver {
	case config.ProfileMemory:
		return profilestore.NewMemoryStore(), nil
	case config.ProfileSQLite, config.ProfilePostgres:
		return profilestore.NewGormStore(cfg.ProfileDriver, cfg.ProfileDSN,
			profilestore.WithLogLevel(gormLogLevel(cfg.LogLevel)),
			profilestore.WithLogger(log.Named("profile-store")),
		)
	default:
		return nil, fmt.Errorf("%w: %q", profilestore.ErrUnknownDriver, cfg.ProfileDriver)
	}
}

// gormLogLevel keeps SQL logging quiet unless the service runs at debug.
func gormLogLevel(level string) string {
	switch level {
	case "debug":
		return "info"
	case "warn", "error":
		return level
	default:
		return "silent"
	}
}

// Close releases every store in the order it must be torn down.
func (st *Stores) Close() error {
	var errs []error
	for _, c := range st.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	st.closers = nil
	return errors.Join(errs...)
}
