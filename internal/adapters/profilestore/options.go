package profilestore

import (
	"strings"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"github.com/okian/rentrank/pkg/logger"
)

// GormOption applies a configuration option to the GormStore.
type GormOption func(*GormStore)

// WithLogLevel sets the SQL logger verbosity: silent, error, warn or info.
func WithLogLevel(level string) GormOption {
	return func(s *GormStore) {
		switch strings.ToLower(level) {
		case "error":
			s.logLevel = gormlogger.Error
		case "warn":
			s.logLevel = gormlogger.Warn
		case "info":
			s.logLevel = gormlogger.Info
		default:
			s.logLevel = gormlogger.Silent
		}
	}
}

// WithSlowThreshold sets the duration after which queries are logged as slow.
func WithSlowThreshold(d time.Duration) GormOption {
	return func(s *GormStore) {
		if d > 0 {
			s.slowThreshold = d
		}
	}
}

// WithMaxOpenConns caps the connection pool.
func WithMaxOpenConns(n int) GormOption {
	return func(s *GormStore) {
		if n > 0 {
			s.maxOpenConns = n
		}
	}
}

// WithMaxIdleConns caps idle connections kept in the pool.
func WithMaxIdleConns(n int) GormOption {
	return func(s *GormStore) {
		if n > 0 {
			s.maxIdleConns = n
		}
	}
}

// WithAutoMigrate toggles schema migration on open.
func WithAutoMigrate(enabled bool) GormOption {
	return func(s *GormStore) {
		s.autoMigrate = enabled
	}
}

// WithLogger sets the logger SQL statements are reported to.
func WithLogger(l logger.Logger) GormOption {
	return func(s *GormStore) {
		if l != nil {
			s.logger = l
		}
	}
}
