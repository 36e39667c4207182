package simulator

import (
	"fmt"
	"time"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultUsers    = 100
	DefaultBlips    = 3
	DefaultWorkers  = 16
	DefaultBlipGap  = 50 * time.Millisecond
	settleFactor    = 2
	blipDownDivisor = 4
)

// Config holds configuration for one simulation run.
type Config struct {
	Users    int           // Number of simulated users, one session each
	Blips    int           // Connection drops per user, each shorter than Grace
	Logouts  int           // Users that log out at the end of their run
	Workers  int           // Sessions driven concurrently
	Grace    time.Duration // Client grace period
	BlipDown time.Duration // How long a dropped connection stays down
	BlipGap  time.Duration // Pause between reconnect and the next drop
	Settle   time.Duration // Wait before final records are verified
	Verbose  bool          // Log every mismatch instead of a summary
}

func (c Config) withDefaults() Config {
	if c.Users <= 0 {
		c.Users = DefaultUsers
	}
	if c.Blips < 0 {
		c.Blips = 0
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.BlipDown <= 0 {
		c.BlipDown = c.Grace / blipDownDivisor
	}
	if c.BlipGap <= 0 {
		c.BlipGap = DefaultBlipGap
	}
	if c.Settle <= 0 {
		c.Settle = c.Grace * settleFactor
	}
	return c
}

func (c Config) validate() error {
	switch {
	case c.Grace <= 0:
		return fmt.Errorf("%w: grace period must be positive", ErrInvalidConfig)
	case c.BlipDown >= c.Grace:
		return fmt.Errorf("%w: blip of %s is not shorter than grace period %s", ErrInvalidConfig, c.BlipDown, c.Grace)
	case c.Logouts < 0 || c.Logouts > c.Users:
		return fmt.Errorf("%w: logouts must be between 0 and %d", ErrInvalidConfig, c.Users)
	}
	return nil
}

// Stats holds simulation statistics.
type Stats struct {
	Users      int
	Blips      int
	Logouts    int
	Failed     int
	Verified   int
	Mismatches int
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
}
