package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	app "github.com/okian/rentrank/internal/app"
	"github.com/okian/rentrank/internal/config"
	"github.com/okian/rentrank/internal/simulator"
	"github.com/okian/rentrank/pkg/logger"
)

// Default configuration constants.
const (
	defaultLogouts = 10
	defaultTimeout = 10 * time.Minute
)

func main() {
	var (
		users    = flag.Int("users", simulator.DefaultUsers, "Number of simulated users")
		blips    = flag.Int("blips", simulator.DefaultBlips, "Connection drops per user")
		logouts  = flag.Int("logouts", defaultLogouts, "Users that log out at the end")
		workers  = flag.Int("workers", simulator.DefaultWorkers, "Sessions driven concurrently")
		blipDown = flag.Duration("blip-down", 0, "How long a dropped connection stays down (default grace/4)")
		blipGap  = flag.Duration("blip-gap", simulator.DefaultBlipGap, "Pause between a reconnect and the next drop")
		settle   = flag.Duration("settle", 0, "Wait before verifying records (default grace*2)")
		timeout  = flag.Duration("timeout", defaultTimeout, "Overall simulation timeout")
		verbose  = flag.Bool("verbose", false, "Enable verbose logging")
		help     = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		simulator.ShowHelp()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := logger.InitWithFormat(cfg.LogFormat); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	level := cfg.LogLevel
	if *verbose {
		level = "debug"
	}
	_ = logger.SetLevelString(level)

	sim := simulator.Config{
		Users:    *users,
		Blips:    *blips,
		Logouts:  min(*logouts, *users),
		Workers:  *workers,
		Grace:    cfg.GracePeriod(),
		BlipDown: *blipDown,
		BlipGap:  *blipGap,
		Settle:   *settle,
		Verbose:  *verbose,
	}

	if err := run(ctx, cfg, sim); err != nil {
		logger.Get().Error(ctx, "simulation failed", logger.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

// run opens the configured presence store and simulates against it.
func run(ctx context.Context, cfg *config.Config, sim simulator.Config) error {
	// Profiles are not touched by the simulator.
	storeCfg := *cfg
	storeCfg.ProfileDriver = config.ProfileMemory

	stores, err := app.OpenStores(ctx, &storeCfg, logger.Get())
	if err != nil {
		return err
	}
	defer func() {
		_ = stores.Close()
	}()

	_, err = simulator.Run(ctx, stores.Presence, sim)
	return err
}
