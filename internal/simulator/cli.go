package simulator

import "os"

// ShowHelp prints usage information for the presence simulator.
func ShowHelp() {
	_, _ = os.Stdout.WriteString(`Rentrank Presence Simulator
===========================

Drives many client presence sessions against the configured presence store.
Every user logs in, loses its connection several times for less than the
grace period and reconnects; some users then log out. Final records are
verified: logged-in users must be online, logged-out users offline with
forceLogout set.

The store is selected with the server configuration (RENTRANK_CONFIG file
or RENTRANK_* environment variables). The grace period defaults to
grace_period_ms.

Usage:
  go run ./cmd/presence-sim [options]

Options:
  -users int
        Number of simulated users (default 100)
  -blips int
        Connection drops per user (default 3)
  -logouts int
        Users that log out at the end (default 10)
  -workers int
        Sessions driven concurrently (default 16)
  -blip-down duration
        How long a dropped connection stays down (default grace/4)
  -blip-gap duration
        Pause between a reconnect and the next drop (default 50ms)
  -settle duration
        Wait before verifying records (default grace*2)
  -timeout duration
        Overall simulation timeout (default 10m)
  -verbose
        Log every mismatch and enable debug logging
  -help
        Show this help message

Examples:
  # Simulate against a local redis
  RENTRANK_PRESENCE_BACKEND=redis go run ./cmd/presence-sim -users 500

  # Short blips against the in-process store
  go run ./cmd/presence-sim -blips 10 -blip-down 100ms
`)
}
