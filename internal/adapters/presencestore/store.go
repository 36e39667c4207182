// Package presencestore adapts realtime key-value stores to the presence
// protocol: one record per user, a change stream, a by-state query and
// per-connection disconnect hooks.
package presencestore

import (
	"context"

	"github.com/okian/rentrank/internal/domain/model"
)

// Store is the shared realtime presence store. Writes are last-write-wins.
type Store interface {
	// Set replaces the record of userID.
	Set(ctx context.Context, userID string, rec model.PresenceRecord) error

	// Get returns the record of userID or model.ErrPresenceNotFound.
	Get(ctx context.Context, userID string) (model.PresenceRecord, error)

	// Subscribe streams every subsequent record change until ctx is done or
	// the store is closed, at which point the channel is closed.
	Subscribe(ctx context.Context) (<-chan model.PresenceChange, error)

	// QueryByState lists the ids of users whose record has the given state.
	QueryByState(ctx context.Context, state model.PresenceState) ([]string, error)

	// Connect opens a client connection able to carry disconnect hooks.
	Connect(ctx context.Context) (Conn, error)

	// Close releases the store and ends all subscriptions.
	Close() error
}

// Conn is one client connection to the store.
//
// A hook armed with OnDisconnect is written when the connection is lost
// without Close. Hooks are reference counted per user: a lost connection's
// hook is only written when no other live connection holds a hook for the
// same user.
type Conn interface {
	ID() string

	// OnDisconnect arms rec to be written for userID when the connection drops.
	OnDisconnect(ctx context.Context, userID string, rec model.PresenceRecord) error

	// CancelOnDisconnect disarms the hook of userID on this connection.
	CancelOnDisconnect(ctx context.Context, userID string) error

	// Close ends the connection cleanly. Armed hooks are discarded.
	Close(ctx context.Context) error

	// Abort drops the connection as a network failure would. Armed hooks fire.
	Abort()
}

// Reaper is implemented by stores whose hooks fire once a connection lease
// expires. Reap fires the hooks of expired connections and returns how many
// records it wrote.
type Reaper interface {
	Reap(ctx context.Context) (int, error)
}
