// Package profilestore holds user profile documents.
package profilestore

import (
	"context"

	"github.com/okian/rentrank/internal/domain/model"
)

// Store provides read/write access to user profiles.
type Store interface {
	// Get returns the profile for id or model.ErrProfileNotFound.
	Get(ctx context.Context, id string) (model.Profile, error)

	// Create inserts p unless a profile with the same id already exists.
	// Returns true when the profile was inserted.
	Create(ctx context.Context, p model.Profile) (bool, error)

	// Merge applies patch to an existing profile. It never creates one and
	// returns model.ErrProfileNotFound when id is unknown.
	Merge(ctx context.Context, id string, patch model.ProfilePatch) error

	// Close releases resources held by the store.
	Close() error
}
