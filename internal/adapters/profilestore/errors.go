package profilestore

import "errors"

// Sentinel errors for the profile store.
var (
	ErrEmptyID       = errors.New("profile id is empty")
	ErrUnknownDriver = errors.New("unknown profile store driver")
	ErrMissingDSN    = errors.New("profile store dsn is empty")
	ErrStoreClosed   = errors.New("profile store closed")
)
