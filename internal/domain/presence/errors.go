package presence

import "errors"

// Sentinel errors for presence tracking.
var (
	ErrListenerStarted = errors.New("presence listener already started")
	ErrNotLoggedIn     = errors.New("presence session has no user")
)
