package service

import (
	"errors"
	"fmt"

	"github.com/okian/rentrank/internal/domain/model"
	"github.com/okian/rentrank/internal/domain/presence"
)

// Sentinel errors returned by the service.
var (
	ErrNotStarted      = errors.New("service not started")
	ErrEmptyUserID     = fmt.Errorf("%w: user id is required", model.ErrInvalidInput)
	ErrInvalidProfile  = fmt.Errorf("%w: profile data", model.ErrInvalidInput)
	ErrSweepInProgress = fmt.Errorf("%w: offline sweep already running", model.ErrBusy)

	// ErrListenerStarted is returned by a second InitPresenceListener call.
	ErrListenerStarted = presence.ErrListenerStarted
)
