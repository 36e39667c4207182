package model

import "errors"

// Sentinel kinds shared by stores and their consumers.
var (
	ErrProfileNotFound  = errors.New("profile not found")
	ErrPresenceNotFound = errors.New("presence record not found")

	// ErrInvalidInput marks errors caused by caller supplied values.
	ErrInvalidInput = errors.New("invalid input")

	// ErrBusy marks work refused because the same work is already running.
	ErrBusy = errors.New("busy")
)
