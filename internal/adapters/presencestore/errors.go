package presencestore

import "errors"

// Sentinel errors for presence stores.
var (
	ErrStoreClosed   = errors.New("presence store closed")
	ErrConnClosed    = errors.New("presence connection closed")
	ErrInvalidState  = errors.New("invalid presence state")
	ErrInvalidUserID = errors.New("invalid user id")
	ErrUnknownStore  = errors.New("unknown presence store backend")
)
