package simulator

import "errors"

var (
	ErrInvalidConfig      = errors.New("invalid simulation config")
	ErrVerificationFailed = errors.New("presence verification failed")
)
