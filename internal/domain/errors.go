package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrOrderRejected  = errors.New("order rejected")
	ErrTooManyActive  = errors.New("max concurrent executions reached")
	ErrFeedDisconnect = errors.New("feed disconnected")
)
