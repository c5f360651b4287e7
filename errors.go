package realtime

import (
	"github.com/pkg/errors"
)

var (
	ErrAlreadyConnected = errors.New("already connected")
	ErrConnectFailed    = errors.New("connection attempt failed")
	ErrNotConnected     = errors.New("not connected")
	ErrInvalidPayload   = errors.New("payload must be a string-keyed mapping")
	ErrWaitTimeout      = errors.New("timed out waiting for event")
	ErrInvalidEvent     = errors.New("invalid inbound event")
	ErrListenerPanic    = errors.New("listener panicked")

	ErrConnectionClosed = errors.New("connection has been closed")
	ErrCannotConnect    = errors.New("connection cannot be established")
	ErrRateLimit        = errors.New("rate limit exceeded")
)
