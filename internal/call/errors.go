package call

import "errors"

var (
	ErrCallActive   = errors.New("a call is already active")
	ErrNoSession    = errors.New("no active call")
	ErrNotConnected = errors.New("call is not connected")
	ErrInvalidState = errors.New("invalid call state")
	ErrBusy         = errors.New("operation already in progress")
	ErrSignaling    = errors.New("signaling send failed")
	ErrNegotiation  = errors.New("negotiation failed")
	ErrClosed       = errors.New("call closed")
)
