package protocol

import "errors"

// Transport errors
var (
	ErrTransportClosed = errors.New("transport is closed")
	ErrConnClosed      = errors.New("connection is closed")
	ErrListenFailed    = errors.New("listen failed")
	ErrDialFailed      = errors.New("dial failed")

	// Message errors

	ErrMessageTooLarge = errors.New("message too large")
	ErrInvalidFrame    = errors.New("invalid frame")
)
