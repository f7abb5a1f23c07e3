package client

import "errors"

var (
	ErrNotConnected     = errors.New("client is not connected")
	ErrAlreadyConnected = errors.New("client is already connected")
	ErrClosed           = errors.New("client is closed")
	ErrWelcomeTimeout   = errors.New("timed out waiting for welcome")
	ErrUnknownTransport = errors.New("unknown transport")
)
