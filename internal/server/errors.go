package server

import "errors"

var (
	ErrAlreadyRunning   = errors.New("server is already running")
	ErrNotRunning       = errors.New("server is not running")
	ErrUnknownTransport = errors.New("unknown transport")
	ErrSessionNotFound  = errors.New("session not found")
)
