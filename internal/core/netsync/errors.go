package netsync

import "errors"

// Synchronization errors
var (
	ErrUnknownNetworkID = errors.New("netsync: unknown network id")
	ErrNoTransform      = errors.New("netsync: snapshot missing transform")
	ErrNoControlled     = errors.New("netsync: no locally controlled entity")
)
