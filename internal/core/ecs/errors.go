package ecs

import "errors"

// Core registry errors
var (
	// Entity errors

	ErrEntityNotFound  = errors.New("entity not found")
	ErrEntityDestroyed = errors.New("entity is destroyed")

	// Component errors

	ErrDuplicateComponent = errors.New("component of that kind already present")
	ErrComponentNotFound  = errors.New("component not found")
	ErrInvalidComponent   = errors.New("invalid component data")
	ErrInvalidPatch       = errors.New("invalid component patch")
)
