// Package generic holds small type-parameterized utilities.
package generic

import "sync"

// Pool is a typed wrapper around sync.Pool.
type Pool[T any] struct {
	inner sync.Pool
}

func NewPool[T any](generate func() T) *Pool[T] {
	return &Pool[T]{
		inner: sync.Pool{
			New: func() any { return generate() },
		},
	}
}

// NewHotPool returns a pool pre-warmed with hotSize values so early
// callers skip the allocation.
func NewHotPool[T any](generate func() T, hotSize int) *Pool[T] {
	p := NewPool(generate)
	for i := 0; i < hotSize; i++ {
		p.inner.Put(generate())
	}
	return p
}

func (p *Pool[T]) Get() T {
	return p.inner.Get().(T)
}

func (p *Pool[T]) Put(value T) {
	p.inner.Put(value)
}
