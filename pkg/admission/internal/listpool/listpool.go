// Package listpool provides a rent/return pool for temporary slices used by
// cleanup passes and diagnostic reports, to keep those paths allocation-light
// under repeated invocation. Built directly on sync.Pool.
package listpool

import "sync"

// Pool rents and returns slices of T, reusing backing arrays across calls.
type Pool[T any] struct {
	pool sync.Pool
}

// New creates a Pool for element type T.
func New[T any]() *Pool[T] {
	return &Pool[T]{
		pool: sync.Pool{
			New: func() any {
				s := make([]T, 0, 16)
				return &s
			},
		},
	}
}

// Rent returns a zero-length slice with at least minCapacity of backing
// storage, reused from the pool when possible.
func (p *Pool[T]) Rent(minCapacity int) []T {
	s := *p.pool.Get().(*[]T)
	if cap(s) < minCapacity {
		s = make([]T, 0, minCapacity)
	}
	return s[:0]
}

// Return gives a slice back to the pool. When clearItems is true, each
// element is zeroed before the slice is pooled, so held references (e.g. to
// EndpointState) don't keep large graphs alive between rentals.
func (p *Pool[T]) Return(s []T, clearItems bool) {
	if s == nil {
		return
	}
	if clearItems {
		var zero T
		for i := range s {
			s[i] = zero
		}
	}
	s = s[:0]
	p.pool.Put(&s)
}
