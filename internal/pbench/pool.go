package pbench

import "sync"

// Pool is a typed sync.Pool. The optional reset function runs on every Put
// so callers always Get a clean value.
type Pool[T any] struct {
	syncPool sync.Pool
	reset    func(T)
}

func NewPool[T any](newFn func() T, reset func(T)) *Pool[T] {
	return &Pool[T]{
		syncPool: sync.Pool{
			New: func() any { return newFn() },
		},
		reset: reset,
	}
}

// Get returns an arbitrary item from the pool.
func (p *Pool[T]) Get() T {
	return p.syncPool.Get().(T)
}

// Put resets value and places it back in the pool.
func (p *Pool[T]) Put(value T) {
	if p.reset != nil {
		p.reset(value)
	}
	p.syncPool.Put(value)
}
