package pool

import (
	"sync"

	"github.com/sessamekesh/netsync/pkg/errors"
)

// Resettable is implemented by pooled types that need to clear state before reuse.
type Resettable interface {
	Reset()
}

// Pool recycles objects that are created at tick rate. The free list is guarded by a single
// mutex; Get/Put are cheap relative to the message traffic they save.
type Pool[T any] struct {
	capacity int
	factory  func() T

	mut_free sync.Mutex
	free     []T
}

// CreatePool creates a pool that keeps at most capacity idle objects around.
func CreatePool[T any](capacity int, factory func() T) *Pool[T] {
	if capacity <= 0 {
		panic(&errors.InvalidCapacity{Context: "Pool", Capacity: capacity})
	}
	if factory == nil {
		panic(&errors.MissingFieldError{MessageName: "Pool", FieldName: "factory"})
	}

	return &Pool[T]{
		capacity: capacity,
		factory:  factory,
		free:     make([]T, 0, capacity),
	}
}

func (p *Pool[T]) GetObject() T {
	p.mut_free.Lock()
	if n := len(p.free); n > 0 {
		item := p.free[n-1]
		var zero T
		p.free[n-1] = zero
		p.free = p.free[:n-1]
		p.mut_free.Unlock()
		return item
	}
	p.mut_free.Unlock()

	return p.factory()
}

// PutObject resets item (when it is Resettable) and keeps it for reuse. Items beyond the
// pool capacity are left to the garbage collector.
func (p *Pool[T]) PutObject(item T) {
	if r, ok := any(item).(Resettable); ok {
		r.Reset()
	}

	p.mut_free.Lock()
	defer p.mut_free.Unlock()

	if len(p.free) >= p.capacity {
		return
	}
	p.free = append(p.free, item)
}

// Count is the number of idle objects currently held by the pool.
func (p *Pool[T]) Count() int {
	p.mut_free.Lock()
	defer p.mut_free.Unlock()
	return len(p.free)
}

// With borrows an object for the duration of fn and returns it to the pool on every exit
// path, including a panic inside fn.
func (p *Pool[T]) With(fn func(T) error) error {
	item := p.GetObject()
	defer p.PutObject(item)
	return fn(item)
}
