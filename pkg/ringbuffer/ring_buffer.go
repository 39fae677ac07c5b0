package ringbuffer

import (
	"iter"

	"github.com/sessamekesh/netsync/pkg/errors"
)

// RingBuffer keeps the most recent Capacity items. Logical index 0 is the oldest surviving
// item. Not safe for concurrent use.
type RingBuffer[T any] struct {
	items []T
	start int
	count int
}

func CreateRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		panic(&errors.InvalidCapacity{Context: "RingBuffer", Capacity: capacity})
	}

	return &RingBuffer[T]{
		items: make([]T, capacity),
	}
}

func (b *RingBuffer[T]) Capacity() int {
	return len(b.items)
}

func (b *RingBuffer[T]) Count() int {
	return b.count
}

func (b *RingBuffer[T]) IsEmpty() bool {
	return b.count == 0
}

func (b *RingBuffer[T]) IsFull() bool {
	return b.count == len(b.items)
}

func (b *RingBuffer[T]) physicalIndex(logicalIndex int) int {
	return (b.start + logicalIndex) % len(b.items)
}

// Push appends item as the newest entry, overwriting the oldest one when full.
func (b *RingBuffer[T]) Push(item T) {
	if b.IsFull() {
		b.items[b.start] = item
		b.start = (b.start + 1) % len(b.items)
		return
	}

	b.items[b.physicalIndex(b.count)] = item
	b.count++
}

func (b *RingBuffer[T]) checkIndex(operation string, index int) {
	if b.count == 0 {
		panic(&errors.EmptyBuffer{Operation: operation})
	}
	if index < 0 || index >= b.count {
		panic(&errors.IndexOutOfRange{Operation: operation, Index: index, Count: b.count})
	}
}

func (b *RingBuffer[T]) Get(index int) T {
	b.checkIndex("RingBuffer::Get", index)
	return b.items[b.physicalIndex(index)]
}

// Set replaces the item at a logical index in place.
func (b *RingBuffer[T]) Set(index int, item T) {
	b.checkIndex("RingBuffer::Set", index)
	b.items[b.physicalIndex(index)] = item
}

// GetLatest returns the newest item.
func (b *RingBuffer[T]) GetLatest() T {
	b.checkIndex("RingBuffer::GetLatest", 0)
	return b.items[b.physicalIndex(b.count-1)]
}

// GetLast returns the oldest surviving item.
func (b *RingBuffer[T]) GetLast() T {
	b.checkIndex("RingBuffer::GetLast", 0)
	return b.items[b.start]
}

// GetPrevious returns the item offset steps behind the newest one; GetPrevious(0) is
// GetLatest.
func (b *RingBuffer[T]) GetPrevious(offset int) T {
	b.checkIndex("RingBuffer::GetPrevious", offset)
	return b.items[b.physicalIndex(b.count-1-offset)]
}

func (b *RingBuffer[T]) TryGetLatest() (T, bool) {
	if b.count == 0 {
		var zero T
		return zero, false
	}
	return b.items[b.physicalIndex(b.count-1)], true
}

// TryFindLastIndexMatching scans from newest to oldest and returns the logical index of the
// most recent item for which match returns true.
func (b *RingBuffer[T]) TryFindLastIndexMatching(match func(T) bool) (int, bool) {
	for i := b.count - 1; i >= 0; i-- {
		if match(b.items[b.physicalIndex(i)]) {
			return i, true
		}
	}
	return -1, false
}

// All yields logical index and item, oldest to newest.
func (b *RingBuffer[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		for i := 0; i < b.count; i++ {
			if !yield(i, b.items[b.physicalIndex(i)]) {
				return
			}
		}
	}
}

func (b *RingBuffer[T]) Clear() {
	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.start = 0
	b.count = 0
}
