package ringbuffer

import (
	"testing"

	"github.com/sessamekesh/netsync/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect[T any](b *RingBuffer[T]) []T {
	out := []T{}
	for _, item := range b.All() {
		out = append(out, item)
	}
	return out
}

func TestPushBelowCapacity(t *testing.T) {
	b := CreateRingBuffer[int](4)
	require.True(t, b.IsEmpty())

	b.Push(10)
	b.Push(20)

	assert.Equal(t, 2, b.Count())
	assert.Equal(t, 4, b.Capacity())
	assert.False(t, b.IsFull())
	assert.Equal(t, 20, b.GetLatest())
	assert.Equal(t, 10, b.GetLast())
	assert.Equal(t, 10, b.GetPrevious(1))
	assert.Equal(t, []int{10, 20}, collect(b))
}

func TestCapacityLaw(t *testing.T) {
	const capacity = 5
	for k := 1; k <= 12; k++ {
		b := CreateRingBuffer[int](capacity)
		for i := 1; i <= capacity+k; i++ {
			b.Push(i)
		}

		require.Equal(t, capacity, b.Count(), "k=%d", k)
		assert.True(t, b.IsFull())
		assert.Equal(t, capacity+k, b.GetLatest(), "k=%d", k)
		// oldest survivor is the (k+1)th pushed item, i.e. value k+1 when pushing 1..N+k
		assert.Equal(t, k+1, b.GetLast(), "k=%d", k)

		expected := []int{}
		for i := k + 1; i <= capacity+k; i++ {
			expected = append(expected, i)
		}
		assert.Equal(t, expected, collect(b), "k=%d", k)

		for offset := 0; offset < capacity; offset++ {
			assert.Equal(t, capacity+k-offset, b.GetPrevious(offset))
			assert.Equal(t, k+1+offset, b.Get(offset))
		}
	}
}

func TestEmptyBufferAccessPanics(t *testing.T) {
	b := CreateRingBuffer[string](3)

	assert.PanicsWithError(t, (&errors.EmptyBuffer{Operation: "RingBuffer::GetLatest"}).Error(), func() { b.GetLatest() })
	assert.Panics(t, func() { b.GetLast() })
	assert.Panics(t, func() { b.GetPrevious(0) })

	_, ok := b.TryGetLatest()
	assert.False(t, ok)
}

func TestGetPreviousBounds(t *testing.T) {
	b := CreateRingBuffer[int](3)
	b.Push(1)
	b.Push(2)

	assert.Panics(t, func() { b.GetPrevious(2) })
	assert.Panics(t, func() { b.GetPrevious(-1) })
	assert.Panics(t, func() { b.Get(2) })
}

func TestTryFindLastIndexMatchingPrefersNewest(t *testing.T) {
	b := CreateRingBuffer[int](4)
	for _, v := range []int{1, 2, 3, 4, 5, 6} {
		b.Push(v)
	}

	index, ok := b.TryFindLastIndexMatching(func(v int) bool { return v%2 == 1 })
	require.True(t, ok)
	assert.Equal(t, 2, index)
	assert.Equal(t, 5, b.Get(index))

	_, ok = b.TryFindLastIndexMatching(func(v int) bool { return v == 1 })
	assert.False(t, ok, "overwritten items must not be found")
}

func TestSetAndClear(t *testing.T) {
	b := CreateRingBuffer[int](2)
	b.Push(1)
	b.Push(2)
	b.Push(3)
	b.Set(0, 20)
	assert.Equal(t, []int{20, 3}, collect(b))

	b.Clear()
	assert.True(t, b.IsEmpty())
	b.Push(7)
	assert.Equal(t, 7, b.GetLast())
	assert.Equal(t, 7, b.GetLatest())
}

func TestEnumerationStopsEarly(t *testing.T) {
	b := CreateRingBuffer[int](3)
	b.Push(1)
	b.Push(2)
	b.Push(3)

	seen := 0
	for range b.All() {
		seen++
		break
	}
	assert.Equal(t, 1, seen)
}

func TestNonPositiveCapacityPanics(t *testing.T) {
	assert.Panics(t, func() { CreateRingBuffer[int](0) })
	assert.Panics(t, func() { CreateRingBuffer[int](-3) })
}
