package simulation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTickArithmetic(t *testing.T) {
	cases := []struct {
		name string
		a, b SimulationTickNumber
	}{
		{"zeros", 0, 0},
		{"positive", 120, 45},
		{"negative delta", 45, 120},
		{"large", math.MaxInt64 / 2, 17},
		{"negative ticks", -300, 299},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.a, tc.a.Add(int64(tc.b)).Add(-int64(tc.b)))
			assert.Equal(t, int64(tc.a)-int64(tc.b), tc.a.Sub(tc.b))
			assert.Equal(t, tc.a.Add(1), tc.a.Next())
			assert.Equal(t, int64(tc.a) < int64(tc.b), tc.a.Before(tc.b))
			assert.Equal(t, int64(tc.a) > int64(tc.b), tc.a.After(tc.b))
			assert.Equal(t, tc.a.Add(int64(tc.b)).Sub(tc.b), int64(tc.a))
		})
	}
}

func TestTickCompare(t *testing.T) {
	assert.Equal(t, -1, SimulationTickNumber(3).Compare(4))
	assert.Equal(t, 0, SimulationTickNumber(4).Compare(4))
	assert.Equal(t, 1, SimulationTickNumber(5).Compare(4))
}

func TestSequenceWraparound(t *testing.T) {
	var last PlayerInputSequenceNumber = math.MaxUint32
	first := last.Next()

	assert.Equal(t, PlayerInputSequenceNumber(0), first)
	assert.True(t, first.IsNewerThan(last))
	assert.False(t, last.IsNewerThan(first))
	assert.Equal(t, int32(1), first.Distance(last))
	assert.Equal(t, int32(-1), last.Distance(first))
	assert.False(t, first.IsNewerThan(first))
}
