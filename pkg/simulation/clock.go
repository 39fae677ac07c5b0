package simulation

import (
	"time"

	"github.com/sessamekesh/netsync/pkg/errors"
)

const DefaultTickRate = 30

// Clock converts elapsed wall time into a whole number of fixed simulation ticks.
type Clock struct {
	tickDuration time.Duration
	currentTick  SimulationTickNumber
	accumulator  time.Duration
}

func CreateClock(tickRate int) *Clock {
	if tickRate <= 0 {
		panic(&errors.InvalidCapacity{Context: "Clock::TickRate", Capacity: tickRate})
	}

	return &Clock{
		tickDuration: time.Second / time.Duration(tickRate),
	}
}

func (c *Clock) TickDuration() time.Duration {
	return c.tickDuration
}

func (c *Clock) CurrentTick() SimulationTickNumber {
	return c.currentTick
}

// WorldTime is the simulated time elapsed since tick zero, including the partial tick that
// has not been stepped yet.
func (c *Clock) WorldTime() time.Duration {
	return time.Duration(c.currentTick)*c.tickDuration + c.accumulator
}

// SetWorldTime jumps the clock, used once clock sync has computed the server's time.
func (c *Clock) SetWorldTime(worldTime time.Duration) {
	if worldTime < 0 {
		worldTime = 0
	}
	c.currentTick = SimulationTickNumber(worldTime / c.tickDuration)
	c.accumulator = worldTime % c.tickDuration
}

// Advance adds elapsed wall time and returns how many ticks should be simulated now. The
// current tick is moved forward by the same amount.
func (c *Clock) Advance(elapsed time.Duration) int {
	if elapsed <= 0 {
		return 0
	}

	c.accumulator += elapsed
	ticks := int(c.accumulator / c.tickDuration)
	c.accumulator -= time.Duration(ticks) * c.tickDuration
	c.currentTick = c.currentTick.Add(int64(ticks))
	return ticks
}
