package simulation

import "cmp"

// SimulationTickNumber identifies a fixed-size simulation step. Every simulated frame, input
// sample and server snapshot is stamped with one.
type SimulationTickNumber int64

func (t SimulationTickNumber) Add(n int64) SimulationTickNumber {
	return t + SimulationTickNumber(n)
}

// Sub returns the signed number of ticks between t and other.
func (t SimulationTickNumber) Sub(other SimulationTickNumber) int64 {
	return int64(t - other)
}

func (t SimulationTickNumber) Next() SimulationTickNumber {
	return t + 1
}

func (t SimulationTickNumber) Compare(other SimulationTickNumber) int {
	return cmp.Compare(t, other)
}

func (t SimulationTickNumber) Before(other SimulationTickNumber) bool {
	return t < other
}

func (t SimulationTickNumber) After(other SimulationTickNumber) bool {
	return t > other
}
