package netclient

import (
	"testing"

	"github.com/sessamekesh/netsync/pkg/codec"
	"github.com/sessamekesh/netsync/pkg/message"
	clientmsg "github.com/sessamekesh/netsync/pkg/message/client"
	"github.com/sessamekesh/netsync/pkg/simulation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequences(records []InputRecord) []simulation.PlayerInputSequenceNumber {
	out := []simulation.PlayerInputSequenceNumber{}
	for _, r := range records {
		out = append(out, r.Sequence)
	}
	return out
}

func TestCaptureStampsIncreasingSequences(t *testing.T) {
	h := CreateInputHistory(8)

	first := h.Capture(10, codec.Vector2{X: 1}, false)
	second := h.Capture(11, codec.Vector2{Y: 1}, true)

	assert.Equal(t, simulation.PlayerInputSequenceNumber(1), first.Sequence)
	assert.Equal(t, simulation.PlayerInputSequenceNumber(2), second.Sequence)
	assert.Equal(t, simulation.SimulationTickNumber(11), second.Tick)
	assert.True(t, second.JumpRequested)
	assert.Equal(t, 2, h.Count())
}

func TestUnacknowledgedFollowsAcks(t *testing.T) {
	h := CreateInputHistory(8)
	for i := 0; i < 5; i++ {
		h.Capture(simulation.SimulationTickNumber(i), codec.Vector2{}, false)
	}

	assert.Equal(t, []simulation.PlayerInputSequenceNumber{1, 2, 3, 4, 5}, sequences(h.Unacknowledged()))

	h.Acknowledge(3)
	assert.Equal(t, []simulation.PlayerInputSequenceNumber{4, 5}, sequences(h.Unacknowledged()))

	h.Acknowledge(2)
	ack, has := h.LastAcknowledged()
	require.True(t, has)
	assert.Equal(t, simulation.PlayerInputSequenceNumber(3), ack, "older ack is ignored")

	h.Acknowledge(5)
	assert.Empty(t, h.Unacknowledged())
}

func TestHistoryKeepsOnlyNewestInputs(t *testing.T) {
	h := CreateInputHistory(4)
	for i := 0; i < 6; i++ {
		h.Capture(simulation.SimulationTickNumber(i), codec.Vector2{}, false)
	}

	assert.Equal(t, []simulation.PlayerInputSequenceNumber{3, 4, 5, 6}, sequences(h.Unacknowledged()))
	assert.Equal(t, []simulation.PlayerInputSequenceNumber{5, 6}, sequences(h.After(4)))
	assert.Equal(t, []simulation.PlayerInputSequenceNumber{3, 4, 5, 6}, sequences(h.After(1)))
}

func TestBuildPlayerUpdateWritesPendingInputs(t *testing.T) {
	h := CreateInputHistory(8)
	h.Capture(1, codec.Vector2{X: 0.5}, false)
	h.Capture(2, codec.Vector2{Y: -1}, true)
	h.Capture(3, codec.Vector2{}, false)
	h.Acknowledge(1)

	w := codec.CreateWriter(64)
	count := h.BuildPlayerUpdate(w, 42)
	require.Equal(t, 2, count)

	var header clientmsg.PlayerUpdate
	inputs, ok := message.ReadArray(codec.CreateReader(w.Bytes()), &header, []clientmsg.PlayerInput(nil))
	require.True(t, ok)
	assert.Equal(t, simulation.SimulationTickNumber(42), header.AcknowledgedServerTick)
	require.Len(t, inputs, 2)
	assert.Equal(t, simulation.PlayerInputSequenceNumber(2), inputs[0].Sequence)
	assert.Equal(t, codec.Vector2{Y: -1}, inputs[0].MoveInput)
	assert.True(t, inputs[0].JumpRequested)
	assert.Equal(t, simulation.PlayerInputSequenceNumber(3), inputs[1].Sequence)
}
