package netclient

import (
	"github.com/sessamekesh/netsync/pkg/codec"
	"github.com/sessamekesh/netsync/pkg/message"
	clientmsg "github.com/sessamekesh/netsync/pkg/message/client"
	"github.com/sessamekesh/netsync/pkg/ringbuffer"
	"github.com/sessamekesh/netsync/pkg/simulation"
)

const DefaultInputHistoryLength = 64

type InputRecord struct {
	Tick          simulation.SimulationTickNumber
	Sequence      simulation.PlayerInputSequenceNumber
	MoveInput     codec.Vector2
	JumpRequested bool
}

// InputHistory keeps the inputs the server may not have received yet. Every player update
// resends all of them, so a lost datagram is repaired by the next one.
type InputHistory struct {
	records      *ringbuffer.RingBuffer[InputRecord]
	nextSequence simulation.PlayerInputSequenceNumber

	hasAck       bool
	acknowledged simulation.PlayerInputSequenceNumber
}

func CreateInputHistory(capacity int) *InputHistory {
	return &InputHistory{
		records:      ringbuffer.CreateRingBuffer[InputRecord](capacity),
		nextSequence: 1,
	}
}

// Capture stamps a new input sample with the next sequence number and keeps it.
func (h *InputHistory) Capture(tick simulation.SimulationTickNumber, move codec.Vector2, jump bool) InputRecord {
	record := InputRecord{
		Tick:          tick,
		Sequence:      h.nextSequence,
		MoveInput:     move,
		JumpRequested: jump,
	}
	h.nextSequence = h.nextSequence.Next()
	h.records.Push(record)
	return record
}

// Acknowledge records that the server has received every input up to and including seq.
// Older acknowledgements (reordered snapshots) are ignored.
func (h *InputHistory) Acknowledge(seq simulation.PlayerInputSequenceNumber) {
	if h.hasAck && !seq.IsNewerThan(h.acknowledged) {
		return
	}
	h.hasAck = true
	h.acknowledged = seq
}

func (h *InputHistory) LastAcknowledged() (simulation.PlayerInputSequenceNumber, bool) {
	return h.acknowledged, h.hasAck
}

// After returns the kept inputs newer than seq, oldest first.
func (h *InputHistory) After(seq simulation.PlayerInputSequenceNumber) []InputRecord {
	index, found := h.records.TryFindLastIndexMatching(func(r InputRecord) bool {
		return !r.Sequence.IsNewerThan(seq)
	})
	start := 0
	if found {
		start = index + 1
	}

	out := make([]InputRecord, 0, h.records.Count()-start)
	for i := start; i < h.records.Count(); i++ {
		out = append(out, h.records.Get(i))
	}
	return out
}

// Unacknowledged is the resend set for the next player update.
func (h *InputHistory) Unacknowledged() []InputRecord {
	if !h.hasAck {
		out := make([]InputRecord, 0, h.records.Count())
		for _, record := range h.records.All() {
			out = append(out, record)
		}
		return out
	}
	return h.After(h.acknowledged)
}

func (h *InputHistory) Count() int {
	return h.records.Count()
}

// BuildPlayerUpdate serializes the unacknowledged inputs as one array message.
func (h *InputHistory) BuildPlayerUpdate(w *codec.Writer, acknowledgedServerTick simulation.SimulationTickNumber) int {
	pending := h.Unacknowledged()
	items := make([]clientmsg.PlayerInput, len(pending))
	for i, record := range pending {
		items[i] = clientmsg.PlayerInput{
			Sequence:      record.Sequence,
			MoveInput:     record.MoveInput,
			JumpRequested: record.JumpRequested,
		}
	}

	message.WriteArray(w, &clientmsg.PlayerUpdate{AcknowledgedServerTick: acknowledgedServerTick}, items)
	return len(items)
}
