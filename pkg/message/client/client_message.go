package client

import (
	"github.com/sessamekesh/netsync/pkg/codec"
	"github.com/sessamekesh/netsync/pkg/errors"
	"github.com/sessamekesh/netsync/pkg/message"
	"github.com/sessamekesh/netsync/pkg/simulation"
)

// ClientMessageType is the leading byte of every client->server payload.
type ClientMessageType uint8

const (
	ClientMessageType_Unknown ClientMessageType = iota
	ClientMessageType_JoinGameRequest
	ClientMessageType_ClockSyncPing
	ClientMessageType_ClientInGameReady
	ClientMessageType_PlayerUpdate
)

func (t ClientMessageType) String() string {
	switch t {
	case ClientMessageType_JoinGameRequest:
		return "JoinGameRequest"
	case ClientMessageType_ClockSyncPing:
		return "ClockSyncPing"
	case ClientMessageType_ClientInGameReady:
		return "ClientInGameReady"
	case ClientMessageType_PlayerUpdate:
		return "PlayerUpdate"
	}
	return "Unknown"
}

func clientHeaderIdToMessageType(headerId uint8) (ClientMessageType, error) {
	switch headerId {
	case 0x1:
		return ClientMessageType_JoinGameRequest, nil
	case 0x2:
		return ClientMessageType_ClockSyncPing, nil
	case 0x3:
		return ClientMessageType_ClientInGameReady, nil
	case 0x4:
		return ClientMessageType_PlayerUpdate, nil
	}

	return ClientMessageType_Unknown, &errors.InvalidEnumValue{
		EnumName: "ClientMessageType",
		IntValue: headerId,
	}
}

// PeekMessageType reads the discriminant without consuming it.
func PeekMessageType(payload []byte) (ClientMessageType, error) {
	if len(payload) < 1 {
		return ClientMessageType_Unknown, &errors.Underflow{
			MessageName: "ClientMessage",
			MsgSize:     len(payload),
			MinimumSize: 1,
		}
	}

	return clientHeaderIdToMessageType(payload[0])
}

func tryReadMessageType(r *codec.Reader, expected ClientMessageType) bool {
	headerId, ok := r.ReadUint8()
	if !ok {
		return false
	}
	msgType, err := clientHeaderIdToMessageType(headerId)
	return err == nil && msgType == expected
}

type JoinGameRequest struct {
	PlayerName string
}

func (m *JoinGameRequest) WriteTo(w *codec.Writer) {
	w.WriteUint8(uint8(ClientMessageType_JoinGameRequest))
	w.WriteString(m.PlayerName)
}

func (m *JoinGameRequest) TryRead(r *codec.Reader) bool {
	start := r.Offset()
	if !tryReadMessageType(r, ClientMessageType_JoinGameRequest) {
		r.Seek(start)
		return false
	}
	playerName, ok := r.ReadString()
	if !ok {
		r.Seek(start)
		return false
	}

	m.PlayerName = playerName
	return true
}

// ClockSyncPing carries the client's own monotonic timestamp, echoed back untouched by the
// server so the client can measure the round trip.
type ClockSyncPing struct {
	ClientOSTimeStamp int64
}

func (m *ClockSyncPing) WriteTo(w *codec.Writer) {
	w.WriteUint8(uint8(ClientMessageType_ClockSyncPing))
	w.WriteInt64(m.ClientOSTimeStamp)
}

func (m *ClockSyncPing) TryRead(r *codec.Reader) bool {
	start := r.Offset()
	if !tryReadMessageType(r, ClientMessageType_ClockSyncPing) {
		r.Seek(start)
		return false
	}
	ts, ok := r.ReadInt64()
	if !ok {
		r.Seek(start)
		return false
	}

	m.ClientOSTimeStamp = ts
	return true
}

type ClientInGameReady struct{}

func (m *ClientInGameReady) WriteTo(w *codec.Writer) {
	w.WriteUint8(uint8(ClientMessageType_ClientInGameReady))
}

func (m *ClientInGameReady) TryRead(r *codec.Reader) bool {
	start := r.Offset()
	if !tryReadMessageType(r, ClientMessageType_ClientInGameReady) {
		r.Seek(start)
		return false
	}
	return true
}

// PlayerUpdate is the header of the per-tick input batch. The acknowledged server tick is
// written once for the whole batch.
type PlayerUpdate struct {
	AcknowledgedServerTick simulation.SimulationTickNumber
}

func (m *PlayerUpdate) WriteHeader(w *codec.Writer, itemCount int) {
	w.WriteUint8(uint8(ClientMessageType_PlayerUpdate))
	w.WriteInt64(int64(m.AcknowledgedServerTick))
	message.WriteItemCount(w, itemCount)
}

func (m *PlayerUpdate) TryReadHeader(r *codec.Reader) (int, bool) {
	start := r.Offset()
	if !tryReadMessageType(r, ClientMessageType_PlayerUpdate) {
		r.Seek(start)
		return 0, false
	}
	tick, ok := r.ReadInt64()
	if !ok {
		r.Seek(start)
		return 0, false
	}
	count, ok := r.ReadUint16()
	if !ok {
		r.Seek(start)
		return 0, false
	}

	m.AcknowledgedServerTick = simulation.SimulationTickNumber(tick)
	return int(count), true
}

type PlayerInput struct {
	Sequence      simulation.PlayerInputSequenceNumber
	MoveInput     codec.Vector2
	JumpRequested bool
}

func (m *PlayerInput) WriteNextArrayItem(w *codec.Writer) {
	w.WriteUint32(uint32(m.Sequence))
	w.WriteVector2(m.MoveInput)
	w.WriteBool(m.JumpRequested)
}

func (m *PlayerInput) TryReadNextArrayItem(r *codec.Reader) bool {
	start := r.Offset()
	seq, ok := r.ReadUint32()
	if !ok {
		return false
	}
	move, ok := r.ReadVector2()
	if !ok {
		r.Seek(start)
		return false
	}
	jump, ok := r.ReadBool()
	if !ok {
		r.Seek(start)
		return false
	}

	m.Sequence = simulation.PlayerInputSequenceNumber(seq)
	m.MoveInput = move
	m.JumpRequested = jump
	return true
}

var (
	_ message.SimpleMessage = (*JoinGameRequest)(nil)
	_ message.SimpleMessage = (*ClockSyncPing)(nil)
	_ message.SimpleMessage = (*ClientInGameReady)(nil)
	_ message.ArrayHeader   = (*PlayerUpdate)(nil)
	_ message.ArrayItem     = (*PlayerInput)(nil)
)
