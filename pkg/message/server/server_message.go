package server

import (
	"github.com/google/uuid"
	"github.com/sessamekesh/netsync/pkg/codec"
	"github.com/sessamekesh/netsync/pkg/errors"
	"github.com/sessamekesh/netsync/pkg/message"
	"github.com/sessamekesh/netsync/pkg/simulation"
)

// ServerMessageType is the leading byte of every server->client payload.
type ServerMessageType uint8

const (
	ServerMessageType_Unknown ServerMessageType = iota
	ServerMessageType_JoinGameResponse
	ServerMessageType_ClockSyncPong
	ServerMessageType_SpawnLocalPlayer
	ServerMessageType_SpawnRemotePlayer
	ServerMessageType_DespawnRemotePlayer
	ServerMessageType_SnapshotUpdates
)

func (t ServerMessageType) String() string {
	switch t {
	case ServerMessageType_JoinGameResponse:
		return "JoinGameResponse"
	case ServerMessageType_ClockSyncPong:
		return "ClockSyncPong"
	case ServerMessageType_SpawnLocalPlayer:
		return "SpawnLocalPlayer"
	case ServerMessageType_SpawnRemotePlayer:
		return "SpawnRemotePlayer"
	case ServerMessageType_DespawnRemotePlayer:
		return "DespawnRemotePlayer"
	case ServerMessageType_SnapshotUpdates:
		return "SnapshotUpdates"
	}
	return "Unknown"
}

func serverHeaderIdToMessageType(headerId uint8) (ServerMessageType, error) {
	switch headerId {
	case 0x1:
		return ServerMessageType_JoinGameResponse, nil
	case 0x2:
		return ServerMessageType_ClockSyncPong, nil
	case 0x3:
		return ServerMessageType_SpawnLocalPlayer, nil
	case 0x4:
		return ServerMessageType_SpawnRemotePlayer, nil
	case 0x5:
		return ServerMessageType_DespawnRemotePlayer, nil
	case 0x6:
		return ServerMessageType_SnapshotUpdates, nil
	}

	return ServerMessageType_Unknown, &errors.InvalidEnumValue{
		EnumName: "ServerMessageType",
		IntValue: headerId,
	}
}

// PeekMessageType reads the discriminant without consuming it.
func PeekMessageType(payload []byte) (ServerMessageType, error) {
	if len(payload) < 1 {
		return ServerMessageType_Unknown, &errors.Underflow{
			MessageName: "ServerMessage",
			MsgSize:     len(payload),
			MinimumSize: 1,
		}
	}

	return serverHeaderIdToMessageType(payload[0])
}

func tryReadMessageType(r *codec.Reader, expected ServerMessageType) bool {
	headerId, ok := r.ReadUint8()
	if !ok {
		return false
	}
	msgType, err := serverHeaderIdToMessageType(headerId)
	return err == nil && msgType == expected
}

// JoinGameResponse carries the scene to load when the join is accepted, or a human readable
// reason when it is not. Only the field matching CanJoinGame is on the wire.
type JoinGameResponse struct {
	CanJoinGame   bool
	InGameSceneId uuid.UUID
	ErrorMessage  string
}

func (m *JoinGameResponse) WriteTo(w *codec.Writer) {
	w.WriteUint8(uint8(ServerMessageType_JoinGameResponse))
	w.WriteBool(m.CanJoinGame)
	if m.CanJoinGame {
		w.WriteGuid(m.InGameSceneId)
	} else {
		w.WriteString(m.ErrorMessage)
	}
}

func (m *JoinGameResponse) TryRead(r *codec.Reader) bool {
	start := r.Offset()
	fail := func() bool {
		r.Seek(start)
		return false
	}

	if !tryReadMessageType(r, ServerMessageType_JoinGameResponse) {
		return fail()
	}
	canJoin, ok := r.ReadBool()
	if !ok {
		return fail()
	}

	var sceneId uuid.UUID
	var errorMessage string
	if canJoin {
		if sceneId, ok = r.ReadGuid(); !ok {
			return fail()
		}
	} else {
		if errorMessage, ok = r.ReadString(); !ok {
			return fail()
		}
	}

	m.CanJoinGame = canJoin
	m.InGameSceneId = sceneId
	m.ErrorMessage = errorMessage
	return true
}

type ClockSyncPong struct {
	ClientOSTimeStamp int64
	// Nanoseconds of simulated time on the server when the pong was written.
	ServerWorldTime int64
}

func (m *ClockSyncPong) WriteTo(w *codec.Writer) {
	w.WriteUint8(uint8(ServerMessageType_ClockSyncPong))
	w.WriteInt64(m.ClientOSTimeStamp)
	w.WriteInt64(m.ServerWorldTime)
}

func (m *ClockSyncPong) TryRead(r *codec.Reader) bool {
	start := r.Offset()
	if !tryReadMessageType(r, ServerMessageType_ClockSyncPong) {
		r.Seek(start)
		return false
	}
	clientTs, ok := r.ReadInt64()
	if !ok {
		r.Seek(start)
		return false
	}
	worldTime, ok := r.ReadInt64()
	if !ok {
		r.Seek(start)
		return false
	}

	m.ClientOSTimeStamp = clientTs
	m.ServerWorldTime = worldTime
	return true
}

// PlayerSpawn is the body shared by the local and remote spawn messages.
type PlayerSpawn struct {
	PlayerId   uuid.UUID
	Tick       simulation.SimulationTickNumber
	PlayerName string
	Position   codec.Vector3
	Rotation   codec.Quaternion
}

func (m *PlayerSpawn) writeBody(w *codec.Writer) {
	w.WriteGuid(m.PlayerId)
	w.WriteInt64(int64(m.Tick))
	w.WriteString(m.PlayerName)
	w.WriteVector3(m.Position)
	w.WriteQuaternion(m.Rotation)
}

func tryReadPlayerSpawn(r *codec.Reader) (PlayerSpawn, bool) {
	var out PlayerSpawn
	var ok bool
	var tick int64

	if out.PlayerId, ok = r.ReadGuid(); !ok {
		return PlayerSpawn{}, false
	}
	if tick, ok = r.ReadInt64(); !ok {
		return PlayerSpawn{}, false
	}
	out.Tick = simulation.SimulationTickNumber(tick)
	if out.PlayerName, ok = r.ReadString(); !ok {
		return PlayerSpawn{}, false
	}
	if out.Position, ok = r.ReadVector3(); !ok {
		return PlayerSpawn{}, false
	}
	if out.Rotation, ok = r.ReadQuaternion(); !ok {
		return PlayerSpawn{}, false
	}

	return out, true
}

type SpawnLocalPlayer struct {
	PlayerSpawn
}

func (m *SpawnLocalPlayer) WriteTo(w *codec.Writer) {
	w.WriteUint8(uint8(ServerMessageType_SpawnLocalPlayer))
	m.writeBody(w)
}

func (m *SpawnLocalPlayer) TryRead(r *codec.Reader) bool {
	start := r.Offset()
	if !tryReadMessageType(r, ServerMessageType_SpawnLocalPlayer) {
		r.Seek(start)
		return false
	}
	body, ok := tryReadPlayerSpawn(r)
	if !ok {
		r.Seek(start)
		return false
	}

	m.PlayerSpawn = body
	return true
}

type SpawnRemotePlayer struct {
	PlayerSpawn
}

func (m *SpawnRemotePlayer) WriteTo(w *codec.Writer) {
	w.WriteUint8(uint8(ServerMessageType_SpawnRemotePlayer))
	m.writeBody(w)
}

func (m *SpawnRemotePlayer) TryRead(r *codec.Reader) bool {
	start := r.Offset()
	if !tryReadMessageType(r, ServerMessageType_SpawnRemotePlayer) {
		r.Seek(start)
		return false
	}
	body, ok := tryReadPlayerSpawn(r)
	if !ok {
		r.Seek(start)
		return false
	}

	m.PlayerSpawn = body
	return true
}

type DespawnRemotePlayer struct {
	PlayerId uuid.UUID
	Tick     simulation.SimulationTickNumber
}

func (m *DespawnRemotePlayer) WriteTo(w *codec.Writer) {
	w.WriteUint8(uint8(ServerMessageType_DespawnRemotePlayer))
	w.WriteGuid(m.PlayerId)
	w.WriteInt64(int64(m.Tick))
}

func (m *DespawnRemotePlayer) TryRead(r *codec.Reader) bool {
	start := r.Offset()
	if !tryReadMessageType(r, ServerMessageType_DespawnRemotePlayer) {
		r.Seek(start)
		return false
	}
	playerId, ok := r.ReadGuid()
	if !ok {
		r.Seek(start)
		return false
	}
	tick, ok := r.ReadInt64()
	if !ok {
		r.Seek(start)
		return false
	}

	m.PlayerId = playerId
	m.Tick = simulation.SimulationTickNumber(tick)
	return true
}

// SnapshotUpdates is the header of the per-tick snapshot batch; the server tick applies to
// every item.
type SnapshotUpdates struct {
	ServerTick simulation.SimulationTickNumber
}

func (m *SnapshotUpdates) WriteHeader(w *codec.Writer, itemCount int) {
	w.WriteUint8(uint8(ServerMessageType_SnapshotUpdates))
	w.WriteInt64(int64(m.ServerTick))
	message.WriteItemCount(w, itemCount)
}

func (m *SnapshotUpdates) TryReadHeader(r *codec.Reader) (int, bool) {
	start := r.Offset()
	if !tryReadMessageType(r, ServerMessageType_SnapshotUpdates) {
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

	m.ServerTick = simulation.SimulationTickNumber(tick)
	return int(count), true
}

// PlayerSnapshot is the authoritative state of one player at the batch's server tick.
// AcknowledgedInputSequence is the newest input the server has received from that player,
// LastAppliedInputSequence the newest one already simulated.
type PlayerSnapshot struct {
	PlayerId                  uuid.UUID
	AcknowledgedInputSequence simulation.PlayerInputSequenceNumber
	LastAppliedInputSequence  simulation.PlayerInputSequenceNumber
	Position                  codec.Vector3
	Rotation                  codec.Quaternion
}

func (m *PlayerSnapshot) WriteNextArrayItem(w *codec.Writer) {
	w.WriteGuid(m.PlayerId)
	w.WriteUint32(uint32(m.AcknowledgedInputSequence))
	w.WriteUint32(uint32(m.LastAppliedInputSequence))
	w.WriteVector3(m.Position)
	w.WriteQuaternion(m.Rotation)
}

func (m *PlayerSnapshot) TryReadNextArrayItem(r *codec.Reader) bool {
	start := r.Offset()
	fail := func() bool {
		r.Seek(start)
		return false
	}

	playerId, ok := r.ReadGuid()
	if !ok {
		return fail()
	}
	ackSeq, ok := r.ReadUint32()
	if !ok {
		return fail()
	}
	appliedSeq, ok := r.ReadUint32()
	if !ok {
		return fail()
	}
	position, ok := r.ReadVector3()
	if !ok {
		return fail()
	}
	rotation, ok := r.ReadQuaternion()
	if !ok {
		return fail()
	}

	m.PlayerId = playerId
	m.AcknowledgedInputSequence = simulation.PlayerInputSequenceNumber(ackSeq)
	m.LastAppliedInputSequence = simulation.PlayerInputSequenceNumber(appliedSeq)
	m.Position = position
	m.Rotation = rotation
	return true
}

var (
	_ message.SimpleMessage = (*JoinGameResponse)(nil)
	_ message.SimpleMessage = (*ClockSyncPong)(nil)
	_ message.SimpleMessage = (*SpawnLocalPlayer)(nil)
	_ message.SimpleMessage = (*SpawnRemotePlayer)(nil)
	_ message.SimpleMessage = (*DespawnRemotePlayer)(nil)
	_ message.ArrayHeader   = (*SnapshotUpdates)(nil)
	_ message.ArrayItem     = (*PlayerSnapshot)(nil)
)
