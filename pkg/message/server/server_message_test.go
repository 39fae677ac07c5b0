package server

import (
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/sessamekesh/netsync/pkg/codec"
	"github.com/sessamekesh/netsync/pkg/message"
	"github.com/sessamekesh/netsync/pkg/simulation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(m message.SimpleMessage) []byte {
	w := codec.CreateWriter(64)
	m.WriteTo(w)
	return w.Bytes()
}

func TestSimpleMessagesRoundTrip(t *testing.T) {
	spawn := PlayerSpawn{
		PlayerId:   uuid.New(),
		Tick:       math.MaxInt64,
		PlayerName: "Alice",
		Position:   codec.Vector3{X: 1, Y: 2, Z: 3},
		Rotation:   codec.QuaternionIdentity,
	}

	cases := []struct {
		name    string
		msgType ServerMessageType
		in      message.SimpleMessage
		out     message.SimpleMessage
	}{
		{"join accepted", ServerMessageType_JoinGameResponse, &JoinGameResponse{CanJoinGame: true, InGameSceneId: uuid.New()}, &JoinGameResponse{}},
		{"join rejected", ServerMessageType_JoinGameResponse, &JoinGameResponse{CanJoinGame: false, ErrorMessage: "Server is full"}, &JoinGameResponse{}},
		{"clock sync", ServerMessageType_ClockSyncPong, &ClockSyncPong{ClientOSTimeStamp: math.MinInt64, ServerWorldTime: 123456789}, &ClockSyncPong{}},
		{"spawn local", ServerMessageType_SpawnLocalPlayer, &SpawnLocalPlayer{PlayerSpawn: spawn}, &SpawnLocalPlayer{}},
		{"spawn remote", ServerMessageType_SpawnRemotePlayer, &SpawnRemotePlayer{PlayerSpawn: spawn}, &SpawnRemotePlayer{}},
		{"despawn remote", ServerMessageType_DespawnRemotePlayer, &DespawnRemotePlayer{PlayerId: uuid.New(), Tick: -4}, &DespawnRemotePlayer{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := encode(tc.in)

			msgType, err := PeekMessageType(payload)
			require.NoError(t, err)
			assert.Equal(t, tc.msgType, msgType)

			r := codec.CreateReader(payload)
			require.True(t, tc.out.TryRead(r))
			assert.Equal(t, tc.in, tc.out)
			assert.Equal(t, 0, r.Remaining())
		})
	}
}

func TestRejectedJoinOmitsSceneId(t *testing.T) {
	payload := encode(&JoinGameResponse{CanJoinGame: false, ErrorMessage: "no", InGameSceneId: uuid.New()})
	assert.Len(t, payload, 1+1+2+2)

	var out JoinGameResponse
	require.True(t, out.TryRead(codec.CreateReader(payload)))
	assert.Equal(t, uuid.Nil, out.InGameSceneId)
}

func TestTruncatedMessageLeavesStructUntouched(t *testing.T) {
	payload := encode(&SpawnRemotePlayer{PlayerSpawn: PlayerSpawn{PlayerId: uuid.New(), Tick: 9, PlayerName: "Bob"}})

	original := SpawnRemotePlayer{PlayerSpawn: PlayerSpawn{PlayerName: "untouched", Tick: 77}}
	for cut := 0; cut < len(payload); cut++ {
		out := original
		r := codec.CreateReader(payload[:cut])
		assert.False(t, out.TryRead(r), "cut=%d", cut)
		assert.Equal(t, original, out, "cut=%d", cut)
		assert.Equal(t, 0, r.Offset(), "cut=%d", cut)
	}
}

func TestWrongDiscriminantFails(t *testing.T) {
	payload := encode(&DespawnRemotePlayer{PlayerId: uuid.New()})

	var spawn SpawnRemotePlayer
	assert.False(t, spawn.TryRead(codec.CreateReader(payload)))

	_, err := PeekMessageType([]byte{0xEE})
	assert.Error(t, err)
	_, err = PeekMessageType([]byte{0x00})
	assert.Error(t, err)
	_, err = PeekMessageType(nil)
	assert.Error(t, err)
}

func TestSnapshotUpdatesArraySymmetry(t *testing.T) {
	header := SnapshotUpdates{ServerTick: 4410}
	items := []PlayerSnapshot{
		{PlayerId: uuid.New(), AcknowledgedInputSequence: 12, LastAppliedInputSequence: 10, Position: codec.Vector3{X: 1}, Rotation: codec.QuaternionIdentity},
		{PlayerId: uuid.New(), AcknowledgedInputSequence: math.MaxUint32, LastAppliedInputSequence: math.MaxUint32 - 3},
		{PlayerId: uuid.New()},
	}

	w := codec.CreateWriter(0)
	message.WriteArray(w, &header, items)

	r := codec.CreateReader(w.Bytes())
	var gotHeader SnapshotUpdates
	count, ok := gotHeader.TryReadHeader(r)
	require.True(t, ok)
	require.Equal(t, len(items), count)
	assert.Equal(t, header, gotHeader)

	for i := 0; i < count; i++ {
		var item PlayerSnapshot
		require.True(t, item.TryReadNextArrayItem(r))
		assert.Equal(t, items[i], item)
	}
	assert.Equal(t, 0, r.Remaining())

	var extra PlayerSnapshot
	assert.False(t, extra.TryReadNextArrayItem(r))
}

func TestEmptySnapshotBatch(t *testing.T) {
	w := codec.CreateWriter(0)
	message.WriteArray(w, &SnapshotUpdates{ServerTick: simulation.SimulationTickNumber(1)}, []PlayerSnapshot{})

	var header SnapshotUpdates
	items, ok := message.ReadArray(codec.CreateReader(w.Bytes()), &header, []PlayerSnapshot(nil))
	require.True(t, ok)
	assert.Empty(t, items)
	assert.Equal(t, simulation.SimulationTickNumber(1), header.ServerTick)
}
