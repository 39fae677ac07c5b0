package server

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sessamekesh/netsync/pkg/codec"
	"github.com/sessamekesh/netsync/pkg/errors"
	"github.com/sessamekesh/netsync/pkg/handlers"
	"github.com/sessamekesh/netsync/pkg/message"
	clientmsg "github.com/sessamekesh/netsync/pkg/message/client"
	servermsg "github.com/sessamekesh/netsync/pkg/message/server"
	"github.com/sessamekesh/netsync/pkg/simulation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"
)

var testSceneId = uuid.MustParse("6c2b9f8e-0d4e-4a51-9a55-8b1f6f0f3c11")

type testHarness struct {
	t       *testing.T
	server  *server
	handler *handlers.ConnectionHandler
}

func newTestHarness(t *testing.T, config ServerConfig) *testHarness {
	if config.TickRate == 0 {
		config.TickRate = 20
	}
	config.SceneId = testSceneId
	config.Logger = zaptest.NewLogger(t)

	s := CreateServer(config)
	h, err := s.CreateConnectionHandler("test")
	require.NoError(t, err)

	return &testHarness{t: t, server: s, handler: h}
}

func (h *testHarness) connect() uint32 {
	connectionId, err := h.handler.GetNextConnectionId()
	require.NoError(h.t, err)
	h.handler.ConnectionEvents <- handlers.ConnectionEvent{
		ConnectionId: connectionId,
		EventType:    handlers.ConnectionEventType_Opened,
	}
	return connectionId
}

func (h *testHarness) disconnect(connectionId uint32) {
	h.handler.ConnectionEvents <- handlers.ConnectionEvent{
		ConnectionId: connectionId,
		EventType:    handlers.ConnectionEventType_Closed,
		Reason:       "client left",
	}
}

func (h *testHarness) send(connectionId uint32, msg message.SimpleMessage) {
	w := codec.CreateWriter(64)
	msg.WriteTo(w)
	h.sendRaw(connectionId, w.Bytes())
}

func (h *testHarness) sendRaw(connectionId uint32, data []byte) {
	h.handler.IncomingMessageChannel <- handlers.InboundMessage{ConnectionId: connectionId, Data: data}
}

func (h *testHarness) sendInputs(connectionId uint32, ackTick simulation.SimulationTickNumber, inputs ...clientmsg.PlayerInput) {
	w := codec.CreateWriter(64)
	message.WriteArray(w, &clientmsg.PlayerUpdate{AcknowledgedServerTick: ackTick}, inputs)
	h.sendRaw(connectionId, w.Bytes())
}

// drain collects everything the server queued since the last call, grouped by connection.
func (h *testHarness) drain() map[uint32][]handlers.OutboundMessage {
	out := map[uint32][]handlers.OutboundMessage{}
	for {
		select {
		case msg := <-h.handler.OutgoingMessageChannel:
			out[msg.ConnectionId] = append(out[msg.ConnectionId], msg)
		default:
			return out
		}
	}
}

func (h *testHarness) types(msgs []handlers.OutboundMessage) []servermsg.ServerMessageType {
	out := []servermsg.ServerMessageType{}
	for _, msg := range msgs {
		msgType, err := servermsg.PeekMessageType(msg.Data)
		require.NoError(h.t, err)
		out = append(out, msgType)
	}
	return out
}

func (h *testHarness) withoutSnapshots(msgs []handlers.OutboundMessage) []handlers.OutboundMessage {
	out := []handlers.OutboundMessage{}
	for _, msg := range msgs {
		msgType, _ := servermsg.PeekMessageType(msg.Data)
		if msgType != servermsg.ServerMessageType_SnapshotUpdates {
			out = append(out, msg)
		}
	}
	return out
}

func (h *testHarness) joinResponse(msgs []handlers.OutboundMessage) servermsg.JoinGameResponse {
	require.Len(h.t, msgs, 1)
	var resp servermsg.JoinGameResponse
	require.True(h.t, resp.TryRead(codec.CreateReader(msgs[0].Data)))
	return resp
}

func (h *testHarness) lastSnapshot(msgs []handlers.OutboundMessage) (servermsg.SnapshotUpdates, []servermsg.PlayerSnapshot) {
	for i := len(msgs) - 1; i >= 0; i-- {
		var header servermsg.SnapshotUpdates
		items, ok := message.ReadArray(codec.CreateReader(msgs[i].Data), &header, []servermsg.PlayerSnapshot(nil))
		if ok {
			assert.Equal(h.t, handlers.DeliveryChannel_Unreliable, msgs[i].Channel)
			return header, items
		}
	}
	h.t.Fatal("no snapshot sent")
	return servermsg.SnapshotUpdates{}, nil
}

// enterGame walks a connection through join and ready, leaving the outgoing queue drained.
func (h *testHarness) enterGame(name string) uint32 {
	connectionId := h.connect()
	h.send(connectionId, &clientmsg.JoinGameRequest{PlayerName: name})
	h.server.Tick()
	resp := h.joinResponse(h.drain()[connectionId])
	require.True(h.t, resp.CanJoinGame, resp.ErrorMessage)

	h.send(connectionId, &clientmsg.ClientInGameReady{})
	h.server.Tick()
	return connectionId
}

func TestConnectionHandlerNamesAreUnique(t *testing.T) {
	h := newTestHarness(t, ServerConfig{})

	_, err := h.server.CreateConnectionHandler("test")
	var collision *errors.NameCollision
	assert.ErrorAs(t, err, &collision)
}

func TestJoinAccepted(t *testing.T) {
	h := newTestHarness(t, ServerConfig{})
	connectionId := h.connect()

	h.send(connectionId, &clientmsg.JoinGameRequest{PlayerName: "Alice"})
	h.server.Tick()

	msgs := h.drain()[connectionId]
	resp := h.joinResponse(msgs)
	assert.True(t, resp.CanJoinGame)
	assert.Equal(t, testSceneId, resp.InGameSceneId)
	assert.Equal(t, handlers.DeliveryChannel_ReliableOrdered, msgs[0].Channel)
}

func TestJoinRejections(t *testing.T) {
	h := newTestHarness(t, ServerConfig{MaxPlayers: 2})
	h.enterGame("Alice")

	cases := []struct {
		name       string
		playerName string
		reason     string
	}{
		{name: "empty", playerName: "", reason: "must not be empty"},
		{name: "too long", playerName: strings.Repeat("x", 33), reason: "at most 32 bytes"},
		{name: "taken", playerName: "Alice", reason: "already taken"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			connectionId := h.connect()
			h.send(connectionId, &clientmsg.JoinGameRequest{PlayerName: tc.playerName})
			h.server.Tick()

			resp := h.joinResponse(h.drain()[connectionId])
			assert.False(t, resp.CanJoinGame)
			assert.Contains(t, resp.ErrorMessage, tc.reason)
		})
	}

	boundary := h.connect()
	h.send(boundary, &clientmsg.JoinGameRequest{PlayerName: strings.Repeat("y", 32)})
	h.server.Tick()
	assert.True(t, h.joinResponse(h.drain()[boundary]).CanJoinGame, "32 byte names are allowed")

	full := h.connect()
	h.send(full, &clientmsg.JoinGameRequest{PlayerName: "Carol"})
	h.server.Tick()
	resp := h.joinResponse(h.drain()[full])
	assert.False(t, resp.CanJoinGame)
	assert.Equal(t, "Server is full", resp.ErrorMessage)
}

func TestConnectionsBeyondCapacityAreRefused(t *testing.T) {
	h := newTestHarness(t, ServerConfig{MaxPlayers: 1})

	// Four registration slots per player slot.
	first := h.connect()
	for i := 0; i < 3; i++ {
		h.connect()
	}
	h.server.Tick()
	h.drain()

	_, err := h.handler.GetNextConnectionId()
	var rejected *handlers.ConnectionRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "Server is full", rejected.Reason)

	var resp servermsg.JoinGameResponse
	require.True(t, resp.TryRead(codec.CreateReader(rejected.Payload)))
	assert.False(t, resp.CanJoinGame)
	assert.Equal(t, "Server is full", resp.ErrorMessage)

	h.disconnect(first)
	h.server.Tick()

	connectionId, err := h.handler.GetNextConnectionId()
	require.NoError(t, err, "a freed slot can be reused")
	assert.NotEqual(t, first, connectionId)
}

func TestRejectedConnectionCanRetry(t *testing.T) {
	h := newTestHarness(t, ServerConfig{})
	connectionId := h.connect()

	h.send(connectionId, &clientmsg.JoinGameRequest{PlayerName: ""})
	h.server.Tick()
	assert.False(t, h.joinResponse(h.drain()[connectionId]).CanJoinGame)

	h.send(connectionId, &clientmsg.JoinGameRequest{PlayerName: "Alice"})
	h.server.Tick()
	assert.True(t, h.joinResponse(h.drain()[connectionId]).CanJoinGame)
}

func TestClockSyncEchoesTimestamp(t *testing.T) {
	h := newTestHarness(t, ServerConfig{})
	connectionId := h.connect()

	h.send(connectionId, &clientmsg.ClockSyncPing{ClientOSTimeStamp: 1})
	h.server.Tick()
	assert.Empty(t, h.drain()[connectionId], "clock sync requires an accepted join")

	h.send(connectionId, &clientmsg.JoinGameRequest{PlayerName: "Alice"})
	h.server.Tick()
	h.drain()

	h.send(connectionId, &clientmsg.ClockSyncPing{ClientOSTimeStamp: 123456789})
	h.server.Tick()

	msgs := h.drain()[connectionId]
	require.Len(t, msgs, 1)
	var pong servermsg.ClockSyncPong
	require.True(t, pong.TryRead(codec.CreateReader(msgs[0].Data)))
	assert.Equal(t, int64(123456789), pong.ClientOSTimeStamp)
	assert.Equal(t, (3 * h.server.TickDuration()).Nanoseconds(), pong.ServerWorldTime)
}

func TestReadySpawnsPlayersForEachOther(t *testing.T) {
	h := newTestHarness(t, ServerConfig{})

	alice := h.enterGame("Alice")
	aliceMsgs := h.withoutSnapshots(h.drain()[alice])
	assert.Equal(t, []servermsg.ServerMessageType{servermsg.ServerMessageType_SpawnLocalPlayer}, h.types(aliceMsgs))

	var aliceSpawn servermsg.SpawnLocalPlayer
	require.True(t, aliceSpawn.TryRead(codec.CreateReader(aliceMsgs[0].Data)))
	assert.Equal(t, "Alice", aliceSpawn.PlayerName)
	assert.Equal(t, codec.QuaternionIdentity, aliceSpawn.Rotation)

	bob := h.enterGame("Bob")
	out := h.drain()

	bobMsgs := h.withoutSnapshots(out[bob])
	assert.Equal(t, []servermsg.ServerMessageType{
		servermsg.ServerMessageType_SpawnLocalPlayer,
		servermsg.ServerMessageType_SpawnRemotePlayer,
	}, h.types(bobMsgs))
	var aliceRemote servermsg.SpawnRemotePlayer
	require.True(t, aliceRemote.TryRead(codec.CreateReader(bobMsgs[1].Data)))
	assert.Equal(t, aliceSpawn.PlayerId, aliceRemote.PlayerId)

	aliceMsgs = h.withoutSnapshots(out[alice])
	assert.Equal(t, []servermsg.ServerMessageType{servermsg.ServerMessageType_SpawnRemotePlayer}, h.types(aliceMsgs))
	var bobRemote servermsg.SpawnRemotePlayer
	require.True(t, bobRemote.TryRead(codec.CreateReader(aliceMsgs[0].Data)))
	assert.Equal(t, "Bob", bobRemote.PlayerName)

	assert.Equal(t, 2, h.server.InGamePlayerCount())

	_, players := h.lastSnapshot(out[alice])
	assert.Len(t, players, 2)
}

func TestReadyBeforeJoinIsIgnored(t *testing.T) {
	h := newTestHarness(t, ServerConfig{})
	connectionId := h.connect()

	h.send(connectionId, &clientmsg.ClientInGameReady{})
	h.server.Tick()

	assert.Empty(t, h.drain()[connectionId])
	assert.Zero(t, h.server.InGamePlayerCount())
}

func TestInputsAppliedOnePerTick(t *testing.T) {
	h := newTestHarness(t, ServerConfig{})
	alice := h.enterGame("Alice")
	h.drain()

	forward := codec.Vector2{Y: 1}
	h.sendInputs(alice, h.server.CurrentTick(),
		clientmsg.PlayerInput{Sequence: 1, MoveInput: forward},
		clientmsg.PlayerInput{Sequence: 2, MoveInput: forward},
		clientmsg.PlayerInput{Sequence: 3, MoveInput: forward})
	h.server.Tick()

	header, players := h.lastSnapshot(h.drain()[alice])
	assert.Equal(t, h.server.CurrentTick(), header.ServerTick)
	require.Len(t, players, 1)
	assert.Equal(t, simulation.PlayerInputSequenceNumber(3), players[0].AcknowledgedInputSequence)
	assert.Equal(t, simulation.PlayerInputSequenceNumber(1), players[0].LastAppliedInputSequence)
	assert.InDelta(t, 0.25, players[0].Position.Z, 1e-5)

	// Resend of everything unacknowledged plus one new input; duplicates must not be queued again.
	h.sendInputs(alice, header.ServerTick,
		clientmsg.PlayerInput{Sequence: 2, MoveInput: forward},
		clientmsg.PlayerInput{Sequence: 3, MoveInput: forward},
		clientmsg.PlayerInput{Sequence: 4, MoveInput: forward})
	for i := 0; i < 5; i++ {
		h.server.Tick()
	}

	_, players = h.lastSnapshot(h.drain()[alice])
	assert.Equal(t, simulation.PlayerInputSequenceNumber(4), players[0].AcknowledgedInputSequence)
	assert.Equal(t, simulation.PlayerInputSequenceNumber(4), players[0].LastAppliedInputSequence)
	assert.InDelta(t, 1.0, players[0].Position.Z, 1e-5)

	snap, found := h.server.SnapshotAt(h.server.CurrentTick())
	require.True(t, found)
	assert.Equal(t, players, snap.Players)
}

func TestInputSequenceWraparound(t *testing.T) {
	h := newTestHarness(t, ServerConfig{})
	alice := h.enterGame("Alice")
	h.drain()

	h.sendInputs(alice, h.server.CurrentTick(),
		clientmsg.PlayerInput{Sequence: 0xFFFFFFFF},
		clientmsg.PlayerInput{Sequence: 0})
	h.server.Tick()
	h.sendInputs(alice, h.server.CurrentTick(),
		clientmsg.PlayerInput{Sequence: 0xFFFFFFFF},
		clientmsg.PlayerInput{Sequence: 0},
		clientmsg.PlayerInput{Sequence: 1})
	h.server.Tick()
	h.server.Tick()

	_, players := h.lastSnapshot(h.drain()[alice])
	assert.Equal(t, simulation.PlayerInputSequenceNumber(1), players[0].AcknowledgedInputSequence)
	assert.Equal(t, simulation.PlayerInputSequenceNumber(1), players[0].LastAppliedInputSequence)
}

func TestDisconnectDespawnsForOthers(t *testing.T) {
	h := newTestHarness(t, ServerConfig{})
	alice := h.enterGame("Alice")
	bob := h.enterGame("Bob")
	h.drain()

	bobRecord, err := h.server.playerStore.Get(bob)
	require.NoError(t, err)
	bobId := bobRecord.PlayerId

	h.disconnect(bob)
	h.server.Tick()

	aliceMsgs := h.withoutSnapshots(h.drain()[alice])
	require.Len(t, aliceMsgs, 1)
	var despawn servermsg.DespawnRemotePlayer
	require.True(t, despawn.TryRead(codec.CreateReader(aliceMsgs[0].Data)))
	assert.Equal(t, bobId, despawn.PlayerId)
	assert.Equal(t, 1, h.server.InGamePlayerCount())

	// Name is free again.
	carol := h.connect()
	h.send(carol, &clientmsg.JoinGameRequest{PlayerName: "Bob"})
	h.server.Tick()
	assert.True(t, h.joinResponse(h.drain()[carol]).CanJoinGame)
}

func TestHandshakeMessagesAreRateLimited(t *testing.T) {
	h := newTestHarness(t, ServerConfig{HandshakeRateLimit: rate.Limit(0.0001), HandshakeBurst: 2})
	connectionId := h.connect()

	h.send(connectionId, &clientmsg.JoinGameRequest{PlayerName: ""})
	h.send(connectionId, &clientmsg.JoinGameRequest{PlayerName: ""})
	h.send(connectionId, &clientmsg.JoinGameRequest{PlayerName: "Alice"})
	h.server.Tick()

	msgs := h.drain()[connectionId]
	require.Len(t, msgs, 2)
	for _, msg := range msgs {
		var resp servermsg.JoinGameResponse
		require.True(t, resp.TryRead(codec.CreateReader(msg.Data)))
		assert.False(t, resp.CanJoinGame)
	}
}

func TestMalformedAndUnknownMessagesAreDropped(t *testing.T) {
	h := newTestHarness(t, ServerConfig{})
	connectionId := h.connect()

	h.sendRaw(connectionId, []byte{})
	h.sendRaw(connectionId, []byte{0xEE})
	h.sendRaw(connectionId, []byte{byte(clientmsg.ClientMessageType_JoinGameRequest), 0x05})
	h.sendRaw(9999, []byte{byte(clientmsg.ClientMessageType_ClientInGameReady)})
	h.server.Tick()

	assert.Empty(t, h.drain())

	h.send(connectionId, &clientmsg.JoinGameRequest{PlayerName: "Alice"})
	h.server.Tick()
	assert.True(t, h.joinResponse(h.drain()[connectionId]).CanJoinGame)
}

func TestStaleAcknowledgementTriggersResync(t *testing.T) {
	h := newTestHarness(t, ServerConfig{SnapshotHistoryLength: 4})
	alice := h.enterGame("Alice")
	bob := h.enterGame("Bob")
	h.drain()

	for i := 0; i < 10; i++ {
		h.server.Tick()
	}
	h.drain()

	h.sendInputs(alice, 1)
	h.sendInputs(bob, h.server.CurrentTick())
	h.server.Tick()

	out := h.drain()
	assert.Equal(t, []servermsg.ServerMessageType{
		servermsg.ServerMessageType_SpawnLocalPlayer,
		servermsg.ServerMessageType_SpawnRemotePlayer,
	}, h.types(h.withoutSnapshots(out[alice])))
	assert.Empty(t, h.withoutSnapshots(out[bob]))

	// A second stale update right away does not resend again.
	h.sendInputs(alice, 1)
	h.server.Tick()
	assert.Empty(t, h.withoutSnapshots(h.drain()[alice]))
}

func TestIdleConnectionsAreClosed(t *testing.T) {
	h := newTestHarness(t, ServerConfig{IdleTimeout: 20 * time.Millisecond})
	alice := h.enterGame("Alice")
	bob := h.enterGame("Bob")
	h.drain()

	time.Sleep(50 * time.Millisecond)
	h.server.Tick()

	closed := []uint32{}
	for len(h.handler.OutgoingCloseRequests) > 0 {
		cmd := <-h.handler.OutgoingCloseRequests
		assert.Equal(t, "Connection timed out", cmd.Reason)
		closed = append(closed, cmd.ConnectionId)
	}
	assert.ElementsMatch(t, []uint32{alice, bob}, closed)
	assert.Zero(t, h.server.InGamePlayerCount())
}
