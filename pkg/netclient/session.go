package netclient

import (
	"context"
	"iter"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/sessamekesh/netsync/pkg/codec"
	"github.com/sessamekesh/netsync/pkg/connection"
	"github.com/sessamekesh/netsync/pkg/errors"
	"github.com/sessamekesh/netsync/pkg/handlers"
	"github.com/sessamekesh/netsync/pkg/message"
	servermsg "github.com/sessamekesh/netsync/pkg/message/server"
	"github.com/sessamekesh/netsync/pkg/simulation"
	"go.uber.org/zap"
)

// InputSample is what the local player asked for during one tick.
type InputSample struct {
	Move codec.Vector2
	Jump bool
}

type LocalPlayer struct {
	PlayerId   uuid.UUID
	PlayerName string
	// Predicted state, corrected whenever a snapshot for this player arrives.
	Kinematics simulation.PlayerKinematics
}

type RemotePlayer struct {
	PlayerId    uuid.UUID
	PlayerName  string
	Kinematics  simulation.PlayerKinematics
	UpdatedTick simulation.SimulationTickNumber
}

type SessionParams struct {
	Transport   connection.Transport
	SceneLoader connection.SceneLoader
	TimeSource  simulation.TimeSource

	TickRate           int
	Movement           simulation.MovementParams
	InputHistoryLength int
	LocalSceneId       uuid.UUID
	StageTimeout       time.Duration

	OnStateChanged func(state connection.ConnectionState)
	OnError        func(err *errors.HandshakeError)

	Logger *zap.Logger
}

// Session is the client side of a game: it owns the connection machine, predicts the local
// player from captured input and applies server snapshots. Not safe for concurrent use.
type Session struct {
	log    *zap.Logger
	params SessionParams

	clock   *simulation.Clock
	machine *connection.Machine
	history *InputHistory

	localPlayer    *LocalPlayer
	remotePlayers  map[uuid.UUID]*RemotePlayer
	lastServerTick simulation.SimulationTickNumber
}

func CreateSession(params SessionParams) (*Session, error) {
	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	if params.TimeSource == nil {
		params.TimeSource = simulation.CreateMonotonicTimeSource()
	}
	if params.TickRate <= 0 {
		params.TickRate = simulation.DefaultTickRate
	}
	if params.Movement == (simulation.MovementParams{}) {
		params.Movement = simulation.DefaultMovementParams
	}
	if params.InputHistoryLength <= 0 {
		params.InputHistoryLength = DefaultInputHistoryLength
	}

	s := &Session{
		log:           logger.With(zap.String("component", "ClientSession")),
		params:        params,
		clock:         simulation.CreateClock(params.TickRate),
		history:       CreateInputHistory(params.InputHistoryLength),
		remotePlayers: make(map[uuid.UUID]*RemotePlayer),
	}

	machine, err := connection.CreateMachine(connection.MachineParams{
		Transport:    params.Transport,
		SceneLoader:  params.SceneLoader,
		TimeSource:   params.TimeSource,
		Clock:        s.clock,
		LocalSceneId: params.LocalSceneId,
		StageTimeout: params.StageTimeout,
		Callbacks: connection.Callbacks{
			StateChanged:  s.onStateChanged,
			Error:         s.onError,
			SceneLoaded:   s.onSceneLoaded,
			ServerMessage: s.onServerMessage,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	s.machine = machine

	return s, nil
}

// Connect starts the handshake. An empty address starts an offline session.
func (s *Session) Connect(ctx context.Context, playerName, address string, port uint16) error {
	return s.machine.ConnectActivate(ctx, playerName, address, port)
}

func (s *Session) Disconnect() {
	s.machine.Disconnect()
}

func (s *Session) State() connection.ConnectionState {
	return s.machine.State()
}

func (s *Session) Machine() *connection.Machine {
	return s.machine
}

func (s *Session) CurrentTick() simulation.SimulationTickNumber {
	return s.clock.CurrentTick()
}

func (s *Session) LocalPlayer() (LocalPlayer, bool) {
	if s.localPlayer == nil {
		return LocalPlayer{}, false
	}
	return *s.localPlayer, true
}

func (s *Session) RemotePlayer(playerId uuid.UUID) (RemotePlayer, bool) {
	p, has := s.remotePlayers[playerId]
	if !has {
		return RemotePlayer{}, false
	}
	return *p, true
}

func (s *Session) RemotePlayers() iter.Seq2[uuid.UUID, *RemotePlayer] {
	return maps.All(s.remotePlayers)
}

func (s *Session) PendingInputCount() int {
	return len(s.history.Unacknowledged())
}

// Tick advances the session by one fixed step: the clock moves forward, the connection
// machine runs, and once the local player exists the sample is predicted and sent.
func (s *Session) Tick(ctx context.Context, sample InputSample) {
	s.clock.Advance(s.clock.TickDuration())
	s.machine.Update(ctx)

	if s.machine.State() != connection.ConnectionState_CanEnterGame || s.localPlayer == nil {
		return
	}

	record := s.history.Capture(s.clock.CurrentTick(), sample.Move, sample.Jump)
	s.localPlayer.Kinematics = simulation.StepMovement(
		s.localPlayer.Kinematics, record.MoveInput, record.JumpRequested, s.clock.TickDuration(), s.params.Movement)

	if s.machine.IsOffline() {
		s.history.Acknowledge(record.Sequence)
		return
	}

	err := s.machine.Send(handlers.DeliveryChannel_Unreliable, func(w *codec.Writer) {
		s.history.BuildPlayerUpdate(w, s.lastServerTick)
	})
	if err != nil {
		s.log.Warn("Failed to send player update", zap.Error(err))
	}
}

func (s *Session) onStateChanged(state connection.ConnectionState) {
	if state == connection.ConnectionState_Idle {
		s.localPlayer = nil
		clear(s.remotePlayers)
		s.history = CreateInputHistory(s.params.InputHistoryLength)
		s.lastServerTick = 0
	}
	if s.params.OnStateChanged != nil {
		s.params.OnStateChanged(state)
	}
}

func (s *Session) onError(err *errors.HandshakeError) {
	if s.params.OnError != nil {
		s.params.OnError(err)
	}
}

func (s *Session) onSceneLoaded(result connection.SceneLoadResult) {
	if !s.machine.IsOffline() {
		return
	}

	s.localPlayer = &LocalPlayer{
		PlayerId:   uuid.New(),
		PlayerName: s.machine.PlayerName(),
		Kinematics: simulation.PlayerKinematics{Rotation: codec.QuaternionIdentity},
	}
	s.log.Info("Spawned offline local player", zap.Stringer("playerId", s.localPlayer.PlayerId))
}

func (s *Session) onServerMessage(msgType servermsg.ServerMessageType, payload []byte) {
	r := codec.CreateReader(payload)

	switch msgType {
	case servermsg.ServerMessageType_SpawnLocalPlayer:
		var msg servermsg.SpawnLocalPlayer
		if !msg.TryRead(r) {
			s.log.Warn("Dropping malformed SpawnLocalPlayer")
			return
		}
		s.onSpawnLocalPlayer(&msg)
	case servermsg.ServerMessageType_SpawnRemotePlayer:
		var msg servermsg.SpawnRemotePlayer
		if !msg.TryRead(r) {
			s.log.Warn("Dropping malformed SpawnRemotePlayer")
			return
		}
		s.onSpawnRemotePlayer(&msg)
	case servermsg.ServerMessageType_DespawnRemotePlayer:
		var msg servermsg.DespawnRemotePlayer
		if !msg.TryRead(r) {
			s.log.Warn("Dropping malformed DespawnRemotePlayer")
			return
		}
		if _, has := s.remotePlayers[msg.PlayerId]; !has {
			s.log.Debug("Despawn for unknown player", zap.Stringer("playerId", msg.PlayerId))
			return
		}
		delete(s.remotePlayers, msg.PlayerId)
		s.log.Info("Remote player left", zap.Stringer("playerId", msg.PlayerId))
	case servermsg.ServerMessageType_SnapshotUpdates:
		var header servermsg.SnapshotUpdates
		snapshots, ok := message.ReadArray(r, &header, []servermsg.PlayerSnapshot(nil))
		if !ok {
			s.log.Warn("Dropping malformed SnapshotUpdates")
			return
		}
		s.onSnapshotUpdates(header.ServerTick, snapshots)
	default:
		s.log.Debug("Ignoring unexpected server message", zap.Stringer("msgType", msgType))
	}
}

func (s *Session) onSpawnLocalPlayer(msg *servermsg.SpawnLocalPlayer) {
	if s.localPlayer != nil && s.localPlayer.PlayerId != msg.PlayerId {
		s.log.Warn("Server replaced local player",
			zap.Stringer("oldPlayerId", s.localPlayer.PlayerId),
			zap.Stringer("newPlayerId", msg.PlayerId))
	}

	s.localPlayer = &LocalPlayer{
		PlayerId:   msg.PlayerId,
		PlayerName: msg.PlayerName,
		Kinematics: simulation.PlayerKinematics{Position: msg.Position, Rotation: msg.Rotation},
	}
	if msg.Tick.After(s.lastServerTick) {
		s.lastServerTick = msg.Tick
	}
	s.log.Info("Local player spawned", zap.Stringer("playerId", msg.PlayerId), zap.Int64("tick", int64(msg.Tick)))
}

func (s *Session) onSpawnRemotePlayer(msg *servermsg.SpawnRemotePlayer) {
	s.remotePlayers[msg.PlayerId] = &RemotePlayer{
		PlayerId:    msg.PlayerId,
		PlayerName:  msg.PlayerName,
		Kinematics:  simulation.PlayerKinematics{Position: msg.Position, Rotation: msg.Rotation},
		UpdatedTick: msg.Tick,
	}
	s.log.Info("Remote player spawned", zap.Stringer("playerId", msg.PlayerId), zap.String("playerName", msg.PlayerName))
}

func (s *Session) onSnapshotUpdates(serverTick simulation.SimulationTickNumber, snapshots []servermsg.PlayerSnapshot) {
	if serverTick.Before(s.lastServerTick) {
		s.log.Debug("Ignoring stale snapshot", zap.Int64("tick", int64(serverTick)))
		return
	}
	s.lastServerTick = serverTick

	for i := range snapshots {
		snap := &snapshots[i]

		if s.localPlayer != nil && snap.PlayerId == s.localPlayer.PlayerId {
			s.reconcileLocalPlayer(snap)
			continue
		}

		remote, has := s.remotePlayers[snap.PlayerId]
		if !has {
			continue
		}
		remote.Kinematics = simulation.PlayerKinematics{Position: snap.Position, Rotation: snap.Rotation}
		remote.UpdatedTick = serverTick
	}
}

// reconcileLocalPlayer restarts prediction from the authoritative state and replays every
// input the server has not simulated yet.
func (s *Session) reconcileLocalPlayer(snap *servermsg.PlayerSnapshot) {
	s.history.Acknowledge(snap.AcknowledgedInputSequence)

	state := simulation.PlayerKinematics{Position: snap.Position, Rotation: snap.Rotation}
	for _, record := range s.history.After(snap.LastAppliedInputSequence) {
		state = simulation.StepMovement(state, record.MoveInput, record.JumpRequested, s.clock.TickDuration(), s.params.Movement)
	}
	s.localPlayer.Kinematics = state
}
