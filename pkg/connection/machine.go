package connection

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sessamekesh/netsync/pkg/codec"
	"github.com/sessamekesh/netsync/pkg/errors"
	"github.com/sessamekesh/netsync/pkg/handlers"
	"github.com/sessamekesh/netsync/pkg/message"
	clientmsg "github.com/sessamekesh/netsync/pkg/message/client"
	servermsg "github.com/sessamekesh/netsync/pkg/message/server"
	"github.com/sessamekesh/netsync/pkg/pool"
	"github.com/sessamekesh/netsync/pkg/simulation"
	"go.uber.org/zap"
)

const DefaultStageTimeout = 5 * time.Second

type AlreadyActiveError struct {
	State ConnectionState
}

func (e *AlreadyActiveError) Error() string {
	return fmt.Sprintf("Cannot start a connection while in state %s", e.State)
}

type NotInGameError struct {
	State ConnectionState
}

func (e *NotInGameError) Error() string {
	return fmt.Sprintf("Cannot send game traffic while in state %s", e.State)
}

type Callbacks struct {
	// StateChanged fires once for every transition, in order.
	StateChanged func(state ConnectionState)
	// Error fires when the handshake fails; the machine is already back in Idle.
	Error func(err *errors.HandshakeError)
	// SceneLoaded fires on the tick the scene loader finishes.
	SceneLoaded func(result SceneLoadResult)
	// ServerMessage receives every server message that arrives after the handshake.
	ServerMessage func(msgType servermsg.ServerMessageType, payload []byte)
}

type MachineParams struct {
	Transport   Transport
	SceneLoader SceneLoader
	TimeSource  simulation.TimeSource
	// Clock is moved to the server's world time once clock sync completes.
	Clock *simulation.Clock

	// Scene entered by offline sessions.
	LocalSceneId uuid.UUID
	StageTimeout time.Duration

	Callbacks Callbacks
	Logger    *zap.Logger
}

// Machine drives a client from Idle to CanEnterGame. All methods must be called from the
// tick thread; the only work done elsewhere is the blocking transport connect.
type Machine struct {
	params MachineParams
	log    *zap.Logger

	writerPool *pool.Pool[*codec.Writer]

	state      ConnectionState
	isOffline  bool
	playerName string

	// One channel per connect attempt; results of abandoned attempts are never read.
	connectResult <-chan error
	cancelConnect context.CancelFunc

	stageStartedAt  time.Duration
	pendingPingTime int64

	sceneId          uuid.UUID
	pendingSceneLoad bool
	sceneLoading     <-chan SceneLoadResult
	sceneLoaded      bool

	latency time.Duration
}

func CreateMachine(params MachineParams) (*Machine, error) {
	if params.TimeSource == nil {
		return nil, &errors.MissingFieldError{MessageName: "MachineParams", FieldName: "TimeSource"}
	}
	if params.Clock == nil {
		return nil, &errors.MissingFieldError{MessageName: "MachineParams", FieldName: "Clock"}
	}
	if params.SceneLoader == nil {
		return nil, &errors.MissingFieldError{MessageName: "MachineParams", FieldName: "SceneLoader"}
	}

	logger := params.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}
	if params.StageTimeout <= 0 {
		params.StageTimeout = DefaultStageTimeout
	}

	return &Machine{
		params: params,
		log:    logger.With(zap.String("component", "ConnectionMachine")),
		writerPool: pool.CreatePool(8, func() *codec.Writer {
			return codec.CreateWriter(128)
		}),
		state: ConnectionState_Idle,
	}, nil
}

func (m *Machine) State() ConnectionState {
	return m.state
}

func (m *Machine) IsOffline() bool {
	return m.isOffline
}

func (m *Machine) SceneId() uuid.UUID {
	return m.sceneId
}

// Latency is the one-way latency estimated during clock sync.
func (m *Machine) Latency() time.Duration {
	return m.latency
}

func (m *Machine) PlayerName() string {
	return m.playerName
}

func (m *Machine) transition(next ConnectionState) {
	m.log.Debug("Connection state transition", zap.Stringer("from", m.state), zap.Stringer("to", next))
	m.state = next
	m.stageStartedAt = m.params.TimeSource.Now()
	if m.params.Callbacks.StateChanged != nil {
		m.params.Callbacks.StateChanged(next)
	}
}

// ConnectActivate starts a session. An empty address starts a local session that skips the
// handshake and can enter the game immediately.
func (m *Machine) ConnectActivate(ctx context.Context, playerName, address string, port uint16) error {
	if m.state != ConnectionState_Idle {
		return &AlreadyActiveError{State: m.state}
	}

	m.playerName = playerName

	if address == "" {
		m.log.Info("Starting offline session", zap.String("playerName", playerName))
		m.isOffline = true
		m.sceneId = m.params.LocalSceneId
		m.pendingSceneLoad = true
		m.transition(ConnectionState_CanEnterGame)
		return nil
	}

	if m.params.Transport == nil {
		return &errors.MissingFieldError{MessageName: "MachineParams", FieldName: "Transport"}
	}

	m.isOffline = false
	m.transition(ConnectionState_Connecting)

	connectCtx, cancel := context.WithCancel(ctx)
	result := make(chan error, 1)
	m.cancelConnect = cancel
	m.connectResult = result
	transport := m.params.Transport
	log := m.log.With(zap.String("address", address), zap.Uint16("port", port))
	log.Info("Connecting to server")

	go func() {
		err := transport.Connect(connectCtx, address, port)
		if err != nil {
			log.Warn("Transport connect failed", zap.Error(err))
		}
		result <- err
	}()

	return nil
}

// Disconnect tears down the current session and returns to Idle without raising an error.
func (m *Machine) Disconnect() {
	if m.state == ConnectionState_Idle {
		return
	}
	m.log.Info("Disconnecting", zap.Stringer("state", m.state))
	m.reset()
	m.transition(ConnectionState_Idle)
}

func (m *Machine) reset() {
	if m.cancelConnect != nil {
		m.cancelConnect()
		m.cancelConnect = nil
	}
	if !m.isOffline && m.state != ConnectionState_Idle && m.params.Transport != nil {
		if err := m.params.Transport.Close(); err != nil {
			m.log.Debug("Error closing transport", zap.Error(err))
		}
	}

	m.connectResult = nil
	m.isOffline = false
	m.pendingPingTime = 0
	m.sceneId = uuid.Nil
	m.pendingSceneLoad = false
	m.sceneLoading = nil
	m.sceneLoaded = false
	m.latency = 0
}

func (m *Machine) fail(reason string) {
	stage := m.state
	err := &errors.HandshakeError{Stage: stage.String(), Reason: reason}
	m.log.Warn("Connection failed", zap.Stringer("stage", stage), zap.String("reason", reason))

	m.reset()
	m.transition(ConnectionState_Idle)

	if m.params.Callbacks.Error != nil {
		m.params.Callbacks.Error(err)
	}
}

// Update runs one tick of the machine. Scene loading requested on a previous tick starts
// here, before any inbound message is processed, so a scene switch never happens mid-frame.
func (m *Machine) Update(ctx context.Context) {
	if m.state == ConnectionState_Idle {
		return
	}

	if m.pendingSceneLoad {
		m.pendingSceneLoad = false
		m.log.Info("Loading in-game scene", zap.Stringer("sceneId", m.sceneId))
		m.sceneLoading = m.params.SceneLoader.LoadSceneAsync(ctx, m.sceneId)
	}

	if m.state == ConnectionState_Connecting {
		select {
		case err := <-m.connectResult:
			m.connectResult = nil
			if err != nil {
				m.fail(fmt.Sprintf("Could not connect to server: %s", err.Error()))
				return
			}
			m.sendJoinGameRequest()
		default:
		}
	}

	if !m.isOffline && m.state != ConnectionState_Connecting && m.state != ConnectionState_Idle {
		m.drainIncoming()
	}

	if m.state == ConnectionState_Idle {
		return
	}

	if m.sceneLoading != nil {
		select {
		case result := <-m.sceneLoading:
			m.sceneLoading = nil
			m.onSceneLoaded(result)
		default:
		}
	}

	m.checkTimeout()
}

func (m *Machine) checkTimeout() {
	switch m.state {
	case ConnectionState_Connecting, ConnectionState_JoinGameRequest, ConnectionState_SynchronizingClock:
	default:
		return
	}

	if m.params.TimeSource.Now()-m.stageStartedAt > m.params.StageTimeout {
		m.fail("Timed out waiting for server response")
	}
}

func (m *Machine) drainIncoming() {
	incoming := m.params.Transport.Incoming()
	for {
		select {
		case payload, ok := <-incoming:
			if !ok {
				m.fail("Connection to server was closed")
				return
			}
			m.handlePayload(payload)
			if m.state == ConnectionState_Idle {
				return
			}
		default:
			return
		}
	}
}

func (m *Machine) handlePayload(payload []byte) {
	msgType, err := servermsg.PeekMessageType(payload)
	if err != nil {
		m.log.Warn("Dropping unparseable server message", zap.Error(err))
		return
	}

	switch m.state {
	case ConnectionState_JoinGameRequest:
		if msgType != servermsg.ServerMessageType_JoinGameResponse {
			m.log.Debug("Ignoring message while awaiting join response", zap.Stringer("msgType", msgType))
			return
		}
		m.onJoinGameResponse(payload)
	case ConnectionState_SynchronizingClock:
		if msgType != servermsg.ServerMessageType_ClockSyncPong {
			m.log.Debug("Ignoring message while awaiting clock sync", zap.Stringer("msgType", msgType))
			return
		}
		m.onClockSyncPong(payload)
	case ConnectionState_CanEnterGame:
		if m.params.Callbacks.ServerMessage != nil {
			m.params.Callbacks.ServerMessage(msgType, payload)
		}
	}
}

func (m *Machine) sendJoinGameRequest() {
	req := clientmsg.JoinGameRequest{PlayerName: m.playerName}
	if err := m.sendSimple(&req, handlers.DeliveryChannel_ReliableOrdered); err != nil {
		m.fail(fmt.Sprintf("Could not send join request: %s", err.Error()))
		return
	}
	m.transition(ConnectionState_JoinGameRequest)
}

func (m *Machine) onJoinGameResponse(payload []byte) {
	var resp servermsg.JoinGameResponse
	if !resp.TryRead(codec.CreateReader(payload)) {
		m.fail("Malformed join response from server")
		return
	}

	if !resp.CanJoinGame {
		reason := resp.ErrorMessage
		if reason == "" {
			reason = "Join request rejected by server"
		}
		m.fail(reason)
		return
	}

	m.sceneId = resp.InGameSceneId
	m.pendingPingTime = m.params.TimeSource.Now().Nanoseconds()
	ping := clientmsg.ClockSyncPing{ClientOSTimeStamp: m.pendingPingTime}
	if err := m.sendSimple(&ping, handlers.DeliveryChannel_ReliableOrdered); err != nil {
		m.fail(fmt.Sprintf("Could not send clock sync request: %s", err.Error()))
		return
	}
	m.transition(ConnectionState_SynchronizingClock)
}

func (m *Machine) onClockSyncPong(payload []byte) {
	var pong servermsg.ClockSyncPong
	if !pong.TryRead(codec.CreateReader(payload)) {
		m.fail("Malformed clock sync response from server")
		return
	}

	if pong.ClientOSTimeStamp != m.pendingPingTime {
		m.log.Debug("Ignoring clock sync response for a different request", zap.Int64("echoed", pong.ClientOSTimeStamp))
		return
	}

	roundTrip := m.params.TimeSource.Now() - time.Duration(pong.ClientOSTimeStamp)
	if roundTrip < 0 {
		roundTrip = 0
	}
	m.latency = roundTrip / 2
	m.params.Clock.SetWorldTime(time.Duration(pong.ServerWorldTime) + m.latency)

	m.log.Info("Clock synchronized",
		zap.Duration("roundTrip", roundTrip),
		zap.Duration("latency", m.latency),
		zap.Int64("tick", int64(m.params.Clock.CurrentTick())))

	m.pendingSceneLoad = true
	m.transition(ConnectionState_CanEnterGame)
}

func (m *Machine) onSceneLoaded(result SceneLoadResult) {
	if result.Err != nil {
		m.fail(fmt.Sprintf("Could not load scene: %s", result.Err.Error()))
		return
	}

	m.sceneLoaded = true
	m.log.Info("In-game scene loaded", zap.Stringer("sceneId", result.SceneId))

	if !m.isOffline {
		if err := m.sendSimple(&clientmsg.ClientInGameReady{}, handlers.DeliveryChannel_ReliableOrdered); err != nil {
			m.fail(fmt.Sprintf("Could not notify server: %s", err.Error()))
			return
		}
	}

	if m.params.Callbacks.SceneLoaded != nil {
		m.params.Callbacks.SceneLoaded(result)
	}
}

func (m *Machine) IsSceneLoaded() bool {
	return m.sceneLoaded
}

func (m *Machine) sendSimple(msg message.SimpleMessage, channel handlers.DeliveryChannel) error {
	return m.writerPool.With(func(w *codec.Writer) error {
		msg.WriteTo(w)
		return m.params.Transport.Send(w.Bytes(), channel)
	})
}

// Send writes game traffic once the handshake is done. The writer is only valid inside
// write.
func (m *Machine) Send(channel handlers.DeliveryChannel, write func(w *codec.Writer)) error {
	if m.state != ConnectionState_CanEnterGame || m.isOffline {
		return &NotInGameError{State: m.state}
	}

	return m.writerPool.With(func(w *codec.Writer) error {
		write(w)
		return m.params.Transport.Send(w.Bytes(), channel)
	})
}
