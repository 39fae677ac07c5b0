package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sessamekesh/netsync/internal"
	"github.com/sessamekesh/netsync/pkg/codec"
	"github.com/sessamekesh/netsync/pkg/errors"
	"github.com/sessamekesh/netsync/pkg/handlers"
	"github.com/sessamekesh/netsync/pkg/message"
	servermsg "github.com/sessamekesh/netsync/pkg/message/server"
	"github.com/sessamekesh/netsync/pkg/pool"
	"github.com/sessamekesh/netsync/pkg/ringbuffer"
	"github.com/sessamekesh/netsync/pkg/simulation"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxPlayers            = 16
	DefaultMaxPlayerNameLength   = 32
	DefaultSnapshotHistoryLength = 32
	DefaultMaxPendingInputs      = 32
)

type handlerChannels struct {
	outgoingMessages chan<- handlers.OutboundMessage
	closeRequests    chan<- handlers.CloseCommand
}

type ServerConfig struct {
	TickRate            int
	MaxPlayers          int
	MaxPlayerNameLength int
	SceneId             uuid.UUID

	SnapshotHistoryLength int
	MaxPendingInputs      int
	Movement              simulation.MovementParams

	// Join, clock sync and ready messages are limited per connection.
	HandshakeRateLimit rate.Limit
	HandshakeBurst     int

	IdleTimeout      time.Duration
	HandshakeTimeout time.Duration

	IncomingMessageBufferLength int
	ConnectionEventBufferLength int
	OutgoingMessageBufferLength int

	Logger *zap.Logger
}

type server struct {
	config ServerConfig
	log    *zap.Logger

	playerStore *internal.PlayerStore
	startTime   time.Time

	clock           *simulation.Clock
	snapshotHistory *ringbuffer.RingBuffer[WorldSnapshot]
	writerPool      *pool.Pool[*codec.Writer]

	incomingMessageSendChannel chan<- handlers.InboundMessage
	incomingMessageRecvChannel <-chan handlers.InboundMessage

	connectionEventSendChannel chan<- handlers.ConnectionEvent
	connectionEventRecvChannel <-chan handlers.ConnectionEvent

	mut_handlerChannels sync.RWMutex
	handlerChannels     map[string]handlerChannels
}

func CreateServer(config ServerConfig) *server {
	logger := config.Logger
	if logger == nil {
		logger = zap.Must(zap.NewDevelopment())
	}

	if config.TickRate <= 0 {
		config.TickRate = simulation.DefaultTickRate
	}
	if config.MaxPlayers <= 0 {
		config.MaxPlayers = DefaultMaxPlayers
	}
	if config.MaxPlayerNameLength <= 0 {
		config.MaxPlayerNameLength = DefaultMaxPlayerNameLength
	}
	if config.SnapshotHistoryLength <= 0 {
		config.SnapshotHistoryLength = DefaultSnapshotHistoryLength
	}
	if config.MaxPendingInputs <= 0 {
		config.MaxPendingInputs = DefaultMaxPendingInputs
	}
	if config.Movement == (simulation.MovementParams{}) {
		config.Movement = simulation.DefaultMovementParams
	}
	if config.HandshakeRateLimit <= 0 {
		config.HandshakeRateLimit = rate.Limit(10)
	}
	if config.HandshakeBurst <= 0 {
		config.HandshakeBurst = 5
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 10 * time.Second
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 30 * time.Second
	}

	incomingMessageBufferLength := 1024
	if config.IncomingMessageBufferLength > 0 {
		incomingMessageBufferLength = config.IncomingMessageBufferLength
	}
	connectionEventBufferLength := 64
	if config.ConnectionEventBufferLength > 0 {
		connectionEventBufferLength = config.ConnectionEventBufferLength
	}

	incomingMessages := make(chan handlers.InboundMessage, incomingMessageBufferLength)
	connectionEvents := make(chan handlers.ConnectionEvent, connectionEventBufferLength)

	return &server{
		config: config,
		log:    logger.With(zap.String("component", "GameServer")),

		// Room for connections that have not joined yet, or have been rejected.
		playerStore: internal.CreatePlayerStore(config.MaxPlayers*4, config.HandshakeRateLimit, config.HandshakeBurst),
		startTime:   time.Now(),

		clock:           simulation.CreateClock(config.TickRate),
		snapshotHistory: ringbuffer.CreateRingBuffer[WorldSnapshot](config.SnapshotHistoryLength),
		writerPool: pool.CreatePool(32, func() *codec.Writer {
			return codec.CreateWriter(256)
		}),

		incomingMessageSendChannel: incomingMessages,
		incomingMessageRecvChannel: incomingMessages,
		connectionEventSendChannel: connectionEvents,
		connectionEventRecvChannel: connectionEvents,

		handlerChannels: make(map[string]handlerChannels),
	}
}

func (s *server) getNowTime() int64 {
	return time.Since(s.startTime).Microseconds()
}

func (s *server) CreateConnectionHandler(name string) (*handlers.ConnectionHandler, error) {
	s.mut_handlerChannels.Lock()
	defer s.mut_handlerChannels.Unlock()

	if _, alreadyHasName := s.handlerChannels[name]; alreadyHasName {
		return nil, &errors.NameCollision{
			CollisionContext: "CreateConnectionHandler",
			Name:             name,
		}
	}

	outgoingMessageChannelLength := 256
	if s.config.OutgoingMessageBufferLength > 0 {
		outgoingMessageChannelLength = s.config.OutgoingMessageBufferLength
	}

	outgoingMessages := make(chan handlers.OutboundMessage, outgoingMessageChannelLength)
	closeRequests := make(chan handlers.CloseCommand, 32)

	s.handlerChannels[name] = handlerChannels{
		outgoingMessages: outgoingMessages,
		closeRequests:    closeRequests,
	}

	return &handlers.ConnectionHandler{
		Name:                   name,
		GetNextConnectionId:    s.getConnectionIdCbForHandler(name),
		GetNowTimestamp:        s.getNowTime,
		IncomingMessageChannel: s.incomingMessageSendChannel,
		ConnectionEvents:       s.connectionEventSendChannel,
		OutgoingMessageChannel: outgoingMessages,
		OutgoingCloseRequests:  closeRequests,
	}, nil
}

func (s *server) getConnectionIdCbForHandler(name string) func() (uint32, error) {
	return func() (uint32, error) {
		connectionId := s.playerStore.GetNewConnectionId()
		err := s.playerStore.CreateConnection(connectionId, name, s.getNowTime())
		if err == nil {
			return connectionId, nil
		}

		s.log.Warn("Rejecting new connection", zap.Uint32("connectionId", connectionId), zap.String("handler", name), zap.Error(err))

		reason := "Could not register connection"
		if _, isFull := err.(*internal.TooManyConnectionsError); isFull {
			reason = "Server is full"
		}
		return 0, &handlers.ConnectionRejectedError{
			Reason:  reason,
			Payload: s.rejectionPayload(reason),
		}
	}
}

// rejectionPayload is the join response a refused connection would have received, so the
// client reports the same reason it gets for a rejected join.
func (s *server) rejectionPayload(reason string) []byte {
	var payload []byte
	s.writerPool.With(func(w *codec.Writer) error {
		resp := servermsg.JoinGameResponse{CanJoinGame: false, ErrorMessage: reason}
		resp.WriteTo(w)
		payload = append([]byte(nil), w.Bytes()...)
		return nil
	})
	return payload
}

func (s *server) CurrentTick() simulation.SimulationTickNumber {
	return s.clock.CurrentTick()
}

func (s *server) TickDuration() time.Duration {
	return s.clock.TickDuration()
}

func (s *server) InGamePlayerCount() int {
	return len(s.playerStore.InGamePlayers())
}

// Start runs the tick loop until ctx is cancelled.
func (s *server) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.clock.TickDuration())
	defer ticker.Stop()

	s.log.Info("Game server started",
		zap.Int("tickRate", s.config.TickRate),
		zap.Int("maxPlayers", s.config.MaxPlayers),
		zap.Stringer("sceneId", s.config.SceneId))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Game server stopping", zap.Int64("tick", int64(s.clock.CurrentTick())))
			return nil
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick runs exactly one fixed simulation step. Everything that touches game state happens
// here, on the caller's goroutine.
func (s *server) Tick() {
	s.clock.Advance(s.clock.TickDuration())

	s.drainConnectionEvents()
	s.drainIncomingMessages()
	s.kickTimedOutConnections()

	s.simulate()
	s.recordAndBroadcastSnapshot()
}

func (s *server) drainConnectionEvents() {
	for {
		select {
		case evt := <-s.connectionEventRecvChannel:
			s.handleConnectionEvent(evt)
		default:
			return
		}
	}
}

func (s *server) handleConnectionEvent(evt handlers.ConnectionEvent) {
	log := s.log.With(zap.Uint32("connectionId", evt.ConnectionId))

	switch evt.EventType {
	case handlers.ConnectionEventType_Opened:
		log.Debug("Connection opened")
	case handlers.ConnectionEventType_Closed:
		log.Info("Connection closed", zap.String("reason", evt.Reason))
		s.removeConnection(evt.ConnectionId)
	}
}

// Only the messages queued when the tick starts are handled, so a flood cannot stall the tick.
func (s *server) drainIncomingMessages() {
	pending := len(s.incomingMessageRecvChannel)
	for i := 0; i < pending; i++ {
		msg := <-s.incomingMessageRecvChannel
		if err := s.handleIncomingMessage(msg); err != nil {
			s.log.Warn("Dropping client message", zap.Uint32("connectionId", msg.ConnectionId), zap.Error(err))
			continue
		}
		s.playerStore.SetLastMessageTime(msg.ConnectionId, s.getNowTime())
	}
}

func (s *server) kickTimedOutConnections() {
	now := s.getNowTime()
	toKick := s.playerStore.GetTimeoutConnectionList(
		now-s.config.IdleTimeout.Microseconds(),
		now-s.config.HandshakeTimeout.Microseconds())

	for _, connectionId := range toKick {
		s.closeConnection(connectionId, "Connection timed out")
	}
}

// closeConnection asks the owning transport to drop the connection and forgets it right
// away; the Closed event the transport reports later finds nothing to remove.
func (s *server) closeConnection(connectionId uint32, reason string) {
	record, err := s.playerStore.Get(connectionId)
	if err != nil {
		return
	}

	s.log.Info("Closing connection", zap.Uint32("connectionId", connectionId), zap.String("reason", reason))

	s.mut_handlerChannels.RLock()
	channels, has := s.handlerChannels[record.HandlerName]
	s.mut_handlerChannels.RUnlock()
	if has {
		select {
		case channels.closeRequests <- handlers.CloseCommand{ConnectionId: connectionId, Reason: reason}:
		default:
			s.log.Warn("Close request queue is full", zap.String("handler", record.HandlerName))
		}
	}

	s.removeConnection(connectionId)
}

func (s *server) removeConnection(connectionId uint32) {
	record, has := s.playerStore.RemoveConnection(connectionId)
	if !has || record.Phase != internal.PlayerPhase_InGame {
		return
	}

	s.log.Info("Player left", zap.Stringer("playerId", record.PlayerId), zap.String("playerName", record.PlayerName))

	despawn := &servermsg.DespawnRemotePlayer{PlayerId: record.PlayerId, Tick: s.clock.CurrentTick()}
	for _, other := range s.playerStore.InGamePlayers() {
		s.sendSimple(other, handlers.DeliveryChannel_ReliableOrdered, despawn)
	}
}

func (s *server) sendSimple(record *internal.PlayerRecord, channel handlers.DeliveryChannel, msg message.SimpleMessage) {
	s.sendRaw(record, channel, func(w *codec.Writer) {
		msg.WriteTo(w)
	})
}

// sendRaw serializes through a pooled writer and hands the transport its own copy of the
// bytes. A full outgoing queue drops the message rather than stalling the tick.
func (s *server) sendRaw(record *internal.PlayerRecord, channel handlers.DeliveryChannel, write func(w *codec.Writer)) {
	s.mut_handlerChannels.RLock()
	channels, has := s.handlerChannels[record.HandlerName]
	s.mut_handlerChannels.RUnlock()
	if !has {
		s.log.Error("Missing connection handler", zap.String("handler", record.HandlerName))
		return
	}

	s.writerPool.With(func(w *codec.Writer) error {
		write(w)

		outbound := handlers.OutboundMessage{
			ConnectionId: record.ConnectionId,
			Channel:      channel,
			Data:         append([]byte(nil), w.Bytes()...),
		}
		select {
		case channels.outgoingMessages <- outbound:
		default:
			s.log.Warn("Outgoing queue is full, dropping message",
				zap.Uint32("connectionId", record.ConnectionId),
				zap.Stringer("channel", channel))
		}
		return nil
	})
}
