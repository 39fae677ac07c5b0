package server

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/sessamekesh/netsync/internal"
	"github.com/sessamekesh/netsync/pkg/codec"
	"github.com/sessamekesh/netsync/pkg/errors"
	"github.com/sessamekesh/netsync/pkg/handlers"
	"github.com/sessamekesh/netsync/pkg/message"
	clientmsg "github.com/sessamekesh/netsync/pkg/message/client"
	servermsg "github.com/sessamekesh/netsync/pkg/message/server"
	"go.uber.org/zap"
)

type MalformedMessageError struct {
	MessageType clientmsg.ClientMessageType
}

func (e *MalformedMessageError) Error() string {
	return fmt.Sprintf("Malformed %s message", e.MessageType)
}

type RateLimitedError struct {
	MessageType clientmsg.ClientMessageType
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("Rate limit exceeded for %s", e.MessageType)
}

type UnexpectedMessageError struct {
	MessageType clientmsg.ClientMessageType
	Phase       internal.PlayerPhase
}

func (e *UnexpectedMessageError) Error() string {
	return fmt.Sprintf("Unexpected %s message in phase %s", e.MessageType, e.Phase)
}

func isHandshakeMessage(msgType clientmsg.ClientMessageType) bool {
	switch msgType {
	case clientmsg.ClientMessageType_JoinGameRequest,
		clientmsg.ClientMessageType_ClockSyncPing,
		clientmsg.ClientMessageType_ClientInGameReady:
		return true
	}
	return false
}

func (s *server) handleIncomingMessage(incomingMsg handlers.InboundMessage) error {
	record, err := s.playerStore.Get(incomingMsg.ConnectionId)
	if err != nil {
		return err
	}

	msgType, err := clientmsg.PeekMessageType(incomingMsg.Data)
	if err != nil {
		return err
	}

	if isHandshakeMessage(msgType) && !record.HandshakeLimiter.Allow() {
		return &RateLimitedError{MessageType: msgType}
	}

	r := codec.CreateReader(incomingMsg.Data)

	switch msgType {
	case clientmsg.ClientMessageType_JoinGameRequest:
		var req clientmsg.JoinGameRequest
		if !req.TryRead(r) {
			return &MalformedMessageError{MessageType: msgType}
		}
		return s.handleJoinGameRequest(record, &req)
	case clientmsg.ClientMessageType_ClockSyncPing:
		var ping clientmsg.ClockSyncPing
		if !ping.TryRead(r) {
			return &MalformedMessageError{MessageType: msgType}
		}
		return s.handleClockSyncPing(record, &ping)
	case clientmsg.ClientMessageType_ClientInGameReady:
		var ready clientmsg.ClientInGameReady
		if !ready.TryRead(r) {
			return &MalformedMessageError{MessageType: msgType}
		}
		return s.handleClientInGameReady(record)
	case clientmsg.ClientMessageType_PlayerUpdate:
		var header clientmsg.PlayerUpdate
		inputs, ok := message.ReadArray(r, &header, []clientmsg.PlayerInput(nil))
		if !ok {
			return &MalformedMessageError{MessageType: msgType}
		}
		return s.handlePlayerUpdate(record, &header, inputs)
	}

	return &errors.InvalidEnumValue{
		EnumName: "ClientMessageType",
		IntValue: uint8(msgType),
	}
}

// validatePlayerName returns the rejection reason, or the empty string when the name is fine.
func (s *server) validatePlayerName(name string) string {
	if name == "" {
		return "Player name must not be empty"
	}
	if len(name) > s.config.MaxPlayerNameLength {
		return fmt.Sprintf("Player name must be at most %d bytes", s.config.MaxPlayerNameLength)
	}
	if s.playerStore.IsNameTaken(name) {
		return "Player name is already taken"
	}
	if s.playerStore.JoinedCount() >= s.config.MaxPlayers {
		return "Server is full"
	}
	return ""
}

func (s *server) handleJoinGameRequest(record *internal.PlayerRecord, req *clientmsg.JoinGameRequest) error {
	if record.Phase != internal.PlayerPhase_Connected {
		return &UnexpectedMessageError{MessageType: clientmsg.ClientMessageType_JoinGameRequest, Phase: record.Phase}
	}

	log := s.log.With(zap.Uint32("connectionId", record.ConnectionId), zap.String("playerName", req.PlayerName))

	if reason := s.validatePlayerName(req.PlayerName); reason != "" {
		log.Info("Rejecting join request", zap.String("reason", reason))
		s.sendSimple(record, handlers.DeliveryChannel_ReliableOrdered, &servermsg.JoinGameResponse{
			CanJoinGame:  false,
			ErrorMessage: reason,
		})
		return nil
	}

	record.Phase = internal.PlayerPhase_Joined
	record.PlayerId = uuid.New()
	record.PlayerName = req.PlayerName
	log.Info("Player joined", zap.Stringer("playerId", record.PlayerId))

	s.sendSimple(record, handlers.DeliveryChannel_ReliableOrdered, &servermsg.JoinGameResponse{
		CanJoinGame:   true,
		InGameSceneId: s.config.SceneId,
	})
	return nil
}

func (s *server) handleClockSyncPing(record *internal.PlayerRecord, ping *clientmsg.ClockSyncPing) error {
	if record.Phase == internal.PlayerPhase_Connected {
		return &UnexpectedMessageError{MessageType: clientmsg.ClientMessageType_ClockSyncPing, Phase: record.Phase}
	}

	s.sendSimple(record, handlers.DeliveryChannel_ReliableOrdered, &servermsg.ClockSyncPong{
		ClientOSTimeStamp: ping.ClientOSTimeStamp,
		ServerWorldTime:   s.clock.WorldTime().Nanoseconds(),
	})
	return nil
}

func (s *server) handleClientInGameReady(record *internal.PlayerRecord) error {
	if record.Phase != internal.PlayerPhase_Joined {
		return &UnexpectedMessageError{MessageType: clientmsg.ClientMessageType_ClientInGameReady, Phase: record.Phase}
	}

	others := s.playerStore.InGamePlayers()
	record.Phase = internal.PlayerPhase_InGame
	record.LastResyncTick = s.clock.CurrentTick()

	s.log.Info("Player entered game",
		zap.Uint32("connectionId", record.ConnectionId),
		zap.Stringer("playerId", record.PlayerId),
		zap.Int("otherPlayers", len(others)))

	s.sendSimple(record, handlers.DeliveryChannel_ReliableOrdered, &servermsg.SpawnLocalPlayer{PlayerSpawn: s.playerSpawn(record)})

	joinerSpawn := &servermsg.SpawnRemotePlayer{PlayerSpawn: s.playerSpawn(record)}
	for _, other := range others {
		s.sendSimple(other, handlers.DeliveryChannel_ReliableOrdered, joinerSpawn)
		s.sendSimple(record, handlers.DeliveryChannel_ReliableOrdered, &servermsg.SpawnRemotePlayer{PlayerSpawn: s.playerSpawn(other)})
	}
	return nil
}

func (s *server) playerSpawn(record *internal.PlayerRecord) servermsg.PlayerSpawn {
	return servermsg.PlayerSpawn{
		PlayerId:   record.PlayerId,
		Tick:       s.clock.CurrentTick(),
		PlayerName: record.PlayerName,
		Position:   record.Kinematics.Position,
		Rotation:   record.Kinematics.Rotation,
	}
}

func (s *server) handlePlayerUpdate(record *internal.PlayerRecord, header *clientmsg.PlayerUpdate, inputs []clientmsg.PlayerInput) error {
	if record.Phase != internal.PlayerPhase_InGame {
		return &UnexpectedMessageError{MessageType: clientmsg.ClientMessageType_PlayerUpdate, Phase: record.Phase}
	}

	log := s.log.With(zap.Uint32("connectionId", record.ConnectionId))

	if header.AcknowledgedServerTick.After(record.AcknowledgedServerTick) {
		record.AcknowledgedServerTick = header.AcknowledgedServerTick
	}
	if s.needsResync(record) {
		s.resyncPlayer(record)
	}

	for _, input := range inputs {
		if record.HasAcknowledgedInput && !input.Sequence.IsNewerThan(record.AcknowledgedSequence) {
			continue
		}
		if record.HasAcknowledgedInput {
			if gap := input.Sequence.Distance(record.AcknowledgedSequence); gap > 1 {
				log.Debug("Player inputs lost", zap.Int32("missing", gap-1))
			}
		}

		record.PendingInputs = append(record.PendingInputs, input)
		record.AcknowledgedSequence = input.Sequence
		record.HasAcknowledgedInput = true
	}

	if overflow := len(record.PendingInputs) - s.config.MaxPendingInputs; overflow > 0 {
		log.Debug("Dropping queued inputs", zap.Int("count", overflow))
		record.PendingInputs = record.PendingInputs[overflow:]
	}
	return nil
}

// needsResync is true when the newest tick the client has confirmed is older than anything
// left in the snapshot history, so deltas against it can no longer be trusted.
func (s *server) needsResync(record *internal.PlayerRecord) bool {
	if s.snapshotHistory.IsEmpty() {
		return false
	}
	if s.clock.CurrentTick().Sub(record.LastResyncTick) < int64(s.snapshotHistory.Capacity()) {
		return false
	}

	_, found := s.snapshotHistory.TryFindLastIndexMatching(func(snap WorldSnapshot) bool {
		return !snap.Tick.After(record.AcknowledgedServerTick)
	})
	return !found
}

func (s *server) resyncPlayer(record *internal.PlayerRecord) {
	s.log.Info("Resending full state to player",
		zap.Uint32("connectionId", record.ConnectionId),
		zap.Int64("acknowledgedTick", int64(record.AcknowledgedServerTick)),
		zap.Int64("oldestSnapshotTick", int64(s.snapshotHistory.GetLast().Tick)))

	record.LastResyncTick = s.clock.CurrentTick()
	s.sendSimple(record, handlers.DeliveryChannel_ReliableOrdered, &servermsg.SpawnLocalPlayer{PlayerSpawn: s.playerSpawn(record)})
	for _, other := range s.playerStore.InGamePlayers() {
		if other.ConnectionId == record.ConnectionId {
			continue
		}
		s.sendSimple(record, handlers.DeliveryChannel_ReliableOrdered, &servermsg.SpawnRemotePlayer{PlayerSpawn: s.playerSpawn(other)})
	}
}
