package internal

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sessamekesh/netsync/pkg/codec"
	clientmsg "github.com/sessamekesh/netsync/pkg/message/client"
	"github.com/sessamekesh/netsync/pkg/simulation"
	"golang.org/x/time/rate"
)

type DuplicateConnectionIdError struct {
	Id uint32
}

func (e *DuplicateConnectionIdError) Error() string {
	return fmt.Sprintf("Attempted to create connection with duplicate ID %d", e.Id)
}

type MissingConnectionIdError struct {
	Id uint32
}

func (e *MissingConnectionIdError) Error() string {
	return fmt.Sprintf("Missing connection with id=%d", e.Id)
}

type TooManyConnectionsError struct{}

func (e *TooManyConnectionsError) Error() string {
	return "Too many connections are open - cannot create new connection"
}

type PlayerPhase uint8

const (
	// Transport is open, no accepted join request yet.
	PlayerPhase_Connected PlayerPhase = iota
	// Join accepted, waiting for the client to load the scene.
	PlayerPhase_Joined
	PlayerPhase_InGame
)

func (p PlayerPhase) String() string {
	switch p {
	case PlayerPhase_Connected:
		return "Connected"
	case PlayerPhase_Joined:
		return "Joined"
	case PlayerPhase_InGame:
		return "InGame"
	}
	return "Unknown"
}

// PlayerRecord is created from a transport goroutine but afterwards only touched by the
// server tick loop.
type PlayerRecord struct {
	ConnectionId uint32
	HandlerName  string
	Phase        PlayerPhase

	PlayerId   uuid.UUID
	PlayerName string

	CreatedTime     int64
	LastMessageTime int64

	HandshakeLimiter *rate.Limiter

	Kinematics    simulation.PlayerKinematics
	PendingInputs []clientmsg.PlayerInput

	HasAcknowledgedInput   bool
	AcknowledgedSequence   simulation.PlayerInputSequenceNumber
	LastAppliedSequence    simulation.PlayerInputSequenceNumber
	AcknowledgedServerTick simulation.SimulationTickNumber
	LastResyncTick         simulation.SimulationTickNumber
}

type PlayerStore struct {
	MaxConnections int

	HandshakeRate  rate.Limit
	HandshakeBurst int

	nextConnectionId atomic.Uint32

	mut_players sync.RWMutex
	players     map[uint32]*PlayerRecord
}

func CreatePlayerStore(maxConnections int, handshakeRate rate.Limit, handshakeBurst int) *PlayerStore {
	return &PlayerStore{
		MaxConnections: maxConnections,
		HandshakeRate:  handshakeRate,
		HandshakeBurst: handshakeBurst,
		players:        make(map[uint32]*PlayerRecord),
	}
}

func (store *PlayerStore) GetNewConnectionId() uint32 {
	return store.nextConnectionId.Add(1)
}

func (store *PlayerStore) HasConnection(connectionId uint32) bool {
	store.mut_players.RLock()
	defer store.mut_players.RUnlock()

	_, has := store.players[connectionId]
	return has
}

func (store *PlayerStore) CreateConnection(connectionId uint32, handlerName string, timestamp int64) error {
	store.mut_players.Lock()
	defer store.mut_players.Unlock()

	if _, has := store.players[connectionId]; has {
		return &DuplicateConnectionIdError{Id: connectionId}
	}

	if store.MaxConnections > 0 && len(store.players) >= store.MaxConnections {
		return &TooManyConnectionsError{}
	}

	store.players[connectionId] = &PlayerRecord{
		ConnectionId:     connectionId,
		HandlerName:      handlerName,
		Phase:            PlayerPhase_Connected,
		CreatedTime:      timestamp,
		LastMessageTime:  timestamp,
		HandshakeLimiter: rate.NewLimiter(store.HandshakeRate, store.HandshakeBurst),
		Kinematics:       simulation.PlayerKinematics{Rotation: codec.QuaternionIdentity},
	}

	return nil
}

func (store *PlayerStore) RemoveConnection(connectionId uint32) (*PlayerRecord, bool) {
	store.mut_players.Lock()
	defer store.mut_players.Unlock()

	record, has := store.players[connectionId]
	if has {
		delete(store.players, connectionId)
	}
	return record, has
}

func (store *PlayerStore) Get(connectionId uint32) (*PlayerRecord, error) {
	store.mut_players.RLock()
	defer store.mut_players.RUnlock()

	record, has := store.players[connectionId]
	if !has {
		return nil, &MissingConnectionIdError{Id: connectionId}
	}
	return record, nil
}

func (store *PlayerStore) SetLastMessageTime(connectionId uint32, timestamp int64) error {
	record, err := store.Get(connectionId)
	if err != nil {
		return err
	}
	record.LastMessageTime = timestamp
	return nil
}

// IsNameTaken only considers connections whose join request was accepted.
func (store *PlayerStore) IsNameTaken(name string) bool {
	store.mut_players.RLock()
	defer store.mut_players.RUnlock()

	for _, record := range store.players {
		if record.Phase != PlayerPhase_Connected && record.PlayerName == name {
			return true
		}
	}
	return false
}

func (store *PlayerStore) JoinedCount() int {
	store.mut_players.RLock()
	defer store.mut_players.RUnlock()

	count := 0
	for _, record := range store.players {
		if record.Phase != PlayerPhase_Connected {
			count++
		}
	}
	return count
}

// InGamePlayers returns every spawned player ordered by connection id.
func (store *PlayerStore) InGamePlayers() []*PlayerRecord {
	store.mut_players.RLock()
	defer store.mut_players.RUnlock()

	out := []*PlayerRecord{}
	for _, record := range store.players {
		if record.Phase == PlayerPhase_InGame {
			out = append(out, record)
		}
	}
	slices.SortFunc(out, func(a, b *PlayerRecord) int {
		return cmp.Compare(a.ConnectionId, b.ConnectionId)
	})
	return out
}

// GetTimeoutConnectionList returns connections that have been silent since messageDeadline,
// and connections that still have not entered the game by handshakeDeadline.
func (store *PlayerStore) GetTimeoutConnectionList(messageDeadline, handshakeDeadline int64) []uint32 {
	store.mut_players.RLock()
	defer store.mut_players.RUnlock()

	toKick := []uint32{}
	for connectionId, record := range store.players {
		stuckInHandshake := record.Phase != PlayerPhase_InGame && record.CreatedTime < handshakeDeadline
		if record.LastMessageTime < messageDeadline || stuckInHandshake {
			toKick = append(toKick, connectionId)
		}
	}
	slices.Sort(toKick)
	return toKick
}
