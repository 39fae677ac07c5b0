package server

import (
	"github.com/sessamekesh/netsync/pkg/codec"
	"github.com/sessamekesh/netsync/pkg/handlers"
	"github.com/sessamekesh/netsync/pkg/message"
	servermsg "github.com/sessamekesh/netsync/pkg/message/server"
	"github.com/sessamekesh/netsync/pkg/simulation"
)

// WorldSnapshot is the authoritative state of every spawned player at the end of a tick.
type WorldSnapshot struct {
	Tick    simulation.SimulationTickNumber
	Players []servermsg.PlayerSnapshot
}

// SnapshotAt looks up a recorded tick in the history.
func (s *server) SnapshotAt(tick simulation.SimulationTickNumber) (WorldSnapshot, bool) {
	index, found := s.snapshotHistory.TryFindLastIndexMatching(func(snap WorldSnapshot) bool {
		return snap.Tick == tick
	})
	if !found {
		return WorldSnapshot{}, false
	}
	return s.snapshotHistory.Get(index), true
}

// simulate applies at most one queued input per player.
func (s *server) simulate() {
	dt := s.clock.TickDuration()

	for _, record := range s.playerStore.InGamePlayers() {
		if len(record.PendingInputs) == 0 {
			continue
		}

		input := record.PendingInputs[0]
		record.PendingInputs = record.PendingInputs[1:]

		record.Kinematics = simulation.StepMovement(record.Kinematics, input.MoveInput, input.JumpRequested, dt, s.config.Movement)
		record.LastAppliedSequence = input.Sequence
	}
}

func (s *server) recordAndBroadcastSnapshot() {
	players := s.playerStore.InGamePlayers()

	snapshot := WorldSnapshot{
		Tick:    s.clock.CurrentTick(),
		Players: make([]servermsg.PlayerSnapshot, 0, len(players)),
	}
	for _, record := range players {
		snapshot.Players = append(snapshot.Players, servermsg.PlayerSnapshot{
			PlayerId:                  record.PlayerId,
			AcknowledgedInputSequence: record.AcknowledgedSequence,
			LastAppliedInputSequence:  record.LastAppliedSequence,
			Position:                  record.Kinematics.Position,
			Rotation:                  record.Kinematics.Rotation,
		})
	}
	s.snapshotHistory.Push(snapshot)

	if len(players) == 0 {
		return
	}

	header := servermsg.SnapshotUpdates{ServerTick: snapshot.Tick}
	for _, record := range players {
		s.sendRaw(record, handlers.DeliveryChannel_Unreliable, func(w *codec.Writer) {
			message.WriteArray(w, &header, snapshot.Players)
		})
	}
}
