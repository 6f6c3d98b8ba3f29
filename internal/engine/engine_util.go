package engine

import (
	"slices"

	"github.com/DoyleJ11/jackport-sync/pkg/types"
)

func NewEmptyState() State {
	return State{}
}

// ClearedGame is what a consumer-requested reset leaves behind.
func ClearedGame() GameState {
	return GameState{Players: []Player{}}
}

// GameFromSnapshot converts a bootstrap response. ok is false when the snapshot
// carries no players, which means there is nothing to apply.
func GameFromSnapshot(snap types.GameSnapshot) (GameState, bool) {
	if snap.Players == nil {
		return GameState{}, false
	}
	players := make([]Player, len(snap.Players))
	for i, p := range snap.Players {
		players[i] = Player(p)
	}
	return startedGame(snap.Address(), snap.EndTimestamp, players), true
}

// WithGameSnapshot installs a bootstrapped game. A snapshot of a different round
// than the one held clears the outcome in the same step, as RoundStarted does.
func WithGameSnapshot(s State, game GameState) State {
	if game.RoundAddress != s.Game.RoundAddress {
		s.Outcome = Outcome{}
	}
	s.Game = game
	return s
}

// ChatFromSnapshot converts a chat history response; ok is false for a null body.
func ChatFromSnapshot(snap types.ChatSnapshot) ([]ChatEntry, bool) {
	if snap == nil {
		return nil, false
	}
	entries := make([]ChatEntry, len(snap))
	for i, c := range snap {
		entries[i] = ChatEntry(c)
	}
	return entries, true
}

// Clone deep-copies the slices so the result can be handed to readers.
func (s State) Clone() State {
	out := s
	out.Game.Players = clonePlayers(s.Game.Players)
	if s.Chat != nil {
		out.Chat = make([]ChatEntry, len(s.Chat))
		for i, c := range s.Chat {
			out.Chat[i] = slices.Clone(c)
		}
	}
	return out
}

func clonePlayers(in []Player) []Player {
	if in == nil {
		return nil
	}
	out := make([]Player, len(in))
	for i, p := range in {
		out[i] = slices.Clone(p)
	}
	return out
}
