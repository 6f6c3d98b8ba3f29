package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/DoyleJ11/jackport-sync/pkg/types"
)

var ErrMalformedEvent = errors.New("malformed event payload")
var ErrUnknownEvent = errors.New("unknown event")

// Player is an opaque participant record. Only the game server interprets its fields;
// the bytes are kept exactly as received.
type Player json.RawMessage

func (p Player) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	return []byte(p), nil
}

func (p *Player) UnmarshalJSON(b []byte) error {
	*p = append((*p)[0:0], b...)
	return nil
}

// ChatEntry is an opaque chat message record.
type ChatEntry json.RawMessage

func (c ChatEntry) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("null"), nil
	}
	return []byte(c), nil
}

func (c *ChatEntry) UnmarshalJSON(b []byte) error {
	*c = append((*c)[0:0], b...)
	return nil
}

// GameState is the active round. RoundAddress and EndTimestamp are only meaningful
// while Started is true.
type GameState struct {
	Players      []Player `json:"players"`
	RoundAddress string   `json:"roundAddress"`
	EndTimestamp int64    `json:"endTimestamp"`
	Started      bool     `json:"started"`
}

// Outcome of the latest round. Empty Winner means "none yet".
type Outcome struct {
	Winner       string `json:"winner"`
	ResultHeight int64  `json:"resultHeight"`
}

type State struct {
	Game     GameState   `json:"game"`
	Outcome  Outcome     `json:"outcome"`
	Chat     []ChatEntry `json:"chat"` // nil until the first chat snapshot or update
	Presence int         `json:"presence"`
}

// ConnHandle identifies the channel a session opened. It is owned by the session
// manager; the store only carries it for readers.
type ConnHandle struct {
	SessionID string `json:"sessionId"`
	Endpoint  string `json:"endpoint"`
}

// Slice names the independently replaced parts of State.
type Slice uint8

const (
	SliceGame Slice = 1 << iota
	SliceOutcome
	SliceChat
	SlicePresence
)

func (s Slice) Has(other Slice) bool { return s&other != 0 }

type Event interface {
	Kind() string
	Affects() Slice
}

type TimeUpdated struct {
	RoundAddress string
	EndTimestamp int64
	Players      []Player
}

type PresenceUpdated struct {
	Count int
}

// RoundStarted replaces the game and clears the outcome in one transition.
type RoundStarted struct {
	RoundAddress string
	EndTimestamp int64
	Players      []Player
}

type RoundEnded struct {
	Winner       string
	ResultHeight int64
}

type ChatUpdated struct {
	Entries []ChatEntry
}

func (TimeUpdated) Kind() string     { return types.EventTimeUpdated }
func (PresenceUpdated) Kind() string { return types.EventPresenceUpdated }
func (RoundStarted) Kind() string    { return types.EventRoundStarted }
func (RoundEnded) Kind() string      { return types.EventRoundEnded }
func (ChatUpdated) Kind() string     { return types.EventChatUpdated }

func (TimeUpdated) Affects() Slice     { return SliceGame }
func (PresenceUpdated) Affects() Slice { return SlicePresence }
func (RoundStarted) Affects() Slice    { return SliceGame | SliceOutcome }
func (RoundEnded) Affects() Slice      { return SliceOutcome }
func (ChatUpdated) Affects() Slice     { return SliceChat }

// Apply folds one event into s. A payload that fails validation leaves s untouched and
// returns an error wrapping ErrMalformedEvent. Re-applying the same event is a no-op.
func Apply(s State, ev Event) (State, error) {
	newState := s

	switch e := ev.(type) {
	case TimeUpdated:
		if err := validateRound(e.RoundAddress, e.Players); err != nil {
			return s, fmt.Errorf("%s: %w", e.Kind(), err)
		}
		newState.Game = startedGame(e.RoundAddress, e.EndTimestamp, e.Players)
		return newState, nil

	case PresenceUpdated:
		if e.Count < 0 {
			return s, fmt.Errorf("%s: negative count %d: %w", e.Kind(), e.Count, ErrMalformedEvent)
		}
		newState.Presence = e.Count
		return newState, nil

	case RoundStarted:
		if err := validateRound(e.RoundAddress, e.Players); err != nil {
			return s, fmt.Errorf("%s: %w", e.Kind(), err)
		}
		newState.Game = startedGame(e.RoundAddress, e.EndTimestamp, e.Players)
		newState.Outcome = Outcome{}
		return newState, nil

	case RoundEnded:
		// Game stays started; the finished round is frozen until the next RoundStarted.
		newState.Outcome = Outcome{Winner: e.Winner, ResultHeight: e.ResultHeight}
		return newState, nil

	case ChatUpdated:
		if e.Entries == nil {
			return s, fmt.Errorf("%s: missing entries: %w", e.Kind(), ErrMalformedEvent)
		}
		newState.Chat = slices.Clone(e.Entries)
		return newState, nil

	default:
		return s, fmt.Errorf("%T: %w", ev, ErrUnknownEvent)
	}
}

func validateRound(address string, players []Player) error {
	if address == "" {
		return fmt.Errorf("missing round address: %w", ErrMalformedEvent)
	}
	if players == nil {
		return fmt.Errorf("missing players: %w", ErrMalformedEvent)
	}
	return nil
}

func startedGame(address string, endTimestamp int64, players []Player) GameState {
	return GameState{
		Players:      slices.Clone(players),
		RoundAddress: address,
		EndTimestamp: endTimestamp,
		Started:      true,
	}
}
