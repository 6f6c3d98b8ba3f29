package engine

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/DoyleJ11/jackport-sync/pkg/types"
)

type roundPayload struct {
	RoundAddress *string  `json:"roundAddress"`
	PDA          *string  `json:"pda"`
	EndTimestamp *int64   `json:"endTimestamp"`
	Players      []Player `json:"players"`
}

type presencePayload struct {
	Count *int `json:"count"`
}

type outcomePayload struct {
	Winner       *string `json:"winner"`
	ResultHeight int64   `json:"resultHeight"`
}

// NormalizeKind maps legacy server event names onto the current ones.
func NormalizeKind(name string) string {
	if current, ok := types.LegacyEventNames[name]; ok {
		return current
	}
	return name
}

// Decode turns a server frame into an Event. Missing required fields yield
// ErrMalformedEvent, unrecognised names ErrUnknownEvent.
func Decode(frame types.Frame) (Event, error) {
	kind := NormalizeKind(frame.Event)

	switch kind {
	case types.EventTimeUpdated, types.EventRoundStarted:
		p, err := decodeRound(kind, frame.Data)
		if err != nil {
			return nil, err
		}
		address := p.RoundAddress
		if address == nil {
			address = p.PDA
		}
		switch {
		case address == nil:
			return nil, fmt.Errorf("%s: missing roundAddress: %w", kind, ErrMalformedEvent)
		case p.EndTimestamp == nil:
			return nil, fmt.Errorf("%s: missing endTimestamp: %w", kind, ErrMalformedEvent)
		case p.Players == nil:
			return nil, fmt.Errorf("%s: missing players: %w", kind, ErrMalformedEvent)
		}
		if kind == types.EventRoundStarted {
			return RoundStarted{RoundAddress: *address, EndTimestamp: *p.EndTimestamp, Players: p.Players}, nil
		}
		return TimeUpdated{RoundAddress: *address, EndTimestamp: *p.EndTimestamp, Players: p.Players}, nil

	case types.EventPresenceUpdated:
		var p presencePayload
		if isNumber(frame.Data) {
			// legacy servers send the bare counter
			p.Count = new(int)
			if err := unmarshal(kind, frame.Data, p.Count); err != nil {
				return nil, err
			}
		} else if err := unmarshal(kind, frame.Data, &p); err != nil {
			return nil, err
		}
		if p.Count == nil {
			return nil, fmt.Errorf("%s: missing count: %w", kind, ErrMalformedEvent)
		}
		return PresenceUpdated{Count: *p.Count}, nil

	case types.EventRoundEnded:
		var p outcomePayload
		if err := unmarshal(kind, frame.Data, &p); err != nil {
			return nil, err
		}
		if p.Winner == nil {
			return nil, fmt.Errorf("%s: missing winner: %w", kind, ErrMalformedEvent)
		}
		return RoundEnded{Winner: *p.Winner, ResultHeight: p.ResultHeight}, nil

	case types.EventChatUpdated:
		var entries []ChatEntry
		if err := unmarshal(kind, frame.Data, &entries); err != nil {
			return nil, err
		}
		if entries == nil {
			return nil, fmt.Errorf("%s: missing entries: %w", kind, ErrMalformedEvent)
		}
		return ChatUpdated{Entries: entries}, nil

	default:
		return nil, fmt.Errorf("%q: %w", frame.Event, ErrUnknownEvent)
	}
}

// decodeRound accepts the named record or the legacy positional
// [roundAddress, endTimestamp, players] form.
func decodeRound(kind string, data json.RawMessage) (roundPayload, error) {
	var p roundPayload
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		err := unmarshal(kind, data, &p)
		return p, err
	}

	var args []json.RawMessage
	if err := unmarshal(kind, data, &args); err != nil {
		return p, err
	}
	if len(args) != 3 {
		return p, fmt.Errorf("%s: want 3 positional values, got %d: %w", kind, len(args), ErrMalformedEvent)
	}
	var address string
	var end int64
	if err := unmarshal(kind, args[0], &address); err != nil {
		return p, err
	}
	if err := unmarshal(kind, args[1], &end); err != nil {
		return p, err
	}
	if err := unmarshal(kind, args[2], &p.Players); err != nil {
		return p, err
	}
	p.RoundAddress, p.EndTimestamp = &address, &end
	return p, nil
}

func isNumber(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && (trimmed[0] == '-' || (trimmed[0] >= '0' && trimmed[0] <= '9'))
}

func unmarshal(kind string, data json.RawMessage, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("%s: empty payload: %w", kind, ErrMalformedEvent)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %v: %w", kind, err, ErrMalformedEvent)
	}
	return nil
}
