package types

import "encoding/json"

// Server -> Client frames arrive as one JSON text message each:
//   {"event": "<name>", "data": <payload>}
//
// timeUpdated / roundStarted:
//   roundAddress: string (legacy key: pda)
//   endTimestamp: number
//   players: Player[]
//   legacy servers send [roundAddress, endTimestamp, players] instead
//
// presenceUpdated:
//   count: number (legacy: bare number)
//
// roundEnded:
//   winner: string
//   resultHeight: number
//
// chatUpdated:
//   ChatEntry[]

const (
	EventTimeUpdated     = "timeUpdated"
	EventPresenceUpdated = "presenceUpdated"
	EventRoundStarted    = "roundStarted"
	EventRoundEnded      = "roundEnded"
	EventChatUpdated     = "chatUpdated"

	// Lifecycle notifications raised by the channel itself, never sent by the server.
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

// Legacy names still emitted by older game servers.
var LegacyEventNames = map[string]string{
	"endTimeUpdated":    EventTimeUpdated,
	"connectionUpdated": EventPresenceUpdated,
	"startGame":         EventRoundStarted,
	"gameEnded":         EventRoundEnded,
}

type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Consumer -> syncd commands on the local /ws stream.
type ConsumerMessage struct {
	Type  string `json:"type"` // "ClearGame" | "ReloadGame" | "SetSessionFlag"
	Value bool   `json:"value,omitempty"`
}

// syncd -> Consumer
type ConsumerUpdate struct {
	Type    string `json:"type"` // "StateSnapshot" | "Error"
	Version int    `json:"version,omitempty"`
	State   any    `json:"state,omitempty"`
	Error   string `json:"error,omitempty"`
}
