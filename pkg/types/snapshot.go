package types

import "encoding/json"

// GET {base}getRecentGame
//   players: Player[]      (absent or null means "no round yet")
//   endTimestamp: number
//   pda | roundAddress: string
type GameSnapshot struct {
	Players      []json.RawMessage `json:"players"`
	EndTimestamp int64             `json:"endTimestamp"`
	RoundAddress string            `json:"roundAddress"`
	PDA          string            `json:"pda"`
}

// Address prefers the current field name and falls back to the legacy one.
func (g GameSnapshot) Address() string {
	if g.RoundAddress != "" {
		return g.RoundAddress
	}
	return g.PDA
}

// GET {base}getMessage
//   ChatEntry[]
type ChatSnapshot []json.RawMessage
