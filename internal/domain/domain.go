package domain

import "time"

const (
	// TrioSize is the only supported table size. The rules of Pintintin are
	// written for three players and nothing else.
	TrioSize = 3

	// WinningScore is the fixed score at which a player wins the game and
	// the loser is determined among the other two.
	WinningScore = 150
)

// LossType classifies how a game was lost.
type LossType string

const (
	LossByPoints LossType = "points"
	LossByFoul   LossType = "foul"
)

// The three canonical foul labels. They are defaults offered to the UI,
// not an enforced closed set: any non-empty label is recorded verbatim.
const (
	FoulPassWithTile  = "Pase con ficha"
	FoulPrematurePlay = "Jugo adelantado"
	FoulChivo         = "Chivo"
)

// Player is a rostered player with a cumulative loss count.
type Player struct {
	PlayerID string `json:"id"`
	Name     string `json:"name"`
	Losses   int    `json:"losses"`
}

// SessionPlayer is a snapshot of a player at game start. The name is copied,
// not live-linked, so later roster changes do not rewrite a running game.
type SessionPlayer struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
}

// Session is one game, in progress or just concluded. The fixed-size players
// array keeps sessions with any other player count unconstructible.
type Session struct {
	SessionID  string                  `json:"id"`
	Players    [TrioSize]SessionPlayer `json:"players"`
	IsFinished bool                    `json:"isFinished"`

	// WinnerID names the player who crossed the threshold. During a loser
	// tie it is already set while IsFinished is still false.
	WinnerID string `json:"winnerId,omitempty"`

	// WinnerIDs is populated only on a foul, where the two non-offending
	// players are both winners.
	WinnerIDs []string `json:"winnerIds,omitempty"`

	LoserID     string `json:"loserId,omitempty"`
	TieForLoser bool   `json:"tieForLoser,omitempty"`
}

// PlayerIndex returns the position of the given player in the session,
// or -1 if the id does not belong to the trio.
func (s *Session) PlayerIndex(playerID string) int {
	for i, p := range s.Players {
		if p.PlayerID == playerID {
			return i
		}
	}
	return -1
}

// Opponents returns the display names of everyone except the given player,
// in session order.
func (s *Session) Opponents(playerID string) []string {
	names := make([]string, 0, TrioSize-1)
	for _, p := range s.Players {
		if p.PlayerID != playerID {
			names = append(names, p.Name)
		}
	}
	return names
}

// FinalScore is one player's score at the end of a game. History entries key
// final scores by player id and carry the display name alongside, so two
// players sharing a name never collapse into one record.
type FinalScore struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// HistoryEntry is the immutable record of one finished game. PlayerID names
// the loser; entries accumulate newest-first in the ledger's log.
type HistoryEntry struct {
	EntryID     string                `json:"id"`
	PlayerID    string                `json:"playerId"`
	Opponents   []string              `json:"opponents"`
	FinalScores map[string]FinalScore `json:"finalScores"`
	LossType    LossType              `json:"lossType"`
	FoulType    string                `json:"foulType,omitempty"`
	Date        time.Time             `json:"date"`
}

// GameResult is the terminal outcome of a session, produced by the engine
// exactly once per finished game and consumed by the ledger.
type GameResult struct {
	Session    Session
	LossType   LossType
	FoulType   string
	FinishedAt time.Time
}

// ChatMessage is an opaque chat payload relayed between participants.
// Timestamp is unix milliseconds.
type ChatMessage struct {
	MessageID string `json:"id"`
	User      string `json:"user"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// Snapshot is the full persisted application state: the four durable values
// plus the current display name.
type Snapshot struct {
	Players     []Player       `json:"players"`
	History     []HistoryEntry `json:"history"`
	GameCount   int            `json:"gameCount"`
	ActiveGame  *Session       `json:"activeGame"`
	DisplayName string         `json:"displayName"`
}
