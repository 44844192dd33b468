package domain

import "time"

// Color identifies a chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Opponent returns the other side.
func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// MatchStatus represents a match lifecycle state.
type MatchStatus string

const (
	StatusWaitingForPrompts MatchStatus = "waiting_for_prompts"
	StatusInProgress        MatchStatus = "in_progress"
	StatusCompleted         MatchStatus = "completed"
)

// StartFEN is the standard chess starting position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Match is the persisted state of one AI-vs-AI game.
type Match struct {
	UUID           string
	Code           string
	Status         MatchStatus
	WhitePrompt    string
	BlackPrompt    string
	WhiteSessionID string
	BlackSessionID string
	BoardFEN       string
	CurrentTurn    Color
	Result         string
	IsPaused       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PromptFor returns the strategy prompt for a side.
func (m *Match) PromptFor(c Color) string {
	if c == White {
		return m.WhitePrompt
	}
	return m.BlackPrompt
}

// SessionIDFor returns the oracle continuation token stored for a side.
func (m *Match) SessionIDFor(c Color) string {
	if c == White {
		return m.WhiteSessionID
	}
	return m.BlackSessionID
}

// SetSessionID stores the oracle continuation token for a side.
func (m *Match) SetSessionID(c Color, id string) {
	if c == White {
		m.WhiteSessionID = id
		return
	}
	m.BlackSessionID = id
}

// BothPromptsSet reports whether the match is ready to run.
func (m *Match) BothPromptsSet() bool {
	return m.WhitePrompt != "" && m.BlackPrompt != ""
}

// MoveRecord is one executed ply. MoveNumber is shared by the white and
// black plies of a full turn and increments only after black moves.
type MoveRecord struct {
	ID          int64
	MatchCode   string
	MoveNumber  int
	Color       Color
	MoveUCI     string
	MoveSAN     string
	Comment     string
	WasFallback bool
	CreatedAt   time.Time
}
