package events

import "github.com/park285/vibechess-server/internal/domain"

// Event type discriminators as they appear on the wire.
const (
	TypeGameStarted     = "game_started"
	TypePromptSubmitted = "prompt_submitted"
	TypeMove            = "move"
	TypeGameOver        = "game_over"
)

// Event is one serializable match event. Every concrete event carries its
// discriminator in a "type" field so subscribers can switch exhaustively.
type Event interface {
	EventType() string
}

type GameStarted struct {
	Type string `json:"type"`
}

func NewGameStarted() GameStarted {
	return GameStarted{Type: TypeGameStarted}
}

func (e GameStarted) EventType() string { return e.Type }

type PromptSubmitted struct {
	Type  string       `json:"type"`
	Color domain.Color `json:"color"`
}

func NewPromptSubmitted(color domain.Color) PromptSubmitted {
	return PromptSubmitted{Type: TypePromptSubmitted, Color: color}
}

func (e PromptSubmitted) EventType() string { return e.Type }

type Move struct {
	Type            string       `json:"type"`
	MoveNumber      int          `json:"move_number"`
	Color           domain.Color `json:"color"`
	MoveUCI         string       `json:"move_uci"`
	MoveSAN         string       `json:"move_san"`
	Comment         string       `json:"comment,omitempty"`
	WasFallback     bool         `json:"was_fallback"`
	BoardFEN        string       `json:"board_fen"`
	BoardASCII      string       `json:"board_ascii"`
	Commentary      string       `json:"commentary,omitempty"`
	CommentaryAudio string       `json:"commentary_audio,omitempty"`
	MyEmotion       string       `json:"my_emotion,omitempty"`
	OpponentEmotion string       `json:"opponent_emotion,omitempty"`
}

func (e Move) EventType() string { return e.Type }

type GameOver struct {
	Type        string `json:"type"`
	Result      string `json:"result"`
	Termination string `json:"termination"`
}

func NewGameOver(result, termination string) GameOver {
	return GameOver{Type: TypeGameOver, Result: result, Termination: termination}
}

func (e GameOver) EventType() string { return e.Type }
