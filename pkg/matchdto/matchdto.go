// Package matchdto defines the JSON shapes of the public HTTP API.
package matchdto

import (
	"time"

	"github.com/park285/vibechess-server/internal/domain"
)

type CreateGameResponse struct {
	GameCode string `json:"game_code"`
}

type SubmitPromptRequest struct {
	Color  domain.Color `json:"color"`
	Prompt string       `json:"prompt"`
}

type SubmitPromptResponse struct {
	Message     string `json:"message"`
	GameStarted bool   `json:"game_started"`
}

type MoveResponse struct {
	MoveNumber  int          `json:"move_number"`
	Color       domain.Color `json:"color"`
	MoveUCI     string       `json:"move_uci"`
	MoveSAN     string       `json:"move_san"`
	Comment     string       `json:"comment,omitempty"`
	WasFallback bool         `json:"was_fallback"`
	CreatedAt   time.Time    `json:"created_at"`
}

type GameResponse struct {
	GameCode    string             `json:"game_code"`
	Status      domain.MatchStatus `json:"status"`
	WhitePrompt string             `json:"white_prompt,omitempty"`
	BlackPrompt string             `json:"black_prompt,omitempty"`
	BoardFEN    string             `json:"board_fen"`
	CurrentTurn domain.Color       `json:"current_turn"`
	Result      string             `json:"result,omitempty"`
	Moves       []MoveResponse     `json:"moves"`
	CreatedAt   time.Time          `json:"created_at"`
}

type ErrorResponse struct {
	Detail string `json:"detail"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// FromMoveRecord converts a stored move into its API shape.
func FromMoveRecord(rec domain.MoveRecord) MoveResponse {
	return MoveResponse{
		MoveNumber:  rec.MoveNumber,
		Color:       rec.Color,
		MoveUCI:     rec.MoveUCI,
		MoveSAN:     rec.MoveSAN,
		Comment:     rec.Comment,
		WasFallback: rec.WasFallback,
		CreatedAt:   rec.CreatedAt,
	}
}

// FromMatch converts a stored match and its history into the API shape.
func FromMatch(m *domain.Match, moves []domain.MoveRecord) GameResponse {
	out := GameResponse{
		GameCode:    m.Code,
		Status:      m.Status,
		WhitePrompt: m.WhitePrompt,
		BlackPrompt: m.BlackPrompt,
		BoardFEN:    m.BoardFEN,
		CurrentTurn: m.CurrentTurn,
		Result:      m.Result,
		Moves:       make([]MoveResponse, 0, len(moves)),
		CreatedAt:   m.CreatedAt,
	}
	for _, rec := range moves {
		out.Moves = append(out.Moves, FromMoveRecord(rec))
	}
	return out
}
