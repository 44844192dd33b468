// Package oracle abstracts the language-model backend that plays the moves.
package oracle

import (
	"context"
	"errors"
)

var (
	ErrBinaryNotFound = errors.New("oracle: claude binary not found")
	ErrEmptyPrompt    = errors.New("oracle: empty prompt")
)

// Request is a single turn sent to the model. SessionID resumes an existing
// conversation; when it is empty, SystemPrompt seeds a fresh one.
type Request struct {
	Prompt       string
	SystemPrompt string
	SessionID    string
}

// Response carries the raw model text and the session to resume next turn.
// Text may be empty when the backend failed; callers treat that as an
// unparseable response rather than a fatal error.
type Response struct {
	Text      string
	SessionID string
}

// MoveOracle asks the model for a move. Implementations must not panic and
// should degrade to an empty-text Response on backend failures.
type MoveOracle interface {
	Ask(ctx context.Context, req Request) (Response, error)
}
