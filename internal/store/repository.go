// Package store persists matches and their move history in Postgres.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/park285/vibechess-server/internal/domain"
)

var ErrMatchNotFound = errors.New("match not found")

type Repository interface {
	CreateMatch(ctx context.Context, m *domain.Match) error
	GetMatch(ctx context.Context, code string) (*domain.Match, error)
	UpdateMatch(ctx context.Context, m *domain.Match) error
	ListMoves(ctx context.Context, code string) ([]domain.MoveRecord, error)
	// RecordMove inserts the move and updates the match row in one
	// transaction so a crash between the two cannot desync board state from
	// history.
	RecordMove(ctx context.Context, m *domain.Match, rec *domain.MoveRecord) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

// EnsureSchema creates the tables when they do not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS games (
			id UUID PRIMARY KEY,
			game_code TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL,
			white_prompt TEXT NOT NULL DEFAULT '',
			black_prompt TEXT NOT NULL DEFAULT '',
			white_session_id TEXT NOT NULL DEFAULT '',
			black_session_id TEXT NOT NULL DEFAULT '',
			board_fen TEXT NOT NULL,
			current_turn TEXT NOT NULL,
			result TEXT NOT NULL DEFAULT '',
			is_paused BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS moves (
			id BIGSERIAL PRIMARY KEY,
			game_code TEXT NOT NULL REFERENCES games(game_code) ON DELETE CASCADE,
			move_number INTEGER NOT NULL,
			color TEXT NOT NULL,
			move_uci TEXT NOT NULL,
			move_san TEXT NOT NULL,
			comment TEXT NOT NULL DEFAULT '',
			was_fallback BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_moves_game_code ON moves (game_code, id);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (r *repository) CreateMatch(ctx context.Context, m *domain.Match) error {
	if m == nil {
		return fmt.Errorf("nil match payload")
	}
	const query = `
		INSERT INTO games (
			id, game_code, status,
			white_prompt, black_prompt,
			white_session_id, black_session_id,
			board_fen, current_turn, result, is_paused,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := r.db.ExecContext(ctx, query,
		m.UUID, m.Code, m.Status,
		m.WhitePrompt, m.BlackPrompt,
		m.WhiteSessionID, m.BlackSessionID,
		m.BoardFEN, m.CurrentTurn, m.Result, m.IsPaused,
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert game: %w", err)
	}
	return nil
}

func (r *repository) GetMatch(ctx context.Context, code string) (*domain.Match, error) {
	const query = `
		SELECT
			id, game_code, status,
			white_prompt, black_prompt,
			white_session_id, black_session_id,
			board_fen, current_turn, result, is_paused,
			created_at, updated_at
		FROM games
		WHERE game_code = $1`
	m := &domain.Match{}
	err := r.db.QueryRowContext(ctx, query, code).Scan(
		&m.UUID, &m.Code, &m.Status,
		&m.WhitePrompt, &m.BlackPrompt,
		&m.WhiteSessionID, &m.BlackSessionID,
		&m.BoardFEN, &m.CurrentTurn, &m.Result, &m.IsPaused,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select game: %w", err)
	}
	return m, nil
}

func (r *repository) UpdateMatch(ctx context.Context, m *domain.Match) error {
	if m == nil {
		return fmt.Errorf("nil match payload")
	}
	m.UpdatedAt = time.Now()
	res, err := r.db.ExecContext(ctx, updateGameQuery, updateGameArgs(m)...)
	if err != nil {
		return fmt.Errorf("update game: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrMatchNotFound
	}
	return nil
}

const updateGameQuery = `
	UPDATE games SET
		status = $2,
		white_prompt = $3,
		black_prompt = $4,
		white_session_id = $5,
		black_session_id = $6,
		board_fen = $7,
		current_turn = $8,
		result = $9,
		is_paused = $10,
		updated_at = $11
	WHERE game_code = $1`

func updateGameArgs(m *domain.Match) []any {
	return []any{
		m.Code, m.Status,
		m.WhitePrompt, m.BlackPrompt,
		m.WhiteSessionID, m.BlackSessionID,
		m.BoardFEN, m.CurrentTurn, m.Result, m.IsPaused,
		m.UpdatedAt,
	}
}

func (r *repository) ListMoves(ctx context.Context, code string) ([]domain.MoveRecord, error) {
	const query = `
		SELECT id, game_code, move_number, color, move_uci, move_san, comment, was_fallback, created_at
		FROM moves
		WHERE game_code = $1
		ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query, code)
	if err != nil {
		return nil, fmt.Errorf("select moves: %w", err)
	}
	defer rows.Close()

	var out []domain.MoveRecord
	for rows.Next() {
		var rec domain.MoveRecord
		if err := rows.Scan(
			&rec.ID, &rec.MatchCode, &rec.MoveNumber, &rec.Color,
			&rec.MoveUCI, &rec.MoveSAN, &rec.Comment, &rec.WasFallback,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan move: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate moves: %w", err)
	}
	return out, nil
}

func (r *repository) RecordMove(ctx context.Context, m *domain.Match, rec *domain.MoveRecord) error {
	if m == nil || rec == nil {
		return fmt.Errorf("nil record payload")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rec.CreatedAt = time.Now()
	const insertMove = `
		INSERT INTO moves (game_code, move_number, color, move_uci, move_san, comment, was_fallback, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
	err = tx.QueryRowContext(ctx, insertMove,
		rec.MatchCode, rec.MoveNumber, rec.Color,
		rec.MoveUCI, rec.MoveSAN, rec.Comment, rec.WasFallback,
		rec.CreatedAt,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("insert move: %w", err)
	}

	m.UpdatedAt = time.Now()
	if _, err := tx.ExecContext(ctx, updateGameQuery, updateGameArgs(m)...); err != nil {
		return fmt.Errorf("update game in tx: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit move: %w", err)
	}
	return nil
}
