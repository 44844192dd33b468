package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/park285/vibechess-server/internal/domain"
)

// MemRepo is an in-memory Repository used by tests.
type MemRepo struct {
	mu      sync.Mutex
	matches map[string]domain.Match
	moves   map[string][]domain.MoveRecord
	nextID  int64
}

func NewMemRepo() *MemRepo {
	return &MemRepo{
		matches: make(map[string]domain.Match),
		moves:   make(map[string][]domain.MoveRecord),
	}
}

func (r *MemRepo) CreateMatch(_ context.Context, m *domain.Match) error {
	if m == nil {
		return fmt.Errorf("nil match payload")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.matches[m.Code]; ok {
		return fmt.Errorf("match %s already exists", m.Code)
	}
	r.matches[m.Code] = *m
	return nil
}

func (r *MemRepo) GetMatch(_ context.Context, code string) (*domain.Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matches[code]
	if !ok {
		return nil, ErrMatchNotFound
	}
	cp := m
	return &cp, nil
}

func (r *MemRepo) UpdateMatch(_ context.Context, m *domain.Match) error {
	if m == nil {
		return fmt.Errorf("nil match payload")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.matches[m.Code]; !ok {
		return ErrMatchNotFound
	}
	m.UpdatedAt = time.Now()
	r.matches[m.Code] = *m
	return nil
}

func (r *MemRepo) ListMoves(_ context.Context, code string) ([]domain.MoveRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.MoveRecord(nil), r.moves[code]...), nil
}

func (r *MemRepo) RecordMove(_ context.Context, m *domain.Match, rec *domain.MoveRecord) error {
	if m == nil || rec == nil {
		return fmt.Errorf("nil record payload")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.matches[m.Code]; !ok {
		return ErrMatchNotFound
	}
	r.nextID++
	rec.ID = r.nextID
	rec.CreatedAt = time.Now()
	r.moves[rec.MatchCode] = append(r.moves[rec.MatchCode], *rec)
	m.UpdatedAt = time.Now()
	r.matches[m.Code] = *m
	return nil
}
