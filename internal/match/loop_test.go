package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/vibechess-server/internal/domain"
	"github.com/park285/vibechess-server/internal/events"
	"github.com/park285/vibechess-server/internal/oracle"
	"github.com/park285/vibechess-server/internal/prompts"
	"github.com/park285/vibechess-server/internal/store"
)

type scriptedOracle struct {
	mu       sync.Mutex
	replies  []string
	requests []oracle.Request
	onAsk    func(call int)
}

func (s *scriptedOracle) Ask(_ context.Context, req oracle.Request) (oracle.Response, error) {
	s.mu.Lock()
	call := len(s.requests)
	s.requests = append(s.requests, req)
	var text string
	if call < len(s.replies) {
		text = s.replies[call]
	}
	hook := s.onAsk
	s.mu.Unlock()
	if hook != nil {
		hook(call)
	}
	return oracle.Response{Text: text, SessionID: fmt.Sprintf("sess-%d", call)}, nil
}

func (s *scriptedOracle) recorded() []oracle.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]oracle.Request(nil), s.requests...)
}

type stubNarrator struct {
	audio string
}

func (n *stubNarrator) Narrate(context.Context, string) string { return n.audio }
func (n *stubNarrator) Enabled() bool                          { return n.audio != "" }

func newRunnableMatch(t *testing.T, repo store.Repository, code string) *domain.Match {
	t.Helper()
	now := time.Now()
	m := &domain.Match{
		UUID:        uuid.NewString(),
		Code:        code,
		Status:      domain.StatusWaitingForPrompts,
		WhitePrompt: "attack fast",
		BlackPrompt: "defend solidly",
		BoardFEN:    domain.StartFEN,
		CurrentTurn: domain.White,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repo.CreateMatch(context.Background(), m); err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	return m
}

func newTestLoop(t *testing.T, repo store.Repository, bus *events.Bus, mo oracle.MoveOracle, nar Narrator) *Loop {
	t.Helper()
	catalog, err := prompts.New("")
	if err != nil {
		t.Fatalf("prompts.New: %v", err)
	}
	cfg := LoopConfig{SubscriberWait: 200 * time.Millisecond, OracleTimeout: 2 * time.Second}
	return NewLoop(repo, bus, mo, catalog, nar, cfg, zap.NewNop())
}

func drainEvents(t *testing.T, sub *events.Subscriber, max int) []map[string]any {
	t.Helper()
	var out []map[string]any
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for len(out) < max {
		data, ok := sub.Next(ctx)
		if !ok {
			break
		}
		var ev map[string]any
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("bad event json %q: %v", data, err)
		}
		out = append(out, ev)
	}
	return out
}

func TestLoopPlaysFoolsMateToCompletion(t *testing.T) {
	repo := store.NewMemRepo()
	bus := events.NewBus(zap.NewNop())
	mo := &scriptedOracle{replies: []string{
		"MOVE: f3\nCOMMENT: A sneaky start.\nCOMMENTARY: An unusual opening from white!\nMY_EMOTION: smug_trap_setter\nOPPONENT_EMOTION: stone_wall",
		"MOVE: e5\nCOMMENT: Taking the center.",
		"MOVE: g4\nCOMMENT: Forward!",
		"MOVE: Qh4#\nCOMMENT: It is over.\nMY_EMOTION: eureka_moment",
	}}
	loop := newTestLoop(t, repo, bus, mo, &stubNarrator{})
	newRunnableMatch(t, repo, "FOOLS1")

	sub := bus.Subscribe("FOOLS1")
	defer sub.Close()

	if err := loop.Run(context.Background(), "FOOLS1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	evs := drainEvents(t, sub, 6)
	if len(evs) != 6 {
		t.Fatalf("expected 6 events, got %d: %v", len(evs), evs)
	}
	if evs[0]["type"] != "game_started" {
		t.Fatalf("first event: %v", evs[0])
	}
	for i, want := range []struct {
		san   string
		color string
		num   float64
	}{
		{"f3", "white", 1}, {"e5", "black", 1}, {"g4", "white", 2}, {"Qh4#", "black", 2},
	} {
		ev := evs[i+1]
		if ev["type"] != "move" || ev["move_san"] != want.san || ev["color"] != want.color {
			t.Fatalf("move event %d: %v", i, ev)
		}
		if ev["move_number"] != want.num {
			t.Fatalf("move_number %d: %v", i, ev["move_number"])
		}
		if fb, _ := ev["was_fallback"].(bool); fb {
			t.Fatalf("unexpected fallback at %d: %v", i, ev)
		}
	}
	if evs[1]["my_emotion"] != "smug_trap_setter" || evs[1]["commentary"] != "An unusual opening from white!" {
		t.Fatalf("first move event fields: %v", evs[1])
	}
	if evs[5]["type"] != "game_over" || evs[5]["result"] != "black_wins" || evs[5]["termination"] != "checkmate" {
		t.Fatalf("game_over event: %v", evs[5])
	}
	// Stream ends after the close.
	if _, ok := sub.Next(context.Background()); ok {
		t.Fatal("stream should be closed after game over")
	}

	got, err := repo.GetMatch(context.Background(), "FOOLS1")
	if err != nil {
		t.Fatalf("GetMatch: %v", err)
	}
	if got.Status != domain.StatusCompleted || got.Result != "black_wins" || got.IsPaused {
		t.Fatalf("final match state: %+v", got)
	}
	if got.WhiteSessionID == "" || got.BlackSessionID == "" {
		t.Fatalf("session ids not stored: %+v", got)
	}

	moves, _ := repo.ListMoves(context.Background(), "FOOLS1")
	if len(moves) != 4 || moves[3].MoveSAN != "Qh4#" || moves[3].Color != domain.Black {
		t.Fatalf("stored moves: %+v", moves)
	}
}

func TestLoopSeedsSystemPromptThenResumes(t *testing.T) {
	repo := store.NewMemRepo()
	bus := events.NewBus(zap.NewNop())
	mo := &scriptedOracle{replies: []string{
		"MOVE: f3", "MOVE: e5", "MOVE: g4", "MOVE: Qh4#",
	}}
	loop := newTestLoop(t, repo, bus, mo, &stubNarrator{})
	newRunnableMatch(t, repo, "SESS01")

	sub := bus.Subscribe("SESS01")
	defer sub.Close()
	if err := loop.Run(context.Background(), "SESS01"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	reqs := mo.recorded()
	if len(reqs) != 4 {
		t.Fatalf("expected 4 oracle calls, got %d", len(reqs))
	}
	// First call per side carries a system prompt, later calls resume.
	if reqs[0].SystemPrompt == "" || reqs[0].SessionID != "" {
		t.Fatalf("white first request: %+v", reqs[0])
	}
	if reqs[1].SystemPrompt == "" || reqs[1].SessionID != "" {
		t.Fatalf("black first request: %+v", reqs[1])
	}
	if reqs[2].SessionID != "sess-0" || reqs[2].SystemPrompt != "" {
		t.Fatalf("white resume request: %+v", reqs[2])
	}
	if reqs[3].SessionID != "sess-1" {
		t.Fatalf("black resume request: %+v", reqs[3])
	}
	if !strings.Contains(reqs[0].Prompt, "attack fast") {
		t.Fatalf("white strategy missing from prompt")
	}
	if !strings.Contains(reqs[1].Prompt, "defend solidly") {
		t.Fatalf("black strategy missing from prompt")
	}
	if !strings.Contains(reqs[0].Prompt, "Legal moves available:") {
		t.Fatalf("legal moves missing from prompt")
	}
	if !strings.Contains(reqs[0].Prompt, "Position (FEN): rnbqkbnr/") {
		t.Fatalf("position notation missing from prompt")
	}
}

func TestLoopFallsBackOnGarbageReply(t *testing.T) {
	repo := store.NewMemRepo()
	bus := events.NewBus(zap.NewNop())
	mo := &scriptedOracle{replies: []string{
		"I refuse to follow formats today.",
		"MOVE: e5", "MOVE: g4", "MOVE: Qh4#",
	}}
	loop := newTestLoop(t, repo, bus, mo, &stubNarrator{})
	newRunnableMatch(t, repo, "FBACK1")

	sub := bus.Subscribe("FBACK1")
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go loop.Run(ctx, "FBACK1") //nolint:errcheck

	evs := drainEvents(t, sub, 2)
	if len(evs) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evs))
	}
	mvEv := evs[1]
	if fb, _ := mvEv["was_fallback"].(bool); !fb {
		t.Fatalf("expected fallback move: %v", mvEv)
	}
	comment, _ := mvEv["comment"].(string)
	if !strings.HasPrefix(comment, "[FALLBACK - LLM suggested invalid move '") {
		t.Fatalf("fallback comment: %q", comment)
	}
	cancel()
}

func TestLoopPausesWhenNoSubscriberArrives(t *testing.T) {
	repo := store.NewMemRepo()
	bus := events.NewBus(zap.NewNop())
	mo := &scriptedOracle{}
	loop := newTestLoop(t, repo, bus, mo, &stubNarrator{})
	newRunnableMatch(t, repo, "EMPTY1")

	if err := loop.Run(context.Background(), "EMPTY1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, _ := repo.GetMatch(context.Background(), "EMPTY1")
	if !got.IsPaused || got.Status != domain.StatusInProgress {
		t.Fatalf("expected paused in-progress match: %+v", got)
	}
	if len(mo.recorded()) != 0 {
		t.Fatal("oracle must not be called without viewers")
	}
}

func TestLoopStartsWhenSubscriberArrivesDuringWait(t *testing.T) {
	repo := store.NewMemRepo()
	bus := events.NewBus(zap.NewNop())
	mo := &scriptedOracle{replies: []string{"MOVE: f3", "MOVE: e5", "MOVE: g4", "MOVE: Qh4#"}}
	loop := newTestLoop(t, repo, bus, mo, &stubNarrator{})
	newRunnableMatch(t, repo, "LATE01")

	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background(), "LATE01") }()

	time.Sleep(50 * time.Millisecond)
	sub := bus.Subscribe("LATE01")
	defer sub.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not finish")
	}

	got, _ := repo.GetMatch(context.Background(), "LATE01")
	if got.Status != domain.StatusCompleted {
		t.Fatalf("match not completed: %+v", got)
	}
}

func TestLoopPausesWhenViewersLeaveMidGame(t *testing.T) {
	repo := store.NewMemRepo()
	bus := events.NewBus(zap.NewNop())

	var sub *events.Subscriber
	mo := &scriptedOracle{replies: []string{"MOVE: f3", "MOVE: e5", "MOVE: g4", "MOVE: Qh4#"}}
	mo.onAsk = func(call int) {
		if call == 1 {
			sub.Close()
		}
	}
	loop := newTestLoop(t, repo, bus, mo, &stubNarrator{})
	newRunnableMatch(t, repo, "LEAVE1")

	sub = bus.Subscribe("LEAVE1")
	if err := loop.Run(context.Background(), "LEAVE1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, _ := repo.GetMatch(context.Background(), "LEAVE1")
	if !got.IsPaused || got.Status != domain.StatusInProgress {
		t.Fatalf("expected paused match: %+v", got)
	}
	if calls := len(mo.recorded()); calls >= 4 {
		t.Fatalf("loop should have stopped early, made %d calls", calls)
	}
}

func TestLoopAttachesCommentaryAudio(t *testing.T) {
	repo := store.NewMemRepo()
	bus := events.NewBus(zap.NewNop())
	mo := &scriptedOracle{replies: []string{
		"MOVE: f3\nCOMMENTARY: What a start!", "MOVE: e5", "MOVE: g4", "MOVE: Qh4#",
	}}
	loop := newTestLoop(t, repo, bus, mo, &stubNarrator{audio: "QUJD"})
	newRunnableMatch(t, repo, "AUDIO1")

	sub := bus.Subscribe("AUDIO1")
	defer sub.Close()
	if err := loop.Run(context.Background(), "AUDIO1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	evs := drainEvents(t, sub, 2)
	if evs[1]["commentary_audio"] != "QUJD" {
		t.Fatalf("audio missing: %v", evs[1])
	}
}

func TestLoopResumesFromStoredHistory(t *testing.T) {
	repo := store.NewMemRepo()
	bus := events.NewBus(zap.NewNop())
	// First three plies already stored; the loop should only ask for the
	// mating move.
	mo := &scriptedOracle{replies: []string{"MOVE: Qh4#"}}
	loop := newTestLoop(t, repo, bus, mo, &stubNarrator{})
	m := newRunnableMatch(t, repo, "RESUM1")

	ctx := context.Background()
	for i, mv := range []struct {
		color domain.Color
		uci   string
		san   string
		num   int
	}{
		{domain.White, "f2f3", "f3", 1}, {domain.Black, "e7e5", "e5", 1}, {domain.White, "g2g4", "g4", 2},
	} {
		rec := &domain.MoveRecord{
			MatchCode: "RESUM1", MoveNumber: mv.num, Color: mv.color, MoveUCI: mv.uci, MoveSAN: mv.san,
		}
		if err := repo.RecordMove(ctx, m, rec); err != nil {
			t.Fatalf("seed move %d: %v", i, err)
		}
	}

	sub := bus.Subscribe("RESUM1")
	defer sub.Close()
	if err := loop.Run(ctx, "RESUM1"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	evs := drainEvents(t, sub, 3)
	if len(evs) != 3 {
		t.Fatalf("expected 3 events, got %d: %v", len(evs), evs)
	}
	if evs[1]["move_san"] != "Qh4#" || evs[1]["move_number"] != float64(2) {
		t.Fatalf("resumed move event: %v", evs[1])
	}
	if evs[2]["type"] != "game_over" {
		t.Fatalf("expected game_over: %v", evs[2])
	}
	if len(mo.recorded()) != 1 {
		t.Fatalf("expected a single oracle call, got %d", len(mo.recorded()))
	}
}

// snapshotRepo captures the match row as it is handed to RecordMove, i.e.
// exactly what the transactional write would persist.
type snapshotRepo struct {
	*store.MemRepo
	mu        sync.Mutex
	snapshots []domain.Match
}

func (r *snapshotRepo) RecordMove(ctx context.Context, m *domain.Match, rec *domain.MoveRecord) error {
	r.mu.Lock()
	r.snapshots = append(r.snapshots, *m)
	r.mu.Unlock()
	return r.MemRepo.RecordMove(ctx, m, rec)
}

func (r *snapshotRepo) recorded() []domain.Match {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Match(nil), r.snapshots...)
}

func TestLoopPersistsResultWithMatingMove(t *testing.T) {
	repo := &snapshotRepo{MemRepo: store.NewMemRepo()}
	bus := events.NewBus(zap.NewNop())
	mo := &scriptedOracle{replies: []string{
		"MOVE: f3", "MOVE: e5", "MOVE: g4", "MOVE: Qh4#",
	}}
	loop := newTestLoop(t, repo, bus, mo, &stubNarrator{})
	newRunnableMatch(t, repo, "ATOM01")

	sub := bus.Subscribe("ATOM01")
	defer sub.Close()
	if err := loop.Run(context.Background(), "ATOM01"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	snaps := repo.recorded()
	if len(snaps) != 4 {
		t.Fatalf("expected 4 recorded plies, got %d", len(snaps))
	}
	for i, s := range snaps[:3] {
		if s.Status != domain.StatusInProgress || s.Result != "" {
			t.Fatalf("ply %d carried terminal state: status=%s result=%q", i, s.Status, s.Result)
		}
	}
	// The mating ply and the result share one write; a crash right after it
	// must not strand the game as in-progress.
	last := snaps[3]
	if last.Status != domain.StatusCompleted || last.Result != "black_wins" || last.IsPaused {
		t.Fatalf("terminal ply write: status=%s result=%q paused=%v", last.Status, last.Result, last.IsPaused)
	}
}

// faultyRepo fails the next n RecordMove calls.
type faultyRepo struct {
	*store.MemRepo
	mu    sync.Mutex
	failN int
}

func (r *faultyRepo) RecordMove(ctx context.Context, m *domain.Match, rec *domain.MoveRecord) error {
	r.mu.Lock()
	if r.failN > 0 {
		r.failN--
		r.mu.Unlock()
		return errors.New("connection reset by peer")
	}
	r.mu.Unlock()
	return r.MemRepo.RecordMove(ctx, m, rec)
}

func TestLoopPausesWhenMovePersistFails(t *testing.T) {
	repo := &faultyRepo{MemRepo: store.NewMemRepo(), failN: 1}
	bus := events.NewBus(zap.NewNop())
	mo := &scriptedOracle{replies: []string{
		"MOVE: f3", "MOVE: f3", "MOVE: e5", "MOVE: g4", "MOVE: Qh4#",
	}}
	loop := newTestLoop(t, repo, bus, mo, &stubNarrator{})
	newRunnableMatch(t, repo, "FLAKY1")

	sub := bus.Subscribe("FLAKY1")
	defer sub.Close()

	ctx := context.Background()
	if err := loop.Run(ctx, "FLAKY1"); err == nil {
		t.Fatal("expected error from failed persist")
	}

	// The match must be left paused so a reconnecting viewer relaunches it.
	m, err := repo.GetMatch(ctx, "FLAKY1")
	if err != nil {
		t.Fatalf("GetMatch: %v", err)
	}
	if m.Status != domain.StatusInProgress || !m.IsPaused {
		t.Fatalf("after failed persist: status=%s paused=%v", m.Status, m.IsPaused)
	}

	// A relaunch replays from the last persisted ply and finishes the game.
	if err := loop.Run(ctx, "FLAKY1"); err != nil {
		t.Fatalf("relaunched Run: %v", err)
	}
	m, err = repo.GetMatch(ctx, "FLAKY1")
	if err != nil {
		t.Fatalf("GetMatch: %v", err)
	}
	if m.Status != domain.StatusCompleted || m.Result != "black_wins" {
		t.Fatalf("after relaunch: status=%s result=%q", m.Status, m.Result)
	}
}
