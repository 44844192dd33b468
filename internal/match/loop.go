package match

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/park285/vibechess-server/internal/commentary"
	"github.com/park285/vibechess-server/internal/domain"
	"github.com/park285/vibechess-server/internal/events"
	"github.com/park285/vibechess-server/internal/oracle"
	"github.com/park285/vibechess-server/internal/prompts"
	"github.com/park285/vibechess-server/internal/store"
)

// Narrator is the audio hook the loop calls after each move. It must never
// fail the move: a broken backend returns "".
type Narrator interface {
	Narrate(ctx context.Context, text string) string
	Enabled() bool
}

var _ Narrator = (*commentary.Narrator)(nil)

// LoopConfig tunes the game loop timing.
type LoopConfig struct {
	// SubscriberWait bounds the wait for a first viewer before the game
	// pauses itself.
	SubscriberWait time.Duration
	// OracleTimeout bounds a single model invocation.
	OracleTimeout time.Duration
}

func (c LoopConfig) withDefaults() LoopConfig {
	if c.SubscriberWait <= 0 {
		c.SubscriberWait = 10 * time.Second
	}
	if c.OracleTimeout <= 0 {
		c.OracleTimeout = 120 * time.Second
	}
	return c
}

// Loop plays a match turn by turn: it prompts the model for the side to
// move, resolves the reply against the board, persists the move, and streams
// it to viewers. The loop runs only while at least one viewer is attached;
// with no viewers it marks the match paused and exits, to be relaunched when
// someone reconnects.
type Loop struct {
	repo     store.Repository
	bus      *events.Bus
	oracle   oracle.MoveOracle
	catalog  *prompts.Catalog
	narrator Narrator
	cfg      LoopConfig
	logger   *zap.Logger
}

func NewLoop(
	repo store.Repository,
	bus *events.Bus,
	mo oracle.MoveOracle,
	catalog *prompts.Catalog,
	narrator Narrator,
	cfg LoopConfig,
	logger *zap.Logger,
) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		repo:     repo,
		bus:      bus,
		oracle:   mo,
		catalog:  catalog,
		narrator: narrator,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// Run drives one match to completion or pause. It is safe to call again for
// the same code after a paused exit; the board is reconstructed from the
// stored move history so repetition counters survive restarts.
func (l *Loop) Run(ctx context.Context, code string) error {
	log := l.logger.With(zap.String("game_code", code))
	log.Info("starting game loop")

	m, err := l.repo.GetMatch(ctx, code)
	if err != nil {
		return fmt.Errorf("load match %s: %w", code, err)
	}

	history, err := l.repo.ListMoves(ctx, code)
	if err != nil {
		return fmt.Errorf("load moves %s: %w", code, err)
	}
	uci := make([]string, 0, len(history))
	for _, rec := range history {
		uci = append(uci, rec.MoveUCI)
	}
	board, err := NewBoardFromMoves(uci)
	if err != nil {
		return fmt.Errorf("reconstruct board %s: %w", code, err)
	}

	l.bus.Broadcast(code, events.NewGameStarted())

	m.Status = domain.StatusInProgress
	m.IsPaused = false
	if err := l.repo.UpdateMatch(ctx, m); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}

	// Full-move counter: white and black plies of the same turn share one
	// number.
	moveNumber := len(history)/2 + 1

	if l.bus.SubscriberCount(code) == 0 {
		select {
		case <-l.bus.Attached(code):
		case <-time.After(l.cfg.SubscriberWait):
			log.Info("no viewers connected, pausing game loop",
				zap.Duration("waited", l.cfg.SubscriberWait))
			return l.pause(ctx, m)
		case <-ctx.Done():
			return l.pause(context.WithoutCancel(ctx), m)
		}
	}

	for !board.GameOver() {
		if ctx.Err() != nil {
			return l.pause(context.WithoutCancel(ctx), m)
		}
		if l.bus.SubscriberCount(code) == 0 {
			log.Info("all viewers disconnected, pausing game loop")
			return l.pause(ctx, m)
		}

		if err := l.playTurn(ctx, m, board, moveNumber, log); err != nil {
			if ctx.Err() != nil {
				return l.pause(context.WithoutCancel(ctx), m)
			}
			// Leave the match resumable: mark the last persisted state
			// paused so a reconnecting viewer relaunches the loop. The
			// in-memory match may be ahead of the failed write, so reload.
			if fresh, gerr := l.repo.GetMatch(ctx, code); gerr == nil && fresh.Status == domain.StatusInProgress {
				if perr := l.pause(ctx, fresh); perr != nil {
					log.Warn("pause after turn failure", zap.Error(perr))
				}
			}
			return err
		}
		if board.Turn() == domain.White {
			// Black just moved.
			moveNumber++
		}
	}

	result, termination := board.Result()
	if m.Status != domain.StatusCompleted {
		// Reached only when the stored history was already terminal at
		// entry, for example after a crash between persist and broadcast.
		m.Status = domain.StatusCompleted
		m.Result = result
		if err := l.repo.UpdateMatch(ctx, m); err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
	}

	l.bus.Broadcast(code, events.NewGameOver(result, termination))
	l.bus.CloseAll(code)
	log.Info("game completed",
		zap.String("result", result),
		zap.String("termination", termination))
	return nil
}

func (l *Loop) playTurn(ctx context.Context, m *domain.Match, board *Board, moveNumber int, log *zap.Logger) error {
	color := board.Turn()

	prompt, err := l.catalog.Render(prompts.KeyMove, map[string]any{
		"Color":      string(color),
		"Strategy":   m.PromptFor(color),
		"BoardASCII": board.ASCII(),
		"FEN":        board.FEN(),
		"LegalMoves": strings.Join(board.LegalMovesSAN(), ", "),
	})
	if err != nil {
		return fmt.Errorf("render move prompt: %w", err)
	}

	req := oracle.Request{Prompt: prompt, SessionID: m.SessionIDFor(color)}
	if req.SessionID == "" {
		// First move for this side seeds a fresh session.
		req.SystemPrompt, err = l.catalog.Render(prompts.KeySystem, map[string]any{
			"Color": string(color),
		})
		if err != nil {
			return fmt.Errorf("render system prompt: %w", err)
		}
	}

	oracleCtx, cancel := context.WithTimeout(ctx, l.cfg.OracleTimeout)
	resp, err := l.oracle.Ask(oracleCtx, req)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Backend failures degrade to an empty reply; the fallback move
		// below keeps the game going.
		log.Error("oracle request failed", zap.Error(err))
		resp = oracle.Response{SessionID: req.SessionID}
	}
	if resp.SessionID != "" {
		m.SetSessionID(color, resp.SessionID)
	}

	parsed := ParseResponse(resp.Text)

	mv, wasFallback := ResolveOrRandom(board, parsed.Move)
	if mv == nil {
		return fmt.Errorf("no legal moves for %s in game %s", color, m.Code)
	}
	comment := parsed.Comment
	if wasFallback {
		notice, rerr := l.catalog.Render(prompts.KeyFallbackNotice, map[string]any{
			"Suggested": parsed.Move,
		})
		if rerr != nil {
			notice = "[FALLBACK]"
		}
		if comment != "" {
			comment = notice + " " + comment
		} else {
			comment = notice
		}
	}

	san, uciMove, err := board.Apply(mv)
	if err != nil {
		return err
	}

	m.BoardFEN = board.FEN()
	m.CurrentTurn = color.Opponent()
	if board.GameOver() {
		// The terminal move and the result must land in one transaction;
		// a crash right after this write leaves a fully consistent row.
		result, _ := board.Result()
		m.Status = domain.StatusCompleted
		m.Result = result
	}

	rec := &domain.MoveRecord{
		MatchCode:   m.Code,
		MoveNumber:  moveNumber,
		Color:       color,
		MoveUCI:     uciMove,
		MoveSAN:     san,
		Comment:     comment,
		WasFallback: wasFallback,
	}
	if err := l.repo.RecordMove(ctx, m, rec); err != nil {
		return fmt.Errorf("record move: %w", err)
	}

	var audio string
	if parsed.Commentary != "" && l.narrator != nil {
		audio = l.narrator.Narrate(ctx, parsed.Commentary)
	}

	l.bus.Broadcast(m.Code, events.Move{
		Type:            events.TypeMove,
		MoveNumber:      moveNumber,
		Color:           color,
		MoveUCI:         uciMove,
		MoveSAN:         san,
		Comment:         comment,
		WasFallback:     wasFallback,
		BoardFEN:        m.BoardFEN,
		BoardASCII:      board.ASCII(),
		Commentary:      parsed.Commentary,
		CommentaryAudio: audio,
		MyEmotion:       parsed.MyEmotion,
		OpponentEmotion: parsed.OpponentEmotion,
	})

	log.Info("move played",
		zap.String("color", string(color)),
		zap.String("san", san),
		zap.Bool("fallback", wasFallback))
	return nil
}

func (l *Loop) pause(ctx context.Context, m *domain.Match) error {
	m.IsPaused = true
	if err := l.repo.UpdateMatch(ctx, m); err != nil {
		return fmt.Errorf("mark paused: %w", err)
	}
	return nil
}
