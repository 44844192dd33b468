// Package httpapi exposes the match API: game creation, prompt submission,
// state reads, board snapshots, and the SSE event stream.
package httpapi

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/vibechess-server/internal/cache"
	"github.com/park285/vibechess-server/internal/domain"
	"github.com/park285/vibechess-server/internal/events"
	"github.com/park285/vibechess-server/internal/match"
	"github.com/park285/vibechess-server/internal/render"
	"github.com/park285/vibechess-server/internal/store"
	"github.com/park285/vibechess-server/pkg/matchdto"
)

const (
	gameCodeLength  = 6
	gameCodeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxPromptLength = 2000
)

// Options configures the HTTP server.
type Options struct {
	AllowedOrigins string
	// SnapshotTTL bounds how long a rendered board PNG may be served from
	// cache.
	SnapshotTTL time.Duration
}

// Server wires the repositories and the game loop launcher behind the
// public routes.
type Server struct {
	app      *fiber.App
	repo     store.Repository
	bus      *events.Bus
	launcher *match.Launcher
	cache    *cache.Service
	renderer render.BoardRenderer
	opts     Options
	logger   *zap.Logger

	// baseCtx outlives individual requests; game loops launched from a
	// request must not die with it.
	baseCtx context.Context
}

func NewServer(
	baseCtx context.Context,
	repo store.Repository,
	bus *events.Bus,
	launcher *match.Launcher,
	cacheSvc *cache.Service,
	renderer render.BoardRenderer,
	opts Options,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SnapshotTTL <= 0 {
		opts.SnapshotTTL = 5 * time.Second
	}
	s := &Server{
		repo:     repo,
		bus:      bus,
		launcher: launcher,
		cache:    cacheSvc,
		renderer: renderer,
		opts:     opts,
		logger:   logger,
		baseCtx:  baseCtx,
	}

	app := fiber.New(fiber.Config{
		AppName:               "vibechess-server",
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
	})
	origins := strings.TrimSpace(opts.AllowedOrigins)
	if origins == "" {
		origins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	app.Get("/", s.handleHealth)
	app.Post("/games", s.handleCreateGame)
	app.Post("/games/:code/prompt", s.handleSubmitPrompt)
	app.Get("/games/:code", s.handleGetGame)
	app.Get("/games/:code/events", s.handleEvents)
	app.Get("/games/:code/board.png", s.handleBoardPNG)

	s.app = app
	return s
}

// App exposes the underlying fiber app for listening and tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(matchdto.HealthResponse{Status: "ok", Service: "vibechess"})
}

func generateGameCode() (string, error) {
	var sb strings.Builder
	for i := 0; i < gameCodeLength; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(gameCodeCharset))))
		if err != nil {
			return "", fmt.Errorf("generate game code: %w", err)
		}
		sb.WriteByte(gameCodeCharset[n.Int64()])
	}
	return sb.String(), nil
}

func (s *Server) handleCreateGame(c *fiber.Ctx) error {
	ctx := c.UserContext()

	var code string
	for {
		candidate, err := generateGameCode()
		if err != nil {
			return s.internalError(c, err)
		}
		_, err = s.repo.GetMatch(ctx, candidate)
		if errors.Is(err, store.ErrMatchNotFound) {
			code = candidate
			break
		}
		if err != nil {
			return s.internalError(c, err)
		}
	}

	now := time.Now()
	m := &domain.Match{
		UUID:        uuid.NewString(),
		Code:        code,
		Status:      domain.StatusWaitingForPrompts,
		BoardFEN:    domain.StartFEN,
		CurrentTurn: domain.White,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateMatch(ctx, m); err != nil {
		return s.internalError(c, err)
	}

	s.logger.Info("created new game", zap.String("game_code", code))
	return c.JSON(matchdto.CreateGameResponse{GameCode: code})
}

func (s *Server) handleSubmitPrompt(c *fiber.Ctx) error {
	ctx := c.UserContext()
	code := c.Params("code")

	var req matchdto.SubmitPromptRequest
	if err := c.BodyParser(&req); err != nil {
		return s.badRequest(c, "Invalid request body")
	}
	if req.Color != domain.White && req.Color != domain.Black {
		return s.badRequest(c, "Color must be white or black")
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" || len(prompt) > maxPromptLength {
		return s.badRequest(c, fmt.Sprintf("Prompt must be 1-%d characters", maxPromptLength))
	}

	m, err := s.repo.GetMatch(ctx, code)
	if errors.Is(err, store.ErrMatchNotFound) {
		return s.notFound(c)
	}
	if err != nil {
		return s.internalError(c, err)
	}

	if m.Status != domain.StatusWaitingForPrompts {
		return s.badRequest(c, "Game has already started")
	}
	if m.PromptFor(req.Color) != "" {
		return s.badRequest(c, fmt.Sprintf("%s prompt already submitted", capitalize(string(req.Color))))
	}

	if req.Color == domain.White {
		m.WhitePrompt = prompt
	} else {
		m.BlackPrompt = prompt
	}
	if err := s.repo.UpdateMatch(ctx, m); err != nil {
		return s.internalError(c, err)
	}

	s.bus.Broadcast(code, events.NewPromptSubmitted(req.Color))
	s.logger.Info("prompt submitted",
		zap.String("game_code", code),
		zap.String("color", string(req.Color)))

	started := false
	if m.BothPromptsSet() {
		started = true
		if err := s.launcher.Launch(s.baseCtx, code); err != nil {
			return s.internalError(c, err)
		}
		s.logger.Info("both prompts submitted, starting game", zap.String("game_code", code))
	}

	return c.JSON(matchdto.SubmitPromptResponse{
		Message:     fmt.Sprintf("%s prompt submitted successfully", capitalize(string(req.Color))),
		GameStarted: started,
	})
}

func (s *Server) handleGetGame(c *fiber.Ctx) error {
	ctx := c.UserContext()
	code := c.Params("code")

	m, err := s.repo.GetMatch(ctx, code)
	if errors.Is(err, store.ErrMatchNotFound) {
		return s.notFound(c)
	}
	if err != nil {
		return s.internalError(c, err)
	}

	moves, err := s.repo.ListMoves(ctx, code)
	if err != nil {
		return s.internalError(c, err)
	}

	return c.JSON(matchdto.FromMatch(m, moves))
}

func (s *Server) handleBoardPNG(c *fiber.Ctx) error {
	ctx := c.UserContext()
	code := c.Params("code")
	cacheKey := "vibechess:board-png:" + code

	if s.cache != nil {
		if data, err := s.cache.GetBytes(ctx, cacheKey); err == nil {
			c.Set(fiber.HeaderContentType, "image/png")
			return c.Send(data)
		}
	}

	m, err := s.repo.GetMatch(ctx, code)
	if errors.Is(err, store.ErrMatchNotFound) {
		return s.notFound(c)
	}
	if err != nil {
		return s.internalError(c, err)
	}

	data, err := render.RenderFEN(ctx, s.renderer, m.BoardFEN)
	if err != nil {
		return s.internalError(c, err)
	}
	if s.cache != nil {
		if err := s.cache.SetBytes(ctx, cacheKey, data, s.opts.SnapshotTTL); err != nil {
			s.logger.Warn("board snapshot cache write failed", zap.Error(err))
		}
	}

	c.Set(fiber.HeaderContentType, "image/png")
	return c.Send(data)
}

func (s *Server) notFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(matchdto.ErrorResponse{Detail: "Game not found"})
}

func (s *Server) badRequest(c *fiber.Ctx, detail string) error {
	return c.Status(fiber.StatusBadRequest).JSON(matchdto.ErrorResponse{Detail: detail})
}

func (s *Server) internalError(c *fiber.Ctx, err error) error {
	s.logger.Error("request failed",
		zap.String("path", c.Path()),
		zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(matchdto.ErrorResponse{Detail: "Internal server error"})
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
