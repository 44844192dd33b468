// Package appbuilder assembles the server's dependency graph from a loaded
// configuration: database, redis, the match loop and everything it feeds on.
package appbuilder

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/vibechess-server/internal/cache"
	"github.com/park285/vibechess-server/internal/commentary"
	"github.com/park285/vibechess-server/internal/config"
	"github.com/park285/vibechess-server/internal/events"
	"github.com/park285/vibechess-server/internal/match"
	"github.com/park285/vibechess-server/internal/oracle"
	"github.com/park285/vibechess-server/internal/prompts"
	"github.com/park285/vibechess-server/internal/render"
	"github.com/park285/vibechess-server/internal/store"
)

type Deps struct {
	DB    *sql.DB
	Redis redis.UniversalClient

	Repo     store.Repository
	Bus      *events.Bus
	Cache    *cache.Service
	Catalog  *prompts.Catalog
	Oracle   oracle.MoveOracle
	Narrator *commentary.Narrator
	Loop     *match.Loop
	Launcher *match.Launcher
	Renderer render.BoardRenderer
}

func New(cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := store.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	ropts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(ropts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		db.Close()
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	catalog, err := prompts.New(cfg.PromptOverrideDir)
	if err != nil {
		db.Close()
		rdb.Close()
		return nil, fmt.Errorf("load prompt catalog: %w", err)
	}

	repo := store.NewRepository(db)
	bus := events.NewBus(logger)
	mo := oracle.NewClaudeCLI(cfg.ClaudeBin, cfg.ClaudeModel)
	narrator := commentary.NewNarrator(cfg.ElevenLabsAPIKey, cfg.ElevenLabsVoiceID)

	loop := match.NewLoop(repo, bus, mo, catalog, narrator, match.LoopConfig{
		SubscriberWait: cfg.SubscriberWaitTimeout,
		OracleTimeout:  cfg.OracleTimeout,
	}, logger)

	return &Deps{
		DB:       db,
		Redis:    rdb,
		Repo:     repo,
		Bus:      bus,
		Cache:    cache.NewService(rdb),
		Catalog:  catalog,
		Oracle:   mo,
		Narrator: narrator,
		Loop:     loop,
		Launcher: match.NewLauncher(loop, rdb, logger),
		Renderer: render.NewSVGBoardRenderer(),
	}, nil
}

// Close releases the external connections. Safe on a partially built Deps.
func (d *Deps) Close() {
	if d == nil {
		return
	}
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}
