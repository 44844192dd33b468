package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/park285/vibechess-server/internal/appbuilder"
	"github.com/park285/vibechess-server/internal/config"
	"github.com/park285/vibechess-server/internal/httpapi"
	"github.com/park285/vibechess-server/internal/obslog"
	"github.com/park285/vibechess-server/internal/workers"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	deps, err := appbuilder.New(cfg, logger)
	if err != nil {
		log.Fatalf("init error: %v", err)
	}
	defer deps.Close()

	baseCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := httpapi.NewServer(
		baseCtx,
		deps.Repo,
		deps.Bus,
		deps.Launcher,
		deps.Cache,
		deps.Renderer,
		httpapi.Options{
			AllowedOrigins: strings.Join(cfg.AllowedOrigins, ", "),
			SnapshotTTL:    cfg.SnapshotCacheTTL,
		},
		logger,
	)

	janitor := workers.NewJanitor(deps.Repo, deps.Bus, time.Minute, logger)
	if err := janitor.Start(); err != nil {
		log.Fatalf("janitor init error: %v", err)
	}

	go func() {
		if err := srv.Listen(cfg.HTTPAddr); err != nil {
			log.Fatalf("http server error: %v", err)
		}
	}()
	logger.Info("server listening", zap.String("addr", cfg.HTTPAddr))

	// Wait for termination signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	cancel()
	janitor.Stop()
	if err := srv.Shutdown(); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}
