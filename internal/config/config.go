package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	HTTPAddr       string
	AllowedOrigins []string

	DatabaseURL string
	RedisURL    string

	ClaudeBin   string
	ClaudeModel string

	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string

	SubscriberWaitTimeout time.Duration
	OracleTimeout         time.Duration
	SnapshotCacheTTL      time.Duration

	PromptOverrideDir string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		HTTPAddr:              ":8000",
		ClaudeBin:             "claude",
		ClaudeModel:           "haiku",
		SubscriberWaitTimeout: 10 * time.Second,
		OracleTimeout:         120 * time.Second,
		SnapshotCacheTTL:      2 * time.Second,
	}

	if v := strings.TrimSpace(os.Getenv("HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, s)
			}
		}
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))

	if v := strings.TrimSpace(os.Getenv("CLAUDE_BIN")); v != "" {
		cfg.ClaudeBin = v
	}
	if v := strings.TrimSpace(os.Getenv("CLAUDE_MODEL")); v != "" {
		cfg.ClaudeModel = v
	}

	cfg.ElevenLabsAPIKey = strings.TrimSpace(os.Getenv("ELEVENLABS_API_KEY"))
	cfg.ElevenLabsVoiceID = strings.TrimSpace(os.Getenv("ELEVENLABS_VOICE_ID"))
	if cfg.ElevenLabsVoiceID == "" {
		cfg.ElevenLabsVoiceID = "pNInz6obpgDQGcFmaJgB"
	}

	if v := strings.TrimSpace(os.Getenv("SUBSCRIBER_WAIT_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SubscriberWaitTimeout = time.Duration(n) * time.Second
		}
	}
	if v := strings.TrimSpace(os.Getenv("ORACLE_TIMEOUT_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.OracleTimeout = time.Duration(n) * time.Second
		}
	}
	if v := strings.TrimSpace(os.Getenv("SNAPSHOT_CACHE_TTL_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SnapshotCacheTTL = time.Duration(n) * time.Millisecond
		}
	}

	cfg.PromptOverrideDir = strings.TrimSpace(os.Getenv("PROMPT_TEMPLATE_DIR"))

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}
