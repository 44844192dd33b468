package match

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultLeaseTTL = 10 * time.Minute

// Launcher starts game loops and guarantees at most one loop per game code,
// both in this process and across replicas. In-process duplicates are
// filtered by an in-flight map; cross-process duplicates by a Redis lease
// taken with SETNX and re-extended while the loop runs. A match can outlive
// any fixed TTL, so the lease is only allowed to lapse when its holder died.
type Launcher struct {
	loop   *Loop
	rdb    redis.UniversalClient
	logger *zap.Logger

	leaseTTL     time.Duration
	refreshEvery time.Duration

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewLauncher(loop *Loop, rdb redis.UniversalClient, logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{
		loop:         loop,
		rdb:          rdb,
		logger:       logger,
		leaseTTL:     defaultLeaseTTL,
		refreshEvery: defaultLeaseTTL / 3,
		inFlight:     make(map[string]struct{}),
	}
}

func leaseKey(code string) string {
	return "vibechess:loop:" + code
}

// Launch starts the loop for a code in a new goroutine. A second Launch for
// the same code while the first loop still runs is a no-op, so concurrent
// viewers reconnecting to a paused game resume it exactly once.
func (l *Launcher) Launch(ctx context.Context, code string) error {
	l.mu.Lock()
	if _, running := l.inFlight[code]; running {
		l.mu.Unlock()
		return nil
	}
	l.inFlight[code] = struct{}{}
	l.mu.Unlock()

	release := func() {
		l.mu.Lock()
		delete(l.inFlight, code)
		l.mu.Unlock()
	}

	if l.rdb != nil {
		ok, err := l.rdb.SetNX(ctx, leaseKey(code), time.Now().Format(time.RFC3339), l.leaseTTL).Result()
		if err != nil {
			release()
			return fmt.Errorf("acquire loop lease: %w", err)
		}
		if !ok {
			// Another replica runs this game.
			release()
			return nil
		}
	}

	go func() {
		stopRefresh := make(chan struct{})
		if l.rdb != nil {
			go l.refreshLease(code, stopRefresh)
		}
		defer func() {
			close(stopRefresh)
			if l.rdb != nil {
				if err := l.rdb.Del(context.Background(), leaseKey(code)).Err(); err != nil {
					l.logger.Warn("release loop lease failed",
						zap.String("game_code", code), zap.Error(err))
				}
			}
			release()
		}()
		if err := l.loop.Run(ctx, code); err != nil {
			l.logger.Error("game loop failed",
				zap.String("game_code", code), zap.Error(err))
		}
	}()
	return nil
}

// refreshLease extends the loop lease until stop closes, so long matches do
// not lose the lease mid-game to the acquisition TTL.
func (l *Launcher) refreshLease(code string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.refreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := l.rdb.Expire(context.Background(), leaseKey(code), l.leaseTTL).Err(); err != nil {
				l.logger.Warn("refresh loop lease failed",
					zap.String("game_code", code), zap.Error(err))
			}
		}
	}
}

// Running reports whether this process currently runs the loop for code.
func (l *Launcher) Running(code string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.inFlight[code]
	return ok
}
