// Package workers hosts background maintenance jobs.
package workers

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/park285/vibechess-server/internal/domain"
	"github.com/park285/vibechess-server/internal/events"
	"github.com/park285/vibechess-server/internal/store"
)

// Janitor periodically sweeps event rooms whose matches finished, so
// subscribers of completed games do not linger forever when the final
// close was missed (for example after a crash between persist and
// broadcast).
type Janitor struct {
	repo     store.Repository
	bus      *events.Bus
	interval time.Duration
	logger   *zap.Logger
	sched    gocron.Scheduler
}

func NewJanitor(repo store.Repository, bus *events.Bus, interval time.Duration, logger *zap.Logger) *Janitor {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{repo: repo, bus: bus, interval: interval, logger: logger}
}

// Start schedules the sweep job. Stop must be called on shutdown.
func (j *Janitor) Start() error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	if _, err := sched.NewJob(
		gocron.DurationJob(j.interval),
		gocron.NewTask(func() { j.Sweep(context.Background()) }),
	); err != nil {
		return err
	}
	sched.Start()
	j.sched = sched
	return nil
}

func (j *Janitor) Stop() {
	if j.sched != nil {
		if err := j.sched.Shutdown(); err != nil {
			j.logger.Warn("janitor shutdown failed", zap.Error(err))
		}
	}
}

// Sweep closes event rooms of completed or deleted matches. Exported so the
// job body can be driven directly in tests.
func (j *Janitor) Sweep(ctx context.Context) {
	for _, code := range j.bus.Codes() {
		m, err := j.repo.GetMatch(ctx, code)
		if errors.Is(err, store.ErrMatchNotFound) {
			j.logger.Info("closing event room for missing match", zap.String("game_code", code))
			j.bus.CloseAll(code)
			continue
		}
		if err != nil {
			j.logger.Warn("janitor lookup failed", zap.String("game_code", code), zap.Error(err))
			continue
		}
		if m.Status == domain.StatusCompleted {
			j.logger.Info("closing event room for completed match", zap.String("game_code", code))
			j.bus.CloseAll(code)
		}
	}
}
