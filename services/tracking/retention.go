package tracking

import (
	"context"
	"time"

	"linktrace/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Sweeper deletes facts past their retention horizon once a day.
type Sweeper struct {
	store FactStore
	hour  int
}

func NewSweeper(store FactStore, cfg *config.Config) *Sweeper {
	return &Sweeper{store: store, hour: cfg.Tracking.RetentionHour}
}

// StartSweeper wires the daily loop into the fx lifecycle.
func StartSweeper(lc fx.Lifecycle, s *Sweeper) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go s.run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func (s *Sweeper) run(ctx context.Context) {
	zap.L().Info("[Sweeper] started retention sweeper")

	for {
		now := time.Now()
		next := nextRunTime(now, s.hour, 0)

		sleepDuration := next.Sub(now)
		zap.L().Info("[Sweeper] next run scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", sleepDuration),
		)
		select {
		case <-time.After(sleepDuration):
			s.runDaily(ctx)
		case <-ctx.Done():
			zap.L().Warn("[Sweeper] stopped")
			return
		}
	}
}

func (s *Sweeper) runDaily(ctx context.Context) {
	start := time.Now()
	zap.L().Info("[Sweeper] running daily retention purge")

	purged, err := s.store.PurgeExpired(ctx, start)
	if err != nil {
		zap.L().Error("[Sweeper] failed to purge expired facts", zap.Error(err))
		return
	}

	zap.L().Info("[Sweeper] finished retention purge",
		zap.Int64("purged", purged),
		zap.Duration("duration", time.Since(start)),
	)
}

// nextRunTime computes the next occurrence of the given wall-clock time.
func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if now.After(next) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
