package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dmitrymomot/authzkit/pkg/logger"
)

// sweepTimeout bounds one pass of the expiry sweep.
const sweepTimeout = 30 * time.Second

type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append([]any{logger.Error(err)}, keysAndValues...)...)
}

// newSweeper schedules the removal of expired role assignments. Overlapping
// runs are skipped.
func (a *app) newSweeper(ctx context.Context, schedule string) (*cron.Cron, error) {
	log := a.logger.With(logger.Component("sweeper"))
	c := cron.New(cron.WithLogger(cronLogger{log: log}), cron.WithChain(
		cron.Recover(cronLogger{log: log}),
		cron.SkipIfStillRunning(cronLogger{log: log}),
	))
	_, err := c.AddFunc(schedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
		defer cancel()

		n, err := a.svc.SweepExpired(runCtx)
		if err != nil {
			log.ErrorContext(runCtx, "expiry sweep incomplete", slog.Int("removed", n), logger.Error(err))
			return
		}
		if n > 0 {
			log.InfoContext(runCtx, "expired assignments removed", slog.Int("removed", n))
		}
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
