package app

import (
	"context"
	"time"

	"automod/internal/content"
	"automod/internal/task/scheduler"
	logx "automod/pkg/logx"
)

// stageFunc is one pipeline stage firing.
type stageFunc func(ctx context.Context, fired time.Time) (content.Report, error)

// handler adapts a stage to the registry: the report feeds metrics and
// LastReport, and only a fatal stage error fails the firing. Per-item
// failures stay inside the report.
func (a *App) handler(name string, run stageFunc) scheduler.Handler {
	log := a.log.With(logx.String("task", name))
	return func(ctx context.Context, fired time.Time) error {
		rep, err := run(ctx, fired)
		if rep.Stage == "" {
			rep.Stage = name
		}
		a.metrics.ObserveReport(rep)

		a.rmu.Lock()
		a.reports[name] = rep
		a.rmu.Unlock()

		fields := []logx.Field{
			logx.Time("fired", fired),
			logx.Int("attempted", rep.Attempted()),
			logx.Int("succeeded", rep.Succeeded()),
			logx.Int("failed", rep.Failed()),
			logx.Int("skipped", rep.Skipped()),
		}
		if err != nil {
			log.Error("firing aborted", append(fields, logx.Err(err))...)
			return err
		}
		log.Debug("firing finished", fields...)
		return nil
	}
}
