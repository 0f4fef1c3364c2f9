package scheduler

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
)

// TriggerSource resolves an opaque schedule string into something that can
// compute fire times. Swapping the source changes how tasks are triggered
// without touching the tasks themselves.
type TriggerSource interface {
	Resolve(spec string, now time.Time, name string) (cron.Schedule, error)
}

// CronSource resolves cron expressions, descriptors, durations and HH:MM
// intervals. Interval schedules get a small randomized first-run delay when
// Spread is set.
type CronSource struct {
	Spread bool
}

func NewCronSource(spread bool) *CronSource {
	return &CronSource{Spread: spread}
}

func (s *CronSource) Resolve(spec string, now time.Time, name string) (cron.Schedule, error) {
	ps, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	if ps.Kind == SpecInterval {
		if s.Spread {
			return intervalWithSpread(ps.Every, now, name), nil
		}
		return cron.Every(ps.Every), nil
	}
	sched, err := cronParser.Parse(ps.Cron)
	if err != nil {
		return nil, errors.Wrapf(err, "parse cron %q", ps.Cron)
	}
	return sched, nil
}

// ManualSource validates schedule strings but never fires on its own;
// firings happen only through Registry.Fire / Registry.RunNow.
type ManualSource struct{}

func (ManualSource) Resolve(spec string, _ time.Time, _ string) (cron.Schedule, error) {
	if _, err := ParseSchedule(spec); err != nil {
		return nil, err
	}
	return never{}, nil
}

// never returns the zero time, which robfig/cron treats as "no next run".
type never struct{}

func (never) Next(time.Time) time.Time { return time.Time{} }
