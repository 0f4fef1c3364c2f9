package config

import (
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Validate rejects configs that cannot be applied. It does not parse
// schedule strings; the trigger registry owns that grammar.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return errors.Wrapf(err, "scheduler.timezone: invalid %q", tz)
		}
	}
	for _, m := range []struct {
		key string
		set map[string]string
	}{
		{"scheduler.schedules", cfg.Scheduler.Schedules},
		{"scheduler.timeouts", cfg.Scheduler.Timeouts},
	} {
		for _, name := range sortedKeys(m.set) {
			if _, ok := DefaultSchedules[name]; !ok {
				return errors.WithHintf(errors.Newf("%s: unknown task %q", m.key, name),
					"known tasks: %s", strings.Join(TaskNames(), ", "))
			}
		}
	}
	for name, raw := range cfg.Scheduler.Timeouts {
		if _, err := ParseDurationField("scheduler.timeouts."+name, raw); err != nil {
			return err
		}
	}

	if cfg.TaskEngine.Workers < 0 {
		return errors.New("task_engine.workers must be >= 0")
	}
	if cfg.TaskEngine.QueueSize < 0 {
		return errors.New("task_engine.queue_size must be >= 0")
	}
	if cfg.TaskEngine.HistorySize < 0 {
		return errors.New("task_engine.history_size must be >= 0")
	}
	if cfg.Pipeline.PublishConcurrency < 0 {
		return errors.New("pipeline.publish_concurrency must be >= 0")
	}
	if cfg.Downloads.Concurrency < 0 {
		return errors.New("downloads.concurrency must be >= 0")
	}
	if cfg.Downloads.Batch < 0 {
		return errors.New("downloads.batch must be >= 0")
	}
	if cfg.Downloads.MaxBytes < 0 {
		return errors.New("downloads.max_bytes must be >= 0")
	}
	if cfg.Telegram.RatePerSec < 0 {
		return errors.New("telegram.rate_per_sec must be >= 0")
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}

	for _, f := range []struct{ key, raw string }{
		{"task_engine.default_timeout", cfg.TaskEngine.DefaultTimeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"pipeline.call_timeout", cfg.Pipeline.CallTimeout},
		{"retention.activity_window", cfg.Retention.ActivityWindow},
		{"retention.download_window", cfg.Retention.DownloadWindow},
		{"downloads.http_timeout", cfg.Downloads.HTTPTimeout},
		{"telegram.timeout", cfg.Telegram.Timeout},
	} {
		if _, err := ParseDurationField(f.key, f.raw); err != nil {
			return err
		}
	}

	if cfg.Observability.Enabled && strings.TrimSpace(cfg.Observability.Addr) == "" {
		return errors.New("observability.addr is required when observability.enabled=true")
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
