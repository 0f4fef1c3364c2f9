package config

import (
	"reflect"
	"sort"
	"strings"

	logx "automod/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections, safe
// structured attrs for logging (never tokens) and the names of tasks whose
// effective schedule changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	rescheduled := diffSchedules(oldCfg, newCfg)
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.Strs("scheduler.rescheduled", rescheduled),
		)
	}

	if !reflect.DeepEqual(oldCfg.TaskEngine, newCfg.TaskEngine) {
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Int("task_engine.workers", newCfg.TaskEngine.Workers),
			logx.Int("task_engine.queue_size", newCfg.TaskEngine.QueueSize),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.busy_timeout", newCfg.Storage.BusyTimeout))
	}

	if !reflect.DeepEqual(oldCfg.Pipeline, newCfg.Pipeline) {
		changed = append(changed, "pipeline")
		attrs = append(attrs,
			logx.Int("pipeline.publish_concurrency", newCfg.Pipeline.PublishConcurrency),
			logx.String("pipeline.call_timeout", newCfg.Pipeline.CallTimeout),
		)
	}

	if !reflect.DeepEqual(oldCfg.Retention, newCfg.Retention) {
		changed = append(changed, "retention")
		attrs = append(attrs,
			logx.String("retention.activity_window", newCfg.Retention.ActivityWindow),
			logx.String("retention.download_window", newCfg.Retention.DownloadWindow),
		)
	}

	if !reflect.DeepEqual(oldCfg.Downloads, newCfg.Downloads) {
		changed = append(changed, "downloads")
		attrs = append(attrs,
			logx.Int("downloads.concurrency", newCfg.Downloads.Concurrency),
			logx.String("downloads.dir", newCfg.Downloads.Dir),
		)
	}

	// never log the token itself
	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.Int("telegram.channels", len(newCfg.Telegram.Channels)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Observability, newCfg.Observability) {
		changed = append(changed, "observability")
		attrs = append(attrs,
			logx.Bool("observability.enabled", newCfg.Observability.Enabled),
			logx.String("observability.addr", newCfg.Observability.Addr),
		)
	}

	sort.Strings(changed)
	return changed, attrs, rescheduled
}

// RequiresRestart reports sections that hot reload cannot apply.
func RequiresRestart(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "storage", "task_engine", "telegram", "observability":
			out = append(out, s)
		}
	}
	return out
}

func diffSchedules(oldCfg, newCfg *Config) []string {
	var out []string
	for _, name := range TaskNames() {
		if oldCfg.Schedule(name) != newCfg.Schedule(name) {
			out = append(out, name)
		}
	}
	return out
}
