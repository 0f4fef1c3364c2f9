package app

import (
	"strings"
	"time"

	"automod/internal/config"
	"automod/internal/observability"
	"automod/internal/pipeline"
	"automod/internal/platform/httpfetch"
	"automod/internal/platform/telegram"
	"automod/internal/task/engine"
	logx "automod/pkg/logx"
)

// Durations below were checked by config.Validate before the config was
// committed, so parse errors fall back to defaults here.

func durationOr(path, raw string, def time.Duration) time.Duration {
	d, err := config.ParseDurationOrDefault(path, raw, def)
	if err != nil {
		return def
	}
	return d
}

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapTaskEngineConfig(cfg *config.Config) engine.Config {
	te := cfg.TaskEngine
	return engine.Config{
		Enabled:        true,
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: durationOr("task_engine.default_timeout", te.DefaultTimeout, 0),
		HistorySize:    te.HistorySize,
	}
}

func taskTimeout(cfg *config.Config, name string) time.Duration {
	return durationOr("scheduler.timeouts."+name, cfg.Scheduler.Timeouts[name], 0)
}

// mapSettings turns the current config into the per-firing stage settings.
func mapSettings(cfg *config.Config, loc *time.Location) pipeline.Settings {
	if cfg == nil {
		return pipeline.Settings{Location: loc}
	}
	return pipeline.Settings{
		Location:            loc,
		PublishConcurrency:  cfg.Pipeline.PublishConcurrency,
		CallTimeout:         durationOr("pipeline.call_timeout", cfg.Pipeline.CallTimeout, 0),
		ActivityWindow:      durationOr("retention.activity_window", cfg.Retention.ActivityWindow, 0),
		DownloadWindow:      durationOr("retention.download_window", cfg.Retention.DownloadWindow, 0),
		DownloadDir:         strings.TrimSpace(cfg.Downloads.Dir),
		DownloadConcurrency: cfg.Downloads.Concurrency,
		DownloadBatch:       cfg.Downloads.Batch,
		DownloadTimeout:     durationOr("downloads.http_timeout", cfg.Downloads.HTTPTimeout, 0),
	}
}

func mapTelegramConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:      strings.TrimSpace(cfg.Telegram.Token),
		Channels:   cfg.Telegram.Channels,
		RatePerSec: cfg.Telegram.RatePerSec,
		Timeout:    durationOr("telegram.timeout", cfg.Telegram.Timeout, 0),
	}
}

func mapFetchConfig(cfg *config.Config) httpfetch.Config {
	return httpfetch.Config{
		Timeout:   durationOr("downloads.http_timeout", cfg.Downloads.HTTPTimeout, 0),
		MaxBytes:  cfg.Downloads.MaxBytes,
		UserAgent: strings.TrimSpace(cfg.Downloads.UserAgent),
	}
}

func mapObservabilityConfig(cfg *config.Config) observability.Config {
	o := cfg.Observability
	return observability.Config{
		Enabled:     o.Enabled,
		Addr:        strings.TrimSpace(o.Addr),
		Token:       strings.TrimSpace(o.Token),
		Metrics:     o.Metrics,
		Pprof:       o.Pprof,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 2 * time.Minute,
	}
}
