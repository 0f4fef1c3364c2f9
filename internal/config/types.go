package config

// Task names. Each one is a recurring stage owned by the trigger registry.
const (
	TaskPublishDue       = "publish_due"
	TaskGenerateContent  = "generate_content"
	TaskReconcileMetrics = "reconcile_metrics"
	TaskCleanupLogs      = "cleanup_logs"
	TaskCleanupDownloads = "cleanup_downloads"
	TaskProcessDownloads = "process_downloads"
)

// DefaultSchedules are the cadences used when scheduler.schedules omits a task.
var DefaultSchedules = map[string]string{
	TaskPublishDue:       "*/15 * * * *",
	TaskGenerateContent:  "@hourly",
	TaskReconcileMetrics: "0 3 * * *",
	TaskCleanupLogs:      "0 4 * * *",
	TaskCleanupDownloads: "30 4 * * *",
	TaskProcessDownloads: "@every 1m",
}

// TaskNames returns the known task names in registration order.
func TaskNames() []string {
	return []string{
		TaskPublishDue,
		TaskGenerateContent,
		TaskReconcileMetrics,
		TaskCleanupLogs,
		TaskCleanupDownloads,
		TaskProcessDownloads,
	}
}

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls the worker pool that executes firings.
	TaskEngine TaskEngineConfig `json:"task_engine"`

	Storage       StorageConfig       `json:"storage"`
	Pipeline      PipelineConfig      `json:"pipeline"`
	Retention     RetentionConfig     `json:"retention"`
	Downloads     DownloadsConfig     `json:"downloads"`
	Telegram      TelegramConfig      `json:"telegram"`
	Observability ObservabilityConfig `json:"observability"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the trigger registry.
type SchedulerConfig struct {
	// Timezone is an IANA name used for cron evaluation and HH:MM slot
	// matching. Empty means the process local zone.
	Timezone string `json:"timezone,omitempty"`

	// Schedules maps task names to schedule strings (cron, descriptor,
	// Go duration or HH:MM interval). Missing tasks use DefaultSchedules.
	Schedules map[string]string `json:"schedules,omitempty"`

	// Timeouts maps task names to Go duration strings bounding one firing.
	Timeouts map[string]string `json:"timeouts,omitempty"`

	// Spread delays the first run of interval schedules by up to 30s.
	Spread bool `json:"spread,omitempty"`
}

// TaskEngineConfig controls the task execution engine.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 64
//   - default_timeout: "0s" (disabled)
//   - history_size: 200
type TaskEngineConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	// DefaultTimeout is a Go duration string. "0s" disables it.
	DefaultTimeout string `json:"default_timeout,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
}

// StorageConfig points at the SQLite database file.
//
// Example:
//
//	"storage": { "path": "./data/automod.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type PipelineConfig struct {
	// PublishConcurrency bounds parallel platform deliveries per firing.
	PublishConcurrency int `json:"publish_concurrency,omitempty"`
	// CallTimeout bounds a single collaborator call (publish, metrics fetch).
	CallTimeout string `json:"call_timeout,omitempty"`
	// DryRun logs deliveries for platforms without a configured adapter
	// instead of failing them.
	DryRun bool `json:"dry_run,omitempty"`
}

type RetentionConfig struct {
	ActivityWindow string `json:"activity_window,omitempty"`
	DownloadWindow string `json:"download_window,omitempty"`
}

type DownloadsConfig struct {
	Dir         string `json:"dir,omitempty"`
	Concurrency int    `json:"concurrency,omitempty"`
	// Batch caps how many pending downloads one sweep claims.
	Batch       int    `json:"batch,omitempty"`
	HTTPTimeout string `json:"http_timeout,omitempty"`
	MaxBytes    int64  `json:"max_bytes,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
}

// TelegramConfig enables delivery and follower counts through a Telegram bot.
// Without a token, telegram accounts are handled like any unconfigured
// platform (see pipeline.dry_run).
type TelegramConfig struct {
	Token string `json:"token,omitempty"`
	// Channels maps account ids to chat ids.
	Channels   map[string]int64 `json:"channels,omitempty"`
	RatePerSec int              `json:"rate_per_sec,omitempty"`
	Timeout    string           `json:"timeout,omitempty"`
}

// ObservabilityConfig controls the optional HTTP server exposing health,
// Prometheus metrics and pprof.
//
// Prefer binding to localhost (e.g. "127.0.0.1:9464").
type ObservabilityConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Metrics bool   `json:"metrics,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"`
	// Token is an optional bearer token guarding every route (do not log).
	Token string `json:"token,omitempty"`
}

// Schedule returns the effective schedule string for task name.
func (c *Config) Schedule(name string) string {
	if c != nil {
		if s, ok := c.Scheduler.Schedules[name]; ok && s != "" {
			return s
		}
	}
	return DefaultSchedules[name]
}

// EffectiveSchedules returns the schedule of every known task.
func (c *Config) EffectiveSchedules() map[string]string {
	out := make(map[string]string, len(DefaultSchedules))
	for _, name := range TaskNames() {
		out[name] = c.Schedule(name)
	}
	return out
}
