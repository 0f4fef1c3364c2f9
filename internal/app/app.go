// Package app wires configuration, storage, the trigger registry and the
// pipeline stages into one process.
package app

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"automod/internal/activity"
	"automod/internal/config"
	"automod/internal/content"
	"automod/internal/eventbus"
	"automod/internal/fsx"
	"automod/internal/observability"
	"automod/internal/pipeline"
	"automod/internal/platform"
	"automod/internal/platform/httpfetch"
	"automod/internal/platform/telegram"
	rtsup "automod/internal/runtime/supervisor"
	"automod/internal/storage"
	"automod/internal/task/engine"
	"automod/internal/task/scheduler"
	logx "automod/pkg/logx"
)

// Options adjust how the app is assembled.
type Options struct {
	// Manual disables the time-based triggers; tasks run only through Fire.
	Manual bool

	// Overrides for the external collaborators. Nil selects the adapters
	// built from config.
	Publisher pipeline.Publisher
	Metrics   pipeline.MetricsSource
	Fetcher   pipeline.Fetcher

	Now  func() time.Time
	Rand *rand.Rand
}

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store *storage.Store

	engine     *engine.Service
	reg        *scheduler.Registry
	metrics    *observability.Metrics
	obs        *observability.Server
	recorder   *activity.Recorder
	downloader *pipeline.Downloader

	rmu     sync.Mutex
	reports map[string]content.Report
}

// New loads the config at cfgPath, opens storage and registers every task.
// Nothing runs until Start (or Fire).
func New(ctx context.Context, cfgPath string, opts Options) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(validateSchedules)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, errors.Wrapf(err, "load config %s", cfgPath)
	}

	logSvc, log := logx.New(logConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:     cfgm,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		bus:      eventbus.New(),
		store:    store,
		metrics:  observability.NewMetrics(),
		recorder: activity.NewRecorder(store, log.With(logx.String("comp", "activity"))),
		reports:  map[string]content.Report{},
	}
	if err := a.build(cfg, opts, log); err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, opts Options, log logx.Logger) error {
	a.engine = engine.New(mapTaskEngineConfig(cfg), log.With(logx.String("comp", "taskengine")), a.bus)

	var src scheduler.TriggerSource = scheduler.NewCronSource(cfg.Scheduler.Spread)
	if opts.Manual {
		src = scheduler.ManualSource{}
	}
	reg, err := scheduler.New(scheduler.Config{Timezone: cfg.Scheduler.Timezone}, a.engine, src,
		log.With(logx.String("comp", "scheduler")))
	if err != nil {
		return err
	}
	a.reg = reg
	failures := activity.TaskFailureHook(a.recorder)
	reg.SetResultHook(func(ev engine.TaskEvent) {
		a.metrics.ObserveTask(ev)
		failures(ev)
	})

	pub, ms := opts.Publisher, opts.Metrics
	if pub == nil || ms == nil {
		router, err := buildRouter(cfg, log)
		if err != nil {
			return err
		}
		if pub == nil {
			pub = router
		}
		if ms == nil {
			ms = router
		}
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = httpfetch.New(mapFetchConfig(cfg), log)
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	deps := pipeline.Deps{
		Log:      log,
		Sink:     a.recorder,
		Bus:      a.bus,
		Now:      opts.Now,
		Settings: a.settings,
	}
	files := fsx.OS{}
	retention := pipeline.NewRetention(a.store, files, deps)
	a.downloader = pipeline.NewDownloader(a.store, fetcher, files, deps)

	stages := map[string]stageFunc{
		config.TaskPublishDue:       pipeline.NewPublishStage(a.store, pub, deps).Run,
		config.TaskGenerateContent:  pipeline.NewGenerator(a.store, rng, deps).Run,
		config.TaskReconcileMetrics: pipeline.NewReconciler(a.store, ms, deps).Run,
		config.TaskCleanupLogs:      retention.RunLogs,
		config.TaskCleanupDownloads: retention.RunDownloads,
		config.TaskProcessDownloads: a.downloader.Run,
	}
	for _, name := range config.TaskNames() {
		if err := reg.Register(name, cfg.Schedule(name), taskTimeout(cfg, name), a.handler(name, stages[name])); err != nil {
			return err
		}
	}

	a.obs = observability.New(mapObservabilityConfig(cfg), a.health, a.metrics,
		log.With(logx.String("comp", "observability")))
	return nil
}

// buildRouter registers the telegram adapter when a token is configured and
// optionally a dry-run fallback for every other platform.
func buildRouter(cfg *config.Config, log logx.Logger) (*platform.Router, error) {
	r := platform.NewRouter()
	if tc := mapTelegramConfig(cfg); tc.Token != "" {
		c, err := telegram.New(tc, log)
		if err != nil {
			return nil, err
		}
		r.Register(telegram.Platform, platform.Adapter{Publisher: c, Metrics: c})
	}
	if cfg.Pipeline.DryRun {
		r.SetFallback(platform.Adapter{Publisher: platform.DryRun{Log: log.With(logx.String("comp", "dryrun"))}})
	}
	return r, nil
}

// validateSchedules runs before a config is committed, so a reload with a
// bad schedule keeps the previous one.
func validateSchedules(_ context.Context, cfg *config.Config) error {
	for name, spec := range cfg.EffectiveSchedules() {
		if _, err := scheduler.ParseSchedule(spec); err != nil {
			return errors.Wrapf(err, "scheduler.schedules.%s", name)
		}
	}
	return nil
}

// settings is read by every stage at the start of a firing.
func (a *App) settings() pipeline.Settings {
	return mapSettings(a.cfgm.Get(), a.reg.Location())
}

func (a *App) Store() *storage.Store { return a.store }

func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Config() *config.Config { return a.cfgm.Get() }

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start recovers interrupted downloads, then starts the triggers, the
// observability server and the config watcher.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	if _, err := a.downloader.Recover(ctx); err != nil {
		return err
	}

	a.reg.Start(a.sup.Context())
	if a.obs.Enabled() {
		oc := a.Config().Observability
		a.obs.Start(a.sup.Context())
		a.log.Info("observability enabled",
			logx.String("addr", oc.Addr),
			logx.Bool("metrics", oc.Metrics),
			logx.Bool("pprof", oc.Pprof),
		)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		applied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts: keep only the latest config
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						newCfg = newer
					default:
						drained = true
					}
				}
				a.applyConfig(applied, newCfg)
				applied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.Strs("tasks", a.reg.Names()))
	return nil
}

// applyConfig pushes the hot-reloadable parts of newCfg into running
// components. Stage tunables need nothing here; stages read them per firing.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, rescheduled := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RequiresRestart(sections); len(restart) > 0 {
		a.log.Warn("config changed in sections that need a restart", logx.Strs("sections", restart))
	}
	if oldCfg.Scheduler.Timezone != newCfg.Scheduler.Timezone {
		a.log.Warn("scheduler.timezone changed; restart required for it to take effect")
	}

	a.logs.Apply(logConfig(newCfg))

	for _, name := range rescheduled {
		if err := a.reg.Reschedule(name, newCfg.Schedule(name)); err != nil {
			a.log.Warn("reschedule failed; keeping previous schedule", logx.String("task", name), logx.Err(err))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Fire runs one firing of a named task on the caller's goroutine and returns
// its report. A firing skipped because the task is already running returns
// an empty report and engine.ErrOverlapSkip.
func (a *App) Fire(ctx context.Context, name string) (content.Report, error) {
	err := a.reg.RunNow(ctx, name)
	if errors.Is(err, engine.ErrOverlapSkip) {
		return content.Report{}, err
	}
	rep, _ := a.LastReport(name)
	return rep, err
}

// LastReport returns the report of the most recent firing of name.
func (a *App) LastReport(name string) (content.Report, bool) {
	a.rmu.Lock()
	defer a.rmu.Unlock()
	rep, ok := a.reports[name]
	return rep, ok
}

// Tasks lists every registered task with its schedule and run state.
func (a *App) Tasks() []scheduler.TaskInfo { return a.reg.Snapshot() }

type health struct {
	Tasks  []scheduler.TaskInfo `json:"tasks"`
	Engine engineHealth         `json:"engine"`
}

type engineHealth struct {
	Workers  int    `json:"workers"`
	QueueLen int    `json:"queue_len"`
	InFlight int    `json:"in_flight"`
	Dropped  uint64 `json:"dropped"`
}

func (a *App) health(ctx context.Context) (any, error) {
	es := a.engine.Snapshot()
	h := health{
		Tasks:  a.reg.Snapshot(),
		Engine: engineHealth{Workers: es.Workers, QueueLen: es.QueueLen, InFlight: es.InFlight, Dropped: es.Dropped},
	}
	if err := a.store.Ping(ctx); err != nil {
		return h, errors.Wrap(err, "storage")
	}
	return h, nil
}

// Stop shuts components down in reverse start order. Each step is bounded so
// one stuck component cannot stall the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.sup != nil {
		a.sup.Cancel()
	}

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// the registry stops the triggers, then waits for in-flight firings
	step("scheduler", 30*time.Second, func(c context.Context) error { a.reg.Stop(c); return nil })
	step("observability", 2*time.Second, func(c context.Context) error { a.obs.Stop(c); return nil })
	if a.sup != nil {
		step("supervisor", 2*time.Second, a.sup.Wait)
	}
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
