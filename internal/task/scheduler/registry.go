package scheduler

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"

	"automod/internal/task/engine"
	logx "automod/pkg/logx"
)

// Handler is the body of a recurring task. fired is the trigger time in the
// registry's timezone.
type Handler func(ctx context.Context, fired time.Time) error

type Config struct {
	// Timezone is an IANA name; empty means the process local zone.
	Timezone string
}

// TaskInfo is a point-in-time view of one registered task.
type TaskInfo struct {
	Name    string    `json:"name"`
	Spec    string    `json:"spec"`
	Timeout string    `json:"timeout,omitempty"`
	Running bool      `json:"running"`
	Next    time.Time `json:"next,omitempty"`
	Prev    time.Time `json:"prev,omitempty"`
	LastRun time.Time `json:"last_run,omitempty"`
}

type entry struct {
	name    string
	spec    string
	timeout time.Duration
	handler Handler
	sched   cron.Schedule
	state   *engine.RunState
	id      cron.EntryID
}

// Registry owns the set of named recurring tasks. Each registered task fires
// into the task engine on its own schedule; a firing that arrives while the
// previous run of the same task is still queued or running is skipped.
type Registry struct {
	mu      sync.Mutex
	log     logx.Logger
	eng     *engine.Service
	src     TriggerSource
	loc     *time.Location
	c       *cron.Cron
	tasks   map[string]*entry
	started bool
	now     func() time.Time
}

func New(cfg Config, eng *engine.Service, src TriggerSource, log logx.Logger) (*Registry, error) {
	if eng == nil {
		return nil, errors.New("task engine required")
	}
	if src == nil {
		src = NewCronSource(true)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	loc, err := LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	return &Registry{
		log:   log,
		eng:   eng,
		src:   src,
		loc:   loc,
		tasks: map[string]*entry{},
		now:   time.Now,
	}, nil
}

// LoadLocation resolves an IANA timezone name; empty means time.Local.
func LoadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, errors.Wrapf(err, "load timezone %q", name)
	}
	return loc, nil
}

func (r *Registry) Location() *time.Location { return r.loc }

// SetResultHook forwards every execution outcome (success or failure) to fn.
func (r *Registry) SetResultHook(fn func(engine.TaskEvent)) { r.eng.SetResultHook(fn) }

// Register adds a named task. Registering a name twice fails with
// *DuplicateTaskError. Tasks registered after Start are scheduled immediately.
func (r *Registry) Register(name, spec string, timeout time.Duration, h Handler) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("task name required")
	}
	if h == nil {
		return errors.Newf("task %s: handler required", name)
	}
	sched, err := r.src.Resolve(spec, r.now(), name)
	if err != nil {
		return errors.Wrapf(err, "task %s", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[name]; ok {
		return &DuplicateTaskError{Name: name}
	}
	e := &entry{name: name, spec: spec, timeout: timeout, handler: h, sched: sched, state: &engine.RunState{}}
	r.tasks[name] = e
	if r.started {
		e.id = r.c.Schedule(sched, r.job(e))
	}
	r.log.Debug("task registered", logx.String("task", name), logx.String("spec", spec))
	return nil
}

// Reschedule replaces the schedule of a registered task. Run state (overlap
// gate, last run) is preserved.
func (r *Registry) Reschedule(name, spec string) error {
	r.mu.Lock()
	e, ok := r.tasks[name]
	same := ok && e.spec == spec
	r.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrUnknownTask, "%s", name)
	}
	if same {
		return nil
	}
	sched, err := r.src.Resolve(spec, r.now(), name)
	if err != nil {
		return errors.Wrapf(err, "task %s", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	old := e.spec
	e.spec, e.sched = spec, sched
	if r.started {
		r.c.Remove(e.id)
		e.id = r.c.Schedule(sched, r.job(e))
	}
	r.log.Info("task rescheduled", logx.String("task", name), logx.String("from", old), logx.String("to", spec))
	return nil
}

// Start starts the task engine and activates every registered schedule.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.eng.Start(ctx)
	r.c = cron.New(cron.WithLocation(r.loc))
	for _, e := range r.tasks {
		e.id = r.c.Schedule(e.sched, r.job(e))
	}
	r.started = true
	c, n := r.c, len(r.tasks)
	r.mu.Unlock()

	c.Start()
	r.log.Info("trigger registry started", logx.Int("tasks", n), logx.String("tz", r.loc.String()))
}

// Stop stops triggering new firings and waits (bounded by ctx) for in-flight
// handler invocations to return.
func (r *Registry) Stop(ctx context.Context) {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	c := r.c
	r.started = false
	r.mu.Unlock()

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	r.eng.Stop(ctx)
	r.log.Info("trigger registry stopped")
}

// Fire triggers one firing of name immediately, as if its schedule had come
// due. The firing runs asynchronously on the engine, so the registry must be
// started.
func (r *Registry) Fire(name string) error {
	e, err := r.lookup(name)
	if err != nil {
		return err
	}
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if !started {
		return errors.Wrapf(ErrNotStarted, "fire %s", name)
	}
	return r.eng.Enqueue(r.task(e, r.now().In(r.loc)))
}

// RunNow runs one firing of name on the caller's goroutine and returns the
// handler's error. The overlap gate still applies.
func (r *Registry) RunNow(ctx context.Context, name string) error {
	e, err := r.lookup(name)
	if err != nil {
		return err
	}
	return r.eng.Exec(ctx, r.task(e, r.now().In(r.loc)))
}

// Names returns registered task names in lexical order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.tasks))
	for n := range r.tasks {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Snapshot() []TaskInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TaskInfo, 0, len(r.tasks))
	for _, e := range r.tasks {
		ti := TaskInfo{
			Name:    e.name,
			Spec:    e.spec,
			Running: e.state.Running(),
			LastRun: e.state.LastRun(),
		}
		if e.timeout > 0 {
			ti.Timeout = e.timeout.String()
		}
		if r.started {
			ce := r.c.Entry(e.id)
			ti.Next, ti.Prev = ce.Next, ce.Prev
		}
		out = append(out, ti)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) lookup(name string) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tasks[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownTask, "%s", name)
	}
	return e, nil
}

func (r *Registry) job(e *entry) cron.Job {
	return cron.FuncJob(func() {
		err := r.eng.Enqueue(r.task(e, r.now().In(r.loc)))
		switch {
		case err == nil:
		case errors.Is(err, engine.ErrOverlapSkip):
			r.log.Info("firing skipped: previous run still in progress", logx.String("task", e.name))
		default:
			r.log.Warn("firing not enqueued", logx.String("task", e.name), logx.Err(err))
		}
	})
}

func (r *Registry) task(e *entry, fired time.Time) engine.Task {
	h := e.handler
	return engine.Task{
		Name:    e.name,
		Timeout: e.timeout,
		Run:     func(ctx context.Context) error { return h(ctx, fired) },
		Opt:     engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning},
		State:   e.state,
	}
}
