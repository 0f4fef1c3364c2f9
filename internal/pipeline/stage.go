// Package pipeline implements the scheduler-driven stages: generation,
// publish, metrics reconciliation, retention and the download worker.
//
// Stages never call each other. Each firing reads candidates from storage,
// processes every entity in isolation and writes transitions back. Per-item
// outcomes are collected in a content.Report; only a failure to reach
// storage aborts a firing.
package pipeline

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"automod/internal/activity"
	"automod/internal/content"
	"automod/internal/eventbus"
	"automod/internal/storage"
	logx "automod/pkg/logx"
)

// Publisher delivers a post to its target platform.
type Publisher interface {
	Publish(ctx context.Context, acc content.Account, p content.Post) error
}

// MetricsSource reads an account's externally-sourced counters.
type MetricsSource interface {
	FetchMetrics(ctx context.Context, acc content.Account) (content.Metrics, error)
}

// Fetcher streams a download's content into w, calling progress with a
// 0..100 percentage as it goes.
type Fetcher interface {
	Fetch(ctx context.Context, d content.Download, w io.Writer, progress func(pct int)) error
}

// Settings are the tunables a stage reads at the start of every firing.
type Settings struct {
	Location            *time.Location
	PublishConcurrency  int
	CallTimeout         time.Duration
	ActivityWindow      time.Duration
	DownloadWindow      time.Duration
	DownloadDir         string
	DownloadConcurrency int
	DownloadBatch       int
	DownloadTimeout     time.Duration
}

const DefaultRetention = 30 * 24 * time.Hour

func (s Settings) withDefaults() Settings {
	if s.Location == nil {
		s.Location = time.Local
	}
	if s.PublishConcurrency <= 0 {
		s.PublishConcurrency = 4
	}
	if s.CallTimeout <= 0 {
		s.CallTimeout = 30 * time.Second
	}
	if s.ActivityWindow <= 0 {
		s.ActivityWindow = DefaultRetention
	}
	if s.DownloadWindow <= 0 {
		s.DownloadWindow = DefaultRetention
	}
	if s.DownloadDir == "" {
		s.DownloadDir = "downloads"
	}
	if s.DownloadConcurrency <= 0 {
		s.DownloadConcurrency = 2
	}
	if s.DownloadBatch <= 0 {
		s.DownloadBatch = 4 * s.DownloadConcurrency
	}
	if s.DownloadTimeout <= 0 {
		s.DownloadTimeout = 10 * time.Minute
	}
	return s
}

// Deps are the collaborators shared by every stage.
type Deps struct {
	Log      logx.Logger
	Sink     activity.Sink
	Bus      eventbus.Bus
	Now      func() time.Time
	Settings func() Settings
}

func (d Deps) normalize(comp string) Deps {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	d.Log = d.Log.With(logx.String("comp", comp))
	if d.Sink == nil {
		d.Sink = activity.Nop{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Settings == nil {
		d.Settings = func() Settings { return Settings{} }
	}
	return d
}

func (d Deps) settings() Settings { return d.Settings().withDefaults() }

func (d Deps) record(ctx context.Context, category, action string, outcome content.Outcome, msg string, meta map[string]any) {
	d.Sink.Record(ctx, content.ActivityRecord{
		Actor:     content.ActorSystem,
		Category:  category,
		Action:    action,
		Outcome:   outcome,
		Message:   msg,
		Metadata:  meta,
		CreatedAt: d.Now().UTC(),
	})
}

func (d Deps) emit(typ string, data any) { eventbus.Emit(d.Bus, typ, data) }

// callContext detaches a collaborator call from firing cancellation so an
// item already in hand finishes, bounded by timeout.
func callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

// abort tracks the first fatal storage error of a firing. Once set, no new
// items are started.
type abort struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	err    error
}

func newAbort(ctx context.Context) (context.Context, *abort) {
	c, cancel := context.WithCancel(ctx)
	return c, &abort{cancel: cancel}
}

// fail records err as fatal if it is a storage error other than a
// concurrent-change conflict or a missing row. It reports whether err was
// fatal.
func (a *abort) fail(err error) bool {
	if err == nil || errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
		return false
	}
	a.mu.Lock()
	if a.err == nil {
		a.err = err
		a.cancel()
	}
	a.mu.Unlock()
	return true
}

func (a *abort) result() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

func (a *abort) done() { a.cancel() }

// conflict maps a conditional-update miss to a precondition failure.
func conflict(entity, id, from, to string, err error) error {
	if errors.Is(err, storage.ErrConflict) {
		return &content.PreconditionError{Entity: entity, ID: id, From: from, To: to, Reason: "state changed concurrently"}
	}
	return err
}

func isMissing(err error) bool { return errors.Is(err, storage.ErrNotFound) }
