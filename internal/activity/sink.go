// Package activity is the append-only audit trail sink used by the pipeline
// stages and the trigger registry.
package activity

import (
	"context"
	"time"

	"github.com/google/uuid"

	"automod/internal/content"
	"automod/internal/task/engine"
	logx "automod/pkg/logx"
)

// Sink records activity. Recording is fire-and-forget: implementations log
// write failures and never hand them back to the caller.
type Sink interface {
	Record(ctx context.Context, rec content.ActivityRecord)
}

// Appender is the persistence side of a Recorder.
type Appender interface {
	AppendActivity(ctx context.Context, r content.ActivityRecord) error
}

// Recorder writes activity records through an Appender.
type Recorder struct {
	store   Appender
	log     logx.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewRecorder(store Appender, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, log: log, timeout: 5 * time.Second, now: time.Now}
}

func (r *Recorder) Record(ctx context.Context, rec content.ActivityRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Actor == "" {
		rec.Actor = content.ActorSystem
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now().UTC()
	}
	if rec.Outcome == "" {
		rec.Outcome = content.OutcomeSuccess
	}

	// the audit write still lands when the firing is being cancelled
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.store.AppendActivity(wctx, rec); err != nil {
		r.log.Warn("activity write failed",
			logx.String("category", rec.Category),
			logx.String("action", rec.Action),
			logx.Err(err),
		)
	}
}

// TaskFailureHook returns a result hook for the task engine that records one
// failed scheduler activity per failed or panicked execution.
func TaskFailureHook(sink Sink) func(engine.TaskEvent) {
	return func(ev engine.TaskEvent) {
		if ev.Error == "" {
			return
		}
		meta := map[string]any{
			"task":        ev.Name,
			"run_id":      ev.ID,
			"duration_ms": ev.Duration.Milliseconds(),
		}
		if ev.Panicked {
			meta["panic"] = true
		}
		sink.Record(context.Background(), content.ActivityRecord{
			Actor:    content.ActorSystem,
			Category: content.CategoryScheduler,
			Action:   ev.Name,
			Outcome:  content.OutcomeFailure,
			Message:  ev.Error,
			Metadata: meta,
		})
	}
}

// Nop discards every record.
type Nop struct{}

func (Nop) Record(context.Context, content.ActivityRecord) {}
