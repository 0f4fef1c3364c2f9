package activity

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automod/internal/content"
	"automod/internal/task/engine"
	logx "automod/pkg/logx"
)

type memAppender struct {
	mu   sync.Mutex
	recs []content.ActivityRecord
	err  error
}

func (m *memAppender) AppendActivity(_ context.Context, r content.ActivityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.recs = append(m.recs, r)
	return nil
}

func TestRecorderFillsDefaults(t *testing.T) {
	t.Parallel()
	store := &memAppender{}
	rec := NewRecorder(store, logx.Nop())
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec.now = func() time.Time { return fixed }

	rec.Record(context.Background(), content.ActivityRecord{Category: content.CategoryPublish, Action: "post.posted"})

	require.Len(t, store.recs, 1)
	got := store.recs[0]
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, content.ActorSystem, got.Actor)
	assert.Equal(t, content.OutcomeSuccess, got.Outcome)
	assert.Equal(t, fixed, got.CreatedAt)
}

func TestRecorderSwallowsWriteErrors(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	store := &memAppender{err: errors.New("disk full")}
	rec := NewRecorder(store, logx.NewWriter(&buf, "debug"))

	rec.Record(context.Background(), content.ActivityRecord{Category: content.CategorySync, Action: "account.synced"})
	assert.Contains(t, buf.String(), "activity write failed")
	assert.Contains(t, buf.String(), "disk full")
}

func TestRecorderWritesAfterCancel(t *testing.T) {
	t.Parallel()
	store := &memAppender{}
	rec := NewRecorder(store, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec.Record(ctx, content.ActivityRecord{Category: content.CategoryDownload, Action: "download.completed"})
	assert.Len(t, store.recs, 1)
}

func TestTaskFailureHook(t *testing.T) {
	t.Parallel()
	store := &memAppender{}
	hook := TaskFailureHook(NewRecorder(store, logx.Nop()))

	hook(engine.TaskEvent{ID: "r1", Name: "publish_due"})
	hook(engine.TaskEvent{ID: "r2", Name: "reconcile_metrics", Error: "store unreachable", Duration: 1500 * time.Millisecond})
	hook(engine.TaskEvent{ID: "r3", Name: "cleanup_logs", Error: "panic: boom", Panicked: true})

	require.Len(t, store.recs, 2)
	first := store.recs[0]
	assert.Equal(t, content.CategoryScheduler, first.Category)
	assert.Equal(t, content.OutcomeFailure, first.Outcome)
	assert.Equal(t, "reconcile_metrics", first.Action)
	assert.Equal(t, "store unreachable", first.Message)
	assert.EqualValues(t, 1500, first.Metadata["duration_ms"])
	assert.Equal(t, true, store.recs[1].Metadata["panic"])
}
