package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automod/internal/content"
	"automod/internal/fsx"
)

const day = 24 * time.Hour

func TestLogRetentionDeletesOnlyStrictlyOlder(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	now := nineAM
	window := 30 * day

	for i := 0; i < 35; i++ {
		require.NoError(t, st.AppendActivity(ctx, content.ActivityRecord{
			ID: fmt.Sprintf("recent-%02d", i), Actor: content.ActorSystem, Category: content.CategoryPublish,
			Action: "post.posted", Outcome: content.OutcomeSuccess, CreatedAt: now.Add(-time.Duration(i) * 12 * time.Hour),
		}))
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, st.AppendActivity(ctx, content.ActivityRecord{
			ID: fmt.Sprintf("old-%d", i), Actor: content.ActorSystem, Category: content.CategoryPublish,
			Action: "post.posted", Outcome: content.OutcomeSuccess, CreatedAt: now.Add(-window - time.Duration(i+1)*time.Hour),
		}))
	}
	n, err := st.CountActivity(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 40, n)

	// exactly at the window age: retained
	require.NoError(t, st.AppendActivity(ctx, content.ActivityRecord{
		ID: "boundary", Actor: content.ActorSystem, Category: content.CategoryPublish,
		Action: "post.posted", Outcome: content.OutcomeSuccess, CreatedAt: now.Add(-window),
	}))

	sink := &memSink{}
	ret := NewRetention(st, fsx.OS{}, testDeps(newClock(now), sink, Settings{ActivityWindow: window}))
	rep, err := ret.RunLogs(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 5, rep.Deleted)

	n, err = st.CountActivity(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 36, n)
	require.Len(t, sink.byAction("activity.purged"), 1)
	assert.EqualValues(t, 5, sink.byAction("activity.purged")[0].Metadata["deleted"])
}

func seedCompleted(t *testing.T, st interface {
	CreateDownload(context.Context, content.Download) error
}, dir, id string, at time.Time) string {
	t.Helper()
	path := filepath.Join(dir, id+".bin")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0o644))
	require.NoError(t, st.CreateDownload(context.Background(), content.Download{
		ID: id, UserID: "u", SourceURL: "https://example.test/" + id, Status: content.DownloadCompleted,
		Progress: 100, FilePath: path, FileSize: 7, CreatedAt: at, CompletedAt: tp(at),
	}))
	return path
}

func TestDownloadRetentionWindow(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for _, tc := range []struct {
		name    string
		elapsed time.Duration
		deleted bool
	}{
		{"after 29 days", 29 * day, false},
		{"after 31 days", 31 * day, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			st := newStore(t)
			dir := t.TempDir()
			path := seedCompleted(t, st, dir, "Z", t0)

			ret := NewRetention(st, fsx.OS{}, testDeps(newClock(t0.Add(tc.elapsed)), &memSink{}, Settings{DownloadWindow: 30 * day}))
			rep, err := ret.RunDownloads(context.Background(), t0.Add(tc.elapsed))
			require.NoError(t, err)

			_, statErr := os.Stat(path)
			_, getErr := st.GetDownload(context.Background(), "Z")
			if tc.deleted {
				assert.EqualValues(t, 1, rep.Deleted)
				assert.True(t, os.IsNotExist(statErr))
				assert.Error(t, getErr)
			} else {
				assert.Zero(t, rep.Deleted)
				assert.NoError(t, statErr)
				assert.NoError(t, getErr)
			}
		})
	}
}

func TestDownloadRetentionContinuesPastFileErrors(t *testing.T) {
	st := newStore(t)
	dir := t.TempDir()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	stuck := seedCompleted(t, st, dir, "stuck", t0)
	seedCompleted(t, st, dir, "fine", t0.Add(time.Minute))
	gone := seedCompleted(t, st, dir, "gone", t0.Add(2*time.Minute))
	require.NoError(t, os.Remove(gone))

	fs := flakyFS{failRemove: map[string]error{stuck: errors.New("permission denied")}}
	ret := NewRetention(st, fs, testDeps(newClock(t0.Add(40*day)), &memSink{}, Settings{}))
	rep, err := ret.RunDownloads(context.Background(), t0.Add(40*day))
	require.NoError(t, err)

	assert.EqualValues(t, 2, rep.Deleted)
	res, ok := rep.Find("stuck")
	require.True(t, ok)
	assert.Error(t, res.Err)

	_, err = st.GetDownload(context.Background(), "stuck")
	assert.NoError(t, err, "row kept so the next firing retries the file")
	_, err = st.GetDownload(context.Background(), "gone")
	assert.Error(t, err, "a missing file is not an error")
}

type cancelOnDelete struct {
	RetentionStore
	cancel context.CancelFunc
}

func (c cancelOnDelete) DeleteActivityBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	c.cancel()
	return c.RetentionStore.DeleteActivityBefore(ctx, cutoff)
}

func TestLogRetentionSurvivesShutdownMidDelete(t *testing.T) {
	st := newStore(t)
	now := nineAM
	require.NoError(t, st.AppendActivity(context.Background(), content.ActivityRecord{
		ID: "old", Actor: content.ActorSystem, Category: content.CategoryPublish,
		Action: "post.posted", Outcome: content.OutcomeSuccess, CreatedAt: now.Add(-40 * day),
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ret := NewRetention(cancelOnDelete{RetentionStore: st, cancel: cancel}, fsx.OS{},
		testDeps(newClock(now), &memSink{}, Settings{ActivityWindow: 30 * day}))

	rep, err := ret.RunLogs(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rep.Deleted)
}
