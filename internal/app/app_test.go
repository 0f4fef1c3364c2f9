package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automod/internal/config"
	"automod/internal/content"
	"automod/internal/task/engine"
	"automod/internal/task/scheduler"
)

type recordingPublisher struct {
	mu    sync.Mutex
	posts []string
}

func (p *recordingPublisher) Publish(_ context.Context, _ content.Account, post content.Post) error {
	p.mu.Lock()
	p.posts = append(p.posts, post.ID)
	p.mu.Unlock()
	return nil
}

type staticMetrics struct{ m content.Metrics }

func (s staticMetrics) FetchMetrics(context.Context, content.Account) (content.Metrics, error) {
	return s.m, nil
}

// blockingFetcher holds every fetch until release is closed.
type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
}

func (f *blockingFetcher) Fetch(_ context.Context, _ content.Download, w io.Writer, _ func(int)) error {
	close(f.started)
	<-f.release
	_, err := io.WriteString(w, "done")
	return err
}

func writeConfig(t *testing.T, dir, extra string) string {
	t.Helper()
	body := "logging:\n  level: error\nstorage:\n  path: " + filepath.Join(dir, "automod.db") + "\n" +
		"scheduler:\n  timezone: UTC\ndownloads:\n  dir: " + filepath.Join(dir, "downloads") + "\n" + extra
	p := filepath.Join(dir, "automod.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func newTestApp(t *testing.T, pub *recordingPublisher, now time.Time) *App {
	t.Helper()
	dir := t.TempDir()
	a, err := New(context.Background(), writeConfig(t, dir, ""), Options{
		Manual:    true,
		Publisher: pub,
		Metrics:   staticMetrics{m: content.Metrics{Followers: 42}},
		Now:       func() time.Time { return now },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop(context.Background(), StopCommand) })
	return a
}

func TestNewRegistersEveryTask(t *testing.T) {
	a := newTestApp(t, &recordingPublisher{}, time.Now())

	var names []string
	for _, ti := range a.Tasks() {
		names = append(names, ti.Name)
		assert.Equal(t, config.DefaultSchedules[ti.Name], ti.Spec)
	}
	assert.ElementsMatch(t, config.TaskNames(), names)
}

func TestFirePublishesDuePosts(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	pub := &recordingPublisher{}
	a := newTestApp(t, pub, now)
	ctx := context.Background()
	st := a.Store()

	require.NoError(t, st.UpsertAccount(ctx, content.Account{ID: "acc-1", UserID: "u1", Platform: "telegram", Handle: "h", Connected: true}))
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	require.NoError(t, st.CreatePost(ctx, content.Post{ID: "due", AccountID: "acc-1", Body: "x", Status: content.PostApproved, ScheduledAt: &past, CreatedAt: past}))
	require.NoError(t, st.CreatePost(ctx, content.Post{ID: "later", AccountID: "acc-1", Body: "y", Status: content.PostApproved, ScheduledAt: &future, CreatedAt: past}))

	rep, err := a.Fire(ctx, config.TaskPublishDue)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Succeeded())
	assert.Equal(t, []string{"due"}, pub.posts)

	p, err := st.GetPost(ctx, "due")
	require.NoError(t, err)
	assert.Equal(t, content.PostPosted, p.Status)

	last, ok := a.LastReport(config.TaskPublishDue)
	require.True(t, ok)
	assert.Equal(t, "publish", last.Stage)

	// the metrics stage reads through the injected source
	rep, err = a.Fire(ctx, config.TaskReconcileMetrics)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Succeeded())
	acc, err := st.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), acc.Metrics.Followers)
}

func TestFireUnknownTask(t *testing.T) {
	a := newTestApp(t, &recordingPublisher{}, time.Now())
	_, err := a.Fire(context.Background(), "nope")
	require.True(t, errors.Is(err, scheduler.ErrUnknownTask))
}

func TestApplyConfigReschedules(t *testing.T) {
	a := newTestApp(t, &recordingPublisher{}, time.Now())
	oldCfg := a.Config()
	newCfg := *oldCfg
	newCfg.Scheduler.Schedules = map[string]string{config.TaskCleanupLogs: "0 5 * * *"}

	a.applyConfig(oldCfg, &newCfg)

	for _, ti := range a.Tasks() {
		if ti.Name == config.TaskCleanupLogs {
			assert.Equal(t, "0 5 * * *", ti.Spec)
		}
	}
}

func TestHealthReportsStorage(t *testing.T) {
	a := newTestApp(t, &recordingPublisher{}, time.Now())
	v, err := a.health(context.Background())
	require.NoError(t, err)
	h, ok := v.(health)
	require.True(t, ok)
	assert.Len(t, h.Tasks, len(config.TaskNames()))
}

func TestValidateSchedules(t *testing.T) {
	for _, spec := range []string{"whenever", "every fifteen minutes", "61 * * * *", "0 3 * *"} {
		cfg := &config.Config{Scheduler: config.SchedulerConfig{Schedules: map[string]string{config.TaskPublishDue: spec}}}
		require.Error(t, validateSchedules(context.Background(), cfg), spec)
	}
	require.NoError(t, validateSchedules(context.Background(), &config.Config{}))
	ok := &config.Config{Scheduler: config.SchedulerConfig{Schedules: map[string]string{config.TaskPublishDue: "*/5 * * * *"}}}
	require.NoError(t, validateSchedules(context.Background(), ok))
}

func TestReloadKeepsConfigWithBadCron(t *testing.T) {
	a := newTestApp(t, &recordingPublisher{}, time.Now())
	before := a.Config().Schedule(config.TaskPublishDue)

	p := a.cfgm.Path()
	body, err := os.ReadFile(p)
	require.NoError(t, err)
	bad := strings.Replace(string(body), "scheduler:\n", "scheduler:\n  schedules:\n    publish_due: \"every fifteen minutes\"\n", 1)
	require.NotEqual(t, string(body), bad)
	require.NoError(t, os.WriteFile(p, []byte(bad), 0o600))

	_, err = a.cfgm.Reload(context.Background())
	require.Error(t, err)
	assert.Equal(t, before, a.Config().Schedule(config.TaskPublishDue))
}

func TestNewRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	p := writeConfig(t, dir, "task_engine:\n  workers: -1\n")
	_, err := New(context.Background(), p, Options{Manual: true})
	require.Error(t, err)
}

func TestFireSkippedReturnsEmptyReport(t *testing.T) {
	dir := t.TempDir()
	f := &blockingFetcher{started: make(chan struct{}), release: make(chan struct{})}
	a, err := New(context.Background(), writeConfig(t, dir, ""), Options{Manual: true, Fetcher: f})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop(context.Background(), StopCommand) })
	ctx := context.Background()

	// an earlier firing leaves a report behind
	_, err = a.Fire(ctx, config.TaskProcessDownloads)
	require.NoError(t, err)
	_, ok := a.LastReport(config.TaskProcessDownloads)
	require.True(t, ok)

	require.NoError(t, a.Store().CreateDownload(ctx, content.Download{ID: "d1", UserID: "u", SourceURL: "https://example.test/d1", CreatedAt: time.Now()}))
	done := make(chan error, 1)
	go func() {
		_, err := a.Fire(ctx, config.TaskProcessDownloads)
		done <- err
	}()
	<-f.started

	rep, err := a.Fire(ctx, config.TaskProcessDownloads)
	require.ErrorIs(t, err, engine.ErrOverlapSkip)
	assert.Empty(t, rep.Stage)
	assert.Empty(t, rep.Results)

	close(f.release)
	require.NoError(t, <-done)
	last, ok := a.LastReport(config.TaskProcessDownloads)
	require.True(t, ok)
	assert.Equal(t, 1, last.Succeeded())
}
