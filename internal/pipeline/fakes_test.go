package pipeline

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"automod/internal/content"
	"automod/internal/fsx"
	"automod/internal/storage"
	logx "automod/pkg/logx"
)

var nineAM = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.Open(context.Background(), storage.Config{Path: filepath.Join(t.TempDir(), "pipeline.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *clock { return &clock{t: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type memSink struct {
	mu   sync.Mutex
	recs []content.ActivityRecord
}

func (s *memSink) Record(_ context.Context, r content.ActivityRecord) {
	s.mu.Lock()
	s.recs = append(s.recs, r)
	s.mu.Unlock()
}

func (s *memSink) byAction(action string) []content.ActivityRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []content.ActivityRecord
	for _, r := range s.recs {
		if r.Action == action {
			out = append(out, r)
		}
	}
	return out
}

type fakePublisher struct {
	mu    sync.Mutex
	fail  map[string]error
	calls []string
}

func (p *fakePublisher) Publish(_ context.Context, _ content.Account, post content.Post) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, post.ID)
	return p.fail[post.ID]
}

func (p *fakePublisher) called() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

type fakeMetrics struct {
	values map[string]content.Metrics
	errs   map[string]error
}

func (m *fakeMetrics) FetchMetrics(_ context.Context, acc content.Account) (content.Metrics, error) {
	if err := m.errs[acc.ID]; err != nil {
		return content.Metrics{}, err
	}
	return m.values[acc.ID], nil
}

// scriptFetcher writes body and reports the given progress steps; an entry
// in errs aborts after the steps.
type scriptFetcher struct {
	body  map[string]string
	steps []int
	errs  map[string]error
}

func (f *scriptFetcher) Fetch(_ context.Context, d content.Download, w io.Writer, progress func(int)) error {
	for _, pct := range f.steps {
		progress(pct)
	}
	if err := f.errs[d.ID]; err != nil {
		return err
	}
	_, err := io.WriteString(w, f.body[d.ID])
	return err
}

// progressSpy records every progress value actually stored.
type progressSpy struct {
	*storage.Store
	mu     sync.Mutex
	stored map[string][]int
}

func (s *progressSpy) UpdateDownloadProgress(ctx context.Context, id string, pct int) (bool, error) {
	ok, err := s.Store.UpdateDownloadProgress(ctx, id, pct)
	if ok {
		s.mu.Lock()
		if s.stored == nil {
			s.stored = map[string][]int{}
		}
		s.stored[id] = append(s.stored[id], pct)
		s.mu.Unlock()
	}
	return ok, err
}

// flakyFS fails removal for the listed paths.
type flakyFS struct {
	fsx.OS
	failRemove map[string]error
}

func (f flakyFS) RemoveIfExists(path string) (bool, error) {
	if err := f.failRemove[path]; err != nil {
		return false, err
	}
	return f.OS.RemoveIfExists(path)
}

func testDeps(c *clock, sink *memSink, set Settings) Deps {
	return Deps{
		Log:      logx.Nop(),
		Sink:     sink,
		Now:      c.Now,
		Settings: func() Settings { return set },
	}
}

func tp(t time.Time) *time.Time { return &t }
