package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automod/internal/content"
	"automod/internal/task/engine"
	logx "automod/pkg/logx"
)

func get(t *testing.T, h http.Handler, target string, hdr map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code, rec.Body.String()
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	s := New(Config{}, func(context.Context) (any, error) {
		return []string{"publish_due"}, nil
	}, nil, logx.Nop())

	code, body := get(t, s.Handler(), "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"status":"ok"`)
	assert.Contains(t, body, "publish_due")

	down := New(Config{}, func(context.Context) (any, error) {
		return nil, errors.New("database unreachable")
	}, nil, logx.Nop())
	code, body = get(t, down.Handler(), "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "database unreachable")
}

func TestRoutesFollowConfig(t *testing.T) {
	t.Parallel()
	m := NewMetrics()

	off := New(Config{}, nil, m, logx.Nop()).Handler()
	code, _ := get(t, off, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = get(t, off, "/debug/pprof/", nil)
	assert.Equal(t, http.StatusNotFound, code)

	on := New(Config{Metrics: true, Pprof: true}, nil, m, logx.Nop()).Handler()
	code, _ = get(t, on, "/metrics", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = get(t, on, "/debug/pprof/", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()
	h := New(Config{Token: "s3cret"}, nil, nil, logx.Nop()).Handler()

	code, _ := get(t, h, "/healthz", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = get(t, h, "/healthz?token=wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = get(t, h, "/healthz?token=s3cret", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = get(t, h, "/healthz", map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, http.StatusOK, code)
}

func TestMetricsObserve(t *testing.T) {
	t.Parallel()
	m := NewMetrics()
	m.ObserveTask(engine.TaskEvent{Name: "publish_due", Duration: time.Second})
	m.ObserveTask(engine.TaskEvent{Name: "publish_due", Error: "boom"})
	m.ObserveTask(engine.TaskEvent{Name: "publish_due", Error: "panic", Panicked: true})

	rep := content.Report{Stage: "publish"}
	rep.Add(content.Succeeded("post", "a"))
	rep.Add(content.Succeeded("post", "b"))
	rep.Add(content.Failed("post", "c", errors.New("rate_limited")))
	rep.Add(content.Skipped("post", "d"))
	m.ObserveReport(rep)
	m.ObserveReport(content.Report{Stage: "cleanup_logs", Deleted: 5})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Firings.WithLabelValues("publish_due", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Firings.WithLabelValues("publish_due", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Firings.WithLabelValues("publish_due", "panic")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Items.WithLabelValues("publish", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Items.WithLabelValues("publish", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Items.WithLabelValues("publish", "skipped")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.Purged.WithLabelValues("cleanup_logs")))

	var nilMetrics *Metrics
	nilMetrics.ObserveReport(rep)
}

func TestStartServesAndStops(t *testing.T) {
	assert.False(t, New(Config{}, nil, nil, logx.Nop()).Enabled())
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, nil, nil, logx.Nop())
	assert.True(t, s.Enabled())
	s.Start(context.Background())

	require.Eventually(t, func() bool { return s.Addr() != "" }, 3*time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(b), "ok"))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.Nil(t, s.Supervisor())
}

func TestRefusesPublicBindWithoutToken(t *testing.T) {
	t.Parallel()
	assert.True(t, isLoopbackAddr("127.0.0.1:9464"))
	assert.True(t, isLoopbackAddr("localhost:1"))
	assert.False(t, isLoopbackAddr(":9464"))
	assert.False(t, isLoopbackAddr("0.0.0.0:9464"))
}
