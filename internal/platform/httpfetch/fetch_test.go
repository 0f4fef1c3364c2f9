package httpfetch

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automod/internal/content"
	logx "automod/pkg/logx"
)

func TestFetchReportsProgress(t *testing.T) {
	t.Parallel()
	payload := strings.Repeat("x", 64*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	f := New(Config{}, logx.Nop())
	var buf bytes.Buffer
	var steps []int
	err := f.Fetch(context.Background(), content.Download{ID: "d", SourceURL: srv.URL + "/file"}, &buf, func(p int) { steps = append(steps, p) })
	require.NoError(t, err)
	assert.Equal(t, payload, buf.String())
	require.NotEmpty(t, steps)
	assert.True(t, sort.IntsAreSorted(steps))
	assert.Equal(t, 99, steps[len(steps)-1])
}

func TestFetchHTTPError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	err := New(Config{}, logx.Nop()).Fetch(context.Background(), content.Download{SourceURL: srv.URL}, &bytes.Buffer{}, nil)
	require.Error(t, err)
	assert.Equal(t, "http 404", err.Error())
}

func TestFetchRejectsOversizeAndBadScheme(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("y"), 2048))
	}))
	defer srv.Close()

	f := New(Config{MaxBytes: 1024}, logx.Nop())
	err := f.Fetch(context.Background(), content.Download{SourceURL: srv.URL}, &bytes.Buffer{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")

	err = f.Fetch(context.Background(), content.Download{SourceURL: "ftp://example.test/x"}, &bytes.Buffer{}, nil)
	assert.Error(t, err)
}
