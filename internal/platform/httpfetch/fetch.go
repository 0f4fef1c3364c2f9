// Package httpfetch downloads a source URL over HTTP with progress
// reporting.
package httpfetch

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"

	"automod/internal/content"
	logx "automod/pkg/logx"
)

type Config struct {
	Timeout   time.Duration
	MaxBytes  int64 // 0 means unlimited
	UserAgent string
}

type Fetcher struct {
	cfg    Config
	client *http.Client
	log    logx.Logger
}

func New(cfg Config, log logx.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "automod/1"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Fetcher{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}, log: log.With(logx.String("comp", "httpfetch"))}
}

func (f *Fetcher) Fetch(ctx context.Context, d content.Download, w io.Writer, progress func(pct int)) error {
	src := strings.TrimSpace(d.SourceURL)
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		return errors.Newf("unsupported source %q", d.SourceURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "fetch")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Newf("http %d", resp.StatusCode)
	}
	if f.cfg.MaxBytes > 0 && resp.ContentLength > f.cfg.MaxBytes {
		return errors.Newf("too large: %s > %s", humanize.Bytes(uint64(resp.ContentLength)), humanize.Bytes(uint64(f.cfg.MaxBytes)))
	}

	var body io.Reader = resp.Body
	if f.cfg.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, f.cfg.MaxBytes+1)
	}
	pr := &progressReader{r: body, total: resp.ContentLength, report: progress}
	n, err := io.Copy(w, pr)
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if f.cfg.MaxBytes > 0 && n > f.cfg.MaxBytes {
		return errors.Newf("too large: more than %s", humanize.Bytes(uint64(f.cfg.MaxBytes)))
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return errors.Newf("short body: got %d of %d bytes", n, resp.ContentLength)
	}
	f.log.Debug("fetched", logx.String("download", d.ID), logx.String("size", humanize.Bytes(uint64(n))))
	return nil
}

// progressReader reports whole-percent steps when the total size is known.
// It stops at 99; the caller marks 100 when it records completion.
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	last   int
	report func(int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.report != nil && p.total > 0 {
		pct := int(p.read * 100 / p.total)
		if pct > 99 {
			pct = 99
		}
		if pct > p.last {
			p.last = pct
			p.report(pct)
		}
	}
	return n, err
}
