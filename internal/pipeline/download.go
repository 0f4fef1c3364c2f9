package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"automod/internal/content"
	"automod/internal/eventbus"
	"automod/internal/fsx"
	logx "automod/pkg/logx"
)

// InterruptedReason is stored on downloads found mid-transfer at startup.
const InterruptedReason = "interrupted"

type DownloadStore interface {
	ClaimPendingDownloads(ctx context.Context, limit int) ([]content.Download, error)
	UpdateDownloadProgress(ctx context.Context, id string, pct int) (bool, error)
	CompleteDownload(ctx context.Context, id, path string, size int64, at time.Time) error
	FailDownload(ctx context.Context, id, reason string) error
	FailInterruptedDownloads(ctx context.Context, reason string) (int64, error)
}

// Downloader claims pending downloads and fetches them concurrently.
type Downloader struct {
	store   DownloadStore
	fetcher Fetcher
	fs      fsx.FS
	deps    Deps
}

func NewDownloader(store DownloadStore, fetcher Fetcher, fs fsx.FS, deps Deps) *Downloader {
	if fs == nil {
		fs = fsx.OS{}
	}
	return &Downloader{store: store, fetcher: fetcher, fs: fs, deps: deps.normalize("download")}
}

// Recover fails every download left in downloading by a previous process.
func (d *Downloader) Recover(ctx context.Context) (int64, error) {
	n, err := d.store.FailInterruptedDownloads(ctx, InterruptedReason)
	if err != nil {
		return 0, errors.Wrap(err, "download: recover interrupted")
	}
	if n > 0 {
		d.deps.Log.Warn("interrupted downloads marked as error", logx.Int64("count", n))
		d.deps.record(ctx, content.CategoryDownload, "download.recovered", content.OutcomeFailure,
			humanize.Comma(n)+" downloads interrupted by restart", map[string]any{"count": n})
	}
	return n, nil
}

func (d *Downloader) Run(ctx context.Context, _ time.Time) (content.Report, error) {
	rep := content.Report{Stage: "download"}
	set := d.deps.settings()

	claimed, claimErr := d.store.ClaimPendingDownloads(ctx, set.DownloadBatch)
	if claimErr != nil {
		// rows claimed before the failure are still processed
		if len(claimed) == 0 {
			return rep, errors.Wrap(claimErr, "download: claim pending")
		}
		d.deps.Log.Error("claim interrupted", logx.Err(claimErr), logx.Int("claimed", len(claimed)))
	}
	if len(claimed) == 0 {
		return rep, nil
	}

	loopCtx, ab := newAbort(ctx)
	defer ab.done()

	results := make([]content.Result, len(claimed))
	var g errgroup.Group
	g.SetLimit(set.DownloadConcurrency)
	for i := range claimed {
		i := i
		if loopCtx.Err() != nil {
			// already claimed; leaving them in downloading would strand them
			results[i] = d.fail(context.WithoutCancel(ctx), ab, &claimed[i], errors.New("cancelled before start"))
			continue
		}
		g.Go(func() error {
			results[i] = d.fetchOne(ctx, ab, claimed[i], set)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		rep.Add(r)
	}
	d.deps.Log.Info("download firing done",
		logx.Int("claimed", len(claimed)),
		logx.Int("completed", rep.Succeeded()),
		logx.Int("failed", rep.Failed()),
	)
	if err := ab.result(); err != nil {
		return rep, errors.Wrap(err, "download: storage unavailable")
	}
	if claimErr != nil {
		return rep, errors.Wrap(claimErr, "download: claim pending")
	}
	return rep, nil
}

// maxFetchProgress caps progress written while fetching. Only
// CompleteDownload stores 100.
const maxFetchProgress = 99

func (d *Downloader) fetchOne(ctx context.Context, ab *abort, item content.Download, set Settings) content.Result {
	ctx = context.WithoutCancel(ctx)
	log := d.deps.Log.With(logx.String("download", item.ID), logx.String("url", item.SourceURL))

	path := filepath.Join(set.DownloadDir, safeSegment(item.UserID), item.ID+extension(item.Format))
	f, err := d.fs.Create(path)
	if err != nil {
		return d.fail(ctx, ab, &item, err)
	}

	var mu sync.Mutex
	progress := func(pct int) {
		if pct > maxFetchProgress {
			pct = maxFetchProgress
		}
		mu.Lock()
		changed, err := item.Advance(pct)
		cur := item.Progress
		mu.Unlock()
		if err != nil || !changed {
			return
		}
		if _, err := d.store.UpdateDownloadProgress(ctx, item.ID, cur); err != nil {
			log.Debug("progress not stored", logx.Int("pct", cur), logx.Err(err))
		}
	}

	callCtx, cancel := callContext(ctx, set.DownloadTimeout)
	fetchErr := d.fetcher.Fetch(callCtx, item, f, progress)
	cancel()
	if fetchErr != nil {
		_ = f.Abort()
		return d.fail(ctx, ab, &item, fetchErr)
	}

	size, err := f.Commit()
	if err != nil {
		return d.fail(ctx, ab, &item, err)
	}

	now := d.deps.Now()
	mu.Lock()
	err = item.Complete(path, size, now)
	mu.Unlock()
	if err != nil {
		return content.Failed("download", item.ID, err)
	}
	if err := d.store.CompleteDownload(ctx, item.ID, path, size, now); err != nil {
		ab.fail(err)
		_, _ = d.fs.RemoveIfExists(path)
		err = conflict("download", item.ID, string(content.DownloadDownloading), string(content.DownloadCompleted), err)
		log.Warn("download fetched but not recorded", logx.Err(err))
		return content.Failed("download", item.ID, err)
	}

	log.Debug("download completed", logx.String("path", path), logx.String("size", humanize.Bytes(uint64(size))))
	d.deps.record(ctx, content.CategoryDownload, "download.completed", content.OutcomeSuccess,
		"downloaded "+humanize.Bytes(uint64(size)),
		map[string]any{"download_id": item.ID, "user_id": item.UserID, "path": path, "size": size})
	d.deps.emit(eventbus.DownloadCompleted, item)
	return content.Succeeded("download", item.ID)
}

func (d *Downloader) fail(ctx context.Context, ab *abort, item *content.Download, cause error) content.Result {
	reason := strings.TrimSpace(cause.Error())
	_ = item.Fail(reason)
	if err := d.store.FailDownload(ctx, item.ID, item.ErrorReason); err != nil {
		ab.fail(err)
		d.deps.Log.Warn("download failure not recorded", logx.String("download", item.ID), logx.Err(err))
	}
	d.deps.Log.Warn("download failed", logx.String("download", item.ID), logx.String("reason", reason))
	d.deps.record(ctx, content.CategoryDownload, "download.failed", content.OutcomeFailure, reason,
		map[string]any{"download_id": item.ID, "user_id": item.UserID})
	d.deps.emit(eventbus.DownloadFailed, *item)
	return content.Failed("download", item.ID, cause)
}

func extension(format string) string {
	format = strings.Trim(strings.ToLower(strings.TrimSpace(format)), ".")
	if format == "" {
		return ".bin"
	}
	return "." + safeSegment(format)
}

// safeSegment keeps a value usable as a single path element.
func safeSegment(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
	if s == "" {
		return "_"
	}
	return s
}
