package pipeline

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"

	"automod/internal/content"
	"automod/internal/eventbus"
	"automod/internal/fsx"
	"automod/internal/storage"
	logx "automod/pkg/logx"
)

type RetentionStore interface {
	DeleteActivityBefore(ctx context.Context, cutoff time.Time) (int64, error)
	ListExpiredDownloads(ctx context.Context, cutoff time.Time) ([]content.Download, error)
	DeleteDownload(ctx context.Context, id string) error
}

// Retention removes activity records and completed downloads that are
// strictly older than their windows.
type Retention struct {
	store RetentionStore
	fs    fsx.FS
	deps  Deps
}

func NewRetention(store RetentionStore, fs fsx.FS, deps Deps) *Retention {
	if fs == nil {
		fs = fsx.OS{}
	}
	return &Retention{store: store, fs: fs, deps: deps.normalize("retention")}
}

// RunLogs deletes activity records created before now minus the activity
// window, in one statement. A record exactly at the cutoff is kept.
func (r *Retention) RunLogs(ctx context.Context, _ time.Time) (content.Report, error) {
	rep := content.Report{Stage: "cleanup_logs"}
	// a single statement; shutdown never interrupts it
	ctx = context.WithoutCancel(ctx)
	set := r.deps.settings()
	cutoff := r.deps.Now().Add(-set.ActivityWindow)

	n, err := r.store.DeleteActivityBefore(ctx, cutoff)
	if err != nil {
		return rep, errors.Wrap(err, "cleanup_logs: delete activity")
	}
	rep.Deleted = n

	r.deps.Log.Info("activity log pruned", logx.Int64("deleted", n), logx.Time("cutoff", cutoff))
	r.deps.record(ctx, content.CategoryRetention, "activity.purged", content.OutcomeSuccess,
		humanize.Comma(n)+" activity records deleted",
		map[string]any{"deleted": n, "cutoff": cutoff.UTC().Format(time.RFC3339)})
	r.deps.emit(eventbus.RecordsPurged, map[string]any{"kind": "activity", "deleted": n})
	return rep, nil
}

// RunDownloads deletes the file then the row of every completed download
// whose completion time is before now minus the download window. A file
// that is already gone is not an error; any other file error keeps the
// row for the next firing and moves on.
func (r *Retention) RunDownloads(ctx context.Context, _ time.Time) (content.Report, error) {
	rep := content.Report{Stage: "cleanup_downloads"}
	set := r.deps.settings()
	cutoff := r.deps.Now().Add(-set.DownloadWindow)

	expired, err := r.store.ListExpiredDownloads(ctx, cutoff)
	if err != nil {
		return rep, errors.Wrap(err, "cleanup_downloads: list expired")
	}

	var freed uint64
	for _, d := range expired {
		if ctx.Err() != nil {
			break
		}
		log := r.deps.Log.With(logx.String("download", d.ID))

		if d.FilePath != "" {
			if _, err := r.fs.RemoveIfExists(d.FilePath); err != nil {
				log.Warn("download file not removed", logx.String("path", d.FilePath), logx.Err(err))
				rep.Add(content.Failed("download", d.ID, err))
				continue
			}
		}
		if err := r.store.DeleteDownload(context.WithoutCancel(ctx), d.ID); err != nil {
			if isMissing(err) || errors.Is(err, storage.ErrConflict) {
				rep.Add(content.Skipped("download", d.ID))
				continue
			}
			rep.Add(content.Failed("download", d.ID, err))
			return rep, errors.Wrapf(err, "cleanup_downloads: delete %s", d.ID)
		}
		rep.Deleted++
		if d.FileSize > 0 {
			freed += uint64(d.FileSize)
		}
		rep.Add(content.Succeeded("download", d.ID))
		log.Debug("download purged", logx.String("path", d.FilePath))
	}

	r.deps.Log.Info("downloads pruned",
		logx.Int64("deleted", rep.Deleted),
		logx.Int("failed", rep.Failed()),
		logx.String("freed", humanize.Bytes(freed)),
		logx.Uint64("freed_bytes", freed),
	)
	outcome := content.OutcomeSuccess
	if rep.Failed() > 0 {
		outcome = content.OutcomeFailure
	}
	r.deps.record(context.WithoutCancel(ctx), content.CategoryRetention, "downloads.purged", outcome,
		humanize.Comma(rep.Deleted)+" downloads deleted, "+humanize.Bytes(freed)+" freed",
		map[string]any{"deleted": rep.Deleted, "failed": rep.Failed(), "bytes": freed})
	r.deps.emit(eventbus.RecordsPurged, map[string]any{"kind": "downloads", "deleted": rep.Deleted})
	return rep, nil
}
