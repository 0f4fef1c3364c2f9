package content

import (
	"strings"
	"time"
)

type DownloadStatus string

const (
	DownloadPending     DownloadStatus = "pending"
	DownloadDownloading DownloadStatus = "downloading"
	DownloadCompleted   DownloadStatus = "completed"
	DownloadError       DownloadStatus = "error"
)

var downloadEdges = map[DownloadStatus][]DownloadStatus{
	DownloadPending:     {DownloadDownloading, DownloadError},
	DownloadDownloading: {DownloadCompleted, DownloadError},
}

func (s DownloadStatus) Terminal() bool {
	return s == DownloadCompleted || s == DownloadError
}

func CanTransitionDownload(from, to DownloadStatus) bool {
	for _, next := range downloadEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Download is one fetch-and-store job.
type Download struct {
	ID          string
	UserID      string
	SourceURL   string
	Format      string
	Status      DownloadStatus
	Progress    int
	FilePath    string
	FileSize    int64
	ErrorReason string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

func (d *Download) reject(to DownloadStatus, reason string) error {
	return &PreconditionError{Entity: "download", ID: d.ID, From: string(d.Status), To: string(to), Reason: reason}
}

// Start picks up a pending download.
func (d *Download) Start() error {
	if !CanTransitionDownload(d.Status, DownloadDownloading) {
		return d.reject(DownloadDownloading, "")
	}
	d.Status = DownloadDownloading
	d.Progress = 0
	return nil
}

// Advance records progress. Values are clamped to [0,100]; a value lower
// than the current progress is ignored (progress never decreases).
// It reports whether the stored progress changed.
func (d *Download) Advance(pct int) (bool, error) {
	if d.Status != DownloadDownloading {
		return false, d.reject(d.Status, "progress update outside downloading")
	}
	if pct > 100 {
		pct = 100
	}
	if pct <= d.Progress {
		return false, nil
	}
	d.Progress = pct
	return true, nil
}

func (d *Download) Complete(path string, size int64, now time.Time) error {
	if !CanTransitionDownload(d.Status, DownloadCompleted) {
		return d.reject(DownloadCompleted, "")
	}
	t := now
	d.Status = DownloadCompleted
	d.Progress = 100
	d.FilePath = path
	d.FileSize = size
	d.CompletedAt = &t
	return nil
}

func (d *Download) Fail(reason string) error {
	if !CanTransitionDownload(d.Status, DownloadError) {
		return d.reject(DownloadError, "")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown error"
	}
	d.Status = DownloadError
	d.ErrorReason = reason
	return nil
}
