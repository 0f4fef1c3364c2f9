package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	"automod/internal/content"
)

const downloadCols = `id, user_id, source_url, format, status, progress, file_path, file_size, error_reason, created_at, completed_at`

func (s *Store) CreateDownload(ctx context.Context, d content.Download) error {
	if d.Status == "" {
		d.Status = content.DownloadPending
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO downloads(`+downloadCols+`) VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.UserID, d.SourceURL, d.Format, string(d.Status), d.Progress,
		nullStr(d.FilePath), d.FileSize, nullStr(d.ErrorReason), millis(d.CreatedAt), nullMillis(d.CompletedAt),
	)
	return errors.Wrapf(err, "create download %s", d.ID)
}

func (s *Store) GetDownload(ctx context.Context, id string) (content.Download, error) {
	d, err := scanDownload(s.q.QueryRowContext(ctx, `SELECT `+downloadCols+` FROM downloads WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return content.Download{}, errors.Wrapf(ErrNotFound, "download %s", id)
	}
	return d, err
}

// ClaimPendingDownloads moves up to limit pending downloads to downloading
// and returns the ones this call won. Rows claimed elsewhere in between are
// skipped.
func (s *Store) ClaimPendingDownloads(ctx context.Context, limit int) ([]content.Download, error) {
	if limit <= 0 {
		limit = 16
	}
	candidates, err := s.queryDownloads(ctx, "list pending downloads",
		`SELECT `+downloadCols+` FROM downloads WHERE status = ? ORDER BY created_at, id LIMIT ?`,
		string(content.DownloadPending), limit)
	if err != nil {
		return nil, err
	}

	out := candidates[:0]
	for _, d := range candidates {
		err := s.exec(ctx, "claim download "+d.ID,
			`UPDATE downloads SET status = ?, progress = 0 WHERE id = ? AND status = ?`,
			string(content.DownloadDownloading), d.ID, string(content.DownloadPending))
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return out, err
		}
		d.Status, d.Progress = content.DownloadDownloading, 0
		out = append(out, d)
	}
	return out, nil
}

// UpdateDownloadProgress raises progress. It reports false when the row is
// not downloading or already at or above pct, so progress never moves
// backwards and never changes after a terminal state.
func (s *Store) UpdateDownloadProgress(ctx context.Context, id string, pct int) (bool, error) {
	if pct > 100 {
		pct = 100
	}
	err := s.exec(ctx, "update progress "+id,
		`UPDATE downloads SET progress = ? WHERE id = ? AND status = ? AND progress < ?`,
		pct, id, string(content.DownloadDownloading), pct)
	if errors.Is(err, ErrConflict) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) CompleteDownload(ctx context.Context, id, path string, size int64, at time.Time) error {
	return s.exec(ctx, "complete download "+id,
		`UPDATE downloads SET status = ?, progress = 100, file_path = ?, file_size = ?, completed_at = ?, error_reason = NULL
		 WHERE id = ? AND status = ?`,
		string(content.DownloadCompleted), path, size, millis(at), id, string(content.DownloadDownloading))
}

func (s *Store) FailDownload(ctx context.Context, id, reason string) error {
	return s.exec(ctx, "fail download "+id,
		`UPDATE downloads SET status = ?, error_reason = ? WHERE id = ? AND status IN (?, ?)`,
		string(content.DownloadError), reason, id, string(content.DownloadPending), string(content.DownloadDownloading))
}

// FailInterruptedDownloads marks every row left in downloading (a previous
// process died mid-transfer) as error with reason.
func (s *Store) FailInterruptedDownloads(ctx context.Context, reason string) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE downloads SET status = ?, error_reason = ? WHERE status = ?`,
		string(content.DownloadError), reason, string(content.DownloadDownloading))
	if err != nil {
		return 0, errors.Wrap(err, "fail interrupted downloads")
	}
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "fail interrupted downloads")
}

// ListExpiredDownloads returns completed downloads that finished strictly
// before cutoff.
func (s *Store) ListExpiredDownloads(ctx context.Context, cutoff time.Time) ([]content.Download, error) {
	return s.queryDownloads(ctx, "list expired downloads",
		`SELECT `+downloadCols+` FROM downloads WHERE status = ? AND completed_at < ? ORDER BY completed_at, id`,
		string(content.DownloadCompleted), millis(cutoff))
}

func (s *Store) DeleteDownload(ctx context.Context, id string) error {
	return s.exec(ctx, "delete download "+id, `DELETE FROM downloads WHERE id = ?`, id)
}

func (s *Store) queryDownloads(ctx context.Context, op, query string, args ...any) ([]content.Download, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, op)
	}
	defer rows.Close()

	var out []content.Download
	for rows.Next() {
		d, err := scanDownload(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, errors.Wrap(rows.Err(), op)
}

func scanDownload(sc scanner) (content.Download, error) {
	var (
		d            content.Download
		status       string
		path, reason sql.NullString
		created      int64
		completed    sql.NullInt64
	)
	err := sc.Scan(&d.ID, &d.UserID, &d.SourceURL, &d.Format, &status, &d.Progress,
		&path, &d.FileSize, &reason, &created, &completed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return d, err
		}
		return d, errors.Wrap(err, "scan download")
	}
	d.Status = content.DownloadStatus(status)
	d.FilePath = path.String
	d.ErrorReason = reason.String
	d.CreatedAt = fromMillis(created)
	d.CompletedAt = fromNullMillis(completed)
	return d, nil
}
