package storage

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"automod/internal/content"
)

func (s *Store) AppendActivity(ctx context.Context, r content.ActivityRecord) error {
	meta, err := encodeMeta(r.Metadata)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO activity_log(id, actor, category, action, outcome, message, metadata, created_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		r.ID, r.Actor, r.Category, r.Action, string(r.Outcome), r.Message, meta, millis(r.CreatedAt),
	)
	return errors.Wrapf(err, "append activity %s", r.Action)
}

// ListActivity returns the newest records first, at most limit.
func (s *Store) ListActivity(ctx context.Context, limit int) ([]content.ActivityRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, actor, category, action, outcome, message, metadata, created_at
		 FROM activity_log ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list activity")
	}
	defer rows.Close()

	var out []content.ActivityRecord
	for rows.Next() {
		var (
			r             content.ActivityRecord
			outcome, meta string
			created       int64
		)
		if err := rows.Scan(&r.ID, &r.Actor, &r.Category, &r.Action, &outcome, &r.Message, &meta, &created); err != nil {
			return nil, errors.Wrap(err, "scan activity")
		}
		r.Outcome = content.Outcome(outcome)
		r.CreatedAt = fromMillis(created)
		if r.Metadata, err = decodeMeta(meta); err != nil {
			return nil, errors.Wrapf(err, "activity %s", r.ID)
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "list activity")
}

func (s *Store) CountActivity(ctx context.Context) (int64, error) {
	var n int64
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM activity_log`).Scan(&n)
	return n, errors.Wrap(err, "count activity")
}

// DeleteActivityBefore removes records created strictly before cutoff in a
// single statement and returns how many were removed.
func (s *Store) DeleteActivityBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM activity_log WHERE created_at < ?`, millis(cutoff))
	if err != nil {
		return 0, errors.Wrap(err, "delete activity")
	}
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "delete activity")
}
