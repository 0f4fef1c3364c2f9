package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	"automod/internal/content"
)

const postCols = `id, account_id, body, tags, media_url, status, scheduled_at, posted_at, error_reason, created_at`

func (s *Store) CreatePost(ctx context.Context, p content.Post) error {
	tags, err := encodeList(p.Tags)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO posts(`+postCols+`) VALUES(?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.AccountID, p.Body, tags, p.MediaURL, string(p.Status),
		nullMillis(p.ScheduledAt), nullMillis(p.PostedAt), nullStr(p.ErrorReason), millis(p.CreatedAt),
	)
	return errors.Wrapf(err, "create post %s", p.ID)
}

func (s *Store) GetPost(ctx context.Context, id string) (content.Post, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+postCols+` FROM posts WHERE id = ?`, id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return content.Post{}, errors.Wrapf(ErrNotFound, "post %s", id)
	}
	return p, err
}

// ListDuePosts returns approved posts whose scheduled time is unset or not
// after now, oldest schedule first.
func (s *Store) ListDuePosts(ctx context.Context, now time.Time) ([]content.Post, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+postCols+` FROM posts
		 WHERE status = ? AND (scheduled_at IS NULL OR scheduled_at <= ?)
		 ORDER BY COALESCE(scheduled_at, created_at), id`,
		string(content.PostApproved), millis(now),
	)
	if err != nil {
		return nil, errors.Wrap(err, "list due posts")
	}
	defer rows.Close()

	var out []content.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, errors.Wrap(rows.Err(), "list due posts")
}

// ListPostsByStatus is used by operator tooling and tests.
func (s *Store) ListPostsByStatus(ctx context.Context, st content.PostStatus) ([]content.Post, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+postCols+` FROM posts WHERE status = ? ORDER BY created_at, id`, string(st))
	if err != nil {
		return nil, errors.Wrap(err, "list posts")
	}
	defer rows.Close()

	var out []content.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, errors.Wrap(rows.Err(), "list posts")
}

// SetPostStatus applies a reviewer decision (approve/reject) to a pending post.
func (s *Store) SetPostStatus(ctx context.Context, id string, to content.PostStatus) error {
	if !content.CanTransitionPost(content.PostPending, to) {
		return errors.Newf("post %s: %s is not a review decision", id, to)
	}
	return s.exec(ctx, "set post status "+id,
		`UPDATE posts SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, string(content.PostPending),
	)
}

// MarkPostPosted moves an approved post to posted. ErrConflict means the row
// was no longer approved.
func (s *Store) MarkPostPosted(ctx context.Context, id string, at time.Time) error {
	return s.exec(ctx, "mark post posted "+id,
		`UPDATE posts SET status = ?, posted_at = ?, error_reason = NULL WHERE id = ? AND status = ?`,
		string(content.PostPosted), millis(at), id, string(content.PostApproved),
	)
}

// MarkPostFailed moves an approved post to failed with reason.
func (s *Store) MarkPostFailed(ctx context.Context, id, reason string) error {
	return s.exec(ctx, "mark post failed "+id,
		`UPDATE posts SET status = ?, error_reason = ?, posted_at = NULL WHERE id = ? AND status = ?`,
		string(content.PostFailed), reason, id, string(content.PostApproved),
	)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPost(sc scanner) (content.Post, error) {
	var (
		p             content.Post
		tags, status  string
		sched, posted sql.NullInt64
		reason        sql.NullString
		created       int64
	)
	if err := sc.Scan(&p.ID, &p.AccountID, &p.Body, &tags, &p.MediaURL, &status, &sched, &posted, &reason, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, errors.Wrap(err, "scan post")
	}
	list, err := decodeList(tags)
	if err != nil {
		return p, errors.Wrapf(err, "post %s tags", p.ID)
	}
	p.Tags = content.Tags(list)
	p.Status = content.PostStatus(status)
	p.ScheduledAt = fromNullMillis(sched)
	p.PostedAt = fromNullMillis(posted)
	p.ErrorReason = reason.String
	p.CreatedAt = fromMillis(created)
	return p, nil
}
