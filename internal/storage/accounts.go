package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	"automod/internal/content"
	logx "automod/pkg/logx"
)

const accountCols = `id, user_id, platform, handle, channel_id, connected, followers, following, posts_count, last_sync`

// UpsertAccount inserts or replaces an account row.
func (s *Store) UpsertAccount(ctx context.Context, a content.Account) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO accounts(`+accountCols+`) VALUES(?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id, platform = excluded.platform, handle = excluded.handle,
			channel_id = excluded.channel_id, connected = excluded.connected`,
		a.ID, a.UserID, a.Platform, a.Handle, a.ChannelID, boolInt(a.Connected),
		a.Metrics.Followers, a.Metrics.Following, a.Metrics.PostsCount, nullMillis(a.LastSync),
	)
	return errors.Wrapf(err, "upsert account %s", a.ID)
}

func (s *Store) GetAccount(ctx context.Context, id string) (content.Account, error) {
	a, err := scanAccount(s.q.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return content.Account{}, errors.Wrapf(ErrNotFound, "account %s", id)
	}
	return a, err
}

func (s *Store) ListConnectedAccounts(ctx context.Context) ([]content.Account, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE connected = 1 ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "list connected accounts")
	}
	defer rows.Close()

	var out []content.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, errors.Wrap(rows.Err(), "list connected accounts")
}

// UpdateAccountMetrics overwrites all cached metrics and last_sync in one
// statement.
func (s *Store) UpdateAccountMetrics(ctx context.Context, id string, m content.Metrics, at time.Time) error {
	return s.exec(ctx, "update metrics "+id,
		`UPDATE accounts SET followers = ?, following = ?, posts_count = ?, last_sync = ? WHERE id = ?`,
		m.Followers, m.Following, m.PostsCount, millis(at), id,
	)
}

func scanAccount(sc scanner) (content.Account, error) {
	var (
		a         content.Account
		connected int
		lastSync  sql.NullInt64
	)
	err := sc.Scan(&a.ID, &a.UserID, &a.Platform, &a.Handle, &a.ChannelID, &connected,
		&a.Metrics.Followers, &a.Metrics.Following, &a.Metrics.PostsCount, &lastSync)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, err
		}
		return a, errors.Wrap(err, "scan account")
	}
	a.Connected = connected == 1
	a.LastSync = fromNullMillis(lastSync)
	return a, nil
}

// UpsertAutomationConfig inserts or replaces an account's automation config.
func (s *Store) UpsertAutomationConfig(ctx context.Context, c content.AutomationConfig) error {
	topics, err := encodeList(c.Topics)
	if err != nil {
		return err
	}
	slots, err := encodeList(c.PostTimes)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO automation_configs(account_id, active, auto_generate, require_approval, topics, post_times)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(account_id) DO UPDATE SET
			active = excluded.active, auto_generate = excluded.auto_generate,
			require_approval = excluded.require_approval, topics = excluded.topics, post_times = excluded.post_times`,
		c.AccountID, boolInt(c.Active), boolInt(c.AutoGenerate), boolInt(c.RequireApproval), topics, slots,
	)
	return errors.Wrapf(err, "upsert automation config %s", c.AccountID)
}

// ListAutomationConfigs returns every config. A row whose JSON columns do
// not decode is still returned, with the offending list left nil, so the
// caller can report it as a configuration error for that account only.
func (s *Store) ListAutomationConfigs(ctx context.Context) ([]content.AutomationConfig, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT account_id, active, auto_generate, require_approval, topics, post_times
		 FROM automation_configs ORDER BY account_id`)
	if err != nil {
		return nil, errors.Wrap(err, "list automation configs")
	}
	defer rows.Close()

	var out []content.AutomationConfig
	for rows.Next() {
		var (
			c                         content.AutomationConfig
			active, autoGen, approval int
			topics, slots             string
		)
		if err := rows.Scan(&c.AccountID, &active, &autoGen, &approval, &topics, &slots); err != nil {
			return nil, errors.Wrap(err, "scan automation config")
		}
		c.Active, c.AutoGenerate, c.RequireApproval = active == 1, autoGen == 1, approval == 1
		if c.Topics, err = decodeList(topics); err != nil {
			s.log.Warn("automation config topics undecodable", logx.String("account", c.AccountID), logx.Err(err))
		}
		if c.PostTimes, err = decodeList(slots); err != nil {
			s.log.Warn("automation config post_times undecodable", logx.String("account", c.AccountID), logx.Err(err))
		}
		out = append(out, c)
	}
	return out, errors.Wrap(rows.Err(), "list automation configs")
}
