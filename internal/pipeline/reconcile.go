package pipeline

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"automod/internal/content"
	"automod/internal/eventbus"
	logx "automod/pkg/logx"
)

type AccountStore interface {
	ListConnectedAccounts(ctx context.Context) ([]content.Account, error)
	UpdateAccountMetrics(ctx context.Context, id string, m content.Metrics, at time.Time) error
}

// Reconciler refreshes cached follower/following/post counters for every
// connected account. A failed fetch leaves the cached values untouched.
type Reconciler struct {
	store AccountStore
	src   MetricsSource
	deps  Deps
}

func NewReconciler(store AccountStore, src MetricsSource, deps Deps) *Reconciler {
	return &Reconciler{store: store, src: src, deps: deps.normalize("reconcile")}
}

func (r *Reconciler) Run(ctx context.Context, _ time.Time) (content.Report, error) {
	rep := content.Report{Stage: "reconcile"}
	set := r.deps.settings()

	accounts, err := r.store.ListConnectedAccounts(ctx)
	if err != nil {
		return rep, errors.Wrap(err, "reconcile: list connected accounts")
	}

	loopCtx, ab := newAbort(ctx)
	defer ab.done()

	results := make([]content.Result, len(accounts))
	var g errgroup.Group
	g.SetLimit(set.PublishConcurrency)
	for i := range accounts {
		if loopCtx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			results[i] = r.syncOne(ctx, ab, accounts[i], set)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		if res.ID != "" {
			rep.Add(res)
		}
	}
	r.deps.Log.Info("reconcile firing done",
		logx.Int("accounts", len(accounts)),
		logx.Int("synced", rep.Succeeded()),
		logx.Int("failed", rep.Failed()),
	)
	if err := ab.result(); err != nil {
		return rep, errors.Wrap(err, "reconcile: storage unavailable")
	}
	return rep, nil
}

func (r *Reconciler) syncOne(ctx context.Context, ab *abort, acc content.Account, set Settings) content.Result {
	ctx = context.WithoutCancel(ctx)
	log := r.deps.Log.With(logx.String("account", acc.ID), logx.String("platform", acc.Platform))

	callCtx, cancel := callContext(ctx, set.CallTimeout)
	m, err := r.src.FetchMetrics(callCtx, acc)
	cancel()
	if err != nil {
		log.Warn("metrics fetch failed, keeping cached values", logx.Err(err))
		r.deps.record(ctx, content.CategorySync, "account.sync_failed", content.OutcomeFailure, err.Error(),
			map[string]any{"account_id": acc.ID})
		return content.Failed("account", acc.ID, err)
	}

	now := r.deps.Now()
	if err := r.store.UpdateAccountMetrics(ctx, acc.ID, m, now); err != nil {
		ab.fail(err)
		log.Warn("metrics not stored", logx.Err(err))
		return content.Failed("account", acc.ID, err)
	}

	log.Debug("account synced",
		logx.Int64("followers", m.Followers),
		logx.Int64("following", m.Following),
		logx.Int64("posts", m.PostsCount),
	)
	r.deps.record(ctx, content.CategorySync, "account.synced", content.OutcomeSuccess, "metrics refreshed",
		map[string]any{
			"account_id":  acc.ID,
			"followers":   m.Followers,
			"following":   m.Following,
			"posts_count": m.PostsCount,
			"delta":       m.Followers - acc.Metrics.Followers,
		})
	r.deps.emit(eventbus.AccountSynced, map[string]any{"account_id": acc.ID, "metrics": m})
	return content.Succeeded("account", acc.ID)
}
