package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"automod/internal/content"
	"automod/internal/eventbus"
	logx "automod/pkg/logx"
)

type PublishStore interface {
	ListDuePosts(ctx context.Context, now time.Time) ([]content.Post, error)
	GetAccount(ctx context.Context, id string) (content.Account, error)
	MarkPostPosted(ctx context.Context, id string, at time.Time) error
	MarkPostFailed(ctx context.Context, id, reason string) error
}

// PublishStage delivers approved, due posts. A delivery failure is terminal
// for that post; it is never retried automatically.
type PublishStage struct {
	store PublishStore
	pub   Publisher
	deps  Deps
}

func NewPublishStage(store PublishStore, pub Publisher, deps Deps) *PublishStage {
	return &PublishStage{store: store, pub: pub, deps: deps.normalize("publish")}
}

func (s *PublishStage) Run(ctx context.Context, _ time.Time) (content.Report, error) {
	rep := content.Report{Stage: "publish"}
	set := s.deps.settings()
	now := s.deps.Now()

	due, err := s.store.ListDuePosts(ctx, now)
	if err != nil {
		return rep, errors.Wrap(err, "publish: list due posts")
	}
	if len(due) == 0 {
		s.deps.Log.Debug("no posts due")
		return rep, nil
	}

	loopCtx, ab := newAbort(ctx)
	defer ab.done()

	results := make([]content.Result, len(due))
	var g errgroup.Group
	g.SetLimit(set.PublishConcurrency)
	for i := range due {
		if loopCtx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			results[i] = s.publishOne(ctx, ab, due[i], set)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.ID != "" {
			rep.Add(r)
		}
	}
	s.deps.Log.Info("publish firing done",
		logx.Int("due", len(due)),
		logx.Int("posted", rep.Succeeded()),
		logx.Int("failed", rep.Failed()),
	)
	if err := ab.result(); err != nil {
		return rep, errors.Wrap(err, "publish: storage unavailable")
	}
	return rep, nil
}

func (s *PublishStage) publishOne(ctx context.Context, ab *abort, p content.Post, set Settings) content.Result {
	// an item in hand runs to completion even if the firing is cancelled
	ctx = context.WithoutCancel(ctx)
	log := s.deps.Log.With(logx.String("post", p.ID), logx.String("account", p.AccountID))
	now := s.deps.Now()

	// candidates may be stale by the time a worker picks them up
	if err := content.CheckPublishable(&p, now); err != nil {
		log.Warn("post not publishable", logx.Err(err))
		return content.Failed("post", p.ID, err)
	}

	acc, err := s.store.GetAccount(ctx, p.AccountID)
	var deliveryErr error
	switch {
	case err == nil:
		callCtx, cancel := callContext(ctx, set.CallTimeout)
		deliveryErr = s.pub.Publish(callCtx, acc, p)
		cancel()
	case isMissing(err):
		deliveryErr = errors.Newf("account %s not found", p.AccountID)
	default:
		ab.fail(err)
		return content.Failed("post", p.ID, err)
	}

	if deliveryErr != nil {
		return s.fail(ctx, ab, log, p, deliveryErr)
	}

	if err := p.MarkPosted(now); err != nil {
		return content.Failed("post", p.ID, err)
	}
	if err := s.store.MarkPostPosted(ctx, p.ID, now); err != nil {
		ab.fail(err)
		err = conflict("post", p.ID, string(content.PostApproved), string(content.PostPosted), err)
		log.Warn("post delivered but not marked posted", logx.Err(err))
		return content.Failed("post", p.ID, err)
	}

	log.Debug("post published")
	s.deps.record(ctx, content.CategoryPublish, "post.posted", content.OutcomeSuccess, "post published",
		map[string]any{"post_id": p.ID, "account_id": p.AccountID})
	s.deps.emit(eventbus.PostPosted, p)
	return content.Succeeded("post", p.ID)
}

func (s *PublishStage) fail(ctx context.Context, ab *abort, log logx.Logger, p content.Post, cause error) content.Result {
	reason := strings.TrimSpace(cause.Error())
	if err := p.MarkFailed(reason); err != nil {
		return content.Failed("post", p.ID, err)
	}
	if err := s.store.MarkPostFailed(ctx, p.ID, p.ErrorReason); err != nil {
		ab.fail(err)
		err = conflict("post", p.ID, string(content.PostApproved), string(content.PostFailed), err)
		log.Warn("post delivery failed and status not recorded", logx.Err(err), logx.String("reason", reason))
		return content.Failed("post", p.ID, err)
	}

	log.Warn("post delivery failed", logx.String("reason", p.ErrorReason))
	s.deps.record(ctx, content.CategoryPublish, "post.failed", content.OutcomeFailure, p.ErrorReason,
		map[string]any{"post_id": p.ID, "account_id": p.AccountID})
	s.deps.emit(eventbus.PostFailed, p)
	return content.Failed("post", p.ID, cause)
}
