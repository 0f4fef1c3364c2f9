package pipeline

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"automod/internal/content"
	"automod/internal/eventbus"
	logx "automod/pkg/logx"
)

type GenerationStore interface {
	ListAutomationConfigs(ctx context.Context) ([]content.AutomationConfig, error)
	GetAccount(ctx context.Context, id string) (content.Account, error)
	CreatePost(ctx context.Context, p content.Post) error
}

// Generator creates posts for accounts whose configured post-time slot
// matches the firing time.
type Generator struct {
	store GenerationStore
	deps  Deps

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator builds a Generator. A nil rng is seeded from the clock.
func NewGenerator(store GenerationStore, rng *rand.Rand, deps Deps) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Generator{store: store, deps: deps.normalize("generate"), rng: rng}
}

func (g *Generator) Run(ctx context.Context, fired time.Time) (content.Report, error) {
	rep := content.Report{Stage: "generate"}
	set := g.deps.settings()
	local := fired.In(set.Location)

	configs, err := g.store.ListAutomationConfigs(ctx)
	if err != nil {
		return rep, errors.Wrap(err, "generate: load automation configs")
	}

	for _, cfg := range configs {
		if ctx.Err() != nil {
			break
		}
		if !cfg.Active || !cfg.AutoGenerate {
			continue
		}
		res, err := g.generateOne(ctx, cfg, local)
		rep.Add(res)
		if err != nil {
			return rep, err
		}
	}

	g.deps.Log.Info("generation firing done",
		logx.String("slot", local.Format("15:04")),
		logx.Int("created", rep.Succeeded()),
		logx.Int("failed", rep.Failed()),
		logx.Int("skipped", rep.Skipped()),
	)
	return rep, nil
}

// generateOne processes one account. A non-nil error is a fatal storage
// failure that ends the firing. Once started, an account runs to completion
// even if the firing is canceled.
func (g *Generator) generateOne(ctx context.Context, cfg content.AutomationConfig, local time.Time) (content.Result, error) {
	ctx = context.WithoutCancel(ctx)
	log := g.deps.Log.With(logx.String("account", cfg.AccountID))

	if err := cfg.Validate(); err != nil {
		log.Warn("automation config invalid", logx.Err(err))
		g.deps.record(ctx, content.CategoryGeneration, "generate.config_error", content.OutcomeFailure, err.Error(),
			map[string]any{"account_id": cfg.AccountID})
		return content.Failed("account", cfg.AccountID, err), nil
	}
	if !cfg.MatchesSlot(local) {
		return content.Skipped("account", cfg.AccountID), nil
	}

	acc, err := g.store.GetAccount(ctx, cfg.AccountID)
	if err != nil {
		if isMissing(err) {
			cerr := &content.ConfigError{AccountID: cfg.AccountID, Field: "account_id", Reason: "account not found"}
			log.Warn("automation config references missing account")
			g.deps.record(ctx, content.CategoryGeneration, "generate.config_error", content.OutcomeFailure, cerr.Error(),
				map[string]any{"account_id": cfg.AccountID})
			return content.Failed("account", cfg.AccountID, cerr), nil
		}
		return content.Failed("account", cfg.AccountID, err), errors.Wrapf(err, "generate: load account %s", cfg.AccountID)
	}

	g.mu.Lock()
	topic := pickTopic(g.rng, cfg.Topics)
	body, tags := compose(g.rng, topic, acc.Platform)
	g.mu.Unlock()

	post := content.Post{
		ID:        uuid.NewString(),
		AccountID: acc.ID,
		Body:      body,
		Tags:      tags,
		Status:    content.PostApproved,
		CreatedAt: g.deps.Now().UTC(),
	}
	if cfg.RequireApproval {
		post.Status = content.PostPending
	}

	if err := g.store.CreatePost(ctx, post); err != nil {
		return content.Failed("account", cfg.AccountID, err), errors.Wrapf(err, "generate: create post for %s", cfg.AccountID)
	}

	log.Debug("post generated", logx.String("post", post.ID), logx.String("topic", topic), logx.String("status", string(post.Status)))
	g.deps.record(ctx, content.CategoryGeneration, "post.generated", content.OutcomeSuccess,
		"generated post about "+topic,
		map[string]any{"account_id": acc.ID, "post_id": post.ID, "topic": topic, "status": string(post.Status)})
	g.deps.emit(eventbus.PostGenerated, post)
	return content.Succeeded("post", post.ID), nil
}
