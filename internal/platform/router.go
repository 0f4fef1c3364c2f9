// Package platform routes delivery and metrics calls to the adapter for an
// account's platform.
package platform

import (
	"context"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"automod/internal/content"
	logx "automod/pkg/logx"
)

var ErrUnsupported = errors.New("unsupported platform")

type Publisher interface {
	Publish(ctx context.Context, acc content.Account, p content.Post) error
}

type MetricsSource interface {
	FetchMetrics(ctx context.Context, acc content.Account) (content.Metrics, error)
}

// Adapter is a platform integration. Either side may be nil.
type Adapter struct {
	Publisher Publisher
	Metrics   MetricsSource
}

// Router dispatches by content.Account.Platform (case-insensitive).
type Router struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	fallback Adapter
}

func NewRouter() *Router {
	return &Router{adapters: map[string]Adapter{}}
}

func (r *Router) Register(platform string, a Adapter) {
	r.mu.Lock()
	r.adapters[strings.ToLower(strings.TrimSpace(platform))] = a
	r.mu.Unlock()
}

// SetFallback installs the adapter used for platforms with no registration.
func (r *Router) SetFallback(a Adapter) {
	r.mu.Lock()
	r.fallback = a
	r.mu.Unlock()
}

func (r *Router) lookup(platform string) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.adapters[strings.ToLower(strings.TrimSpace(platform))]; ok {
		return a
	}
	return r.fallback
}

func (r *Router) Publish(ctx context.Context, acc content.Account, p content.Post) error {
	a := r.lookup(acc.Platform)
	if a.Publisher == nil {
		return errors.Wrapf(ErrUnsupported, "publish to %q", acc.Platform)
	}
	return a.Publisher.Publish(ctx, acc, p)
}

func (r *Router) FetchMetrics(ctx context.Context, acc content.Account) (content.Metrics, error) {
	a := r.lookup(acc.Platform)
	if a.Metrics == nil {
		return content.Metrics{}, errors.Wrapf(ErrUnsupported, "metrics for %q", acc.Platform)
	}
	return a.Metrics.FetchMetrics(ctx, acc)
}

// DryRun logs posts instead of delivering them. Used for platforms without
// credentials configured.
type DryRun struct {
	Log logx.Logger
}

func (d DryRun) Publish(_ context.Context, acc content.Account, p content.Post) error {
	d.Log.Info("dry-run publish",
		logx.String("account", acc.ID),
		logx.String("platform", acc.Platform),
		logx.String("post", p.ID),
		logx.Strs("tags", p.Tags),
	)
	return nil
}
