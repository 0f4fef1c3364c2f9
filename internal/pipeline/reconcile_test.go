package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automod/internal/content"
)

func TestReconcileKeepsCachedMetricsOnFailure(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	for _, id := range []string{"ok", "broken", "offline"} {
		require.NoError(t, st.UpsertAccount(ctx, content.Account{ID: id, UserID: "u", Platform: "telegram", Connected: id != "offline"}))
	}
	old := content.Metrics{Followers: 10, Following: 2, PostsCount: 5}
	require.NoError(t, st.UpdateAccountMetrics(ctx, "broken", old, nineAM.Add(-24*time.Hour)))

	src := &fakeMetrics{
		values: map[string]content.Metrics{"ok": {Followers: 1500, Following: 12, PostsCount: 99}},
		errs:   map[string]error{"broken": errors.New("401 unauthorized")},
	}
	sink := &memSink{}
	rec := NewReconciler(st, src, testDeps(newClock(nineAM), sink, Settings{}))

	rep, err := rec.Run(ctx, nineAM)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Attempted())
	assert.Equal(t, 1, rep.Succeeded())
	assert.Equal(t, 1, rep.Failed())

	okAcc, err := st.GetAccount(ctx, "ok")
	require.NoError(t, err)
	assert.Equal(t, content.Metrics{Followers: 1500, Following: 12, PostsCount: 99}, okAcc.Metrics)
	require.NotNil(t, okAcc.LastSync)
	assert.True(t, okAcc.LastSync.Equal(nineAM))

	broken, err := st.GetAccount(ctx, "broken")
	require.NoError(t, err)
	assert.Equal(t, old, broken.Metrics, "stale values survive a failed fetch")
	require.NotNil(t, broken.LastSync)
	assert.True(t, broken.LastSync.Before(nineAM))

	assert.Len(t, sink.byAction("account.synced"), 1)
	assert.Len(t, sink.byAction("account.sync_failed"), 1)
}
