package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automod/internal/content"
	"automod/internal/storage"
	logx "automod/pkg/logx"
)

func seedPosts(t *testing.T, st *storage.Store, posts ...content.Post) {
	t.Helper()
	require.NoError(t, st.UpsertAccount(context.Background(), content.Account{ID: "acc", UserID: "u", Platform: "telegram", ChannelID: "-100", Connected: true}))
	for _, p := range posts {
		if p.AccountID == "" {
			p.AccountID = "acc"
		}
		if p.Body == "" {
			p.Body = "body of " + p.ID
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = nineAM.Add(-time.Hour)
		}
		require.NoError(t, st.CreatePost(context.Background(), p))
	}
}

func TestRateLimitedDeliveryIsTerminal(t *testing.T) {
	st := newStore(t)
	seedPosts(t, st, content.Post{ID: "Y", Status: content.PostApproved})
	sink := &memSink{}
	pub := &fakePublisher{fail: map[string]error{"Y": errors.New("rate_limited")}}
	c := newClock(nineAM)
	stage := NewPublishStage(st, pub, testDeps(c, sink, Settings{}))
	ctx := context.Background()

	rep, err := stage.Run(ctx, c.Now())
	require.NoError(t, err)
	res, ok := rep.Find("Y")
	require.True(t, ok)
	assert.EqualError(t, res.Err, "rate_limited")

	y, err := st.GetPost(ctx, "Y")
	require.NoError(t, err)
	assert.Equal(t, content.PostFailed, y.Status)
	assert.Equal(t, "rate_limited", y.ErrorReason)
	assert.Nil(t, y.PostedAt)

	failures := sink.byAction("post.failed")
	require.Len(t, failures, 1)
	assert.Equal(t, content.OutcomeFailure, failures[0].Outcome)

	// later firings never retry it
	c.Set(nineAM.Add(15 * time.Minute))
	_, err = stage.Run(ctx, c.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{"Y"}, pub.called())
	assert.Len(t, sink.byAction("post.failed"), 1)
}

func TestOneFailureDoesNotBlockSiblings(t *testing.T) {
	st := newStore(t)
	seedPosts(t, st,
		content.Post{ID: "A", Status: content.PostApproved},
		content.Post{ID: "B", Status: content.PostApproved, ScheduledAt: tp(nineAM.Add(-time.Minute))},
		content.Post{ID: "C", Status: content.PostApproved, ScheduledAt: tp(nineAM)},
	)
	pub := &fakePublisher{fail: map[string]error{"A": errors.New("connection reset")}}
	sink := &memSink{}
	stage := NewPublishStage(st, pub, testDeps(newClock(nineAM), sink, Settings{PublishConcurrency: 2}))

	rep, err := stage.Run(context.Background(), nineAM)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Attempted())
	assert.Equal(t, 2, rep.Succeeded())
	assert.Equal(t, 1, rep.Failed())

	for _, id := range []string{"B", "C"} {
		p, err := st.GetPost(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, content.PostPosted, p.Status, id)
		require.NotNil(t, p.PostedAt, id)
		assert.True(t, p.PostedAt.Equal(nineAM), id)
		assert.Empty(t, p.ErrorReason, id)
	}
	assert.Len(t, sink.byAction("post.posted"), 2)
}

func TestPublishLeavesFutureAndUnapprovedAlone(t *testing.T) {
	st := newStore(t)
	seedPosts(t, st,
		content.Post{ID: "future", Status: content.PostApproved, ScheduledAt: tp(nineAM.Add(time.Second))},
		content.Post{ID: "pending", Status: content.PostPending},
		content.Post{ID: "rejected", Status: content.PostRejected},
	)
	pub := &fakePublisher{}
	stage := NewPublishStage(st, pub, testDeps(newClock(nineAM), &memSink{}, Settings{}))

	rep, err := stage.Run(context.Background(), nineAM)
	require.NoError(t, err)
	assert.Empty(t, rep.Results)
	assert.Empty(t, pub.called())

	for id, want := range map[string]content.PostStatus{"future": content.PostApproved, "pending": content.PostPending, "rejected": content.PostRejected} {
		p, err := st.GetPost(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, want, p.Status, id)
	}
}

func TestPublishMissingAccountFailsPost(t *testing.T) {
	st := newStore(t)
	seedPosts(t, st, content.Post{ID: "orphan", AccountID: "ghost", Status: content.PostApproved})
	pub := &fakePublisher{}
	stage := NewPublishStage(st, pub, testDeps(newClock(nineAM), &memSink{}, Settings{}))

	_, err := stage.Run(context.Background(), nineAM)
	require.NoError(t, err)
	assert.Empty(t, pub.called())

	p, err := st.GetPost(context.Background(), "orphan")
	require.NoError(t, err)
	assert.Equal(t, content.PostFailed, p.Status)
	assert.Contains(t, p.ErrorReason, "ghost")
}

// staleStore returns a candidate that is no longer approved.
type staleStore struct {
	*storage.Store
}

func (s staleStore) ListDuePosts(context.Context, time.Time) ([]content.Post, error) {
	return []content.Post{{ID: "stale", AccountID: "acc", Status: content.PostPosted, PostedAt: tp(nineAM)}}, nil
}

func TestPublishRejectsStaleCandidate(t *testing.T) {
	st := newStore(t)
	pub := &fakePublisher{}
	stage := NewPublishStage(staleStore{st}, pub, testDeps(newClock(nineAM), &memSink{}, Settings{}))

	rep, err := stage.Run(context.Background(), nineAM)
	require.NoError(t, err)
	res, ok := rep.Find("stale")
	require.True(t, ok)
	assert.True(t, content.IsPrecondition(res.Err))
	assert.Empty(t, pub.called())
}

func TestPublishAbortsWhenStorageUnreachable(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery("SELECT .* FROM posts").WillReturnError(errors.New("unable to open database file"))

	pub := &fakePublisher{}
	stage := NewPublishStage(storage.New(db, logx.Nop()), pub, testDeps(newClock(nineAM), &memSink{}, Settings{}))
	_, err = stage.Run(context.Background(), nineAM)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to open database file")
	assert.Empty(t, pub.called())
}
