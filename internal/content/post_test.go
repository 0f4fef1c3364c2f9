package content

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestCanTransitionPost(t *testing.T) {
	t.Parallel()
	tests := []struct {
		from, to PostStatus
		want     bool
	}{
		{PostPending, PostApproved, true},
		{PostPending, PostRejected, true},
		{PostApproved, PostPosted, true},
		{PostApproved, PostFailed, true},
		{PostPending, PostPosted, false},
		{PostFailed, PostApproved, false},
		{PostPosted, PostFailed, false},
		{PostRejected, PostApproved, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransitionPost(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestCheckPublishable(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		post    Post
		wantErr bool
	}{
		{name: "approved without schedule", post: Post{ID: "a", Status: PostApproved}},
		{name: "approved in the past", post: Post{ID: "b", Status: PostApproved, ScheduledAt: ptr(now.Add(-time.Minute))}},
		{name: "approved exactly now", post: Post{ID: "c", Status: PostApproved, ScheduledAt: ptr(now)}},
		{name: "approved in the future", post: Post{ID: "d", Status: PostApproved, ScheduledAt: ptr(now.Add(time.Second))}, wantErr: true},
		{name: "pending", post: Post{ID: "e", Status: PostPending}, wantErr: true},
		{name: "already posted", post: Post{ID: "f", Status: PostPosted}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := CheckPublishable(&tt.post, now)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsPrecondition(err))
		})
	}
}

func TestMarkPostedAndFailedKeepInvariants(t *testing.T) {
	t.Parallel()
	now := time.Now()

	p := Post{ID: "p1", Status: PostApproved}
	require.NoError(t, p.MarkPosted(now))
	assert.Equal(t, PostPosted, p.Status)
	require.NotNil(t, p.PostedAt)
	assert.Empty(t, p.ErrorReason)

	// posted is terminal
	err := p.MarkFailed("late")
	require.Error(t, err)
	assert.True(t, IsPrecondition(err))
	assert.Equal(t, PostPosted, p.Status)

	q := Post{ID: "p2", Status: PostApproved}
	require.NoError(t, q.MarkFailed("rate_limited"))
	assert.Equal(t, PostFailed, q.Status)
	assert.Equal(t, "rate_limited", q.ErrorReason)
	assert.Nil(t, q.PostedAt)

	r := Post{ID: "p3", Status: PostApproved}
	require.NoError(t, r.MarkFailed("  "))
	assert.NotEmpty(t, r.ErrorReason)
}

func TestMarkPostedRejectsPending(t *testing.T) {
	t.Parallel()
	p := Post{ID: "p", Status: PostPending}
	err := p.MarkPosted(time.Now())
	require.ErrorIs(t, err, ErrPreconditionFailed)
	assert.Equal(t, PostPending, p.Status)
	assert.Nil(t, p.PostedAt)
}

func TestNewTagsDedup(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Tags{"#a", "#b"}, NewTags("#a", " ", "#b", "#a"))
}
