package content

import (
	"strings"
	"time"
)

// PostStatus is the lifecycle state of a generated post.
type PostStatus string

const (
	PostPending  PostStatus = "pending"  // awaiting human approval
	PostApproved PostStatus = "approved" // cleared to publish, not yet due
	PostPosted   PostStatus = "posted"
	PostFailed   PostStatus = "failed"
	PostRejected PostStatus = "rejected"
)

var postEdges = map[PostStatus][]PostStatus{
	PostPending:  {PostApproved, PostRejected},
	PostApproved: {PostPosted, PostFailed},
}

func (s PostStatus) Valid() bool {
	switch s {
	case PostPending, PostApproved, PostPosted, PostFailed, PostRejected:
		return true
	}
	return false
}

func (s PostStatus) Terminal() bool {
	return s == PostPosted || s == PostFailed || s == PostRejected
}

// CanTransitionPost reports whether from -> to is a legal edge of the post lifecycle.
func CanTransitionPost(from, to PostStatus) bool {
	for _, next := range postEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Post is one piece of content traveling through the lifecycle.
//
// Invariants: PostedAt != nil iff Status == posted; ErrorReason != "" iff Status == failed.
type Post struct {
	ID          string
	AccountID   string
	Body        string
	Tags        Tags
	MediaURL    string
	Status      PostStatus
	ScheduledAt *time.Time
	PostedAt    *time.Time
	ErrorReason string
	CreatedAt   time.Time
}

// Due reports whether the post's scheduled time has arrived. No scheduled time means due now.
func (p *Post) Due(now time.Time) bool {
	return p.ScheduledAt == nil || !p.ScheduledAt.After(now)
}

// CheckPublishable rejects any post the publish stage must not touch.
func CheckPublishable(p *Post, now time.Time) error {
	if p.Status != PostApproved {
		return &PreconditionError{Entity: "post", ID: p.ID, From: string(p.Status), To: string(PostPosted), Reason: "not approved"}
	}
	if !p.Due(now) {
		return &PreconditionError{Entity: "post", ID: p.ID, From: string(p.Status), To: string(PostPosted),
			Reason: "scheduled for " + p.ScheduledAt.Format(time.RFC3339)}
	}
	return nil
}

// MarkPosted moves an approved post to posted.
func (p *Post) MarkPosted(now time.Time) error {
	if !CanTransitionPost(p.Status, PostPosted) {
		return &PreconditionError{Entity: "post", ID: p.ID, From: string(p.Status), To: string(PostPosted)}
	}
	t := now
	p.Status = PostPosted
	p.PostedAt = &t
	p.ErrorReason = ""
	return nil
}

// MarkFailed moves an approved post to failed. An empty reason is replaced
// so the error_reason invariant holds.
func (p *Post) MarkFailed(reason string) error {
	if !CanTransitionPost(p.Status, PostFailed) {
		return &PreconditionError{Entity: "post", ID: p.ID, From: string(p.Status), To: string(PostFailed)}
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown error"
	}
	p.Status = PostFailed
	p.ErrorReason = reason
	p.PostedAt = nil
	return nil
}

// Tags is an ordered tag set. Duplicates are dropped, order of first appearance is kept.
type Tags []string

func NewTags(in ...string) Tags {
	seen := make(map[string]struct{}, len(in))
	out := make(Tags, 0, len(in))
	for _, t := range in {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
