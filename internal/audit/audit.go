package audit

import (
	"context"
	"strings"
	"time"

	"campusgrid.org/internal/obs"
)

// Entry statuses. Anything else is rejected at append time.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Well-known actions recorded by the auth subsystem.
const (
	ActionRegister       = "register"
	ActionLogin          = "login"
	ActionAccessDenied   = "access_denied"
	ActionRoleChange     = "role_change"
	ActionUserUpdate     = "user_update"
	ActionUserDeactivate = "user_deactivate"
)

// Entry is one immutable record in the append-only trail.
type Entry struct {
	ID         int64             `json:"id"`
	UserID     string            `json:"user_id,omitempty"`
	Action     string            `json:"action"`
	Resource   string            `json:"resource"`
	Status     string            `json:"status"`
	IPAddress  string            `json:"ip_address,omitempty"`
	OccurredAt time.Time         `json:"timestamp"`
	Details    map[string]string `json:"details,omitempty"`
}

// Filter selects entries. Fields are conjunctive; zero values mean no
// constraint. Results come back in insertion order unless Reverse is set.
type Filter struct {
	UserID  string
	Action  string
	Reverse bool
}

// Store persists entries. Append assigns the id; ids are strictly
// increasing even under concurrent writers.
type Store interface {
	Append(ctx context.Context, entry *Entry) (int64, error)
	List(ctx context.Context, f Filter) ([]Entry, error)
}

// Trail is the accounting front. An unavailable store must not block
// authentication or authorization, so Append degrades to a logged warning
// instead of surfacing the error.
type Trail struct {
	store Store
	now   func() time.Time
}

// TrailOption configures a Trail.
type TrailOption func(*Trail)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) TrailOption {
	return func(t *Trail) {
		if fn != nil {
			t.now = fn
		}
	}
}

// NewTrail wraps a store.
func NewTrail(store Store, opts ...TrailOption) *Trail {
	t := &Trail{store: store, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Append records an entry and returns its id. On store failure the entry is
// emitted as a structured warning and 0 is returned; the caller's operation
// proceeds.
func (t *Trail) Append(ctx context.Context, entry *Entry) int64 {
	if entry == nil {
		return 0
	}
	entry.Action = strings.TrimSpace(entry.Action)
	if entry.Status != StatusFailure {
		entry.Status = StatusSuccess
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = t.now().UTC()
	}
	id, err := t.store.Append(ctx, entry)
	if err != nil {
		obs.Warn("audit append failed", map[string]any{
			"error":    err.Error(),
			"action":   entry.Action,
			"resource": entry.Resource,
			"status":   entry.Status,
			"user_id":  entry.UserID,
		})
		return 0
	}
	return id
}

// Query returns entries matching the filter.
func (t *Trail) Query(ctx context.Context, f Filter) ([]Entry, error) {
	return t.store.List(ctx, f)
}
