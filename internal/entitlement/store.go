package entitlement

import (
	"context"
	"time"
)

// ViewLog is one billable resume view.
type ViewLog struct {
	AccountID  string    `json:"accountId"`
	ResourceID string    `json:"resourceId"`
	AdID       string    `json:"adId,omitempty"` // empty for operator views
	QuotaDay   string    `json:"quotaDay"`
	ViewedAt   time.Time `json:"viewedAt"`
}

// Snapshot is what the gate sees inside one atomic unit.
type Snapshot struct {
	Grants []Grant
	Viewed []string // distinct resource ids viewed on the quota day
}

// Scope identifies the account and quota day an atomic unit serializes on.
type Scope struct {
	AccountID string
	Day       string // QuotaDay.Key
	Now       time.Time
}

// Store reads grants and the view log and appends to the log.
type Store interface {
	// Atomically loads a Snapshot for scope and calls fn. If fn returns a
	// log entry it is appended before the unit completes. Concurrent units
	// for the same scope are serialized.
	Atomically(ctx context.Context, scope Scope, fn func(Snapshot) (*ViewLog, error)) error
	LiveGrants(ctx context.Context, accountID string, now time.Time) ([]Grant, error)
	ViewedOn(ctx context.Context, accountID, day string) ([]string, error)
}

// GrantSource supplies live grants to stores that do not own the ad table.
type GrantSource interface {
	LiveGrants(ctx context.Context, accountID string, now time.Time) ([]Grant, error)
}

// GrantSourceFunc adapts a function to GrantSource.
type GrantSourceFunc func(ctx context.Context, accountID string, now time.Time) ([]Grant, error)

func (f GrantSourceFunc) LiveGrants(ctx context.Context, accountID string, now time.Time) ([]Grant, error) {
	return f(ctx, accountID, now)
}
