package entitlement

import (
	"context"
	"sync"
	"time"

	"github.com/mbd888/jobads/internal/syncutil"
)

// MemoryStore keeps the view log in memory and reads grants from a
// GrantSource. Units for the same account and day are serialized with a
// keyed lock, so it is only correct within a single process.
type MemoryStore struct {
	grants GrantSource
	locks  *syncutil.KeyedMutex

	mu    sync.RWMutex
	views map[string][]ViewLog // by account|day, in insertion order
}

// NewMemoryStore creates a view log backed by grants.
func NewMemoryStore(grants GrantSource) *MemoryStore {
	return &MemoryStore{
		grants: grants,
		locks:  syncutil.NewKeyedMutex(),
		views:  make(map[string][]ViewLog),
	}
}

var _ Store = (*MemoryStore)(nil)

func viewKey(accountID, day string) string {
	return accountID + "|" + day
}

func (m *MemoryStore) Atomically(ctx context.Context, scope Scope, fn func(Snapshot) (*ViewLog, error)) error {
	key := viewKey(scope.AccountID, scope.Day)
	unlock, err := m.locks.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()

	grants, err := m.grants.LiveGrants(ctx, scope.AccountID, scope.Now)
	if err != nil {
		return err
	}
	viewed, err := m.ViewedOn(ctx, scope.AccountID, scope.Day)
	if err != nil {
		return err
	}

	entry, err := fn(Snapshot{Grants: grants, Viewed: viewed})
	if err != nil || entry == nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.views[key] {
		if v.ResourceID == entry.ResourceID {
			return nil
		}
	}
	m.views[key] = append(m.views[key], *entry)
	return nil
}

func (m *MemoryStore) LiveGrants(ctx context.Context, accountID string, now time.Time) ([]Grant, error) {
	return m.grants.LiveGrants(ctx, accountID, now)
}

func (m *MemoryStore) ViewedOn(ctx context.Context, accountID, day string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	logs := m.views[viewKey(accountID, day)]
	out := make([]string, 0, len(logs))
	for _, v := range logs {
		out = append(out, v.ResourceID)
	}
	return out, nil
}

// Logs returns a copy of the view log for an account and day.
func (m *MemoryStore) Logs(accountID, day string) []ViewLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ViewLog(nil), m.views[viewKey(accountID, day)]...)
}
