package account

import (
	"context"
	"sync"
)

// MemoryDirectory is an in-memory Directory for development and tests.
type MemoryDirectory struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{accounts: make(map[string]*Account)}
}

func (m *MemoryDirectory) Get(ctx context.Context, id string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryDirectory) Create(ctx context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[a.ID]; ok {
		return ErrAccountExists
	}
	cp := *a
	m.accounts[a.ID] = &cp
	return nil
}

func (m *MemoryDirectory) SetVerified(ctx context.Context, id string, verified bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	if _, isBusiness := a.Role.(Business); !isBusiness {
		return ErrNotAdvertiser
	}
	a.Role = Business{Verified: verified}
	return nil
}
