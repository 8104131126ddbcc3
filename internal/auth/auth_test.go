package auth

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey(t *testing.T) {
	mgr := NewManager(NewMemoryStore())

	rawKey, key, err := mgr.GenerateKey(context.Background(), "biz_1", "Test key")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(rawKey, "sk_"))
	assert.Len(t, rawKey, 67) // "sk_" + 64 hex chars
	assert.True(t, strings.HasPrefix(key.ID, "ak_"))
	assert.Equal(t, "biz_1", key.AccountID)
	assert.Equal(t, "Test key", key.Name)
}

func TestValidateKey(t *testing.T) {
	mgr := NewManager(NewMemoryStore())
	ctx := context.Background()

	rawKey, _, err := mgr.GenerateKey(ctx, "biz_1", "Primary")
	require.NoError(t, err)

	key, err := mgr.ValidateKey(ctx, rawKey)
	require.NoError(t, err)
	assert.Equal(t, "biz_1", key.AccountID)

	key, err = mgr.ValidateKey(ctx, "Bearer "+rawKey)
	require.NoError(t, err)
	assert.Equal(t, "biz_1", key.AccountID)

	_, err = mgr.ValidateKey(ctx, "")
	assert.ErrorIs(t, err, ErrNoAPIKey)

	_, err = mgr.ValidateKey(ctx, "pk_nope")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)

	_, err = mgr.ValidateKey(ctx, "sk_"+strings.Repeat("0", 64))
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestValidateKey_ExpiredAndRevoked(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store)
	ctx := context.Background()

	rawKey, key, err := mgr.GenerateKey(ctx, "biz_1", "Primary")
	require.NoError(t, err)

	require.NoError(t, mgr.RevokeKey(ctx, key.ID, "biz_1"))
	_, err = mgr.ValidateKey(ctx, rawKey)
	assert.ErrorIs(t, err, ErrInvalidAPIKey)

	assert.ErrorIs(t, mgr.RevokeKey(ctx, "ak_missing", "biz_1"), ErrKeyNotFound)

	raw2, key2, err := mgr.GenerateKey(ctx, "biz_2", "Expiring")
	require.NoError(t, err)
	past := time.Now().Add(-time.Hour)
	store.mu.Lock()
	store.byID[key2.ID].ExpiresAt = &past
	store.mu.Unlock()

	_, err = mgr.ValidateKey(ctx, raw2)
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestImportKey(t *testing.T) {
	mgr := NewManager(NewMemoryStore())
	ctx := context.Background()
	raw := "sk_" + strings.Repeat("ab", 32)

	key, err := mgr.ImportKey(ctx, "op_root", "bootstrap", raw)
	require.NoError(t, err)

	again, err := mgr.ImportKey(ctx, "op_root", "bootstrap", raw)
	require.NoError(t, err)
	assert.Equal(t, key.ID, again.ID, "importing twice is a no-op")

	got, err := mgr.ValidateKey(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, "op_root", got.AccountID)

	_, err = mgr.ImportKey(ctx, "someone_else", "steal", raw)
	assert.ErrorIs(t, err, ErrInvalidAPIKey)

	_, err = mgr.ImportKey(ctx, "op_root", "short", "sk_123")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestListKeys_NewestFirst(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"ak_old", "ak_new", "ak_mid"} {
		offset := map[string]time.Duration{"ak_old": 0, "ak_new": 2 * time.Hour, "ak_mid": time.Hour}[id]
		require.NoError(t, store.Create(ctx, &APIKey{
			ID: id, Hash: hashKey(fmt.Sprintf("sk_%d", i)), AccountID: "biz_1", CreatedAt: base.Add(offset),
		}))
	}
	require.NoError(t, store.Create(ctx, &APIKey{ID: "ak_other", Hash: "x", AccountID: "biz_2"}))

	keys, err := m.ListKeys(ctx, "biz_1")
	require.NoError(t, err)
	require.Len(t, keys, 3)
	assert.Equal(t, "ak_new", keys[0].ID)
	assert.Equal(t, "ak_mid", keys[1].ID)
	assert.Equal(t, "ak_old", keys[2].ID)
}
