//go:build integration

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/mbd888/jobads/internal/account"
	"github.com/mbd888/jobads/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore_KeyLifecycle(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	ctx := context.Background()

	dir := account.NewPostgresDirectory(db)
	require.NoError(t, dir.Create(ctx, &account.Account{ID: "biz_keys", Role: account.Business{Verified: true}, CreatedAt: time.Now()}))

	mgr := NewManager(NewPostgresStore(db))
	raw, key, err := mgr.GenerateKey(ctx, "biz_keys", "primary")
	require.NoError(t, err)

	got, err := mgr.ValidateKey(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, key.ID, got.ID)
	assert.Equal(t, "biz_keys", got.AccountID)

	require.NoError(t, mgr.RevokeKey(ctx, key.ID, "biz_keys"))
	_, err = mgr.ValidateKey(ctx, raw)
	assert.ErrorIs(t, err, ErrInvalidAPIKey)

	assert.ErrorIs(t, mgr.RevokeKey(ctx, "ak_missing", "biz_keys"), ErrKeyNotFound)
}
