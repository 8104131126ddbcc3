package pgutil

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&pq.Error{Code: "40001"}))
	assert.True(t, IsRetryable(fmt.Errorf("commit: %w", &pq.Error{Code: "40P01"})))
	assert.False(t, IsRetryable(&pq.Error{Code: "23505"}))
	assert.False(t, IsRetryable(errors.New("40001")))
	assert.False(t, IsRetryable(nil))
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pq.Error{Code: "23505", Constraint: "uq_ads_one_active_free"})
	assert.True(t, IsUniqueViolation(err, ""))
	assert.True(t, IsUniqueViolation(err, "uq_ads_one_active_free"))
	assert.False(t, IsUniqueViolation(err, "payments_pkey"))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23514"}, ""))
}

func TestLockedTransactionsReadCommitted(t *testing.T) {
	// Statements after the advisory locks must see rows committed by the
	// previous holder; a snapshot taken before the lock would not.
	assert.Equal(t, sql.LevelReadCommitted, TxOptions.Isolation)
	assert.False(t, TxOptions.ReadOnly)
}
