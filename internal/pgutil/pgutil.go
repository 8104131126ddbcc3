// Package pgutil runs lock-serialized transactions with retry on
// deadlocks and serialization failures.
package pgutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/mbd888/jobads/internal/metrics"
	"github.com/mbd888/jobads/internal/retry"
)

const (
	DefaultAttempts  = 4
	DefaultBaseDelay = 15 * time.Millisecond
)

// IsRetryable reports whether err is a Postgres serialization failure (40001)
// or deadlock (40P01).
func IsRetryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}

// IsUniqueViolation reports whether err is a unique-constraint violation,
// optionally on a specific constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// Locked runs fn in a READ COMMITTED transaction after taking a
// transaction-scoped advisory lock on each key, in the order given. Every
// statement fn issues after the locks sees rows committed by the previous
// holder, so a count-then-insert under the same keys cannot interleave.
// A deadlock or serialization failure rolls back and reruns from scratch;
// any other error is returned as is. op labels the retry metric.
func Locked(ctx context.Context, db *sql.DB, op string, keys []string, fn func(tx *sql.Tx) error) error {
	p := retry.Policy{
		Attempts:  DefaultAttempts,
		BaseDelay: DefaultBaseDelay,
		Retryable: IsRetryable,
		OnRetry: func(int, error) {
			metrics.StoreRetriesTotal.WithLabelValues(op).Inc()
		},
	}
	return p.Run(ctx, func() error {
		return runTx(ctx, db, func(tx *sql.Tx) error {
			for _, key := range keys {
				if err := AdvisoryLock(ctx, tx, key); err != nil {
					return err
				}
			}
			return fn(tx)
		})
	})
}

// TxOptions are the options every Locked transaction begins with.
var TxOptions = sql.TxOptions{Isolation: sql.LevelReadCommitted}

func runTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	opts := TxOptions
	tx, err := db.BeginTx(ctx, &opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// AdvisoryLock takes a transaction-scoped advisory lock on key.
func AdvisoryLock(ctx context.Context, tx *sql.Tx, key string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}
