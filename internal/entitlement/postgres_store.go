package entitlement

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mbd888/jobads/internal/catalog"
	"github.com/mbd888/jobads/internal/pgutil"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore reads grants from the advertisements table and keeps the
// view log in resource_view_logs, all within one lock-serialized transaction.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed entitlement store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (p *PostgresStore) Atomically(ctx context.Context, scope Scope, fn func(Snapshot) (*ViewLog, error)) error {
	// The lock serializes the count-then-insert per account and day across
	// processes; the unique key fences duplicates.
	lock := "views:" + scope.AccountID + ":" + scope.Day
	return pgutil.Locked(ctx, p.db, "check_access", []string{lock}, func(tx *sql.Tx) error {
		grants, err := liveGrants(ctx, tx, scope.AccountID, scope.Now)
		if err != nil {
			return err
		}
		viewed, err := viewedOn(ctx, tx, scope.AccountID, scope.Day)
		if err != nil {
			return err
		}

		entry, err := fn(Snapshot{Grants: grants, Viewed: viewed})
		if err != nil || entry == nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO resource_view_logs (account_id, resource_id, ad_id, quota_day, viewed_at)
			VALUES ($1, $2, $3, $4::DATE, $5)
			ON CONFLICT (account_id, resource_id, quota_day) DO NOTHING
		`, entry.AccountID, entry.ResourceID, nullString(entry.AdID), entry.QuotaDay, entry.ViewedAt)
		if err != nil {
			return fmt.Errorf("insert view log: %w", err)
		}
		return nil
	})
}

func (p *PostgresStore) LiveGrants(ctx context.Context, accountID string, now time.Time) ([]Grant, error) {
	return liveGrants(ctx, p.db, accountID, now)
}

func (p *PostgresStore) ViewedOn(ctx context.Context, accountID, day string) ([]string, error) {
	return viewedOn(ctx, p.db, accountID, day)
}

func liveGrants(ctx context.Context, q queryer, accountID string, now time.Time) ([]Grant, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, tier, COALESCE(activated_at, created_at)
		FROM advertisements
		WHERE account_id = $1 AND status = 'ACTIVE' AND tier <> 'FREE'
			AND (end_at IS NULL OR end_at > $2)
	`, accountID, now)
	if err != nil {
		return nil, fmt.Errorf("query grants: %w", err)
	}
	defer rows.Close()

	var grants []Grant
	for rows.Next() {
		var g Grant
		var tier string
		if err := rows.Scan(&g.AdID, &tier, &g.ActivatedAt); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		g.Tier = catalog.TierID(tier)
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func viewedOn(ctx context.Context, q queryer, accountID, day string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT resource_id FROM resource_view_logs
		WHERE account_id = $1 AND quota_day = $2::DATE
	`, accountID, day)
	if err != nil {
		return nil, fmt.Errorf("query views: %w", err)
	}
	defer rows.Close()

	var viewed []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan view: %w", err)
		}
		viewed = append(viewed, id)
	}
	return viewed, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
