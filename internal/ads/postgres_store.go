package ads

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/mbd888/jobads/internal/catalog"
	"github.com/mbd888/jobads/internal/pgutil"
	"github.com/mbd888/jobads/internal/pricing"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL. Every write runs in
// a lock-serialized transaction that is retried on deadlock.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ad store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// inTx runs fn in a retried transaction holding the given advisory locks.
// Row-level work relies on SELECT ... FOR UPDATE. Domain errors from fn are
// returned unchanged; any other failure becomes a *TransientError.
func (p *PostgresStore) inTx(ctx context.Context, op string, locks []string, fn func(tx *sql.Tx) error) error {
	err := pgutil.Locked(ctx, p.db, op, locks, fn)
	if err == nil || isDomain(err) {
		return err
	}
	return &TransientError{Op: op, Err: err}
}

func isDomain(err error) bool {
	var (
		ve *ValidationError
		ce *CapacityError
	)
	return errors.As(err, &ve) || errors.As(err, &ce) ||
		errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotActive) ||
		errors.Is(err, ErrNotOwner) || errors.Is(err, ErrPaymentClosed) ||
		errors.Is(err, ErrJumpLimit) || errors.Is(err, ErrEditLimit)
}

func (p *PostgresStore) Create(ctx context.Context, c *Creation) error {
	return p.inTx(ctx, "create_ad", creationLocks(c), func(tx *sql.Tx) error {
		ad := c.Ad

		var freeActive, paidOpen int
		err := tx.QueryRowContext(ctx, `
			SELECT
				COUNT(*) FILTER (WHERE tier = 'FREE' AND status = 'ACTIVE'),
				COUNT(*) FILTER (WHERE tier <> 'FREE' AND status IN ('ACTIVE', 'PENDING_DEPOSIT'))
			FROM advertisements WHERE account_id = $1
		`, ad.AccountID).Scan(&freeActive, &paidOpen)
		if err != nil {
			return fmt.Errorf("count holdings: %w", err)
		}

		if ad.Tier == catalog.TierFree {
			if freeActive > 0 {
				return capacity(ReasonFreeTierHeld)
			}
		} else {
			if paidOpen >= c.Caps.PaidOpen {
				return capacity(ReasonPaidCapReached)
			}
			if c.Caps.TierSlot > 0 {
				var open int
				err := tx.QueryRowContext(ctx, `
					SELECT COUNT(*) FROM advertisements
					WHERE tier = $1 AND status IN ('ACTIVE', 'PENDING_DEPOSIT')
				`, string(ad.Tier)).Scan(&open)
				if err != nil {
					return fmt.Errorf("count tier slots: %w", err)
				}
				if open >= c.Caps.TierSlot {
					return capacity(ReasonSoldOut)
				}
			}
		}

		if c.ConsumeCredit {
			res, err := tx.ExecContext(ctx, `
				UPDATE credit_balances SET balance = balance - 1, updated_at = NOW()
				WHERE account_id = $1 AND balance >= 1
			`, ad.AccountID)
			if err != nil {
				return fmt.Errorf("debit credit: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return capacity(ReasonInsufficientCredit)
			}
		}

		if err := insertAd(ctx, tx, ad); err != nil {
			if pgutil.IsUniqueViolation(err, "uq_ads_one_active_free") {
				return capacity(ReasonFreeTierHeld)
			}
			return err
		}
		if c.Payment != nil {
			if err := insertPayment(ctx, tx, c.Payment); err != nil {
				return err
			}
		}
		return nil
	})
}

// creationLocks serializes creations per account and, for capped tiers,
// across accounts. The account lock always comes first.
func creationLocks(c *Creation) []string {
	locks := []string{"ads:account:" + c.Ad.AccountID}
	if c.Ad.Tier != catalog.TierFree && c.Caps.TierSlot > 0 {
		locks = append(locks, "ads:tier:"+string(c.Ad.Tier))
	}
	return locks
}

func insertAd(ctx context.Context, tx *sql.Tx, ad *Advertisement) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO advertisements (
			id, account_id, tier, title, duration_days, amount, status, funding, regions,
			auto_jumps_per_day, manual_jumps_per_day, max_edits, max_regions, national_scope,
			edit_count, start_at, end_at, activated_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20)
	`,
		ad.ID, ad.AccountID, string(ad.Tier), ad.Title, ad.Duration, ad.Amount,
		string(ad.Status), string(ad.Funding), pq.Array(ad.Regions),
		ad.Snapshot.AutoJumpsPerDay, ad.Snapshot.ManualJumpsPerDay, ad.Snapshot.MaxEdits,
		ad.Snapshot.MaxRegions, ad.Snapshot.NationalScope,
		ad.EditCount, nullTime(ad.StartAt), nullTime(ad.EndAt), nullTime(ad.ActivatedAt),
		ad.CreatedAt, ad.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert ad: %w", err)
	}

	for _, a := range ad.AddOns {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ad_add_ons (ad_id, add_on_id, value, included) VALUES ($1, $2, $3, $4)
		`, ad.ID, string(a.ID), a.Value, a.Included)
		if err != nil {
			return fmt.Errorf("insert add-on %s: %w", a.ID, err)
		}
	}
	return nil
}

func insertPayment(ctx context.Context, tx *sql.Tx, pay *Payment) error {
	breakdown, err := json.Marshal(pay.Breakdown)
	if err != nil {
		return fmt.Errorf("encode breakdown: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO payments (
			order_id, ad_id, account_id, amount, method, status,
			credit_funded, breakdown, created_at, settled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		pay.OrderID, pay.AdID, pay.AccountID, pay.Amount, string(pay.Method), string(pay.Status),
		pay.CreditFunded, breakdown, pay.CreatedAt, nullTime(pay.SettledAt),
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

const adColumns = `id, account_id, tier, title, duration_days, amount, status, funding, regions,
	auto_jumps_per_day, manual_jumps_per_day, max_edits, max_regions, national_scope,
	edit_count, start_at, end_at, activated_at, created_at, updated_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Advertisement, error) {
	return getAd(ctx, p.db, id, false)
}

func getAd(ctx context.Context, q queryer, id string, forUpdate bool) (*Advertisement, error) {
	query := `SELECT ` + adColumns + ` FROM advertisements WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	ad, err := scanAd(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ad: %w", err)
	}
	if err := loadAddOns(ctx, q, []*Advertisement{ad}); err != nil {
		return nil, err
	}
	return ad, nil
}

func (p *PostgresStore) ListByAccount(ctx context.Context, accountID string) ([]*Advertisement, error) {
	return p.queryAds(ctx, `
		SELECT `+adColumns+` FROM advertisements
		WHERE account_id = $1 ORDER BY created_at DESC
	`, accountID)
}

func (p *PostgresStore) ListLive(ctx context.Context, accountID string, now time.Time) ([]*Advertisement, error) {
	return p.queryAds(ctx, `
		SELECT `+adColumns+` FROM advertisements
		WHERE account_id = $1 AND status = 'ACTIVE' AND (end_at IS NULL OR end_at > $2)
	`, accountID, now)
}

func (p *PostgresStore) queryAds(ctx context.Context, query string, args ...interface{}) ([]*Advertisement, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ads: %w", err)
	}
	ads, err := collectAds(rows)
	if err != nil {
		return nil, err
	}
	if err := loadAddOns(ctx, p.db, ads); err != nil {
		return nil, err
	}
	return ads, nil
}

func collectAds(rows *sql.Rows) ([]*Advertisement, error) {
	defer rows.Close()
	var ads []*Advertisement
	for rows.Next() {
		ad, err := scanAd(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ad: %w", err)
		}
		ads = append(ads, ad)
	}
	return ads, rows.Err()
}

func loadAddOns(ctx context.Context, q queryer, ads []*Advertisement) error {
	if len(ads) == 0 {
		return nil
	}
	byID := make(map[string]*Advertisement, len(ads))
	ids := make([]string, 0, len(ads))
	for _, ad := range ads {
		ad.AddOns = []AddOnSelection{}
		byID[ad.ID] = ad
		ids = append(ids, ad.ID)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT ad_id, add_on_id, value, included FROM ad_add_ons
		WHERE ad_id = ANY($1) ORDER BY add_on_id
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("load add-ons: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var adID, addOnID string
		var sel AddOnSelection
		if err := rows.Scan(&adID, &addOnID, &sel.Value, &sel.Included); err != nil {
			return fmt.Errorf("scan add-on: %w", err)
		}
		sel.ID = catalog.AddOnID(addOnID)
		if ad := byID[adID]; ad != nil {
			ad.AddOns = append(ad.AddOns, sel)
		}
	}
	return rows.Err()
}

func (p *PostgresStore) Holdings(ctx context.Context, accountID string) (*Holdings, error) {
	h := &Holdings{}
	err := p.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE tier = 'FREE' AND status = 'ACTIVE'),
			COUNT(*) FILTER (WHERE tier <> 'FREE' AND status IN ('ACTIVE', 'PENDING_DEPOSIT')),
			COALESCE((SELECT balance FROM credit_balances WHERE account_id = $1), 0)
		FROM advertisements WHERE account_id = $1
	`, accountID).Scan(&h.FreeActive, &h.PaidOpen, &h.Credits)
	if err != nil {
		return nil, fmt.Errorf("holdings: %w", err)
	}
	return h, nil
}

func (p *PostgresStore) OpenInTier(ctx context.Context, tier catalog.TierID) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM advertisements
		WHERE tier = $1 AND status IN ('ACTIVE', 'PENDING_DEPOSIT')
	`, string(tier)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("open in tier: %w", err)
	}
	return n, nil
}

func (p *PostgresStore) GetPayment(ctx context.Context, orderID string) (*Payment, error) {
	pay, err := scanPayment(p.db.QueryRowContext(ctx, `
		SELECT order_id, ad_id, account_id, amount, method, status,
			credit_funded, breakdown, created_at, settled_at
		FROM payments WHERE order_id = $1
	`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return pay, nil
}

// lockPayment reads the payment row under lock, returning its ad id and status.
func lockPayment(ctx context.Context, tx *sql.Tx, orderID string) (string, PaymentStatus, error) {
	var adID, status string
	err := tx.QueryRowContext(ctx, `
		SELECT ad_id, status FROM payments WHERE order_id = $1 FOR UPDATE
	`, orderID).Scan(&adID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", fmt.Errorf("lock payment: %w", err)
	}
	return adID, PaymentStatus(status), nil
}

func (p *PostgresStore) Approve(ctx context.Context, orderID string, now time.Time) (*Advertisement, bool, error) {
	var (
		ad      *Advertisement
		changed bool
	)
	err := p.inTx(ctx, "confirm_payment", nil, func(tx *sql.Tx) error {
		changed = false
		adID, status, err := lockPayment(ctx, tx, orderID)
		if err != nil {
			return err
		}

		switch status {
		case PaymentApproved:
			ad, err = getAd(ctx, tx, adID, false)
			return err
		case PaymentPending:
		default:
			return ErrPaymentClosed
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE payments SET status = 'APPROVED', settled_at = $2 WHERE order_id = $1
		`, orderID, now); err != nil {
			return fmt.Errorf("approve payment: %w", err)
		}

		ad, err = getAd(ctx, tx, adID, true)
		if err != nil {
			return err
		}
		if ad.Status == StatusPendingDeposit {
			activate(ad, now)
			if _, err := tx.ExecContext(ctx, `
				UPDATE advertisements
				SET status = 'ACTIVE', start_at = $2, end_at = $3, activated_at = $2, updated_at = $2
				WHERE id = $1
			`, ad.ID, now, *ad.EndAt); err != nil {
				return fmt.Errorf("activate ad: %w", err)
			}
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return ad, changed, nil
}

func (p *PostgresStore) Void(ctx context.Context, orderID string, status PaymentStatus, now time.Time) (*Advertisement, bool, error) {
	var (
		ad      *Advertisement
		changed bool
	)
	err := p.inTx(ctx, "void_payment", nil, func(tx *sql.Tx) error {
		changed = false
		adID, current, err := lockPayment(ctx, tx, orderID)
		if err != nil {
			return err
		}

		switch current {
		case PaymentPending:
		case status:
			ad, err = getAd(ctx, tx, adID, false)
			return err
		default:
			return ErrPaymentClosed
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE payments SET status = $2, settled_at = $3 WHERE order_id = $1
		`, orderID, string(status), now); err != nil {
			return fmt.Errorf("void payment: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE advertisements SET status = 'CANCELLED', updated_at = $2
			WHERE id = $1 AND status = 'PENDING_DEPOSIT'
		`, adID, now); err != nil {
			return fmt.Errorf("cancel ad: %w", err)
		}

		ad, err = getAd(ctx, tx, adID, false)
		if err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return ad, changed, nil
}

func (p *PostgresStore) CreditBalance(ctx context.Context, accountID string) (int, error) {
	var balance int
	err := p.db.QueryRowContext(ctx, `
		SELECT balance FROM credit_balances WHERE account_id = $1
	`, accountID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("credit balance: %w", err)
	}
	return balance, nil
}

func (p *PostgresStore) GrantCredits(ctx context.Context, accountID string, n int) (int, error) {
	var balance int
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO credit_balances (account_id, balance, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (account_id) DO UPDATE
		SET balance = credit_balances.balance + EXCLUDED.balance, updated_at = NOW()
		RETURNING balance
	`, accountID, n).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("grant credits: %w", err)
	}
	return balance, nil
}

func (p *PostgresStore) Mutate(ctx context.Context, adID string, fn func(*Advertisement) error) (*Advertisement, error) {
	var ad *Advertisement
	err := p.inTx(ctx, "update_ad", nil, func(tx *sql.Tx) error {
		var err error
		ad, err = getAd(ctx, tx, adID, true)
		if err != nil {
			return err
		}
		if err := fn(ad); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE advertisements
			SET title = $2, regions = $3, edit_count = $4, status = $5, updated_at = $6
			WHERE id = $1
		`, ad.ID, ad.Title, pq.Array(ad.Regions), ad.EditCount, string(ad.Status), ad.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update ad: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ad, nil
}

func (p *PostgresStore) RecordJump(ctx context.Context, adID string, day, now time.Time, limit int) (int, error) {
	var used int
	err := p.inTx(ctx, "record_jump", nil, func(tx *sql.Tx) error {
		ad, err := getAd(ctx, tx, adID, true)
		if err != nil {
			return err
		}
		if !ad.LiveAt(now) {
			return ErrNotActive
		}

		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM ad_jumps WHERE ad_id = $1 AND jumped_at >= $2
		`, adID, day).Scan(&used)
		if err != nil {
			return fmt.Errorf("count jumps: %w", err)
		}
		if used >= limit {
			return ErrJumpLimit
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ad_jumps (ad_id, jumped_at) VALUES ($1, $2)
		`, adID, now); err != nil {
			return fmt.Errorf("insert jump: %w", err)
		}
		used++
		return nil
	})
	return used, err
}

func (p *PostgresStore) ExpireDue(ctx context.Context, now time.Time) ([]*Advertisement, error) {
	rows, err := p.db.QueryContext(ctx, `
		UPDATE advertisements SET status = 'EXPIRED', updated_at = $1
		WHERE status = 'ACTIVE' AND end_at IS NOT NULL AND end_at <= $1
		RETURNING `+adColumns, now)
	if err != nil {
		return nil, fmt.Errorf("expire ads: %w", err)
	}
	ads, err := collectAds(rows)
	if err != nil {
		return nil, err
	}
	if err := loadAddOns(ctx, p.db, ads); err != nil {
		return nil, err
	}
	return ads, nil
}

func (p *PostgresStore) StalePending(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT order_id FROM payments
		WHERE status = 'PENDING' AND method = 'bank_deposit' AND created_at < $1
		ORDER BY created_at
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("stale pending: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// scannable is satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...interface{}) error
}

func scanAd(sc scannable) (*Advertisement, error) {
	ad := &Advertisement{}
	var (
		tier, status, funding    string
		regions                  pq.StringArray
		startAt, endAt, activeAt sql.NullTime
	)
	err := sc.Scan(
		&ad.ID, &ad.AccountID, &tier, &ad.Title, &ad.Duration, &ad.Amount, &status, &funding, &regions,
		&ad.Snapshot.AutoJumpsPerDay, &ad.Snapshot.ManualJumpsPerDay, &ad.Snapshot.MaxEdits,
		&ad.Snapshot.MaxRegions, &ad.Snapshot.NationalScope,
		&ad.EditCount, &startAt, &endAt, &activeAt, &ad.CreatedAt, &ad.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	ad.Tier = catalog.TierID(tier)
	ad.Status = Status(status)
	ad.Funding = Funding(funding)
	ad.Regions = []string(regions)
	if ad.Regions == nil {
		ad.Regions = []string{}
	}
	ad.StartAt = timePtr(startAt)
	ad.EndAt = timePtr(endAt)
	ad.ActivatedAt = timePtr(activeAt)
	return ad, nil
}

func scanPayment(sc scannable) (*Payment, error) {
	pay := &Payment{}
	var (
		method, status string
		breakdown      []byte
		settledAt      sql.NullTime
	)
	err := sc.Scan(
		&pay.OrderID, &pay.AdID, &pay.AccountID, &pay.Amount, &method, &status,
		&pay.CreditFunded, &breakdown, &pay.CreatedAt, &settledAt,
	)
	if err != nil {
		return nil, err
	}
	pay.Method = Method(method)
	pay.Status = PaymentStatus(status)
	pay.SettledAt = timePtr(settledAt)
	if len(breakdown) > 0 {
		pay.Breakdown = &pricing.Breakdown{}
		if err := json.Unmarshal(breakdown, pay.Breakdown); err != nil {
			return nil, fmt.Errorf("decode breakdown: %w", err)
		}
	}
	return pay, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
