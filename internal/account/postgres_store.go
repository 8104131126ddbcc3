package account

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mbd888/jobads/internal/pgutil"
)

var _ Directory = (*PostgresDirectory)(nil)

// PostgresDirectory reads account facts from the accounts table.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates a PostgreSQL-backed directory.
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (p *PostgresDirectory) Get(ctx context.Context, id string) (*Account, error) {
	var (
		a        Account
		role     string
		verified bool
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT id, role, verified, created_at FROM accounts WHERE id = $1
	`, id).Scan(&a.ID, &role, &verified, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}

	a.Role, err = ParseRole(role, verified)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (p *PostgresDirectory) Create(ctx context.Context, a *Account) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO accounts (id, role, verified, created_at) VALUES ($1, $2, $3, $4)
	`, a.ID, RoleName(a.Role), IsVerified(a.Role), a.CreatedAt)
	if err != nil {
		if pgutil.IsUniqueViolation(err, "") {
			return ErrAccountExists
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (p *PostgresDirectory) SetVerified(ctx context.Context, id string, verified bool) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE accounts SET verified = $2 WHERE id = $1 AND role = 'business'
	`, id, verified)
	if err != nil {
		return fmt.Errorf("set verified: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := p.Get(ctx, id); err != nil {
			return err
		}
		return ErrNotAdvertiser
	}
	return nil
}
