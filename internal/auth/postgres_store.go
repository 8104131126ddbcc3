package auth

import (
	"context"
	"database/sql"
	"errors"

	"github.com/mbd888/jobads/internal/pgutil"
)

const keyColumns = `id, hash, account_id, name, created_at, last_used, expires_at, revoked`

// PostgresStore persists API keys in PostgreSQL. Only the SHA-256 hash of a
// key is stored.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed auth store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create stores a new API key
func (p *PostgresStore) Create(ctx context.Context, key *APIKey) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, hash, account_id, name, created_at, expires_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, key.ID, key.Hash, key.AccountID, key.Name, key.CreatedAt, key.ExpiresAt, key.Revoked)
	if pgutil.IsUniqueViolation(err, "") {
		return ErrKeyExists
	}
	return err
}

// GetByHash retrieves a live API key by its hash
func (p *PostgresStore) GetByHash(ctx context.Context, hash string) (*APIKey, error) {
	key, err := scanKey(p.db.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys
		  WHERE hash = $1 AND NOT revoked AND (expires_at IS NULL OR expires_at > NOW())`, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	return key, err
}

// GetByAccount retrieves all API keys for an account
func (p *PostgresStore) GetByAccount(ctx context.Context, accountID string) ([]*APIKey, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE account_id = $1 ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []*APIKey
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Update records last use and revocation.
func (p *PostgresStore) Update(ctx context.Context, key *APIKey) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE api_keys SET last_used = $1, revoked = revoked OR $2 WHERE id = $3
	`, key.LastUsed, key.Revoked, key.ID)
	return err
}

func scanKey(row interface{ Scan(...any) error }) (*APIKey, error) {
	var (
		key       APIKey
		name      sql.NullString
		lastUsed  sql.NullTime
		expiresAt sql.NullTime
	)
	err := row.Scan(&key.ID, &key.Hash, &key.AccountID, &name, &key.CreatedAt, &lastUsed, &expiresAt, &key.Revoked)
	if err != nil {
		return nil, err
	}
	key.Name = name.String
	key.LastUsed = lastUsed.Time
	if expiresAt.Valid {
		key.ExpiresAt = &expiresAt.Time
	}
	return &key, nil
}
