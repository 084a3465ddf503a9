package verification

import (
	"context"
	"database/sql"
)

// PostgresStore persists one-time codes in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed code store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Put(ctx context.Context, c *Code) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO verification_codes (channel, destination, code_hash, attempts, expires_at, created_at)
		VALUES ($1, $2, $3, 0, $4, $5)
		ON CONFLICT (channel, destination) DO UPDATE
		SET code_hash = EXCLUDED.code_hash, attempts = 0,
			expires_at = EXCLUDED.expires_at, created_at = EXCLUDED.created_at`,
		string(c.Channel), c.Destination, c.CodeHash, c.ExpiresAt, c.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, channel Channel, destination string) (*Code, error) {
	c := &Code{Channel: channel, Destination: destination}
	err := p.db.QueryRowContext(ctx, `
		SELECT code_hash, attempts, expires_at, created_at
		FROM verification_codes WHERE channel = $1 AND destination = $2`,
		string(channel), destination,
	).Scan(&c.CodeHash, &c.Attempts, &c.ExpiresAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrCodeNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (p *PostgresStore) IncrementAttempts(ctx context.Context, channel Channel, destination string) (int, error) {
	var attempts int
	err := p.db.QueryRowContext(ctx, `
		UPDATE verification_codes SET attempts = attempts + 1
		WHERE channel = $1 AND destination = $2
		RETURNING attempts`,
		string(channel), destination,
	).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, ErrCodeNotFound
	}
	return attempts, err
}

func (p *PostgresStore) Delete(ctx context.Context, channel Channel, destination string) error {
	_, err := p.db.ExecContext(ctx, `
		DELETE FROM verification_codes WHERE channel = $1 AND destination = $2`,
		string(channel), destination,
	)
	return err
}

var _ Store = (*PostgresStore)(nil)
