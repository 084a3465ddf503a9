package tenant

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/avelinos/onboardly/internal/pagination"
)

// PostgresStore persists tenants in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed tenant store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, t *Tenant) error {
	subJSON, err := marshalSubscription(t.Subscription)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO tenants (id, organization_name, slug, status, subscription,
			stripe_customer_id, payment_intent_id, activated_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.OrganizationName, t.Slug, string(t.Status), subJSON,
		t.StripeCustomerID, t.PaymentIntentID, t.ActivatedAt, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrSlugTaken
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Tenant, error) {
	return scanTenant(p.db.QueryRowContext(ctx, `
		SELECT id, organization_name, slug, status, subscription, stripe_customer_id,
			payment_intent_id, activated_at, created_at, updated_at
		FROM tenants WHERE id = $1`, id))
}

func (p *PostgresStore) GetBySlug(ctx context.Context, slug string) (*Tenant, error) {
	return scanTenant(p.db.QueryRowContext(ctx, `
		SELECT id, organization_name, slug, status, subscription, stripe_customer_id,
			payment_intent_id, activated_at, created_at, updated_at
		FROM tenants WHERE slug = $1`, slug))
}

func (p *PostgresStore) Update(ctx context.Context, t *Tenant) error {
	subJSON, err := marshalSubscription(t.Subscription)
	if err != nil {
		return err
	}
	result, err := p.db.ExecContext(ctx, `
		UPDATE tenants SET organization_name = $1, status = $2, subscription = $3,
			stripe_customer_id = $4, payment_intent_id = $5, activated_at = $6, updated_at = $7
		WHERE id = $8`,
		t.OrganizationName, string(t.Status), subJSON,
		t.StripeCustomerID, t.PaymentIntentID, t.ActivatedAt, t.UpdatedAt, t.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTenantNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, status Status, limit int, after *pagination.Cursor) ([]*Tenant, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, organization_name, slug, status, subscription, stripe_customer_id,
			payment_intent_id, activated_at, created_at, updated_at
		FROM tenants`
	var conds []string
	args := []interface{}{}
	if status != "" {
		args = append(args, string(status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if after != nil {
		args = append(args, after.CreatedAt, after.ID)
		conds = append(conds, fmt.Sprintf("(created_at, id) > ($%d, $%d)", len(args)-1, len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at, id LIMIT $%d", len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTenant(row rowScanner) (*Tenant, error) {
	t := &Tenant{}
	var (
		status      string
		subJSON     []byte
		stripeID    sql.NullString
		intentID    sql.NullString
		activatedAt sql.NullTime
	)
	err := row.Scan(&t.ID, &t.OrganizationName, &t.Slug, &status, &subJSON,
		&stripeID, &intentID, &activatedAt, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Status = Status(status)
	t.StripeCustomerID = stripeID.String
	t.PaymentIntentID = intentID.String
	if activatedAt.Valid {
		at := activatedAt.Time
		t.ActivatedAt = &at
	}
	if len(subJSON) > 0 {
		if err := json.Unmarshal(subJSON, &t.Subscription); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func marshalSubscription(s *Subscription) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

var _ Store = (*PostgresStore)(nil)
