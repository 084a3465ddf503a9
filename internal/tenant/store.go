package tenant

import (
	"context"

	"github.com/avelinos/onboardly/internal/pagination"
)

// Store persists tenant data.
type Store interface {
	Create(ctx context.Context, t *Tenant) error
	Get(ctx context.Context, id string) (*Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*Tenant, error)
	Update(ctx context.Context, t *Tenant) error
	// List returns tenants ordered by creation time, optionally filtered by
	// status, starting after the cursor position when one is given.
	List(ctx context.Context, status Status, limit int, after *pagination.Cursor) ([]*Tenant, error)
}
