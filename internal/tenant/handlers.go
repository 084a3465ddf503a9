package tenant

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/avelinos/onboardly/internal/pagination"
)

// Handler provides HTTP endpoints for tenant records.
type Handler struct {
	store Store
}

// NewHandler creates a new tenant handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up public tenant routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/tenants/:id", h.GetTenant)
}

// RegisterAdminRoutes sets up admin-only tenant routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/tenants", h.ListTenants)
}

// GetTenant handles GET /v1/tenants/:id
func (h *Handler) GetTenant(c *gin.Context) {
	t, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if err == ErrTenantNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "tenant not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant": t})
}

const listPageSize = 100

// ListTenants handles GET /v1/admin/tenants?status=pending&cursor=... (admin only).
func (h *Handler) ListTenants(c *gin.Context) {
	status := Status(c.Query("status"))
	switch status {
	case "", StatusPending, StatusActive, StatusSuspended:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status", "message": "unknown tenant status"})
		return
	}

	after, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": err.Error()})
		return
	}

	// Fetch one extra row to learn whether another page exists.
	tenants, err := h.store.List(c.Request.Context(), status, listPageSize+1, after)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	tenants, next, hasMore := pagination.ComputePage(tenants, listPageSize, func(t *Tenant) (time.Time, string) {
		return t.CreatedAt, t.ID
	})
	c.JSON(http.StatusOK, gin.H{
		"tenants":     tenants,
		"count":       len(tenants),
		"next_cursor": next,
		"has_more":    hasMore,
	})
}
