package webhooks

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/avelinos/onboardly/internal/idgen"
	"github.com/avelinos/onboardly/internal/security"
)

// Handler provides admin endpoints for managing webhook subscriptions.
type Handler struct {
	store Store
	// defaultSecret signs deliveries for subscriptions created without one.
	defaultSecret string
}

// NewHandler creates a new webhook subscription handler.
func NewHandler(store Store, defaultSecret string) *Handler {
	return &Handler{store: store, defaultSecret: defaultSecret}
}

// RegisterRoutes sets up the admin webhook routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks", h.CreateSubscription)
	r.GET("/webhooks/:id", h.GetSubscription)
	r.DELETE("/webhooks/:id", h.DeleteSubscription)
}

type createSubscriptionRequest struct {
	URL    string      `json:"url" binding:"required"`
	Events []EventType `json:"events" binding:"required"`
	Secret string      `json:"secret"`
}

// CreateSubscription handles POST /v1/admin/webhooks
func (h *Handler) CreateSubscription(c *gin.Context) {
	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	// SSRF guard: deliveries are server-side requests to a caller-supplied URL.
	if err := security.ValidateEndpointURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_url", "message": err.Error()})
		return
	}

	for _, e := range req.Events {
		switch e {
		case EventOnboardingStarted, EventPaymentFailed, EventTenantActivated:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event", "message": "unknown event type: " + string(e)})
			return
		}
	}

	secret := req.Secret
	if secret == "" {
		secret = h.defaultSecret
	}

	sub := &Subscription{
		ID:        idgen.WithPrefix("whk_"),
		URL:       req.URL,
		Secret:    secret,
		Events:    req.Events,
		Active:    true,
		CreatedAt: time.Now(),
	}
	if err := h.store.Create(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"subscription": sub})
}

// GetSubscription handles GET /v1/admin/webhooks/:id
func (h *Handler) GetSubscription(c *gin.Context) {
	sub, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "subscription not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

// DeleteSubscription handles DELETE /v1/admin/webhooks/:id
func (h *Handler) DeleteSubscription(c *gin.Context) {
	if err := h.store.Delete(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "subscription not found"})
		return
	}
	c.Status(http.StatusNoContent)
}
