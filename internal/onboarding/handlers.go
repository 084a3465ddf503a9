package onboarding

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/avelinos/onboardly/internal/catalog"
	"github.com/avelinos/onboardly/internal/payment"
	"github.com/avelinos/onboardly/internal/selection"
	"github.com/avelinos/onboardly/internal/tenant"
	"github.com/avelinos/onboardly/internal/validation"
	"github.com/avelinos/onboardly/internal/verification"
	"github.com/avelinos/onboardly/internal/wizard"
)

// Handler provides the onboarding HTTP surface.
type Handler struct {
	svc *Service
}

// NewHandler creates a new onboarding handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes sets up the onboarding routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/onboarding")
	g.POST("", h.Start)
	g.GET("/:id", h.GetSession)
	g.POST("/:id/advance", h.Advance)
	g.POST("/:id/back", h.Back)
	g.POST("/:id/verification/request", h.RequestCode)
	g.POST("/:id/verification/verify", h.VerifyCode)
	g.PUT("/:id/plan", h.SelectPlan)
	g.GET("/:id/summary", h.Summary)
	g.PUT("/:id/addons/:addonId", h.ConfigureAddon)
	g.POST("/:id/addons/:addonId/remove", h.RequestRemoval)
	g.POST("/:id/addons/:addonId/unselect", h.RequestUnselect)
	g.POST("/:id/removal/confirm", h.ConfirmRemoval)
	g.POST("/:id/removal/cancel", h.CancelRemoval)
	g.POST("/:id/payment/initiate", h.InitiatePayment)
	g.POST("/:id/payment/confirmation", h.ReportConfirmation)
	g.GET("/:id/payment/status", h.PollPayment)
	g.POST("/:id/payment/retry", h.RetryPayment)
	g.POST("/:id/payment/complete", h.CompletePayment)
}

// Start handles POST /v1/onboarding
func (h *Handler) Start(c *gin.Context) {
	var details CompanyDetails
	if err := c.ShouldBindJSON(&details); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	sess, err := h.svc.Start(c.Request.Context(), details)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, sessionView(sess))
}

// GetSession handles GET /v1/onboarding/:id
func (h *Handler) GetSession(c *gin.Context) {
	sess, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionView(sess))
}

// Advance handles POST /v1/onboarding/:id/advance
func (h *Handler) Advance(c *gin.Context) {
	step, err := h.svc.Advance(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"step": step})
}

// Back handles POST /v1/onboarding/:id/back
func (h *Handler) Back(c *gin.Context) {
	step, err := h.svc.Back(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"step": step})
}

type codeRequest struct {
	Channel verification.Channel `json:"channel" binding:"required"`
	Code    string               `json:"code"`
}

// RequestCode handles POST /v1/onboarding/:id/verification/request
func (h *Handler) RequestCode(c *gin.Context) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if err := h.svc.RequestCode(c.Request.Context(), c.Param("id"), req.Channel); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent", "channel": req.Channel})
}

// VerifyCode handles POST /v1/onboarding/:id/verification/verify
func (h *Handler) VerifyCode(c *gin.Context) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "channel and code are required"})
		return
	}
	if err := h.svc.VerifyCode(c.Request.Context(), c.Param("id"), req.Channel, req.Code); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "verified", "channel": req.Channel})
}

type selectPlanRequest struct {
	PlanID       string               `json:"planId" binding:"required"`
	BillingCycle catalog.BillingCycle `json:"billingCycle" binding:"required"`
	BranchCount  int                  `json:"branchCount" binding:"required"`
}

// SelectPlan handles PUT /v1/onboarding/:id/plan
func (h *Handler) SelectPlan(c *gin.Context) {
	var req selectPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	plan, err := h.svc.SelectPlan(c.Request.Context(), c.Param("id"), req.PlanID, req.BillingCycle, req.BranchCount)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plan": plan})
}

// Summary handles GET /v1/onboarding/:id/summary
func (h *Handler) Summary(c *gin.Context) {
	summary, err := h.svc.Summarize(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

type configureAddonRequest struct {
	SelectedBranches []int `json:"selectedBranches"`
}

// ConfigureAddon handles PUT /v1/onboarding/:id/addons/:addonId
func (h *Handler) ConfigureAddon(c *gin.Context) {
	var req configureAddonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	sel, err := h.svc.ConfigureAddon(c.Request.Context(), c.Param("id"), c.Param("addonId"), req.SelectedBranches)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"addon": sel})
}

// RequestRemoval handles POST /v1/onboarding/:id/addons/:addonId/remove
func (h *Handler) RequestRemoval(c *gin.Context) {
	h.requestIntent(c, selection.ActionRemove)
}

// RequestUnselect handles POST /v1/onboarding/:id/addons/:addonId/unselect
func (h *Handler) RequestUnselect(c *gin.Context) {
	h.requestIntent(c, selection.ActionUnselect)
}

func (h *Handler) requestIntent(c *gin.Context, action selection.IntentAction) {
	sess, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	var intent *selection.RemovalIntent
	if action == selection.ActionRemove {
		intent, err = sess.Basket.RequestRemoval(c.Param("addonId"))
	} else {
		intent, err = sess.Basket.RequestUnselect(c.Param("addonId"))
	}
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": intent})
}

// ConfirmRemoval handles POST /v1/onboarding/:id/removal/confirm
func (h *Handler) ConfirmRemoval(c *gin.Context) {
	sess, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	if err := sess.Basket.Confirm(); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"addons": sess.Basket.Items()})
}

// CancelRemoval handles POST /v1/onboarding/:id/removal/cancel
func (h *Handler) CancelRemoval(c *gin.Context) {
	sess, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	sess.Basket.Cancel()
	c.JSON(http.StatusOK, gin.H{"addons": sess.Basket.Items()})
}

// InitiatePayment handles POST /v1/onboarding/:id/payment/initiate
func (h *Handler) InitiatePayment(c *gin.Context) {
	intent, err := h.svc.InitiatePayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"intent": intent})
}

type confirmationRequest struct {
	Succeeded bool                  `json:"succeeded"`
	Error     *payment.PaymentError `json:"error,omitempty"`
}

// ReportConfirmation handles POST /v1/onboarding/:id/payment/confirmation
func (h *Handler) ReportConfirmation(c *gin.Context) {
	var req confirmationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if err := h.svc.ReportConfirmation(c.Request.Context(), c.Param("id"), req.Succeeded, req.Error); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

// PollPayment handles GET /v1/onboarding/:id/payment/status
func (h *Handler) PollPayment(c *gin.Context) {
	result, err := h.svc.PollPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RetryPayment handles POST /v1/onboarding/:id/payment/retry
func (h *Handler) RetryPayment(c *gin.Context) {
	if err := h.svc.RetryPayment(c.Request.Context(), c.Param("id")); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "awaiting_confirmation"})
}

// CompletePayment handles POST /v1/onboarding/:id/payment/complete
func (h *Handler) CompletePayment(c *gin.Context) {
	result, err := h.svc.CompletePayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func sessionView(sess *Session) gin.H {
	email, phone := sess.Wizard.Verified()
	return gin.H{
		"session": sess,
		"step":    sess.Wizard.Current(),
		"verification": gin.H{
			"email": email,
			"phone": phone,
		},
	}
}

// respondErr maps domain sentinel errors onto HTTP status codes.
func respondErr(c *gin.Context, err error) {
	var verrs validation.ValidationErrors
	if errors.As(err, &verrs) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "details": verrs})
		return
	}

	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, tenant.ErrTenantNotFound),
		errors.Is(err, catalog.ErrPlanNotFound),
		errors.Is(err, catalog.ErrAddonNotFound),
		errors.Is(err, selection.ErrNotConfigured):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, tenant.ErrSlugTaken):
		status, code = http.StatusConflict, "slug_taken"
	case errors.Is(err, verification.ErrTooManyAttempts):
		status, code = http.StatusTooManyRequests, "too_many_attempts"
	case errors.Is(err, verification.ErrCodeNotFound),
		errors.Is(err, verification.ErrCodeExpired),
		errors.Is(err, verification.ErrCodeMismatch),
		errors.Is(err, verification.ErrInvalidChannel):
		status, code = http.StatusBadRequest, "verification_failed"
	case errors.Is(err, wizard.ErrAtFirstStep),
		errors.Is(err, wizard.ErrAtLastStep),
		errors.Is(err, wizard.ErrCompanyIncomplete),
		errors.Is(err, wizard.ErrNotVerified),
		errors.Is(err, wizard.ErrNoPlanSelected),
		errors.Is(err, wizard.ErrInvalidAddonSelection),
		errors.Is(err, ErrNoPlanSelected):
		status, code = http.StatusConflict, "step_blocked"
	case errors.Is(err, wizard.ErrBranchCount),
		errors.Is(err, wizard.ErrBranchOverage),
		errors.Is(err, ErrBranchIndex),
		errors.Is(err, selection.ErrNoBranchSelected):
		status, code = http.StatusBadRequest, "invalid_selection"
	case errors.Is(err, selection.ErrIncludedAddon):
		status, code = http.StatusBadRequest, "included_addon"
	case errors.Is(err, selection.ErrNoPendingIntent):
		status, code = http.StatusConflict, "no_pending_confirmation"
	case errors.Is(err, payment.ErrCallInFlight):
		status, code = http.StatusConflict, "call_in_flight"
	case errors.Is(err, payment.ErrInvalidPhase),
		errors.Is(err, payment.ErrNotSuccessful),
		errors.Is(err, payment.ErrNotRetryable),
		errors.Is(err, ErrWrongStep):
		status, code = http.StatusConflict, "invalid_state"
	case errors.Is(err, payment.ErrSelectionChanged):
		status, code = http.StatusConflict, "selection_changed"
	case errors.Is(err, payment.ErrStatusConflict):
		status, code = http.StatusBadGateway, "gateway_inconsistent"
	case errors.Is(err, tenant.ErrIntentMismatch):
		status, code = http.StatusConflict, "intent_mismatch"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
