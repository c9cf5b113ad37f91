package handler

import (
	"encoding/json"
	"net/http"

	"paywall/internal/api/v1/dto"
	"paywall/internal/middleware"
	"paywall/internal/model"
	"paywall/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// SubscriptionHandler handles plan, checkout and entitlement endpoints.
type SubscriptionHandler struct {
	subSvc         service.SubscriptionService
	entitlementSvc service.EntitlementService
	validate       *validator.Validate
	logger         zerolog.Logger
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(subSvc service.SubscriptionService, entitlementSvc service.EntitlementService, v *validator.Validate, logger zerolog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{subSvc: subSvc, entitlementSvc: entitlementSvc, validate: v, logger: logger}
}

// RegisterRoutes registers the subscription endpoints. Plans are public.
func (h *SubscriptionHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler) {
	mux.HandleFunc("/plans", h.ListPlans)
	mux.Handle("/subscriptions/checkout", authMiddleware(http.HandlerFunc(h.handleCheckout)))
	mux.Handle("/subscriptions/capture", authMiddleware(http.HandlerFunc(h.Capture)))
	mux.Handle("/subscriptions/me", authMiddleware(http.HandlerFunc(h.GetSubscription)))
	mux.Handle("/subscriptions/me/entitlement", authMiddleware(http.HandlerFunc(h.CheckEntitlement)))
	mux.Handle("/subscriptions/me/usage", authMiddleware(http.HandlerFunc(h.RecordUsage)))
	mux.Handle("/subscriptions/me/audit", authMiddleware(http.HandlerFunc(h.Audit)))
}

func (h *SubscriptionHandler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.Checkout(w, r)
	case http.MethodDelete:
		h.CancelCheckout(w, r)
	default:
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// ListPlans godoc
// @Summary List subscription plans
// @Tags subscriptions
// @Produce json
// @Success 200 {array} dto.PlanResponseDTO
// @Router /plans [get]
func (h *SubscriptionHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	plans := h.subSvc.ListPlans()
	resp := make([]dto.PlanResponseDTO, 0, len(plans))
	for _, p := range plans {
		resp = append(resp, dto.PlanResponseDTO{
			ID:           string(p.ID),
			Name:         p.Name,
			Price:        p.PriceMinorUnits,
			Currency:     p.Currency,
			UsageQuota:   p.UsageQuota,
			DurationDays: p.DurationDays,
		})
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}

// Checkout godoc
// @Summary Start an upgrade to a paid plan
// @Description Creates a provider order and returns the approval link.
// @Tags subscriptions
// @Accept json
// @Produce json
// @Param checkout body dto.CheckoutRequestDTO true "Plan to buy"
// @Success 200 {object} service.Checkout
// @Failure 400 {object} dto.ErrorResponseDTO
// @Failure 401 {string} string "unauthorized"
// @Failure 502 {object} dto.ErrorResponseDTO
// @Router /subscriptions/checkout [post]
func (h *SubscriptionHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req dto.CheckoutRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, h.logger, "invalid request payload")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeBadRequest(w, h.logger, "Validation failed: "+err.Error())
		return
	}

	planID, ok := model.ParsePlanID(req.PlanID)
	if !ok {
		writeError(w, h.logger, &service.ValidationError{Field: "plan_id", Message: "unknown plan " + req.PlanID})
		return
	}
	checkout, err := h.subSvc.StartUpgrade(r.Context(), userID, planID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, checkout)
}

// CancelCheckout godoc
// @Summary Abandon the checkout in progress
// @Tags subscriptions
// @Success 204
// @Failure 400 {object} dto.ErrorResponseDTO
// @Router /subscriptions/checkout [delete]
func (h *SubscriptionHandler) CancelCheckout(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err := h.subSvc.CancelUpgrade(r.Context(), userID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Capture godoc
// @Summary Confirm an approved order
// @Description Captures the pending order and activates the plan. Safe to repeat.
// @Tags subscriptions
// @Accept json
// @Produce json
// @Param capture body dto.CaptureRequestDTO true "Approved order"
// @Success 200 {object} service.CaptureOutcome
// @Failure 400 {object} dto.ErrorResponseDTO
// @Failure 429 {object} dto.ErrorResponseDTO
// @Failure 502 {object} dto.ErrorResponseDTO
// @Router /subscriptions/capture [post]
func (h *SubscriptionHandler) Capture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := middleware.UserIDFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req dto.CaptureRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, h.logger, "invalid request payload")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeBadRequest(w, h.logger, "Validation failed: "+err.Error())
		return
	}

	out, err := h.subSvc.ConfirmCapture(r.Context(), userID, req.OrderID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, out)
}

// GetSubscription godoc
// @Summary Current subscription
// @Tags subscriptions
// @Produce json
// @Success 200 {object} service.SubscriptionView
// @Failure 404 {object} dto.ErrorResponseDTO
// @Router /subscriptions/me [get]
func (h *SubscriptionHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := middleware.UserIDFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	view, err := h.subSvc.GetSubscriptionView(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, view)
}

// CheckEntitlement godoc
// @Summary May the user start quota-consuming work
// @Tags subscriptions
// @Produce json
// @Success 200 {object} service.Decision
// @Router /subscriptions/me/entitlement [get]
func (h *SubscriptionHandler) CheckEntitlement(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := middleware.UserIDFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	decision, err := h.entitlementSvc.CheckEntitlement(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, decision)
}

// RecordUsage godoc
// @Summary Count one unit of consumed work
// @Tags subscriptions
// @Success 204
// @Router /subscriptions/me/usage [post]
func (h *SubscriptionHandler) RecordUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := middleware.UserIDFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err := h.entitlementSvc.RecordUsage(r.Context(), userID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Audit godoc
// @Summary Compare the stored subscription with the provider's order
// @Tags subscriptions
// @Produce json
// @Success 200 {object} service.AuditReport
// @Router /subscriptions/me/audit [get]
func (h *SubscriptionHandler) Audit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := middleware.UserIDFrom(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	report, err := h.subSvc.Audit(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, report)
}
