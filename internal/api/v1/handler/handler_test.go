package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"paywall/internal/api/v1/dto"
	"paywall/internal/gateway"
	"paywall/internal/middleware"
	"paywall/internal/model"
	"paywall/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSubscriptionService struct {
	checkout   *service.Checkout
	capture    *service.CaptureOutcome
	view       *service.SubscriptionView
	outcome    service.WebhookOutcome
	err        error
	gotPlan    model.PlanID
	gotOrderID string
	gotBody    string
}

func (s *stubSubscriptionService) ListPlans() []model.Plan { return model.ListPlans() }

func (s *stubSubscriptionService) StartUpgrade(_ context.Context, _ string, planID model.PlanID) (*service.Checkout, error) {
	s.gotPlan = planID
	return s.checkout, s.err
}

func (s *stubSubscriptionService) ConfirmCapture(_ context.Context, _ string, orderID string) (*service.CaptureOutcome, error) {
	s.gotOrderID = orderID
	return s.capture, s.err
}

func (s *stubSubscriptionService) CancelUpgrade(context.Context, string) error { return s.err }

func (s *stubSubscriptionService) GetSubscriptionView(context.Context, string) (*service.SubscriptionView, error) {
	return s.view, s.err
}

func (s *stubSubscriptionService) HandleWebhook(_ context.Context, _ http.Header, body []byte) (service.WebhookOutcome, error) {
	s.gotBody = string(body)
	return s.outcome, s.err
}

func (s *stubSubscriptionService) Audit(_ context.Context, userID string) (*service.AuditReport, error) {
	return &service.AuditReport{UserID: userID}, s.err
}

type stubEntitlementService struct {
	decision *service.Decision
	recorded int
}

func (s *stubEntitlementService) CheckEntitlement(context.Context, string) (*service.Decision, error) {
	return s.decision, nil
}

func (s *stubEntitlementService) RecordUsage(context.Context, string) error {
	s.recorded++
	return nil
}

// asUser stands in for the JWT middleware.
func asUser(userID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), middleware.UserContextKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newTestMux(sub *stubSubscriptionService, ent *stubEntitlementService) *http.ServeMux {
	mux := http.NewServeMux()
	NewSubscriptionHandler(sub, ent, validator.New(), zerolog.Nop()).RegisterRoutes(mux, asUser("u1"))
	NewWebhookHandler(sub, zerolog.Nop()).RegisterRoutes(mux)
	return mux
}

func do(mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) dto.ErrorResponseDTO {
	t.Helper()
	var resp dto.ErrorResponseDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
		reason string
	}{
		{&service.ValidationError{Field: "plan_id", Message: "bad"}, http.StatusBadRequest, "validation_error"},
		{&service.StateConflictError{Reason: service.ConflictOrderMismatch}, http.StatusBadRequest, "order_mismatch"},
		{fmt.Errorf("wrapped: %w", &service.StateConflictError{Reason: service.ConflictPaymentNotCompleted}), http.StatusBadRequest, "payment_not_completed"},
		{&gateway.GatewayError{Op: "capture_order", Cause: gateway.CauseRateLimited}, http.StatusTooManyRequests, "rate_limited"},
		{&gateway.GatewayError{Op: "capture_order", Cause: gateway.CauseProviderUnavailable}, http.StatusBadGateway, "provider_unavailable"},
		{service.ErrVerificationFailure, http.StatusUnauthorized, "verification_failed"},
		{fmt.Errorf("x: %w", service.ErrUserNotFound), http.StatusNotFound, "user_not_found"},
		{errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		status, reason := statusFor(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.reason, reason, tc.err.Error())
	}
}

func TestListPlans(t *testing.T) {
	mux := newTestMux(&stubSubscriptionService{}, &stubEntitlementService{})
	rec := do(mux, http.MethodGet, "/plans", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var plans []dto.PlanResponseDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&plans))
	require.Len(t, plans, 3)
	assert.Equal(t, "basic", plans[1].ID)
	assert.Equal(t, 50, plans[1].UsageQuota)
	assert.Equal(t, int64(999), plans[1].Price)
}

func TestCheckout(t *testing.T) {
	sub := &stubSubscriptionService{checkout: &service.Checkout{OrderID: "O-1", ApprovalLink: "https://approve", PlanID: model.PlanBasic}}
	mux := newTestMux(sub, &stubEntitlementService{})

	rec := do(mux, http.MethodPost, "/subscriptions/checkout", `{"plan_id":"basic"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.PlanBasic, sub.gotPlan)
	var got service.Checkout
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "https://approve", got.ApprovalLink)

	rec = do(mux, http.MethodPost, "/subscriptions/checkout", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(mux, http.MethodPost, "/subscriptions/checkout", `{"plan_id":"gold"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeError(t, rec).Reason)

	rec = do(mux, http.MethodPost, "/subscriptions/checkout", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(mux, http.MethodGet, "/subscriptions/checkout", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCheckoutGatewayFailure(t *testing.T) {
	sub := &stubSubscriptionService{err: &gateway.GatewayError{Op: "create_order", Cause: gateway.CauseAuth, Err: errors.New("secret leaked in message")}}
	rec := do(newTestMux(sub, &stubEntitlementService{}), http.MethodPost, "/subscriptions/checkout", `{"plan_id":"premium"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decodeError(t, rec)
	assert.NotContains(t, resp.Error, "secret")
}

func TestCancelCheckout(t *testing.T) {
	sub := &stubSubscriptionService{}
	mux := newTestMux(sub, &stubEntitlementService{})
	assert.Equal(t, http.StatusNoContent, do(mux, http.MethodDelete, "/subscriptions/checkout", "").Code)

	sub.err = &service.StateConflictError{Reason: service.ConflictNoPendingPayment}
	rec := do(mux, http.MethodDelete, "/subscriptions/checkout", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "no_pending_payment", decodeError(t, rec).Reason)
}

func TestCapture(t *testing.T) {
	sub := &stubSubscriptionService{capture: &service.CaptureOutcome{Status: model.PlanPremium, PlanID: model.PlanPremium}}
	mux := newTestMux(sub, &stubEntitlementService{})

	rec := do(mux, http.MethodPost, "/subscriptions/capture", `{"order_id":"O-9"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "O-9", sub.gotOrderID)

	rec = do(mux, http.MethodPost, "/subscriptions/capture", `{"order_id":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	sub.err = &service.StateConflictError{Reason: service.ConflictOrderMismatch, Message: "order does not match"}
	rec = do(mux, http.MethodPost, "/subscriptions/capture", `{"order_id":"O-9"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "order_mismatch", decodeError(t, rec).Reason)
}

func TestGetSubscriptionNotFound(t *testing.T) {
	sub := &stubSubscriptionService{err: service.ErrUserNotFound}
	rec := do(newTestMux(sub, &stubEntitlementService{}), http.MethodGet, "/subscriptions/me", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEntitlementAndUsage(t *testing.T) {
	ent := &stubEntitlementService{decision: &service.Decision{Allowed: false, Reason: service.ReasonQuotaExceeded, UsageCount: 5, UsageLimit: 5}}
	mux := newTestMux(&stubSubscriptionService{}, ent)

	rec := do(mux, http.MethodGet, "/subscriptions/me/entitlement", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var d service.Decision
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&d))
	assert.False(t, d.Allowed)
	assert.Equal(t, service.ReasonQuotaExceeded, d.Reason)

	assert.Equal(t, http.StatusNoContent, do(mux, http.MethodPost, "/subscriptions/me/usage", "").Code)
	assert.Equal(t, 1, ent.recorded)
}

func TestWebhook(t *testing.T) {
	sub := &stubSubscriptionService{outcome: service.WebhookAccepted}
	mux := newTestMux(sub, &stubEntitlementService{})

	rec := do(mux, http.MethodPost, "/webhooks/paypal", `{"id":"WH-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"id":"WH-1"}`, sub.gotBody)

	sub.outcome, sub.err = service.WebhookRejected, service.ErrVerificationFailure
	assert.Equal(t, http.StatusUnauthorized, do(mux, http.MethodPost, "/webhooks/paypal", `{}`).Code)

	sub.outcome, sub.err = service.WebhookAccepted, errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, do(mux, http.MethodPost, "/webhooks/paypal", `{}`).Code)

	assert.Equal(t, http.StatusMethodNotAllowed, do(mux, http.MethodGet, "/webhooks/paypal", "").Code)
}
