// Package gateway talks to the payment provider. Callers pick an implementation
// once, from configuration, and only ever see the Gateway interface.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"paywall/internal/config"
	"paywall/internal/model"

	"github.com/rs/zerolog"
)

// Provider order statuses the reconciler cares about.
const (
	StatusCreated   = "CREATED"
	StatusApproved  = "APPROVED"
	StatusCompleted = "COMPLETED"
)

// Gateway creates, captures and fetches provider orders and authenticates webhooks.
type Gateway interface {
	CreateOrder(ctx context.Context, plan model.Plan, user *model.User) (*Order, error)
	CaptureOrder(ctx context.Context, orderID string) (*CaptureResult, error)
	FetchOrder(ctx context.Context, orderID string) (*OrderDetails, error)
	// VerifyWebhook never returns an error; anything other than a positive
	// verification is false.
	VerifyWebhook(ctx context.Context, headers http.Header, body []byte) bool
}

type Order struct {
	ID           string
	Status       string
	ApprovalLink string
}

type CaptureResult struct {
	Status      string
	PayerID     string
	ReferenceID string
	CaptureID   string
}

type OrderDetails struct {
	ID          string
	Status      string
	ReferenceID string
	Amount      string
	Currency    string
}

// Cause is the coarse reason a provider call failed.
type Cause string

const (
	CauseInvalidRequest      Cause = "invalid_request"
	CauseAuth                Cause = "auth"
	CauseRateLimited         Cause = "rate_limited"
	CauseProviderUnavailable Cause = "provider_unavailable"
)

// GatewayError wraps every failure returned by a Gateway.
type GatewayError struct {
	Op         string
	Cause      Cause
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s: %s (status %d): %v", e.Op, e.Cause, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway %s: %s: %v", e.Op, e.Cause, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// ErrUnknownPlan is returned before any provider call for plans that cannot be bought.
var ErrUnknownPlan = errors.New("plan cannot be purchased")

// IsRateLimited reports whether err is a rate-limited gateway error.
func IsRateLimited(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr) && gwErr.Cause == CauseRateLimited
}

// causeForStatus maps a provider HTTP status to a Cause.
func causeForStatus(status int) Cause {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CauseAuth
	case status == http.StatusTooManyRequests:
		return CauseRateLimited
	case status >= 500 || status == 0:
		return CauseProviderUnavailable
	default:
		return CauseInvalidRequest
	}
}

// validatePlan rejects plans that are not in the catalog or are free.
func validatePlan(op string, plan model.Plan) error {
	known, ok := model.PlanFor(plan.ID)
	if !ok || !known.Paid() {
		return &GatewayError{Op: op, Cause: CauseInvalidRequest, Err: fmt.Errorf("%w: %q", ErrUnknownPlan, plan.ID)}
	}
	return nil
}

// New selects the gateway implementation from configuration. clientSecret is
// passed separately because it may come from Secret Manager. Provider modes
// fail instead of falling back to the mock when the secret is missing.
func New(cfg *config.Config, clientSecret string, logger zerolog.Logger) (Gateway, error) {
	if cfg.UseMockGateway() {
		if cfg.PaymentMockWebhookSecret == "" {
			logger.Warn().Msg("PAYMENT_MOCK_WEBHOOK_SECRET is not set, every webhook will be rejected")
		}
		logger.Warn().Str("payment_mode", cfg.PaymentMode).Msg("Using mock payment gateway, no provider calls will be made")
		return NewMockGateway(cfg.PaymentReturnURL, cfg.PaymentMockWebhookSecret), nil
	}
	if cfg.PayPalClientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("payment mode %s needs PayPal client credentials", cfg.PaymentMode)
	}
	return NewPayPalGateway(PayPalOptions{
		ClientID:  cfg.PayPalClientID,
		Secret:    clientSecret,
		Live:      cfg.PaymentMode == config.PaymentModeLive,
		WebhookID: cfg.PayPalWebhookID,
		ReturnURL: cfg.PaymentReturnURL,
		CancelURL: cfg.PaymentCancelURL,
		BrandName: cfg.PaymentBrandName,
		Timeout:   cfg.GatewayTimeout(),
	}, logger)
}
