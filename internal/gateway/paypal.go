package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"paywall/internal/model"

	"github.com/plutov/paypal/v4"
	"github.com/rs/zerolog"
)

// PayPalOptions configures the PayPal Orders v2 gateway.
type PayPalOptions struct {
	ClientID string
	Secret   string
	Live     bool
	// APIBase overrides the sandbox/live base URL.
	APIBase   string
	WebhookID string
	ReturnURL string
	CancelURL string
	BrandName string
	Timeout   time.Duration
}

type paypalGateway struct {
	client *paypal.Client
	opts   PayPalOptions
	logger zerolog.Logger
}

// NewPayPalGateway builds a gateway backed by the PayPal REST API.
func NewPayPalGateway(opts PayPalOptions, logger zerolog.Logger) (Gateway, error) {
	base := opts.APIBase
	if base == "" {
		base = paypal.APIBaseSandBox
		if opts.Live {
			base = paypal.APIBaseLive
		}
	}
	client, err := paypal.NewClient(opts.ClientID, opts.Secret, base)
	if err != nil {
		return nil, fmt.Errorf("create paypal client: %w", err)
	}
	if opts.Timeout > 0 {
		client.SetHTTPClient(&http.Client{Timeout: opts.Timeout})
	}
	return &paypalGateway{
		client: client,
		opts:   opts,
		logger: logger.With().Str("service", "PayPalGateway").Logger(),
	}, nil
}

func (g *paypalGateway) CreateOrder(ctx context.Context, plan model.Plan, user *model.User) (*Order, error) {
	if err := validatePlan("create_order", plan); err != nil {
		return nil, err
	}
	units := []paypal.PurchaseUnitRequest{{
		ReferenceID: user.UserID,
		CustomID:    user.UserID,
		Description: fmt.Sprintf("%s plan (%d days)", plan.Name, plan.DurationDays),
		Amount: &paypal.PurchaseUnitAmount{
			Currency: plan.Currency,
			Value:    formatMinorUnits(plan.PriceMinorUnits),
		},
	}}
	appCtx := &paypal.ApplicationContext{
		BrandName: g.opts.BrandName,
		ReturnURL: g.opts.ReturnURL,
		CancelURL: g.opts.CancelURL,
	}
	order, err := g.client.CreateOrder(ctx, paypal.OrderIntentCapture, units, nil, appCtx)
	if err != nil {
		g.logger.Error().Err(err).Str("user_id", user.UserID).Str("plan_id", string(plan.ID)).Msg("Failed to create PayPal order")
		return nil, classify("create_order", err)
	}

	var approval string
	for _, link := range order.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			approval = link.Href
			break
		}
	}
	if approval == "" {
		g.logger.Warn().Str("order_id", order.ID).Msg("PayPal order has no approval link")
	}
	return &Order{ID: order.ID, Status: order.Status, ApprovalLink: approval}, nil
}

func (g *paypalGateway) CaptureOrder(ctx context.Context, orderID string) (*CaptureResult, error) {
	resp, err := g.client.CaptureOrder(ctx, orderID, paypal.CaptureOrderRequest{})
	if err != nil {
		g.logger.Error().Err(err).Str("order_id", orderID).Msg("Failed to capture PayPal order")
		return nil, classify("capture_order", err)
	}
	result := &CaptureResult{Status: resp.Status}
	if resp.Payer != nil {
		result.PayerID = resp.Payer.PayerID
	}
	if len(resp.PurchaseUnits) > 0 {
		unit := resp.PurchaseUnits[0]
		result.ReferenceID = unit.ReferenceID
		if unit.Payments != nil && len(unit.Payments.Captures) > 0 {
			result.CaptureID = unit.Payments.Captures[0].ID
		}
	}
	return result, nil
}

func (g *paypalGateway) FetchOrder(ctx context.Context, orderID string) (*OrderDetails, error) {
	order, err := g.client.GetOrder(ctx, orderID)
	if err != nil {
		g.logger.Error().Err(err).Str("order_id", orderID).Msg("Failed to fetch PayPal order")
		return nil, classify("fetch_order", err)
	}
	details := &OrderDetails{ID: order.ID, Status: order.Status}
	if len(order.PurchaseUnits) > 0 {
		unit := order.PurchaseUnits[0]
		details.ReferenceID = unit.ReferenceID
		if unit.Amount != nil {
			details.Amount = unit.Amount.Value
			details.Currency = unit.Amount.Currency
		}
	}
	return details, nil
}

func (g *paypalGateway) VerifyWebhook(ctx context.Context, headers http.Header, body []byte) bool {
	if g.opts.WebhookID == "" {
		g.logger.Error().Msg("PAYPAL_WEBHOOK_ID is not configured, rejecting webhook")
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/", bytes.NewReader(body))
	if err != nil {
		g.logger.Error().Err(err).Msg("Failed to build webhook verification request")
		return false
	}
	req.Header = headers.Clone()

	resp, err := g.client.VerifyWebhookSignature(ctx, req, g.opts.WebhookID)
	if err != nil {
		g.logger.Warn().Err(err).Msg("PayPal webhook signature verification call failed")
		return false
	}
	if !strings.EqualFold(resp.VerificationStatus, "SUCCESS") {
		g.logger.Warn().Str("verification_status", resp.VerificationStatus).Msg("PayPal webhook signature rejected")
		return false
	}
	return true
}

// classify turns a PayPal client error into a GatewayError.
func classify(op string, err error) error {
	var apiErr *paypal.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		return &GatewayError{Op: op, Cause: causeForStatus(apiErr.Response.StatusCode), StatusCode: apiErr.Response.StatusCode, Err: err}
	}
	// Transport errors and context deadlines.
	return &GatewayError{Op: op, Cause: CauseProviderUnavailable, Err: err}
}

func formatMinorUnits(v int64) string {
	return fmt.Sprintf("%d.%02d", v/100, v%100)
}
