package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"paywall/internal/archive"
	"paywall/internal/gateway"
	"paywall/internal/idempotency"
	"paywall/internal/metrics"
	"paywall/internal/model"
	"paywall/internal/pubsub"
	"paywall/internal/repository"

	"github.com/rs/zerolog"
)

// SubscriptionService moves a user's subscription between plans as checkout,
// capture, webhooks and expiry happen.
type SubscriptionService interface {
	ListPlans() []model.Plan
	StartUpgrade(ctx context.Context, userID string, planID model.PlanID) (*Checkout, error)
	ConfirmCapture(ctx context.Context, userID, orderID string) (*CaptureOutcome, error)
	CancelUpgrade(ctx context.Context, userID string) error
	GetSubscriptionView(ctx context.Context, userID string) (*SubscriptionView, error)
	HandleWebhook(ctx context.Context, headers http.Header, body []byte) (WebhookOutcome, error)
	Audit(ctx context.Context, userID string) (*AuditReport, error)
}

// Checkout is what the client needs to send the user to the provider.
type Checkout struct {
	OrderID      string       `json:"order_id"`
	ApprovalLink string       `json:"approval_link"`
	PlanID       model.PlanID `json:"plan_id"`
}

type CaptureOutcome struct {
	Status         model.PlanID `json:"status"`
	PlanID         model.PlanID `json:"plan_id"`
	EndDate        *time.Time   `json:"end_date,omitempty"`
	AlreadyApplied bool         `json:"already_applied"`
}

// SubscriptionView is the read model returned to the client.
type SubscriptionView struct {
	Status         model.PlanID  `json:"status"`
	PlanID         model.PlanID  `json:"plan_id"`
	StartDate      *time.Time    `json:"start_date,omitempty"`
	EndDate        *time.Time    `json:"end_date,omitempty"`
	IsActive       bool          `json:"is_active"`
	DaysRemaining  *int          `json:"days_remaining,omitempty"`
	UsageCount     int           `json:"usage_count"`
	UsageLimit     int           `json:"usage_limit"`
	PendingOrderID *string       `json:"pending_order_id,omitempty"`
	PendingPlanID  *model.PlanID `json:"pending_plan_id,omitempty"`
}

// AuditReport compares the stored record with what the provider says about
// the most relevant order.
type AuditReport struct {
	UserID         string       `json:"user_id"`
	Status         model.PlanID `json:"status"`
	OrderID        string       `json:"order_id,omitempty"`
	OrderRole      string       `json:"order_role,omitempty"`
	ProviderStatus string       `json:"provider_status,omitempty"`
	Amount         string       `json:"amount,omitempty"`
	Currency       string       `json:"currency,omitempty"`
	// NeedsAttention is set when a pending order is already completed at the provider.
	NeedsAttention bool `json:"needs_attention"`
}

// SubscriptionDeps are the collaborators of the subscription service. Users and
// Gateway are required; the rest fall back to no-ops.
type SubscriptionDeps struct {
	Users          repository.UserRepository
	Gateway        gateway.Gateway
	WebhookEvents  repository.WebhookEventRepository
	Dedupe         idempotency.Store
	Archiver       archive.Archiver
	Publisher      pubsub.Publisher
	EventTopic     string
	GatewayTimeout time.Duration
	Metrics        *metrics.Metrics
	Now            func() time.Time
}

type subscriptionService struct {
	*lifecycle
	gateway        gateway.Gateway
	webhookEvents  repository.WebhookEventRepository
	dedupe         idempotency.Store
	archiver       archive.Archiver
	gatewayTimeout time.Duration
}

// NewSubscriptionService creates a new SubscriptionService with a scoped logger.
func NewSubscriptionService(deps SubscriptionDeps, logger zerolog.Logger) SubscriptionService {
	scoped := logger.With().Str("service", "SubscriptionService").Logger()
	s := &subscriptionService{
		lifecycle:      newLifecycle(deps.Users, deps.Publisher, deps.EventTopic, deps.Metrics, deps.Now, scoped),
		gateway:        deps.Gateway,
		webhookEvents:  deps.WebhookEvents,
		dedupe:         deps.Dedupe,
		archiver:       deps.Archiver,
		gatewayTimeout: deps.GatewayTimeout,
	}
	if s.dedupe == nil {
		s.dedupe = idempotency.NoopStore{}
	}
	if s.archiver == nil {
		s.archiver = archive.NoopArchiver{}
	}
	if s.gatewayTimeout <= 0 {
		s.gatewayTimeout = 15 * time.Second
	}
	return s
}

func (s *subscriptionService) ListPlans() []model.Plan {
	return model.ListPlans()
}

// StartUpgrade opens a provider order for planID and remembers it as the pending
// payment. Starting again replaces an older pending order.
func (s *subscriptionService) StartUpgrade(ctx context.Context, userID string, planID model.PlanID) (*Checkout, error) {
	plan, ok := model.PlanFor(planID)
	if !ok || !plan.Paid() {
		return nil, &ValidationError{Field: "plan_id", Message: fmt.Sprintf("%q is not a purchasable plan", planID)}
	}

	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.expireIfStale(ctx, u); err != nil {
		return nil, err
	}

	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	order, err := s.gateway.CreateOrder(gctx, plan, u)
	s.recordGateway("create_order", err)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("plan_id", string(planID)).Msg("Failed to create provider order")
		return nil, err
	}

	pending := model.PendingPayment{OrderID: order.ID, PlanID: plan.ID, CreatedAt: s.now()}
	if err := s.users.SetPendingPayment(ctx, userID, pending); err != nil {
		// The provider order is orphaned; it expires unapproved on its own.
		s.logger.Error().Err(err).Str("user_id", userID).Str("order_id", order.ID).Msg("Failed to store pending payment")
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, userNotFoundf(userID)
		}
		return nil, err
	}

	s.logger.Info().Str("user_id", userID).Str("order_id", order.ID).Str("plan_id", string(plan.ID)).Msg("Checkout started")
	s.publish(ctx, SubscriptionEvent{
		Type:           EventCheckoutStarted,
		UserID:         userID,
		Status:         u.Subscription.Status,
		PreviousStatus: u.Subscription.Status,
		PlanID:         plan.ID,
		OrderID:        order.ID,
		Trigger:        "checkout",
		OccurredAt:     s.now(),
	})

	return &Checkout{OrderID: order.ID, ApprovalLink: order.ApprovalLink, PlanID: plan.ID}, nil
}

// ConfirmCapture captures the user's approved pending order and activates the
// plan recorded with it. Repeating it for an order already applied is a no-op.
func (s *subscriptionService) ConfirmCapture(ctx context.Context, userID, orderID string) (*CaptureOutcome, error) {
	if orderID == "" {
		return nil, &ValidationError{Field: "order_id", Message: "must not be empty"}
	}

	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	// An expired term must not be replayed as an already applied capture.
	if _, err := s.expireIfStale(ctx, u); err != nil {
		return nil, err
	}
	sub := u.Subscription

	if sub.AppliedOrder(orderID) && sub.ActiveAt(s.now()) && sub.IsPaid() {
		s.logger.Info().Str("user_id", userID).Str("order_id", orderID).Msg("Order already applied, capture skipped")
		return captureOutcome(sub, true), nil
	}
	if sub.Pending == nil {
		return nil, &StateConflictError{Reason: ConflictNoPendingPayment, Message: "no checkout is in progress"}
	}
	if !sub.HasPendingOrder(orderID) {
		return nil, &StateConflictError{Reason: ConflictOrderMismatch, Message: "order does not match the checkout in progress"}
	}

	plan, ok := model.PlanFor(sub.Pending.PlanID)
	if !ok || !plan.Paid() {
		return nil, &ValidationError{Field: "plan_id", Message: fmt.Sprintf("pending plan %q is not purchasable", sub.Pending.PlanID)}
	}

	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	result, err := s.gateway.CaptureOrder(gctx, orderID)
	s.recordGateway("capture_order", err)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("order_id", orderID).Msg("Failed to capture provider order")
		return nil, err
	}
	if result.Status != gateway.StatusCompleted {
		s.logger.Warn().Str("user_id", userID).Str("order_id", orderID).Str("provider_status", result.Status).Msg("Capture did not complete")
		return nil, &StateConflictError{Reason: ConflictPaymentNotCompleted, Message: fmt.Sprintf("payment status is %s", result.Status)}
	}

	next := sub.Activated(plan, orderID, result.PayerID, s.now())
	applied, err := s.users.ReplaceSubscription(ctx, userID, next, repository.ReplaceOptions{
		ResetUsage:           true,
		ExpectPendingOrderID: &orderID,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("order_id", orderID).Msg("Failed to activate subscription")
		return nil, err
	}
	if !applied {
		// A webhook for the same order may have won the race.
		fresh, err := s.loadUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		if fresh.Subscription.AppliedOrder(orderID) {
			return captureOutcome(fresh.Subscription, true), nil
		}
		return nil, &StateConflictError{Reason: ConflictOrderMismatch, Message: "checkout changed while capturing"}
	}

	s.logger.Info().Str("user_id", userID).Str("order_id", orderID).Str("plan_id", string(plan.ID)).Time("end_date", *next.EndDate).Msg("Subscription activated")
	s.recordTransition(ctx, userID, EventActivated, sub, next, orderID, "capture")
	return captureOutcome(next, false), nil
}

// CancelUpgrade drops the pending order when the user abandons checkout.
func (s *subscriptionService) CancelUpgrade(ctx context.Context, userID string) error {
	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if u.Subscription.Pending == nil {
		return &StateConflictError{Reason: ConflictNoPendingPayment, Message: "no checkout is in progress"}
	}
	orderID := u.Subscription.Pending.OrderID
	if err := s.users.ClearPendingPayment(ctx, userID); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to clear pending payment")
		if errors.Is(err, repository.ErrUserNotFound) {
			return userNotFoundf(userID)
		}
		return err
	}

	s.logger.Info().Str("user_id", userID).Str("order_id", orderID).Msg("Checkout cancelled")
	s.publish(ctx, SubscriptionEvent{
		Type:           EventCheckoutCancelled,
		UserID:         userID,
		Status:         u.Subscription.Status,
		PreviousStatus: u.Subscription.Status,
		PlanID:         u.Subscription.PlanID,
		OrderID:        orderID,
		Trigger:        "cancel",
		OccurredAt:     s.now(),
	})
	return nil
}

// GetSubscriptionView returns the record after lazy expiry.
func (s *subscriptionService) GetSubscriptionView(ctx context.Context, userID string) (*SubscriptionView, error) {
	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.expireIfStale(ctx, u); err != nil {
		return nil, err
	}
	return newSubscriptionView(u.Subscription, s.now()), nil
}

// Audit asks the provider about the pending order, or the last applied one, so
// operators can spot payments the webhook path missed.
func (s *subscriptionService) Audit(ctx context.Context, userID string) (*AuditReport, error) {
	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	sub := u.Subscription
	report := &AuditReport{UserID: userID, Status: sub.Status}

	switch {
	case sub.Pending != nil:
		report.OrderID, report.OrderRole = sub.Pending.OrderID, "pending"
	case sub.LastOrderID != nil:
		report.OrderID, report.OrderRole = *sub.LastOrderID, "last_applied"
	default:
		return report, nil
	}

	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	details, err := s.gateway.FetchOrder(gctx, report.OrderID)
	s.recordGateway("fetch_order", err)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("order_id", report.OrderID).Msg("Failed to fetch provider order")
		return nil, err
	}

	report.ProviderStatus = details.Status
	report.Amount = details.Amount
	report.Currency = details.Currency
	report.NeedsAttention = report.OrderRole == "pending" && details.Status == gateway.StatusCompleted
	return report, nil
}

func newSubscriptionView(sub model.Subscription, now time.Time) *SubscriptionView {
	view := &SubscriptionView{
		Status:        sub.Status,
		PlanID:        sub.PlanID,
		StartDate:     sub.StartDate,
		EndDate:       sub.EndDate,
		IsActive:      sub.ActiveAt(now),
		DaysRemaining: sub.DaysRemaining(now),
		UsageCount:    sub.UsageCount,
		UsageLimit:    sub.UsageLimit,
	}
	if sub.Pending != nil {
		orderID, planID := sub.Pending.OrderID, sub.Pending.PlanID
		view.PendingOrderID, view.PendingPlanID = &orderID, &planID
	}
	return view
}

func captureOutcome(sub model.Subscription, already bool) *CaptureOutcome {
	return &CaptureOutcome{Status: sub.Status, PlanID: sub.PlanID, EndDate: sub.EndDate, AlreadyApplied: already}
}

func newLifecycle(users repository.UserRepository, publisher pubsub.Publisher, topic string, m *metrics.Metrics, now func() time.Time, logger zerolog.Logger) *lifecycle {
	if now == nil {
		now = time.Now
	}
	return &lifecycle{
		users:      users,
		publisher:  publisher,
		eventTopic: topic,
		metrics:    m,
		now:        now,
		logger:     logger,
	}
}
