package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"paywall/internal/model"
	"paywall/internal/repository"
)

// WebhookOutcome is what the HTTP layer acknowledges to the provider.
type WebhookOutcome string

const (
	WebhookAccepted WebhookOutcome = "accepted"
	WebhookRejected WebhookOutcome = "rejected"
)

// EventKind groups provider event types by their effect on a subscription.
type EventKind int

const (
	EventKindIgnored EventKind = iota
	EventKindApproved
	EventKindCompleted
	EventKindReverted
)

// Provider event types handled by the webhook path.
const (
	EventTypeOrderApproved   = "CHECKOUT.ORDER.APPROVED"
	EventTypeOrderCompleted  = "CHECKOUT.ORDER.COMPLETED"
	EventTypeCaptureComplete = "PAYMENT.CAPTURE.COMPLETED"
	EventTypeCaptureDenied   = "PAYMENT.CAPTURE.DENIED"
	EventTypeCaptureRefunded = "PAYMENT.CAPTURE.REFUNDED"
	EventTypeCaptureReversed = "PAYMENT.CAPTURE.REVERSED"
)

// ClassifyEvent maps a provider event type to its kind. Unknown types are ignored.
func ClassifyEvent(eventType string) EventKind {
	switch eventType {
	case EventTypeOrderApproved:
		return EventKindApproved
	case EventTypeOrderCompleted, EventTypeCaptureComplete:
		return EventKindCompleted
	case EventTypeCaptureDenied, EventTypeCaptureRefunded, EventTypeCaptureReversed:
		return EventKindReverted
	default:
		return EventKindIgnored
	}
}

func (k EventKind) String() string {
	switch k {
	case EventKindApproved:
		return "approved"
	case EventKindCompleted:
		return "completed"
	case EventKindReverted:
		return "reverted"
	default:
		return "ignored"
	}
}

// Outcomes recorded in the audit table and metrics.
const (
	outcomeApplied      = "applied"
	outcomeIgnored      = "ignored"
	outcomeDuplicate    = "duplicate"
	outcomeUserNotFound = "user_not_found"
	outcomeRejected     = "rejected"
	outcomeFailed       = "failed"
	outcomeMalformed    = "malformed"
)

type webhookEnvelope struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	ResourceType string          `json:"resource_type"`
	Resource     webhookResource `json:"resource"`
}

// webhookResource covers both order and capture/refund resources; only the
// fields used to locate the user are decoded.
type webhookResource struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	CustomID      string `json:"custom_id"`
	PurchaseUnits []struct {
		ReferenceID string `json:"reference_id"`
		CustomID    string `json:"custom_id"`
	} `json:"purchase_units"`
	Payer struct {
		PayerID string `json:"payer_id"`
	} `json:"payer"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
}

// orderID is the checkout order the event refers to.
func (e *webhookEnvelope) orderID() string {
	if e.Resource.SupplementaryData.RelatedIDs.OrderID != "" {
		return e.Resource.SupplementaryData.RelatedIDs.OrderID
	}
	if e.ResourceType == "checkout-order" || len(e.Resource.PurchaseUnits) > 0 {
		return e.Resource.ID
	}
	return ""
}

// userRef is the user id we attached to the purchase unit at checkout.
func (e *webhookEnvelope) userRef() string {
	if e.Resource.CustomID != "" {
		return e.Resource.CustomID
	}
	for _, pu := range e.Resource.PurchaseUnits {
		if pu.CustomID != "" {
			return pu.CustomID
		}
		if pu.ReferenceID != "" && pu.ReferenceID != "default" {
			return pu.ReferenceID
		}
	}
	return ""
}

// HandleWebhook verifies and applies one provider notification. Nothing is
// mutated unless the signature verifies. A non-nil error other than a rejection
// asks the provider to redeliver.
func (s *subscriptionService) HandleWebhook(ctx context.Context, headers http.Header, body []byte) (WebhookOutcome, error) {
	receivedAt := s.now()

	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	verified := s.gateway.VerifyWebhook(gctx, headers, body)
	cancel()
	if !verified {
		s.logger.Warn().Int("body_bytes", len(body)).Msg("Webhook signature verification failed")
		s.metrics.WebhookEvent("unknown", outcomeRejected)
		return WebhookRejected, ErrVerificationFailure
	}

	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.ID == "" {
		// Redelivery would not fix a malformed body.
		s.logger.Warn().Err(err).Msg("Ignoring malformed webhook body")
		s.metrics.WebhookEvent("unknown", outcomeMalformed)
		return WebhookAccepted, nil
	}

	kind := ClassifyEvent(env.EventType)
	log := s.logger.With().Str("event_id", env.ID).Str("event_type", env.EventType).Logger()

	claimed, err := s.dedupe.Claim(ctx, env.ID)
	if err != nil {
		// Transitions are idempotent on their own; dedupe only saves work.
		log.Warn().Err(err).Msg("Webhook dedupe unavailable, processing anyway")
		claimed = true
	}
	if !claimed {
		log.Info().Msg("Duplicate webhook delivery skipped")
		s.metrics.WebhookEvent(kind.String(), outcomeDuplicate)
		return WebhookAccepted, nil
	}

	if err := s.archiver.Archive(ctx, env.ID, env.EventType, receivedAt, body); err != nil {
		log.Warn().Err(err).Msg("Failed to archive webhook body")
	}

	userID, outcome, err := s.applyWebhook(ctx, &env, kind)
	if err != nil {
		log.Error().Err(err).Msg("Failed to apply webhook")
		if relErr := s.dedupe.Release(ctx, env.ID); relErr != nil {
			log.Warn().Err(relErr).Msg("Failed to release webhook dedupe claim")
		}
		s.metrics.WebhookEvent(kind.String(), outcomeFailed)
		return WebhookAccepted, err
	}

	s.metrics.WebhookEvent(kind.String(), outcome)
	s.recordWebhookEvent(ctx, &env, userID, outcome, body, receivedAt)
	log.Info().Str("kind", kind.String()).Str("outcome", outcome).Str("user_id", userID).Msg("Webhook processed")
	return WebhookAccepted, nil
}

func (s *subscriptionService) applyWebhook(ctx context.Context, env *webhookEnvelope, kind EventKind) (string, string, error) {
	switch kind {
	case EventKindApproved:
		// Capture is driven by the client; approval alone changes nothing.
		return "", outcomeIgnored, nil
	case EventKindIgnored:
		return "", outcomeIgnored, nil
	}

	orderID := env.orderID()
	u, err := s.findWebhookUser(ctx, orderID, env.userRef())
	if err != nil {
		return "", "", err
	}
	if u == nil {
		s.logger.Warn().Str("event_id", env.ID).Str("order_id", orderID).Msg("No user found for webhook")
		return "", outcomeUserNotFound, nil
	}
	if _, err := s.expireIfStale(ctx, u); err != nil {
		return u.UserID, "", err
	}

	if kind == EventKindCompleted {
		outcome, err := s.applyCompleted(ctx, u, env, orderID)
		return u.UserID, outcome, err
	}
	outcome, err := s.applyReverted(ctx, u, env, orderID)
	return u.UserID, outcome, err
}

// findWebhookUser prefers the order binding and falls back to the user id we
// put in custom_id. Returns nil, nil when neither resolves.
func (s *subscriptionService) findWebhookUser(ctx context.Context, orderID, userRef string) (*model.User, error) {
	if orderID != "" {
		u, err := s.users.GetUserByOrderID(ctx, orderID)
		if err != nil || u != nil {
			return u, err
		}
	}
	if userRef != "" {
		return s.users.GetUserByID(ctx, userRef)
	}
	return nil, nil
}

func (s *subscriptionService) applyCompleted(ctx context.Context, u *model.User, env *webhookEnvelope, orderID string) (string, error) {
	sub := u.Subscription
	if orderID != "" && sub.AppliedOrder(orderID) {
		return outcomeIgnored, nil
	}
	matchesPending := orderID != "" && sub.HasPendingOrder(orderID)
	if sub.IsPaid() && !matchesPending {
		// Already active on a different order; nothing to renew.
		return outcomeIgnored, nil
	}

	plan, _ := model.PlanFor(model.PlanBasic)
	if sub.Pending != nil {
		if p, ok := model.PlanFor(sub.Pending.PlanID); ok && p.Paid() {
			plan = p
		}
	}

	ref := orderID
	if ref == "" {
		ref = env.Resource.ID
	}
	next := sub.Activated(plan, ref, env.Resource.Payer.PayerID, s.now())

	opts := repository.ReplaceOptions{ResetUsage: true}
	if matchesPending {
		opts.ExpectPendingOrderID = &orderID
	} else {
		opts.ExpectStatus = &sub.Status
	}
	applied, err := s.users.ReplaceSubscription(ctx, u.UserID, next, opts)
	if err != nil {
		return "", err
	}
	if !applied {
		// The capture path applied it first.
		return outcomeIgnored, nil
	}

	s.logger.Info().Str("user_id", u.UserID).Str("order_id", ref).Str("plan_id", string(plan.ID)).Msg("Subscription activated from webhook")
	s.recordTransition(ctx, u.UserID, EventActivated, sub, next, ref, "webhook")
	return outcomeApplied, nil
}

func (s *subscriptionService) applyReverted(ctx context.Context, u *model.User, env *webhookEnvelope, orderID string) (string, error) {
	sub := u.Subscription
	if !sub.IsPaid() && sub.Pending == nil {
		return outcomeIgnored, nil
	}

	next := sub.Downgraded()
	applied, err := s.users.ReplaceSubscription(ctx, u.UserID, next, repository.ReplaceOptions{
		ExpectStatus:  &sub.Status,
		ExpectEndDate: sub.EndDate,
	})
	if err != nil {
		return "", err
	}
	if !applied {
		return "", errConcurrentUpdate
	}

	s.logger.Info().Str("user_id", u.UserID).Str("order_id", orderID).Str("event_type", env.EventType).Str("previous_status", string(sub.Status)).Msg("Subscription reverted to free")
	s.recordTransition(ctx, u.UserID, EventReverted, sub, next, orderID, "webhook")
	return outcomeApplied, nil
}

func (s *subscriptionService) recordWebhookEvent(ctx context.Context, env *webhookEnvelope, userID, outcome string, body []byte, receivedAt time.Time) {
	if s.webhookEvents == nil {
		return
	}
	ev := &model.WebhookEvent{
		EventID:    env.ID,
		EventType:  env.EventType,
		Outcome:    outcome,
		Payload:    string(body),
		ReceivedAt: receivedAt,
	}
	if orderID := env.orderID(); orderID != "" {
		ev.OrderID = &orderID
	}
	if userID != "" {
		ev.UserID = &userID
	}
	if err := s.webhookEvents.Record(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn().Err(err).Str("event_id", env.ID).Msg("Failed to record webhook event")
	}
}
