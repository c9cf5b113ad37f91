package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"paywall/internal/gateway"
	"paywall/internal/metrics"
	"paywall/internal/model"
	"paywall/internal/pubsub"
	"paywall/internal/repository"

	"github.com/rs/zerolog"
)

// Subscription event types published after a persisted change.
const (
	EventCheckoutStarted   = "subscription.checkout_started"
	EventCheckoutCancelled = "subscription.checkout_cancelled"
	EventActivated         = "subscription.activated"
	EventReverted          = "subscription.reverted"
	EventExpired           = "subscription.expired"
)

// SubscriptionEvent is the Pub/Sub payload describing a subscription change.
type SubscriptionEvent struct {
	Type           string       `json:"type"`
	UserID         string       `json:"user_id"`
	Status         model.PlanID `json:"status"`
	PreviousStatus model.PlanID `json:"previous_status"`
	PlanID         model.PlanID `json:"plan_id"`
	OrderID        string       `json:"order_id,omitempty"`
	Trigger        string       `json:"trigger"`
	EndDate        *time.Time   `json:"end_date,omitempty"`
	OccurredAt     time.Time    `json:"occurred_at"`
}

// lifecycle holds what both the reconciler and the entitlement guard need:
// the store, the clock, lazy expiry and change notifications.
type lifecycle struct {
	users      repository.UserRepository
	publisher  pubsub.Publisher
	eventTopic string
	metrics    *metrics.Metrics
	now        func() time.Time
	logger     zerolog.Logger
}

func (l *lifecycle) loadUser(ctx context.Context, userID string) (*model.User, error) {
	u, err := l.users.GetUserByID(ctx, userID)
	if err != nil {
		l.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch user")
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// expireIfStale downgrades a paid record whose end date has passed and persists
// it. It reports whether this call performed the downgrade. u is updated in place.
func (l *lifecycle) expireIfStale(ctx context.Context, u *model.User) (bool, error) {
	sub := u.Subscription
	if !sub.IsStale(l.now()) {
		return false, nil
	}

	next := sub.Downgraded()
	next.Pending = sub.Pending
	applied, err := l.users.ReplaceSubscription(ctx, u.UserID, next, repository.ReplaceOptions{
		ExpectStatus:  &sub.Status,
		ExpectEndDate: sub.EndDate,
	})
	if err != nil {
		l.logger.Error().Err(err).Str("user_id", u.UserID).Msg("Failed to persist expiry downgrade")
		return false, err
	}
	if !applied {
		// Someone renewed or downgraded first; use their result.
		fresh, err := l.loadUser(ctx, u.UserID)
		if err != nil {
			return false, err
		}
		*u = *fresh
		return false, nil
	}

	u.Subscription = next
	l.logger.Info().Str("user_id", u.UserID).Str("previous_status", string(sub.Status)).Time("end_date", *sub.EndDate).Msg("Subscription expired, downgraded to free")
	l.recordTransition(ctx, u.UserID, EventExpired, sub, next, "", "expiry")
	return true, nil
}

// recordTransition updates metrics and publishes the change. Publishing is best
// effort; the state is already persisted.
func (l *lifecycle) recordTransition(ctx context.Context, userID, eventType string, prev, next model.Subscription, orderID, trigger string) {
	if prev.Status != next.Status {
		l.metrics.Transition(string(prev.Status), string(next.Status), trigger)
	}
	l.publish(ctx, SubscriptionEvent{
		Type:           eventType,
		UserID:         userID,
		Status:         next.Status,
		PreviousStatus: prev.Status,
		PlanID:         next.PlanID,
		OrderID:        orderID,
		Trigger:        trigger,
		EndDate:        next.EndDate,
		OccurredAt:     l.now(),
	})
}

func (l *lifecycle) publish(ctx context.Context, ev SubscriptionEvent) {
	if l.publisher == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		l.logger.Error().Err(err).Str("event_type", ev.Type).Msg("Failed to marshal subscription event")
		return
	}
	attrs := map[string]string{"event_type": ev.Type, "user_id": ev.UserID}
	if _, err := l.publisher.Publish(ctx, l.eventTopic, payload, attrs); err != nil {
		l.logger.Warn().Err(err).Str("event_type", ev.Type).Str("user_id", ev.UserID).Msg("Failed to publish subscription event")
	}
}

// recordGateway counts a provider call by its outcome.
func (l *lifecycle) recordGateway(op string, err error) {
	if err == nil {
		l.metrics.GatewayRequest(op, "ok")
		return
	}
	var gwErr *gateway.GatewayError
	if errors.As(err, &gwErr) {
		l.metrics.GatewayRequest(op, string(gwErr.Cause))
		return
	}
	l.metrics.GatewayRequest(op, "error")
}

func userNotFoundf(userID string) error {
	return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
}
