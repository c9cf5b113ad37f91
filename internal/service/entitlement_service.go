package service

import (
	"context"
	"errors"
	"time"

	"paywall/internal/metrics"
	"paywall/internal/pubsub"
	"paywall/internal/repository"

	"github.com/rs/zerolog"
)

// DenyReason explains a refused entitlement check.
type DenyReason string

const (
	ReasonSubscriptionExpired DenyReason = "subscription_expired"
	ReasonQuotaExceeded       DenyReason = "quota_exceeded"
)

// Decision is the result of an entitlement check.
type Decision struct {
	Allowed    bool       `json:"allowed"`
	Reason     DenyReason `json:"reason,omitempty"`
	UsageCount int        `json:"usage_count"`
	UsageLimit int        `json:"usage_limit"`
}

// EntitlementService gates quota-consuming work.
type EntitlementService interface {
	CheckEntitlement(ctx context.Context, userID string) (*Decision, error)
	// RecordUsage counts one unit of consumed work. Call it after the work succeeds.
	RecordUsage(ctx context.Context, userID string) error
}

type EntitlementDeps struct {
	Users     repository.UserRepository
	Publisher pubsub.Publisher
	// EventTopic receives the expiry event when a check downgrades a record.
	EventTopic string
	// EnforcePaidQuota also applies the usage limit to paid plans.
	EnforcePaidQuota bool
	Metrics          *metrics.Metrics
	Now              func() time.Time
}

type entitlementService struct {
	*lifecycle
	enforcePaidQuota bool
}

func NewEntitlementService(deps EntitlementDeps, logger zerolog.Logger) EntitlementService {
	scoped := logger.With().Str("service", "EntitlementService").Logger()
	return &entitlementService{
		lifecycle:        newLifecycle(deps.Users, deps.Publisher, deps.EventTopic, deps.Metrics, deps.Now, scoped),
		enforcePaidQuota: deps.EnforcePaidQuota,
	}
}

// CheckEntitlement applies lazy expiry and then the quota rules. A record that
// expires during this check is refused once so the client can explain why.
func (s *entitlementService) CheckEntitlement(ctx context.Context, userID string) (*Decision, error) {
	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	expired, err := s.expireIfStale(ctx, u)
	if err != nil {
		return nil, err
	}

	sub := u.Subscription
	d := &Decision{Allowed: true, UsageCount: sub.UsageCount, UsageLimit: sub.UsageLimit}
	switch {
	case expired:
		d.Allowed, d.Reason = false, ReasonSubscriptionExpired
	case (!sub.IsPaid() || s.enforcePaidQuota) && sub.UsageCount >= sub.UsageLimit:
		d.Allowed, d.Reason = false, ReasonQuotaExceeded
	}

	decision := "allowed"
	if !d.Allowed {
		decision = string(d.Reason)
		s.logger.Info().Str("user_id", userID).Str("reason", decision).Int("usage_count", sub.UsageCount).Int("usage_limit", sub.UsageLimit).Msg("Entitlement denied")
	}
	s.metrics.EntitlementDecision(decision)
	return d, nil
}

func (s *entitlementService) RecordUsage(ctx context.Context, userID string) error {
	if err := s.users.IncrementUsage(ctx, userID); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to record usage")
		if errors.Is(err, repository.ErrUserNotFound) {
			return userNotFoundf(userID)
		}
		return err
	}
	return nil
}
