package model

import (
	"math"
	"time"
)

// PendingPayment exists only between order creation and its resolution.
type PendingPayment struct {
	OrderID   string    `json:"order_id"`
	PlanID    PlanID    `json:"plan_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Subscription is the per-user entitlement record. Transitions build a whole new
// value and the store replaces it in one statement; UsageCount is the only field
// that is mutated on its own (by atomic increments).
type Subscription struct {
	Status      PlanID          `json:"status"`
	PlanID      PlanID          `json:"plan_id"`
	CustomerID  *string         `json:"customer_id,omitempty"`
	StartDate   *time.Time      `json:"start_date,omitempty"`
	EndDate     *time.Time      `json:"end_date,omitempty"`
	IsActive    bool            `json:"is_active"`
	LastOrderID *string         `json:"last_order_id,omitempty"`
	Pending     *PendingPayment `json:"pending,omitempty"`
	UsageCount  int             `json:"usage_count"`
	UsageLimit  int             `json:"usage_limit"`
}

// NewFreeSubscription is the record created with every account.
func NewFreeSubscription() Subscription {
	free := FreePlan()
	return Subscription{
		Status:     free.ID,
		PlanID:     free.ID,
		IsActive:   true,
		UsageLimit: free.UsageQuota,
	}
}

// IsPaid reports whether the record is on a paid plan.
func (s Subscription) IsPaid() bool {
	return s.Status != PlanFree
}

// ActiveAt derives the active flag. Free never expires.
func (s Subscription) ActiveAt(now time.Time) bool {
	if !s.IsPaid() {
		return true
	}
	return s.EndDate == nil || s.EndDate.After(now)
}

// IsStale reports whether a paid record has passed its end date and must be
// downgraded before it is used.
func (s Subscription) IsStale(now time.Time) bool {
	return s.IsPaid() && s.EndDate != nil && s.EndDate.Before(now)
}

// DaysRemaining rounds up to whole days. Non-expiring records report nil.
func (s Subscription) DaysRemaining(now time.Time) *int {
	if s.EndDate == nil {
		return nil
	}
	left := s.EndDate.Sub(now)
	days := 0
	if left > 0 {
		days = int(math.Ceil(left.Hours() / 24))
	}
	return &days
}

// HasPendingOrder reports whether orderID is the order currently awaiting payment.
func (s Subscription) HasPendingOrder(orderID string) bool {
	return s.Pending != nil && s.Pending.OrderID == orderID
}

// AppliedOrder reports whether orderID already produced the current paid state.
func (s Subscription) AppliedOrder(orderID string) bool {
	return s.LastOrderID != nil && *s.LastOrderID == orderID
}

// Activated returns the record after a completed payment for plan.
// The usage counter restarts at zero.
func (s Subscription) Activated(plan Plan, orderID string, customerID string, now time.Time) Subscription {
	start := now
	end := now.Add(plan.Duration())
	next := Subscription{
		Status:      plan.ID,
		PlanID:      plan.ID,
		CustomerID:  s.CustomerID,
		StartDate:   &start,
		EndDate:     &end,
		IsActive:    true,
		LastOrderID: &orderID,
		UsageCount:  0,
		UsageLimit:  plan.UsageQuota,
	}
	if customerID != "" {
		next.CustomerID = &customerID
	}
	return next
}

// Downgraded returns the free record. The customer id and last order are kept
// for history and the usage counter is left untouched.
func (s Subscription) Downgraded() Subscription {
	free := FreePlan()
	return Subscription{
		Status:      free.ID,
		PlanID:      free.ID,
		CustomerID:  s.CustomerID,
		IsActive:    true,
		LastOrderID: s.LastOrderID,
		UsageCount:  s.UsageCount,
		UsageLimit:  free.UsageQuota,
	}
}
