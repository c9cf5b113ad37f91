package model

import (
	"strings"
	"time"
)

// PlanID identifies a subscription plan. The subscription status mirrors it.
type PlanID string

const (
	PlanFree    PlanID = "free"
	PlanBasic   PlanID = "basic"
	PlanPremium PlanID = "premium"
)

// Plan is a static catalog entry. It is the only source of prices, quotas and durations.
type Plan struct {
	ID              PlanID `json:"id"`
	Name            string `json:"name"`
	PriceMinorUnits int64  `json:"price_minor_units"`
	Currency        string `json:"currency"`
	UsageQuota      int    `json:"usage_quota"`
	// DurationDays is zero for plans that never expire.
	DurationDays int `json:"duration_days"`
}

// Duration returns how long one purchase of the plan lasts.
func (p Plan) Duration() time.Duration {
	return time.Duration(p.DurationDays) * 24 * time.Hour
}

// Paid reports whether the plan is bought through the payment gateway.
func (p Plan) Paid() bool {
	return p.PriceMinorUnits > 0
}

var catalog = []Plan{
	{ID: PlanFree, Name: "Free", PriceMinorUnits: 0, Currency: "USD", UsageQuota: 5, DurationDays: 0},
	{ID: PlanBasic, Name: "Basic", PriceMinorUnits: 999, Currency: "USD", UsageQuota: 50, DurationDays: 30},
	{ID: PlanPremium, Name: "Premium", PriceMinorUnits: 1999, Currency: "USD", UsageQuota: 200, DurationDays: 30},
}

// PlanFor looks up a plan by id.
func PlanFor(id PlanID) (Plan, bool) {
	for _, p := range catalog {
		if p.ID == id {
			return p, true
		}
	}
	return Plan{}, false
}

// ParsePlanID normalizes caller input and reports whether it names a catalog plan.
func ParsePlanID(s string) (PlanID, bool) {
	id := PlanID(strings.ToLower(strings.TrimSpace(s)))
	_, ok := PlanFor(id)
	return id, ok
}

// ListPlans returns every plan, cheapest first.
func ListPlans() []Plan {
	out := make([]Plan, len(catalog))
	copy(out, catalog)
	return out
}

// FreePlan returns the plan every account falls back to.
func FreePlan() Plan {
	p, _ := PlanFor(PlanFree)
	return p
}
