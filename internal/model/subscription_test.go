package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanFor(t *testing.T) {
	basic, ok := PlanFor(PlanBasic)
	require.True(t, ok)
	assert.Equal(t, 50, basic.UsageQuota)
	assert.Equal(t, 30*24*time.Hour, basic.Duration())
	assert.True(t, basic.Paid())

	free, ok := PlanFor(PlanFree)
	require.True(t, ok)
	assert.False(t, free.Paid())
	assert.Equal(t, 5, free.UsageQuota)

	_, ok = PlanFor("enterprise")
	assert.False(t, ok)
}

func TestParsePlanID(t *testing.T) {
	id, ok := ParsePlanID(" Premium ")
	assert.True(t, ok)
	assert.Equal(t, PlanPremium, id)

	_, ok = ParsePlanID("gold")
	assert.False(t, ok)
}

func TestListPlansReturnsCopy(t *testing.T) {
	plans := ListPlans()
	require.Len(t, plans, 3)
	assert.Equal(t, []PlanID{PlanFree, PlanBasic, PlanPremium}, []PlanID{plans[0].ID, plans[1].ID, plans[2].ID})

	plans[0].UsageQuota = 1000
	assert.Equal(t, 5, FreePlan().UsageQuota)
}

func TestNewFreeSubscription(t *testing.T) {
	s := NewFreeSubscription()
	assert.Equal(t, PlanFree, s.Status)
	assert.Nil(t, s.EndDate)
	assert.True(t, s.IsActive)
	assert.Equal(t, 5, s.UsageLimit)
	assert.False(t, s.IsStale(time.Now()))
	assert.Nil(t, s.DaysRemaining(time.Now()))
}

func TestActivatedAndDowngraded(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	premium, _ := PlanFor(PlanPremium)

	s := NewFreeSubscription()
	s.UsageCount = 4
	s.Pending = &PendingPayment{OrderID: "O1", PlanID: PlanPremium}

	active := s.Activated(premium, "O1", "PAYER1", now)
	assert.Equal(t, PlanPremium, active.Status)
	assert.Equal(t, 0, active.UsageCount)
	assert.Equal(t, 200, active.UsageLimit)
	assert.Nil(t, active.Pending)
	assert.Equal(t, now.Add(30*24*time.Hour), *active.EndDate)
	assert.True(t, active.AppliedOrder("O1"))
	assert.Equal(t, "PAYER1", *active.CustomerID)
	assert.True(t, active.ActiveAt(now))

	later := now.Add(31 * 24 * time.Hour)
	assert.True(t, active.IsStale(later))
	assert.False(t, active.ActiveAt(later))

	active.UsageCount = 12
	free := active.Downgraded()
	assert.Equal(t, PlanFree, free.Status)
	assert.Nil(t, free.EndDate)
	assert.Nil(t, free.StartDate)
	assert.Equal(t, 5, free.UsageLimit)
	assert.Equal(t, 12, free.UsageCount, "expiry never resets the counter")
	assert.Equal(t, "PAYER1", *free.CustomerID)
}

func TestActivatedKeepsCustomerWhenPayerUnknown(t *testing.T) {
	customer := "PAYER0"
	s := NewFreeSubscription()
	s.CustomerID = &customer
	basic, _ := PlanFor(PlanBasic)

	active := s.Activated(basic, "O2", "", time.Now())
	require.NotNil(t, active.CustomerID)
	assert.Equal(t, "PAYER0", *active.CustomerID)
}

func TestDaysRemaining(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := now.Add(36 * time.Hour)
	s := Subscription{Status: PlanBasic, EndDate: &end}
	require.NotNil(t, s.DaysRemaining(now))
	assert.Equal(t, 2, *s.DaysRemaining(now))

	past := now.Add(-time.Hour)
	s.EndDate = &past
	assert.Equal(t, 0, *s.DaysRemaining(now))
}
