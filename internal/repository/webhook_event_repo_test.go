package repository

import (
	"context"
	"testing"
	"time"

	"paywall/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookEventRepoKeepsReceivedAt(t *testing.T) {
	pool := newTestPool(t)
	repo := NewWebhookEventRepository(pool)
	ctx := context.Background()

	receivedAt := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	orderID := "ORDER-" + uuid.NewString()
	ev := &model.WebhookEvent{
		EventID:    "WH-" + uuid.NewString(),
		EventType:  "PAYMENT.CAPTURE.COMPLETED",
		OrderID:    &orderID,
		Outcome:    "applied",
		Payload:    `{"id":"WH"}`,
		ReceivedAt: receivedAt,
	}
	require.NoError(t, repo.Record(ctx, ev))

	redelivered := *ev
	redelivered.Outcome = "duplicate"
	redelivered.ReceivedAt = receivedAt.Add(time.Hour)
	require.NoError(t, repo.Record(ctx, &redelivered))

	var stored time.Time
	var outcome string
	err := pool.QueryRow(ctx, `SELECT received_at, outcome FROM webhook_events WHERE event_id = $1`, ev.EventID).Scan(&stored, &outcome)
	require.NoError(t, err)
	assert.True(t, receivedAt.Equal(stored), "stored %s", stored)
	assert.Equal(t, "applied", outcome)
}
