package repository

import (
	"context"
	"fmt"
	"time"

	"paywall/internal/model"

	"github.com/jackc/pgx/v5/pgxpool"
)

type WebhookEventRepository interface {
	// Record stores the event once; redeliveries with the same event id are ignored.
	Record(ctx context.Context, event *model.WebhookEvent) error
}

type webhookEventRepo struct {
	pool *pgxpool.Pool
}

func NewWebhookEventRepository(pool *pgxpool.Pool) WebhookEventRepository {
	return &webhookEventRepo{pool: pool}
}

// Record keeps the time the event was received; a zero ReceivedAt falls back
// to the insert time.
func (r *webhookEventRepo) Record(ctx context.Context, event *model.WebhookEvent) error {
	const q = `
        INSERT INTO webhook_events (event_id, event_type, order_id, user_id, outcome, payload, received_at)
        VALUES ($1, $2, $3, $4, $5, $6::jsonb, COALESCE($7::timestamptz, NOW()))
        ON CONFLICT (event_id) DO NOTHING
    `
	var receivedAt *time.Time
	if !event.ReceivedAt.IsZero() {
		receivedAt = &event.ReceivedAt
	}
	_, err := r.pool.Exec(ctx, q,
		event.EventID,
		event.EventType,
		event.OrderID,
		event.UserID,
		event.Outcome,
		event.Payload,
		receivedAt,
	)
	if err != nil {
		return fmt.Errorf("record webhook event %s: %w", event.EventID, err)
	}
	return nil
}
