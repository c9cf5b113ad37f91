package model

import "time"

// WebhookEvent is the audit row written for every verified provider notification.
type WebhookEvent struct {
	EventID    string    `db:"event_id"`
	EventType  string    `db:"event_type"`
	OrderID    *string   `db:"order_id"`
	UserID     *string   `db:"user_id"`
	Outcome    string    `db:"outcome"`
	Payload    string    `db:"payload"`
	ReceivedAt time.Time `db:"received_at"`
}
