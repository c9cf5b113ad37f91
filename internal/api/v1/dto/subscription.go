package dto

// CheckoutRequestDTO starts an upgrade to a paid plan.
type CheckoutRequestDTO struct {
	PlanID string `json:"plan_id" validate:"required"`
}

// CaptureRequestDTO confirms the order the user approved at the provider.
type CaptureRequestDTO struct {
	OrderID string `json:"order_id" validate:"required,max=64"`
}

type PlanResponseDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Price        int64  `json:"price_minor_units"`
	Currency     string `json:"currency"`
	UsageQuota   int    `json:"usage_quota"`
	DurationDays int    `json:"duration_days"`
}

// ErrorResponseDTO is the body of every non-2xx JSON response.
type ErrorResponseDTO struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

type WebhookAckDTO struct {
	Status string `json:"status"`
}
