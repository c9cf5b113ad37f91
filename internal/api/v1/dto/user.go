package dto

import "time"

// UserCreateDTO is used for incoming create requests
type UserCreateDTO struct {
	Name      string `json:"name" validate:"max=200"`
	Email     string `json:"email" validate:"required,email"`
	AvatarURL string `json:"avatar_url" validate:"omitempty,url"`
}

// UserResponseDTO is returned in API responses
type UserResponseDTO struct {
	UserID       string                 `json:"user_id"`
	Name         string                 `json:"name"`
	Email        string                 `json:"email"`
	AvatarURL    string                 `json:"avatar_url"`
	Subscription SubscriptionSummaryDTO `json:"subscription"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// SubscriptionSummaryDTO is the short subscription block embedded in the profile.
type SubscriptionSummaryDTO struct {
	Status     string `json:"status"`
	UsageCount int    `json:"usage_count"`
	UsageLimit int    `json:"usage_limit"`
}
