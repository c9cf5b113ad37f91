package model

import "time"

// User represents a user in the system
type User struct {
	UserID       string       `db:"user_id" json:"user_id"`
	Name         string       `db:"name" json:"name"`
	Email        string       `db:"email" json:"email"`
	AvatarURL    string       `db:"avatar_url" json:"avatar_url"`
	Subscription Subscription `json:"subscription"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updated_at"`
}
