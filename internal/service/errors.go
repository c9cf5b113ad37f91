package service

import (
	"errors"
	"fmt"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")
	// ErrVerificationFailure is returned with a rejected webhook. Nothing was mutated.
	ErrVerificationFailure = errors.New("webhook signature verification failed")
	// errConcurrentUpdate means a guarded write lost a race; callers should retry.
	errConcurrentUpdate = errors.New("subscription changed concurrently")
)

// ValidationError reports bad caller input. It never reaches the provider.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ConflictReason tells the caller why the stored state refused the operation.
type ConflictReason string

const (
	ConflictOrderMismatch       ConflictReason = "order_mismatch"
	ConflictNoPendingPayment    ConflictReason = "no_pending_payment"
	ConflictPaymentNotCompleted ConflictReason = "payment_not_completed"
)

// StateConflictError means the user should restart or retry checkout.
type StateConflictError struct {
	Reason  ConflictReason
	Message string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// IsStateConflict reports whether err is a StateConflictError with the given reason.
// An empty reason matches any conflict.
func IsStateConflict(err error, reason ConflictReason) bool {
	var conflict *StateConflictError
	if !errors.As(err, &conflict) {
		return false
	}
	return reason == "" || conflict.Reason == reason
}
