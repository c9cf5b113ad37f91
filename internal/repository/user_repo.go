package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"paywall/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ReplaceOptions are compare-and-set guards evaluated in the same statement
// that writes the new subscription.
type ReplaceOptions struct {
	// ResetUsage sets usage_count to 0; otherwise the counter is left untouched.
	ResetUsage bool
	// ExpectStatus requires the stored status to still equal this value.
	ExpectStatus *model.PlanID
	// ExpectPendingOrderID requires this order to still be the pending one.
	ExpectPendingOrderID *string
	// ExpectEndDate requires the stored end date to still equal this value.
	ExpectEndDate *time.Time
}

// UserRepository is the identity store the subscription core depends on.
type UserRepository interface {
	CreateUser(ctx context.Context, u *model.User) error
	// GetUserByID returns nil, nil when the user does not exist.
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	// GetUserByOrderID finds the user whose pending or last applied order is orderID.
	// Returns nil, nil when no user matches.
	GetUserByOrderID(ctx context.Context, orderID string) (*model.User, error)
	// ReplaceSubscription writes every subscription field except the usage counter
	// in one statement. applied is false when a guard did not match.
	ReplaceSubscription(ctx context.Context, userID string, next model.Subscription, opts ReplaceOptions) (applied bool, err error)
	SetPendingPayment(ctx context.Context, userID string, pending model.PendingPayment) error
	ClearPendingPayment(ctx context.Context, userID string) error
	IncrementUsage(ctx context.Context, userID string) error
}

// ErrUserNotFound is returned by writes addressed to a missing user.
var ErrUserNotFound = errors.New("user not found")

type userRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) UserRepository {
	return &userRepo{pool: pool}
}

const userColumns = `user_id, name, email, avatar_url,
	sub_status, sub_plan_id, customer_id, sub_start_date, sub_end_date, sub_is_active,
	last_order_id, pending_order_id, pending_plan_id, pending_created_at,
	usage_count, usage_limit, created_at, updated_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u                             model.User
		status, planID                string
		pendingOrderID, pendingPlanID *string
		pendingCreatedAt              *time.Time
	)
	err := row.Scan(
		&u.UserID, &u.Name, &u.Email, &u.AvatarURL,
		&status, &planID, &u.Subscription.CustomerID, &u.Subscription.StartDate, &u.Subscription.EndDate, &u.Subscription.IsActive,
		&u.Subscription.LastOrderID, &pendingOrderID, &pendingPlanID, &pendingCreatedAt,
		&u.Subscription.UsageCount, &u.Subscription.UsageLimit, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Subscription.Status = model.PlanID(status)
	u.Subscription.PlanID = model.PlanID(planID)
	if pendingOrderID != nil {
		p := &model.PendingPayment{OrderID: *pendingOrderID}
		if pendingPlanID != nil {
			p.PlanID = model.PlanID(*pendingPlanID)
		}
		if pendingCreatedAt != nil {
			p.CreatedAt = *pendingCreatedAt
		}
		u.Subscription.Pending = p
	}
	return &u, nil
}

// CreateUser inserts the profile together with a free subscription.
func (r *userRepo) CreateUser(ctx context.Context, u *model.User) error {
	sub := model.NewFreeSubscription()
	q := `INSERT INTO user_profiles (user_id, name, email, avatar_url, sub_status, sub_plan_id, sub_is_active, usage_count, usage_limit)
	      VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8)
	      RETURNING ` + userColumns
	created, err := scanUser(r.pool.QueryRow(ctx, q,
		u.UserID, u.Name, u.Email, u.AvatarURL,
		string(sub.Status), string(sub.PlanID), sub.IsActive, sub.UsageLimit,
	))
	if err != nil {
		return fmt.Errorf("create user %s: %w", u.UserID, err)
	}
	*u = *created
	return nil
}

func (r *userRepo) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	q := `SELECT ` + userColumns + ` FROM user_profiles WHERE user_id = $1`
	u, err := scanUser(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch user %s: %w", id, err)
	}
	return u, nil
}

func (r *userRepo) GetUserByOrderID(ctx context.Context, orderID string) (*model.User, error) {
	q := `SELECT ` + userColumns + ` FROM user_profiles
	      WHERE pending_order_id = $1 OR last_order_id = $1
	      ORDER BY updated_at DESC
	      LIMIT 1`
	u, err := scanUser(r.pool.QueryRow(ctx, q, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch user by order %s: %w", orderID, err)
	}
	return u, nil
}

func (r *userRepo) ReplaceSubscription(ctx context.Context, userID string, next model.Subscription, opts ReplaceOptions) (bool, error) {
	var pendingOrderID, pendingPlanID *string
	var pendingCreatedAt *time.Time
	if next.Pending != nil {
		orderID, planID, created := next.Pending.OrderID, string(next.Pending.PlanID), next.Pending.CreatedAt
		pendingOrderID, pendingPlanID, pendingCreatedAt = &orderID, &planID, &created
	}
	var expectStatus *string
	if opts.ExpectStatus != nil {
		s := string(*opts.ExpectStatus)
		expectStatus = &s
	}

	const q = `
		UPDATE user_profiles
		SET sub_status = $2,
		    sub_plan_id = $3,
		    customer_id = $4,
		    sub_start_date = $5,
		    sub_end_date = $6,
		    sub_is_active = $7,
		    last_order_id = $8,
		    pending_order_id = $9,
		    pending_plan_id = $10,
		    pending_created_at = $11,
		    usage_limit = $12,
		    usage_count = CASE WHEN $13 THEN 0 ELSE usage_count END,
		    updated_at = NOW()
		WHERE user_id = $1
		  AND ($14::text IS NULL OR sub_status = $14)
		  AND ($15::text IS NULL OR pending_order_id = $15::text)
		  AND ($16::timestamptz IS NULL OR sub_end_date = $16)`
	tag, err := r.pool.Exec(ctx, q,
		userID,
		string(next.Status), string(next.PlanID), next.CustomerID, next.StartDate, next.EndDate, next.IsActive,
		next.LastOrderID, pendingOrderID, pendingPlanID, pendingCreatedAt,
		next.UsageLimit, opts.ResetUsage,
		expectStatus, opts.ExpectPendingOrderID, opts.ExpectEndDate,
	)
	if err != nil {
		return false, fmt.Errorf("replace subscription for user %s: %w", userID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *userRepo) SetPendingPayment(ctx context.Context, userID string, pending model.PendingPayment) error {
	const q = `
		UPDATE user_profiles
		SET pending_order_id = $2, pending_plan_id = $3, pending_created_at = $4, updated_at = NOW()
		WHERE user_id = $1`
	tag, err := r.pool.Exec(ctx, q, userID, pending.OrderID, string(pending.PlanID), pending.CreatedAt)
	if err != nil {
		return fmt.Errorf("set pending payment for user %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set pending payment for user %s: %w", userID, ErrUserNotFound)
	}
	return nil
}

func (r *userRepo) ClearPendingPayment(ctx context.Context, userID string) error {
	const q = `
		UPDATE user_profiles
		SET pending_order_id = NULL, pending_plan_id = NULL, pending_created_at = NULL, updated_at = NOW()
		WHERE user_id = $1`
	tag, err := r.pool.Exec(ctx, q, userID)
	if err != nil {
		return fmt.Errorf("clear pending payment for user %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("clear pending payment for user %s: %w", userID, ErrUserNotFound)
	}
	return nil
}

// IncrementUsage bumps the counter atomically. Concurrent callers may push it
// past the limit; the entitlement check tolerates that.
func (r *userRepo) IncrementUsage(ctx context.Context, userID string) error {
	const q = `UPDATE user_profiles SET usage_count = usage_count + 1, updated_at = NOW() WHERE user_id = $1`
	tag, err := r.pool.Exec(ctx, q, userID)
	if err != nil {
		return fmt.Errorf("increment usage for user %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("increment usage for user %s: %w", userID, ErrUserNotFound)
	}
	return nil
}
