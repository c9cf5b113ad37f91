package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"paywall/internal/migrations"
	"paywall/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestPool connects to TEST_DATABASE_URL, skipping when it is not set.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set, skip postgres integration test")
	}
	ctx := context.Background()
	require.NoError(t, migrations.Up(ctx, dsn))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func createTestUser(t *testing.T, repo UserRepository) *model.User {
	t.Helper()
	u := &model.User{UserID: "test-" + uuid.NewString(), Name: "Test", Email: "test@example.com"}
	require.NoError(t, repo.CreateUser(context.Background(), u))
	return u
}

func TestUserRepoCreateAndGet(t *testing.T) {
	repo := NewUserRepo(newTestPool(t))
	ctx := context.Background()
	u := createTestUser(t, repo)

	assert.Equal(t, model.PlanFree, u.Subscription.Status)
	assert.Equal(t, 5, u.Subscription.UsageLimit)
	assert.Nil(t, u.Subscription.EndDate)

	got, err := repo.GetUserByID(ctx, u.UserID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.UserID, got.UserID)

	missing, err := repo.GetUserByID(ctx, "missing-"+uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUserRepoPendingAndReplace(t *testing.T) {
	repo := NewUserRepo(newTestPool(t))
	ctx := context.Background()
	u := createTestUser(t, repo)
	orderID := "O-" + uuid.NewString()

	require.NoError(t, repo.IncrementUsage(ctx, u.UserID))
	require.NoError(t, repo.SetPendingPayment(ctx, u.UserID, model.PendingPayment{OrderID: orderID, PlanID: model.PlanBasic, CreatedAt: time.Now()}))

	byOrder, err := repo.GetUserByOrderID(ctx, orderID)
	require.NoError(t, err)
	require.NotNil(t, byOrder)
	require.NotNil(t, byOrder.Subscription.Pending)
	assert.Equal(t, model.PlanBasic, byOrder.Subscription.Pending.PlanID)

	basic, _ := model.PlanFor(model.PlanBasic)
	next := byOrder.Subscription.Activated(basic, orderID, "PAYER", time.Now())

	wrong := "O-other"
	applied, err := repo.ReplaceSubscription(ctx, u.UserID, next, ReplaceOptions{ResetUsage: true, ExpectPendingOrderID: &wrong})
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = repo.ReplaceSubscription(ctx, u.UserID, next, ReplaceOptions{ResetUsage: true, ExpectPendingOrderID: &orderID})
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := repo.GetUserByID(ctx, u.UserID)
	require.NoError(t, err)
	assert.Equal(t, model.PlanBasic, got.Subscription.Status)
	assert.Equal(t, 0, got.Subscription.UsageCount)
	assert.Equal(t, 50, got.Subscription.UsageLimit)
	assert.Nil(t, got.Subscription.Pending)
	assert.True(t, got.Subscription.AppliedOrder(orderID))

	// Last applied orders are still resolvable for late webhooks.
	byOrder, err = repo.GetUserByOrderID(ctx, orderID)
	require.NoError(t, err)
	require.NotNil(t, byOrder)
	assert.Equal(t, u.UserID, byOrder.UserID)
}

func TestUserRepoWritesToMissingUser(t *testing.T) {
	repo := NewUserRepo(newTestPool(t))
	err := repo.IncrementUsage(context.Background(), "missing-"+uuid.NewString())
	assert.ErrorIs(t, err, ErrUserNotFound)
}
