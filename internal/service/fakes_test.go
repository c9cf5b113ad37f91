package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"paywall/internal/gateway"
	"paywall/internal/model"
	"paywall/internal/repository"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

// memUserRepo applies the same compare-and-set guards as the SQL statement.
type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User
	// failWrites makes every write return an error.
	failWrites error
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]*model.User)}
}

func (r *memUserRepo) CreateUser(_ context.Context, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.UserID]; ok {
		return &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
	}
	u.Subscription = model.NewFreeSubscription()
	cp := *u
	r.users[u.UserID] = &cp
	return nil
}

func (r *memUserRepo) GetUserByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) GetUserByOrderID(_ context.Context, orderID string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Subscription.HasPendingOrder(orderID) || u.Subscription.AppliedOrder(orderID) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memUserRepo) ReplaceSubscription(_ context.Context, userID string, next model.Subscription, opts repository.ReplaceOptions) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWrites != nil {
		return false, r.failWrites
	}
	u, ok := r.users[userID]
	if !ok {
		return false, nil
	}
	cur := u.Subscription
	if opts.ExpectStatus != nil && cur.Status != *opts.ExpectStatus {
		return false, nil
	}
	if opts.ExpectPendingOrderID != nil && !cur.HasPendingOrder(*opts.ExpectPendingOrderID) {
		return false, nil
	}
	if opts.ExpectEndDate != nil && (cur.EndDate == nil || !cur.EndDate.Equal(*opts.ExpectEndDate)) {
		return false, nil
	}
	if opts.ResetUsage {
		next.UsageCount = 0
	} else {
		next.UsageCount = cur.UsageCount
	}
	u.Subscription = next
	return true, nil
}

func (r *memUserRepo) SetPendingPayment(_ context.Context, userID string, pending model.PendingPayment) error {
	return r.update(userID, func(s *model.Subscription) { s.Pending = &pending })
}

func (r *memUserRepo) ClearPendingPayment(_ context.Context, userID string) error {
	return r.update(userID, func(s *model.Subscription) { s.Pending = nil })
}

func (r *memUserRepo) IncrementUsage(_ context.Context, userID string) error {
	return r.update(userID, func(s *model.Subscription) { s.UsageCount++ })
}

func (r *memUserRepo) update(userID string, fn func(*model.Subscription)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWrites != nil {
		return r.failWrites
	}
	u, ok := r.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	fn(&u.Subscription)
	return nil
}

// put stores u as-is, bypassing CreateUser defaults.
func (r *memUserRepo) put(u model.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[u.UserID] = &u
}

func (r *memUserRepo) sub(t *testing.T, userID string) model.Subscription {
	t.Helper()
	u, err := r.GetUserByID(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, u)
	return u.Subscription
}

// stubGateway scripts provider responses and counts calls.
type stubGateway struct {
	mu            sync.Mutex
	createErr     error
	captureStatus string
	captureErr    error
	fetchStatus   string
	verifyOK      bool
	creates       int
	captures      int
}

func (g *stubGateway) CreateOrder(_ context.Context, plan model.Plan, _ *model.User) (*gateway.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates++
	if g.createErr != nil {
		return nil, g.createErr
	}
	return &gateway.Order{ID: "ORDER-" + string(plan.ID), Status: gateway.StatusCreated, ApprovalLink: "https://approve/" + string(plan.ID)}, nil
}

func (g *stubGateway) CaptureOrder(_ context.Context, orderID string) (*gateway.CaptureResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captures++
	if g.captureErr != nil {
		return nil, g.captureErr
	}
	status := g.captureStatus
	if status == "" {
		status = gateway.StatusCompleted
	}
	return &gateway.CaptureResult{Status: status, PayerID: "PAYER-1", CaptureID: "CAP-" + orderID}, nil
}

func (g *stubGateway) FetchOrder(_ context.Context, orderID string) (*gateway.OrderDetails, error) {
	return &gateway.OrderDetails{ID: orderID, Status: g.fetchStatus, Amount: "9.99", Currency: "USD"}, nil
}

func (g *stubGateway) VerifyWebhook(context.Context, http.Header, []byte) bool {
	return g.verifyOK
}

type publishedMessage struct {
	topic string
	event SubscriptionEvent
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, payload []byte, _ map[string]string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	var ev SubscriptionEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return "", err
	}
	p.messages = append(p.messages, publishedMessage{topic: topic, event: ev})
	return "msg-id", nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, m := range p.messages {
		out = append(out, m.event.Type)
	}
	return out
}

type memWebhookEvents struct {
	mu     sync.Mutex
	events map[string]*model.WebhookEvent
}

func (m *memWebhookEvents) Record(_ context.Context, ev *model.WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.events == nil {
		m.events = make(map[string]*model.WebhookEvent)
	}
	if _, ok := m.events[ev.EventID]; !ok {
		m.events[ev.EventID] = ev
	}
	return nil
}

type fakeArchiver struct {
	keys []string
}

func (a *fakeArchiver) Archive(_ context.Context, eventID, _ string, _ time.Time, _ []byte) error {
	a.keys = append(a.keys, eventID)
	return nil
}

// testClock is a settable clock.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var errStorageDown = errors.New("storage unavailable")
