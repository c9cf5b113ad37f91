package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"paywall/internal/model"

	"github.com/google/uuid"
)

const (
	mockOrderPrefix = "MOCK-"
	// mockOrderLimit bounds how many orders the mock remembers; the oldest go first.
	mockOrderLimit = 1024
	// MockSignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
	MockSignatureHeader = "PAYPAL-TRANSMISSION-SIG"
)

var errUnknownMockOrder = errors.New("order was not created by the mock gateway")

// mockGateway stands in for the provider when no credentials are configured.
// It never opens a network connection.
type mockGateway struct {
	returnURL     string
	webhookSecret []byte

	mu     sync.Mutex
	orders map[string]mockOrder
	// order ids oldest first, for eviction
	ids   []string
	limit int
}

type mockOrder struct {
	referenceID string
	status      string
	amount      string
	currency    string
}

// NewMockGateway returns the offline gateway used in sandbox mode.
func NewMockGateway(returnURL, webhookSecret string) Gateway {
	return &mockGateway{
		returnURL:     returnURL,
		webhookSecret: []byte(webhookSecret),
		orders:        make(map[string]mockOrder),
		limit:         mockOrderLimit,
	}
}

func (g *mockGateway) CreateOrder(ctx context.Context, plan model.Plan, user *model.User) (*Order, error) {
	if err := validatePlan("create_order", plan); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &GatewayError{Op: "create_order", Cause: CauseProviderUnavailable, Err: err}
	}
	id := mockOrderPrefix + strings.ToUpper(uuid.NewString())

	g.remember(id, mockOrder{
		referenceID: user.UserID,
		status:      StatusCreated,
		amount:      formatMinorUnits(plan.PriceMinorUnits),
		currency:    plan.Currency,
	})

	return &Order{ID: id, Status: StatusCreated, ApprovalLink: g.approvalLink(id)}, nil
}

// CaptureOrder completes any id minted by CreateOrder, including ids from
// another process, since the id prefix alone identifies them.
func (g *mockGateway) CaptureOrder(ctx context.Context, orderID string) (*CaptureResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, &GatewayError{Op: "capture_order", Cause: CauseProviderUnavailable, Err: err}
	}
	if !strings.HasPrefix(orderID, mockOrderPrefix) {
		return nil, &GatewayError{Op: "capture_order", Cause: CauseInvalidRequest, StatusCode: http.StatusNotFound, Err: fmt.Errorf("%w: %s", errUnknownMockOrder, orderID)}
	}

	g.mu.Lock()
	o, known := g.orders[orderID]
	if known {
		o.status = StatusCompleted
		g.orders[orderID] = o
	}
	g.mu.Unlock()

	return &CaptureResult{
		Status:      StatusCompleted,
		PayerID:     "MOCKPAYER" + mockSuffix(orderID),
		ReferenceID: o.referenceID,
		CaptureID:   "MOCKCAPTURE" + mockSuffix(orderID),
	}, nil
}

func (g *mockGateway) FetchOrder(ctx context.Context, orderID string) (*OrderDetails, error) {
	if err := ctx.Err(); err != nil {
		return nil, &GatewayError{Op: "fetch_order", Cause: CauseProviderUnavailable, Err: err}
	}
	g.mu.Lock()
	o, ok := g.orders[orderID]
	g.mu.Unlock()
	if !ok {
		if !strings.HasPrefix(orderID, mockOrderPrefix) {
			return nil, &GatewayError{Op: "fetch_order", Cause: CauseInvalidRequest, StatusCode: http.StatusNotFound, Err: fmt.Errorf("%w: %s", errUnknownMockOrder, orderID)}
		}
		o = mockOrder{status: StatusCreated}
	}
	return &OrderDetails{ID: orderID, Status: o.status, ReferenceID: o.referenceID, Amount: o.amount, Currency: o.currency}, nil
}

func (g *mockGateway) VerifyWebhook(_ context.Context, headers http.Header, body []byte) bool {
	if len(g.webhookSecret) == 0 {
		return false
	}
	sig, err := hex.DecodeString(headers.Get(MockSignatureHeader))
	if err != nil || len(sig) == 0 {
		return false
	}
	return hmac.Equal(sig, mockMAC(g.webhookSecret, body))
}

// remember stores o under id, evicting the oldest orders past the limit.
func (g *mockGateway) remember(id string, o mockOrder) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders[id] = o
	g.ids = append(g.ids, id)
	for len(g.ids) > g.limit {
		delete(g.orders, g.ids[0])
		g.ids = g.ids[1:]
	}
}

func (g *mockGateway) approvalLink(orderID string) string {
	u, err := url.Parse(g.returnURL)
	if err != nil || g.returnURL == "" {
		return "mock://approve?token=" + orderID
	}
	q := u.Query()
	q.Set("token", orderID)
	u.RawQuery = q.Encode()
	return u.String()
}

// SignMockWebhook returns the signature header value the mock gateway accepts
// for body. Used by tests and local tooling that simulate provider callbacks.
func SignMockWebhook(secret string, body []byte) string {
	return hex.EncodeToString(mockMAC([]byte(secret), body))
}

func mockMAC(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

func mockSuffix(orderID string) string {
	s := strings.ReplaceAll(strings.TrimPrefix(orderID, mockOrderPrefix), "-", "")
	if len(s) > 12 {
		s = s[:12]
	}
	return s
}
