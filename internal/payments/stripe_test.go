package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/Domenick1991/bookingcore/internal/logging"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v74"
)

type fakeStripe struct {
	mu       sync.Mutex
	status   string
	requests []string
	forms    []string
	keys     []string
}

func (f *fakeStripe) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = r.ParseForm()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.forms = append(f.forms, r.PostForm.Encode())
	f.keys = append(f.keys, r.Header.Get("Idempotency-Key"))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":       "pi_123",
		"object":   "payment_intent",
		"status":   f.status,
		"amount":   25075,
		"currency": "usd",
	})
}

func newGateway(t *testing.T, f *fakeStripe) *StripeGateway {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return NewStripeGateway("sk_test_123", logging.Discard(), WithBackendURL(srv.URL), WithHTTPClient(srv.Client()))
}

func TestEnsureAuthorized(t *testing.T) {
	f := &fakeStripe{status: "requires_capture"}
	g := newGateway(t, f)

	require.NoError(t, g.EnsureAuthorized(context.Background(), "pi_123"))
	assert.Equal(t, []string{"GET /v1/payment_intents/pi_123"}, f.requests)

	f.status = "requires_payment_method"
	err := g.EnsureAuthorized(context.Background(), "pi_123")
	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.False(t, IsRetryable(err))
}

func TestCaptureSendsMinorUnitsAndIdempotencyKey(t *testing.T) {
	f := &fakeStripe{status: "succeeded"}
	g := newGateway(t, f)

	err := g.Capture(context.Background(), "pi_123", decimal.RequireFromString("250.75"), "USD", "capture_br-1")
	require.NoError(t, err)

	require.Len(t, f.requests, 1)
	assert.Equal(t, "POST /v1/payment_intents/pi_123/capture", f.requests[0])
	assert.Contains(t, f.forms[0], "amount_to_capture=25075")
	assert.Equal(t, "capture_br-1", f.keys[0])
}

func TestCancel(t *testing.T) {
	f := &fakeStripe{status: "canceled"}
	g := newGateway(t, f)

	require.NoError(t, g.Cancel(context.Background(), "pi_123"))
	assert.Equal(t, []string{"POST /v1/payment_intents/pi_123/cancel"}, f.requests)
}

func TestToMinorUnits(t *testing.T) {
	assert.Equal(t, int64(25075), ToMinorUnits(decimal.RequireFromString("250.75"), "usd"))
	assert.Equal(t, int64(1000), ToMinorUnits(decimal.RequireFromString("10"), "EUR"))
	assert.Equal(t, int64(13), ToMinorUnits(decimal.RequireFromString("0.125"), "USD"))
	assert.Equal(t, int64(5000), ToMinorUnits(decimal.RequireFromString("5000"), "JPY"))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(&stripe.Error{HTTPStatusCode: 503}))
	assert.True(t, IsRetryable(&stripe.Error{HTTPStatusCode: 429}))
	assert.False(t, IsRetryable(&stripe.Error{HTTPStatusCode: 402}))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
}
