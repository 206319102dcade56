package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Domenick1991/bookingcore/internal/logging"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedSleeps struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func (r *recordedSleeps) all() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}

func newTestClient(t *testing.T, baseURL string, mutate func(*Config)) (*Client, *recordedSleeps) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.Token = "test_token"
	cfg.BaseBackoff = 100 * time.Millisecond
	cfg.MaxBackoff = time.Second
	cfg.BreakerName = t.Name()
	cfg.BreakerFailureThreshold = 100
	if mutate != nil {
		mutate(&cfg)
	}
	sleeps := &recordedSleeps{}
	return NewClient(cfg, logging.Discard(), WithSleep(sleeps.sleep)), sleeps
}

func validOrderInput(key string) CreateOrderInput {
	return CreateOrderInput{
		OfferID: "off_123",
		Passengers: []Passenger{{
			GivenName:  "Ada",
			FamilyName: "Lovelace",
			BornOn:     "1990-12-10",
		}},
		TotalAmount:    decimal.RequireFromString("250.75"),
		Currency:       "usd",
		IdempotencyKey: key,
	}
}

func writeErrors(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Errors: []APIErrorDetail{{Type: "api_error", Code: code, Title: "failure"}}})
}

// fakeOrderAPI creates at most one order per idempotency key.
type fakeOrderAPI struct {
	mu      sync.Mutex
	byKey   map[string]Order
	created int
	headers http.Header
	payload map[string]any
}

func (f *fakeOrderAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.headers = r.Header.Clone()
	body, _ := io.ReadAll(r.Body)
	f.payload = nil
	_ = json.Unmarshal(body, &f.payload)

	key := r.Header.Get("Idempotency-Key")
	order, ok := f.byKey[key]
	if !ok {
		f.created++
		order = Order{
			ID:               fmt.Sprintf("ord_%d", f.created),
			BookingReference: fmt.Sprintf("REF%03d", f.created),
			TotalAmount:      decimal.RequireFromString("250.75"),
			TotalCurrency:    "USD",
		}
		f.byKey[key] = order
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(envelope[Order]{Data: order})
}

func TestCreateOrder_SendsIdempotencyKeyAndDeduplicates(t *testing.T) {
	api := &fakeOrderAPI{byKey: map[string]Order{}}
	srv := httptest.NewServer(api)
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL, nil)
	key := IdempotencyKeyFor("br-42")

	first, err := client.CreateOrder(context.Background(), validOrderInput(key))
	require.NoError(t, err)
	second, err := client.CreateOrder(context.Background(), validOrderInput(key))
	require.NoError(t, err)

	assert.Equal(t, "order_br-42", key)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, api.created)
	assert.Equal(t, "order_br-42", api.headers.Get("Idempotency-Key"))
	assert.Equal(t, "Bearer test_token", api.headers.Get("Authorization"))
	assert.Equal(t, "v2", api.headers.Get("Duffel-Version"))

	data := api.payload["data"].(map[string]any)
	assert.Equal(t, "instant", data["type"])
	assert.Equal(t, []any{"off_123"}, data["selected_offers"])
	payment := data["payments"].([]any)[0].(map[string]any)
	assert.Equal(t, "250.75", payment["amount"])
	assert.Equal(t, "USD", payment["currency"])
}

func TestCreateOrder_ValidationFailsBeforeNetwork(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()
	client, _ := newTestClient(t, srv.URL, nil)

	tests := []struct {
		name   string
		mutate func(*CreateOrderInput)
	}{
		{"no offer", func(in *CreateOrderInput) { in.OfferID = "" }},
		{"no passengers", func(in *CreateOrderInput) { in.Passengers = nil }},
		{"passenger without name", func(in *CreateOrderInput) { in.Passengers[0].GivenName = "" }},
		{"zero amount", func(in *CreateOrderInput) { in.TotalAmount = decimal.Zero }},
		{"negative amount", func(in *CreateOrderInput) { in.TotalAmount = decimal.NewFromInt(-5) }},
		{"bad currency", func(in *CreateOrderInput) { in.Currency = "DOLLARS" }},
		{"blank key", func(in *CreateOrderInput) { in.IdempotencyKey = "   " }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validOrderInput("order_x")
			tt.mutate(&in)

			_, err := client.CreateOrder(context.Background(), in)

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, "create_order", vErr.Op)
			assert.False(t, IsRetryable(err))
		})
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestDo_RateLimitHonoursRetryAfter(t *testing.T) {
	var hits int32
	api := &fakeOrderAPI{byKey: map[string]Order{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.Header().Set("Retry-After", "2")
			writeErrors(w, http.StatusTooManyRequests, "rate_limit_exceeded")
			return
		}
		api.ServeHTTP(w, r)
	}))
	defer srv.Close()
	client, sleeps := newTestClient(t, srv.URL, nil)

	order, err := client.CreateOrder(context.Background(), validOrderInput("order_rl"))
	require.NoError(t, err)

	assert.Equal(t, "ord_1", order.ID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	assert.Equal(t, []time.Duration{2 * time.Second}, sleeps.all())
}

func TestDo_RetryAfterIsCapped(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&hits, 1) {
		case 1:
			w.Header().Set("Retry-After", "86400")
			writeErrors(w, http.StatusTooManyRequests, "rate_limit_exceeded")
		case 2:
			w.Header().Set("Retry-After", now.Add(3*time.Second).Format(http.TimeFormat))
			writeErrors(w, http.StatusTooManyRequests, "rate_limit_exceeded")
		default:
			_ = json.NewEncoder(w).Encode(envelope[Offer]{Data: Offer{ID: "off_1"}})
		}
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.BreakerName = t.Name()
	cfg.MaxRetryAfter = 5 * time.Second
	sleeps := &recordedSleeps{}
	client := NewClient(cfg, logging.Discard(), WithSleep(sleeps.sleep), WithClock(func() time.Time { return now }))

	offer, err := client.GetOffer(context.Background(), "off_1")
	require.NoError(t, err)

	assert.Equal(t, "off_1", offer.ID)
	assert.Equal(t, []time.Duration{5 * time.Second, 3 * time.Second}, sleeps.all())
}

func TestDo_RateLimitWithoutHeaderUsesBackoff(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeErrors(w, http.StatusTooManyRequests, "rate_limit_exceeded")
	}))
	defer srv.Close()
	client, sleeps := newTestClient(t, srv.URL, func(c *Config) { c.MaxRetries = 2 })

	_, err := client.GetOffer(context.Background(), "off_1")

	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, sleeps.all())
}

func TestDo_ServerErrorsBackOffThenSucceed(t *testing.T) {
	var hits int32
	api := &fakeOrderAPI{byKey: map[string]Order{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) <= 2 {
			writeErrors(w, http.StatusBadGateway, "upstream")
			return
		}
		api.ServeHTTP(w, r)
	}))
	defer srv.Close()
	client, sleeps := newTestClient(t, srv.URL, nil)

	_, err := client.CreateOrder(context.Background(), validOrderInput("order_5xx"))
	require.NoError(t, err)

	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, sleeps.all())
	assert.Equal(t, 1, api.created)
}

func TestDo_ClientErrorIsNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeErrors(w, http.StatusUnprocessableEntity, "insufficient_balance")
	}))
	defer srv.Close()
	client, sleeps := newTestClient(t, srv.URL, nil)

	_, err := client.CreateOrder(context.Background(), validOrderInput("order_4xx"))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsClientError())
	assert.True(t, apiErr.IsInsufficientBalance())
	assert.False(t, IsRetryable(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Empty(t, sleeps.all())
}

func TestDo_ExhaustionReportsLastUpstreamErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeErrors(w, http.StatusServiceUnavailable, "maintenance")
	}))
	defer srv.Close()
	client, sleeps := newTestClient(t, srv.URL, func(c *Config) {
		c.MaxRetries = 3
		c.MaxBackoff = 300 * time.Millisecond
	})

	_, err := client.CreateOrder(context.Background(), validOrderInput("order_down"))

	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 4, exhausted.Attempts)
	assert.Equal(t, int32(4), atomic.LoadInt32(&hits))
	require.Len(t, exhausted.LastErrors(), 1)
	assert.Equal(t, "maintenance", exhausted.LastErrors()[0].Code)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}, sleeps.all())
}

func TestDo_TransportErrorsAreRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client, sleeps := newTestClient(t, url, func(c *Config) { c.MaxRetries = 1 })

	_, err := client.GetOffer(context.Background(), "off_1")

	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	assert.Len(t, sleeps.all(), 1)
	assert.True(t, IsRetryable(err))
}

func TestCreateOrder_UnreadableSuccessBodyIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"data":{"id":"ord_1"x`)
	}))
	defer srv.Close()
	client, sleeps := newTestClient(t, srv.URL, nil)

	_, err := client.CreateOrder(context.Background(), validOrderInput("order_garbled"))

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.True(t, IsRetryable(err))
	assert.Empty(t, sleeps.all())
}

func TestGetOffer_NotFoundAndExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/air/offers/off_missing":
			writeErrors(w, http.StatusNotFound, "not_found")
		case "/air/offers/off_gone":
			writeErrors(w, http.StatusGone, "offer_no_longer_available")
		default:
			_ = json.NewEncoder(w).Encode(envelope[Offer]{Data: Offer{
				ID:            "off_ok",
				TotalAmount:   decimal.RequireFromString("99.10"),
				TotalCurrency: "EUR",
				Slices: []Slice{{Segments: []Segment{{
					MarketingCarrier:             Carrier{IATACode: "BA", Name: "British Airways"},
					MarketingCarrierFlightNumber: "117",
				}}}},
			}})
		}
	}))
	defer srv.Close()
	client, _ := newTestClient(t, srv.URL, nil)

	_, err := client.GetOffer(context.Background(), "off_missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = client.GetOffer(context.Background(), "off_gone")
	assert.ErrorIs(t, err, ErrNotFound)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsOfferExpired())

	offer, err := client.GetOffer(context.Background(), "off_ok")
	require.NoError(t, err)
	seg, ok := offer.FirstSegment()
	require.True(t, ok)
	assert.Equal(t, "117", seg.MarketingCarrierFlightNumber)
	assert.True(t, offer.TotalAmount.Equal(decimal.RequireFromString("99.10")))
}

func TestSearchOffers_FiltersByMaxPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/air/offer_requests", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("return_offers"))
		assert.Empty(t, r.Header.Get("Idempotency-Key"))
		_ = json.NewEncoder(w).Encode(envelope[offerRequestResult]{Data: offerRequestResult{
			ID: "orq_1",
			Offers: []Offer{
				{ID: "cheap", TotalAmount: decimal.NewFromInt(100)},
				{ID: "pricey", TotalAmount: decimal.NewFromInt(900)},
			},
		}})
	}))
	defer srv.Close()
	client, _ := newTestClient(t, srv.URL, nil)

	maxPrice := decimal.NewFromInt(500)
	offers, err := client.SearchOffers(context.Background(), SearchCriteria{
		Slices:   []SearchSlice{{Origin: "LHR", Destination: "JFK", DepartureDate: "2026-11-02"}},
		Adults:   1,
		MaxPrice: &maxPrice,
	})
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "cheap", offers[0].ID)

	_, err = client.SearchOffers(context.Background(), SearchCriteria{Adults: 1})
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestCancelOrder_CreatesThenConfirms(t *testing.T) {
	var calls []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path+" "+r.Header.Get("Idempotency-Key"))
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(envelope[orderCancellation]{Data: orderCancellation{ID: "ore_1", OrderID: "ord_9"}})
	}))
	defer srv.Close()
	client, _ := newTestClient(t, srv.URL, nil)

	require.NoError(t, client.CancelOrder(context.Background(), "ord_9"))
	assert.Equal(t, []string{
		"POST /air/order_cancellations cancel_ord_9",
		"POST /air/order_cancellations/ore_1/actions/confirm cancel_confirm_ord_9",
	}, calls)
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeErrors(w, http.StatusInternalServerError, "boom")
	}))
	defer srv.Close()
	client, _ := newTestClient(t, srv.URL, func(c *Config) {
		c.MaxRetries = 0
		c.BreakerFailureThreshold = 2
		c.BreakerCooldown = time.Hour
	})

	for i := 0; i < 2; i++ {
		_, err := client.GetOffer(context.Background(), "off_1")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, client.BreakerState())

	_, err := client.GetOffer(context.Background(), "off_1")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestBreaker_OpeningMidCallKeepsLastUpstreamErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		writeErrors(w, http.StatusInternalServerError, "boom")
	}))
	defer srv.Close()
	client, _ := newTestClient(t, srv.URL, func(c *Config) {
		c.MaxRetries = 3
		c.BreakerFailureThreshold = 2
		c.BreakerCooldown = time.Hour
	})

	_, err := client.CreateOrder(context.Background(), validOrderInput("order_trip"))

	assert.ErrorIs(t, err, ErrCircuitOpen)
	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	require.Len(t, exhausted.LastErrors(), 1)
	assert.Equal(t, "boom", exhausted.LastErrors()[0].Code)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestBreaker_ClientErrorsDoNotTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErrors(w, http.StatusBadRequest, "invalid")
	}))
	defer srv.Close()
	client, _ := newTestClient(t, srv.URL, func(c *Config) { c.BreakerFailureThreshold = 2 })

	for i := 0; i < 5; i++ {
		_, err := client.GetOffer(context.Background(), "off_1")
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrCircuitOpen))
	}
	assert.Equal(t, gobreaker.StateClosed, client.BreakerState())
}

func TestBreaker_HalfOpenProbeClosesCircuit(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			writeErrors(w, http.StatusServiceUnavailable, "down")
			return
		}
		_ = json.NewEncoder(w).Encode(envelope[Offer]{Data: Offer{ID: "off_1"}})
	}))
	defer srv.Close()
	client, _ := newTestClient(t, srv.URL, func(c *Config) {
		c.MaxRetries = 0
		c.BreakerFailureThreshold = 1
		c.BreakerCooldown = 20 * time.Millisecond
	})

	_, err := client.GetOffer(context.Background(), "off_1")
	require.Error(t, err)
	assert.Equal(t, gobreaker.StateOpen, client.BreakerState())

	healthy.Store(true)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, gobreaker.StateHalfOpen, client.BreakerState())

	_, err = client.GetOffer(context.Background(), "off_1")
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, client.BreakerState())
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

	assert.Equal(t, 3*time.Second, parseRetryAfter("3", now))
	assert.Equal(t, 10*time.Second, parseRetryAfter(now.Add(10*time.Second).Format(http.TimeFormat), now))
	assert.Zero(t, parseRetryAfter("", now))
	assert.Zero(t, parseRetryAfter("-1", now))
	assert.Zero(t, parseRetryAfter("soon", now))
	assert.Zero(t, parseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
}
