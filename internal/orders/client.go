package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Domenick1991/bookingcore/internal/observability"
	"github.com/Domenick1991/bookingcore/internal/validation"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

const maxResponseBytes = 4 << 20

// Config is passed in explicitly so retry behaviour is a parameter, not ambient state.
type Config struct {
	BaseURL    string
	Token      string
	APIVersion string
	Timeout    time.Duration

	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// MaxRetryAfter caps the wait taken from a 429 Retry-After header.
	MaxRetryAfter time.Duration

	BreakerName             string
	BreakerFailureThreshold uint32
	BreakerCooldown         time.Duration
	BreakerHalfOpenRequests uint32
}

func DefaultConfig() Config {
	return Config{
		BaseURL:                 "https://api.duffel.com",
		APIVersion:              "v2",
		Timeout:                 30 * time.Second,
		MaxRetries:              3,
		BaseBackoff:             500 * time.Millisecond,
		MaxBackoff:              10 * time.Second,
		MaxRetryAfter:           time.Minute,
		BreakerName:             "orders-api",
		BreakerFailureThreshold: 5,
		BreakerCooldown:         30 * time.Second,
		BreakerHalfOpenRequests: 1,
	}
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// WithSleep replaces the backoff sleeper; tests use it to record waits instead of blocking.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		c.sleep = fn
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
}

func NewClient(cfg Config, logger *logrus.Logger, opts ...Option) *Client {
	defaults := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaults.BaseBackoff
	}
	if cfg.MaxRetryAfter <= 0 {
		cfg.MaxRetryAfter = defaults.MaxRetryAfter
	}
	if cfg.BreakerName == "" {
		cfg.BreakerName = defaults.BreakerName
	}
	if cfg.BreakerFailureThreshold == 0 {
		cfg.BreakerFailureThreshold = defaults.BreakerFailureThreshold
	}
	if cfg.BreakerHalfOpenRequests == 0 {
		cfg.BreakerHalfOpenRequests = defaults.BreakerHalfOpenRequests
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		sleep:  sleepContext,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = newBreaker(cfg, logger)
	return c
}

// BreakerState exposes the current circuit state of the upstream dependency.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// SearchOffers is a read-only pass-through query.
func (c *Client) SearchOffers(ctx context.Context, criteria SearchCriteria) ([]Offer, error) {
	if err := validation.Struct(criteria); err != nil {
		return nil, &ValidationError{Op: "search_offers", Reason: err.Error()}
	}

	passengers := make([]offerRequestPassenger, criteria.Adults)
	for i := range passengers {
		passengers[i] = offerRequestPassenger{Type: "adult"}
	}
	body, err := json.Marshal(envelope[offerRequestPayload]{Data: offerRequestPayload{
		Slices:     criteria.Slices,
		Passengers: passengers,
		CabinClass: criteria.CabinClass,
	}})
	if err != nil {
		return nil, fmt.Errorf("orders: encode offer request: %w", err)
	}

	raw, err := c.do(ctx, request{op: "search_offers", method: http.MethodPost, path: "/air/offer_requests?return_offers=true", body: body})
	if err != nil {
		return nil, err
	}
	result, err := decode[offerRequestResult](raw)
	if err != nil {
		return nil, err
	}
	if criteria.MaxPrice == nil {
		return result.Offers, nil
	}
	offers := make([]Offer, 0, len(result.Offers))
	for _, o := range result.Offers {
		if o.TotalAmount.LessThanOrEqual(*criteria.MaxPrice) {
			offers = append(offers, o)
		}
	}
	return offers, nil
}

// GetOffer fails with ErrNotFound when the offer does not exist or has expired.
func (c *Client) GetOffer(ctx context.Context, offerID string) (*Offer, error) {
	if strings.TrimSpace(offerID) == "" {
		return nil, &ValidationError{Op: "get_offer", Reason: "offer id is required"}
	}
	raw, err := c.do(ctx, request{op: "get_offer", method: http.MethodGet, path: "/air/offers/" + url.PathEscape(offerID)})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.IsNotFound() || apiErr.IsOfferExpired()) {
			return nil, fmt.Errorf("offer %s: %w: %w", offerID, ErrNotFound, err)
		}
		return nil, err
	}
	offer, err := decode[Offer](raw)
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

// CreateOrder places an order for a single offer. The upstream API returns the
// original order for a repeated idempotency key, so retries and duplicate
// invocations with the same key never create a second order.
func (c *Client) CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error) {
	if err := validateCreateOrder(in); err != nil {
		return nil, err
	}

	body, err := json.Marshal(envelope[createOrderPayload]{Data: createOrderPayload{
		Type:           "instant",
		SelectedOffers: []string{in.OfferID},
		Passengers:     in.Passengers,
		Payments: []orderPayment{{
			Type:     "balance",
			Amount:   in.TotalAmount,
			Currency: strings.ToUpper(in.Currency),
		}},
		Metadata: in.Metadata,
	}})
	if err != nil {
		return nil, fmt.Errorf("orders: encode order: %w", err)
	}

	raw, err := c.do(ctx, request{
		op:             "create_order",
		method:         http.MethodPost,
		path:           "/air/orders",
		body:           body,
		idempotencyKey: in.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	order, err := decode[Order](raw)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// CancelOrder creates a cancellation for the order and confirms it.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if strings.TrimSpace(orderID) == "" {
		return &ValidationError{Op: "cancel_order", Reason: "order id is required"}
	}

	body, err := json.Marshal(envelope[orderCancellation]{Data: orderCancellation{OrderID: orderID}})
	if err != nil {
		return fmt.Errorf("orders: encode cancellation: %w", err)
	}
	raw, err := c.do(ctx, request{
		op:             "cancel_order",
		method:         http.MethodPost,
		path:           "/air/order_cancellations",
		body:           body,
		idempotencyKey: "cancel_" + orderID,
	})
	if err != nil {
		return err
	}
	cancellation, err := decode[orderCancellation](raw)
	if err != nil {
		return err
	}

	_, err = c.do(ctx, request{
		op:             "confirm_cancellation",
		method:         http.MethodPost,
		path:           "/air/order_cancellations/" + url.PathEscape(cancellation.ID) + "/actions/confirm",
		idempotencyKey: "cancel_confirm_" + orderID,
	})
	return err
}

func validateCreateOrder(in CreateOrderInput) error {
	if err := validation.Struct(in); err != nil {
		return &ValidationError{Op: "create_order", Reason: err.Error()}
	}
	if strings.TrimSpace(in.IdempotencyKey) == "" {
		return &ValidationError{Op: "create_order", Reason: "idempotency_key is required"}
	}
	if !in.TotalAmount.IsPositive() {
		return &ValidationError{Op: "create_order", Reason: "total_amount must be positive"}
	}
	return nil
}

type request struct {
	op             string
	method         string
	path           string
	body           []byte
	idempotencyKey string
}

// do runs one logical call with the retry protocol: 429 honours Retry-After,
// 5xx and transport errors back off exponentially, other 4xx fail at once.
func (c *Client) do(ctx context.Context, req request) ([]byte, error) {
	attempts := c.cfg.MaxRetries + 1
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		raw, err := c.breaker.Execute(func() (interface{}, error) {
			return c.send(ctx, req)
		})
		if err == nil {
			observability.OrderAPIRequests.WithLabelValues(req.op, "ok").Inc()
			return raw.([]byte), nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			observability.OrderAPIRequests.WithLabelValues(req.op, "circuit_open").Inc()
			if lastErr != nil {
				// the circuit opened mid-call; keep what upstream said last
				return nil, fmt.Errorf("%s: %w: %w", req.op, ErrCircuitOpen, &RetryExhaustedError{Op: req.op, Attempts: attempt, Last: lastErr})
			}
			return nil, fmt.Errorf("%s: %w", req.op, ErrCircuitOpen)
		}

		lastErr = err
		wait, retry := c.retryDelay(ctx, attempt, err)
		if !retry {
			observability.OrderAPIRequests.WithLabelValues(req.op, "error").Inc()
			return nil, err
		}
		if attempt == attempts-1 {
			break
		}

		observability.OrderAPIRetries.WithLabelValues(req.op, retryReason(err)).Inc()
		c.logger.WithFields(logrus.Fields{
			"operation": req.op,
			"attempt":   attempt + 1,
			"wait":      wait.String(),
		}).Warnf("order api call failed, retrying: %v", err)

		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	observability.OrderAPIRequests.WithLabelValues(req.op, "exhausted").Inc()
	return nil, &RetryExhaustedError{Op: req.op, Attempts: attempts, Last: lastErr}
}

func (c *Client) send(ctx context.Context, req request) ([]byte, error) {
	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.cfg.BaseURL+req.path, body)
	if err != nil {
		return nil, fmt.Errorf("orders: build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	if c.cfg.APIVersion != "" {
		httpReq.Header.Set("Duffel-Version", c.cfg.APIVersion)
	}
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.idempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.idempotencyKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &transportError{err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return payload, nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode, RequestID: resp.Header.Get("X-Request-Id")}
	var env errorEnvelope
	if err := json.Unmarshal(payload, &env); err == nil {
		apiErr.Errors = env.Errors
	}
	if len(apiErr.Errors) == 0 && len(bytes.TrimSpace(payload)) > 0 {
		detail := strings.TrimSpace(string(payload))
		if len(detail) > 200 {
			detail = detail[:200]
		}
		apiErr.Errors = []APIErrorDetail{{Type: "unknown", Title: http.StatusText(resp.StatusCode), Detail: detail}}
	}
	if apiErr.IsRateLimited() {
		apiErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), c.now())
	}
	return nil, apiErr
}

func decode[T any](raw []byte) (T, error) {
	var env envelope[T]
	if err := json.Unmarshal(raw, &env); err != nil {
		var zero T
		return zero, &DecodeError{Err: err}
	}
	return env.Data, nil
}
