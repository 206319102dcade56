package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
)

// ErrNotAuthorized means the payment intent holds no capturable funds.
var ErrNotAuthorized = errors.New("payment not authorized")

// zero-decimal currencies per Stripe's currency table
var zeroDecimal = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true, "KRW": true, "MGA": true,
	"PYG": true, "RWF": true, "UGX": true, "VND": true, "VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

type Option func(*options)

type options struct {
	backendURL string
	httpClient *http.Client
}

// WithBackendURL points the client at a different API host, e.g. a local fake.
func WithBackendURL(url string) Option {
	return func(o *options) {
		o.backendURL = url
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(o *options) {
		o.httpClient = h
	}
}

// StripeGateway checks, captures and releases manual-capture PaymentIntents.
// The hold itself is placed upstream when the booking request is created.
type StripeGateway struct {
	api    *client.API
	logger *logrus.Logger
}

func NewStripeGateway(apiKey string, logger *logrus.Logger, opts ...Option) *StripeGateway {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	var backends *stripe.Backends
	if o.backendURL != "" || o.httpClient != nil {
		cfg := &stripe.BackendConfig{
			HTTPClient:        o.httpClient,
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
		}
		if o.backendURL != "" {
			cfg.URL = stripe.String(o.backendURL)
		}
		backend := stripe.GetBackendWithConfig(stripe.APIBackend, cfg)
		backends = &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
	}

	return &StripeGateway{api: client.New(apiKey, backends), logger: logger}
}

func (g *StripeGateway) EnsureAuthorized(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return fmt.Errorf("fetch payment intent %s: %w", intentID, err)
	}
	if pi.Status != stripe.PaymentIntentStatusRequiresCapture {
		return fmt.Errorf("payment intent %s is %s: %w", intentID, pi.Status, ErrNotAuthorized)
	}
	return nil
}

// Capture takes amount from the hold. Replays with the same idempotency key
// return the original capture.
func (g *StripeGateway) Capture(ctx context.Context, intentID string, amount decimal.Decimal, currency, idempotencyKey string) error {
	params := &stripe.PaymentIntentCaptureParams{
		AmountToCapture: stripe.Int64(ToMinorUnits(amount, currency)),
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	pi, err := g.api.PaymentIntents.Capture(intentID, params)
	if err != nil {
		return fmt.Errorf("capture payment intent %s: %w", intentID, err)
	}
	g.logger.WithFields(logrus.Fields{
		"payment_intent": pi.ID,
		"status":         pi.Status,
		"amount":         pi.AmountReceived,
	}).Info("payment captured")
	return nil
}

// Cancel releases the hold.
func (g *StripeGateway) Cancel(ctx context.Context, intentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := g.api.PaymentIntents.Cancel(intentID, params); err != nil {
		return fmt.Errorf("cancel payment intent %s: %w", intentID, err)
	}
	return nil
}

// ToMinorUnits converts a decimal amount into the integer unit Stripe expects.
func ToMinorUnits(amount decimal.Decimal, currency string) int64 {
	if zeroDecimal[strings.ToUpper(currency)] {
		return amount.Round(0).IntPart()
	}
	return amount.Shift(2).Round(0).IntPart()
}

// IsRetryable reports whether a later attempt could succeed.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrNotAuthorized) {
		return false
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode == http.StatusTooManyRequests || stripeErr.HTTPStatusCode >= 500
	}
	return true
}
