package recordstore

import (
	"context"
	"math/rand"
	"time"

	"github.com/Domenick1991/bookingcore/internal/observability"
	"github.com/sirupsen/logrus"
)

type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

type ExecutorOption func(*Executor)

// WithSleeper swaps the wait between attempts.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) ExecutorOption {
	return func(e *Executor) {
		e.sleep = fn
	}
}

// WithRandom swaps the jitter source; fn must return a value in [0, 1).
func WithRandom(fn func() float64) ExecutorOption {
	return func(e *Executor) {
		e.random = fn
	}
}

// Executor runs store I/O and retries failures whose Code is retryable.
// A nil *Executor runs each operation exactly once.
type Executor struct {
	cfg    RetryConfig
	logger *logrus.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	random func() float64
}

func NewExecutor(cfg RetryConfig, logger *logrus.Logger, opts ...ExecutorOption) *Executor {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultRetryConfig().BaseDelay
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	e := &Executor{
		cfg:    cfg,
		logger: logger,
		sleep:  sleepContext,
		random: rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs op with the executor's retry policy and returns the last error once attempts run out.
func Execute[T any](ctx context.Context, e *Executor, operationType string, op func(ctx context.Context) (T, error)) (T, error) {
	if e == nil {
		return op(ctx)
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err

		code := CodeOf(err)
		if !retryableCodes[code] || attempt == e.cfg.MaxRetries {
			break
		}

		delay := e.delay(attempt, code)
		observability.StoreRetries.WithLabelValues(operationType, string(code)).Inc()
		e.logger.WithFields(logrus.Fields{
			"operation": operationType,
			"attempt":   attempt + 1,
			"code":      code,
			"delay":     delay.String(),
		}).Warn("store operation failed, retrying")

		if err := e.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

func (e *Executor) Do(ctx context.Context, operationType string, op func(ctx context.Context) error) error {
	_, err := Execute(ctx, e, operationType, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// delay is BaseDelay*2^attempt, doubled for throttling, jittered by ±25% and capped at MaxDelay.
func (e *Executor) delay(attempt int, code Code) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	d := float64(e.cfg.BaseDelay) * float64(int64(1)<<uint(attempt))
	if code == CodeThrottling || code == CodeThroughputExceeded {
		d *= 2
	}
	d *= 0.75 + 0.5*e.random()
	if e.cfg.MaxDelay > 0 && d > float64(e.cfg.MaxDelay) {
		return e.cfg.MaxDelay
	}
	return time.Duration(d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
