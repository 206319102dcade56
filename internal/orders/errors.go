package orders

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrNotFound matches lookups of offers or orders that do not exist or have expired.
	ErrNotFound = errors.New("orders: not found")
	// ErrCircuitOpen is returned without any network attempt while the breaker is open.
	ErrCircuitOpen = errors.New("orders: circuit breaker open")
)

// ValidationError is a caller mistake caught before any network call.
type ValidationError struct {
	Op     string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("orders: invalid %s request: %s", e.Op, e.Reason)
}

// APIErrorDetail is one entry of the upstream {errors: [...]} body.
type APIErrorDetail struct {
	Type   string `json:"type"`
	Code   string `json:"code,omitempty"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

// APIError is a non-2xx answer from the upstream API.
type APIError struct {
	StatusCode int
	Errors     []APIErrorDetail
	RetryAfter time.Duration
	RequestID  string
}

func (e *APIError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("orders: upstream returned %d", e.StatusCode)
	}
	parts := make([]string, 0, len(e.Errors))
	for _, d := range e.Errors {
		msg := d.Title
		if d.Detail != "" {
			msg += ": " + d.Detail
		}
		if d.Code != "" {
			msg += " (" + d.Code + ")"
		}
		parts = append(parts, msg)
	}
	return fmt.Sprintf("orders: upstream returned %d: %s", e.StatusCode, strings.Join(parts, "; "))
}

func (e *APIError) hasCode(codes ...string) bool {
	for _, d := range e.Errors {
		for _, c := range codes {
			if d.Code == c {
				return true
			}
		}
	}
	return false
}

func (e *APIError) IsOfferExpired() bool {
	return e.StatusCode == http.StatusGone || e.hasCode("offer_no_longer_available", "offer_expired", "price_changed")
}

func (e *APIError) IsInsufficientBalance() bool {
	return e.hasCode("insufficient_balance")
}

func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound || e.hasCode("not_found")
}

func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsClientError reports a 4xx other than rate limiting; such calls are never retried.
func (e *APIError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && !e.IsRateLimited()
}

func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500
}

// RetryExhaustedError is returned once every allowed attempt failed with a retryable error.
type RetryExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("orders: %s failed after %d attempts: %v", e.Op, e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Last }

// LastErrors returns the upstream error list of the final attempt, if it got an answer.
func (e *RetryExhaustedError) LastErrors() []APIErrorDetail {
	var apiErr *APIError
	if errors.As(e.Last, &apiErr) {
		return apiErr.Errors
	}
	return nil
}

// IsRetryable reports whether invoking the same operation later could succeed.
// Business outcomes (expired offer, insufficient balance, bad input) are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var exhausted *RetryExhaustedError
	if errors.As(err, &exhausted) {
		return true
	}
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRateLimited() || apiErr.IsServerError()
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return false
	}
	var netErr *transportError
	return errors.As(err, &netErr)
}

// DecodeError is a 2xx answer whose body could not be read. The upstream call
// may have taken effect, so the operation is replayed with the same key.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "orders: decode response: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

// transportError wraps network-level failures (timeouts, resets).
type transportError struct {
	err error
}

func (e *transportError) Error() string { return "orders: transport: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }
