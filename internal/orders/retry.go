package orders

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// retryDelay decides whether a failed attempt may be repeated and how long to wait first.
func (c *Client) retryDelay(ctx context.Context, attempt int, err error) (time.Duration, bool) {
	if ctx.Err() != nil {
		return 0, false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.IsRateLimited():
			if apiErr.RetryAfter > 0 {
				return min(apiErr.RetryAfter, c.cfg.MaxRetryAfter), true
			}
			return c.backoff(attempt), true
		case apiErr.IsServerError():
			return c.backoff(attempt), true
		default:
			return 0, false
		}
	}

	var netErr *transportError
	if errors.As(err, &netErr) {
		return c.backoff(attempt), true
	}
	return 0, false
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.BaseBackoff << uint(attempt)
	if d <= 0 || (c.cfg.MaxBackoff > 0 && d > c.cfg.MaxBackoff) {
		return c.cfg.MaxBackoff
	}
	return d
}

func retryReason(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.IsRateLimited() {
			return "rate_limited"
		}
		return "server_error"
	}
	return "transport"
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
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
