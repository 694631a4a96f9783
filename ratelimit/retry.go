package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryPolicy bounds how often a throttled (429) request is retried.
type RetryPolicy struct {
	// MaxAttempts counts the first try. Values below 1 mean a single attempt.
	MaxAttempts int
	// DefaultDelay is used when the server sends no Retry-After; it grows linearly per attempt.
	DefaultDelay time.Duration
	// MaxDelay caps any single wait.
	MaxDelay time.Duration
}

// DefaultRetryPolicy waits 10s when the server gives no hint and gives up after 5 tries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  5,
		DefaultDelay: 10 * time.Second,
		MaxDelay:     2 * time.Minute,
	}
}

// Attempts returns the effective attempt budget.
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the wait before retrying after the given failed attempt (1-based). A
// positive server hint wins over the default backoff.
func (p RetryPolicy) Delay(attempt int, hint time.Duration) time.Duration {
	d := hint
	if d <= 0 {
		if attempt < 1 {
			attempt = 1
		}
		d = p.DefaultDelay * time.Duration(attempt)
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(value); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
