package crawler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MaxRetryAfter caps how long a server's Retry-After can hold a worker.
const MaxRetryAfter = time.Minute

// StatusError reports a fetch that completed with a status worth retrying.
// RetryAfter is the server's requested wait, zero when it sent none.
type StatusError struct {
	StatusCode int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("unexpected status %d (retry after %s)", e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// RetryableStatus reports whether a response status should be retried.
func RetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// ParseRetryAfter reads a Retry-After header value in either delta-seconds
// or HTTP-date form. The result is capped at MaxRetryAfter.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	var d time.Duration
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		d = time.Duration(secs) * time.Second
	} else {
		at, err := http.ParseTime(value)
		if err != nil {
			return 0, false
		}
		d = at.Sub(now)
		if d < 0 {
			d = 0
		}
	}
	return min(d, MaxRetryAfter), true
}

// RetryAfter extracts the server-requested wait from a fetch error.
func RetryAfter(err error) (time.Duration, bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.RetryAfter > 0 {
		return statusErr.RetryAfter, true
	}
	return 0, false
}

// ExponentialRetryPolicy retries transient failures with equal-jitter
// exponential backoff: half the capped delay is fixed, half is random.
type ExponentialRetryPolicy struct {
	maxAttempts int
	base        time.Duration
	ceiling     time.Duration
	jitter      func(n int64) int64
}

// NewExponentialRetryPolicy allows three retries from 250ms up to 5s.
func NewExponentialRetryPolicy() *ExponentialRetryPolicy {
	return NewExponentialRetryPolicyWith(3, 250*time.Millisecond, 5*time.Second)
}

// NewExponentialRetryPolicyWith builds a policy from explicit limits.
// Out-of-range values are clamped.
func NewExponentialRetryPolicyWith(maxAttempts int, base, ceiling time.Duration) *ExponentialRetryPolicy {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	return &ExponentialRetryPolicy{
		maxAttempts: max(maxAttempts, 0),
		base:        base,
		ceiling:     max(ceiling, base),
		jitter:      rand.Int64N,
	}
}

// MaxAttempts returns the retry bound.
func (p *ExponentialRetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry reports whether attempt may be followed by another. Caller
// cancellation, non-retryable statuses and non-timeout network errors are
// final.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return RetryableStatus(statusErr.StatusCode)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return true
}

// Backoff returns the wait before retrying after attempt.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.ceiling
	if attempt < 32 {
		if d := p.base << uint(attempt); d > 0 && d < p.ceiling {
			delay = d
		}
	}
	half := delay / 2
	if half <= 0 {
		return delay
	}
	return half + time.Duration(p.jitter(int64(half)+1))
}

// Pause blocks for delay or until ctx ends, whichever comes first.
func Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pause interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
