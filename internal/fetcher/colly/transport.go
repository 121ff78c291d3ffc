package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/crawlfrontier/internal/crawler"
)

// defaultRobotsBackoff spaces the extra robots.txt attempts. A robots
// failure parks a whole host, so it earns retries a page does not.
var defaultRobotsBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// retryTransport re-sends requests selected by match when they fail with a
// timeout. Everything else goes through once.
type retryTransport struct {
	base    http.RoundTripper
	match   func(*http.Request) bool
	backoff []time.Duration
}

func newRetryTransport(base http.RoundTripper, match func(*http.Request) bool, backoff []time.Duration) *retryTransport {
	return &retryTransport{base: base, match: match, backoff: backoff}
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("retry transport: request has no URL")
	}
	if !t.match(req) || (req.Body != nil && req.Body != http.NoBody) {
		return t.base.RoundTrip(req) //nolint:wrapcheck // transparent pass-through
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := t.base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !isTimeout(err) {
			return nil, fmt.Errorf("%s: %w", req.URL.Path, err)
		}
		lastErr = err
		if attempt >= len(t.backoff) {
			break
		}
		if err := crawler.Pause(req.Context(), t.backoff[attempt]); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%s: gave up after %d attempts: %w", req.URL.Path, len(t.backoff)+1, lastErr)
}

func isRobotsTxt(req *http.Request) bool {
	return strings.EqualFold(req.URL.Path, "/robots.txt")
}

// isTimeout matches the failures worth repeating: dial, TLS handshake and
// header timeouts.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "handshake timeout")
}
