// Package collyfetcher implements crawler.Fetcher using gocolly. Redirects
// are not followed: the 3xx response is returned with its target so the
// frontier can admit it as a new item.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/crawlfrontier/internal/crawler"
)

const (
	defaultTimeout = 15 * time.Second
	defaultAccept  = "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8"
)

// Config controls collector behavior.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int
}

// Fetcher issues single GETs through a shared colly backend.
type Fetcher struct {
	base *colly.Collector
}

// New builds a Fetcher. Robots rules are enforced by the frontier, and
// retries and robots refreshes revisit URLs, so colly's own checks are off.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize
	}
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	// Clones share the backend client, so transport and timeout are set
	// once here.
	c.SetRequestTimeout(cfg.Timeout)
	c.WithTransport(newRetryTransport(newHTTPTransport(), isRobotsTxt, defaultRobotsBackoff))
	c.SetRedirectHandler(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	})
	return &Fetcher{base: c}
}

// Fetch executes one GET. Non-2xx statuses are returned as results, not
// errors.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResult, error) {
	ex := &exchange{start: time.Now()}
	c := f.base.Clone()
	c.Context = ctx
	c.OnResponse(ex.response)
	c.OnError(ex.fail)

	err := c.Request(http.MethodGet, request.URL, nil, nil, requestHeaders(request.Headers))
	if ctxErr := ctx.Err(); ctxErr != nil {
		return crawler.FetchResult{}, fmt.Errorf("fetch %s canceled: %w", request.URL, ctxErr)
	}
	if err == nil {
		err = ex.err
	}
	if err != nil {
		return crawler.FetchResult{}, fmt.Errorf("fetch %s: %w", request.URL, err)
	}
	if !ex.done {
		return crawler.FetchResult{}, errors.New("fetch " + request.URL + ": no response")
	}
	return ex.result, nil
}

func requestHeaders(in http.Header) http.Header {
	hdr := in.Clone()
	if hdr == nil {
		hdr = http.Header{}
	}
	if hdr.Get("Accept") == "" {
		hdr.Set("Accept", defaultAccept)
	}
	return hdr
}

// exchange collects the outcome of one request from colly's callbacks,
// which run on the caller's goroutine because the collector is synchronous.
type exchange struct {
	start  time.Time
	result crawler.FetchResult
	done   bool
	err    error
}

func (e *exchange) response(r *colly.Response) {
	e.done = true
	e.result = crawler.FetchResult{
		StatusCode: r.StatusCode,
		Duration:   time.Since(e.start),
	}
	if r.Request != nil && r.Request.URL != nil {
		e.result.URL = r.Request.URL.String()
	}
	if r.Headers != nil {
		e.result.Headers = r.Headers.Clone()
	}
	if r.StatusCode >= 300 && r.StatusCode < 400 {
		if target := redirectTarget(r); target != "" {
			e.result.RedirectTarget = target
			return
		}
	}
	e.result.Body = append([]byte(nil), r.Body...)
}

func (e *exchange) fail(_ *colly.Response, err error) {
	e.err = err
}

// redirectTarget resolves the Location header against the request URL.
func redirectTarget(r *colly.Response) string {
	if r.Headers == nil {
		return ""
	}
	location := r.Headers.Get("Location")
	if location == "" {
		return ""
	}
	if r.Request != nil && r.Request.URL != nil {
		if ref, err := r.Request.URL.Parse(location); err == nil {
			return ref.String()
		}
	}
	return location
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 20 * time.Second,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
}

var _ crawler.Fetcher = (*Fetcher)(nil)
