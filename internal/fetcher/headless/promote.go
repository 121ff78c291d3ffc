package headless

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlfrontier/internal/crawler"
	"github.com/JakeFAU/crawlfrontier/internal/metrics"
)

// Detector decides whether a plain fetch needs a browser render.
type Detector interface {
	ShouldPromote(result crawler.FetchResult) bool
}

// Promoting fetches with a plain HTTP fetcher and re-renders the page in
// the browser when the detector flags it. A failed render falls back to
// the plain result.
type Promoting struct {
	primary  crawler.Fetcher
	renderer crawler.Fetcher
	detector Detector
	logger   *zap.Logger
}

// NewPromoting wires the two fetchers and the detector.
func NewPromoting(primary, renderer crawler.Fetcher, detector Detector, logger *zap.Logger) *Promoting {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoting{
		primary:  primary,
		renderer: renderer,
		detector: detector,
		logger:   logger,
	}
}

// Fetch implements crawler.Fetcher.
func (p *Promoting) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResult, error) {
	result, err := p.primary.Fetch(ctx, request)
	if err != nil || result.IsRedirect() || !p.detector.ShouldPromote(result) {
		return result, err
	}

	rendered, err := p.renderer.Fetch(ctx, request)
	if err != nil {
		metrics.ObserveHeadlessRender("fallback")
		p.logger.Warn("headless render failed; keeping plain response",
			zap.String("url", request.URL),
			zap.Error(err),
		)
		return result, nil
	}
	metrics.ObserveHeadlessRender("rendered")
	p.logger.Debug("rendered page in headless browser",
		zap.String("url", request.URL),
		zap.Int("plain_bytes", len(result.Body)),
		zap.Int("rendered_bytes", len(rendered.Body)),
	)
	rendered.Duration += result.Duration
	if rendered.Headers.Get("Content-Type") == "" {
		rendered.Headers = result.Headers
	}
	return rendered, nil
}

var _ crawler.Fetcher = (*Promoting)(nil)
