package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlfrontier/internal/crawler"
	"github.com/JakeFAU/crawlfrontier/internal/metrics"
)

const (
	maxSeedsPerRequest = 1000
	seedTimeout        = 10 * time.Second
	requestTimeout     = time.Minute
)

// Frontier is the slice of the frontier the API drives.
type Frontier interface {
	Seed(ctx context.Context, urls ...string) (int, error)
	Stats(ctx context.Context) (crawler.Stats, error)
}

// Options tunes optional server behavior.
type Options struct {
	// APIKey, when set, is required on mutating routes.
	APIKey string
	// Cooldowns backs the hosts routes; nil disables them.
	Cooldowns CooldownReporter
	// Activity adds fetch tallies to the hosts routes when set.
	Activity ActivityReporter
}

// Server wires HTTP handlers to the frontier.
type Server struct {
	router   chi.Router
	frontier Frontier
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(frontier Frontier, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		frontier: frontier,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(accessLog(logger))
	r.Use(recoverPanics(logger))
	r.Use(metrics.Middleware)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1/frontier", func(r chi.Router) {
		r.Get("/stats", s.stats)
		r.Group(func(r chi.Router) {
			if opts.APIKey != "" {
				r.Use(requireAPIKey(opts.APIKey))
			}
			r.Post("/seeds", s.submitSeeds)
		})
		if opts.Cooldowns != nil {
			hosts := NewHostsHandler(frontier, opts.Cooldowns, opts.Activity, logger)
			r.Get("/hosts", hosts.ListHosts)
			r.Get("/hosts/{host}", hosts.GetHost)
		}
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports 503 once the frontier has stopped or its store fails.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	stats, err := s.frontier.Stats(r.Context())
	if err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "frontier store unavailable")
		return
	}
	if stats.Stopped {
		writeError(w, http.StatusServiceUnavailable, "frontier stopped")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.frontier.Stats(r.Context())
	if err != nil {
		s.logger.Error("frontier stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	if stats.PendingHosts == nil {
		stats.PendingHosts = []string{}
	}
	writeJSON(w, http.StatusOK, stats)
}

type seedRequest struct {
	URLs []string `json:"urls"`
}

func (s *Server) submitSeeds(w http.ResponseWriter, r *http.Request) {
	var req seedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls required")
		return
	}
	if len(req.URLs) > maxSeedsPerRequest {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d urls per request", maxSeedsPerRequest))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), seedTimeout)
	defer cancel()
	admitted, err := s.frontier.Seed(ctx, req.URLs...)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, crawler.ErrStopped):
			status = http.StatusServiceUnavailable
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusRequestTimeout
		}
		s.logger.Error("seed submission failed", zap.Error(err), zap.Int("admitted", admitted))
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{
		"submitted": len(req.URLs),
		"admitted":  admitted,
	})
}
