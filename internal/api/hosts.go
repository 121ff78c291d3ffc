package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlfrontier/internal/progress/sinks"
)

const (
	defaultHostLimit = 100
	maxHostLimit     = 1000
	hostsTimeout     = 3 * time.Second
)

// CooldownReporter exposes per-host politeness state.
type CooldownReporter interface {
	NextAllowed(host string) time.Time
	Delay(host string) time.Duration
}

// ActivityReporter exposes per-host fetch tallies.
type ActivityReporter interface {
	Activity(host string) (sinks.HostActivity, bool)
}

// HostsHandler exposes read-only per-host cooldown endpoints.
type HostsHandler struct {
	frontier  Frontier
	cooldowns CooldownReporter
	activity  ActivityReporter
	timeout   time.Duration
	logger    *zap.Logger
}

// NewHostsHandler wires the frontier, cooldown source and logger. activity
// may be nil.
func NewHostsHandler(frontier Frontier, cooldowns CooldownReporter, activity ActivityReporter, logger *zap.Logger) *HostsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HostsHandler{
		frontier:  frontier,
		cooldowns: cooldowns,
		activity:  activity,
		timeout:   hostsTimeout,
		logger:    logger,
	}
}

// ListHosts handles GET /v1/frontier/hosts?limit=&offset=. Only hosts with
// queued items are listed, sorted by name.
func (h *HostsHandler) ListHosts(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultHostLimit, maxHostLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	stats, err := h.frontier.Stats(ctx)
	if err != nil {
		h.logger.Error("list hosts failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list hosts")
		return
	}
	hosts := stats.PendingHosts
	if offset > len(hosts) {
		offset = len(hosts)
	}
	end := min(offset+limit, len(hosts))

	out := make([]hostDTO, 0, end-offset)
	for _, host := range hosts[offset:end] {
		out = append(out, h.toHostDTO(host))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"hosts": out,
		"total": len(hosts),
	})
}

// GetHost handles GET /v1/frontier/hosts/{host}. Hosts need not be queued.
func (h *HostsHandler) GetHost(w http.ResponseWriter, r *http.Request) {
	host := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "host")))
	if host == "" {
		writeError(w, http.StatusBadRequest, "host is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"host": h.toHostDTO(host)})
}

func (h *HostsHandler) toHostDTO(host string) hostDTO {
	dto := hostDTO{
		Host:  host,
		Delay: h.cooldowns.Delay(host).String(),
	}
	if next := h.cooldowns.NextAllowed(host); !next.IsZero() {
		dto.NextAllowed = &next
	}
	if h.activity != nil {
		if a, ok := h.activity.Activity(host); ok {
			dto.Activity = &a
		}
	}
	return dto
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

type hostDTO struct {
	Host        string              `json:"host"`
	Delay       string              `json:"delay"`
	NextAllowed *time.Time          `json:"next_allowed,omitempty"`
	Activity    *sinks.HostActivity `json:"activity,omitempty"`
}
