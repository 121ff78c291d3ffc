package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlfrontier/internal/crawler"
	"github.com/JakeFAU/crawlfrontier/internal/progress"
	"github.com/JakeFAU/crawlfrontier/internal/progress/sinks"
)

func nopLogger() *zap.Logger { return zap.NewNop() }

func TestHostsHandler_ListHosts(t *testing.T) {
	t.Parallel()

	next := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	frontier := &fakeFrontier{stats: crawler.Stats{PendingHosts: []string{"a.test", "b.test", "c.test"}}}
	cooldowns := &fakeCooldowns{next: map[string]time.Time{"b.test": next}, delay: 2 * time.Second}
	server := NewServer(frontier, Options{Cooldowns: cooldowns}, nil)

	rec := serve(server, http.MethodGet, "/v1/frontier/hosts?limit=2&offset=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Hosts []hostDTO `json:"hosts"`
		Total int       `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 3, body.Total)
	require.Len(t, body.Hosts, 2)
	require.Equal(t, "b.test", body.Hosts[0].Host)
	require.NotNil(t, body.Hosts[0].NextAllowed)
	require.True(t, next.Equal(*body.Hosts[0].NextAllowed))
	require.Equal(t, "2s", body.Hosts[0].Delay)
	require.Equal(t, "c.test", body.Hosts[1].Host)
	require.Nil(t, body.Hosts[1].NextAllowed)
}

func TestHostsHandler_OffsetPastEnd(t *testing.T) {
	t.Parallel()

	frontier := &fakeFrontier{stats: crawler.Stats{PendingHosts: []string{"a.test"}}}
	server := NewServer(frontier, Options{Cooldowns: &fakeCooldowns{}}, nil)

	rec := serve(server, http.MethodGet, "/v1/frontier/hosts?offset=10", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"hosts":[]`)
}

func TestHostsHandler_InvalidPaging(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeFrontier{}, Options{Cooldowns: &fakeCooldowns{}}, nil)
	for _, query := range []string{"limit=0", "limit=x", "offset=-1"} {
		rec := serve(server, http.MethodGet, "/v1/frontier/hosts?"+query, nil, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestHostsHandler_GetHost(t *testing.T) {
	t.Parallel()

	cooldowns := &fakeCooldowns{delay: time.Second}
	server := NewServer(&fakeFrontier{}, Options{Cooldowns: cooldowns}, nil)

	rec := serve(server, http.MethodGet, "/v1/frontier/hosts/Example.COM", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"host":"example.com"`)
	require.Contains(t, rec.Body.String(), `"delay":"1s"`)
}

func TestHostsHandler_GetHostWithActivity(t *testing.T) {
	t.Parallel()

	activity := sinks.NewActivitySink()
	require.NoError(t, activity.Consume(context.Background(), []progress.Event{
		{Stage: progress.StageFetchDone, Host: "example.com", StatusClass: progress.Status2xx, Bytes: 10, TS: time.Now()},
		{Stage: progress.StageRetry, Host: "example.com", TS: time.Now()},
	}))
	server := NewServer(&fakeFrontier{}, Options{Cooldowns: &fakeCooldowns{}, Activity: activity}, nil)

	rec := serve(server, http.MethodGet, "/v1/frontier/hosts/example.com", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Host struct {
			Activity *sinks.HostActivity `json:"activity"`
		} `json:"host"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Host.Activity)
	require.Equal(t, int64(1), body.Host.Activity.Fetch2xx)
	require.Equal(t, int64(1), body.Host.Activity.Retries)

	rec = serve(server, http.MethodGet, "/v1/frontier/hosts/quiet.test", nil, nil)
	require.NotContains(t, rec.Body.String(), "activity")
}
