// Package api serves the operator HTTP interface of a running crawl:
//
//	GET  /healthz                  liveness
//	GET  /readyz                   503 once the frontier stopped or its store fails
//	GET  /metrics                  Prometheus exposition
//	GET  /v1/frontier/stats        seen count, queue depth, pending hosts
//	POST /v1/frontier/seeds        admit seed URLs (X-API-Key when configured)
//	GET  /v1/frontier/hosts[/{h}]  cooldowns and fetch tallies per queued host
package api
