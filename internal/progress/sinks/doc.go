// Package sinks implements progress consumers: Prometheus collectors,
// structured logging, an in-memory per-host activity table, and a
// message bus forwarder.
package sinks
