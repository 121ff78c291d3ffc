// Package progress carries crawl activity events from workers to pluggable
// sinks. Emit never blocks a worker: events are buffered, batched on a
// background goroutine, and dropped under backpressure.
package progress
