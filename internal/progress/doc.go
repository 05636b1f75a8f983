// Package progress provides the event primitives, non-blocking hub, and
// emitter interfaces that download workers use to report task progress.
// It batches events on a background goroutine and fans them out to
// pluggable sinks such as Prometheus metrics or the task log.
package progress
