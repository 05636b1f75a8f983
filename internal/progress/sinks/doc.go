// Package sinks contains Sink implementations that fan task progress
// out to logs, Prometheus collectors, and the task log store.
package sinks
