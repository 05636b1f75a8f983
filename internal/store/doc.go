// Package store is the embedded local store: one SQLite file holding
// filing references, download tasks with their append-only logs, and a
// generic expiring key-value cache. Schema changes are additive and run
// as idempotent migrations at open.
package store
