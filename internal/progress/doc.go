// Package progress carries job lifecycle and per-URL events from the job
// state machines and workers to observability sinks. The hub batches events
// on a background goroutine and never blocks emitters. Events feed logs,
// metrics and publishers only; dashboard numbers come from the store.
package progress
