// Package executor applies planned sync operations to a target
// environment. It owns the safety guarantees of a sync attempt: hook
// gating, wave barriers, stop-on-failure without automatic rollback, and
// the exactly-once history append that makes rollback possible.
package executor
