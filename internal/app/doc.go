// Package app bootstraps the engine and exposes its two execution
// surfaces: the continuous serve mode running the observer, source
// watcher, and per-application reconciliation loops, and the one-shot
// operator commands (sync, status, history, rollback) used by the CLI.
package app
