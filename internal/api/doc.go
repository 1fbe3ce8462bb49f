// Package api holds the data types shared by every converge component:
// resource keys and payloads, planned sync operations and their outcomes,
// sync and health status enums, revision history entries, and the typed
// errors that cross package boundaries.
//
// Components depend on this package instead of on each other, which keeps
// the dependency graph acyclic: source, render, diff, executor, health,
// history and controller all speak in api types.
package api
