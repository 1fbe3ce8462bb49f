// Package controller implements the per-application reconciliation loop.
//
// Each registered application is owned by exactly one Controller running
// the state machine Idle -> Rendering -> Diffing -> Syncing, with
// Degraded after a failed sync and Unknown before the first cycle. At
// most one cycle is in flight per application: triggers arriving during
// Rendering or Diffing cancel and restart the cycle with the newer
// context, while triggers arriving during Syncing are queued (latest
// wins) until the executor reaches a terminal state. Applications never
// share mutable state beyond the live-state observer cache and the
// history store.
//
// The Manager registers and removes applications, routes source revision
// events and debounced live-state drift events to the owning controllers,
// and exposes the operator command surface (sync, get, history, rollback,
// list).
package controller
