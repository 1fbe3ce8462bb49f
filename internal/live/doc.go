// Package live maintains the observed state of a target environment: a
// synchronized cache of every engine-managed resource, refreshed by
// polling, with change notifications for drift detection. Entries are
// only ever written from observation; the differ and executor never touch
// the cache directly.
package live
