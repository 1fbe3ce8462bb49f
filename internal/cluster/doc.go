// Package cluster defines the capability set the engine requires from a
// target environment and ships two implementations: an in-memory store
// used by tests and the standalone demo mode, and an adapter for
// Kubernetes clusters backed by the dynamic client.
//
// The engine never talks to a target environment except through
// cluster.Interface, so adding a new execution platform means implementing
// five methods.
package cluster
