// Package diff computes the minimal operation set that converges a live
// resource snapshot onto a desired one.
//
// Comparison is structural over normalized payloads: platform-owned
// metadata, status and engine tracking labels never count as drift.
// Operations are grouped into ascending sync waves and ordered
// lexicographically within a wave, so the same snapshot pair always
// produces the same plan.
package diff
