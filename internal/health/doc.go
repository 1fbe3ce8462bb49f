// Package health derives per-resource and aggregate application health
// from observed live state. Assessment is a pure function over a resource
// payload; the aggregate is a deterministic worst-case reduction
// (Degraded > Progressing > Missing > Unknown > Healthy).
package health
