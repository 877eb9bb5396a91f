package loadbalancer

import "errors"

// Capacity errors returned by SelectOptimalBackend when no backend can be
// chosen. These are never retried — only transport errors are.
var (
	// ErrAllFull means every configured backend is at or above capacity.
	ErrAllFull = errors.New("all backends are full")
	// ErrAllUnavailable means every configured backend is UNHEALTHY.
	ErrAllUnavailable = errors.New("all backends are unavailable")
	// ErrNoActiveServers means no backend is HEALTHY, but the fleet is a mix
	// of FULL and UNHEALTHY rather than uniformly one or the other.
	ErrNoActiveServers = errors.New("no active servers available")
)
