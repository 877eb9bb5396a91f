// Package registry is the authoritative in-memory model of the backend
// fleet: per-backend health/session state and the advisory session index,
// together with the cache-coherence rules tying them together.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ddevcap/session-gateway/internal/ttlcache"
	"github.com/ddevcap/session-gateway/internal/upstream"
)

// Registry holds every configured backend plus the session index and the
// per-backend session-count cache. A single RWMutex guards all backend
// mutation; this is deliberate — the fleet is small
// enough that a registry-wide lock never becomes a bottleneck, and it keeps
// every invariant (status/counters/sessions updated together) trivially
// atomic.
type Registry struct {
	mu       sync.RWMutex
	order    []string // backend ids in configured order, fixed at construction
	backends map[string]*Backend

	index                *SessionIndex
	countCache           *ttlcache.Cache[int]
	cacheTTL             time.Duration
	client               *upstream.Client
	maxSessionsPerServer int
}

// New builds a Registry from the given backend URLs, in order, assigning
// ids server-1..server-N. Every backend starts HEALTHY with zero sessions —
// the health monitor's first sweep (run immediately on Start) establishes
// ground truth.
func New(urls []string, client *upstream.Client, sessionCacheTTL time.Duration, maxSessionsPerServer int) *Registry {
	r := &Registry{
		backends:             make(map[string]*Backend, len(urls)),
		index:                NewSessionIndex(),
		countCache:           ttlcache.New[int](),
		cacheTTL:             sessionCacheTTL,
		client:               client,
		maxSessionsPerServer: maxSessionsPerServer,
	}
	now := time.Now()
	for i, u := range urls {
		id := fmt.Sprintf("server-%d", i+1)
		r.order = append(r.order, id)
		r.backends[id] = &Backend{
			ID:                id,
			URL:               u,
			TrailingSlashPair: true,
			Status:            StatusHealthy,
			Sessions:          make(map[string]struct{}),
			Counters:          Counters{CreatedAt: now},
		}
	}
	return r
}

// Index returns the session index, for components (health monitor,
// controller's pairing path) that need direct access.
func (r *Registry) Index() *SessionIndex { return r.index }

// MaxSessionsPerServer returns the configured per-backend capacity cap.
func (r *Registry) MaxSessionsPerServer() int { return r.maxSessionsPerServer }

// Close releases background resources (the session-count cache's janitor
// goroutine). Call once during shutdown.
func (r *Registry) Close() { r.countCache.Stop() }

// AllBackends returns a snapshot of every configured backend, in configured
// order.
func (r *Registry) AllBackends() []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Backend, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.backends[id].clone())
	}
	return out
}

// ActiveBackends returns a snapshot of every backend currently HEALTHY, in
// configured order.
func (r *Registry) ActiveBackends() []Backend {
	all := r.AllBackends()
	out := all[:0:0]
	for _, b := range all {
		if b.IsActive() {
			out = append(out, b)
		}
	}
	return out
}

// Get returns a snapshot of the backend with the given id.
func (r *Registry) Get(id string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[id]
	if !ok {
		return Backend{}, ErrUnknownBackend
	}
	return b.clone(), nil
}

// UpdateStatus transitions backend id to newStatus, applying patch, and
// updates bookkeeping: lastChecked = now, healthChecks++, and failures++ iff
// this call transitions the backend INTO UNHEALTHY. It invalidates the
// backend's session-count cache entry on every call, including
// status-preserving ones, so cache lifetime is tied to the last observation
// rather than the last transition.
func (r *Registry) UpdateStatus(id string, newStatus Status, patch StatusPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.backends[id]
	if !ok {
		return ErrUnknownBackend
	}

	wasUnhealthy := b.Status == StatusUnhealthy
	b.Status = newStatus
	b.LastChecked = time.Now()
	b.Counters.HealthChecks++
	if newStatus == StatusUnhealthy && !wasUnhealthy {
		b.Counters.Failures++
	}

	if patch.SessionCount != nil {
		b.SessionCount = *patch.SessionCount
	}
	if patch.Sessions != nil {
		set := make(map[string]struct{}, len(patch.Sessions))
		for _, s := range patch.Sessions {
			set[s] = struct{}{}
		}
		b.Sessions = set
	}
	if patch.ResponseTime != nil {
		b.ResponseTime = *patch.ResponseTime
	}

	r.countCache.Delete(sessionCountCacheKey(id))
	return nil
}

// ResetToHealthy forces backend id back to HEALTHY regardless of its last
// observed state. Used by the forced-reset admin operation.
func (r *Registry) ResetToHealthy(id string) error {
	return r.UpdateStatus(id, StatusHealthy, StatusPatch{})
}

func sessionCountCacheKey(id string) string { return "sessions_" + id }

// SessionCount is the hot path consulted by the load balancer. It returns
// the cached count if fresh; otherwise it probes the backend's /sessions
// endpoint, refreshes the backend's session set and the session index,
// caches the result, and returns it.
func (r *Registry) SessionCount(ctx context.Context, id string) (int, error) {
	if cached, ok := r.countCache.Get(sessionCountCacheKey(id)); ok {
		return cached, nil
	}

	url, err := r.backendURL(id)
	if err != nil {
		return 0, err
	}

	ids, took, err := r.client.ListSessions(ctx, url)
	if err != nil {
		kind := upstream.ClassifyError(err)
		if kind.MarksUnhealthy() {
			_ = r.UpdateStatus(id, StatusUnhealthy, StatusPatch{})
		}
		return 0, fmt.Errorf("registry: session count for %s: %w", id, err)
	}

	for _, sid := range ids {
		r.index.Set(sid, id)
	}
	count := len(ids)
	took2 := took
	if err := r.UpdateStatus(id, r.statusForCount(count), StatusPatch{
		SessionCount: &count,
		Sessions:     ids,
		ResponseTime: &took2,
	}); err != nil {
		return 0, err
	}
	r.countCache.Set(sessionCountCacheKey(id), count, r.cacheTTL)
	return count, nil
}

func (r *Registry) statusForCount(count int) Status {
	max := r.maxSessionsPerServer
	if max > 0 && count >= max {
		return StatusFull
	}
	return StatusHealthy
}

// FindSessionBackend resolves sessionID to a backend id in three stages:
// index hint, in-memory scan, then probing each backend in turn. The first
// match at any stage wins; cached reports whether the match came from the
// index/memory (true) or required a fresh probe (false).
func (r *Registry) FindSessionBackend(ctx context.Context, sessionID string) (backendID string, cached bool, err error) {
	if id, ok := r.index.Lookup(sessionID); ok {
		if _, err := r.Get(id); err == nil {
			return id, true, nil
		}
		r.index.Delete(sessionID) // stale hint: named backend no longer exists
	}

	for _, b := range r.AllBackends() {
		if b.HasSession(sessionID) {
			r.index.Set(sessionID, b.ID)
			return b.ID, true, nil
		}
	}

	for _, b := range r.AllBackends() {
		url, uerr := r.backendURL(b.ID)
		if uerr != nil {
			continue
		}
		ids, took, lerr := r.client.ListSessions(ctx, url)
		if lerr != nil {
			kind := upstream.ClassifyError(lerr)
			if kind.MarksUnhealthy() {
				_ = r.UpdateStatus(b.ID, StatusUnhealthy, StatusPatch{})
			}
			continue
		}
		count := len(ids)
		took2 := took
		_ = r.UpdateStatus(b.ID, r.statusForCount(count), StatusPatch{
			SessionCount: &count,
			Sessions:     ids,
			ResponseTime: &took2,
		})
		for _, sid := range ids {
			r.index.Set(sid, b.ID)
		}
		if _, ok := r.findInList(ids, sessionID); ok {
			return b.ID, false, nil
		}
	}

	return "", false, ErrSessionNotFound
}

func (r *Registry) findInList(ids []string, target string) (string, bool) {
	for _, id := range ids {
		if id == target {
			return id, true
		}
	}
	return "", false
}

// DeleteSession logs the session out of backendID and updates local state.
// On a backend 404 it still performs local cleanup before returning the
// 404 to the caller via UpstreamStatusError.
func (r *Registry) DeleteSession(ctx context.Context, backendID, sessionID string) (newCount int, err error) {
	url, err := r.backendURL(backendID)
	if err != nil {
		return 0, err
	}

	header := http.Header{"X-Proxy-Server": []string{backendID}}
	status, body, err := r.client.Logout(ctx, url, sessionID, header)
	if err != nil {
		kind := upstream.ClassifyError(err)
		if kind.MarksUnhealthy() {
			_ = r.UpdateStatus(backendID, StatusUnhealthy, StatusPatch{})
		}
		return 0, fmt.Errorf("registry: delete session on %s: %w", backendID, err)
	}

	if status < 200 || status >= 300 {
		if status == http.StatusNotFound {
			newCount, cerr := r.cleanupSession(backendID, sessionID)
			if cerr != nil {
				slog.Warn("registry: cleanup after 404 failed", "backend", backendID, "session", sessionID, "error", cerr)
			}
			return newCount, &UpstreamStatusError{Status: status, Body: body}
		}
		return 0, &UpstreamStatusError{Status: status, Body: body}
	}

	return r.cleanupSession(backendID, sessionID)
}

// cleanupSession removes sessionID from backendID's in-memory set and the
// session index, decrements its session count (floored at 0), increments
// deletedSessions, and invalidates the session-count cache — regardless of
// whether the upstream call itself reported success or a 404.
func (r *Registry) cleanupSession(backendID, sessionID string) (int, error) {
	r.mu.Lock()
	b, ok := r.backends[backendID]
	if !ok {
		r.mu.Unlock()
		return 0, ErrUnknownBackend
	}
	delete(b.Sessions, sessionID)
	if b.SessionCount > 0 {
		b.SessionCount--
	}
	b.Counters.DeletedSessions++
	newCount := b.SessionCount
	r.mu.Unlock()

	r.index.Delete(sessionID)
	r.countCache.Delete(sessionCountCacheKey(backendID))
	return newCount, nil
}

func (r *Registry) backendURL(id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[id]
	if !ok {
		return "", ErrUnknownBackend
	}
	return b.URL, nil
}

// Totals summarizes session counts across the whole fleet.
type Totals struct {
	BackendCount   int
	HealthyCount   int
	FullCount      int
	UnhealthyCount int
	TotalSessions  int
	TotalCapacity  int
}

// Totals computes fleet-wide aggregates from last-known (not freshly probed)
// backend state.
func (r *Registry) Totals() Totals {
	var t Totals
	for _, b := range r.AllBackends() {
		t.BackendCount++
		switch b.Status {
		case StatusHealthy:
			t.HealthyCount++
		case StatusFull:
			t.FullCount++
		case StatusUnhealthy:
			t.UnhealthyCount++
		}
		t.TotalSessions += b.SessionCount
		t.TotalCapacity += r.maxSessionsPerServer
	}
	return t
}

// IndexInfo summarizes the session index for the health endpoint.
type IndexInfo struct {
	Size    int
	Mapping map[string]string
}

// IndexInfo returns a summary of the current session index.
func (r *Registry) IndexInfo() IndexInfo {
	snap := r.index.Snapshot()
	return IndexInfo{Size: len(snap), Mapping: snap}
}

// Stats returns a snapshot of every backend's counters and last-known state,
// for the /stats endpoint. It is identical to AllBackends — kept as a
// separate name because the two callers (the admin stats view vs. internal
// capacity checks) are conceptually distinct and may diverge later.
func (r *Registry) Stats() []Backend {
	return r.AllBackends()
}
