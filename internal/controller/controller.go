// Package controller translates inbound HTTP operations into calls against
// the registry, load balancer, and health monitor, and shapes their results
// into the response payloads the API layer serializes.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ddevcap/session-gateway/internal/healthmonitor"
	"github.com/ddevcap/session-gateway/internal/loadbalancer"
	"github.com/ddevcap/session-gateway/internal/registry"
	"github.com/ddevcap/session-gateway/internal/upstream"
)

// Controller is the public surface the HTTP layer calls into. It owns no
// state of its own beyond references to its collaborators.
type Controller struct {
	reg     *registry.Registry
	lb      *loadbalancer.LoadBalancer
	monitor *healthmonitor.Monitor
	started time.Time
}

// New builds a Controller bound to the given collaborators.
func New(reg *registry.Registry, lb *loadbalancer.LoadBalancer, monitor *healthmonitor.Monitor) *Controller {
	return &Controller{reg: reg, lb: lb, monitor: monitor, started: time.Now()}
}

// APIError carries an HTTP status and a human-readable message, the shape
// every controller operation's failure path returns.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string { return e.Message }

func newAPIError(status int, format string, args ...any) *APIError {
	return &APIError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// PairRequest is the inbound shape Pair needs to forward a pairing call.
type PairRequest struct {
	Number   string
	Header   http.Header
	ClientIP string
}

// PairResult is what Pair returns on success: the upstream status/body,
// passed through verbatim.
type PairResult struct {
	Status int
	Body   []byte
}

// Pair selects a backend, forwards the pairing request, and — if the
// upstream reports a session id — records it in the session index. Upstream
// response bodies (including ok:false ones) are never rewritten.
func (c *Controller) Pair(ctx context.Context, req PairRequest) (PairResult, error) {
	backend, err := c.lb.SelectOptimalBackend(ctx)
	if err != nil {
		return PairResult{}, c.mapSelectionError(err)
	}

	result, err := c.lb.ForwardRequest(ctx, loadbalancer.Request{
		Method:   http.MethodGet,
		Path:     "/pair/" + req.Number,
		Header:   req.Header,
		ClientIP: req.ClientIP,
	}, backend, 0)
	if err != nil {
		return PairResult{}, newAPIError(http.StatusServiceUnavailable, "pairing failed: %v", err)
	}

	if len(result.Body) == 0 {
		return PairResult{}, newAPIError(http.StatusBadGateway, "backend %s returned an empty pairing response", result.Backend.ID)
	}

	var pair upstream.PairResult
	if err := json.Unmarshal(result.Body, &pair); err == nil && pair.OK {
		if sid := pair.ResolvedSessionID(); sid != "" {
			c.reg.Index().Set(sid, result.Backend.ID)
		}
	}

	return PairResult{Status: result.Status, Body: result.Body}, nil
}

// mapSelectionError turns a selection failure into the human-readable 503
// the pairing route returns. ALL_FULL carries the fleet's used/capacity
// figures, matching the literal message the gateway has always returned.
func (c *Controller) mapSelectionError(err error) *APIError {
	switch {
	case errors.Is(err, loadbalancer.ErrAllFull):
		totals := c.reg.Totals()
		return newAPIError(http.StatusServiceUnavailable, "All API servers are full (%d/%d)", totals.TotalSessions, totals.TotalCapacity)
	case errors.Is(err, loadbalancer.ErrAllUnavailable):
		return newAPIError(http.StatusServiceUnavailable, "All API servers are unavailable")
	default:
		return newAPIError(http.StatusServiceUnavailable, "No active servers available")
	}
}

// DeleteSessionResult is what DeleteSession returns on success.
type DeleteSessionResult struct {
	Server          string
	NewSessionCount int
}

// DeleteSession resolves sessionID to a backend and logs it out there.
func (c *Controller) DeleteSession(ctx context.Context, sessionID string) (DeleteSessionResult, error) {
	backendID, _, err := c.reg.FindSessionBackend(ctx, sessionID)
	if err != nil {
		return DeleteSessionResult{}, newAPIError(http.StatusNotFound, "session %s not found", sessionID)
	}

	count, err := c.reg.DeleteSession(ctx, backendID, sessionID)
	if err != nil {
		var upstreamErr *registry.UpstreamStatusError
		if errors.As(err, &upstreamErr) {
			// Propagate the backend's own verdict: its status and, when the
			// body carries one, its error message.
			return DeleteSessionResult{}, &APIError{
				Status:  upstreamErr.Status,
				Message: upstream.Message(upstreamErr.Body, upstreamErr.Status),
			}
		}
		return DeleteSessionResult{}, newAPIError(http.StatusServiceUnavailable, "delete session failed: %v", err)
	}

	return DeleteSessionResult{Server: backendID, NewSessionCount: count}, nil
}

// FindSessionResult is what FindSession returns on success.
type FindSessionResult struct {
	Server string
	Cached bool
}

// FindSession resolves sessionID to its owning backend.
func (c *Controller) FindSession(ctx context.Context, sessionID string) (FindSessionResult, error) {
	backendID, cached, err := c.reg.FindSessionBackend(ctx, sessionID)
	if err != nil {
		return FindSessionResult{}, newAPIError(http.StatusNotFound, "session %s not found", sessionID)
	}
	return FindSessionResult{Server: backendID, Cached: cached}, nil
}

// Health is the read-only snapshot returned by the /health route.
type Health struct {
	Summary         registry.Totals
	Servers         []registry.Backend
	LoadBalancerUp  bool
	HealthMonitorUp bool
	SessionMapping  registry.IndexInfo
	UptimeSeconds   float64
}

// Health builds a snapshot of the whole gateway's current state.
func (c *Controller) Health(ctx context.Context) Health {
	return Health{
		Summary:         c.reg.Totals(),
		Servers:         c.reg.AllBackends(),
		LoadBalancerUp:  c.lb != nil,
		HealthMonitorUp: c.monitor != nil,
		SessionMapping:  c.reg.IndexInfo(),
		UptimeSeconds:   time.Since(c.started).Seconds(),
	}
}

// Stats returns per-backend counters and last-known state.
func (c *Controller) Stats(ctx context.Context) []registry.Backend {
	return c.reg.Stats()
}

// Servers returns the descriptive backend list.
func (c *Controller) Servers(ctx context.Context) []registry.Backend {
	return c.reg.AllBackends()
}

// TotalSessionsResult is the capacity view returned by /total-sessions.
type TotalSessionsResult struct {
	Summary         registry.Totals
	Capacity        map[string]int
	Alerts          []string
	Recommendations []string
	Degraded        bool
}

// TotalSessions forces a fresh SessionCount against every configured
// backend and composes capacity metrics. If every probe fails, it returns a
// degraded payload built from last-known counts rather than raising — per
// the gateway's propagation policy, aggregate read operations never fail
// the caller outright.
func (c *Controller) TotalSessions(ctx context.Context) TotalSessionsResult {
	backends := c.reg.AllBackends()

	failures := 0
	for _, b := range backends {
		if _, err := c.reg.SessionCount(ctx, b.ID); err != nil {
			failures++
			slog.Warn("controller: total-sessions probe failed", "backend", b.ID, "error", err)
		}
	}

	totals := c.reg.Totals()
	result := TotalSessionsResult{
		Summary:  totals,
		Capacity: map[string]int{"used": totals.TotalSessions, "total": totals.TotalCapacity},
	}

	if failures == len(backends) && len(backends) > 0 {
		result.Degraded = true
		result.Alerts = append(result.Alerts, "unable to refresh session counts from any backend; figures are last-known")
		return result
	}

	if totals.TotalCapacity > 0 {
		usedPct := float64(totals.TotalSessions) / float64(totals.TotalCapacity) * 100
		if usedPct >= 90 {
			result.Alerts = append(result.Alerts, fmt.Sprintf("fleet at %.0f%% of total capacity", usedPct))
			result.Recommendations = append(result.Recommendations, "consider adding another backend server")
		}
	}
	if totals.HealthyCount == 0 && len(backends) > 0 {
		result.Alerts = append(result.Alerts, "no backend is currently healthy")
	}

	return result
}

// CheckServer forces an immediate probe of a single backend.
func (c *Controller) CheckServer(ctx context.Context, serverID string) (registry.Backend, error) {
	b, err := c.monitor.CheckServer(ctx, serverID)
	if err != nil {
		if errors.Is(err, registry.ErrUnknownBackend) {
			return registry.Backend{}, newAPIError(http.StatusNotFound, "unknown backend %s", serverID)
		}
		return registry.Backend{}, newAPIError(http.StatusServiceUnavailable, "probe failed: %v", err)
	}
	return b, nil
}

// ResetServer forces a backend back to HEALTHY regardless of last-observed
// state.
func (c *Controller) ResetServer(ctx context.Context, serverID string) error {
	if err := c.reg.ResetToHealthy(serverID); err != nil {
		if errors.Is(err, registry.ErrUnknownBackend) {
			return newAPIError(http.StatusNotFound, "unknown backend %s", serverID)
		}
		return newAPIError(http.StatusInternalServerError, "reset failed: %v", err)
	}
	return nil
}
