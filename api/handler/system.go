package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health handles GET /health — the full state snapshot of the gateway.
func (h *Handlers) Health(c *gin.Context) {
	snap := h.ctrl.Health(c.Request.Context())
	c.JSON(http.StatusOK, envelope(true, gin.H{
		"summary": gin.H{
			"backendCount":   snap.Summary.BackendCount,
			"healthyCount":   snap.Summary.HealthyCount,
			"fullCount":      snap.Summary.FullCount,
			"unhealthyCount": snap.Summary.UnhealthyCount,
			"totalSessions":  snap.Summary.TotalSessions,
			"totalCapacity":  snap.Summary.TotalCapacity,
		},
		"servers":       newBackendViews(snap.Servers),
		"loadBalancer":  gin.H{"up": snap.LoadBalancerUp},
		"healthMonitor": gin.H{"up": snap.HealthMonitorUp},
		"sessionMapping": gin.H{
			"size":    snap.SessionMapping.Size,
			"mapping": snap.SessionMapping.Mapping,
		},
		"uptimeSeconds": snap.UptimeSeconds,
	}))
}

// Stats handles GET /stats.
func (h *Handlers) Stats(c *gin.Context) {
	backends := h.ctrl.Stats(c.Request.Context())
	c.JSON(http.StatusOK, envelope(true, gin.H{"servers": newBackendViews(backends)}))
}

// Servers handles GET /servers.
func (h *Handlers) Servers(c *gin.Context) {
	backends := h.ctrl.Servers(c.Request.Context())
	c.JSON(http.StatusOK, envelope(true, gin.H{"servers": newBackendViews(backends)}))
}

// TotalSessions handles GET /total-sessions.
func (h *Handlers) TotalSessions(c *gin.Context) {
	result := h.ctrl.TotalSessions(c.Request.Context())
	c.JSON(http.StatusOK, envelope(true, gin.H{
		"summary": gin.H{
			"backendCount":   result.Summary.BackendCount,
			"healthyCount":   result.Summary.HealthyCount,
			"fullCount":      result.Summary.FullCount,
			"unhealthyCount": result.Summary.UnhealthyCount,
			"totalSessions":  result.Summary.TotalSessions,
			"totalCapacity":  result.Summary.TotalCapacity,
		},
		"capacity":        result.Capacity,
		"alerts":          result.Alerts,
		"recommendations": result.Recommendations,
		"degraded":        result.Degraded,
	}))
}

// CheckServer handles POST /health/check/:serverId.
func (h *Handlers) CheckServer(c *gin.Context) {
	backend, err := h.ctrl.CheckServer(c.Request.Context(), c.Param("serverId"))
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, envelope(true, gin.H{"server": newBackendView(backend)}))
}

// ResetServer handles POST /servers/reset/:serverId.
func (h *Handlers) ResetServer(c *gin.Context) {
	if err := h.ctrl.ResetServer(c.Request.Context(), c.Param("serverId")); err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, envelope(true, gin.H{"serverId": c.Param("serverId")}))
}

// Banner handles GET /: a minimal identifying response plus an endpoint
// catalog.
func (h *Handlers) Banner(c *gin.Context) {
	c.JSON(http.StatusOK, envelope(true, gin.H{
		"name":   "session-gateway",
		"status": "ok",
		"endpoints": []string{
			"GET /pair/:number",
			"DELETE /delete-session/:sessionId",
			"GET /find-session/:sessionId",
			"GET /health",
			"GET /stats",
			"GET /servers",
			"GET /total-sessions",
			"POST /health/check/:serverId",
			"POST /servers/reset/:serverId",
			"GET /metrics",
		},
	}))
}
