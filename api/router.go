// Package api wires the gateway's Gin router: middleware chain, route table,
// and the optional Prometheus scrape endpoint.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ddevcap/session-gateway/api/handler"
	"github.com/ddevcap/session-gateway/api/middleware"
	"github.com/ddevcap/session-gateway/internal/controller"
)

// NewRouter builds the gateway's http.Handler. metricsEnabled and reg
// control whether /metrics is registered; reg may be nil when disabled.
func NewRouter(ctrl *controller.Controller, metricsEnabled bool, reg *prometheus.Registry) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.AccessLog())

	h := handler.New(ctrl)

	r.GET("/", h.Banner)
	r.GET("/pair/:number", h.Pair)
	r.DELETE("/delete-session/:sessionId", h.DeleteSession)
	r.GET("/find-session/:sessionId", h.FindSession)
	r.GET("/health", h.Health)
	r.GET("/stats", h.Stats)
	r.GET("/servers", h.Servers)
	r.GET("/total-sessions", h.TotalSessions)
	r.POST("/health/check/:serverId", h.CheckServer)
	r.POST("/servers/reset/:serverId", h.ResetServer)

	if metricsEnabled && reg != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"ok":        false,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
			"error":     "route not found",
		})
	})

	return r
}
