// Package handler adapts the controller's operations to Gin, shaping every
// response into the gateway's standard envelope: an "ok" flag, a "timestamp",
// and operation-specific fields layered on top.
package handler

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ddevcap/session-gateway/internal/controller"
	"github.com/ddevcap/session-gateway/internal/registry"
)

// Handlers holds the controller every route handler calls into.
type Handlers struct {
	ctrl *controller.Controller
}

// New builds a Handlers bound to ctrl.
func New(ctrl *controller.Controller) *Handlers {
	return &Handlers{ctrl: ctrl}
}

// envelope wraps extra with the "ok"/"timestamp" fields every inbound
// response (other than the raw pairing passthrough) carries.
func envelope(ok bool, extra gin.H) gin.H {
	out := gin.H{"ok": ok, "timestamp": time.Now().UTC().Format(time.RFC3339Nano)}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// writeAPIError maps a controller.APIError to its HTTP status and envelope;
// anything else is an unexpected internal error.
func writeAPIError(c *gin.Context, err error) {
	var apiErr *controller.APIError
	if errors.As(err, &apiErr) {
		c.JSON(apiErr.Status, envelope(false, gin.H{"error": apiErr.Message}))
		return
	}
	c.JSON(http.StatusInternalServerError, envelope(false, gin.H{"error": "internal error"}))
}

// BackendView is the JSON-serializable projection of a registry.Backend:
// the Backend type itself holds a session set and a time.Duration, neither
// of which marshal into the shape clients expect.
type BackendView struct {
	ID           string       `json:"id"`
	URL          string       `json:"url"`
	Status       string       `json:"status"`
	IsActive     bool         `json:"isActive"`
	SessionCount int          `json:"sessionCount"`
	Sessions     []string     `json:"sessions"`
	LastChecked  *time.Time   `json:"lastChecked,omitempty"`
	ResponseMs   int64        `json:"responseTimeMs"`
	Counters     CountersView `json:"counters"`
}

// CountersView is the JSON projection of registry.Counters.
type CountersView struct {
	HealthChecks    int       `json:"healthChecks"`
	Failures        int       `json:"failures"`
	DeletedSessions int       `json:"deletedSessions"`
	CreatedAt       time.Time `json:"createdAt"`
}

func newBackendView(b registry.Backend) BackendView {
	sessions := make([]string, 0, len(b.Sessions))
	for s := range b.Sessions {
		sessions = append(sessions, s)
	}
	sort.Strings(sessions)

	var lastChecked *time.Time
	if !b.LastChecked.IsZero() {
		lc := b.LastChecked
		lastChecked = &lc
	}

	return BackendView{
		ID:           b.ID,
		URL:          b.URL,
		Status:       string(b.Status),
		IsActive:     b.IsActive(),
		SessionCount: b.SessionCount,
		Sessions:     sessions,
		LastChecked:  lastChecked,
		ResponseMs:   b.ResponseTime.Milliseconds(),
		Counters: CountersView{
			HealthChecks:    b.Counters.HealthChecks,
			Failures:        b.Counters.Failures,
			DeletedSessions: b.Counters.DeletedSessions,
			CreatedAt:       b.Counters.CreatedAt,
		},
	}
}

func newBackendViews(backends []registry.Backend) []BackendView {
	out := make([]BackendView, 0, len(backends))
	for _, b := range backends {
		out = append(out, newBackendView(b))
	}
	return out
}
