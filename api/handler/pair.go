package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ddevcap/session-gateway/internal/controller"
)

// Pair handles GET /pair/:number. The upstream body is forwarded verbatim —
// it is already the shape clients expect, ok:true or ok:false alike — so it
// is never wrapped in the standard ok/timestamp envelope.
func (h *Handlers) Pair(c *gin.Context) {
	result, err := h.ctrl.Pair(c.Request.Context(), controller.PairRequest{
		Number:   c.Param("number"),
		Header:   c.Request.Header,
		ClientIP: c.ClientIP(),
	})
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.Data(result.Status, "application/json", result.Body)
}

// DeleteSession handles DELETE /delete-session/:sessionId.
func (h *Handlers) DeleteSession(c *gin.Context) {
	result, err := h.ctrl.DeleteSession(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, envelope(true, gin.H{
		"server":          result.Server,
		"newSessionCount": result.NewSessionCount,
	}))
}

// FindSession handles GET /find-session/:sessionId.
func (h *Handlers) FindSession(c *gin.Context) {
	result, err := h.ctrl.FindSession(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, envelope(true, gin.H{
		"found":  true,
		"server": result.Server,
		"cached": result.Cached,
	}))
}
