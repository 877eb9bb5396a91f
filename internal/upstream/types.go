// Package upstream speaks the session-API contract exposed by each backend
// application server: GET /sessions, POST /logout/:sessionId, and
// GET /pair/:number(/). It normalizes the two payload shapes the fleet is
// known to emit so the rest of the gateway never has to branch on field
// names.
package upstream

import (
	"encoding/json"
	"fmt"
)

// sessionEntry is one element of a /sessions response. Backends report the
// session identifier under either "id" or "sessionId"; ResolvedID picks
// whichever is present, preferring "id".
type sessionEntry struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
}

// ResolvedID returns the session identifier, trying "id" before "sessionId".
func (s sessionEntry) ResolvedID() string {
	if s.ID != "" {
		return s.ID
	}
	return s.SessionID
}

// sessionsResponse is the body of GET <backend>/sessions.
type sessionsResponse struct {
	Sessions []sessionEntry `json:"sessions"`
}

// PairResult is the normalized result of GET <backend>/pair/<number>/.
// Backends report the new session id under either "sessionId" or
// "cleanNumber"; ResolvedSessionID() picks whichever is present.
type PairResult struct {
	OK          bool   `json:"ok"`
	SessionID   string `json:"sessionId"`
	CleanNumber string `json:"cleanNumber"`
	Code        string `json:"code"`
}

// ResolvedSessionID returns the paired session identifier, trying
// "sessionId" before "cleanNumber".
func (p PairResult) ResolvedSessionID() string {
	if p.SessionID != "" {
		return p.SessionID
	}
	return p.CleanNumber
}

// ErrorBody is the shape of an upstream error response: {"error": "..."}.
type ErrorBody struct {
	Error string `json:"error"`
}

// Message extracts the error text from raw, or falls back to a generic
// message derived from status if the body isn't the expected shape.
func Message(raw []byte, status int) string {
	var eb ErrorBody
	if len(raw) > 0 && json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
		return eb.Error
	}
	return fmt.Sprintf("backend returned status %d", status)
}
