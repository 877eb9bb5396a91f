package registry

import "sync"

// SessionIndex is the advisory sessionId -> backendId hint map described by
// the gateway's data model. It is not authoritative: every consumer must
// tolerate a stale or missing entry and fall back to a probe.
type SessionIndex struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewSessionIndex returns an empty index.
func NewSessionIndex() *SessionIndex {
	return &SessionIndex{entries: make(map[string]string)}
}

// Lookup returns the backend id hinted for sessionID, if any.
func (idx *SessionIndex) Lookup(sessionID string) (backendID string, ok bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	backendID, ok = idx.entries[sessionID]
	return backendID, ok
}

// Set inserts or overwrites the hint for sessionID. Last writer wins.
func (idx *SessionIndex) Set(sessionID, backendID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries[sessionID] = backendID
}

// Delete removes the hint for sessionID, if present.
func (idx *SessionIndex) Delete(sessionID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.entries, sessionID)
}

// Len reports the number of tracked session hints.
func (idx *SessionIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Snapshot returns a copy of the full sessionId -> backendId map, used by the
// health endpoint's sessionMapping summary.
func (idx *SessionIndex) Snapshot() map[string]string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	cp := make(map[string]string, len(idx.entries))
	for k, v := range idx.entries {
		cp[k] = v
	}
	return cp
}
