package registry

import "errors"

// ErrUnknownBackend is returned by any operation addressing a backend id
// that was never configured.
var ErrUnknownBackend = errors.New("registry: unknown backend id")

// ErrSessionNotFound is returned by FindSessionBackend when no backend,
// including after a fresh probe, reports the session.
var ErrSessionNotFound = errors.New("registry: session not found on any backend")

// UpstreamStatusError wraps a non-2xx response from a backend so callers can
// recover the original status code and body without the registry needing to
// know about HTTP framing concerns beyond "this wasn't success".
type UpstreamStatusError struct {
	Status int
	Body   []byte
}

func (e *UpstreamStatusError) Error() string {
	return "registry: upstream returned non-success status"
}
