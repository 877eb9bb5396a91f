package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// proxyUserAgent is the fixed User-Agent the gateway presents to backends.
const proxyUserAgent = "session-gateway/1.0"

// Client performs the gateway's outbound calls to backend servers. The
// client itself carries no overall request timeout; each call is bounded by
// the context its caller passes. The load balancer and health monitor wrap
// their calls in the configured per-request timeout; the registry's calls
// (session counts, session lookups, logouts) use the caller's context as is
// and are bounded only by the transport's dial and response-header timeouts.
type Client struct {
	http *http.Client
}

// NewClient builds a Client whose transport uses short dial/handshake
// timeouts appropriate for small JSON API calls (the gateway never streams
// media — every upstream response is a small JSON document).
func NewClient() *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		MaxIdleConnsPerHost:   10,
	}
	return &Client{http: &http.Client{Transport: transport}}
}

// Response is the outcome of a single upstream call. When Do also returns a
// non-nil error (a transport-level failure: dial/timeout/reset), Status and
// Body are not meaningful. All HTTP status codes, including 4xx/5xx, are
// reported via Status with a nil error.
type Response struct {
	Status int
	Body   []byte
	Took   time.Duration
}

// Do issues a single HTTP request built from the given pieces and returns
// the response. header may be nil. body may be nil or empty for requests
// with no payload.
func (c *Client) Do(ctx context.Context, method, url string, header http.Header, body []byte) (Response, error) {
	var reqBody io.Reader
	if len(body) > 0 {
		reqBody = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return Response{}, fmt.Errorf("upstream: building request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", proxyUserAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	took := time.Since(start)
	if err != nil {
		return Response{Took: took}, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{Status: resp.StatusCode, Took: took}, fmt.Errorf("upstream: reading response body: %w", err)
	}
	return Response{Status: resp.StatusCode, Body: raw, Took: took}, nil
}

// ListSessions calls GET <baseURL>/sessions and returns the session ids it
// reports. A non-2xx response is treated as a transport-equivalent failure
// for the caller's purposes (the session-listing contract has no documented
// error body, so any non-2xx means the backend can't be trusted right now).
func (c *Client) ListSessions(ctx context.Context, baseURL string) ([]string, time.Duration, error) {
	header := http.Header{"Accept": []string{"application/json"}}
	resp, err := c.Do(ctx, http.MethodGet, baseURL+"/sessions", header, nil)
	if err != nil {
		return nil, resp.Took, err
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return nil, resp.Took, fmt.Errorf("upstream: %s/sessions returned status %d", baseURL, resp.Status)
	}
	var parsed sessionsResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, resp.Took, fmt.Errorf("upstream: decoding sessions response: %w", err)
	}
	ids := make([]string, 0, len(parsed.Sessions))
	for _, s := range parsed.Sessions {
		if id := s.ResolvedID(); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, resp.Took, nil
}

// Logout calls POST <baseURL>/logout/<sessionID> with an empty JSON body and
// the given proxy headers. The returned status is meaningful even when err
// is nil (callers branch on 404 specifically).
func (c *Client) Logout(ctx context.Context, baseURL, sessionID string, header http.Header) (int, []byte, error) {
	if header == nil {
		header = http.Header{}
	}
	header.Set("Accept", "application/json")
	header.Set("Content-Type", "application/json")
	resp, err := c.Do(ctx, http.MethodPost, baseURL+"/logout/"+sessionID, header, []byte("{}"))
	if err != nil {
		return 0, nil, err
	}
	return resp.Status, resp.Body, nil
}
