// Package loadbalancer selects a backend for a pairing request and forwards
// the request to it, retrying with failover on transport failure.
package loadbalancer

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ddevcap/session-gateway/internal/metrics"
	"github.com/ddevcap/session-gateway/internal/registry"
	"github.com/ddevcap/session-gateway/internal/upstream"
)

// pairPath matches exactly "/pair/<n>" with no trailing segments — the one
// path the upstream contract requires a trailing slash on.
var pairPath = regexp.MustCompile(`^/pair/[^/]+$`)

const proxyUserAgent = "session-gateway/1.0"

// Config is the subset of the gateway configuration the load balancer needs.
type Config struct {
	MaxRetries     int
	RetryDelay     time.Duration
	RequestTimeout time.Duration
}

// LoadBalancer selects and forwards to backends. A single instance is
// shared across all inbound requests; its round-robin cursor is therefore a
// process-global counter, exactly as the tie-break law requires.
type LoadBalancer struct {
	reg     *registry.Registry
	client  *upstream.Client
	cfg     Config
	metrics *metrics.Metrics

	cursor atomic.Uint64
}

// New builds a LoadBalancer. metrics may be nil, in which case observations
// are skipped.
func New(reg *registry.Registry, client *upstream.Client, cfg Config, m *metrics.Metrics) *LoadBalancer {
	return &LoadBalancer{reg: reg, client: client, cfg: cfg, metrics: m}
}

// backendCount pairs a backend with its freshly-observed session count, or a
// failure sentinel treated as +Inf.
type backendCount struct {
	backend registry.Backend
	count   int
	failed  bool
}

const infiniteCount = int(^uint(0) >> 1) // math.MaxInt, kept local to avoid importing math for one constant

// SelectOptimalBackend implements the ordered cascade from the gateway's
// selection policy: enumerate active backends, classify total failure,
// fetch live counts in parallel, drop backends at or above capacity, then
// pick the minimum count with round-robin tie-break.
func (lb *LoadBalancer) SelectOptimalBackend(ctx context.Context) (registry.Backend, error) {
	active := lb.reg.ActiveBackends()
	if len(active) == 0 {
		err := lb.classifyEmptySelection()
		lb.observeSelectionFailure(err)
		return registry.Backend{}, err
	}

	counts := lb.fetchCountsParallel(ctx, active)

	survivors := counts[:0:0]
	max := lb.reg.MaxSessionsPerServer()
	for _, bc := range counts {
		if bc.failed {
			continue
		}
		if max > 0 && bc.count >= max {
			continue
		}
		survivors = append(survivors, bc)
	}
	if len(survivors) == 0 {
		lb.observeSelectionFailure(ErrAllFull)
		return registry.Backend{}, ErrAllFull
	}

	min := survivors[0].count
	for _, bc := range survivors[1:] {
		if bc.count < min {
			min = bc.count
		}
	}
	tieSet := make([]registry.Backend, 0, len(survivors))
	for _, bc := range survivors {
		if bc.count == min {
			tieSet = append(tieSet, bc.backend)
		}
	}

	var chosen registry.Backend
	if len(tieSet) == 1 {
		chosen = tieSet[0]
	} else {
		idx := lb.cursor.Add(1) - 1
		chosen = tieSet[idx%uint64(len(tieSet))]
	}

	if lb.metrics != nil {
		lb.metrics.Selections.WithLabelValues(chosen.ID).Inc()
	}
	return chosen, nil
}

// classifyEmptySelection determines why ActiveBackends() was empty, per the
// gateway's error taxonomy: all FULL, all UNHEALTHY, or a mix of both.
func (lb *LoadBalancer) classifyEmptySelection() error {
	all := lb.reg.AllBackends()
	allFull, allUnhealthy := true, true
	for _, b := range all {
		if b.Status != registry.StatusFull {
			allFull = false
		}
		if b.Status != registry.StatusUnhealthy {
			allUnhealthy = false
		}
	}
	switch {
	case allFull:
		return ErrAllFull
	case allUnhealthy:
		return ErrAllUnavailable
	default:
		return ErrNoActiveServers
	}
}

func (lb *LoadBalancer) observeSelectionFailure(err error) {
	if lb.metrics == nil {
		return
	}
	reason := "no_active_servers"
	switch err {
	case ErrAllFull:
		reason = "all_full"
	case ErrAllUnavailable:
		reason = "all_unavailable"
	}
	lb.metrics.SelectionFailures.WithLabelValues(reason).Inc()
}

// fetchCountsParallel issues SessionCount against every active backend
// concurrently. A per-backend failure is recorded as failed=true rather than
// aborting the whole selection.
func (lb *LoadBalancer) fetchCountsParallel(ctx context.Context, active []registry.Backend) []backendCount {
	out := make([]backendCount, len(active))
	var wg sync.WaitGroup
	for i, b := range active {
		wg.Add(1)
		go func(i int, b registry.Backend) {
			defer wg.Done()
			count, err := lb.reg.SessionCount(ctx, b.ID)
			if err != nil {
				out[i] = backendCount{backend: b, count: infiniteCount, failed: true}
				return
			}
			out[i] = backendCount{backend: b, count: count}
		}(i, b)
	}
	wg.Wait()
	return out
}

// Request is the inbound request shape ForwardRequest needs: enough to
// reconstruct an equivalent outbound call without depending on any
// particular HTTP framework's request type.
type Request struct {
	Method   string
	Path     string
	Header   http.Header
	Body     []byte
	ClientIP string
}

// Result is what ForwardRequest returns on success (including upstream
// 4xx/5xx — only transport-level failures are errors).
type Result struct {
	Backend registry.Backend
	Status  int
	Body    []byte
}

// ForwardRequest forwards req to backend and retries with re-selection on
// transport failure up to Config.MaxRetries times. Callers make the first
// call with attempt=0 and a backend obtained from SelectOptimalBackend. Per
// the retry-bound law, at most MaxRetries+1 upstream attempts are made.
func (lb *LoadBalancer) ForwardRequest(ctx context.Context, req Request, backend registry.Backend, attempt int) (Result, error) {
	targetURL := lb.buildURL(backend, req.Path)
	header := lb.buildHeader(req, backend)

	reqCtx, cancel := context.WithTimeout(ctx, lb.cfg.RequestTimeout)
	defer cancel()

	resp, err := lb.client.Do(reqCtx, req.Method, targetURL, header, req.Body)
	if err != nil {
		kind := upstream.ClassifyError(err)
		if kind.MarksUnhealthy() {
			_ = lb.reg.UpdateStatus(backend.ID, registry.StatusUnhealthy, registry.StatusPatch{})
		}
		if lb.metrics != nil {
			lb.metrics.ForwardAttempts.WithLabelValues("transport_error").Inc()
		}

		if attempt < lb.cfg.MaxRetries {
			lb.sleepBackoff(ctx, attempt)
			next, selectErr := lb.SelectOptimalBackend(ctx)
			if selectErr != nil {
				// Reselection failing surfaces the ORIGINAL transport
				// error, not the selection error — retrying is moot if
				// there's nothing left to retry against, but the caller
				// asked why forwarding failed, not why reselecting did.
				return Result{}, fmt.Errorf("loadbalancer: forwarding to %s: %w", backend.ID, err)
			}
			if lb.metrics != nil {
				lb.metrics.ForwardRetries.Inc()
			}
			return lb.ForwardRequest(ctx, req, next, attempt+1)
		}
		return Result{}, fmt.Errorf("loadbalancer: forwarding to %s: %w", backend.ID, err)
	}

	if lb.metrics != nil {
		lb.metrics.ForwardAttempts.WithLabelValues("success").Inc()
	}
	return Result{Backend: backend, Status: resp.Status, Body: resp.Body}, nil
}

func (lb *LoadBalancer) buildURL(b registry.Backend, path string) string {
	target := b.URL + path
	if b.TrailingSlashPair && pairPath.MatchString(path) {
		target += "/"
	}
	return target
}

func (lb *LoadBalancer) buildHeader(req Request, b registry.Backend) http.Header {
	header := http.Header{}
	for k, vs := range req.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	header.Set("X-Forwarded-For", req.ClientIP)
	header.Set("X-Proxy-Server", b.ID)
	header.Set("X-Proxy-Timestamp", time.Now().UTC().Format(time.RFC3339Nano))
	header.Set("User-Agent", proxyUserAgent)
	header.Set("Accept", "application/json")
	if len(req.Body) > 0 {
		header.Set("Content-Type", "application/json")
	}
	return header
}

// sleepBackoff waits RetryDelay * (attempt+1). The delay is computed by
// multiplication and then handed to a cenkalti/backoff constant-interval
// policy, whose NextBackOff supplies the wait. It returns early if ctx is
// done.
func (lb *LoadBalancer) sleepBackoff(ctx context.Context, attempt int) {
	delay := lb.cfg.RetryDelay * time.Duration(attempt+1)
	policy := backoff.NewConstantBackOff(delay)
	d := policy.NextBackOff()
	if d == backoff.Stop {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
