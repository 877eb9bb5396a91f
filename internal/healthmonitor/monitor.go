// Package healthmonitor runs the periodic probe loop that drives backend
// status transitions and keeps the session index warm.
package healthmonitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ddevcap/session-gateway/internal/metrics"
	"github.com/ddevcap/session-gateway/internal/registry"
	"github.com/ddevcap/session-gateway/internal/upstream"
)

// Monitor periodically probes every configured backend's /sessions endpoint
// and updates the registry with the observed status and session list.
type Monitor struct {
	reg      *registry.Registry
	client   *upstream.Client
	interval time.Duration
	timeout  time.Duration
	metrics  *metrics.Metrics

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a Monitor bound to reg. Call Start to begin probing.
func New(reg *registry.Registry, client *upstream.Client, interval, timeout time.Duration, m *metrics.Metrics) *Monitor {
	return &Monitor{reg: reg, client: client, interval: interval, timeout: timeout, metrics: m}
}

// Start begins the background probe loop: one immediate sweep, then one
// every interval, until Stop is called. Calling Start a second time while
// already running logs a warning and is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	if !m.running.CompareAndSwap(false, true) {
		slog.Warn("health monitor: start called while already running")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)

		// Sweeps run on ctx, not runCtx, so that Stop ends the loop without
		// cancelling probes already in flight.
		m.sweep(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				m.sweep(ctx)
			}
		}
	}()
}

// Stop signals the probe loop to stop and waits for the in-flight sweep (if
// any) to finish. It does not cancel individual probes mid-flight; they run
// to completion or timeout on their own.
func (m *Monitor) Stop() {
	if !m.running.CompareAndSwap(true, false) {
		return
	}
	if m.cancel != nil {
		m.cancel()
	}
	<-m.done
}

// sweep probes every configured backend concurrently and records the
// sweep's wall-clock duration.
func (m *Monitor) sweep(ctx context.Context) {
	start := time.Now()
	backends := m.reg.AllBackends()

	var wg sync.WaitGroup
	for _, b := range backends {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := m.probeOne(ctx, id); err != nil {
				slog.Warn("health monitor: probe failed", "backend", id, "error", err)
			}
		}(b.ID)
	}
	wg.Wait()

	if m.metrics != nil {
		m.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}
}

// CheckServer performs a single targeted probe of id and returns the
// updated backend. It returns an error if id is unknown.
func (m *Monitor) CheckServer(ctx context.Context, id string) (registry.Backend, error) {
	if err := m.probeOne(ctx, id); err != nil {
		if _, getErr := m.reg.Get(id); getErr != nil {
			return registry.Backend{}, getErr
		}
	}
	return m.reg.Get(id)
}

func (m *Monitor) probeOne(ctx context.Context, id string) error {
	b, err := m.reg.Get(id)
	if err != nil {
		return err
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	ids, took, err := m.client.ListSessions(probeCtx, b.URL)
	if err != nil {
		if m.metrics != nil {
			m.metrics.SweepFailures.WithLabelValues(id).Inc()
		}
		_ = m.reg.UpdateStatus(id, registry.StatusUnhealthy, registry.StatusPatch{ResponseTime: &took})
		if m.metrics != nil {
			m.metrics.ObserveBackendStatus(id, string(registry.StatusUnhealthy))
		}
		return fmt.Errorf("healthmonitor: probing %s: %w", id, err)
	}

	max := m.reg.MaxSessionsPerServer()
	status := registry.StatusHealthy
	if max > 0 && len(ids) >= max {
		status = registry.StatusFull
	}
	count := len(ids)
	took2 := took
	if err := m.reg.UpdateStatus(id, status, registry.StatusPatch{
		SessionCount: &count,
		Sessions:     ids,
		ResponseTime: &took2,
	}); err != nil {
		return err
	}
	for _, sid := range ids {
		m.reg.Index().Set(sid, id)
	}
	if m.metrics != nil {
		m.metrics.ObserveBackendStatus(id, string(status))
	}
	return nil
}
