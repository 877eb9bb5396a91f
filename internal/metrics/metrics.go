// Package metrics holds the gateway's Prometheus collectors. A single
// Registry instance is constructed at startup and threaded into the load
// balancer and health monitor so their activity is visible without scraping
// the JSON /health and /stats endpoints.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the gateway's Prometheus collector set.
type Metrics struct {
	BackendStatus     *prometheus.GaugeVec
	SweepDuration     prometheus.Histogram
	SweepFailures     *prometheus.CounterVec
	Selections        *prometheus.CounterVec
	SelectionFailures *prometheus.CounterVec
	ForwardAttempts   *prometheus.CounterVec
	ForwardRetries    prometheus.Counter
	SessionIndexSize  prometheus.GaugeFunc
}

// New registers every collector against reg and returns the handle used to
// update them. Passing a fresh prometheus.NewRegistry() keeps tests free of
// the global default registry's cross-test state.
func New(reg prometheus.Registerer, sessionIndexSize func() float64) *Metrics {
	m := &Metrics{
		BackendStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gateway",
			Subsystem: "backend",
			Name:      "status",
			Help:      "Current status of each backend (1 for the active label, 0 otherwise): healthy, full, unhealthy.",
		}, []string{"backend", "status"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gateway",
			Subsystem: "health_monitor",
			Name:      "sweep_duration_seconds",
			Help:      "Wall-clock duration of one health-monitor sweep across all backends.",
			Buckets:   prometheus.DefBuckets,
		}),
		SweepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "health_monitor",
			Name:      "probe_failures_total",
			Help:      "Count of failed health probes, by backend.",
		}, []string{"backend"}),
		Selections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "loadbalancer",
			Name:      "selections_total",
			Help:      "Count of backend selections made by the load balancer, by chosen backend.",
		}, []string{"backend"}),
		SelectionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "loadbalancer",
			Name:      "selection_failures_total",
			Help:      "Count of selection failures, by classification (all_full, all_unavailable, no_active_servers).",
		}, []string{"reason"}),
		ForwardAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "loadbalancer",
			Name:      "forward_attempts_total",
			Help:      "Count of forwarded-request attempts, by outcome (success, transport_error).",
		}, []string{"outcome"}),
		ForwardRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "loadbalancer",
			Name:      "forward_retries_total",
			Help:      "Count of forward-request retries issued after a transport failure.",
		}),
	}
	m.SessionIndexSize = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "gateway",
		Subsystem: "session_index",
		Name:      "size",
		Help:      "Current number of sessionId -> backendId hints held in the session index.",
	}, sessionIndexSize)

	reg.MustRegister(
		m.BackendStatus,
		m.SweepDuration,
		m.SweepFailures,
		m.Selections,
		m.SelectionFailures,
		m.ForwardAttempts,
		m.ForwardRetries,
		m.SessionIndexSize,
	)
	return m
}

// ObserveBackendStatus sets the three status gauges for a backend so exactly
// one reads 1.
func (m *Metrics) ObserveBackendStatus(backendID, status string) {
	for _, s := range []string{"HEALTHY", "FULL", "UNHEALTHY"} {
		v := 0.0
		if s == status {
			v = 1.0
		}
		m.BackendStatus.WithLabelValues(backendID, s).Set(v)
	}
}
