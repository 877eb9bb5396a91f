// Package config loads the gateway's runtime configuration from environment
// variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every tunable of the gateway, parsed from the environment.
type Config struct {
	// BackendServers is the fixed fleet of upstream origins, in the order
	// they are assigned ids server-1..server-N.
	BackendServers []string `env:"BACKEND_SERVERS" envSeparator:","`
	// MaxSessionsPerServer is the capacity cap that drives FULL transitions.
	MaxSessionsPerServer int `env:"MAX_SESSIONS_PER_SERVER" envDefault:"25"`
	// RequestTimeout bounds every outbound HTTP call to a backend.
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"5s"`
	// HealthCheckInterval is the period between health-monitor sweeps.
	HealthCheckInterval time.Duration `env:"HEALTH_CHECK_INTERVAL" envDefault:"10s"`
	// SessionCacheTTL bounds how long a backend's session count is trusted
	// before SessionCount re-probes.
	SessionCacheTTL time.Duration `env:"SESSION_CACHE_TTL" envDefault:"5s"`
	// MaxRetries is the number of retries ForwardRequest attempts after the
	// first try, each against a (possibly different) reselected backend.
	MaxRetries int `env:"MAX_RETRIES" envDefault:"3"`
	// RetryDelay is the base of the linear retry backoff: attempt N waits
	// RetryDelay * (N+1).
	RetryDelay time.Duration `env:"RETRY_DELAY" envDefault:"1s"`
	// Port is the TCP port the gateway's HTTP server listens on.
	Port int `env:"PORT" envDefault:"3000"`
	// LogLevel controls the slog handler's minimum level (debug|info|warn|error).
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	// ShutdownTimeout bounds how long graceful shutdown waits for in-flight
	// requests to drain.
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	// MetricsEnabled controls whether /metrics is registered.
	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`
}

// Load parses configuration from environment variables.
// Returns an error if a value cannot be parsed into the expected type, or if
// no backend servers are configured.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	cleaned := make([]string, 0, len(cfg.BackendServers))
	for _, u := range cfg.BackendServers {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		cleaned = append(cleaned, strings.TrimRight(u, "/"))
	}
	cfg.BackendServers = cleaned

	if len(cfg.BackendServers) == 0 {
		return Config{}, fmt.Errorf("config: BACKEND_SERVERS must list at least one backend url")
	}
	return cfg, nil
}
