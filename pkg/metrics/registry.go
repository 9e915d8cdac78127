// Package metrics provides protocol-agnostic metrics collection interfaces
// and the shared Prometheus registry used by pkg/metrics/prometheus.
//
// Subsystems (cache, S3, Kerberos TGS, ...) define their own metrics
// interface in their own package and get a Prometheus-backed implementation
// through a constructor registered here. This avoids an import cycle between
// pkg/metrics and pkg/metrics/prometheus while keeping subsystems decoupled
// from Prometheus specifically.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.RWMutex
	registry *prometheus.Registry
	enabled  bool
)

// InitRegistry creates the shared Prometheus registry and marks metrics as
// enabled. Must be called before any New*Metrics constructor for those
// constructors to return a non-nil implementation.
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()

	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	enabled = true
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// GetRegistry returns the shared registry, initializing it if necessary.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	reg := registry
	mu.RUnlock()
	if reg != nil {
		return reg
	}
	return InitRegistry()
}
