package metrics

import (
	"time"

	"github.com/marmos91/dittofs/pkg/auth/kerberos/tgs"
)

// NewTgsMetrics creates a new Prometheus-backed tgs.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called). When
// nil is returned, callers should pass nil to tgs.NewEngine, which
// results in zero overhead (see tgs.Metrics' nil-is-a-no-op contract).
func NewTgsMetrics() tgs.Metrics {
	if !IsEnabled() {
		return nil
	}
	return newPrometheusTgsMetrics()
}

// newPrometheusTgsMetrics is implemented in pkg/metrics/prometheus/kerberos_tgs.go.
// This indirection avoids import cycles while keeping the API clean.
var newPrometheusTgsMetrics func() tgs.Metrics

// RegisterTgsMetricsConstructor registers the Prometheus TGS-exchange
// metrics constructor. Called by pkg/metrics/prometheus/kerberos_tgs.go's
// init() during package initialization.
func RegisterTgsMetricsConstructor(constructor func() tgs.Metrics) {
	newPrometheusTgsMetrics = constructor
}

// ObserveTgsExchange records one completed KDC exchange.
func ObserveTgsExchange(m tgs.Metrics, realm string, duration time.Duration, err error) {
	if m != nil {
		m.ObserveExchange(realm, duration, err)
	}
}

// ObserveTgsReferralCache records a referral cache lookup outcome.
func ObserveTgsReferralCache(m tgs.Metrics, outcome string) {
	if m != nil {
		m.ObserveReferralCache(outcome)
	}
}

// ObserveTgsCapathProbe records one capath probe attempt outcome.
func ObserveTgsCapathProbe(m tgs.Metrics, outcome string) {
	if m != nil {
		m.ObserveCapathProbe(outcome)
	}
}

// ObserveTgsDelegateCleared records a delegate-flag clearing event.
func ObserveTgsDelegateCleared(m tgs.Metrics) {
	if m != nil {
		m.ObserveDelegateCleared()
	}
}
