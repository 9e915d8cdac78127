package prometheus

import (
	"time"

	"github.com/marmos91/dittofs/pkg/auth/kerberos/tgs"
	"github.com/marmos91/dittofs/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// tgsMetrics is the Prometheus implementation of tgs.Metrics.
type tgsMetrics struct {
	exchangeOperations *prometheus.CounterVec
	exchangeDuration   *prometheus.HistogramVec
	referralCache      *prometheus.CounterVec
	capathProbes       *prometheus.CounterVec
	delegateCleared    prometheus.Counter
}

func init() {
	metrics.RegisterTgsMetricsConstructor(newTgsMetrics)
}

// newTgsMetrics creates a new Prometheus-backed tgs.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func newTgsMetrics() tgs.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &tgsMetrics{
		exchangeOperations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittofs_kerberos_tgs_exchange_operations_total",
				Help: "Total number of TGS-REQ/TGS-REP exchanges by realm and status",
			},
			[]string{"realm", "status"}, // status: "success", "error"
		),
		exchangeDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittofs_kerberos_tgs_exchange_duration_milliseconds",
				Help: "Duration of TGS-REQ/TGS-REP exchanges in milliseconds",
				Buckets: []float64{
					1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000,
				},
			},
			[]string{"realm"},
		),
		referralCache: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittofs_kerberos_tgs_referral_cache_total",
				Help: "Total referral cache lookups by outcome",
			},
			[]string{"outcome"}, // "hit", "miss", "exhausted"
		),
		capathProbes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittofs_kerberos_tgs_capath_probes_total",
				Help: "Total capath traversal probes by outcome",
			},
			[]string{"outcome"}, // "success", "failure"
		),
		delegateCleared: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittofs_kerberos_tgs_delegate_cleared_total",
				Help: "Total number of credentials that had the ok-as-delegate flag cleared",
			},
		),
	}
}

func (m *tgsMetrics) ObserveExchange(realm string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.exchangeOperations.WithLabelValues(realm, status).Inc()
	m.exchangeDuration.WithLabelValues(realm).Observe(duration.Seconds() * 1000)
}

func (m *tgsMetrics) ObserveReferralCache(outcome string) {
	if m == nil {
		return
	}
	m.referralCache.WithLabelValues(outcome).Inc()
}

func (m *tgsMetrics) ObserveCapathProbe(outcome string) {
	if m == nil {
		return
	}
	m.capathProbes.WithLabelValues(outcome).Inc()
}

func (m *tgsMetrics) ObserveDelegateCleared() {
	if m == nil {
		return
	}
	m.delegateCleared.Inc()
}
