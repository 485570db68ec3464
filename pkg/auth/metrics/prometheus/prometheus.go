package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements auth.Metrics using Prometheus.
type Metrics struct {
	authenticationsTotal *prometheus.CounterVec
	keysIssuedTotal      *prometheus.CounterVec
	keysRevokedTotal     prometheus.Counter
	quotaRejectionsTotal *prometheus.CounterVec
	storageOpsDuration   *prometheus.HistogramVec
	storageOpsErrors     *prometheus.CounterVec
	cacheHitsTotal       *prometheus.CounterVec
	cacheMissesTotal     *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		authenticationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authentications_total",
			Help:      "Total number of bearer resolution attempts.",
		}, []string{"result"}),

		keysIssuedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_keys_issued_total",
			Help:      "Total number of API keys minted.",
		}, []string{"tier"}),

		keysRevokedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_keys_revoked_total",
			Help:      "Total number of API keys revoked.",
		}),

		quotaRejectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_key_quota_rejections_total",
			Help:      "Total number of key creations refused by the tier cap.",
		}, []string{"tier"}),

		storageOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Latency of storage operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operation_errors_total",
			Help:      "Total number of storage operation errors.",
		}, []string{"operation"}),

		cacheHitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits.",
		}, []string{"type"}),

		cacheMissesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses.",
		}, []string{"type"}),
	}
}

func (m *Metrics) RecordAuthentication(result string) {
	m.authenticationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordKeyIssued(tier string) {
	m.keysIssuedTotal.WithLabelValues(tier).Inc()
}

func (m *Metrics) RecordKeyRevoked() {
	m.keysRevokedTotal.Inc()
}

func (m *Metrics) RecordQuotaRejection(tier string) {
	m.quotaRejectionsTotal.WithLabelValues(tier).Inc()
}

func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) RecordCacheHit(cacheType string) {
	m.cacheHitsTotal.WithLabelValues(cacheType).Inc()
}

func (m *Metrics) RecordCacheMiss(cacheType string) {
	m.cacheMissesTotal.WithLabelValues(cacheType).Inc()
}

// DefaultMetrics returns a Metrics implementation using the default Prometheus registerer.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
