// Package telemetry holds the provider's ambient observability surface:
// Prometheus metrics describing load/refresh/failover behavior, and (in
// tracer.go) the optional OpenTelemetry tracer used to span failover
// attempts.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a registrable collection of the provider's counters and
// histograms, grounded on the teacher's CounterVec/HistogramVec/
// MustRegister shape in this same file, repurposed from per-HTTP-route
// labels to per-domain-operation ones since the provider has no inbound
// HTTP server of its own to instrument.
type Metrics struct {
	LoadDuration    *prometheus.HistogramVec
	RefreshDuration *prometheus.HistogramVec
	RefreshTotal    *prometheus.CounterVec
	FailoverTotal   *prometheus.CounterVec
	SecretCacheHits *prometheus.CounterVec
	PublishedKeys   prometheus.Gauge
}

// NewMetrics constructs an unregistered Metrics set.
func NewMetrics() *Metrics {
	return &Metrics{
		LoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "appconfig_load_duration_seconds",
			Help:    "Duration of the initial configuration load.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		RefreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "appconfig_refresh_duration_seconds",
			Help:    "Duration of a refresh cycle, per domain.",
			Buckets: prometheus.DefBuckets,
		}, []string{"domain", "outcome"}),
		RefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "appconfig_refresh_total",
			Help: "Refresh cycles, per domain and whether they observed a change.",
		}, []string{"domain", "changed"}),
		FailoverTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "appconfig_failover_total",
			Help: "Operations that fell back to a non-primary client.",
		}, []string{"endpoint"}),
		SecretCacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "appconfig_secret_cache_total",
			Help: "Secret resolutions, split by cache hit or miss.",
		}, []string{"result"}),
		PublishedKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "appconfig_published_keys",
			Help: "Number of keys in the most recently published configuration mapping.",
		}),
	}
}

// MustRegister registers every metric against reg.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		m.LoadDuration,
		m.RefreshDuration,
		m.RefreshTotal,
		m.FailoverTotal,
		m.SecretCacheHits,
		m.PublishedKeys,
	)
}

// ObserveLoad records the initial load's duration and outcome.
func (m *Metrics) ObserveLoad(start time.Time, outcome string) {
	m.LoadDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// ObserveRefresh records one refresh cycle for domain ("keyvalues",
// "featureflags" or "secrets").
func (m *Metrics) ObserveRefresh(domain string, start time.Time, changed bool, outcome string) {
	m.RefreshDuration.WithLabelValues(domain, outcome).Observe(time.Since(start).Seconds())
	m.RefreshTotal.WithLabelValues(domain, boolLabel(changed)).Inc()
}

// ObserveFailover records that endpoint served a request after the
// primary (or a prior replica) failed.
func (m *Metrics) ObserveFailover(endpoint string) {
	m.FailoverTotal.WithLabelValues(endpoint).Inc()
}

// ObserveSecretCache records a cache hit or miss for a secret resolution.
func (m *Metrics) ObserveSecretCache(hit bool) {
	m.SecretCacheHits.WithLabelValues(boolLabel(hit)).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
