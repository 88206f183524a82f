// Package metrics holds the Prometheus collectors for the gateway. A nil
// *Metrics is valid and records nothing, so components take one optionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gateway"

// Outcome labels for tenant pool establishment.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeNotFound = "not_found"
)

// Metrics groups every collector the gateway exports.
type Metrics struct {
	AuthRequests       *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec
	CacheReloads       *prometheus.CounterVec
	CacheFlushFailures prometheus.Counter
	CacheEntries       prometheus.Gauge
	TenantPools        prometheus.Gauge
	TenantEstablish    *prometheus.CounterVec
	TenantEstablishDur prometheus.Histogram
	TenantEvictions    *prometheus.CounterVec
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in
// tests so registrations do not collide.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AuthRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_requests_total",
			Help:      "Authentication attempts by result reason (ok, authenticatorMissing, authenticationFailed, clientBlocked).",
		}, []string{"reason"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_cache_lookups_total",
			Help:      "Credential cache lookups by result (hit, miss, fallback_hit, fallback_miss).",
		}, []string{"result"}),
		CacheReloads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_cache_reloads_total",
			Help:      "Credential cache reloads from durable storage by result.",
		}, []string{"result"}),
		CacheFlushFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_cache_flush_failures_total",
			Help:      "Background persistence flushes that failed and were dropped.",
		}),
		CacheEntries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "credential_cache_entries",
			Help:      "Credentials currently held in memory.",
		}),
		TenantPools: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tenant_pools_open",
			Help:      "Live tenant connection pools.",
		}),
		TenantEstablish: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_establish_total",
			Help:      "Tenant pool establishment attempts by outcome.",
		}, []string{"outcome"}),
		TenantEstablishDur: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tenant_establish_duration_seconds",
			Help:      "Time spent opening and initializing a tenant pool.",
			Buckets:   prometheus.DefBuckets,
		}),
		TenantEvictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_evictions_total",
			Help:      "Tenant pools closed by cause (manual, unhealthy, shutdown).",
		}, []string{"cause"}),
	}
}

// Handler serves the collectors gathered by g in the text exposition
// format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// AuthResult counts one authentication outcome by failure reason.
func (m *Metrics) AuthResult(reason string) {
	if m == nil {
		return
	}
	m.AuthRequests.WithLabelValues(reason).Inc()
}

// CacheLookup counts one cache read by result.
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// CacheReload counts one reload from the durable store.
func (m *Metrics) CacheReload(ok bool) {
	if m == nil {
		return
	}
	m.CacheReloads.WithLabelValues(resultLabel(ok)).Inc()
}

// CacheFlushFailed counts one dropped flush batch.
func (m *Metrics) CacheFlushFailed() {
	if m == nil {
		return
	}
	m.CacheFlushFailures.Inc()
}

// CacheSize sets the number of cached entries.
func (m *Metrics) CacheSize(n int) {
	if m == nil {
		return
	}
	m.CacheEntries.Set(float64(n))
}

// TenantPoolsOpen sets the number of open tenant pools.
func (m *Metrics) TenantPoolsOpen(n int) {
	if m == nil {
		return
	}
	m.TenantPools.Set(float64(n))
}

// TenantEstablished records one establishment attempt.
func (m *Metrics) TenantEstablished(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.TenantEstablish.WithLabelValues(outcome).Inc()
	m.TenantEstablishDur.Observe(took.Seconds())
}

// TenantEvicted counts one closed tenant pool by cause.
func (m *Metrics) TenantEvicted(cause string) {
	if m == nil {
		return
	}
	m.TenantEvictions.WithLabelValues(cause).Inc()
}

func resultLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
