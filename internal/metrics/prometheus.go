// Package metrics exports cache and invalidation metrics for Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"disclosure-cache-api/internal/cache"
)

const namespace = "disclosure_cache"

// StatsFunc reports the current cache statistics.
type StatsFunc func() cache.Stats

// Metrics holds the collectors on a private registry. It implements
// cache.Observer so the store can feed the event counters directly.
type Metrics struct {
	registry *prometheus.Registry

	// Counters
	hits          prometheus.Counter
	misses        prometheus.Counter
	evictions     prometheus.Counter
	expirations   prometheus.Counter
	invalidations *prometheus.CounterVec
	invalidated   *prometheus.CounterVec
}

var _ cache.Observer = (*Metrics)(nil)

// New builds the collectors. Gauges for key count, size and hit rate call
// stats at scrape time; stats may be nil until SetStats is called.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hits_total",
			Help:      "Cache lookups that found a live entry",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "misses_total",
			Help:      "Cache lookups that found nothing or an expired entry",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Entries evicted to stay within capacity",
		}),
		expirations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expirations_total",
			Help:      "Entries removed after their TTL elapsed",
		}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidations_total",
			Help:      "Invalidation requests by action",
		}, []string{"action"}),
		invalidated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidated_items_total",
			Help:      "Entries removed by invalidation requests, by action",
		}, []string{"action"}),
	}

	registry.MustRegister(m.hits, m.misses, m.evictions, m.expirations, m.invalidations, m.invalidated)
	return m
}

// RegisterStats adds gauges read from stats on every scrape.
func (m *Metrics) RegisterStats(stats StatsFunc) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "keys",
			Help:      "Entries currently held, including expired ones not yet swept",
		}, func() float64 { return float64(stats().TotalKeys) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "size_bytes",
			Help:      "Approximate serialized size of all values",
		}, func() float64 { return float64(stats().TotalSize) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hit_rate",
			Help:      "Hits over hits plus misses since the last clear",
		}, func() float64 { return stats().HitRate }),
	)
}

func (m *Metrics) Hit()    { m.hits.Inc() }
func (m *Metrics) Miss()   { m.misses.Inc() }
func (m *Metrics) Evict()  { m.evictions.Inc() }
func (m *Metrics) Expire() { m.expirations.Inc() }

// Invalidation records one invalidation request and how many entries it removed.
func (m *Metrics) Invalidation(action string, affected int) {
	m.invalidations.WithLabelValues(action).Inc()
	if affected > 0 {
		m.invalidated.WithLabelValues(action).Add(float64(affected))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
