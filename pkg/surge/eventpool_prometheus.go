//go:build prometheus

package surge

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EventPoolCollector exposes EventPool counters as Prometheus metrics.
//
// Opt-in via the "prometheus" build tag so the default build carries no
// metrics dependency in the hot path.
//
// Example usage:
//
//	prometheus.MustRegister(surge.NewEventPoolCollector(pool))
//	http.Handle("/metrics", promhttp.Handler())
type EventPoolCollector struct {
	pool *EventPool

	acquires *prometheus.Desc
	hits     *prometheus.Desc
	misses   *prometheus.Desc
	releases *prometheus.Desc
	discards *prometheus.Desc
	idle     *prometheus.Desc
}

// NewEventPoolCollector creates a collector reading from pool on each scrape.
func NewEventPoolCollector(pool *EventPool) *EventPoolCollector {
	return &EventPoolCollector{
		pool: pool,
		acquires: prometheus.NewDesc(
			"surge_event_pool_acquires_total",
			"Total number of event Acquire operations",
			nil, nil,
		),
		hits: prometheus.NewDesc(
			"surge_event_pool_hits_total",
			"Total number of event pool hits (reuse)",
			nil, nil,
		),
		misses: prometheus.NewDesc(
			"surge_event_pool_misses_total",
			"Total number of event pool misses (new allocation)",
			nil, nil,
		),
		releases: prometheus.NewDesc(
			"surge_event_pool_releases_total",
			"Total number of event Release operations",
			nil, nil,
		),
		discards: prometheus.NewDesc(
			"surge_event_pool_discards_total",
			"Total number of events discarded (pool at cap)",
			nil, nil,
		),
		idle: prometheus.NewDesc(
			"surge_event_pool_idle_events",
			"Current number of idle events retained by the pool",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *EventPoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquires
	ch <- c.hits
	ch <- c.misses
	ch <- c.releases
	ch <- c.discards
	ch <- c.idle
}

// Collect implements prometheus.Collector.
func (c *EventPoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.pool.Stats()
	ch <- prometheus.MustNewConstMetric(c.acquires, prometheus.CounterValue, float64(s.Acquires))
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(c.releases, prometheus.CounterValue, float64(s.Releases))
	ch <- prometheus.MustNewConstMetric(c.discards, prometheus.CounterValue, float64(s.Discards))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.Idle))
}
