//go:build prometheus

package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StateCollector exposes ServerState counters as Prometheus metrics.
//
// Opt-in via the "prometheus" build tag, like the event pool collector.
//
// Example usage:
//
//	prometheus.MustRegister(server.NewStateCollector(srv.State()))
//	http.Handle("/metrics", promhttp.Handler())
type StateCollector struct {
	state *ServerState

	activeConns   *prometheus.Desc
	totalRequests *prometheus.Desc
}

// NewStateCollector creates a collector reading from state on each scrape.
func NewStateCollector(state *ServerState) *StateCollector {
	return &StateCollector{
		state: state,
		activeConns: prometheus.NewDesc(
			"surge_active_connections",
			"Current number of open connections",
			nil, nil,
		),
		totalRequests: prometheus.NewDesc(
			"surge_requests_total",
			"Total number of completed request/response exchanges",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *StateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeConns
	ch <- c.totalRequests
}

// Collect implements prometheus.Collector.
func (c *StateCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.activeConns, prometheus.GaugeValue, float64(c.state.ActiveConnections()))
	ch <- prometheus.MustNewConstMetric(c.totalRequests, prometheus.CounterValue, float64(c.state.TotalRequests()))
}
