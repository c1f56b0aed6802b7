// Package metrics collects command counters and latencies with Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector provides command metrics collection. A nil *Collector is valid
// and records nothing.
type Collector struct {
	registry *prometheus.Registry

	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	listLength      prometheus.Histogram
	lists           prometheus.Gauge
}

// NewCollector creates a collector with its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "geomys"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands handled, by command and outcome status",
		},
		[]string{"command", "status"},
	)
	c.commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Command handling latency",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 8),
		},
		[]string{"command"},
	)
	c.listLength = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "list_length",
			Help:      "Length of a list after a command changed it",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		},
	)
	c.lists = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lists",
			Help:      "Number of keys holding a list",
		},
	)

	c.registry.MustRegister(c.commandsTotal, c.commandDuration, c.listLength, c.lists)
	return c
}

// ObserveCommand records one handled command. Callers keep command to a
// fixed set of names.
func (c *Collector) ObserveCommand(command, status string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.commandsTotal.WithLabelValues(command, status).Inc()
	c.commandDuration.WithLabelValues(command).Observe(elapsed.Seconds())
}

// ObserveListLength records the length a list was left at.
func (c *Collector) ObserveListLength(length int) {
	if c == nil {
		return
	}
	c.listLength.Observe(float64(length))
}

// SetListCount records how many keys currently hold a list.
func (c *Collector) SetListCount(n int) {
	if c == nil {
		return
	}
	c.lists.Set(float64(n))
}

// Handler serves the collected metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
