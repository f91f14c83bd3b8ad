package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rewriter"

// Collector holds the rewriter's Prometheus metrics. It implements
// rewrite.Recorder.
type Collector struct {
	requests  *prometheus.CounterVec
	bodyBytes *prometheus.HistogramVec
	rules     prometheus.Gauge

	registry *prometheus.Registry
	handler  http.Handler
}

// NewCollector creates a Collector on its own registry, together with the
// Go runtime and process collectors.
func NewCollector() *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Responses handled by the rewrite filter, by outcome.",
		}, []string{"outcome"}),
		bodyBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "body_bytes",
			Help:      "Size of response bodies captured from the chain and emitted to clients.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 10),
		}, []string{"stage"}),
		rules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rules",
			Help:      "Number of replacement rules currently in effect.",
		}),
		registry: prometheus.NewRegistry(),
	}

	c.registry.MustRegister(
		c.requests,
		c.bodyBytes,
		c.rules,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.handler = promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
	return c
}

// ObserveRewrite records one handled response.
func (c *Collector) ObserveRewrite(outcome string, capturedBytes, emittedBytes int) {
	c.requests.WithLabelValues(outcome).Inc()
	c.bodyBytes.WithLabelValues("captured").Observe(float64(capturedBytes))
	if emittedBytes > 0 {
		c.bodyBytes.WithLabelValues("emitted").Observe(float64(emittedBytes))
	}
}

// SetRules records the size of the active rule set.
func (c *Collector) SetRules(n int) {
	c.rules.Set(float64(n))
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return c.handler
}
