// Package metrics exposes tokenslot's Prometheus instruments on a private
// registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tokenslot"

type Collector struct {
	registry      *prometheus.Registry
	tokenIssue    *prometheus.CounterVec
	sourceLatency prometheus.Histogram
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		tokenIssue: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "token",
				Name:      "issue_total",
				Help:      "Token issuance attempts by outcome.",
			},
			[]string{"outcome"},
		),
		sourceLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "token",
				Name:      "source_duration_seconds",
				Help:      "Time spent obtaining a raw token from the configured source.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
			},
		),
	}

	c.registry.MustRegister(
		c.tokenIssue,
		c.sourceLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) TokenIssue(outcome string) {
	c.tokenIssue.WithLabelValues(outcome).Inc()
}

func (c *Collector) SourceLatency(d time.Duration) {
	c.sourceLatency.Observe(d.Seconds())
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
