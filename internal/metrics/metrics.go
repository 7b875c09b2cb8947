// Package metrics exposes Prometheus instruments for the order engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"dukaan/internal/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every instrument. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Transitions     *prometheus.CounterVec
	PublishFailures prometheus.Counter
	Requests        *prometheus.CounterVec
	LatencyMS       *prometheus.HistogramVec
	gatherer        prometheus.Gatherer
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dukaan",
			Subsystem: "orders",
			Name:      "transitions_total",
			Help:      "Order transitions attempted, by transition and outcome kind.",
		}, []string{"transition", "outcome"}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dukaan",
			Subsystem: "orders",
			Name:      "event_publish_failures_total",
			Help:      "Committed transitions whose event could not be published.",
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dukaan",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dukaan",
			Subsystem: "http",
			Name:      "request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		gatherer: gatherer,
	}
	reg.MustRegister(m.Transitions, m.PublishFailures, m.Requests, m.LatencyMS)
	return m
}

// ObserveTransition counts one transition attempt; err nil means it committed.
func (m *Metrics) ObserveTransition(transition string, err error) {
	if m == nil {
		return
	}
	outcome := "committed"
	if err != nil {
		outcome = string(apperr.KindOf(err))
	}
	m.Transitions.WithLabelValues(transition, outcome).Inc()
}

// ObservePublishFailure counts an event that was committed but not delivered to the sink.
func (m *Metrics) ObservePublishFailure() {
	if m == nil {
		return
	}
	m.PublishFailures.Inc()
}

// Middleware records request count and latency per matched route.
func (m *Metrics) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m == nil {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}
		route := c.Route().Path
		m.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		m.LatencyMS.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
		return err
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
