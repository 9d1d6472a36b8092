// Package metrics exposes login and HTTP counters in the Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dgellow/forgegate/internal/autherr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	LoginsStarted    prometheus.Counter
	LoginOutcomes    *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates the metrics and registers them on a private registry, along
// with the Go runtime and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		LoginsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "forgegate_logins_started_total",
			Help: "Authorization redirects issued",
		}),
		LoginOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forgegate_login_outcomes_total",
				Help: "Completed login attempts by outcome, failure kind and fault",
			},
			[]string{"outcome", "kind", "fault"},
		),
		ProviderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forgegate_provider_request_duration_seconds",
				Help:    "Duration of calls to the identity provider",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op", "status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "forgegate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forgegate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	registry.MustRegister(
		m.LoginsStarted,
		m.LoginOutcomes,
		m.ProviderDuration,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) LoginStarted() {
	m.LoginsStarted.Inc()
}

// LoginFinished records a terminal outcome. A nil err is a success.
func (m *Metrics) LoginFinished(err error) {
	if err == nil {
		m.LoginOutcomes.WithLabelValues("success", "", "").Inc()
		return
	}
	m.LoginOutcomes.WithLabelValues("failure", string(autherr.KindOf(err)), string(autherr.FaultOf(err))).Inc()
}

func (m *Metrics) ProviderCall(op string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ProviderDuration.WithLabelValues(op, status).Observe(d.Seconds())
}

func (m *Metrics) HTTPRequest(method, route string, status int, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
