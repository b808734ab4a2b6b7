// Package metrics holds the dev server's prometheus collectors. Collectors
// are registered on a private registry so tests can build as many as they
// like without clashing on the global one.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "devserver"

// Metrics groups every collector the dev server exports.
type Metrics struct {
	registry *prometheus.Registry

	ProxyRequests   *prometheus.CounterVec
	ProxyDuration   *prometheus.HistogramVec
	WSSessions      prometheus.Gauge
	UpstreamUp      *prometheus.GaugeVec
	ConfigReloads   *prometheus.CounterVec
	UpstreamLatency *prometheus.GaugeVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ProxyRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_requests_total",
			Help:      "Proxied requests by rule context and response status class.",
		}, []string{"rule", "code"}),
		ProxyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "proxy_request_duration_seconds",
			Help:      "Time spent forwarding a request upstream.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"rule"}),
		WSSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_sessions_active",
			Help:      "Bridged WebSocket sessions currently open.",
		}),
		UpstreamUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstream_up",
			Help:      "1 if the last health probe of the upstream succeeded.",
		}, []string{"target"}),
		UpstreamLatency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstream_probe_latency_seconds",
			Help:      "Latency of the last health probe.",
		}, []string{"target"}),
		ConfigReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Config file reloads by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		m.ProxyRequests,
		m.ProxyDuration,
		m.WSSessions,
		m.UpstreamUp,
		m.UpstreamLatency,
		m.ConfigReloads,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveProxy records one forwarded request. A nil receiver is a no-op.
func (m *Metrics) ObserveProxy(rule string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ProxyRequests.WithLabelValues(rule, StatusClass(status)).Inc()
	m.ProxyDuration.WithLabelValues(rule).Observe(elapsed.Seconds())
}

// SetUpstream records the outcome of a health probe.
func (m *Metrics) SetUpstream(target string, up bool, latency time.Duration) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.UpstreamUp.WithLabelValues(target).Set(v)
	m.UpstreamLatency.WithLabelValues(target).Set(latency.Seconds())
}

// ForgetUpstream drops series for a target no longer proxied.
func (m *Metrics) ForgetUpstream(target string) {
	if m == nil {
		return
	}
	m.UpstreamUp.DeleteLabelValues(target)
	m.UpstreamLatency.DeleteLabelValues(target)
}

// ConfigReloaded counts a reload attempt; result is "applied", "rejected" or "invalid".
func (m *Metrics) ConfigReloaded(result string) {
	if m != nil {
		m.ConfigReloads.WithLabelValues(result).Inc()
	}
}

// StatusClass maps 404 to "4xx". Zero means the upstream never answered.
func StatusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}
