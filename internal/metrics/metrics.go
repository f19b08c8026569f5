package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry          *prometheus.Registry
	tokenRefreshes    *prometheus.CounterVec
	meterSyncs        *prometheus.CounterVec
	analyticsDuration prometheus.Histogram
	upstreamFailures  *prometheus.CounterVec
	webhooks          *prometheus.CounterVec
	notifications     *prometheus.CounterVec
}

// New creates collectors registered on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "armogrid_token_refreshes_total",
			Help: "Meter session token refresh attempts by outcome.",
		}, []string{"outcome"}),
		meterSyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "armogrid_meter_syncs_total",
			Help: "Single meter sync attempts by outcome.",
		}, []string{"outcome"}),
		analyticsDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "armogrid_analytics_duration_seconds",
			Help:    "Wall-clock time of analytics computations.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}),
		upstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "armogrid_analytics_upstream_failures_total",
			Help: "Per-item upstream failures absorbed by analytics, by kind.",
		}, []string{"kind"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "armogrid_webhooks_total",
			Help: "Payment webhook deliveries by gateway and outcome.",
		}, []string{"gateway", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "armogrid_notifications_total",
			Help: "Notification attempts by channel and outcome.",
		}, []string{"channel", "outcome"}),
	}

	m.registry.MustRegister(
		m.tokenRefreshes,
		m.meterSyncs,
		m.analyticsDuration,
		m.upstreamFailures,
		m.webhooks,
		m.notifications,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (m *Metrics) TokenRefresh(ok bool) {
	if m == nil {
		return
	}
	m.tokenRefreshes.WithLabelValues(outcome(ok)).Inc()
}

func (m *Metrics) MeterSync(ok bool) {
	if m == nil {
		return
	}
	m.meterSyncs.WithLabelValues(outcome(ok)).Inc()
}

func (m *Metrics) AnalyticsDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.analyticsDuration.Observe(d.Seconds())
}

func (m *Metrics) UpstreamFailure(kind string) {
	if m == nil {
		return
	}
	m.upstreamFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) Webhook(gateway, result string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(gateway, result).Inc()
}

func (m *Metrics) Notification(channel string, ok bool) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, outcome(ok)).Inc()
}
