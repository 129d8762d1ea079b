package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Event metrics
	EventsEmittedTotal *prometheus.CounterVec

	// Delivery metrics
	DeliveryAttemptsTotal  *prometheus.CounterVec
	DeliveryDuration       *prometheus.HistogramVec
	DeliveriesTerminal     *prometheus.CounterVec
	RetriesScheduledTotal  prometheus.Counter
	SweepClaimedTotal      prometheus.Counter
	RateLimitDeferredTotal prometheus.Counter

	// Endpoint metrics
	EndpointsDeactivatedTotal prometheus.Counter

	// Audit metrics
	AuditAppendsTotal prometheus.Counter
	AuditDroppedTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		EventsEmittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_events_emitted_total",
				Help: "Total number of webhook events emitted",
			},
			[]string{"type"},
		),
		DeliveryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_delivery_attempts_total",
				Help: "Total number of webhook delivery attempts",
			},
			[]string{"outcome"},
		),
		DeliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_delivery_duration_seconds",
				Help:    "Webhook delivery attempt duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		DeliveriesTerminal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_deliveries_terminal_total",
				Help: "Total number of deliveries reaching a terminal state",
			},
			[]string{"status"},
		),
		RetriesScheduledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_retries_scheduled_total",
				Help: "Total number of retries scheduled with backoff",
			},
		),
		SweepClaimedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_sweep_claimed_total",
				Help: "Total number of due deliveries claimed by the retry sweeper",
			},
		),
		RateLimitDeferredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_rate_limit_deferred_total",
				Help: "Total number of delivery attempts deferred by rate limiting",
			},
		),
		EndpointsDeactivatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_endpoints_deactivated_total",
				Help: "Total number of endpoints auto-deactivated after consecutive failures",
			},
		),
		AuditAppendsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_audit_appends_total",
				Help: "Total number of audit records appended",
			},
		),
		AuditDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_audit_dropped_total",
				Help: "Total number of audit records dropped due to write failures",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.EventsEmittedTotal,
		m.DeliveryAttemptsTotal,
		m.DeliveryDuration,
		m.DeliveriesTerminal,
		m.RetriesScheduledTotal,
		m.SweepClaimedTotal,
		m.RateLimitDeferredTotal,
		m.EndpointsDeactivatedTotal,
		m.AuditAppendsTotal,
		m.AuditDroppedTotal,
	)

	return m
}

// MetricsHandler returns an HTTP handler for the /metrics endpoint
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the response status for metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware records request counts and durations
func (m *Metrics) HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		duration := time.Since(start).Seconds()
		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
	})
}
