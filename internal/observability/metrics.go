// Package observability exposes Prometheus metrics for the dispatch engine.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	transitionsTotal   *prometheus.CounterVec
	syncTicksTotal     *prometheus.CounterVec
	syncCreatedTotal   prometheus.Counter
	notificationsTotal *prometheus.CounterVec
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meridian_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_dispatch_transitions_total",
		Help: "Dispatch workflow transitions by action and result.",
	}, []string{"action", "result"})
	syncTicks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_sync_ticks_total",
		Help: "Invoice sync ticks by result.",
	}, []string{"result"})
	syncCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "meridian_sync_dispatches_created_total",
		Help: "Dispatches created from invoice sync.",
	})
	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "meridian_notifications_total",
		Help: "Dispatch notifications by delivery status.",
	}, []string{"status"})
	registry.MustRegister(requests, duration, transitions, syncTicks, syncCreated, notifications)
	return &Metrics{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:      requests,
		requestDuration:    duration,
		transitionsTotal:   transitions,
		syncTicksTotal:     syncTicks,
		syncCreatedTotal:   syncCreated,
		notificationsTotal: notifications,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for each HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveTransition counts a workflow transition attempt.
func (m *Metrics) ObserveTransition(action, result string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(action, result).Inc()
}

// ObserveSyncTick counts one scheduler tick.
func (m *Metrics) ObserveSyncTick(result string, created int) {
	if m == nil {
		return
	}
	m.syncTicksTotal.WithLabelValues(result).Inc()
	if created > 0 {
		m.syncCreatedTotal.Add(float64(created))
	}
}

// ObserveNotification counts an outbound notification attempt.
func (m *Metrics) ObserveNotification(status string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(status).Inc()
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
