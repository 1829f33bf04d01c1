package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "alertrelay"

// Metrics owns a private registry and every relay/watcher collector.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	received     *prometheus.CounterVec
	rejected     *prometheus.CounterVec
	suppressed   *prometheus.CounterVec
	deliveries   *prometheus.CounterVec
	cascade      *prometheus.CounterVec
	debounce     *prometheus.CounterVec
	reloads      *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates and registers collectors, including Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_received_total",
			Help:      "Alerts accepted for normalization, by source.",
		}, []string{"source"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_rejected_total",
			Help:      "Inbound payloads rejected before routing.",
		}, []string{"source", "reason"}),
		suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_suppressed_total",
			Help:      "Alerts suppressed by routing policy.",
		}, []string{"source", "reason"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Gateway delivery attempts by result.",
		}, []string{"source", "result"}),
		cascade: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cascade_deliveries_total",
			Help:      "Cascade deliveries by the rung that succeeded.",
		}, []string{"rung"}),
		debounce: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "debounce_checks_total",
			Help:      "Health re-checks by outcome.",
		}, []string{"outcome"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routes_reloads_total",
			Help:      "Routes document reloads by result.",
		}, []string{"result"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.received,
		m.rejected,
		m.suppressed,
		m.deliveries,
		m.cascade,
		m.debounce,
		m.reloads,
		m.httpDuration,
	)
	return m
}

// Handler serves the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Received(source string) {
	if m != nil {
		m.received.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) Rejected(source, reason string) {
	if m != nil {
		m.rejected.WithLabelValues(source, reason).Inc()
	}
}

func (m *Metrics) Suppressed(source, reason string) {
	if m != nil {
		m.suppressed.WithLabelValues(source, reason).Inc()
	}
}

func (m *Metrics) Delivered(source string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.deliveries.WithLabelValues(source, result).Inc()
}

func (m *Metrics) CascadeRung(rung string) {
	if m != nil {
		m.cascade.WithLabelValues(rung).Inc()
	}
}

func (m *Metrics) DebounceOutcome(outcome string) {
	if m != nil {
		m.debounce.WithLabelValues(outcome).Inc()
	}
}

// RoutesReload records one reload attempt.
func (m *Metrics) RoutesReload(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.reloads.WithLabelValues(result).Inc()
}

// Middleware records request durations labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
