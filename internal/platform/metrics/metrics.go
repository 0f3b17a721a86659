// Package metrics exposes the Prometheus collectors scraped from /metrics.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "framecraft"

// Registry owns the service collectors. It satisfies the reconciler, token verifier and
// notification dispatcher metric hooks.
type Registry struct {
	registry *prometheus.Registry

	requests       *prometheus.CounterVec
	latencyMS      *prometheus.HistogramVec
	reconciliation *prometheus.CounterVec
	verification   *prometheus.CounterVec
	verifyLatency  *prometheus.HistogramVec
	notifications  *prometheus.CounterVec
}

// New registers all collectors plus the Go runtime and process collectors on a private registry.
func New() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		latencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"method", "route"}),
		reconciliation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "reconciliations_total",
			Help:      "Payment reconciliation outcomes by provider.",
		}, []string{"provider", "outcome"}),
		verification: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "token_verifications_total",
			Help:      "Bearer token verification results.",
		}, []string{"kind", "result", "reason"}),
		verifyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "token_verification_duration_ms",
			Help:      "Bearer token verification latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}, []string{"kind"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "deliveries_total",
			Help:      "Order notification delivery outcomes.",
		}, []string{"kind", "outcome"}),
	}
	r.registry.MustRegister(
		r.requests,
		r.latencyMS,
		r.reconciliation,
		r.verification,
		r.verifyLatency,
		r.notifications,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Middleware counts requests by chi route pattern so path parameters do not explode the
// label set. Unmatched routes are reported as "unmatched".
func (r *Registry) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
			next.ServeHTTP(ww, req)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := "unmatched"
			if rctx := chi.RouteContext(req.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			r.requests.WithLabelValues(req.Method, route, strconv.Itoa(status)).Inc()
			r.latencyMS.WithLabelValues(req.Method, route).Observe(float64(time.Since(start).Milliseconds()))
		})
	}
}

func (r *Registry) ObserveReconciliation(provider, outcome string) {
	r.reconciliation.WithLabelValues(provider, outcome).Inc()
}

func (r *Registry) RecordVerification(_ context.Context, kind string, success bool, reason string, duration time.Duration) {
	result := "failure"
	if success {
		result = "success"
	}
	r.verification.WithLabelValues(kind, result, reason).Inc()
	r.verifyLatency.WithLabelValues(kind).Observe(float64(duration.Milliseconds()))
}

func (r *Registry) ObserveNotification(kind, outcome string) {
	r.notifications.WithLabelValues(kind, outcome).Inc()
}
