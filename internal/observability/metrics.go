package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the service.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	transfersPosted  *prometheus.CounterVec
	gatewayCalls     *prometheus.CounterVec
	webhookEvents    *prometheus.CounterVec
	reconMismatches  prometheus.Counter
	refundFailures   prometheus.Counter
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kudipay_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kudipay_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	transfers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kudipay_ledger_transfers_posted_total",
		Help: "Balanced transfers posted to the ledger by operation kind.",
	}, []string{"kind"})
	gateway := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kudipay_gateway_calls_total",
		Help: "Outbound gateway calls by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kudipay_webhook_events_total",
		Help: "Inbound webhook events by event type and outcome.",
	}, []string{"event", "outcome"})
	mismatches := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kudipay_reconciliation_mismatches_total",
		Help: "Reconciliation items recorded with an amount mismatch.",
	})
	refundFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kudipay_refund_failures_total",
		Help: "Compensating transfers that themselves failed and need manual action.",
	})
	registry.MustRegister(requests, duration, transfers, gateway, webhooks, mismatches, refundFailures)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		transfersPosted: transfers,
		gatewayCalls:    gateway,
		webhookEvents:   webhooks,
		reconMismatches: mismatches,
		refundFailures:  refundFailures,
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

// TransferPosted counts one balanced transfer for the given operation kind.
func (m *Metrics) TransferPosted(kind string) {
	if m == nil {
		return
	}
	m.transfersPosted.WithLabelValues(kind).Inc()
}

// GatewayCall counts one outbound gateway call.
func (m *Metrics) GatewayCall(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(endpoint, outcome).Inc()
}

// WebhookEvent counts one inbound webhook delivery.
func (m *Metrics) WebhookEvent(event, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(event, outcome).Inc()
}

// ReconciliationMismatch counts one amount-mismatch reconciliation item.
func (m *Metrics) ReconciliationMismatch() {
	if m == nil {
		return
	}
	m.reconMismatches.Inc()
}

// RefundFailure counts one failed compensating transfer.
func (m *Metrics) RefundFailure() {
	if m == nil {
		return
	}
	m.refundFailures.Inc()
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
	if ctx := chi.RouteContext(r.Context()); ctx != nil {
		if pattern := ctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
