package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Object storage metrics
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	// Generation metrics
	GenerationsTotal       *prometheus.CounterVec
	GenerationDuration     *prometheus.HistogramVec
	OutputPersistenceTotal *prometheus.CounterVec

	// Billing metrics
	WebhookEventsTotal   *prometheus.CounterVec
	CheckoutSessionTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lumen_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lumen_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lumen_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(64, 4, 8),
			},
			[]string{"method", "route"},
		),

		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lumen_storage_operations_total",
				Help: "Total number of object storage operations",
			},
			[]string{"operation", "bucket", "status"},
		),
		StorageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lumen_storage_operation_duration_seconds",
				Help:    "Object storage operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "bucket"},
		),

		GenerationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lumen_generations_total",
				Help: "Generation requests by model and outcome",
			},
			[]string{"model", "outcome"},
		),
		GenerationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lumen_generation_duration_seconds",
				Help:    "Inference provider call duration in seconds",
				Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300},
			},
			[]string{"model"},
		),
		OutputPersistenceTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lumen_output_persistence_total",
				Help: "Where generated images ended up: output bucket, input bucket or provider URL",
			},
			[]string{"destination"},
		),

		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lumen_webhook_events_total",
				Help: "Stripe webhook events by type and result",
			},
			[]string{"type", "result"},
		),
		CheckoutSessionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lumen_billing_sessions_total",
				Help: "Hosted checkout and portal sessions created",
			},
			[]string{"kind", "status"},
		),

		DBConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lumen_db_connections_open",
				Help: "Number of open database connections",
			},
		),
		DBConnectionsInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lumen_db_connections_in_use",
				Help: "Number of database connections in use",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.StorageOperationsTotal,
		m.StorageOperationDuration,
		m.GenerationsTotal,
		m.GenerationDuration,
		m.OutputPersistenceTotal,
		m.WebhookEventsTotal,
		m.CheckoutSessionTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
	)

	return m
}

// ObserveStorage records one object storage call
func (m *Metrics) ObserveStorage(operation, bucket string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StorageOperationsTotal.WithLabelValues(operation, bucket, status).Inc()
	m.StorageOperationDuration.WithLabelValues(operation, bucket).Observe(time.Since(start).Seconds())
}

// RecordGeneration counts one generation request by outcome
func (m *Metrics) RecordGeneration(model, outcome string) {
	if m == nil {
		return
	}
	m.GenerationsTotal.WithLabelValues(model, outcome).Inc()
}

// ObserveInference records the duration of one provider call
func (m *Metrics) ObserveInference(model string, start time.Time) {
	if m == nil {
		return
	}
	m.GenerationDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())
}

// RecordPersistence counts where a generated image was stored
func (m *Metrics) RecordPersistence(destination string) {
	if m == nil {
		return
	}
	m.OutputPersistenceTotal.WithLabelValues(destination).Inc()
}

// RecordWebhook counts one Stripe event
func (m *Metrics) RecordWebhook(eventType, result string) {
	if m == nil {
		return
	}
	m.WebhookEventsTotal.WithLabelValues(eventType, result).Inc()
}

// RecordBillingSession counts one checkout or portal session attempt
func (m *Metrics) RecordBillingSession(kind, status string) {
	if m == nil {
		return
	}
	m.CheckoutSessionTotal.WithLabelValues(kind, status).Inc()
}

// RecordDBStats copies connection pool statistics into the gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	if m == nil {
		return
	}
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments requests, labelling by route template
// so that path parameters do not explode label cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			status := strconv.Itoa(rw.statusCode)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
