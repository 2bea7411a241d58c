package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counter metrics
var (
	LoginCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantgate_login_total",
			Help: "Total number of login attempts by outcome",
		},
		[]string{"outcome"}, // success, failure
	)

	RegisterCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tenantgate_register_total",
			Help: "Total number of tenant registrations",
		},
	)

	AuthErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantgate_auth_errors_total",
			Help: "Total number of authentication and authorization errors",
		},
		[]string{"type"},
	)

	TenantOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantgate_tenant_operations_total",
			Help: "Total number of tenant-scoped operations",
		},
		[]string{"operation"},
	)

	QuotaDecisionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantgate_quota_decisions_total",
			Help: "Quota reservations by resource kind and decision",
		},
		[]string{"kind", "decision"}, // decision: granted, denied
	)

	AuditCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantgate_audit_entries_total",
			Help: "Audit entries by outcome",
		},
		[]string{"outcome"}, // queued, written, failed
	)

	HTTPRequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantgate_http_requests_total",
			Help: "Total number of HTTP requests by endpoint and status",
		},
		[]string{"endpoint", "method", "status"},
	)
)

// Histogram metrics
var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenantgate_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	)

	DBOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenantgate_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

// Gauge metrics
var (
	AuditQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tenantgate_audit_queue_depth",
			Help: "Audit entries waiting to be written",
		},
	)

	InfoGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tenantgate_info",
			Help: "Information about the service",
		},
		[]string{"version"},
	)
)

func init() {
	prometheus.MustRegister(LoginCounter)
	prometheus.MustRegister(RegisterCounter)
	prometheus.MustRegister(AuthErrorCounter)
	prometheus.MustRegister(TenantOperationCounter)
	prometheus.MustRegister(QuotaDecisionCounter)
	prometheus.MustRegister(AuditCounter)
	prometheus.MustRegister(HTTPRequestCounter)

	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(DBOperationDuration)

	prometheus.MustRegister(AuditQueueDepth)
	prometheus.MustRegister(InfoGauge)

	InfoGauge.With(prometheus.Labels{"version": "1.0.0"}).Set(1)
}

// GetPrometheusHandler returns an HTTP handler for the Prometheus metrics
func GetPrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// TrackDBOperation measures a database operation. Use as
// defer TrackDBOperation("query")(time.Now()).
func TrackDBOperation(operation string) func(time.Time) {
	return func(start time.Time) {
		DBOperationDuration.With(prometheus.Labels{"operation": operation}).
			Observe(time.Since(start).Seconds())
	}
}

// MetricsMiddleware captures duration and status of every request
func MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			labels := prometheus.Labels{
				"endpoint": c.Path(),
				"method":   c.Request().Method,
				"status":   strconv.Itoa(c.Response().Status),
			}
			RequestDuration.With(labels).Observe(time.Since(start).Seconds())
			HTTPRequestCounter.With(labels).Inc()
			return nil
		}
	}
}

// RecordLogin records a login attempt outcome
func RecordLogin(success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	LoginCounter.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// RecordAuthError records an authentication error by type
func RecordAuthError(errorType string) {
	AuthErrorCounter.With(prometheus.Labels{"type": errorType}).Inc()
}

// RecordTenantOperation records a tenant operation
func RecordTenantOperation(operation string) {
	TenantOperationCounter.With(prometheus.Labels{"operation": operation}).Inc()
}

// RecordQuotaDecision records the result of a quota reservation
func RecordQuotaDecision(kind string, granted bool) {
	decision := "denied"
	if granted {
		decision = "granted"
	}
	QuotaDecisionCounter.With(prometheus.Labels{"kind": kind, "decision": decision}).Inc()
}

// RecordAudit records an audit pipeline event
func RecordAudit(outcome string) {
	AuditCounter.With(prometheus.Labels{"outcome": outcome}).Inc()
}
