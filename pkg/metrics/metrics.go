package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace" yaml:"namespace"`
	Path      string `json:"path" yaml:"path"`
}

// Collector manages all metrics for the action engine
type Collector struct {
	namespace string
	registry  *prometheus.Registry

	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight *prometheus.GaugeVec
	ErrorsTotal      *prometheus.CounterVec

	// System metrics
	StartTime prometheus.Gauge

	// Pipeline metrics
	ActionsTotal       *prometheus.CounterVec
	ActionDuration     *prometheus.HistogramVec
	ActionsExecuting   prometheus.Gauge
	ValidationFailures *prometheus.CounterVec
	ApprovalsTotal     *prometheus.CounterVec
	ApprovalsPending   prometheus.Gauge
	RollbacksTotal     *prometheus.CounterVec
	BatchesTotal       *prometheus.CounterVec
	BatchMembers       *prometheus.HistogramVec

	// Database metrics
	DatabaseQueries  *prometheus.CounterVec
	DatabaseDuration *prometheus.HistogramVec

	// Cache metrics
	CacheOperations *prometheus.CounterVec

	// Message queue metrics
	MessagesSent *prometheus.CounterVec
}

// NewCollector creates a new metrics collector
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		namespace: namespace,
		registry:  registry,
	}

	c.initializeMetrics()
	c.registerMetrics()

	return c
}

// initializeMetrics initializes all metrics
func (c *Collector) initializeMetrics() {
	// HTTP metrics
	c.RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	c.RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status_code"},
	)

	c.RequestsInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: c.namespace,
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
		[]string{"method", "endpoint"},
	)

	c.ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "errors_total",
			Help:      "Total number of errors",
		},
		[]string{"error_type", "component"},
	)

	// System metrics
	c.StartTime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: c.namespace,
			Name:      "start_time_seconds",
			Help:      "Service start time in Unix seconds",
		},
	)

	// Pipeline metrics
	c.ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "actions_total",
			Help:      "Total number of actions by type and terminal status",
		},
		[]string{"action_type", "status"},
	)

	c.ActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.namespace,
			Name:      "action_execution_duration_seconds",
			Help:      "Action execution duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"action_type"},
	)

	c.ActionsExecuting = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: c.namespace,
			Name:      "actions_executing",
			Help:      "Number of actions currently in executing state",
		},
	)

	c.ValidationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "validation_failures_total",
			Help:      "Total number of validation rule failures",
		},
		[]string{"action_type", "rule"},
	)

	c.ApprovalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "approvals_total",
			Help:      "Total number of approval resolutions",
		},
		[]string{"resolution", "risk_level"},
	)

	c.ApprovalsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: c.namespace,
			Name:      "approvals_pending",
			Help:      "Number of approvals awaiting resolution",
		},
	)

	c.RollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "rollbacks_total",
			Help:      "Total number of rollback attempts",
		},
		[]string{"action_type", "status"},
	)

	c.BatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "batches_total",
			Help:      "Total number of batches by terminal status",
		},
		[]string{"status"},
	)

	c.BatchMembers = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.namespace,
			Name:      "batch_members",
			Help:      "Distribution of batch sizes",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		},
		[]string{"execute_parallel"},
	)

	// Database metrics
	c.DatabaseQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "database_queries_total",
			Help:      "Total number of database queries",
		},
		[]string{"operation", "table"},
	)

	c.DatabaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.namespace,
			Name:      "database_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		},
		[]string{"operation", "table"},
	)

	// Cache metrics
	c.CacheOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "cache_operations_total",
			Help:      "Total number of cache operations",
		},
		[]string{"operation", "result"},
	)

	// Message queue metrics
	c.MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "messages_sent_total",
			Help:      "Total number of messages sent",
		},
		[]string{"topic", "status"},
	)
}

// registerMetrics registers all metrics with the registry
func (c *Collector) registerMetrics() {
	c.registry.MustRegister(c.RequestsTotal)
	c.registry.MustRegister(c.RequestDuration)
	c.registry.MustRegister(c.RequestsInFlight)
	c.registry.MustRegister(c.ErrorsTotal)

	c.registry.MustRegister(c.StartTime)

	c.registry.MustRegister(c.ActionsTotal)
	c.registry.MustRegister(c.ActionDuration)
	c.registry.MustRegister(c.ActionsExecuting)
	c.registry.MustRegister(c.ValidationFailures)
	c.registry.MustRegister(c.ApprovalsTotal)
	c.registry.MustRegister(c.ApprovalsPending)
	c.registry.MustRegister(c.RollbacksTotal)
	c.registry.MustRegister(c.BatchesTotal)
	c.registry.MustRegister(c.BatchMembers)

	c.registry.MustRegister(c.DatabaseQueries)
	c.registry.MustRegister(c.DatabaseDuration)

	c.registry.MustRegister(c.CacheOperations)

	c.registry.MustRegister(c.MessagesSent)

	c.StartTime.SetToCurrentTime()
}

// RecordHTTPRequest records HTTP request metrics
func (c *Collector) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	code := strconv.Itoa(statusCode)
	c.RequestsTotal.WithLabelValues(method, endpoint, code).Inc()
	c.RequestDuration.WithLabelValues(method, endpoint, code).Observe(duration.Seconds())
}

// RecordActionTerminal records an action reaching a terminal status
func (c *Collector) RecordActionTerminal(actionType, status string) {
	c.ActionsTotal.WithLabelValues(actionType, status).Inc()
}

// RecordDatabaseQuery records a database query
func (c *Collector) RecordDatabaseQuery(operation, table string, duration time.Duration) {
	c.DatabaseQueries.WithLabelValues(operation, table).Inc()
	c.DatabaseDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordError records an error by type and component
func (c *Collector) RecordError(errorType, component string) {
	c.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// Handler returns an HTTP handler for the /metrics endpoint
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
