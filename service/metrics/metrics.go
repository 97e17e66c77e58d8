package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC metrics
	solanaRPCCallsTotal    *prometheus.CounterVec
	solanaRPCCallDuration  *prometheus.HistogramVec
	solanaRPCRateLimitHits prometheus.Counter

	// Loan flow metrics
	loansCreatedTotal    *prometheus.CounterVec
	paymentsTotal        *prometheus.CounterVec
	deployChunksTotal    prometheus.Counter
	deploymentsTotal     *prometheus.CounterVec
	overduePaymentsSwept prometheus.Counter

	// HTTP metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS metrics
	natsEventsPublished *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),
		solanaRPCRateLimitHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "solana_rpc_rate_limit_hits_total",
				Help: "Total number of Solana RPC rate limit hits (429 errors)",
			},
		),
		loansCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loans_created_total",
				Help: "Total number of on-chain loan creations by outcome",
			},
			[]string{"status"},
		),
		paymentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loan_payments_total",
				Help: "Total number of on-chain loan payments by outcome",
			},
			[]string{"status"},
		),
		deployChunksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "program_deploy_chunks_total",
				Help: "Total number of program chunks written during deployments",
			},
		),
		deploymentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "program_deployments_total",
				Help: "Total number of program deployments by outcome",
			},
			[]string{"status"},
		),
		overduePaymentsSwept: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "overdue_payments_marked_total",
				Help: "Total number of payments flipped to late by the sweep workflow",
			},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
			},
			[]string{"handler", "method"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by handler, method, and status code",
			},
			[]string{"handler", "method", "code"},
		),
		natsEventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_events_published_total",
				Help: "Total number of loan events published to NATS by status",
			},
			[]string{"status"},
		),
	}
}

// RecordRPCCall records a Solana RPC call with its outcome and duration.
func (m *Metrics) RecordRPCCall(method, status string, durationSeconds float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordRateLimitHit records a 429 response from the RPC endpoint.
func (m *Metrics) RecordRateLimitHit() {
	m.solanaRPCRateLimitHits.Inc()
}

// RecordLoanCreated records a loan creation attempt ("success" or "error").
func (m *Metrics) RecordLoanCreated(status string) {
	m.loansCreatedTotal.WithLabelValues(status).Inc()
}

// RecordPayment records an on-chain payment attempt ("success" or "error").
func (m *Metrics) RecordPayment(status string) {
	m.paymentsTotal.WithLabelValues(status).Inc()
}

// RecordDeployChunks adds to the count of program chunks written.
func (m *Metrics) RecordDeployChunks(n int) {
	m.deployChunksTotal.Add(float64(n))
}

// RecordDeployment records a deployment attempt ("success" or "error").
func (m *Metrics) RecordDeployment(status string) {
	m.deploymentsTotal.WithLabelValues(status).Inc()
}

// RecordOverduePayments adds to the count of payments marked late.
func (m *Metrics) RecordOverduePayments(n int64) {
	m.overduePaymentsSwept.Add(float64(n))
}

// RecordHTTPRequest records an HTTP request with its handler, method, status code, and duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, durationSeconds float64) {
	m.httpRequestsTotal.WithLabelValues(handler, method, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(handler, method).Observe(durationSeconds)
}

// RecordNATSPublish records a NATS publish attempt ("success" or "error").
func (m *Metrics) RecordNATSPublish(status string) {
	m.natsEventsPublished.WithLabelValues(status).Inc()
}
