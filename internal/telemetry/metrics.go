// Package telemetry provides observability primitives for the AI gateway.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "aigw"

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	ActiveRequests      prometheus.Gauge
	ErrorResponses      *prometheus.CounterVec
	UpstreamDuration    *prometheus.HistogramVec
	UpstreamErrors      *prometheus.CounterVec
	UpstreamRetries     *prometheus.CounterVec
	GatewayRejects      *prometheus.CounterVec
	PromptsTotal        *prometheus.CounterVec
	TokensProcessed     *prometheus.CounterVec
	CostUSD             *prometheus.CounterVec
	MonthSpendUSD       prometheus.Gauge
	MonthlyBudgetUSD    prometheus.Gauge
	LedgerWriteErrors   prometheus.Counter
	EncryptionAvailable prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       namespace,
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		ErrorResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "error_responses_total",
			Help:      "HTTP error responses by route and error type.",
		}, []string{"path", "type"}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       namespace,
			Name:                            "upstream_duration_seconds",
			Help:                            "Duration of single upstream completion attempts in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"provider", "model"}),

		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Total failed upstream attempts by status (or timeout/connection).",
		}, []string{"provider", "status"}),

		UpstreamRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_retries_total",
			Help:      "Total attempts retried after a transient failure.",
		}, []string{"provider"}),

		GatewayRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejects_total",
			Help:      "Prompts rejected before any upstream attempt.",
		}, []string{"reason"}),

		PromptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prompts_total",
			Help:      "Prompts that reached the attempt stage, by outcome.",
		}, []string{"feature", "outcome"}),

		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_processed_total",
			Help:      "Total tokens processed.",
		}, []string{"model", "type"}),

		CostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_usd_total",
			Help:      "Accumulated cost of successful calls in USD.",
		}, []string{"model"}),

		MonthSpendUSD: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "month_spend_usd",
			Help:      "Month-to-date spend in USD.",
		}),

		MonthlyBudgetUSD: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monthly_budget_usd",
			Help:      "Monthly budget ceiling of the active credential profile in USD.",
		}),

		LedgerWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_write_errors_total",
			Help:      "Usage records that could not be persisted.",
		}),

		EncryptionAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "encryption_available",
			Help:      "1 if API keys are encrypted at rest, 0 if stored in plaintext.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.ErrorResponses,
		m.UpstreamDuration,
		m.UpstreamErrors,
		m.UpstreamRetries,
		m.GatewayRejects,
		m.PromptsTotal,
		m.TokensProcessed,
		m.CostUSD,
		m.MonthSpendUSD,
		m.MonthlyBudgetUSD,
		m.LedgerWriteErrors,
		m.EncryptionAvailable,
	)

	return m
}
