// Package observability provides process metrics and the context keys used
// to correlate log lines across a run.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the runtime's Prometheus metrics: model request volume
// and latency, token consumption, tool execution, and loop terminations.
type Metrics struct {
	// ModelRequestDuration measures model API call latency in seconds.
	// Labels: vendor, model
	ModelRequestDuration *prometheus.HistogramVec

	// ModelRequestCounter counts model requests.
	// Labels: vendor, model, status (success|error)
	ModelRequestCounter *prometheus.CounterVec

	// ModelTokensUsed tracks token consumption.
	// Labels: vendor, model, type (input|output)
	ModelTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// RunCompletionCounter counts loop terminations by stop reason.
	// Labels: reason
	RunCompletionCounter *prometheus.CounterVec

	// CompactionCounter counts history compactions.
	// Labels: outcome (applied|skipped|failed)
	CompactionCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registerer.
// A nil registerer uses the Prometheus default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ModelRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tiller_model_request_duration_seconds",
				Help:    "Duration of model API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"vendor", "model"},
		),

		ModelRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tiller_model_requests_total",
				Help: "Total model requests by vendor, model, and status",
			},
			[]string{"vendor", "model", "status"},
		),

		ModelTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tiller_model_tokens_total",
				Help: "Total tokens used by vendor, model, and type",
			},
			[]string{"vendor", "model", "type"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tiller_tool_executions_total",
				Help: "Total tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tiller_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),

		RunCompletionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tiller_run_completions_total",
				Help: "Total agent runs by stop reason",
			},
			[]string{"reason"},
		),

		CompactionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tiller_compactions_total",
				Help: "Total history compactions by outcome",
			},
			[]string{"outcome"},
		),
	}
}
