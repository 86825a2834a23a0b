// Package metrics is the observability port: Prometheus counters and
// histograms for tokens, cost, response time, tool execution time, and
// errors, each labeled by provider/model/tool.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the counters and histograms the core reports to.
//
// Usage:
//
//	m := metrics.New(nil) // registers against the default registry
//	m.RecordLLMCall("bedrock", "claude-sonnet-4-5", usage.Input, usage.Output,
//		usage.CacheRead, usage.CacheWrite, costUSD, float64(time.Since(start).Milliseconds()))
type Metrics struct {
	// TokensTotal counts tokens consumed. Labels: provider, model, tool
	// (tool is empty for LM-call token counts), type (input|output|cache_read|cache_write).
	TokensTotal *prometheus.CounterVec

	// CostTotal accumulates estimated USD cost. Labels: provider, model, tool.
	CostTotal *prometheus.CounterVec

	// ResponseTimeMs measures LM call latency in milliseconds. Labels:
	// provider, model, tool.
	ResponseTimeMs *prometheus.HistogramVec

	// ToolExecutionMs measures tool execution latency in milliseconds.
	// Labels: provider, model, tool.
	ToolExecutionMs *prometheus.HistogramVec

	// ErrorsTotal counts errors. Labels: provider, model, tool, kind (the
	// error taxonomy kind — validation|execution|timeout|denied|auth|
	// cancelled|budget|hook|fatal).
	ErrorsTotal *prometheus.CounterVec
}

// New builds and registers every metric. If reg is nil, metrics register
// against the default Prometheus registry (as the teacher's observability
// package does); pass a fresh prometheus.NewRegistry() in tests to avoid
// duplicate-registration panics across test runs.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tokens_total",
				Help: "Total tokens consumed, by provider, model, tool, and token type",
			},
			[]string{"provider", "model", "tool", "type"},
		),
		CostTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cost_total",
				Help: "Total estimated cost in USD, by provider, model, and tool",
			},
			[]string{"provider", "model", "tool"},
		),
		ResponseTimeMs: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "response_time_ms",
				Help:    "LM response latency in milliseconds",
				Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
			},
			[]string{"provider", "model", "tool"},
		),
		ToolExecutionMs: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tool_execution_ms",
				Help:    "Tool execution latency in milliseconds",
				Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 5000, 30000},
			},
			[]string{"provider", "model", "tool"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total errors, by provider, model, tool, and error kind",
			},
			[]string{"provider", "model", "tool", "kind"},
		),
	}
}

// RecordLLMCall records one LM round's tokens, cost, and latency. tool is
// always "" here — these labels describe the LM call itself, not a tool
// invocation.
func (m *Metrics) RecordLLMCall(provider, model string, inputTokens, outputTokens, cacheReadTokens, cacheWriteTokens int, costUSD float64, durationMs float64) {
	if inputTokens > 0 {
		m.TokensTotal.WithLabelValues(provider, model, "", "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.TokensTotal.WithLabelValues(provider, model, "", "output").Add(float64(outputTokens))
	}
	if cacheReadTokens > 0 {
		m.TokensTotal.WithLabelValues(provider, model, "", "cache_read").Add(float64(cacheReadTokens))
	}
	if cacheWriteTokens > 0 {
		m.TokensTotal.WithLabelValues(provider, model, "", "cache_write").Add(float64(cacheWriteTokens))
	}
	m.CostTotal.WithLabelValues(provider, model, "").Add(costUSD)
	m.ResponseTimeMs.WithLabelValues(provider, model, "").Observe(durationMs)
}

// RecordToolExecution records one tool call's latency, labeled with the
// provider/model of the session driving it (if known) and the tool name.
func (m *Metrics) RecordToolExecution(provider, model, tool string, durationMs float64) {
	m.ToolExecutionMs.WithLabelValues(provider, model, tool).Observe(durationMs)
}

// RecordError increments the error counter for the given taxonomy kind.
func (m *Metrics) RecordError(provider, model, tool, kind string) {
	m.ErrorsTotal.WithLabelValues(provider, model, tool, kind).Inc()
}
