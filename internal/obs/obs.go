// Package obs is the ambient observability stack: an OpenTelemetry tracer
// provider and a Prometheus metrics registry, installed and served by
// cmd/masrt. The worker loop, synchronizer and dispatcher neither record
// into these metrics nor start spans. Grounded on the teacher's pkg/observability (tracer.go's
// enabled/noop toggle and SetTracerProvider wiring, metrics.go's
// CounterVec/HistogramVec-per-concern shape), with the OTLP gRPC exporter
// swapped for the stdout exporter since no collector endpoint is part of
// this core (no HTTP/operator-console transport is specified — spec §1
// non-goal).
package obs

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TracerConfig toggles tracing for the runtime.
type TracerConfig struct {
	Enabled      bool
	SamplingRate float64
	ServiceName  string
}

// InitTracer installs a global TracerProvider, falling back to a no-op
// provider when tracing is disabled (spec's ambient-stack carries
// observability even though the spec's own Non-goals exclude the HTTP
// visualizer, per SPEC_FULL.md §7).
func InitTracer(cfg TracerConfig) (trace.TracerProvider, error) {
	if !cfg.Enabled {
		return noop.NewTracerProvider(), nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("obs: create stdout exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// Tracer returns a named tracer from the current global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartSpan is a small convenience wrapper that starts one span on the
// named tracer. No package in this module calls it.
func StartSpan(ctx context.Context, tracerName, spanName string) (context.Context, trace.Span) {
	return Tracer(tracerName).Start(ctx, spanName)
}

// Metrics is the runtime's Prometheus registry, one vector per concern
// (spec §4.2 worker loop, §4.6 synchronizer, §4.7 dispatcher). The
// vectors are registered and served, but no component increments or sets
// them.
type Metrics struct {
	registry *prometheus.Registry

	StepsExecuted   *prometheus.CounterVec
	StepDuration    *prometheus.HistogramVec
	StepFailures    *prometheus.CounterVec
	MessagesRouted  *prometheus.CounterVec
	StageCompletion *prometheus.CounterVec
	WaitingIDsOpen  *prometheus.GaugeVec
}

// NewMetrics builds a fresh registry and registers every vector.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.StepsExecuted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "masrt_steps_executed_total",
		Help: "Total steps executed, by agent and executor kind.",
	}, []string{"agent_id", "kind", "executor_name"})

	m.StepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "masrt_step_duration_seconds",
		Help: "Executor call duration in seconds.",
	}, []string{"agent_id", "kind", "executor_name"})

	m.StepFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "masrt_step_failures_total",
		Help: "Total steps that ended failed.",
	}, []string{"agent_id", "kind", "executor_name"})

	m.MessagesRouted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "masrt_messages_routed_total",
		Help: "Total messages delivered by the dispatcher.",
	}, []string{"task_id"})

	m.StageCompletion = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "masrt_stage_completions_total",
		Help: "Total stage-completion callbacks fired.",
	}, []string{"task_id"})

	m.WaitingIDsOpen = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "masrt_waiting_ids_open",
		Help: "Outstanding waiting IDs per agent.",
	}, []string{"agent_id"})

	m.registry.MustRegister(
		m.StepsExecuted, m.StepDuration, m.StepFailures,
		m.MessagesRouted, m.StageCompletion, m.WaitingIDsOpen,
	)
	return m
}

// Registry exposes the underlying Prometheus registry, e.g. for a
// harness-level /metrics HTTP handler (outside this core's scope).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler for m's registry, grounded on
// the teacher's pkg/observability Metrics.Handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
