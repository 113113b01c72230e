// Package metrics exposes the engine's Prometheus counters and an
// opt-in /metrics HTTP endpoint. The client_golang dependency is
// declared but unused in the teacher's own code; this is its first
// real call site (see SPEC_FULL.md §4 DOMAIN STACK).
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every counter/gauge/histogram the engine updates.
type Metrics struct {
	TasksDispatched prometheus.Counter
	TasksCompleted  prometheus.Counter
	TasksFailed     prometheus.Counter
	TasksRetried    prometheus.Counter
	TasksCascaded   prometheus.Counter
	LLMCallSeconds  *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New registers every metric against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		TasksDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "shipyard_tasks_dispatched_total",
			Help: "Tasks handed to a worker.",
		}),
		TasksCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "shipyard_tasks_completed_total",
			Help: "Tasks marked completed.",
		}),
		TasksFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "shipyard_tasks_failed_total",
			Help: "Tasks marked failed (including cascaded).",
		}),
		TasksRetried: factory.NewCounter(prometheus.CounterOpts{
			Name: "shipyard_tasks_retried_total",
			Help: "Tasks moved back to pending for retry.",
		}),
		TasksCascaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "shipyard_tasks_cascaded_total",
			Help: "Tasks marked failed by cascade propagation.",
		}),
		LLMCallSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shipyard_llm_call_seconds",
			Help:    "LLM CLI subprocess call latency by role.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"role"}),
		registry: reg,
	}
}

// ObserveLLMCall records one LLM CLI call's wall-clock latency under
// LLMCallSeconds, labeled by role. A nil receiver (metrics disabled)
// is a no-op so callers never need to guard on whether metrics are on.
func (m *Metrics) ObserveLLMCall(role string, seconds float64) {
	if m == nil {
		return
	}
	m.LLMCallSeconds.WithLabelValues(role).Observe(seconds)
}

// Serve starts the /metrics HTTP endpoint on addr and blocks until ctx
// is cancelled. A disabled (empty addr) server is a no-op.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server stopped", "error", err)
	}
}
