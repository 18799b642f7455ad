package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "rebalancer"

// Metrics holds the rebalancer's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	rebalances    *prometheus.CounterVec
	stepFailures  *prometheus.CounterVec
	attempts      *prometheus.CounterVec
	lastRebalance prometheus.Gauge
	inRange       prometheus.Gauge
	positionPct   prometheus.Gauge
	pending       prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_total",
				Help:      "Check cycles by outcome",
			},
			[]string{"outcome"},
		),
		cycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Duration of check cycles",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		rebalances: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rebalances_total",
				Help:      "Completed rebalances",
			},
			[]string{"mode"},
		),
		stepFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_failures_total",
				Help:      "Workflow step failures",
			},
			[]string{"step"},
		),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operation_attempts_total",
				Help:      "External operation attempts by outcome",
			},
			[]string{"operation", "outcome"},
		),
		lastRebalance: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_rebalance_timestamp_seconds",
				Help:      "Unix time of the last completed rebalance",
			},
		),
		inRange: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "position_in_range",
				Help:      "1 when the tracked position covers the current tick",
			},
		),
		positionPct: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "position_range_pct",
				Help:      "Current tick position within the range, 0 at the lower edge",
			},
		),
		pending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rebalance_pending",
				Help:      "1 while a rebalance is waiting to be resumed",
			},
		),
	}

	registry.MustRegister(
		m.cycles,
		m.cycleDuration,
		m.rebalances,
		m.stepFailures,
		m.attempts,
		m.lastRebalance,
		m.inRange,
		m.positionPct,
		m.pending,
	)
	return m
}

// ObserveAttempt counts one gateway attempt.
func (m *Metrics) ObserveAttempt(operation, outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) CycleFinished(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(took.Seconds())
}

func (m *Metrics) RebalanceCompleted(dryRun bool, at time.Time) {
	if m == nil {
		return
	}
	mode := "live"
	if dryRun {
		mode = "dry_run"
	}
	m.rebalances.WithLabelValues(mode).Inc()
	if !dryRun {
		m.lastRebalance.Set(float64(at.Unix()))
	}
}

func (m *Metrics) StepFailed(step string) {
	if m == nil {
		return
	}
	m.stepFailures.WithLabelValues(step).Inc()
}

func (m *Metrics) SetPosition(inRange bool, positionPct float64) {
	if m == nil {
		return
	}
	m.inRange.Set(boolValue(inRange))
	m.positionPct.Set(positionPct)
}

func (m *Metrics) SetPending(pending bool) {
	if m == nil {
		return
	}
	m.pending.Set(boolValue(pending))
}

// Handler returns the /metrics handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server listening", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func boolValue(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
