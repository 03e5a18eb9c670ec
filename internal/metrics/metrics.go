// Package metrics exposes Prometheus instrumentation for event processing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "amm_ledger"

// Metrics holds the collectors shared by the processor and the dispatcher.
// A nil *Metrics records nothing.
type Metrics struct {
	EventsProcessed *prometheus.CounterVec
	EventsSkipped   *prometheus.CounterVec
	EventFailures   *prometheus.CounterVec
	GateDecisions   *prometheus.CounterVec
	LogsDecoded     prometheus.Counter
	DecodeFailures  prometheus.Counter
	EventDuration   *prometheus.HistogramVec
	CommitWrites    prometheus.Histogram
	BatchDuration   prometheus.Histogram
	LastBlock       prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accounting",
			Name:      "events_processed_total",
			Help:      "Pool events applied, by kind and protocol",
		}, []string{"kind", "protocol"}),
		EventsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accounting",
			Name:      "events_skipped_total",
			Help:      "Pool events skipped because the pool already applied them",
		}, []string{"kind"}),
		EventFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accounting",
			Name:      "event_failures_total",
			Help:      "Pool events that failed, by kind and reason",
		}, []string{"kind", "reason"}),
		GateDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "gate_decisions_total",
			Help:      "Price gate decisions by outcome",
		}, []string{"outcome"}),
		LogsDecoded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dex",
			Name:      "logs_decoded_total",
			Help:      "Raw logs turned into pool events",
		}),
		DecodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dex",
			Name:      "decode_failures_total",
			Help:      "Raw logs with a known topic that could not be decoded",
		}),
		EventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "accounting",
			Name:      "event_duration_seconds",
			Help:      "Time to apply one pool event including its commit",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"kind"}),
		CommitWrites: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "commit_writes",
			Help:      "Entities written per commit",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "batch_duration_seconds",
			Help:      "Time to dispatch one batch of events",
			Buckets:   prometheus.DefBuckets,
		}),
		LastBlock: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "indexer",
			Name:      "last_processed_block",
			Help:      "Highest block whose events were dispatched",
		}),
	}
}

func (m *Metrics) EventProcessed(kind, protocol string, started time.Time, writes int) {
	if m == nil {
		return
	}
	m.EventsProcessed.WithLabelValues(kind, protocol).Inc()
	m.EventDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
	m.CommitWrites.Observe(float64(writes))
}

func (m *Metrics) EventSkipped(kind string) {
	if m == nil {
		return
	}
	m.EventsSkipped.WithLabelValues(kind).Inc()
}

func (m *Metrics) EventFailed(kind, reason string) {
	if m == nil {
		return
	}
	m.EventFailures.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) GateDecision(outcome string) {
	if m == nil {
		return
	}
	m.GateDecisions.WithLabelValues(outcome).Inc()
}

// LogDecoded counts one decode attempt.
func (m *Metrics) LogDecoded(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.DecodeFailures.Inc()
		return
	}
	m.LogsDecoded.Inc()
}

// BatchTimer starts timing a dispatch batch; call ObserveDuration when done.
func (m *Metrics) BatchTimer() *prometheus.Timer {
	if m == nil {
		return prometheus.NewTimer(prometheus.ObserverFunc(func(float64) {}))
	}
	return prometheus.NewTimer(m.BatchDuration)
}

func (m *Metrics) BlockProcessed(block uint64) {
	if m == nil {
		return
	}
	m.LastBlock.Set(float64(block))
}

// Serve exposes gatherer on addr at /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
