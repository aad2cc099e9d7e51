// Package metrics exposes Prometheus collectors for the orchestration core.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clienthub"

// Metrics holds the core's collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	ingestResults    *prometheus.CounterVec
	materialized     prometheus.Counter
	tickDuration     prometheus.Histogram
	matchResults     *prometheus.CounterVec
	jobRuns          *prometheus.CounterVec
	intakeEnvelopes  *prometheus.CounterVec
	notificationSent *prometheus.CounterVec
}

// MustNew creates the collectors and registers them with reg. Collectors
// already registered under the same name are reused.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		ingestResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_results_total",
			Help:      "Ingested task records by outcome.",
		}, []string{"status"}),
		materialized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recurrence_materialized_total",
			Help:      "Recurring task occurrences created.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recurrence_tick_seconds",
			Help:      "Duration of recurrence materialization ticks.",
			Buckets:   prometheus.DefBuckets,
		}),
		matchResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_results_total",
			Help:      "Client match outcomes by method.",
		}, []string{"method"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled job executions by job and status.",
		}, []string{"job", "status"}),
		intakeEnvelopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intake_envelopes_total",
			Help:      "Intake envelopes consumed by type and outcome.",
		}, []string{"type", "status"}),
		notificationSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications posted by kind and outcome.",
		}, []string{"kind", "status"}),
	}
	m.ingestResults = register(reg, m.ingestResults)
	m.materialized = register(reg, m.materialized)
	m.tickDuration = register(reg, m.tickDuration)
	m.matchResults = register(reg, m.matchResults)
	m.jobRuns = register(reg, m.jobRuns)
	m.intakeEnvelopes = register(reg, m.intakeEnvelopes)
	m.notificationSent = register(reg, m.notificationSent)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) IngestResult(status string) {
	if m == nil {
		return
	}
	m.ingestResults.WithLabelValues(status).Inc()
}

// RecurrenceTick records one tick and how many occurrences it created.
func (m *Metrics) RecurrenceTick(created int, d time.Duration) {
	if m == nil {
		return
	}
	m.materialized.Add(float64(created))
	m.tickDuration.Observe(d.Seconds())
}

// Materialized counts occurrences created outside the tick.
func (m *Metrics) Materialized(n int) {
	if m == nil {
		return
	}
	m.materialized.Add(float64(n))
}

// MatchResult counts one match. An empty method is reported as "none".
func (m *Metrics) MatchResult(method string) {
	if m == nil {
		return
	}
	if method == "" {
		method = "none"
	}
	m.matchResults.WithLabelValues(method).Inc()
}

func (m *Metrics) JobRun(job, status string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, status).Inc()
}

func (m *Metrics) IntakeEnvelope(kind, status string) {
	if m == nil {
		return
	}
	m.intakeEnvelopes.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) Notification(kind, status string) {
	if m == nil {
		return
	}
	m.notificationSent.WithLabelValues(kind, status).Inc()
}

// Serve exposes gatherer on addr at /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("Metrics server listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
