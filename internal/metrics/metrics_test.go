package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNew(reg)

	m.IngestResult("created")
	m.IngestResult("created")
	m.IngestResult("failed")
	m.RecurrenceTick(3, 20*time.Millisecond)
	m.Materialized(1)
	m.MatchResult("")
	m.MatchResult("domain")

	if got := testutil.ToFloat64(m.ingestResults.WithLabelValues("created")); got != 2 {
		t.Fatalf("created = %v", got)
	}
	if got := testutil.ToFloat64(m.materialized); got != 4 {
		t.Fatalf("materialized = %v", got)
	}
	if got := testutil.ToFloat64(m.matchResults.WithLabelValues("none")); got != 1 {
		t.Fatalf("none matches = %v", got)
	}
	if n := testutil.CollectAndCount(m.tickDuration); n != 1 {
		t.Fatalf("tick histogram series = %d", n)
	}
}

func TestMustNewReusesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := MustNew(reg)
	b := MustNew(reg)
	a.JobRun("tick", "ok")
	if got := testutil.ToFloat64(b.jobRuns.WithLabelValues("tick", "ok")); got != 1 {
		t.Fatalf("expected shared collector, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.IngestResult("created")
	m.RecurrenceTick(1, time.Second)
	m.MatchResult("keyword")
	m.JobRun("x", "ok")
	m.IntakeEnvelope("tasks", "ok")
	m.Notification("digest", "ok")
}
