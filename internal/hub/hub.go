// Package hub is the facade over the orchestration core. It loads a fresh
// settings document per operation, wires the engines to the store and
// records metrics.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/KafClaw/clienthub/internal/ingest"
	"github.com/KafClaw/clienthub/internal/matcher"
	"github.com/KafClaw/clienthub/internal/metrics"
	"github.com/KafClaw/clienthub/internal/model"
	"github.com/KafClaw/clienthub/internal/ranking"
	"github.com/KafClaw/clienthub/internal/recurrence"
	"github.com/KafClaw/clienthub/internal/settings"
	"github.com/KafClaw/clienthub/internal/store"
	"github.com/KafClaw/clienthub/internal/tasks"
)

// The Today view reads every event overlapping [now-dayReach, now+dayReach).
// Any local day containing now lies inside it; the composer keeps only
// events on that day.
const dayReach = 26 * time.Hour

type Service struct {
	store        *store.Store
	settings     settings.Source
	materializer *recurrence.Materializer
	ingest       *ingest.Engine
	tasks        *tasks.Service
	metrics      *metrics.Metrics
	now          func() time.Time
}

// New wires a Service over s. The store doubles as the settings source.
// m may be nil.
func New(s *store.Store, m *metrics.Metrics) *Service {
	mat := recurrence.NewMaterializer(s)
	roller := countingRoller{mat: mat, metrics: m}
	return &Service{
		store:        s,
		settings:     s,
		materializer: mat,
		ingest:       ingest.NewEngine(s, s).WithRoller(roller),
		tasks:        tasks.NewService(s, s, roller),
		metrics:      m,
		now:          time.Now,
	}
}

// SetClock replaces the clock used by every component.
func (h *Service) SetClock(now func() time.Time) {
	h.now = now
	h.ingest.SetClock(now)
	h.tasks.SetClock(now)
	h.store.SetClock(now)
}

// Now reads the service clock.
func (h *Service) Now() time.Time { return h.now() }

func (h *Service) Store() *store.Store    { return h.store }
func (h *Service) Tasks() *tasks.Service { return h.tasks }

// Settings returns the current settings document.
func (h *Service) Settings(ctx context.Context) (settings.Settings, error) {
	return h.settings.Settings(ctx)
}

// ComposeToday builds the Today view at now. Tasks, meetings and settings
// are loaded concurrently.
func (h *Service) ComposeToday(ctx context.Context, now time.Time) (ranking.TodayView, error) {
	var (
		st       settings.Settings
		open     []model.Task
		meetings []model.CalendarEvent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		st, err = h.settings.Settings(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		open, err = h.store.ListOpenTasks(gctx)
		return err
	})
	g.Go(func() error {
		endsAfter, to := now.Add(-dayReach), now.Add(dayReach)
		var err error
		meetings, err = h.store.ListCalendarEvents(gctx, store.EventFilter{EndsAfter: &endsAfter, To: &to})
		return err
	})
	if err := g.Wait(); err != nil {
		return ranking.TodayView{}, fmt.Errorf("compose today: %w", err)
	}
	return ranking.ComposeToday(now, open, meetings, st), nil
}

// Rank orders tasks with the current weights for the current local day.
func (h *Service) Rank(ctx context.Context, list []model.Task) ([]ranking.Scored, error) {
	st, err := h.settings.Settings(ctx)
	if err != nil {
		return nil, err
	}
	return ranking.RankScored(list, st.RankingWeights, h.today(st)), nil
}

// RankOpen ranks every open task.
func (h *Service) RankOpen(ctx context.Context) ([]ranking.Scored, error) {
	open, err := h.store.ListOpenTasks(ctx)
	if err != nil {
		return nil, err
	}
	return h.Rank(ctx, open)
}

// Explain breaks down the score of one task.
func (h *Service) Explain(ctx context.Context, taskID string) (ranking.Breakdown, error) {
	var (
		st settings.Settings
		t  *model.Task
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		st, err = h.settings.Settings(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		t, err = h.store.GetTask(gctx, taskID)
		return err
	})
	if err := g.Wait(); err != nil {
		return ranking.Breakdown{}, err
	}
	return ranking.Explain(t, st.RankingWeights, h.today(st)), nil
}

func (h *Service) today(st settings.Settings) model.Date {
	return model.DateOf(h.now().In(st.Location()))
}

// MaterializeDueRecurrences runs one catch-up tick.
func (h *Service) MaterializeDueRecurrences(ctx context.Context, now time.Time) ([]string, error) {
	start := time.Now()
	ids, err := h.materializer.MaterializeDue(ctx, now)
	h.metrics.RecurrenceTick(len(ids), time.Since(start))
	if err != nil {
		return nil, err
	}
	slog.Info("Recurrence tick finished", "created", len(ids))
	return ids, nil
}

// MatchClient resolves e with the current matching rules.
func (h *Service) MatchClient(ctx context.Context, e matcher.Entity) (matcher.Result, error) {
	st, err := h.settings.Settings(ctx)
	if err != nil {
		return matcher.Result{}, err
	}
	res := matcher.Match(e, st.ClientMatchingRules)
	h.metrics.MatchResult(string(res.Method))
	return res, nil
}

// IngestBatch reconciles task records with stored state.
func (h *Service) IngestBatch(ctx context.Context, records []ingest.Record) ([]ingest.Result, error) {
	results, err := h.ingest.IngestBatch(ctx, records)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		h.metrics.IngestResult(string(r.Status))
	}
	return results, nil
}

// countingRoller counts eager occurrences.
type countingRoller struct {
	mat     *recurrence.Materializer
	metrics *metrics.Metrics
}

func (r countingRoller) RollForward(ctx context.Context, templateID string, completed model.Date) (string, error) {
	id, err := r.mat.RollForward(ctx, templateID, completed)
	if id != "" {
		r.metrics.Materialized(1)
	}
	return id, err
}
