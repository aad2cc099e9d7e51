package recurrence

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/KafClaw/clienthub/internal/model"
	"github.com/KafClaw/clienthub/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "recurrence.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// createTemplate stores a template whose pointer is its first occurrence.
func createTemplate(t *testing.T, s *store.Store, rule string, anchor model.Date, skipWeekends bool, end *model.Date) *model.Task {
	t.Helper()
	tmpl := &model.Task{
		Title:              "Weekly report",
		Priority:           model.P1,
		EstimatedMinutes:   func() *int { v := 30; return &v }(),
		IsRecurring:        true,
		RecurrenceRule:     rule,
		RecurrenceTimezone: "America/New_York",
		AnchorDate:         &anchor,
		EndDate:            end,
		SkipWeekends:       skipWeekends,
		Subtasks:           []model.Subtask{{Title: "collect numbers"}},
	}
	series, err := SeriesOf(tmpl)
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	if first, ok := series.First(); ok {
		tmpl.NextOccurrenceAt = &first
	}
	out, err := s.CreateTask(context.Background(), tmpl)
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	return out
}

func occurrences(t *testing.T, s *store.Store, templateID string) []model.Task {
	t.Helper()
	list, err := s.ListTasks(context.Background(), store.TaskFilter{ParentID: templateID, IncludeCompleted: true})
	if err != nil {
		t.Fatalf("list occurrences: %v", err)
	}
	return list
}

func TestMaterializeDueCatchesUpEveryMissedDay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ny, _ := time.LoadLocation("America/New_York")
	anchor := model.NewDate(2025, time.June, 2)
	tmpl := createTemplate(t, s, "FREQ=DAILY", anchor, false, nil)

	now := time.Date(2025, time.June, 5, 8, 0, 0, 0, ny)
	m := NewMaterializer(s)
	ids, err := m.MaterializeDue(ctx, now)
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if len(ids) != 4 {
		t.Fatalf("expected 4 occurrences (Jun 2..5), got %d", len(ids))
	}
	occ := occurrences(t, s, tmpl.ID)
	seen := map[string]bool{}
	for _, o := range occ {
		if o.DueDate == nil || o.OccurrenceDate == nil || *o.DueDate != *o.OccurrenceDate {
			t.Fatalf("occurrence dates mismatch: %+v", o)
		}
		seen[o.DueDate.String()] = true
		if o.IsRecurring || o.Priority != model.P1 || len(o.Subtasks) != 1 {
			t.Fatalf("occurrence did not copy template: %+v", o)
		}
		if o.Subtasks[0].Status != model.StatusNotStarted {
			t.Fatalf("copied subtask should be NOT_STARTED: %+v", o.Subtasks[0])
		}
	}
	for _, d := range []string{"2025-06-02", "2025-06-03", "2025-06-04", "2025-06-05"} {
		if !seen[d] {
			t.Fatalf("missing occurrence %s in %v", d, seen)
		}
	}

	got, _ := s.GetTask(ctx, tmpl.ID)
	if got.NextOccurrenceAt == nil || model.DateOf(got.NextOccurrenceAt.In(ny)).String() != "2025-06-06" {
		t.Fatalf("pointer not advanced: %v", got.NextOccurrenceAt)
	}

	// A second tick at the same instant is a no-op.
	ids, err = m.MaterializeDue(ctx, now)
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected idempotent tick, got %v %v", ids, err)
	}
}

func TestMaterializeSkipWeekends(t *testing.T) {
	s := newTestStore(t)
	ny, _ := time.LoadLocation("America/New_York")
	anchor := model.NewDate(2025, time.June, 5) // Thursday
	tmpl := createTemplate(t, s, "FREQ=DAILY", anchor, true, nil)

	now := time.Date(2025, time.June, 10, 1, 0, 0, 0, ny)
	if _, err := NewMaterializer(s).MaterializeDue(context.Background(), now); err != nil {
		t.Fatalf("materialize: %v", err)
	}
	occ := occurrences(t, s, tmpl.ID)
	if len(occ) != 4 { // Thu, Fri, Mon, Tue
		t.Fatalf("expected 4 weekday occurrences, got %d", len(occ))
	}
	for _, o := range occ {
		switch o.DueDate.Weekday() {
		case time.Saturday, time.Sunday:
			t.Fatalf("weekend occurrence materialized: %s", o.DueDate)
		}
	}
}

func TestEndBeforeAnchorNeverMaterializes(t *testing.T) {
	s := newTestStore(t)
	anchor := model.NewDate(2025, time.June, 2)
	end := model.NewDate(2025, time.May, 1)
	tmpl := createTemplate(t, s, "FREQ=DAILY", anchor, false, &end)
	if tmpl.NextOccurrenceAt != nil {
		t.Fatalf("expected nil pointer, got %v", tmpl.NextOccurrenceAt)
	}
	ids, err := NewMaterializer(s).MaterializeDue(context.Background(), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil || len(ids) != 0 {
		t.Fatalf("expected nothing, got %v %v", ids, err)
	}
	if len(occurrences(t, s, tmpl.ID)) != 0 {
		t.Fatal("occurrence materialized for ended series")
	}
}

func TestMaterializeStopsAtEnd(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	anchor := model.NewDate(2025, time.June, 2)
	end := model.NewDate(2025, time.June, 3)
	tmpl := createTemplate(t, s, "FREQ=DAILY", anchor, false, &end)

	ids, err := NewMaterializer(s).MaterializeDue(ctx, time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC))
	if err != nil || len(ids) != 2 {
		t.Fatalf("expected 2 occurrences, got %v %v", ids, err)
	}
	got, _ := s.GetTask(ctx, tmpl.ID)
	if got.NextOccurrenceAt != nil {
		t.Fatalf("pointer should be nil after end, got %v", got.NextOccurrenceAt)
	}
	if !got.IsRecurring {
		t.Fatal("template must stay recurring")
	}
}

func TestConcurrentTicksDoNotDuplicate(t *testing.T) {
	s := newTestStore(t)
	anchor := model.NewDate(2025, time.June, 2)
	tmpl := createTemplate(t, s, "FREQ=DAILY", anchor, false, nil)
	now := time.Date(2025, time.June, 8, 12, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = NewMaterializer(s).MaterializeDue(context.Background(), now)
		}()
	}
	wg.Wait()

	occ := occurrences(t, s, tmpl.ID)
	seen := map[string]int{}
	for _, o := range occ {
		seen[o.DueDate.String()]++
	}
	if len(occ) != 7 {
		t.Fatalf("expected 7 occurrences (Jun 2..8), got %d", len(occ))
	}
	for d, n := range seen {
		if n != 1 {
			t.Fatalf("date %s materialized %d times", d, n)
		}
	}
}

func TestRollForwardWeekly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ny, _ := time.LoadLocation("America/New_York")
	anchor := model.NewDate(2025, time.June, 2) // Monday
	tmpl := createTemplate(t, s, "FREQ=WEEKLY", anchor, false, nil)
	m := NewMaterializer(s)

	// The tick produces occurrence N on the anchor.
	if _, err := m.MaterializeDue(ctx, time.Date(2025, time.June, 2, 9, 0, 0, 0, ny)); err != nil {
		t.Fatalf("tick: %v", err)
	}
	before := len(occurrences(t, s, tmpl.ID))

	id, err := m.RollForward(ctx, tmpl.ID, anchor)
	if err != nil {
		t.Fatalf("roll forward: %v", err)
	}
	if id == "" {
		t.Fatal("expected a new occurrence")
	}
	occ := occurrences(t, s, tmpl.ID)
	if len(occ) != before+1 {
		t.Fatalf("expected exactly one new row, got %d -> %d", before, len(occ))
	}
	next, _ := s.GetTask(ctx, id)
	if next.ParentRecurringTaskID != tmpl.ID || next.DueDate.String() != "2025-06-09" {
		t.Fatalf("unexpected occurrence: %+v", next)
	}
	got, _ := s.GetTask(ctx, tmpl.ID)
	if model.DateOf(got.NextOccurrenceAt.In(ny)) != anchor.AddDays(7) {
		t.Fatalf("expected pointer on anchor+7, got %v", got.NextOccurrenceAt.In(ny))
	}

	// Rolling the same completion again creates nothing.
	id, err = m.RollForward(ctx, tmpl.ID, anchor)
	if err != nil || id != "" {
		t.Fatalf("expected no-op, got %q %v", id, err)
	}
	// The tick that later reaches anchor+7 does not duplicate the eager row.
	if _, err := m.MaterializeDue(ctx, time.Date(2025, time.June, 9, 9, 0, 0, 0, ny)); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if n := len(occurrences(t, s, tmpl.ID)); n != before+1 {
		t.Fatalf("tick duplicated eager occurrence: %d rows", n)
	}
}
