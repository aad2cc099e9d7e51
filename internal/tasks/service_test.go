package tasks

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/KafClaw/clienthub/internal/model"
	"github.com/KafClaw/clienthub/internal/recurrence"
	"github.com/KafClaw/clienthub/internal/settings"
	"github.com/KafClaw/clienthub/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	svc := NewService(s, settings.Static(settings.Defaults()), recurrence.NewMaterializer(s))
	return svc, s
}

func intP(v int) *int { return &v }

func TestCreateValidates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	anchor := model.NewDate(2025, time.June, 2)
	bad := []NewTask{
		{Title: "  "},
		{Title: "x", EstimatedMinutes: intP(-5)},
		{Title: "x", Priority: "P9"},
		{Title: "x", RecurrenceRule: "FREQ=HOURLY"},
		{Title: "x", RecurrenceRule: "FREQ=DAILY", RecurrenceTimezone: "Mars/Olympus"},
		{Title: "x", AnchorDate: &anchor},
	}
	for _, n := range bad {
		if _, err := svc.Create(ctx, n); !model.IsValidation(err) {
			t.Errorf("Create(%+v): expected validation error, got %v", n, err)
		}
	}
}

func TestCreateTemplateSetsFirstPointer(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	anchor := model.NewDate(2025, time.June, 7) // Saturday
	tmpl, err := svc.Create(ctx, NewTask{
		Title:          "Invoice run",
		RecurrenceRule: "FREQ=MONTHLY",
		AnchorDate:     &anchor,
		SkipWeekends:   true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !tmpl.IsRecurring || tmpl.RecurrenceTimezone != "America/New_York" {
		t.Fatalf("template not configured: %+v", tmpl)
	}
	ny, _ := time.LoadLocation("America/New_York")
	if tmpl.NextOccurrenceAt == nil || model.DateOf(tmpl.NextOccurrenceAt.In(ny)).String() != "2025-06-09" {
		t.Fatalf("expected first occurrence rolled to Monday, got %v", tmpl.NextOccurrenceAt)
	}

	end := model.NewDate(2025, time.May, 1)
	ended, err := svc.Create(ctx, NewTask{Title: "Never", RecurrenceRule: "FREQ=DAILY", AnchorDate: &anchor, EndDate: &end})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ended.NextOccurrenceAt != nil {
		t.Fatalf("ended series must have nil pointer, got %v", ended.NextOccurrenceAt)
	}
}

func TestCompleteRequiresSubtasks(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	task, err := svc.Create(ctx, NewTask{Title: "Ship release", Subtasks: []string{"tag", "announce"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = svc.TransitionStatus(ctx, task.ID, model.StatusCompleted, model.ActorManual)
	if !errors.Is(err, ErrTransition) {
		t.Fatalf("expected transition error, got %v", err)
	}

	for _, st := range task.Subtasks {
		if _, err := svc.SetSubtaskStatus(ctx, st.ID, model.StatusCompleted, model.ActorManual); err != nil {
			t.Fatalf("subtask: %v", err)
		}
	}
	done, err := svc.TransitionStatus(ctx, task.ID, model.StatusCompleted, model.ActorManual)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != model.StatusCompleted || done.CompletedAt == nil {
		t.Fatalf("not completed: %+v", done)
	}

	activity, _ := s.ListActivity(ctx, model.EntityTask, task.ID)
	var changed, completed bool
	for _, a := range activity {
		changed = changed || (a.ActionType == model.ActionStatusChanged && a.NewValue == string(model.StatusCompleted))
		completed = completed || a.ActionType == model.ActionCompleted
	}
	if !changed || !completed {
		t.Fatalf("missing activity: %+v", activity)
	}

	reopened, err := svc.TransitionStatus(ctx, task.ID, model.StatusInProgress, model.ActorManual)
	if err != nil || reopened.CompletedAt != nil {
		t.Fatalf("reopen: %+v %v", reopened, err)
	}
}

func TestTransitionRejectsTemplatesAndUnknownStatus(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	tmpl, err := svc.Create(ctx, NewTask{Title: "Daily", RecurrenceRule: "FREQ=DAILY"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.TransitionStatus(ctx, tmpl.ID, model.StatusCompleted, model.ActorManual); !errors.Is(err, ErrTransition) {
		t.Fatalf("expected template rejection, got %v", err)
	}
	if _, err := svc.TransitionStatus(ctx, tmpl.ID, "DONE", model.ActorManual); !model.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.TransitionStatus(ctx, "missing", model.StatusCompleted, model.ActorManual); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCompletingOccurrenceRollsForward(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	anchor := model.NewDate(2025, time.June, 2) // Monday
	tmpl, err := svc.Create(ctx, NewTask{Title: "Weekly sync notes", RecurrenceRule: "FREQ=WEEKLY", AnchorDate: &anchor})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ny, _ := time.LoadLocation("America/New_York")
	ids, err := recurrence.NewMaterializer(s).MaterializeDue(ctx, time.Date(2025, time.June, 2, 10, 0, 0, 0, ny))
	if err != nil || len(ids) != 1 {
		t.Fatalf("tick: %v %v", ids, err)
	}

	if _, err := svc.TransitionStatus(ctx, ids[0], model.StatusCompleted, model.ActorManual); err != nil {
		t.Fatalf("complete: %v", err)
	}
	occ, _ := s.ListTasks(ctx, store.TaskFilter{ParentID: tmpl.ID, IncludeCompleted: true})
	if len(occ) != 2 {
		t.Fatalf("expected the next occurrence to exist, got %d rows", len(occ))
	}
	got, _ := s.GetTask(ctx, tmpl.ID)
	if model.DateOf(got.NextOccurrenceAt.In(ny)) != anchor.AddDays(7) {
		t.Fatalf("pointer = %v, want anchor+7", got.NextOccurrenceAt.In(ny))
	}
}

func TestEditMarksManualFields(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	task, _ := svc.Create(ctx, NewTask{Title: "Draft", EstimatedMinutes: intP(30)})

	due := model.NewDate(2025, time.June, 9)
	title := "Draft v2"
	edited, err := svc.Edit(ctx, task.ID, Patch{Title: &title, DueDate: &due, EstimatedMinutes: intP(30)})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if !edited.ManuallyEdited || edited.LastEditedSource != model.SourceManual {
		t.Fatalf("manual flags not set: %+v", edited)
	}
	want := []string{model.FieldDueDate, model.FieldTitle}
	if len(edited.ManualFields) != len(want) || edited.ManualFields[0] != want[0] || edited.ManualFields[1] != want[1] {
		t.Fatalf("manual fields = %v, want %v", edited.ManualFields, want)
	}

	edited, err = svc.Edit(ctx, task.ID, Patch{ClearDueDate: true})
	if err != nil || edited.DueDate != nil {
		t.Fatalf("clear due date: %+v %v", edited, err)
	}
	stored, _ := s.GetTask(ctx, task.ID)
	if stored.DueDate != nil || stored.Title != "Draft v2" || len(stored.ManualFields) != 2 {
		t.Fatalf("stored task = %+v", stored)
	}
}

func TestPinAndArchive(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	task, _ := svc.Create(ctx, NewTask{Title: "Call back"})
	if got, err := svc.Pin(ctx, task.ID, true); err != nil || !got.PinnedToday {
		t.Fatalf("pin: %+v %v", got, err)
	}
	if _, err := svc.Archive(ctx, task.ID, model.ActorManual); err != nil {
		t.Fatalf("archive: %v", err)
	}
	open, _ := s.ListOpenTasks(ctx)
	if len(open) != 0 {
		t.Fatalf("archived task still open: %+v", open)
	}

	tmpl, _ := svc.Create(ctx, NewTask{Title: "Daily", RecurrenceRule: "FREQ=DAILY"})
	archived, err := svc.Archive(ctx, tmpl.ID, model.ActorManual)
	if err != nil || archived.NextOccurrenceAt != nil {
		t.Fatalf("archived template must stop: %+v %v", archived, err)
	}
}

func TestCanTransition(t *testing.T) {
	task := &model.Task{Status: model.StatusInProgress, Subtasks: []model.Subtask{{Status: model.StatusCompleted}, {Status: model.StatusPending}}}
	if ok, reason := CanTransition(task, model.StatusCompleted); ok || reason == "" {
		t.Fatal("open subtask should block completion")
	}
	if ok, _ := CanTransition(task, model.StatusPending); !ok {
		t.Fatal("in_progress -> pending should be allowed")
	}
	task.Subtasks[1].Status = model.StatusCompleted
	if ok, _ := CanTransition(task, model.StatusCompleted); !ok {
		t.Fatal("completion should be allowed once subtasks are done")
	}
}
