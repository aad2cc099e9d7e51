package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/KafClaw/clienthub/internal/model"
	"github.com/KafClaw/clienthub/internal/settings"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "clienthub.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func dateP(y int, m time.Month, d int) *model.Date {
	v := model.NewDate(y, m, d)
	return &v
}

func intP(v int) *int { return &v }

func TestCreateAndGetTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	client, err := s.CreateClient(ctx, &model.Client{Name: "Acme", DefaultPriorityWeight: 5})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}

	task, err := s.CreateTask(ctx, &model.Task{
		Title:            "Draft proposal",
		DueDate:          dateP(2025, time.June, 3),
		DueTime:          &model.TimeOfDay{Hour: 14, Minute: 30},
		EstimatedMinutes: intP(45),
		ClientID:         client.ID,
		IdempotencyKey:   "n8n:1",
		ManualFields:     []string{model.FieldDueDate},
		Subtasks:         []model.Subtask{{Title: "outline"}, {Title: "send"}},
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.ID == "" || task.Version != 1 {
		t.Fatalf("unexpected identity: %+v", task)
	}
	if task.Status != model.StatusNotStarted || task.Priority != model.P2 || task.TimeboxBucket != model.TimeboxNone {
		t.Fatalf("defaults not applied: %+v", task)
	}

	got, err := s.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.DueDate.String() != "2025-06-03" || got.DueTime.String() != "14:30" {
		t.Fatalf("unexpected due: %v %v", got.DueDate, got.DueTime)
	}
	if got.EstimatedMinutes == nil || *got.EstimatedMinutes != 45 {
		t.Fatalf("unexpected estimate: %v", got.EstimatedMinutes)
	}
	if len(got.Subtasks) != 2 || got.Subtasks[0].Title != "outline" {
		t.Fatalf("unexpected subtasks: %+v", got.Subtasks)
	}
	if got.Client == nil || got.Client.DefaultPriorityWeight != 5 {
		t.Fatalf("client not hydrated: %+v", got.Client)
	}
	if !got.IsManualField(model.FieldDueDate) {
		t.Fatalf("manual fields lost: %v", got.ManualFields)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetTask(context.Background(), "missing")
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetTaskByIdempotencyKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Not found returns nil, nil
	got, err := s.GetTaskByIdempotencyKey(ctx, "nonexistent")
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil; got %v, %v", got, err)
	}
	got, err = s.GetTaskByIdempotencyKey(ctx, "")
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil for empty key; got %v, %v", got, err)
	}

	if _, err := s.CreateTask(ctx, &model.Task{Title: "a", IdempotencyKey: "k1"}); err != nil {
		t.Fatalf("create task: %v", err)
	}
	got, err = s.GetTaskByIdempotencyKey(ctx, "k1")
	if err != nil || got == nil || got.Title != "a" {
		t.Fatalf("expected task for k1, got %v, %v", got, err)
	}

	// Empty keys never collide.
	for i := 0; i < 2; i++ {
		if _, err := s.CreateTask(ctx, &model.Task{Title: "no key"}); err != nil {
			t.Fatalf("create keyless task %d: %v", i, err)
		}
	}
	_, err = s.CreateTask(ctx, &model.Task{Title: "dup", IdempotencyKey: "k1"})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestGetTaskBySource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateTask(ctx, &model.Task{Title: "from call", SourceType: model.SourceFireflies, SourceID: "ff-1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := s.GetTaskBySource(ctx, model.SourceFireflies, "ff-1")
	if err != nil || got == nil {
		t.Fatalf("expected task, got %v, %v", got, err)
	}
	if got.LastEditedSource != model.SourceFireflies {
		t.Fatalf("last edited source should default to source type, got %s", got.LastEditedSource)
	}
	got, err = s.GetTaskBySource(ctx, model.SourceN8N, "ff-1")
	if err != nil || got != nil {
		t.Fatalf("expected nil for other source type, got %v, %v", got, err)
	}
}

func TestUpdateTaskVersionConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task, err := s.CreateTask(ctx, &model.Task{Title: "v1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	stale := *task

	task.Title = "v2"
	if err := s.UpdateTask(ctx, task, model.ActivityEntry{
		EntityType: model.EntityTask, ActionType: model.ActionUpdated,
		FieldName: model.FieldTitle, OldValue: "v1", NewValue: "v2",
		Actor: model.ActorManual, Timestamp: time.Now(),
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if task.Version != 2 {
		t.Fatalf("expected version 2, got %d", task.Version)
	}

	stale.Title = "lost"
	err = s.UpdateTask(ctx, &stale)
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	got, _ := s.GetTask(ctx, task.ID)
	if got.Title != "v2" {
		t.Fatalf("stale write applied: %q", got.Title)
	}

	entries, err := s.ListActivity(ctx, model.EntityTask, task.ID)
	if err != nil {
		t.Fatalf("list activity: %v", err)
	}
	if len(entries) != 1 || entries[0].NewValue != "v2" {
		t.Fatalf("unexpected activity: %+v", entries)
	}
}

func TestOccurrenceGuard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tmpl, err := s.CreateTask(ctx, &model.Task{Title: "weekly", IsRecurring: true, RecurrenceRule: "FREQ=WEEKLY"})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	occ := func() *model.Task {
		return &model.Task{Title: "weekly", ParentRecurringTaskID: tmpl.ID, OccurrenceDate: dateP(2025, time.June, 2)}
	}
	if _, err := s.CreateTask(ctx, occ()); err != nil {
		t.Fatalf("first occurrence: %v", err)
	}
	if _, err := s.CreateTask(ctx, occ()); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for second occurrence, got %v", err)
	}
}

func TestListTasksFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c, _ := s.CreateClient(ctx, &model.Client{Name: "Beta"})
	now := time.Now()

	mustCreate := func(task *model.Task) *model.Task {
		t.Helper()
		out, err := s.CreateTask(ctx, task)
		if err != nil {
			t.Fatalf("create %q: %v", task.Title, err)
		}
		return out
	}
	mustCreate(&model.Task{Title: "open", ClientID: c.ID, DueDate: dateP(2025, time.June, 1)})
	mustCreate(&model.Task{Title: "done", Status: model.StatusCompleted, CompletedAt: &now})
	mustCreate(&model.Task{Title: "archived", ArchivedAt: &now})
	mustCreate(&model.Task{Title: "template", IsRecurring: true})
	mustCreate(&model.Task{Title: "late", DueDate: dateP(2025, time.July, 1)})

	open, err := s.ListOpenTasks(ctx)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("expected 2 open tasks, got %d", len(open))
	}

	byClient, _ := s.ListTasks(ctx, TaskFilter{ClientID: c.ID})
	if len(byClient) != 1 || byClient[0].Title != "open" {
		t.Fatalf("unexpected client filter result: %+v", byClient)
	}
	unassigned, _ := s.ListTasks(ctx, TaskFilter{Unassigned: true})
	if len(unassigned) != 1 || unassigned[0].Title != "late" {
		t.Fatalf("unexpected unassigned result: %+v", unassigned)
	}

	june := model.NewDate(2025, time.June, 30)
	early, _ := s.ListTasks(ctx, TaskFilter{DueTo: &june})
	if len(early) != 1 || early[0].Title != "open" {
		t.Fatalf("unexpected due filter result: %+v", early)
	}

	from := now.Add(-time.Minute)
	completed, _ := s.ListTasks(ctx, TaskFilter{CompletedFrom: &from})
	if len(completed) != 1 || completed[0].Title != "done" {
		t.Fatalf("unexpected completed filter result: %+v", completed)
	}

	none, err := s.ListTasks(ctx, TaskFilter{ClientID: "nobody"})
	if err != nil || none == nil || len(none) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v, %v", none, err)
	}
}

func TestDueTemplatesAndAdvance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	due := time.Date(2025, 6, 2, 13, 0, 0, 0, time.UTC)
	later := due.Add(48 * time.Hour)

	tmpl, err := s.CreateTask(ctx, &model.Task{Title: "standup", IsRecurring: true, NextOccurrenceAt: &due})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.CreateTask(ctx, &model.Task{Title: "future", IsRecurring: true, NextOccurrenceAt: &later}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.CreateTask(ctx, &model.Task{Title: "ended", IsRecurring: true}); err != nil {
		t.Fatalf("create: %v", err)
	}

	list, err := s.ListDueTemplates(ctx, due.Add(time.Hour))
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(list) != 1 || list[0].ID != tmpl.ID {
		t.Fatalf("unexpected due templates: %+v", list)
	}
	if !list[0].NextOccurrenceAt.Equal(due) {
		t.Fatalf("next occurrence not round-tripped: %v", list[0].NextOccurrenceAt)
	}

	if err := s.AdvanceTemplate(ctx, tmpl.ID, tmpl.Version, &later); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := s.AdvanceTemplate(ctx, tmpl.ID, tmpl.Version, nil); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected conflict on stale advance, got %v", err)
	}
}

func TestSubtasksBumpParentVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task, _ := s.CreateTask(ctx, &model.Task{Title: "parent"})

	st, err := s.AddSubtask(ctx, &model.Subtask{TaskID: task.ID, Title: "child"}, model.ActorManual)
	if err != nil {
		t.Fatalf("add subtask: %v", err)
	}
	if _, err := s.SetSubtaskStatus(ctx, st.ID, model.StatusCompleted, model.ActorManual); err != nil {
		t.Fatalf("complete subtask: %v", err)
	}
	got, _ := s.GetTask(ctx, task.ID)
	if got.Version != 3 {
		t.Fatalf("expected version 3 after two subtask writes, got %d", got.Version)
	}
	if len(got.Subtasks) != 1 || got.Subtasks[0].CompletedAt == nil {
		t.Fatalf("unexpected subtasks: %+v", got.Subtasks)
	}

	if _, err := s.AddSubtask(ctx, &model.Subtask{TaskID: "missing", Title: "x"}, model.ActorManual); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found for orphan subtask, got %v", err)
	}
}

func TestUpsertCalendarEventKeepsManualAssignment(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, _ := s.CreateClient(ctx, &model.Client{Name: "A"})
	b, _ := s.CreateClient(ctx, &model.Client{Name: "B"})
	start := time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)

	ev, created, err := s.UpsertCalendarEvent(ctx, &model.CalendarEvent{
		GCalEventID: "g1", Title: "Kickoff", StartTime: start, EndTime: start.Add(time.Hour),
		Participants: []string{"x@a.com"}, ClientID: a.ID, MatchConfidence: 90, MatchMethod: model.MatchDomain,
	})
	if err != nil || !created {
		t.Fatalf("first upsert: created=%v err=%v", created, err)
	}
	if err := s.AssignCalendarEvent(ctx, ev.ID, b.ID, 100, model.MatchManual); err != nil {
		t.Fatalf("assign: %v", err)
	}

	ev2, created, err := s.UpsertCalendarEvent(ctx, &model.CalendarEvent{
		GCalEventID: "g1", Title: "Kickoff (moved)", StartTime: start.Add(time.Hour), EndTime: start.Add(2 * time.Hour),
		ClientID: a.ID, MatchConfidence: 90, MatchMethod: model.MatchDomain,
	})
	if err != nil || created {
		t.Fatalf("second upsert: created=%v err=%v", created, err)
	}
	if ev2.ID != ev.ID || ev2.Title != "Kickoff (moved)" {
		t.Fatalf("event not refreshed in place: %+v", ev2)
	}
	if ev2.ClientID != b.ID || ev2.MatchMethod != model.MatchManual {
		t.Fatalf("manual assignment overwritten: %+v", ev2)
	}

	events, err := s.ListCalendarEvents(ctx, EventFilter{From: &start})
	if err != nil || len(events) != 1 {
		t.Fatalf("list events: %v %v", events, err)
	}
}

func TestListCalendarEventsEndsAfter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day := time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC)
	for _, e := range []model.CalendarEvent{
		{GCalEventID: "long", Title: "Offsite", AllDay: true, StartTime: day.AddDate(0, 0, -10), EndTime: day.AddDate(0, 0, 1)},
		{GCalEventID: "past", Title: "Retro", StartTime: day.Add(-3 * time.Hour), EndTime: day.Add(-2 * time.Hour)},
		{GCalEventID: "today", Title: "Standup", StartTime: day.Add(9 * time.Hour), EndTime: day.Add(10 * time.Hour)},
		{GCalEventID: "later", Title: "Planning", StartTime: day.AddDate(0, 0, 2), EndTime: day.AddDate(0, 0, 2).Add(time.Hour)},
	} {
		e := e
		if _, _, err := s.UpsertCalendarEvent(ctx, &e); err != nil {
			t.Fatalf("upsert %s: %v", e.GCalEventID, err)
		}
	}

	end := day.AddDate(0, 0, 1)
	events, err := s.ListCalendarEvents(ctx, EventFilter{EndsAfter: &day, To: &end})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var ids []string
	for _, e := range events {
		ids = append(ids, e.GCalEventID)
	}
	if strings.Join(ids, ",") != "long,today" {
		t.Fatalf("events = %v, want long,today", ids)
	}
}

func TestUpsertCall(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	started := time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)
	c, created, err := s.UpsertCall(ctx, &model.Call{FirefliesID: "ff1", Title: "Weekly sync", StartedAt: started, DurationMinutes: 30})
	if err != nil || !created {
		t.Fatalf("upsert call: %v %v", created, err)
	}
	unmatched, _ := s.ListCalls(ctx, EventFilter{Unmatched: true})
	if len(unmatched) != 1 || unmatched[0].ID != c.ID {
		t.Fatalf("expected unmatched call, got %+v", unmatched)
	}
	if _, _, err := s.UpsertCall(ctx, &model.Call{}); !model.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.Settings(ctx)
	if err != nil {
		t.Fatalf("load seeded settings: %v", err)
	}
	if got.RankingWeights != settings.DefaultWeights() {
		t.Fatalf("seeded weights differ: %+v", got.RankingWeights)
	}

	got.CapacityMinutesPerDay = 420
	got.ClientMatchingRules.Keywords = []settings.KeywordRule{{Keyword: "acme", ClientID: "c1"}}
	if err := s.SaveSettings(ctx, got, model.ActorManual); err != nil {
		t.Fatalf("save: %v", err)
	}
	again, _ := s.Settings(ctx)
	if again.CapacityMinutesPerDay != 420 || len(again.ClientMatchingRules.Keywords) != 1 {
		t.Fatalf("settings not persisted: %+v", again)
	}

	bad := again
	bad.CapacityMinutesPerDay = -1
	if err := s.SaveSettings(ctx, bad, model.ActorManual); !model.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestJobRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 2, 6, 0, 0, 0, time.UTC)

	run, err := s.GetJobRun(ctx, "recurrence")
	if err != nil || run != nil {
		t.Fatalf("expected nil, nil before any run, got %v %v", run, err)
	}
	_ = s.RecordJobRun(ctx, "recurrence", "ok", at)
	_ = s.RecordJobRun(ctx, "recurrence", "error", at.Add(time.Minute))
	run, err = s.GetJobRun(ctx, "recurrence")
	if err != nil || run == nil {
		t.Fatalf("get job run: %v %v", run, err)
	}
	if run.RunCount != 2 || run.LastStatus != "error" || !run.LastRunAt.Equal(at.Add(time.Minute)) {
		t.Fatalf("unexpected job run: %+v", run)
	}
}
