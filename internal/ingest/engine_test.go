package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/KafClaw/clienthub/internal/model"
	"github.com/KafClaw/clienthub/internal/settings"
	"github.com/KafClaw/clienthub/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "ingest.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if _, err := s.CreateClient(context.Background(), &model.Client{ID: "acme", Name: "Acme"}); err != nil {
		t.Fatalf("create client: %v", err)
	}
	st := settings.Defaults()
	st.ClientMatchingRules.Domains = []settings.DomainRule{{Domain: "acme.com", ClientID: "acme"}}
	return NewEngine(s, settings.Static(st)), s
}

func strP(s string) *string { return &s }

func dateP(y int, m time.Month, d int) *model.Date {
	v := model.NewDate(y, m, d)
	return &v
}

func TestSameKeyTwiceCreatesOneRow(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	rec := Record{
		IdempotencyKey: "ff:meeting-1:item-1",
		SourceType:     model.SourceFireflies,
		SourceID:       "item-1",
		Title:          strP("Send proposal"),
		DueDate:        dateP(2025, time.June, 6),
	}

	first, err := e.IngestBatch(ctx, []Record{rec})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if first[0].Status != StatusCreated || first[0].TaskID == "" {
		t.Fatalf("expected created, got %+v", first[0])
	}
	second, err := e.IngestBatch(ctx, []Record{rec})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if second[0].Status != StatusUpdated || second[0].TaskID != first[0].TaskID {
		t.Fatalf("expected updated on same row, got %+v", second[0])
	}
	if len(second[0].Changed) != 0 {
		t.Fatalf("identical record changed fields: %v", second[0].Changed)
	}

	all, err := s.ListTasks(ctx, store.TaskFilter{IncludeCompleted: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly one row, got %d", len(all))
	}
	if all[0].SourceType != model.SourceFireflies || all[0].LastEditedSource != model.SourceFireflies {
		t.Fatalf("provenance not stamped: %+v", all[0])
	}
}

func TestSourcePairIdentifiesRow(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	res, _ := e.IngestBatch(ctx, []Record{{SourceType: model.SourceN8N, SourceID: "wf-7", Title: strP("Review contract")}})
	if res[0].Status != StatusCreated {
		t.Fatalf("expected created, got %+v", res[0])
	}
	res2, _ := e.IngestBatch(ctx, []Record{{SourceType: model.SourceN8N, SourceID: "wf-7", Priority: func() *model.Priority { p := model.P0; return &p }()}})
	if res2[0].Status != StatusUpdated || res2[0].TaskID != res[0].TaskID {
		t.Fatalf("expected update by source pair, got %+v", res2[0])
	}
	if len(res2[0].Changed) != 1 || res2[0].Changed[0] != model.FieldPriority {
		t.Fatalf("expected only priority to change, got %v", res2[0].Changed)
	}
}

func TestMergePreservesManualFields(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	rec := Record{IdempotencyKey: "k1", Title: strP("Draft SOW"), DueDate: dateP(2025, time.June, 6)}
	res, _ := e.IngestBatch(ctx, []Record{rec})
	id := res[0].TaskID

	// A human moves the due date.
	task, err := s.GetTask(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	task.DueDate = dateP(2025, time.June, 20)
	task.ManuallyEdited = true
	task.ManualFields = []string{model.FieldDueDate}
	if err := s.UpdateTask(ctx, task); err != nil {
		t.Fatalf("manual edit: %v", err)
	}

	rec.Title = strP("Draft SOW v2")
	rec.DueDate = dateP(2025, time.June, 9)
	res, _ = e.IngestBatch(ctx, []Record{rec})
	if res[0].Status != StatusUpdated {
		t.Fatalf("expected updated, got %+v", res[0])
	}
	if len(res[0].SkippedFields) != 1 || res[0].SkippedFields[0] != model.FieldDueDate {
		t.Fatalf("expected due_date skipped, got %v", res[0].SkippedFields)
	}

	got, _ := s.GetTask(ctx, id)
	if got.DueDate.String() != "2025-06-20" {
		t.Fatalf("manual due date overwritten: %s", got.DueDate)
	}
	if got.Title != "Draft SOW v2" {
		t.Fatalf("title not applied: %q", got.Title)
	}
	if !got.ManuallyEdited || len(got.ManualFields) != 1 {
		t.Fatalf("manual flags touched: %+v", got)
	}

	activity, err := s.ListActivity(ctx, model.EntityTask, id)
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	var titleChange *model.ActivityEntry
	for i := range activity {
		if activity[i].FieldName == model.FieldTitle {
			titleChange = &activity[i]
		}
		if activity[i].FieldName == model.FieldDueDate {
			t.Fatalf("skipped field logged: %+v", activity[i])
		}
	}
	if titleChange == nil || titleChange.OldValue != "Draft SOW" || titleChange.NewValue != "Draft SOW v2" {
		t.Fatalf("missing title activity: %+v", activity)
	}
}

func TestDuplicateFlagged(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	res, _ := e.IngestBatch(ctx, []Record{{
		IdempotencyKey: "a",
		Title:          strP("Send Q3 report to Acme"),
		DueDate:        dateP(2025, time.June, 6),
		Participants:   []string{"cfo@acme.com"},
	}})
	orig := res[0].TaskID

	res, _ = e.IngestBatch(ctx, []Record{
		{
			IdempotencyKey: "b",
			Title:          strP("send Q3 report to ACME!"),
			DueDate:        dateP(2025, time.June, 7),
			Participants:   []string{"cfo@acme.com"},
		},
		{
			IdempotencyKey: "c",
			Title:          strP("Send Q3 report to Acme"),
			DueDate:        dateP(2025, time.June, 10),
			Participants:   []string{"cfo@acme.com"},
		},
	})
	if res[0].Status != StatusDuplicateFlagged || res[0].DuplicateOf != orig {
		t.Fatalf("expected duplicate flag, got %+v", res[0])
	}
	if res[1].Status != StatusCreated {
		t.Fatalf("due date three days apart should not be flagged, got %+v", res[1])
	}

	flagged, _ := s.GetTask(ctx, res[0].TaskID)
	if !flagged.PossibleDuplicate || flagged.DuplicateOf != orig || flagged.ClientID != "acme" {
		t.Fatalf("flagged row not stored as such: %+v", flagged)
	}
}

func TestBatchContinuesAfterFailure(t *testing.T) {
	e, _ := newTestEngine(t)
	bad := model.TaskStatus("DONE")
	res, err := e.IngestBatch(context.Background(), []Record{
		{IdempotencyKey: "1", Title: strP("first")},
		{Title: strP("no identity")},
		{IdempotencyKey: "3", Title: strP("third"), Status: &bad},
		{IdempotencyKey: "4"},
		{IdempotencyKey: "5", Title: strP("fifth")},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	want := []Status{StatusCreated, StatusFailed, StatusFailed, StatusFailed, StatusCreated}
	for i, w := range want {
		if res[i].Status != w || res[i].Index != i {
			t.Fatalf("record %d: got %+v, want %s", i, res[i], w)
		}
		if w == StatusFailed && res[i].Reason == "" {
			t.Fatalf("record %d: failure without reason", i)
		}
	}
}

type fakeRoller struct {
	template string
	date     model.Date
}

func (f *fakeRoller) RollForward(_ context.Context, templateID string, completed model.Date) (string, error) {
	f.template, f.date = templateID, completed
	return "next", nil
}

func TestCompletionGateAndRollForward(t *testing.T) {
	e, s := newTestEngine(t)
	roller := &fakeRoller{}
	e.WithRoller(roller)
	ctx := context.Background()

	occ := model.NewDate(2025, time.June, 2)
	tmpl, err := s.CreateTask(ctx, &model.Task{
		Title:          "Weekly report",
		IsRecurring:    true,
		RecurrenceRule: "FREQ=WEEKLY",
		AnchorDate:     &occ,
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	task, err := s.CreateTask(ctx, &model.Task{
		Title:                 "Weekly report",
		IdempotencyKey:        "occ-1",
		ParentRecurringTaskID: tmpl.ID,
		OccurrenceDate:        &occ,
		DueDate:               &occ,
		Subtasks:              []model.Subtask{{Title: "numbers"}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	done := model.StatusCompleted
	res, _ := e.IngestBatch(ctx, []Record{{IdempotencyKey: "occ-1", Status: &done}})
	if res[0].Status != StatusUpdated || res[0].Reason == "" {
		t.Fatalf("expected gated update with reason, got %+v", res[0])
	}
	got, _ := s.GetTask(ctx, task.ID)
	if got.Status == model.StatusCompleted {
		t.Fatal("completed despite open subtask")
	}

	if _, err := s.SetSubtaskStatus(ctx, got.Subtasks[0].ID, model.StatusCompleted, model.ActorManual); err != nil {
		t.Fatalf("subtask: %v", err)
	}
	res, _ = e.IngestBatch(ctx, []Record{{IdempotencyKey: "occ-1", Status: &done}})
	if res[0].Status != StatusUpdated || res[0].Reason != "" {
		t.Fatalf("expected clean update, got %+v", res[0])
	}
	got, _ = s.GetTask(ctx, task.ID)
	if got.Status != model.StatusCompleted || got.CompletedAt == nil {
		t.Fatalf("not completed: %+v", got)
	}
	if roller.template != tmpl.ID || roller.date != occ {
		t.Fatalf("roll forward not triggered: %+v", roller)
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"Send invoice", "send invoice!", 1, 1},
		{"Send invoice to Acme", "Send invoices to Acme", 0.9, 0.99},
		{"Send invoice", "Plan offsite", 0, 0.5},
		{"", "", 1, 1},
	}
	for _, tt := range tests {
		got := Similarity(tt.a, tt.b)
		if got < tt.min || got > tt.max {
			t.Errorf("Similarity(%q, %q) = %v, want [%v, %v]", tt.a, tt.b, got, tt.min, tt.max)
		}
	}
	if got := NormalizeTitle("  Re: Q3 -- Report!! "); got != "re q3 report" {
		t.Errorf("NormalizeTitle = %q", got)
	}
}
