package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/KafClaw/clienthub/internal/model"
	"github.com/KafClaw/clienthub/internal/settings"
	"github.com/KafClaw/clienthub/internal/store"
)

// racingStore lets another writer land between our read and our write.
type racingStore struct {
	*store.Store
	t *testing.T

	// loseUpdates is how many UpdateTask calls are preceded by a competing
	// edit of the same row.
	loseUpdates int
	updates     int
	// beforeCreate runs once before the first CreateTask.
	beforeCreate func()
}

func (r *racingStore) UpdateTask(ctx context.Context, t *model.Task, activity ...model.ActivityEntry) error {
	r.updates++
	if r.loseUpdates > 0 {
		r.loseUpdates--
		other, err := r.Store.GetTask(ctx, t.ID)
		if err != nil {
			r.t.Fatalf("competing read: %v", err)
		}
		other.Description = "edited elsewhere"
		if err := r.Store.UpdateTask(ctx, other); err != nil {
			r.t.Fatalf("competing write: %v", err)
		}
	}
	return r.Store.UpdateTask(ctx, t, activity...)
}

func (r *racingStore) CreateTask(ctx context.Context, t *model.Task, activity ...model.ActivityEntry) (*model.Task, error) {
	if f := r.beforeCreate; f != nil {
		r.beforeCreate = nil
		f()
	}
	return r.Store.CreateTask(ctx, t, activity...)
}

func newRacingEngine(t *testing.T) (*Engine, *racingStore) {
	t.Helper()
	_, s := newTestEngine(t)
	rs := &racingStore{Store: s, t: t}
	return NewEngine(rs, settings.Static(settings.Defaults())), rs
}

func TestMergeRetriesOnceAfterLostUpdate(t *testing.T) {
	e, rs := newRacingEngine(t)
	ctx := context.Background()
	rec := Record{IdempotencyKey: "k-1", Title: strP("Send proposal")}
	first, _ := e.IngestBatch(ctx, []Record{rec})
	if first[0].Status != StatusCreated {
		t.Fatalf("create: %+v", first[0])
	}

	rs.loseUpdates, rs.updates = 1, 0
	rec.Title = strP("Send revised proposal")
	res, err := e.IngestBatch(ctx, []Record{rec})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if res[0].Status != StatusUpdated || res[0].TaskID != first[0].TaskID {
		t.Fatalf("expected update after retry, got %+v", res[0])
	}
	if rs.updates != 2 {
		t.Fatalf("update attempts = %d, want 2", rs.updates)
	}
	got, _ := rs.GetTask(ctx, first[0].TaskID)
	if got.Title != "Send revised proposal" || got.Description != "edited elsewhere" {
		t.Fatalf("retry must merge onto the fresh row: %+v", got)
	}
}

func TestMergeReturnsSecondConflict(t *testing.T) {
	e, rs := newRacingEngine(t)
	ctx := context.Background()
	rec := Record{IdempotencyKey: "k-2", Title: strP("Book venue")}
	if res, _ := e.IngestBatch(ctx, []Record{rec}); res[0].Status != StatusCreated {
		t.Fatalf("create: %+v", res[0])
	}

	rs.loseUpdates, rs.updates = 2, 0
	rec.Title = strP("Book bigger venue")
	_, err := e.ingest(ctx, &rec, settings.Defaults())
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if rs.updates != 2 {
		t.Fatalf("update attempts = %d, want exactly one retry", rs.updates)
	}

	rs.loseUpdates = 2
	res, err := e.IngestBatch(ctx, []Record{rec})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if res[0].Status != StatusFailed || res[0].Reason == "" {
		t.Fatalf("expected failed record with reason, got %+v", res[0])
	}
}

func TestConcurrentInsertFallsBackToMerge(t *testing.T) {
	e, rs := newRacingEngine(t)
	ctx := context.Background()
	var winner *model.Task
	rs.beforeCreate = func() {
		var err error
		winner, err = rs.Store.CreateTask(ctx, &model.Task{Title: "Call back", IdempotencyKey: "k-3"})
		if err != nil {
			t.Fatalf("competing insert: %v", err)
		}
	}

	res, err := e.IngestBatch(ctx, []Record{{IdempotencyKey: "k-3", Title: strP("Call back Acme")}})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if res[0].Status != StatusUpdated || res[0].TaskID != winner.ID {
		t.Fatalf("expected merge into the inserted row, got %+v", res[0])
	}
	all, _ := rs.ListTasks(ctx, store.TaskFilter{IncludeCompleted: true})
	if len(all) != 1 || all[0].Title != "Call back Acme" {
		t.Fatalf("rows = %+v", all)
	}
}

func TestIngestCanReopenCompletedTask(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	done, open := model.StatusCompleted, model.StatusInProgress
	res, _ := e.IngestBatch(ctx, []Record{{IdempotencyKey: "k-4", Title: strP("Invoice"), Status: &done}})
	if res[0].Status != StatusCreated {
		t.Fatalf("create: %+v", res[0])
	}

	res, _ = e.IngestBatch(ctx, []Record{{IdempotencyKey: "k-4", Status: &open}})
	if res[0].Status != StatusUpdated || res[0].Reason != "" {
		t.Fatalf("expected clean reopen, got %+v", res[0])
	}
	got, _ := s.GetTask(ctx, res[0].TaskID)
	if got.Status != model.StatusInProgress || got.CompletedAt != nil {
		t.Fatalf("not reopened: %+v", got)
	}
}
