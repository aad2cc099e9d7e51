package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/KafClaw/clienthub/internal/model"
	"github.com/KafClaw/clienthub/internal/settings"
	"github.com/KafClaw/clienthub/internal/store"
)

// racingStore edits the row from another writer right before our update
// lands, for the first loseUpdates calls.
type racingStore struct {
	*store.Store
	t           *testing.T
	loseUpdates int
	updates     int
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

func newRacingService(t *testing.T) (*Service, *racingStore) {
	t.Helper()
	_, s := newTestService(t)
	rs := &racingStore{Store: s, t: t}
	return NewService(rs, settings.Static(settings.Defaults()), nil), rs
}

func TestTransitionRetriesOnceAfterLostUpdate(t *testing.T) {
	svc, rs := newRacingService(t)
	ctx := context.Background()
	task, err := svc.Create(ctx, NewTask{Title: "Draft SOW"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	rs.loseUpdates = 1
	got, err := svc.TransitionStatus(ctx, task.ID, model.StatusInProgress, model.ActorManual)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if rs.updates != 2 || got.Status != model.StatusInProgress {
		t.Fatalf("updates = %d status = %s", rs.updates, got.Status)
	}
	stored, _ := rs.GetTask(ctx, task.ID)
	if stored.Status != model.StatusInProgress || stored.Description != "edited elsewhere" {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestTransitionReturnsSecondConflict(t *testing.T) {
	svc, rs := newRacingService(t)
	ctx := context.Background()
	task, err := svc.Create(ctx, NewTask{Title: "Draft SOW"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	rs.loseUpdates = 2
	_, err = svc.TransitionStatus(ctx, task.ID, model.StatusCompleted, model.ActorManual)
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if rs.updates != 2 {
		t.Fatalf("update attempts = %d, want exactly one retry", rs.updates)
	}
	stored, _ := rs.GetTask(ctx, task.ID)
	if stored.Status == model.StatusCompleted {
		t.Fatal("status applied despite conflict")
	}
}
