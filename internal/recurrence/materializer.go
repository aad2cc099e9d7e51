package recurrence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/KafClaw/clienthub/internal/model"
)

// maxCatchUp caps how many occurrences one template yields per tick. The
// pointer is saved where it stopped and the next tick continues from there.
const maxCatchUp = 1000

// Store is the persistence the materializer needs.
type Store interface {
	ListDueTemplates(ctx context.Context, now time.Time) ([]model.Task, error)
	GetTask(ctx context.Context, id string) (*model.Task, error)
	CreateTask(ctx context.Context, t *model.Task, activity ...model.ActivityEntry) (*model.Task, error)
	AdvanceTemplate(ctx context.Context, id string, version int64, next *time.Time) error
}

// Materializer turns due template occurrences into task rows. Both the
// periodic tick and the completion path may run concurrently: the
// (template, occurrence date) unique guard absorbs double inserts and the
// template version guards the pointer.
type Materializer struct {
	store Store
}

func NewMaterializer(store Store) *Materializer {
	return &Materializer{store: store}
}

// MaterializeDue creates every missed occurrence up to now for all due
// templates and returns the ids of the rows it created. A template that
// fails is logged and skipped; only a failure to list templates is returned.
func (m *Materializer) MaterializeDue(ctx context.Context, now time.Time) ([]string, error) {
	templates, err := m.store.ListDueTemplates(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list due templates: %w", err)
	}
	created := []string{}
	for i := range templates {
		ids, err := m.catchUpWithRetry(ctx, &templates[i], now)
		created = append(created, ids...)
		if err != nil {
			slog.Warn("Recurrence template skipped", "template", templates[i].ID, "error", err)
		}
	}
	return created, nil
}

func (m *Materializer) catchUpWithRetry(ctx context.Context, tmpl *model.Task, now time.Time) ([]string, error) {
	ids, err := m.catchUp(ctx, tmpl, now)
	if !errors.Is(err, model.ErrConflict) {
		return ids, err
	}
	fresh, gerr := m.store.GetTask(ctx, tmpl.ID)
	if gerr != nil {
		return ids, gerr
	}
	more, err := m.catchUp(ctx, fresh, now)
	return append(ids, more...), err
}

func (m *Materializer) catchUp(ctx context.Context, tmpl *model.Task, now time.Time) ([]string, error) {
	if !tmpl.IsRecurring || tmpl.ArchivedAt != nil || tmpl.NextOccurrenceAt == nil {
		return nil, nil
	}
	series, err := SeriesOf(tmpl)
	if err != nil {
		return nil, err
	}

	var ids []string
	ptr := *tmpl.NextOccurrenceAt
	next := &ptr
	for n := 0; !ptr.After(now) && n < maxCatchUp; n++ {
		day := series.DateOf(ptr)
		if series.End != nil && day.After(*series.End) {
			next = nil
			break
		}
		id, err := m.materialize(ctx, tmpl, day)
		if err != nil {
			return ids, err
		}
		if id != "" {
			ids = append(ids, id)
		}
		following, ok := series.Next(ptr)
		if !ok {
			next = nil
			break
		}
		ptr = following
		next = &ptr
	}

	if next != nil && next.Equal(*tmpl.NextOccurrenceAt) {
		return ids, nil
	}
	if err := m.store.AdvanceTemplate(ctx, tmpl.ID, tmpl.Version, next); err != nil {
		return ids, err
	}
	slog.Debug("Recurrence template advanced", "template", tmpl.ID, "created", len(ids), "next", next)
	return ids, nil
}

// RollForward is the eager path run when an occurrence dated completed is
// finished: it materializes the following occurrence and moves the
// template's pointer past it if the pointer lags behind. It returns the id of
// the created row, or "" when the row already existed or the series ended.
func (m *Materializer) RollForward(ctx context.Context, templateID string, completed model.Date) (string, error) {
	var createdID string
	for attempt := 0; ; attempt++ {
		tmpl, err := m.store.GetTask(ctx, templateID)
		if err != nil {
			return createdID, err
		}
		if !tmpl.IsRecurring || tmpl.ArchivedAt != nil {
			return createdID, nil
		}
		series, err := SeriesOf(tmpl)
		if err != nil {
			return createdID, err
		}
		at, ok := series.Next(series.Instant(completed))
		if !ok {
			return createdID, nil
		}
		id, err := m.materialize(ctx, tmpl, series.DateOf(at))
		if err != nil {
			return createdID, err
		}
		if id != "" {
			createdID = id
		}
		if tmpl.NextOccurrenceAt == nil || !tmpl.NextOccurrenceAt.Before(at) {
			return createdID, nil
		}
		err = m.store.AdvanceTemplate(ctx, tmpl.ID, tmpl.Version, &at)
		if err == nil {
			return createdID, nil
		}
		if !errors.Is(err, model.ErrConflict) || attempt > 0 {
			return createdID, err
		}
	}
}

// materialize inserts the occurrence of tmpl on day. It returns "" without
// error when the occurrence already exists.
func (m *Materializer) materialize(ctx context.Context, tmpl *model.Task, day model.Date) (string, error) {
	d := day
	inst := &model.Task{
		Title:                 tmpl.Title,
		Description:           tmpl.Description,
		Status:                model.StatusNotStarted,
		Priority:              tmpl.Priority,
		DueDate:               &d,
		DueTime:               tmpl.DueTime,
		TimeboxBucket:         tmpl.TimeboxBucket,
		EstimatedMinutes:      tmpl.EstimatedMinutes,
		ClientID:              tmpl.ClientID,
		ParentRecurringTaskID: tmpl.ID,
		OccurrenceDate:        &d,
		SourceType:            model.SourceSystem,
		LastEditedSource:      model.SourceSystem,
	}
	for _, st := range tmpl.Subtasks {
		inst.Subtasks = append(inst.Subtasks, model.Subtask{
			Title:     st.Title,
			Status:    model.StatusNotStarted,
			Priority:  st.Priority,
			OrderRank: st.OrderRank,
		})
	}
	created, err := m.store.CreateTask(ctx, inst, model.ActivityEntry{
		EntityType: model.EntityTask,
		ActionType: model.ActionRecurrenceGenerated,
		FieldName:  "occurrence_date",
		NewValue:   day.String(),
		Actor:      model.ActorSystem,
		Timestamp:  time.Now(),
	})
	if errors.Is(err, model.ErrDuplicate) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("materialize %s on %s: %w", tmpl.ID, day, err)
	}
	slog.Info("Recurring occurrence created", "template", tmpl.ID, "task", created.ID, "date", day.String())
	return created.ID, nil
}
