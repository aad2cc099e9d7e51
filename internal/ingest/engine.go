// Package ingest reconciles batches of externally produced task records with
// stored state: it upserts by identity, never overwrites fields a human has
// edited, and flags probable duplicates for triage.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/KafClaw/clienthub/internal/matcher"
	"github.com/KafClaw/clienthub/internal/model"
	"github.com/KafClaw/clienthub/internal/settings"
)

// Status is the per-record outcome of a batch.
type Status string

const (
	StatusCreated          Status = "created"
	StatusUpdated          Status = "updated"
	StatusDuplicateFlagged Status = "duplicateFlagged"
	StatusFailed           Status = "failed"
)

// SubtaskRecord is a subtask carried by a new record.
type SubtaskRecord struct {
	Title    string           `json:"title"`
	Status   model.TaskStatus `json:"status,omitempty"`
	Priority model.Priority   `json:"priority,omitempty"`
}

// Record is one incoming task. Nil fields are absent and leave stored
// values alone.
type Record struct {
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
	SourceType     model.SourceType `json:"source_type,omitempty"`
	SourceID       string           `json:"source_id,omitempty"`

	Title            *string           `json:"title,omitempty"`
	Description      *string           `json:"description,omitempty"`
	Status           *model.TaskStatus `json:"status,omitempty"`
	Priority         *model.Priority   `json:"priority,omitempty"`
	DueDate          *model.Date       `json:"due_date,omitempty"`
	DueTime          *model.TimeOfDay  `json:"due_time,omitempty"`
	TimeboxBucket    *model.Timebox    `json:"timebox_bucket,omitempty"`
	EstimatedMinutes *int              `json:"estimated_minutes,omitempty"`
	ClientID         *string           `json:"client_id,omitempty"`

	// Participants feed client matching for new records without a client.
	Participants []string        `json:"participants,omitempty"`
	Subtasks     []SubtaskRecord `json:"subtasks,omitempty"`
	// EditedAt stamps last_edited_at; the ingest time is used when unset.
	EditedAt *time.Time `json:"edited_at,omitempty"`
}

func (r *Record) sourceType() model.SourceType {
	if r.SourceType == "" {
		return model.SourceN8N
	}
	return r.SourceType
}

func (r *Record) validate() error {
	if r.IdempotencyKey == "" && r.SourceID == "" {
		return model.Invalid("idempotency_key", "idempotency_key or source_id is required")
	}
	if r.Title != nil && strings.TrimSpace(*r.Title) == "" {
		return model.Invalid(model.FieldTitle, "must not be empty")
	}
	if r.Status != nil && !r.Status.Valid() {
		return model.Invalid(model.FieldStatus, "unknown status %q", *r.Status)
	}
	if r.Priority != nil && !r.Priority.Valid() {
		return model.Invalid(model.FieldPriority, "unknown priority %q", *r.Priority)
	}
	if r.TimeboxBucket != nil && !r.TimeboxBucket.Valid() {
		return model.Invalid(model.FieldTimebox, "unknown timebox %q", *r.TimeboxBucket)
	}
	if r.EstimatedMinutes != nil && *r.EstimatedMinutes < 0 {
		return model.Invalid(model.FieldEstimatedMinutes, "must be >= 0")
	}
	return nil
}

// Result reports what happened to one record.
type Result struct {
	Index         int      `json:"index"`
	Status        Status   `json:"status"`
	TaskID        string   `json:"task_id,omitempty"`
	Reason        string   `json:"reason,omitempty"`
	DuplicateOf   string   `json:"duplicate_of,omitempty"`
	Changed       []string `json:"changed,omitempty"`
	SkippedFields []string `json:"skipped_fields,omitempty"`
}

// Store is the persistence the engine needs.
type Store interface {
	GetTaskByIdempotencyKey(ctx context.Context, key string) (*model.Task, error)
	GetTaskBySource(ctx context.Context, sourceType model.SourceType, sourceID string) (*model.Task, error)
	ListOpenTasks(ctx context.Context) ([]model.Task, error)
	CreateTask(ctx context.Context, t *model.Task, activity ...model.ActivityEntry) (*model.Task, error)
	UpdateTask(ctx context.Context, t *model.Task, activity ...model.ActivityEntry) error
}

// Roller advances a recurring series when one of its occurrences is
// completed.
type Roller interface {
	RollForward(ctx context.Context, templateID string, completed model.Date) (string, error)
}

// Engine runs ingest batches.
type Engine struct {
	store    Store
	settings settings.Source
	roller   Roller
	now      func() time.Time
}

func NewEngine(store Store, src settings.Source) *Engine {
	return &Engine{store: store, settings: src, now: time.Now}
}

// WithRoller makes the engine roll recurring series forward when a merge
// completes an occurrence.
func (e *Engine) WithRoller(r Roller) *Engine {
	e.roller = r
	return e
}

// SetClock replaces the engine clock.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// IngestBatch processes each record independently and returns one result per
// record, in order. Only a failure to read settings fails the whole batch.
func (e *Engine) IngestBatch(ctx context.Context, records []Record) ([]Result, error) {
	st, err := e.settings.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	results := make([]Result, len(records))
	for i := range records {
		res, err := e.ingest(ctx, &records[i], st)
		res.Index = i
		if err != nil {
			res.Status = StatusFailed
			res.Reason = err.Error()
			slog.Warn("Ingest record failed", "index", i, "key", records[i].IdempotencyKey, "error", err)
		}
		results[i] = res
	}
	slog.Info("Ingest batch processed", "records", len(records))
	return results, nil
}

func (e *Engine) ingest(ctx context.Context, r *Record, st settings.Settings) (Result, error) {
	if err := r.validate(); err != nil {
		return Result{}, err
	}
	existing, err := e.lookup(ctx, r)
	if err != nil {
		return Result{}, err
	}
	if existing == nil {
		res, err := e.create(ctx, r, st)
		if !errors.Is(err, model.ErrDuplicate) {
			return res, err
		}
		// A concurrent writer inserted the same key first.
		existing, err = e.lookup(ctx, r)
		if err != nil {
			return Result{}, err
		}
		if existing == nil {
			return Result{}, fmt.Errorf("insert clashed but no row found: %w", model.ErrConflict)
		}
	}

	res, err := e.merge(ctx, existing, r)
	if !errors.Is(err, model.ErrConflict) {
		return res, err
	}
	fresh, err := e.lookup(ctx, r)
	if err != nil {
		return Result{}, err
	}
	if fresh == nil {
		return Result{}, fmt.Errorf("task vanished during merge: %w", model.ErrNotFound)
	}
	return e.merge(ctx, fresh, r)
}

// lookup resolves identity: idempotency key first, then source pair.
func (e *Engine) lookup(ctx context.Context, r *Record) (*model.Task, error) {
	if r.IdempotencyKey != "" {
		t, err := e.store.GetTaskByIdempotencyKey(ctx, r.IdempotencyKey)
		if err != nil || t != nil {
			return t, err
		}
	}
	return e.store.GetTaskBySource(ctx, r.sourceType(), r.SourceID)
}

func (e *Engine) create(ctx context.Context, r *Record, st settings.Settings) (Result, error) {
	if r.Title == nil {
		return Result{}, model.Invalid(model.FieldTitle, "required for new tasks")
	}
	now := e.now()
	src := r.sourceType()
	t := &model.Task{
		Title:            strings.TrimSpace(*r.Title),
		DueDate:          r.DueDate,
		DueTime:          r.DueTime,
		EstimatedMinutes: r.EstimatedMinutes,
		SourceType:       src,
		SourceID:         r.SourceID,
		IdempotencyKey:   r.IdempotencyKey,
		LastEditedSource: src,
		LastEditedAt:     editedAt(r, now),
	}
	if r.Description != nil {
		t.Description = *r.Description
	}
	if r.Status != nil {
		t.Status = *r.Status
	}
	if r.Priority != nil {
		t.Priority = *r.Priority
	}
	if r.TimeboxBucket != nil {
		t.TimeboxBucket = *r.TimeboxBucket
	}
	if r.Status != nil && *r.Status == model.StatusCompleted {
		t.CompletedAt = &now
	}
	if r.ClientID != nil {
		t.ClientID = *r.ClientID
	} else {
		m := matcher.Match(matcher.Entity{
			ExternalID:   r.SourceID,
			Participants: r.Participants,
			Text:         t.Title + "\n" + t.Description,
		}, st.ClientMatchingRules)
		t.ClientID = m.ClientID
	}
	for i, s := range r.Subtasks {
		t.Subtasks = append(t.Subtasks, model.Subtask{Title: s.Title, Status: s.Status, Priority: s.Priority, OrderRank: i})
	}

	open, err := e.store.ListOpenTasks(ctx)
	if err != nil {
		return Result{}, err
	}
	dup, score := findDuplicate(open, t.ClientID, t.Title, t.DueDate, st.DuplicateThreshold)

	actor := actorFor(src)
	activity := []model.ActivityEntry{{
		EntityType: model.EntityTask,
		ActionType: model.ActionIngested,
		NewValue:   t.Title,
		Actor:      actor,
		Timestamp:  now,
	}}
	if dup != nil {
		t.PossibleDuplicate = true
		t.DuplicateOf = dup.ID
		activity = append(activity, model.ActivityEntry{
			EntityType: model.EntityTask,
			ActionType: model.ActionDuplicateFlagged,
			FieldName:  "duplicate_of",
			NewValue:   dup.ID,
			Actor:      actor,
			Timestamp:  now,
		})
	}

	created, err := e.store.CreateTask(ctx, t, activity...)
	if err != nil {
		return Result{}, err
	}
	if dup != nil {
		slog.Info("Ingested task flagged as possible duplicate", "task", created.ID, "duplicate_of", dup.ID, "similarity", score)
		return Result{Status: StatusDuplicateFlagged, TaskID: created.ID, DuplicateOf: dup.ID}, nil
	}
	return Result{Status: StatusCreated, TaskID: created.ID}, nil
}

// merge applies the record's present fields to t, skipping manual fields,
// and writes with a version check.
func (e *Engine) merge(ctx context.Context, t *model.Task, r *Record) (Result, error) {
	now := e.now()
	src := r.sourceType()
	m := &merger{task: t, actor: actorFor(src), now: now}
	wasCompleted := t.Status == model.StatusCompleted

	if r.Title != nil {
		v := strings.TrimSpace(*r.Title)
		m.field(model.FieldTitle, t.Title, v, func() { t.Title = v })
	}
	if r.Description != nil {
		v := *r.Description
		m.field(model.FieldDescription, t.Description, v, func() { t.Description = v })
	}
	if r.Status != nil {
		v := *r.Status
		if v == model.StatusCompleted && v != t.Status && len(t.IncompleteSubtasks()) > 0 {
			m.reason = "status not applied: task has incomplete subtasks"
		} else {
			m.field(model.FieldStatus, string(t.Status), string(v), func() {
				t.Status = v
				if v == model.StatusCompleted {
					t.CompletedAt = &now
				} else {
					t.CompletedAt = nil
				}
			})
		}
	}
	if r.Priority != nil {
		v := *r.Priority
		m.field(model.FieldPriority, string(t.Priority), string(v), func() { t.Priority = v })
	}
	if r.DueDate != nil {
		v := *r.DueDate
		m.field(model.FieldDueDate, dateString(t.DueDate), v.String(), func() { t.DueDate = &v })
	}
	if r.DueTime != nil {
		v := *r.DueTime
		m.field(model.FieldDueTime, clockString(t.DueTime), v.String(), func() { t.DueTime = &v })
	}
	if r.TimeboxBucket != nil {
		v := *r.TimeboxBucket
		m.field(model.FieldTimebox, string(t.TimeboxBucket), string(v), func() { t.TimeboxBucket = v })
	}
	if r.EstimatedMinutes != nil {
		v := *r.EstimatedMinutes
		m.field(model.FieldEstimatedMinutes, intString(t.EstimatedMinutes), strconv.Itoa(v), func() { t.EstimatedMinutes = &v })
	}
	if r.ClientID != nil {
		v := *r.ClientID
		m.field(model.FieldClientID, t.ClientID, v, func() { t.ClientID = v })
	}

	t.LastEditedSource = src
	t.LastEditedAt = editedAt(r, now)
	if err := e.store.UpdateTask(ctx, t, m.activity...); err != nil {
		return Result{}, err
	}

	if !wasCompleted && t.Status == model.StatusCompleted {
		e.rollForward(ctx, t)
	}
	return Result{
		Status:        StatusUpdated,
		TaskID:        t.ID,
		Reason:        m.reason,
		Changed:       m.changed,
		SkippedFields: m.skipped,
	}, nil
}

func (e *Engine) rollForward(ctx context.Context, t *model.Task) {
	if e.roller == nil || !t.IsOccurrence() || t.OccurrenceDate == nil {
		return
	}
	if _, err := e.roller.RollForward(ctx, t.ParentRecurringTaskID, *t.OccurrenceDate); err != nil {
		slog.Warn("Recurrence roll-forward failed", "template", t.ParentRecurringTaskID, "task", t.ID, "error", err)
	}
}

type merger struct {
	task     *model.Task
	actor    model.Actor
	now      time.Time
	activity []model.ActivityEntry
	changed  []string
	skipped  []string
	reason   string
}

// field applies one present value. Protected fields are reported as
// skipped; unchanged values are ignored.
func (m *merger) field(name, oldV, newV string, apply func()) {
	if oldV == newV {
		return
	}
	if m.task.IsManualField(name) {
		m.skipped = append(m.skipped, name)
		return
	}
	apply()
	m.changed = append(m.changed, name)
	m.activity = append(m.activity, model.ActivityEntry{
		EntityType: model.EntityTask,
		EntityID:   m.task.ID,
		ActionType: model.ActionIngested,
		FieldName:  name,
		OldValue:   oldV,
		NewValue:   newV,
		Actor:      m.actor,
		Timestamp:  m.now,
	})
}

func actorFor(src model.SourceType) model.Actor {
	switch src {
	case model.SourceManual:
		return model.ActorManual
	case model.SourceSystem:
		return model.ActorSystem
	}
	return model.ActorN8N
}

func editedAt(r *Record, now time.Time) *time.Time {
	if r.EditedAt != nil {
		return r.EditedAt
	}
	return &now
}

func dateString(d *model.Date) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func clockString(t *model.TimeOfDay) string {
	if t == nil {
		return ""
	}
	return t.String()
}

func intString(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
