// Package tasks implements the direct task operations: creation (including
// recurring templates), status transitions with the subtask gate, human
// edits that protect fields from ingest, pinning and archiving.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/KafClaw/clienthub/internal/model"
	"github.com/KafClaw/clienthub/internal/recurrence"
	"github.com/KafClaw/clienthub/internal/settings"
)

// Store is the persistence the service needs.
type Store interface {
	CreateTask(ctx context.Context, t *model.Task, activity ...model.ActivityEntry) (*model.Task, error)
	GetTask(ctx context.Context, id string) (*model.Task, error)
	UpdateTask(ctx context.Context, t *model.Task, activity ...model.ActivityEntry) error
	AddSubtask(ctx context.Context, st *model.Subtask, actor model.Actor) (*model.Subtask, error)
	SetSubtaskStatus(ctx context.Context, id string, status model.TaskStatus, actor model.Actor) (*model.Subtask, error)
}

// Roller advances a series when one of its occurrences completes.
type Roller interface {
	RollForward(ctx context.Context, templateID string, completed model.Date) (string, error)
}

// ErrTransition is returned when a status change is not allowed.
var ErrTransition = errors.New("transition not allowed")

type Service struct {
	store    Store
	settings settings.Source
	roller   Roller
	now      func() time.Time
}

func NewService(store Store, src settings.Source, roller Roller) *Service {
	return &Service{store: store, settings: src, roller: roller, now: time.Now}
}

// SetClock replaces the service clock.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// NewTask is the input to Create. A non-empty RecurrenceRule makes the task
// a recurring template.
type NewTask struct {
	Title            string           `json:"title"`
	Description      string           `json:"description,omitempty"`
	Status           model.TaskStatus `json:"status,omitempty"`
	Priority         model.Priority   `json:"priority,omitempty"`
	DueDate          *model.Date      `json:"due_date,omitempty"`
	DueTime          *model.TimeOfDay `json:"due_time,omitempty"`
	TimeboxBucket    model.Timebox    `json:"timebox_bucket,omitempty"`
	EstimatedMinutes *int             `json:"estimated_minutes,omitempty"`
	PinnedToday      bool             `json:"pinned_today,omitempty"`
	ClientID         string           `json:"client_id,omitempty"`

	RecurrenceRule     string      `json:"recurrence_rule,omitempty"`
	RecurrenceTimezone string      `json:"recurrence_timezone,omitempty"`
	AnchorDate         *model.Date `json:"recurrence_anchor_date,omitempty"`
	EndDate            *model.Date `json:"recurrence_end_date,omitempty"`
	SkipWeekends       bool        `json:"recurrence_skip_weekends,omitempty"`

	Subtasks []string    `json:"subtasks,omitempty"`
	Actor    model.Actor `json:"-"`
}

func (n *NewTask) validate() error {
	if strings.TrimSpace(n.Title) == "" {
		return model.Invalid(model.FieldTitle, "required")
	}
	if n.Status != "" && !n.Status.Valid() {
		return model.Invalid(model.FieldStatus, "unknown status %q", n.Status)
	}
	if n.Priority != "" && !n.Priority.Valid() {
		return model.Invalid(model.FieldPriority, "unknown priority %q", n.Priority)
	}
	if n.TimeboxBucket != "" && !n.TimeboxBucket.Valid() {
		return model.Invalid(model.FieldTimebox, "unknown timebox %q", n.TimeboxBucket)
	}
	if n.EstimatedMinutes != nil && *n.EstimatedMinutes < 0 {
		return model.Invalid(model.FieldEstimatedMinutes, "must be >= 0")
	}
	if n.RecurrenceRule == "" && (n.AnchorDate != nil || n.EndDate != nil || n.SkipWeekends) {
		return model.Invalid("recurrence_rule", "required when recurrence options are set")
	}
	return nil
}

// Create validates and stores a new task. For a template it resolves the
// time zone (settings default) and anchor (due date, else today) and sets
// the first occurrence pointer, which stays nil when the series ends before
// it starts.
func (s *Service) Create(ctx context.Context, n NewTask) (*model.Task, error) {
	if err := n.validate(); err != nil {
		return nil, err
	}
	actor := n.Actor
	if actor == "" {
		actor = model.ActorManual
	}
	t := &model.Task{
		Title:            strings.TrimSpace(n.Title),
		Description:      n.Description,
		Status:           n.Status,
		Priority:         n.Priority,
		DueDate:          n.DueDate,
		DueTime:          n.DueTime,
		TimeboxBucket:    n.TimeboxBucket,
		EstimatedMinutes: n.EstimatedMinutes,
		PinnedToday:      n.PinnedToday,
		ClientID:         n.ClientID,
		SourceType:       sourceFor(actor),
	}
	if t.Status == model.StatusCompleted {
		now := s.now()
		t.CompletedAt = &now
	}
	for i, title := range n.Subtasks {
		t.Subtasks = append(t.Subtasks, model.Subtask{Title: title, OrderRank: i})
	}

	if n.RecurrenceRule != "" {
		if err := s.prepareTemplate(ctx, t, n); err != nil {
			return nil, err
		}
	}

	created, err := s.store.CreateTask(ctx, t, model.ActivityEntry{
		EntityType: model.EntityTask,
		ActionType: model.ActionCreated,
		NewValue:   t.Title,
		Actor:      actor,
		Timestamp:  s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	slog.Info("Task created", "id", created.ID, "recurring", created.IsRecurring)
	return created, nil
}

func (s *Service) prepareTemplate(ctx context.Context, t *model.Task, n NewTask) error {
	if _, err := recurrence.ParseRule(n.RecurrenceRule); err != nil {
		return err
	}
	tz := n.RecurrenceTimezone
	if tz == "" {
		st, err := s.settings.Settings(ctx)
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}
		tz = st.Timezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return model.Invalid("recurrence_timezone", "unknown time zone %q", tz)
	}
	anchor := model.DateOf(s.now().In(loc))
	switch {
	case n.AnchorDate != nil:
		anchor = *n.AnchorDate
	case n.DueDate != nil:
		anchor = *n.DueDate
	}

	t.IsRecurring = true
	t.RecurrenceRule = n.RecurrenceRule
	t.RecurrenceTimezone = tz
	t.AnchorDate = &anchor
	t.EndDate = n.EndDate
	t.SkipWeekends = n.SkipWeekends
	t.Status = model.StatusNotStarted
	t.CompletedAt = nil

	series, err := recurrence.SeriesOf(t)
	if err != nil {
		return err
	}
	if first, ok := series.First(); ok {
		t.NextOccurrenceAt = &first
	}
	return nil
}

// TransitionStatus moves a task to status to. Completing requires every
// subtask to be completed; completing an occurrence rolls its series
// forward. A lost update is retried once against a fresh read.
func (s *Service) TransitionStatus(ctx context.Context, id string, to model.TaskStatus, actor model.Actor) (*model.Task, error) {
	var (
		t   *model.Task
		err error
	)
	for attempt := 0; attempt < 2; attempt++ {
		t, err = s.transition(ctx, id, to, actor)
		if !errors.Is(err, model.ErrConflict) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	if to == model.StatusCompleted && t.IsOccurrence() && t.OccurrenceDate != nil && s.roller != nil {
		if _, err := s.roller.RollForward(ctx, t.ParentRecurringTaskID, *t.OccurrenceDate); err != nil {
			slog.Warn("Recurrence roll-forward failed", "template", t.ParentRecurringTaskID, "task", t.ID, "error", err)
		}
	}
	return t, nil
}

func (s *Service) transition(ctx context.Context, id string, to model.TaskStatus, actor model.Actor) (*model.Task, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status == to {
		return t, nil
	}
	if ok, reason := CanTransition(t, to); !ok {
		if !to.Valid() {
			return nil, model.Invalid(model.FieldStatus, "%s", reason)
		}
		return nil, fmt.Errorf("%s -> %s: %s: %w", t.Status, to, reason, ErrTransition)
	}

	now := s.now()
	from := t.Status
	t.Status = to
	if to == model.StatusCompleted {
		t.CompletedAt = &now
	} else {
		t.CompletedAt = nil
	}
	t.LastEditedSource = sourceFor(actor)
	t.LastEditedAt = &now

	activity := []model.ActivityEntry{{
		EntityType: model.EntityTask,
		ActionType: model.ActionStatusChanged,
		FieldName:  model.FieldStatus,
		OldValue:   string(from),
		NewValue:   string(to),
		Actor:      actor,
		Timestamp:  now,
	}}
	if to == model.StatusCompleted {
		activity = append(activity, model.ActivityEntry{
			EntityType: model.EntityTask,
			ActionType: model.ActionCompleted,
			Actor:      actor,
			Timestamp:  now,
		})
	}
	if err := s.store.UpdateTask(ctx, t, activity...); err != nil {
		return nil, err
	}
	slog.Info("Task status changed", "id", t.ID, "from", from, "to", to)
	return t, nil
}

// Patch is a direct human edit. Nil fields are left alone; ClearDueDate
// removes the due date.
type Patch struct {
	Title            *string          `json:"title,omitempty"`
	Description      *string          `json:"description,omitempty"`
	Priority         *model.Priority  `json:"priority,omitempty"`
	DueDate          *model.Date      `json:"due_date,omitempty"`
	ClearDueDate     bool             `json:"clear_due_date,omitempty"`
	DueTime          *model.TimeOfDay `json:"due_time,omitempty"`
	TimeboxBucket    *model.Timebox   `json:"timebox_bucket,omitempty"`
	EstimatedMinutes *int             `json:"estimated_minutes,omitempty"`
	ClientID         *string          `json:"client_id,omitempty"`
}

// Edit applies a human edit. Every changed field joins manual_fields so
// later ingests cannot overwrite it.
func (s *Service) Edit(ctx context.Context, id string, p Patch) (*model.Task, error) {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return nil, model.Invalid(model.FieldTitle, "must not be empty")
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return nil, model.Invalid(model.FieldPriority, "unknown priority %q", *p.Priority)
	}
	if p.TimeboxBucket != nil && !p.TimeboxBucket.Valid() {
		return nil, model.Invalid(model.FieldTimebox, "unknown timebox %q", *p.TimeboxBucket)
	}
	if p.EstimatedMinutes != nil && *p.EstimatedMinutes < 0 {
		return nil, model.Invalid(model.FieldEstimatedMinutes, "must be >= 0")
	}

	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var activity []model.ActivityEntry
	set := func(field, oldV, newV string, apply func()) {
		if oldV == newV {
			return
		}
		apply()
		if !t.IsManualField(field) {
			t.ManualFields = append(t.ManualFields, field)
		}
		activity = append(activity, model.ActivityEntry{
			EntityType: model.EntityTask,
			ActionType: model.ActionUpdated,
			FieldName:  field,
			OldValue:   oldV,
			NewValue:   newV,
			Actor:      model.ActorManual,
			Timestamp:  now,
		})
	}

	if p.Title != nil {
		v := strings.TrimSpace(*p.Title)
		set(model.FieldTitle, t.Title, v, func() { t.Title = v })
	}
	if p.Description != nil {
		v := *p.Description
		set(model.FieldDescription, t.Description, v, func() { t.Description = v })
	}
	if p.Priority != nil {
		v := *p.Priority
		set(model.FieldPriority, string(t.Priority), string(v), func() { t.Priority = v })
	}
	switch {
	case p.ClearDueDate:
		set(model.FieldDueDate, dateString(t.DueDate), "", func() { t.DueDate = nil })
	case p.DueDate != nil:
		v := *p.DueDate
		set(model.FieldDueDate, dateString(t.DueDate), v.String(), func() { t.DueDate = &v })
	}
	if p.DueTime != nil {
		v := *p.DueTime
		old := ""
		if t.DueTime != nil {
			old = t.DueTime.String()
		}
		set(model.FieldDueTime, old, v.String(), func() { t.DueTime = &v })
	}
	if p.TimeboxBucket != nil {
		v := *p.TimeboxBucket
		set(model.FieldTimebox, string(t.TimeboxBucket), string(v), func() { t.TimeboxBucket = v })
	}
	if p.EstimatedMinutes != nil {
		v := *p.EstimatedMinutes
		old := ""
		if t.EstimatedMinutes != nil {
			old = strconv.Itoa(*t.EstimatedMinutes)
		}
		set(model.FieldEstimatedMinutes, old, strconv.Itoa(v), func() { t.EstimatedMinutes = &v })
	}
	if p.ClientID != nil {
		v := *p.ClientID
		set(model.FieldClientID, t.ClientID, v, func() { t.ClientID = v })
	}

	if len(activity) == 0 {
		return t, nil
	}
	slices.Sort(t.ManualFields)
	t.ManuallyEdited = true
	t.LastEditedSource = model.SourceManual
	t.LastEditedAt = &now
	if err := s.store.UpdateTask(ctx, t, activity...); err != nil {
		return nil, fmt.Errorf("edit task: %w", err)
	}
	return t, nil
}

// Pin sets or clears the pinned-for-today flag.
func (s *Service) Pin(ctx context.Context, id string, pinned bool) (*model.Task, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.PinnedToday == pinned {
		return t, nil
	}
	now := s.now()
	t.PinnedToday = pinned
	t.LastEditedSource = model.SourceManual
	t.LastEditedAt = &now
	err = s.store.UpdateTask(ctx, t, model.ActivityEntry{
		EntityType: model.EntityTask,
		ActionType: model.ActionUpdated,
		FieldName:  model.FieldPinnedToday,
		OldValue:   strconv.FormatBool(!pinned),
		NewValue:   strconv.FormatBool(pinned),
		Actor:      model.ActorManual,
		Timestamp:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("pin task: %w", err)
	}
	return t, nil
}

// Archive hides a task from every view. An archived template stops
// producing occurrences.
func (s *Service) Archive(ctx context.Context, id string, actor model.Actor) (*model.Task, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.ArchivedAt != nil {
		return t, nil
	}
	now := s.now()
	t.ArchivedAt = &now
	if t.IsRecurring {
		t.NextOccurrenceAt = nil
	}
	err = s.store.UpdateTask(ctx, t, model.ActivityEntry{
		EntityType: model.EntityTask,
		ActionType: model.ActionArchived,
		Actor:      actor,
		Timestamp:  now,
	})
	if err != nil {
		return nil, fmt.Errorf("archive task: %w", err)
	}
	return t, nil
}

// AddSubtask appends a subtask to task id.
func (s *Service) AddSubtask(ctx context.Context, taskID, title string, actor model.Actor) (*model.Subtask, error) {
	if strings.TrimSpace(title) == "" {
		return nil, model.Invalid(model.FieldTitle, "required")
	}
	return s.store.AddSubtask(ctx, &model.Subtask{TaskID: taskID, Title: strings.TrimSpace(title)}, actor)
}

// SetSubtaskStatus changes one subtask's status.
func (s *Service) SetSubtaskStatus(ctx context.Context, id string, to model.TaskStatus, actor model.Actor) (*model.Subtask, error) {
	if !to.Valid() {
		return nil, model.Invalid(model.FieldStatus, "unknown status %q", to)
	}
	return s.store.SetSubtaskStatus(ctx, id, to, actor)
}

func sourceFor(actor model.Actor) model.SourceType {
	switch actor {
	case model.ActorN8N:
		return model.SourceN8N
	case model.ActorSystem:
		return model.SourceSystem
	}
	return model.SourceManual
}

func dateString(d *model.Date) string {
	if d == nil {
		return ""
	}
	return d.String()
}
