// Package model holds the entities shared by the orchestration core: tasks,
// clients, externally sourced events and calls, and the activity log.
package model

import (
	"slices"
	"time"
)

// TaskStatus is the lifecycle state of a task or subtask.
type TaskStatus string

const (
	StatusNotStarted TaskStatus = "NOT_STARTED"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusPending    TaskStatus = "PENDING"
	StatusCompleted  TaskStatus = "COMPLETED"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusPending, StatusCompleted:
		return true
	}
	return false
}

// Priority is the coarse urgency tier, P0 being the most urgent.
type Priority string

const (
	P0 Priority = "P0"
	P1 Priority = "P1"
	P2 Priority = "P2"
	P3 Priority = "P3"
)

func (p Priority) Valid() bool {
	switch p {
	case P0, P1, P2, P3:
		return true
	}
	return false
}

// Timebox is a coarse time-of-day bucket used for same-day scheduling.
type Timebox string

const (
	TimeboxMorning   Timebox = "MORNING"
	TimeboxAfternoon Timebox = "AFTERNOON"
	TimeboxEvening   Timebox = "EVENING"
	TimeboxNone      Timebox = "NONE"
)

func (b Timebox) Valid() bool {
	switch b {
	case TimeboxMorning, TimeboxAfternoon, TimeboxEvening, TimeboxNone:
		return true
	}
	return false
}

// SourceType records where a task came from, and who touched it last.
type SourceType string

const (
	SourceManual    SourceType = "MANUAL"
	SourceN8N       SourceType = "N8N"
	SourceFireflies SourceType = "FIREFLIES"
	SourceCalendar  SourceType = "CALENDAR"
	SourceSystem    SourceType = "SYSTEM"
)

func (s SourceType) Valid() bool {
	switch s {
	case SourceManual, SourceN8N, SourceFireflies, SourceCalendar, SourceSystem:
		return true
	}
	return false
}

// Field names used in manual_fields and in activity entries.
const (
	FieldTitle            = "title"
	FieldDescription      = "description"
	FieldStatus           = "status"
	FieldPriority         = "priority"
	FieldDueDate          = "due_date"
	FieldDueTime          = "due_time"
	FieldTimebox          = "timebox_bucket"
	FieldEstimatedMinutes = "estimated_minutes"
	FieldPinnedToday      = "pinned_today"
	FieldClientID         = "client_id"
)

// Task is one unit of work. A task with IsRecurring set is a template: it
// is never listed in views itself, it only spawns occurrences whose
// ParentRecurringTaskID points back at it.
type Task struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	Status           TaskStatus `json:"status"`
	Priority         Priority   `json:"priority"`
	DueDate          *Date      `json:"due_date,omitempty"`
	DueTime          *TimeOfDay `json:"due_time,omitempty"`
	TimeboxBucket    Timebox    `json:"timebox_bucket"`
	EstimatedMinutes *int       `json:"estimated_minutes,omitempty"`
	PinnedToday      bool       `json:"pinned_today"`
	ClientID         string     `json:"client_id,omitempty"`

	IsRecurring           bool       `json:"is_recurring"`
	RecurrenceRule        string     `json:"recurrence_rule,omitempty"`
	RecurrenceTimezone    string     `json:"recurrence_timezone,omitempty"`
	AnchorDate            *Date      `json:"recurrence_anchor_date,omitempty"`
	NextOccurrenceAt      *time.Time `json:"next_occurrence_at,omitempty"`
	EndDate               *Date      `json:"recurrence_end_date,omitempty"`
	SkipWeekends          bool       `json:"recurrence_skip_weekends"`
	ParentRecurringTaskID string     `json:"parent_recurring_task_id,omitempty"`
	OccurrenceDate        *Date      `json:"occurrence_date,omitempty"`

	SourceType       SourceType `json:"source_type"`
	SourceID         string     `json:"source_id,omitempty"`
	IdempotencyKey   string     `json:"idempotency_key,omitempty"`
	LastEditedSource SourceType `json:"last_edited_source"`
	LastEditedAt     *time.Time `json:"last_edited_at,omitempty"`
	ManuallyEdited   bool       `json:"manually_edited"`
	ManualFields     []string   `json:"manual_fields,omitempty"`

	PossibleDuplicate bool   `json:"possible_duplicate"`
	DuplicateOf       string `json:"duplicate_of,omitempty"`

	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`

	// Read-only joins populated by the store.
	Subtasks []Subtask `json:"subtasks,omitempty"`
	Client   *Client   `json:"client,omitempty"`
}

// IsManualField reports whether a human edit protects field from
// automated overwrite.
func (t *Task) IsManualField(field string) bool {
	return slices.Contains(t.ManualFields, field)
}

// IsOpen reports whether the task still needs doing.
func (t *Task) IsOpen() bool {
	return t.Status != StatusCompleted && t.ArchivedAt == nil
}

// IsOccurrence reports whether the task was materialized from a template.
func (t *Task) IsOccurrence() bool { return t.ParentRecurringTaskID != "" }

// Estimate returns the estimated minutes, or fallback when unknown.
func (t *Task) Estimate(fallback int) int {
	if t.EstimatedMinutes == nil {
		return fallback
	}
	return *t.EstimatedMinutes
}

// IncompleteSubtasks returns the subtasks that are not COMPLETED.
func (t *Task) IncompleteSubtasks() []Subtask {
	var out []Subtask
	for _, s := range t.Subtasks {
		if s.Status != StatusCompleted {
			out = append(out, s)
		}
	}
	return out
}

// Subtask belongs to exactly one task.
type Subtask struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"task_id"`
	Title       string     `json:"title"`
	Status      TaskStatus `json:"status"`
	Priority    Priority   `json:"priority,omitempty"`
	OrderRank   int        `json:"order_rank"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
