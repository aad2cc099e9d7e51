package model

import "time"

type EntityType string

const (
	EntityTask          EntityType = "TASK"
	EntitySubtask       EntityType = "SUBTASK"
	EntityClient        EntityType = "CLIENT"
	EntitySettings      EntityType = "SETTINGS"
	EntityCalendarEvent EntityType = "CALENDAR_EVENT"
	EntityCall          EntityType = "CALL"
)

type ActionType string

const (
	ActionCreated             ActionType = "CREATED"
	ActionUpdated             ActionType = "UPDATED"
	ActionArchived            ActionType = "ARCHIVED"
	ActionStatusChanged       ActionType = "STATUS_CHANGED"
	ActionCompleted           ActionType = "COMPLETED"
	ActionIngested            ActionType = "INGESTED"
	ActionDuplicateFlagged    ActionType = "DUPLICATE_FLAGGED"
	ActionRecurrenceGenerated ActionType = "RECURRENCE_GENERATED"
	ActionSubtaskAdded        ActionType = "SUBTASK_ADDED"
	ActionSubtaskCompleted    ActionType = "SUBTASK_COMPLETED"
	ActionAssigned            ActionType = "ASSIGNED"
)

type Actor string

const (
	ActorManual Actor = "MANUAL"
	ActorN8N    Actor = "N8N"
	ActorSystem Actor = "SYSTEM"
)

// ActivityEntry is one append-only audit row: a single observed field change
// or lifecycle event.
type ActivityEntry struct {
	ID         string     `json:"id"`
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	ActionType ActionType `json:"action_type"`
	FieldName  string     `json:"field_name,omitempty"`
	OldValue   string     `json:"old_value,omitempty"`
	NewValue   string     `json:"new_value,omitempty"`
	Actor      Actor      `json:"actor"`
	Timestamp  time.Time  `json:"timestamp"`
}
