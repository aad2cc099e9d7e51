package hub

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/KafClaw/clienthub/internal/matcher"
	"github.com/KafClaw/clienthub/internal/model"
	"github.com/KafClaw/clienthub/internal/store"
)

// Kind selects the external entity table for assignment operations.
type Kind string

const (
	KindEvent Kind = "event"
	KindCall  Kind = "call"
)

// UpsertCalendarEvent stores e, resolving its client with the matcher
// unless the stored row carries a manual assignment.
func (h *Service) UpsertCalendarEvent(ctx context.Context, e *model.CalendarEvent) (*model.CalendarEvent, error) {
	existing, err := h.store.GetCalendarEventByGCalID(ctx, e.GCalEventID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		e.ClientID, e.MatchConfidence, e.MatchMethod = existing.ClientID, existing.MatchConfidence, existing.MatchMethod
	}
	if e.MatchMethod != model.MatchManual {
		e.ClientID, e.MatchMethod = "", model.MatchNone
		res, err := h.MatchClient(ctx, matcher.ForEvent(e))
		if err != nil {
			return nil, err
		}
		e.ClientID, e.MatchConfidence, e.MatchMethod = res.ClientID, res.Confidence, res.Method
	}
	stored, created, err := h.store.UpsertCalendarEvent(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("upsert calendar event: %w", err)
	}
	h.logUpsert(ctx, model.EntityCalendarEvent, stored.ID, created, stored.ClientID, stored.MatchMethod)
	return stored, nil
}

// UpsertCall stores c, resolving its client like UpsertCalendarEvent.
func (h *Service) UpsertCall(ctx context.Context, c *model.Call) (*model.Call, error) {
	existing, err := h.store.GetCallByFirefliesID(ctx, c.FirefliesID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		c.ClientID, c.MatchConfidence, c.MatchMethod = existing.ClientID, existing.MatchConfidence, existing.MatchMethod
	}
	if c.MatchMethod != model.MatchManual {
		c.ClientID, c.MatchMethod = "", model.MatchNone
		res, err := h.MatchClient(ctx, matcher.ForCall(c))
		if err != nil {
			return nil, err
		}
		c.ClientID, c.MatchConfidence, c.MatchMethod = res.ClientID, res.Confidence, res.Method
	}
	stored, created, err := h.store.UpsertCall(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("upsert call: %w", err)
	}
	h.logUpsert(ctx, model.EntityCall, stored.ID, created, stored.ClientID, stored.MatchMethod)
	return stored, nil
}

func (h *Service) logUpsert(ctx context.Context, entity model.EntityType, id string, created bool, clientID string, method model.MatchMethod) {
	action := model.ActionUpdated
	if created {
		action = model.ActionCreated
	}
	entry := model.ActivityEntry{
		EntityType: entity,
		EntityID:   id,
		ActionType: action,
		FieldName:  "client_id",
		NewValue:   clientID,
		Actor:      model.ActorN8N,
		Timestamp:  h.now(),
	}
	if err := h.store.AppendActivity(ctx, entry); err != nil {
		slog.Warn("Activity append failed", "entity", entity, "id", id, "error", err)
	}
	if clientID == "" {
		slog.Info("External entity needs client triage", "entity", entity, "id", id)
	} else {
		slog.Debug("External entity matched", "entity", entity, "id", id, "client", clientID, "method", method)
	}
}

// AssignClient manually assigns an event or call to a client. Manual
// assignments are never changed by later syncs.
func (h *Service) AssignClient(ctx context.Context, kind Kind, id, clientID string) error {
	if _, err := h.store.GetClient(ctx, clientID); err != nil {
		return err
	}
	if err := h.assign(ctx, kind, id, clientID, 100, model.MatchManual); err != nil {
		return err
	}
	slog.Info("Client assigned manually", "kind", kind, "id", id, "client", clientID)
	return nil
}

// ClearManualAssignment drops a manual assignment and re-runs matching.
func (h *Service) ClearManualAssignment(ctx context.Context, kind Kind, id string) (matcher.Result, error) {
	var entity matcher.Entity
	switch kind {
	case KindEvent:
		e, err := h.store.GetCalendarEvent(ctx, id)
		if err != nil {
			return matcher.Result{}, err
		}
		entity = matcher.ForEvent(e)
	case KindCall:
		c, err := h.store.GetCall(ctx, id)
		if err != nil {
			return matcher.Result{}, err
		}
		entity = matcher.ForCall(c)
	default:
		return matcher.Result{}, model.Invalid("kind", "unknown entity kind %q", kind)
	}
	entity.ClientID, entity.Method = "", model.MatchNone
	res, err := h.MatchClient(ctx, entity)
	if err != nil {
		return matcher.Result{}, err
	}
	if err := h.assign(ctx, kind, id, res.ClientID, res.Confidence, res.Method); err != nil {
		return matcher.Result{}, err
	}
	return res, nil
}

func (h *Service) assign(ctx context.Context, kind Kind, id, clientID string, confidence int, method model.MatchMethod) error {
	var (
		entity model.EntityType
		err    error
	)
	switch kind {
	case KindEvent:
		entity = model.EntityCalendarEvent
		err = h.store.AssignCalendarEvent(ctx, id, clientID, confidence, method)
	case KindCall:
		entity = model.EntityCall
		err = h.store.AssignCall(ctx, id, clientID, confidence, method)
	default:
		return model.Invalid("kind", "unknown entity kind %q", kind)
	}
	if err != nil {
		return err
	}
	actor := model.ActorSystem
	if method == model.MatchManual {
		actor = model.ActorManual
	}
	return h.store.AppendActivity(ctx, model.ActivityEntry{
		EntityType: entity,
		EntityID:   id,
		ActionType: model.ActionAssigned,
		FieldName:  "client_id",
		NewValue:   clientID,
		Actor:      actor,
		Timestamp:  h.now(),
	})
}

// Triage lists what needs a human: tasks flagged as possible duplicates and
// events or calls without a client.
type Triage struct {
	Duplicates      []model.Task          `json:"duplicates"`
	UnmatchedEvents []model.CalendarEvent `json:"unmatched_events"`
	UnmatchedCalls  []model.Call          `json:"unmatched_calls"`
}

func (t Triage) Len() int {
	return len(t.Duplicates) + len(t.UnmatchedEvents) + len(t.UnmatchedCalls)
}

func (h *Service) Triage(ctx context.Context) (Triage, error) {
	var out Triage
	var err error
	if out.Duplicates, err = h.store.ListTasks(ctx, store.TaskFilter{PossibleDuplicate: true}); err != nil {
		return out, err
	}
	if out.UnmatchedEvents, err = h.store.ListCalendarEvents(ctx, store.EventFilter{Unmatched: true}); err != nil {
		return out, err
	}
	if out.UnmatchedCalls, err = h.store.ListCalls(ctx, store.EventFilter{Unmatched: true}); err != nil {
		return out, err
	}
	return out, nil
}
