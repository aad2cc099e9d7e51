// Package intake consumes JSON envelopes from Kafka and feeds them to the
// hub: task batches to ingest, calendar events and calls to the upsert and
// matching path.
package intake

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/KafClaw/clienthub/internal/ingest"
	"github.com/KafClaw/clienthub/internal/model"
)

// EnvelopeType names the payload carried in Items.
type EnvelopeType string

const (
	EnvelopeTasks    EnvelopeType = "tasks"
	EnvelopeCalendar EnvelopeType = "calendar"
	EnvelopeCalls    EnvelopeType = "calls"
)

// Envelope is the wire format on intake topics.
type Envelope struct {
	Type   EnvelopeType    `json:"type"`
	Source string          `json:"source,omitempty"`
	SentAt time.Time       `json:"sent_at,omitempty"`
	Items  json.RawMessage `json:"items"`
}

// CalendarItem is one calendar event as produced by the sync workflow.
type CalendarItem struct {
	ID          string    `json:"id"`
	CalendarID  string    `json:"calendar_id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	MeetingLink string    `json:"meeting_link,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"all_day,omitempty"`
	Attendees   []string  `json:"attendees,omitempty"`
	Organizer   string    `json:"organizer,omitempty"`
	ETag        string    `json:"etag,omitempty"`
}

func (c CalendarItem) event() (*model.CalendarEvent, error) {
	if strings.TrimSpace(c.ID) == "" {
		return nil, model.Invalid("id", "calendar item id is required")
	}
	if c.End.Before(c.Start) {
		return nil, model.Invalid("end", "event %s ends before it starts", c.ID)
	}
	return &model.CalendarEvent{
		GCalEventID:    c.ID,
		CalendarID:     c.CalendarID,
		Title:          c.Title,
		Description:    c.Description,
		Location:       c.Location,
		MeetingLink:    c.MeetingLink,
		StartTime:      c.Start,
		EndTime:        c.End,
		AllDay:         c.AllDay,
		Participants:   c.Attendees,
		OrganizerEmail: c.Organizer,
		ETag:           c.ETag,
	}, nil
}

// CallItem is one recorded call from the transcript service.
type CallItem struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Summary         string    `json:"summary,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
	Participants    []string  `json:"participants,omitempty"`
	TranscriptURL   string    `json:"transcript_url,omitempty"`
}

func (c CallItem) call() (*model.Call, error) {
	if strings.TrimSpace(c.ID) == "" {
		return nil, model.Invalid("id", "call id is required")
	}
	if c.DurationMinutes < 0 {
		return nil, model.Invalid("duration_minutes", "must be >= 0")
	}
	return &model.Call{
		FirefliesID:     c.ID,
		Title:           c.Title,
		Summary:         c.Summary,
		StartedAt:       c.StartedAt,
		DurationMinutes: c.DurationMinutes,
		Participants:    c.Participants,
		TranscriptURL:   c.TranscriptURL,
	}, nil
}

// DecodeEnvelope parses a message value. Unknown types and missing items
// are errors.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Type {
	case EnvelopeTasks, EnvelopeCalendar, EnvelopeCalls:
	default:
		return nil, fmt.Errorf("decode envelope: unknown type %q", env.Type)
	}
	if len(env.Items) == 0 {
		return nil, fmt.Errorf("decode envelope: %s envelope has no items", env.Type)
	}
	return &env, nil
}

// Records decodes task items. Records without a source type inherit one
// from the envelope source when it names a known source.
func (e *Envelope) Records() ([]ingest.Record, error) {
	var recs []ingest.Record
	if err := json.Unmarshal(e.Items, &recs); err != nil {
		return nil, fmt.Errorf("decode task items: %w", err)
	}
	if src := model.SourceType(strings.ToUpper(e.Source)); src.Valid() {
		for i := range recs {
			if recs[i].SourceType == "" {
				recs[i].SourceType = src
			}
		}
	}
	return recs, nil
}

func (e *Envelope) CalendarItems() ([]CalendarItem, error) {
	var items []CalendarItem
	if err := json.Unmarshal(e.Items, &items); err != nil {
		return nil, fmt.Errorf("decode calendar items: %w", err)
	}
	return items, nil
}

func (e *Envelope) CallItems() ([]CallItem, error) {
	var items []CallItem
	if err := json.Unmarshal(e.Items, &items); err != nil {
		return nil, fmt.Errorf("decode call items: %w", err)
	}
	return items, nil
}
