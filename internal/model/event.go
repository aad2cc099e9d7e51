package model

import "time"

// MatchMethod names the technique behind a client assignment.
type MatchMethod string

const (
	MatchNone     MatchMethod = ""
	MatchOverride MatchMethod = "override"
	MatchDomain   MatchMethod = "domain"
	MatchKeyword  MatchMethod = "keyword"
	MatchManual   MatchMethod = "manual"
)

// Confidence values attached to each automatic method.
const (
	ConfidenceOverride = 100
	ConfidenceDomain   = 90
	ConfidenceKeyword  = 70
)

// CalendarEvent is a meeting synced from Google Calendar.
type CalendarEvent struct {
	ID              string      `json:"id"`
	GCalEventID     string      `json:"gcal_event_id"`
	CalendarID      string      `json:"calendar_id,omitempty"`
	Title           string      `json:"title"`
	Description     string      `json:"description,omitempty"`
	Location        string      `json:"location,omitempty"`
	MeetingLink     string      `json:"meeting_link,omitempty"`
	StartTime       time.Time   `json:"start_time"`
	EndTime         time.Time   `json:"end_time"`
	AllDay          bool        `json:"all_day"`
	Participants    []string    `json:"participants,omitempty"`
	OrganizerEmail  string      `json:"organizer_email,omitempty"`
	ClientID        string      `json:"client_id,omitempty"`
	MatchConfidence int         `json:"match_confidence"`
	MatchMethod     MatchMethod `json:"match_method,omitempty"`
	ETag            string      `json:"etag,omitempty"`
	SyncedAt        time.Time   `json:"synced_at"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Minutes returns the scheduled length of the event.
func (e *CalendarEvent) Minutes() int {
	if e.AllDay || !e.EndTime.After(e.StartTime) {
		return 0
	}
	return int(e.EndTime.Sub(e.StartTime).Minutes())
}

// Call is a recorded call ingested from Fireflies transcripts.
type Call struct {
	ID              string      `json:"id"`
	FirefliesID     string      `json:"fireflies_id"`
	Title           string      `json:"title"`
	Summary         string      `json:"summary,omitempty"`
	StartedAt       time.Time   `json:"started_at"`
	DurationMinutes int         `json:"duration_minutes"`
	Participants    []string    `json:"participants,omitempty"`
	TranscriptURL   string      `json:"transcript_url,omitempty"`
	ClientID        string      `json:"client_id,omitempty"`
	MatchConfidence int         `json:"match_confidence"`
	MatchMethod     MatchMethod `json:"match_method,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}
