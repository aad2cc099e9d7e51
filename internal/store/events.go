package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/KafClaw/clienthub/internal/model"
)

// EventFilter narrows calendar event and call listings.
type EventFilter struct {
	From      *time.Time
	To        *time.Time
	ClientID  string
	Unmatched bool
	// EndsAfter keeps calendar events still running at that instant,
	// whenever they started. Calls ignore it.
	EndsAfter *time.Time
}

func (f EventFilter) clauses(column string) (string, []any) {
	var where []string
	var args []any
	if f.From != nil {
		where = append(where, column+" >= ?")
		args = append(args, fmtTime(*f.From))
	}
	if f.To != nil {
		where = append(where, column+" < ?")
		args = append(args, fmtTime(*f.To))
	}
	if f.ClientID != "" {
		where = append(where, "client_id = ?")
		args = append(args, f.ClientID)
	} else if f.Unmatched {
		where = append(where, "client_id IS NULL")
	}
	if len(where) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

// assignmentUpsert keeps a manual assignment when a sync re-delivers the row.
const assignmentUpsert = `
	client_id = CASE WHEN %[1]s.match_method = 'manual' THEN %[1]s.client_id ELSE excluded.client_id END,
	match_confidence = CASE WHEN %[1]s.match_method = 'manual' THEN %[1]s.match_confidence ELSE excluded.match_confidence END,
	match_method = CASE WHEN %[1]s.match_method = 'manual' THEN %[1]s.match_method ELSE excluded.match_method END`

const eventColumns = `id, gcal_event_id, COALESCE(calendar_id,''), title, COALESCE(description,''),
	COALESCE(location,''), COALESCE(meeting_link,''), start_time, end_time, all_day, participants,
	COALESCE(organizer_email,''), COALESCE(client_id,''), match_confidence, COALESCE(match_method,''),
	COALESCE(etag,''), synced_at, created_at, updated_at`

func scanEvent(r rowScanner) (*model.CalendarEvent, error) {
	var e model.CalendarEvent
	var start, end, participants, synced, created, updated string
	if err := r.Scan(&e.ID, &e.GCalEventID, &e.CalendarID, &e.Title, &e.Description,
		&e.Location, &e.MeetingLink, &start, &end, &e.AllDay, &participants,
		&e.OrganizerEmail, &e.ClientID, &e.MatchConfidence, &e.MatchMethod,
		&e.ETag, &synced, &created, &updated); err != nil {
		return nil, err
	}
	e.StartTime = parseTime(start)
	e.EndTime = parseTime(end)
	e.Participants = decodeList(participants)
	e.SyncedAt = parseTime(synced)
	e.CreatedAt = parseTime(created)
	e.UpdatedAt = parseTime(updated)
	return &e, nil
}

// UpsertCalendarEvent inserts or refreshes an event keyed by its gcal id.
// A stored manual client assignment survives the refresh. The boolean
// reports whether the row was new.
func (s *Store) UpsertCalendarEvent(ctx context.Context, e *model.CalendarEvent) (*model.CalendarEvent, bool, error) {
	if e.GCalEventID == "" {
		return nil, false, model.Invalid("gcal_event_id", "required")
	}
	existing, err := s.GetCalendarEventByGCalID(ctx, e.GCalEventID)
	if err != nil {
		return nil, false, err
	}
	now := s.now()
	if e.ID == "" {
		e.ID = newID()
	}
	if e.SyncedAt.IsZero() {
		e.SyncedAt = now
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO calendar_events (
		id, gcal_event_id, calendar_id, title, description, location, meeting_link,
		start_time, end_time, all_day, participants, organizer_email,
		client_id, match_confidence, match_method, etag, synced_at, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(gcal_event_id) DO UPDATE SET
		calendar_id = excluded.calendar_id, title = excluded.title, description = excluded.description,
		location = excluded.location, meeting_link = excluded.meeting_link,
		start_time = excluded.start_time, end_time = excluded.end_time, all_day = excluded.all_day,
		participants = excluded.participants, organizer_email = excluded.organizer_email,
		etag = excluded.etag, synced_at = excluded.synced_at, updated_at = excluded.updated_at,`+
		fmt.Sprintf(assignmentUpsert, "calendar_events"),
		e.ID, e.GCalEventID, nullString(e.CalendarID), e.Title, nullString(e.Description), nullString(e.Location),
		nullString(e.MeetingLink), fmtTime(e.StartTime), fmtTime(e.EndTime), e.AllDay, encodeList(e.Participants),
		nullString(e.OrganizerEmail), nullString(e.ClientID), e.MatchConfidence, nullString(string(e.MatchMethod)),
		nullString(e.ETag), fmtTime(e.SyncedAt), fmtTime(now), fmtTime(now))
	if err != nil {
		return nil, false, wrapWrite("upsert calendar event", err)
	}
	stored, err := s.GetCalendarEventByGCalID(ctx, e.GCalEventID)
	if err != nil {
		return nil, false, err
	}
	return stored, existing == nil, nil
}

// GetCalendarEventByGCalID returns nil, nil when the event is unknown.
func (s *Store) GetCalendarEventByGCalID(ctx context.Context, gcalID string) (*model.CalendarEvent, error) {
	e, err := scanEvent(s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM calendar_events WHERE gcal_event_id = ?`, gcalID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get calendar event by gcal id: %w", err)
	}
	return e, nil
}

func (s *Store) GetCalendarEvent(ctx context.Context, id string) (*model.CalendarEvent, error) {
	e, err := scanEvent(s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM calendar_events WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("calendar event %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get calendar event: %w", err)
	}
	return e, nil
}

// ListCalendarEvents returns events ordered by start time.
func (s *Store) ListCalendarEvents(ctx context.Context, f EventFilter) ([]model.CalendarEvent, error) {
	where, args := f.clauses("start_time")
	if f.EndsAfter != nil {
		if where == "" {
			where = " WHERE end_time > ?"
		} else {
			where += " AND end_time > ?"
		}
		args = append(args, fmtTime(*f.EndsAfter))
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM calendar_events`+where+` ORDER BY start_time, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list calendar events: %w", err)
	}
	defer rows.Close()
	events := []model.CalendarEvent{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// AssignCalendarEvent sets the client assignment unconditionally.
func (s *Store) AssignCalendarEvent(ctx context.Context, id, clientID string, confidence int, method model.MatchMethod) error {
	return s.assign(ctx, "calendar_events", id, clientID, confidence, method)
}

const callColumns = `id, fireflies_id, title, COALESCE(summary,''), started_at, duration_minutes,
	participants, COALESCE(transcript_url,''), COALESCE(client_id,''), match_confidence,
	COALESCE(match_method,''), created_at, updated_at`

func scanCall(r rowScanner) (*model.Call, error) {
	var c model.Call
	var started, participants, created, updated string
	if err := r.Scan(&c.ID, &c.FirefliesID, &c.Title, &c.Summary, &started, &c.DurationMinutes,
		&participants, &c.TranscriptURL, &c.ClientID, &c.MatchConfidence,
		&c.MatchMethod, &created, &updated); err != nil {
		return nil, err
	}
	c.StartedAt = parseTime(started)
	c.Participants = decodeList(participants)
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	return &c, nil
}

// UpsertCall inserts or refreshes a call keyed by its fireflies id, keeping a
// stored manual assignment.
func (s *Store) UpsertCall(ctx context.Context, c *model.Call) (*model.Call, bool, error) {
	if c.FirefliesID == "" {
		return nil, false, model.Invalid("fireflies_id", "required")
	}
	existing, err := s.GetCallByFirefliesID(ctx, c.FirefliesID)
	if err != nil {
		return nil, false, err
	}
	now := s.now()
	if c.ID == "" {
		c.ID = newID()
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO calls (
		id, fireflies_id, title, summary, started_at, duration_minutes, participants,
		transcript_url, client_id, match_confidence, match_method, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(fireflies_id) DO UPDATE SET
		title = excluded.title, summary = excluded.summary, started_at = excluded.started_at,
		duration_minutes = excluded.duration_minutes, participants = excluded.participants,
		transcript_url = excluded.transcript_url, updated_at = excluded.updated_at,`+
		fmt.Sprintf(assignmentUpsert, "calls"),
		c.ID, c.FirefliesID, c.Title, nullString(c.Summary), fmtTime(c.StartedAt), c.DurationMinutes,
		encodeList(c.Participants), nullString(c.TranscriptURL), nullString(c.ClientID), c.MatchConfidence,
		nullString(string(c.MatchMethod)), fmtTime(now), fmtTime(now))
	if err != nil {
		return nil, false, wrapWrite("upsert call", err)
	}
	stored, err := s.GetCallByFirefliesID(ctx, c.FirefliesID)
	if err != nil {
		return nil, false, err
	}
	return stored, existing == nil, nil
}

// GetCallByFirefliesID returns nil, nil when the call is unknown.
func (s *Store) GetCallByFirefliesID(ctx context.Context, firefliesID string) (*model.Call, error) {
	c, err := scanCall(s.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE fireflies_id = ?`, firefliesID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get call by fireflies id: %w", err)
	}
	return c, nil
}

func (s *Store) GetCall(ctx context.Context, id string) (*model.Call, error) {
	c, err := scanCall(s.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("call %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get call: %w", err)
	}
	return c, nil
}

func (s *Store) ListCalls(ctx context.Context, f EventFilter) ([]model.Call, error) {
	where, args := f.clauses("started_at")
	rows, err := s.db.QueryContext(ctx, `SELECT `+callColumns+` FROM calls`+where+` ORDER BY started_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()
	calls := []model.Call{}
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, *c)
	}
	return calls, rows.Err()
}

func (s *Store) AssignCall(ctx context.Context, id, clientID string, confidence int, method model.MatchMethod) error {
	return s.assign(ctx, "calls", id, clientID, confidence, method)
}

func (s *Store) assign(ctx context.Context, table, id, clientID string, confidence int, method model.MatchMethod) error {
	res, err := s.db.ExecContext(ctx, `UPDATE `+table+` SET client_id = ?, match_confidence = ?, match_method = ?, updated_at = ?
		WHERE id = ?`, nullString(clientID), confidence, nullString(string(method)), fmtTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("assign %s: %w", table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %s: %w", table, id, model.ErrNotFound)
	}
	return nil
}
