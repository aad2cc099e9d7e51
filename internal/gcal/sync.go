package gcal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/KafClaw/clienthub/internal/model"
)

// Upserter stores synced events; hub.Service implements it.
type Upserter interface {
	UpsertCalendarEvent(ctx context.Context, e *model.CalendarEvent) (*model.CalendarEvent, error)
}

// Stats summarizes one sync run.
type Stats struct {
	Fetched   int `json:"fetched"`
	Stored    int `json:"stored"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Unmatched int `json:"unmatched"`
}

// Syncer copies one calendar's events into the hub.
type Syncer struct {
	srv        *calendar.Service
	calendarID string
	hub        Upserter
	past       time.Duration
	ahead      time.Duration
}

// NewSyncer reads calendarID from pastDays before now to lookaheadDays
// after it.
func NewSyncer(srv *calendar.Service, calendarID string, hub Upserter, pastDays, lookaheadDays int) *Syncer {
	if calendarID == "" {
		calendarID = "primary"
	}
	return &Syncer{
		srv:        srv,
		calendarID: calendarID,
		hub:        hub,
		past:       time.Duration(pastDays) * 24 * time.Hour,
		ahead:      time.Duration(lookaheadDays) * 24 * time.Hour,
	}
}

// Sync fetches the window around now and upserts every event. Individual
// event failures are counted, not returned.
func (s *Syncer) Sync(ctx context.Context, now time.Time) (Stats, error) {
	var st Stats
	call := s.srv.Events.List(s.calendarID).
		TimeMin(now.Add(-s.past).Format(time.RFC3339)).
		TimeMax(now.Add(s.ahead).Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		ShowDeleted(false)

	err := call.Pages(ctx, func(page *calendar.Events) error {
		loc := pageLocation(page)
		for _, item := range page.Items {
			st.Fetched++
			e, err := Convert(item, s.calendarID, loc)
			if err != nil {
				st.Skipped++
				slog.Debug("Calendar event skipped", "id", item.Id, "reason", err)
				continue
			}
			stored, err := s.hub.UpsertCalendarEvent(ctx, e)
			if err != nil {
				st.Failed++
				slog.Warn("Calendar event upsert failed", "id", item.Id, "error", err)
				continue
			}
			st.Stored++
			if stored.ClientID == "" {
				st.Unmatched++
			}
		}
		return nil
	})
	if err != nil {
		return st, fmt.Errorf("list calendar events: %w", err)
	}
	slog.Info("Calendar sync finished", "calendar", s.calendarID, "fetched", st.Fetched, "stored", st.Stored, "unmatched", st.Unmatched, "failed", st.Failed)
	return st, nil
}

func pageLocation(page *calendar.Events) *time.Location {
	if page.TimeZone != "" {
		if loc, err := time.LoadLocation(page.TimeZone); err == nil {
			return loc
		}
	}
	return time.UTC
}

// Convert maps an API event to the stored shape. All-day dates are
// interpreted in loc. Cancelled events and events without a start are
// rejected.
func Convert(item *calendar.Event, calendarID string, loc *time.Location) (*model.CalendarEvent, error) {
	if item.Status == "cancelled" {
		return nil, fmt.Errorf("cancelled")
	}
	if item.Start == nil || item.End == nil {
		return nil, fmt.Errorf("missing start or end")
	}
	start, allDay, err := eventTime(item.Start, loc)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	end, _, err := eventTime(item.End, loc)
	if err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}

	e := &model.CalendarEvent{
		GCalEventID: item.Id,
		CalendarID:  calendarID,
		Title:       item.Summary,
		Description: item.Description,
		Location:    item.Location,
		MeetingLink: meetingLink(item),
		StartTime:   start,
		EndTime:     end,
		AllDay:      allDay,
		ETag:        item.Etag,
	}
	if item.Organizer != nil {
		e.OrganizerEmail = strings.ToLower(item.Organizer.Email)
	}
	for _, a := range item.Attendees {
		if a.Resource || a.Email == "" || a.ResponseStatus == "declined" {
			continue
		}
		e.Participants = append(e.Participants, strings.ToLower(a.Email))
	}
	return e, nil
}

func eventTime(t *calendar.EventDateTime, loc *time.Location) (time.Time, bool, error) {
	if t.DateTime != "" {
		v, err := time.Parse(time.RFC3339, t.DateTime)
		return v, false, err
	}
	if t.Date != "" {
		if t.TimeZone != "" {
			if l, err := time.LoadLocation(t.TimeZone); err == nil {
				loc = l
			}
		}
		v, err := time.ParseInLocation("2006-01-02", t.Date, loc)
		return v, true, err
	}
	return time.Time{}, false, fmt.Errorf("empty time")
}

func meetingLink(item *calendar.Event) string {
	if item.HangoutLink != "" {
		return item.HangoutLink
	}
	if item.ConferenceData != nil {
		for _, ep := range item.ConferenceData.EntryPoints {
			if ep.EntryPointType == "video" {
				return ep.Uri
			}
		}
	}
	return ""
}
