package ranking

import (
	"sort"
	"time"

	"github.com/KafClaw/clienthub/internal/model"
	"github.com/KafClaw/clienthub/internal/settings"
)

// Section holds ranked tasks split by timebox.
type Section struct {
	Morning   []model.Task `json:"morning"`
	Afternoon []model.Task `json:"afternoon"`
	Evening   []model.Task `json:"evening"`
	None      []model.Task `json:"none"`
}

func (s *Section) add(t model.Task) {
	switch t.TimeboxBucket {
	case model.TimeboxMorning:
		s.Morning = append(s.Morning, t)
	case model.TimeboxAfternoon:
		s.Afternoon = append(s.Afternoon, t)
	case model.TimeboxEvening:
		s.Evening = append(s.Evening, t)
	default:
		s.None = append(s.None, t)
	}
}

// All returns the section's tasks bucket by bucket.
func (s Section) All() []model.Task {
	out := make([]model.Task, 0, s.Len())
	out = append(out, s.Morning...)
	out = append(out, s.Afternoon...)
	out = append(out, s.Evening...)
	return append(out, s.None...)
}

func (s Section) Len() int {
	return len(s.Morning) + len(s.Afternoon) + len(s.Evening) + len(s.None)
}

// Meetings holds the day's calendar events split by the timebox boundaries.
type Meetings struct {
	AllDay    []model.CalendarEvent `json:"all_day"`
	Morning   []model.CalendarEvent `json:"morning"`
	Afternoon []model.CalendarEvent `json:"afternoon"`
	Evening   []model.CalendarEvent `json:"evening"`
}

func (m Meetings) Len() int {
	return len(m.AllDay) + len(m.Morning) + len(m.Afternoon) + len(m.Evening)
}

// Level is the capacity signal.
type Level string

const (
	LevelOK      Level = "ok"
	LevelWarning Level = "warning"
	LevelDanger  Level = "danger"
)

// WarningRatio is where the capacity signal turns from ok to warning.
const WarningRatio = 0.8

// LevelFor maps a used/total ratio to a signal.
func LevelFor(ratio float64) Level {
	switch {
	case ratio > 1.0:
		return LevelDanger
	case ratio >= WarningRatio:
		return LevelWarning
	}
	return LevelOK
}

// TodayView is the composed Today screen.
type TodayView struct {
	Date           model.Date `json:"date"`
	Overdue        Section    `json:"overdue"`
	DueToday       Section    `json:"due_today"`
	Upcoming       Section    `json:"upcoming"`
	Unscheduled    Section    `json:"unscheduled"`
	Meetings       Meetings   `json:"meetings"`
	MeetingMinutes int        `json:"meeting_minutes"`
	CapacityUsed   int        `json:"capacity_used_minutes"`
	CapacityTotal  int        `json:"capacity_total_minutes"`
	CapacityRatio  float64    `json:"capacity_ratio"`
	CapacityLevel  Level      `json:"capacity_level"`
	OverdueCount   int        `json:"overdue_count"`
	PendingCount   int        `json:"pending_count"`
}

// listable reports whether t may appear in any view.
func listable(t *model.Task) bool {
	return !t.IsRecurring && t.Status != model.StatusCompleted && t.ArchivedAt == nil
}

// ScheduledToday reports whether t counts against today's capacity: due
// today, pinned, or placed in any timebox. A timebox claims time today
// whatever the due date.
func ScheduledToday(t *model.Task, today model.Date) bool {
	if !listable(t) {
		return false
	}
	if t.PinnedToday {
		return true
	}
	if t.DueDate != nil && *t.DueDate == today {
		return true
	}
	return t.TimeboxBucket != model.TimeboxNone && t.TimeboxBucket != ""
}

// ComposeToday builds the Today view for now in the settings time zone.
// Completed, archived and template tasks are ignored. Capacity overflow
// never drops a task; it only raises the level.
func ComposeToday(now time.Time, open []model.Task, meetings []model.CalendarEvent, st settings.Settings) TodayView {
	loc := st.Location()
	today := model.DateOf(now.In(loc))
	horizon := today.AddDays(st.UpcomingDays)

	v := TodayView{Date: today, CapacityTotal: st.CapacityMinutesPerDay}

	candidates := make([]model.Task, 0, len(open))
	for i := range open {
		if listable(&open[i]) {
			candidates = append(candidates, open[i])
		}
	}
	for _, t := range Rank(candidates, st.RankingWeights, today) {
		if t.Status == model.StatusPending {
			v.PendingCount++
		}
		if ScheduledToday(&t, today) {
			v.CapacityUsed += t.Estimate(st.DefaultTaskDurationMinutes)
		}
		switch {
		case t.DueDate != nil && t.DueDate.Before(today):
			v.Overdue.add(t)
		case t.DueDate != nil && *t.DueDate == today:
			if t.TimeboxBucket == model.TimeboxNone || t.TimeboxBucket == "" {
				v.Unscheduled.add(t)
			} else {
				v.DueToday.add(t)
			}
		case t.PinnedToday:
			v.Unscheduled.add(t)
		case t.DueDate == nil:
			if t.TimeboxBucket != model.TimeboxNone && t.TimeboxBucket != "" {
				v.Unscheduled.add(t)
			}
		case !t.DueDate.After(horizon):
			v.Upcoming.add(t)
		}
	}
	v.OverdueCount = v.Overdue.Len()

	if v.CapacityTotal > 0 {
		v.CapacityRatio = float64(v.CapacityUsed) / float64(v.CapacityTotal)
	}
	v.CapacityLevel = LevelFor(v.CapacityRatio)

	v.Meetings, v.MeetingMinutes = partitionMeetings(meetings, today, loc, st)
	return v
}

func partitionMeetings(events []model.CalendarEvent, today model.Date, loc *time.Location, st settings.Settings) (Meetings, int) {
	sorted := make([]model.CalendarEvent, 0, len(events))
	for _, e := range events {
		start := model.DateOf(e.StartTime.In(loc))
		switch {
		case start == today:
			sorted = append(sorted, e)
		case e.AllDay && start.Before(today) && model.DateOf(e.EndTime.In(loc)).After(today):
			// Multi-day all-day event; the end date is exclusive.
			sorted = append(sorted, e)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].StartTime.Equal(sorted[j].StartTime) {
			return sorted[i].StartTime.Before(sorted[j].StartTime)
		}
		return sorted[i].GCalEventID < sorted[j].GCalEventID
	})

	var m Meetings
	minutes := 0
	for _, e := range sorted {
		if e.AllDay {
			m.AllDay = append(m.AllDay, e)
			continue
		}
		minutes += e.Minutes()
		clock := model.ClockOf(e.StartTime.In(loc)).Minutes()
		switch {
		case clock < st.MorningEnd.Minutes():
			m.Morning = append(m.Morning, e)
		case clock < st.AfternoonEnd.Minutes():
			m.Afternoon = append(m.Afternoon, e)
		default:
			m.Evening = append(m.Evening, e)
		}
	}
	return m, minutes
}
