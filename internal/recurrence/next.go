package recurrence

import (
	"time"

	"github.com/KafClaw/clienthub/internal/model"
)

// Series is a template's recurrence configuration resolved for computation.
// Occurrence k falls on Anchor + k*Interval calendar units, and its instant
// is local midnight of that day in Location.
type Series struct {
	Rule         Rule
	Anchor       model.Date
	Location     *time.Location
	SkipWeekends bool
	End          *model.Date
}

// SeriesOf resolves a template task. A missing time zone means UTC and a
// missing anchor means the template's creation day.
func SeriesOf(t *model.Task) (Series, error) {
	rule, err := ParseRule(t.RecurrenceRule)
	if err != nil {
		return Series{}, err
	}
	loc, err := loadLocation(t.RecurrenceTimezone)
	if err != nil {
		return Series{}, err
	}
	anchor := model.DateOf(t.CreatedAt.In(loc))
	if t.AnchorDate != nil {
		anchor = *t.AnchorDate
	}
	return Series{
		Rule:         rule,
		Anchor:       anchor,
		Location:     loc,
		SkipWeekends: t.SkipWeekends,
		End:          t.EndDate,
	}, nil
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, model.Invalid("recurrence_timezone", "unknown time zone %q", name)
	}
	return loc, nil
}

// dateAt returns occurrence k's calendar day, weekend roll applied.
func (s Series) dateAt(k int) model.Date {
	var d model.Date
	switch s.Rule.Freq {
	case Weekly:
		d = s.Anchor.AddDays(7 * k * s.Rule.Interval)
	case Monthly:
		d = s.Anchor.AddMonths(k * s.Rule.Interval)
	default:
		d = s.Anchor.AddDays(k * s.Rule.Interval)
	}
	if s.SkipWeekends {
		switch d.Weekday() {
		case time.Saturday:
			d = d.AddDays(2)
		case time.Sunday:
			d = d.AddDays(1)
		}
	}
	return d
}

// Instant is the local midnight of d in the series' zone.
func (s Series) Instant(d model.Date) time.Time {
	return d.At(model.TimeOfDay{}, s.Location)
}

// DateOf is the calendar day of instant in the series' zone.
func (s Series) DateOf(instant time.Time) model.Date {
	return model.DateOf(instant.In(s.Location))
}

// startIndex is a lower bound on the index of the first occurrence after day.
func (s Series) startIndex(day model.Date) int {
	var k int
	switch s.Rule.Freq {
	case Weekly:
		k = day.Sub(s.Anchor) / (7 * s.Rule.Interval)
	case Monthly:
		months := (day.Year-s.Anchor.Year)*12 + int(day.Month) - int(s.Anchor.Month)
		k = months / s.Rule.Interval
	default:
		k = day.Sub(s.Anchor) / s.Rule.Interval
	}
	// Step back far enough to cover the weekend roll and month clamping.
	k -= 2
	if k < 0 {
		k = 0
	}
	return k
}

// Next returns the first occurrence instant strictly after after, or false
// once the series has passed its end date.
func (s Series) Next(after time.Time) (time.Time, bool) {
	afterDay := s.DateOf(after)
	for k := s.startIndex(afterDay); ; k++ {
		d := s.dateAt(k)
		if s.End != nil && d.After(*s.End) {
			return time.Time{}, false
		}
		if at := s.Instant(d); at.After(after) {
			return at, true
		}
	}
}

// First returns the first occurrence on or after the anchor day.
func (s Series) First() (time.Time, bool) {
	return s.Next(s.Instant(s.Anchor).Add(-time.Nanosecond))
}

// NextOccurrence computes the first occurrence of rule strictly after after,
// advancing in calendar days of loc. It reports false when the next date
// would fall past end.
func NextOccurrence(rule Rule, anchor model.Date, loc *time.Location, after time.Time, skipWeekends bool, end *model.Date) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	if rule.Interval < 1 {
		rule.Interval = 1
	}
	return Series{Rule: rule, Anchor: anchor, Location: loc, SkipWeekends: skipWeekends, End: end}.Next(after)
}
