// Package scheduler runs the periodic jobs of the hub: the recurrence tick,
// calendar sync and digests. Overlapping processes are kept apart with a
// file lock and per-category semaphores cap concurrency.
package scheduler

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/KafClaw/clienthub/internal/model"
)

// CronExpr represents a parsed 5-field cron expression evaluated in
// Location (UTC when nil).
// Fields: minute, hour, day-of-month, month, day-of-week.
type CronExpr struct {
	Minute     []int
	Hour       []int
	DayOfMonth []int
	Month      []int
	DayOfWeek  []int
	Location   *time.Location
}

var cronFields = [5]struct {
	name     string
	min, max int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// ParseCron parses a standard 5-field cron expression.
// Supports: *, */N, N, N-M, N-M/S, comma-separated values.
func ParseCron(expr string) (*CronExpr, error) {
	fields := strings.Fields(expr)
	if len(fields) != len(cronFields) {
		return nil, fmt.Errorf("cron: expected 5 fields, got %d", len(fields))
	}
	var sets [5][]int
	for i, f := range cronFields {
		vals, err := parseField(fields[i], f.min, f.max)
		if err != nil {
			return nil, fmt.Errorf("cron: %s: %w", f.name, err)
		}
		sets[i] = vals
	}
	return &CronExpr{
		Minute:     sets[0],
		Hour:       sets[1],
		DayOfMonth: sets[2],
		Month:      sets[3],
		DayOfWeek:  sets[4],
	}, nil
}

// DailyAt returns an expression firing once a day at the given local time.
func DailyAt(at model.TimeOfDay, loc *time.Location) *CronExpr {
	return &CronExpr{
		Minute:     []int{at.Minute},
		Hour:       []int{at.Hour},
		DayOfMonth: stepSlice(1, 31, 1),
		Month:      stepSlice(1, 12, 1),
		DayOfWeek:  stepSlice(0, 6, 1),
		Location:   loc,
	}
}

func (c *CronExpr) local(t time.Time) time.Time {
	if c.Location != nil {
		return t.In(c.Location)
	}
	return t.UTC()
}

// Matches returns true if t falls within the cron expression.
func (c *CronExpr) Matches(t time.Time) bool {
	t = c.local(t)
	return slices.Contains(c.Minute, t.Minute()) &&
		slices.Contains(c.Hour, t.Hour()) &&
		slices.Contains(c.DayOfMonth, t.Day()) &&
		slices.Contains(c.Month, int(t.Month())) &&
		slices.Contains(c.DayOfWeek, int(t.Weekday()))
}

// Next returns the next time after t that matches the cron expression.
// Searches up to 2 years ahead; returns zero time if not found.
func (c *CronExpr) Next(t time.Time) time.Time {
	t = c.local(t)
	candidate := t.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(2, 0, 0)
	loc := candidate.Location()

	for candidate.Before(limit) {
		y, mo, d := candidate.Date()
		switch {
		case !slices.Contains(c.Month, int(mo)):
			candidate = time.Date(y, mo+1, 1, 0, 0, 0, 0, loc)
		case !slices.Contains(c.DayOfMonth, d) || !slices.Contains(c.DayOfWeek, int(candidate.Weekday())):
			candidate = time.Date(y, mo, d+1, 0, 0, 0, 0, loc)
		case !slices.Contains(c.Hour, candidate.Hour()):
			candidate = time.Date(y, mo, d, candidate.Hour()+1, 0, 0, 0, loc)
		case !slices.Contains(c.Minute, candidate.Minute()):
			candidate = candidate.Add(time.Minute)
		default:
			return candidate
		}
	}
	return time.Time{}
}

// parseField parses a single cron field into a sorted list of integers.
func parseField(field string, min, max int) ([]int, error) {
	if field == "*" {
		return stepSlice(min, max, 1), nil
	}
	var out []int
	for _, part := range strings.Split(field, ",") {
		vals, err := parsePart(part, min, max)
		if err != nil {
			return nil, err
		}
		out = append(out, vals...)
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// parsePart parses a single part: */N, N, N-M, N-M/S.
func parsePart(part string, min, max int) ([]int, error) {
	base, stepText, hasStep := strings.Cut(part, "/")
	step := 1
	if hasStep {
		n, err := strconv.Atoi(stepText)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid step %q", part)
		}
		step = n
	}

	lo, hi := min, max
	switch {
	case base == "*":
		if !hasStep {
			return nil, fmt.Errorf("invalid value %q", part)
		}
	case strings.Contains(base, "-"):
		from, to, _ := strings.Cut(base, "-")
		var err error
		if lo, err = strconv.Atoi(from); err != nil {
			return nil, fmt.Errorf("invalid range start %q", from)
		}
		if hi, err = strconv.Atoi(to); err != nil {
			return nil, fmt.Errorf("invalid range end %q", to)
		}
		if lo < min || hi > max || lo > hi {
			return nil, fmt.Errorf("range %d-%d out of bounds [%d,%d]", lo, hi, min, max)
		}
	default:
		if hasStep {
			return nil, fmt.Errorf("step needs a range %q", part)
		}
		val, err := strconv.Atoi(base)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q", part)
		}
		if val < min || val > max {
			return nil, fmt.Errorf("value %d out of bounds [%d,%d]", val, min, max)
		}
		return []int{val}, nil
	}
	return stepSlice(lo, hi, step), nil
}

func stepSlice(min, max, step int) []int {
	out := make([]int, 0, (max-min)/step+1)
	for i := min; i <= max; i += step {
		out = append(out, i)
	}
	return out
}
