package recurrence

import (
	"testing"
	"time"

	"github.com/KafClaw/clienthub/internal/model"
)

func TestParseRule(t *testing.T) {
	tests := []struct {
		in   string
		want Rule
	}{
		{"FREQ=DAILY", Rule{Daily, 1}},
		{"RRULE:FREQ=WEEKLY;INTERVAL=2", Rule{Weekly, 2}},
		{"rrule:freq=monthly;interval=3;", Rule{Monthly, 3}},
		{" INTERVAL=1 ; FREQ=WEEKLY ", Rule{Weekly, 1}},
	}
	for _, tt := range tests {
		got, err := ParseRule(tt.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("parse %q = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestParseRuleRejects(t *testing.T) {
	for _, in := range []string{
		"",
		"FREQ=YEARLY",
		"FREQ=DAILY;INTERVAL=0",
		"FREQ=DAILY;INTERVAL=x",
		"FREQ=WEEKLY;BYDAY=MO",
		"INTERVAL=2",
		"FREQ=DAILY;FREQ=WEEKLY",
		"FREQ",
	} {
		_, err := ParseRule(in)
		if err == nil {
			t.Errorf("expected error for %q", in)
			continue
		}
		if !model.IsValidation(err) {
			t.Errorf("expected validation error for %q, got %T", in, err)
		}
	}
}

func TestDescribe(t *testing.T) {
	if got := Describe(Rule{Daily, 1}); got != "Every day" {
		t.Fatalf("got %q", got)
	}
	if got := Describe(Rule{Weekly, 2}); got != "Every 2 weeks" {
		t.Fatalf("got %q", got)
	}
	if got := Describe(Rule{Monthly, 1}); got != "Every month" {
		t.Fatalf("got %q", got)
	}
}

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load %s: %v", name, err)
	}
	return loc
}

func TestNextOccurrenceDailyAcrossDST(t *testing.T) {
	ny := mustLoc(t, "America/New_York")
	anchor := model.NewDate(2025, time.March, 7)
	after := time.Date(2025, time.March, 7, 12, 0, 0, 0, ny)

	var days []string
	for i := 0; i < 4; i++ {
		next, ok := NextOccurrence(Rule{Daily, 1}, anchor, ny, after, false, nil)
		if !ok {
			t.Fatal("expected an occurrence")
		}
		local := next.In(ny)
		if local.Hour() != 0 || local.Minute() != 0 {
			t.Fatalf("expected local midnight, got %v", local)
		}
		days = append(days, model.DateOf(local).String())
		after = next
	}
	want := []string{"2025-03-08", "2025-03-09", "2025-03-10", "2025-03-11"}
	for i := range want {
		if days[i] != want[i] {
			t.Fatalf("occurrences = %v, want %v", days, want)
		}
	}

	// Same walk across the November fall-back.
	after = time.Date(2025, time.November, 1, 12, 0, 0, 0, ny)
	next, _ := NextOccurrence(Rule{Daily, 1}, anchor, ny, after, false, nil)
	if model.DateOf(next.In(ny)).String() != "2025-11-02" {
		t.Fatalf("unexpected date %v", next.In(ny))
	}
	next2, _ := NextOccurrence(Rule{Daily, 1}, anchor, ny, next, false, nil)
	if model.DateOf(next2.In(ny)).String() != "2025-11-03" || next2.Sub(next) != 25*time.Hour {
		t.Fatalf("expected 25h local day, got %v (%v)", next2.In(ny), next2.Sub(next))
	}
}

func TestNextOccurrenceMonthlyClamps(t *testing.T) {
	anchor := model.NewDate(2025, time.January, 31)
	after := time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)
	next, ok := NextOccurrence(Rule{Monthly, 1}, anchor, time.UTC, after, false, nil)
	if !ok || model.DateOf(next).String() != "2025-02-28" {
		t.Fatalf("expected 2025-02-28, got %v", next)
	}
	next, _ = NextOccurrence(Rule{Monthly, 1}, anchor, time.UTC, next, false, nil)
	if model.DateOf(next).String() != "2025-03-31" {
		t.Fatalf("clamping must not drift, got %v", next)
	}
}

func TestNextOccurrenceWeeklyInterval(t *testing.T) {
	anchor := model.NewDate(2025, time.June, 2) // Monday
	after := time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC)
	next, ok := NextOccurrence(Rule{Weekly, 2}, anchor, time.UTC, after, false, nil)
	if !ok || model.DateOf(next).String() != "2025-06-16" {
		t.Fatalf("expected 2025-06-16, got %v", next)
	}
}

func TestSkipWeekendsNeverYieldsWeekend(t *testing.T) {
	rules := []Rule{{Daily, 1}, {Daily, 3}, {Weekly, 1}, {Monthly, 1}}
	anchors := []model.Date{
		model.NewDate(2025, time.May, 31), // Saturday
		model.NewDate(2025, time.June, 1), // Sunday
		model.NewDate(2025, time.June, 4),
	}
	for _, r := range rules {
		for _, a := range anchors {
			after := a.At(model.TimeOfDay{}, time.UTC).Add(-time.Hour)
			for i := 0; i < 60; i++ {
				next, ok := NextOccurrence(r, a, time.UTC, after, true, nil)
				if !ok {
					t.Fatalf("rule %v anchor %s: unexpected end", r, a)
				}
				switch next.Weekday() {
				case time.Saturday, time.Sunday:
					t.Fatalf("rule %v anchor %s produced weekend %v", r, a, next)
				}
				if !next.After(after) {
					t.Fatalf("rule %v: occurrence %v not after %v", r, next, after)
				}
				after = next
			}
		}
	}
}

func TestNextOccurrenceRespectsEnd(t *testing.T) {
	anchor := model.NewDate(2025, time.June, 2)
	end := model.NewDate(2025, time.June, 4)
	after := anchor.At(model.TimeOfDay{}, time.UTC)
	next, ok := NextOccurrence(Rule{Daily, 1}, anchor, time.UTC, after, false, &end)
	if !ok || model.DateOf(next) != model.NewDate(2025, time.June, 3) {
		t.Fatalf("unexpected %v %v", next, ok)
	}
	next, ok = NextOccurrence(Rule{Daily, 1}, anchor, time.UTC, end.At(model.TimeOfDay{}, time.UTC), false, &end)
	if ok {
		t.Fatalf("expected end of series, got %v", next)
	}

	// End before anchor: nothing ever.
	before := model.NewDate(2025, time.May, 1)
	s := Series{Rule: Rule{Daily, 1}, Anchor: anchor, Location: time.UTC, End: &before}
	if _, ok := s.First(); ok {
		t.Fatal("expected no first occurrence when end < anchor")
	}
}

func TestSeriesFirstOnAnchor(t *testing.T) {
	anchor := model.NewDate(2025, time.June, 2)
	s := Series{Rule: Rule{Weekly, 1}, Anchor: anchor, Location: time.UTC}
	first, ok := s.First()
	if !ok || s.DateOf(first) != anchor {
		t.Fatalf("expected first occurrence on anchor, got %v", first)
	}
}
