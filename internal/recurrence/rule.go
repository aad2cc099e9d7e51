// Package recurrence expands recurring task templates into dated occurrences
// and materializes them into the store.
package recurrence

import (
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/KafClaw/clienthub/internal/model"
)

type Frequency string

const (
	Daily   Frequency = "DAILY"
	Weekly  Frequency = "WEEKLY"
	Monthly Frequency = "MONTHLY"
)

// MaxInterval bounds INTERVAL to keep pathological rules out of the store.
const MaxInterval = 366

// Rule is the supported RRULE subset: a frequency and an interval count.
type Rule struct {
	Freq     Frequency
	Interval int
}

func (r Rule) String() string {
	return fmt.Sprintf("FREQ=%s;INTERVAL=%d", r.Freq, r.Interval)
}

var ruleCache, _ = lru.New[string, Rule](256)

// ParseRule parses "FREQ=WEEKLY;INTERVAL=2", optionally prefixed with
// "RRULE:". Keys are case-insensitive. Anything outside the subset is a
// ValidationError.
func ParseRule(s string) (Rule, error) {
	key := strings.TrimSpace(s)
	if r, ok := ruleCache.Get(key); ok {
		return r, nil
	}
	r, err := parseRule(key)
	if err != nil {
		return Rule{}, err
	}
	ruleCache.Add(key, r)
	return r, nil
}

func parseRule(s string) (Rule, error) {
	if s == "" {
		return Rule{}, model.Invalid("recurrence_rule", "empty rule")
	}
	if len(s) >= 6 && strings.EqualFold(s[:6], "RRULE:") {
		s = s[6:]
	}
	r := Rule{Interval: 1}
	seen := map[string]bool{}
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return Rule{}, model.Invalid("recurrence_rule", "malformed component %q", part)
		}
		k = strings.ToUpper(strings.TrimSpace(k))
		v = strings.ToUpper(strings.TrimSpace(v))
		if seen[k] {
			return Rule{}, model.Invalid("recurrence_rule", "duplicate %s", k)
		}
		seen[k] = true
		switch k {
		case "FREQ":
			switch Frequency(v) {
			case Daily, Weekly, Monthly:
				r.Freq = Frequency(v)
			default:
				return Rule{}, model.Invalid("recurrence_rule", "unsupported FREQ %q", v)
			}
		case "INTERVAL":
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > MaxInterval {
				return Rule{}, model.Invalid("recurrence_rule", "INTERVAL must be 1..%d, got %q", MaxInterval, v)
			}
			r.Interval = n
		default:
			return Rule{}, model.Invalid("recurrence_rule", "unsupported component %s", k)
		}
	}
	if r.Freq == "" {
		return Rule{}, model.Invalid("recurrence_rule", "FREQ is required")
	}
	return r, nil
}

// Describe renders a rule for people: "Every day", "Every 2 weeks".
func Describe(r Rule) string {
	unit := map[Frequency]string{Daily: "day", Weekly: "week", Monthly: "month"}[r.Freq]
	if r.Interval <= 1 {
		return "Every " + unit
	}
	return fmt.Sprintf("Every %d %ss", r.Interval, unit)
}
