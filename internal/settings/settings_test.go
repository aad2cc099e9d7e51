package settings

import (
	"strings"
	"testing"

	"github.com/KafClaw/clienthub/internal/model"
)

func TestDefaultsValidate(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"timezone":"UTC","ranking_weights":{"overdue":1,"bogus":2}}`))
	if err == nil {
		t.Fatal("expected error for unknown weight key")
	}
	if !model.IsValidation(err) {
		t.Fatalf("expected validation error, got %T: %v", err, err)
	}

	_, err = Decode(strings.NewReader(`{"timezone":"UTC","colour":"blue"}`))
	if err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
}

func TestDecodeAbsentWeightsAreZero(t *testing.T) {
	s, err := Decode(strings.NewReader(`{"ranking_weights":{"overdue":5}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	w := s.RankingWeights
	if w.Overdue != 5 {
		t.Fatalf("expected overdue=5, got %v", w.Overdue)
	}
	if w.DueToday != 0 || w.PriorityP0 != 0 || w.Pinned != 0 || w.ClientWeightMultiplier != 0 {
		t.Fatalf("expected absent weights to be zero, got %+v", w)
	}
	// Scalars not in the document keep their defaults.
	if s.CapacityMinutesPerDay != 360 || s.DefaultTaskDurationMinutes != 30 {
		t.Fatalf("unexpected capacity defaults: %+v", s)
	}
}

func TestDecodeYAMLStrict(t *testing.T) {
	doc := `
timezone: Europe/Berlin
capacity_minutes_per_day: 300
morning_end: "11:30"
ranking_weights:
  priority_p0: 40
client_matching_rules:
  domains:
    - domain: acme.com
      client_id: c-acme
`
	s, err := DecodeYAML(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("decode yaml: %v", err)
	}
	if s.Timezone != "Europe/Berlin" || s.CapacityMinutesPerDay != 300 {
		t.Fatalf("unexpected settings: %+v", s)
	}
	if s.MorningEnd != (model.TimeOfDay{Hour: 11, Minute: 30}) {
		t.Fatalf("unexpected morning_end: %v", s.MorningEnd)
	}
	if len(s.ClientMatchingRules.Domains) != 1 || s.ClientMatchingRules.Domains[0].ClientID != "c-acme" {
		t.Fatalf("unexpected rules: %+v", s.ClientMatchingRules)
	}

	if _, err := DecodeYAML(strings.NewReader("timezone: UTC\nextra: 1\n")); err == nil {
		t.Fatal("expected yaml unknown key to be rejected")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(*Settings)
		field string
	}{
		{"bad tz", func(s *Settings) { s.Timezone = "Mars/Olympus" }, "timezone"},
		{"zero capacity", func(s *Settings) { s.CapacityMinutesPerDay = 0 }, "capacity_minutes_per_day"},
		{"timebox order", func(s *Settings) { s.MorningEnd = model.TimeOfDay{Hour: 18} }, "morning_end"},
		{"threshold", func(s *Settings) { s.DuplicateThreshold = 1.5 }, "duplicate_threshold"},
		{"domain rule", func(s *Settings) {
			s.ClientMatchingRules.Domains = []DomainRule{{Domain: "acme.com"}}
		}, "client_matching_rules.domains"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Defaults()
			tt.mut(&s)
			err := s.Validate()
			ve, ok := err.(*model.ValidationError)
			if !ok {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Fatalf("expected field %q, got %q", tt.field, ve.Field)
			}
		})
	}
}

func TestParseRoundTripsEncode(t *testing.T) {
	in := Defaults()
	in.ClientMatchingRules.Keywords = []KeywordRule{{Keyword: "Acme", ClientID: "c1"}}
	data, err := in.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out.RankingWeights != in.RankingWeights {
		t.Fatalf("weights changed: %+v vs %+v", out.RankingWeights, in.RankingWeights)
	}
	if out.MorningEnd != in.MorningEnd || len(out.ClientMatchingRules.Keywords) != 1 {
		t.Fatalf("unexpected parse result: %+v", out)
	}
}

func TestDenylist(t *testing.T) {
	var r ClientMatchingRules
	if !r.Denylist()["gmail.com"] {
		t.Fatal("default denylist should contain gmail.com")
	}
	r.FreeMailDomains = []string{}
	if len(r.Denylist()) != 0 {
		t.Fatal("explicit empty denylist should disable it")
	}
	r.FreeMailDomains = []string{" Proton.ME "}
	if !r.Denylist()["proton.me"] {
		t.Fatal("custom denylist should be normalized")
	}
}
