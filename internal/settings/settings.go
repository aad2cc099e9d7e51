// Package settings defines the typed, immutable configuration document every
// core operation reads fresh: ranking weights, client matching rules,
// capacity and timebox boundaries.
package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/KafClaw/clienthub/internal/model"
)

// RankingWeights is the named weight table used by the ranker. Any weight
// missing from a stored document is zero.
type RankingWeights struct {
	Overdue                float64 `json:"overdue" yaml:"overdue"`
	DueToday               float64 `json:"due_today" yaml:"due_today"`
	PriorityP0             float64 `json:"priority_p0" yaml:"priority_p0"`
	PriorityP1             float64 `json:"priority_p1" yaml:"priority_p1"`
	PriorityP2             float64 `json:"priority_p2" yaml:"priority_p2"`
	PriorityP3             float64 `json:"priority_p3" yaml:"priority_p3"`
	InProgress             float64 `json:"in_progress" yaml:"in_progress"`
	Pending                float64 `json:"pending" yaml:"pending"`
	ClientWeightMultiplier float64 `json:"client_weight_multiplier" yaml:"client_weight_multiplier"`
	Pinned                 float64 `json:"pinned" yaml:"pinned"`
}

// Priority returns the weight for a priority tier.
func (w RankingWeights) Priority(p model.Priority) float64 {
	switch p {
	case model.P0:
		return w.PriorityP0
	case model.P1:
		return w.PriorityP1
	case model.P2:
		return w.PriorityP2
	case model.P3:
		return w.PriorityP3
	}
	return 0
}

type DomainRule struct {
	Domain   string `json:"domain" yaml:"domain"`
	ClientID string `json:"client_id" yaml:"client_id"`
}

type KeywordRule struct {
	Keyword  string `json:"keyword" yaml:"keyword"`
	ClientID string `json:"client_id" yaml:"client_id"`
}

// OverrideRule pins one external entity (gcal event id, fireflies id) to a
// client.
type OverrideRule struct {
	EntityID string `json:"entity_id" yaml:"entity_id"`
	ClientID string `json:"client_id" yaml:"client_id"`
}

// DefaultFreeMailDomains are never used for domain matching.
var DefaultFreeMailDomains = []string{
	"gmail.com", "googlemail.com", "outlook.com", "hotmail.com",
	"live.com", "yahoo.com", "icloud.com", "me.com",
}

type ClientMatchingRules struct {
	Domains   []DomainRule   `json:"domains" yaml:"domains"`
	Keywords  []KeywordRule  `json:"keywords" yaml:"keywords"`
	Overrides []OverrideRule `json:"overrides" yaml:"overrides"`
	// FreeMailDomains replaces the default denylist when set. An explicit
	// empty list disables the denylist.
	FreeMailDomains []string `json:"free_mail_domains,omitempty" yaml:"free_mail_domains,omitempty"`
}

// Denylist returns the effective free-mail denylist, lower-cased.
func (r ClientMatchingRules) Denylist() map[string]bool {
	src := r.FreeMailDomains
	if src == nil {
		src = DefaultFreeMailDomains
	}
	out := make(map[string]bool, len(src))
	for _, d := range src {
		out[strings.ToLower(strings.TrimSpace(d))] = true
	}
	return out
}

// Settings is the singleton configuration document. Treat values as
// immutable: callers load a fresh copy per operation.
type Settings struct {
	Timezone                   string              `json:"timezone" yaml:"timezone"`
	CapacityMinutesPerDay      int                 `json:"capacity_minutes_per_day" yaml:"capacity_minutes_per_day"`
	DefaultTaskDurationMinutes int                 `json:"default_task_duration_minutes" yaml:"default_task_duration_minutes"`
	MorningEnd                 model.TimeOfDay     `json:"morning_end" yaml:"morning_end"`
	AfternoonEnd               model.TimeOfDay     `json:"afternoon_end" yaml:"afternoon_end"`
	UpcomingDays               int                 `json:"upcoming_days" yaml:"upcoming_days"`
	DuplicateThreshold         float64             `json:"duplicate_threshold" yaml:"duplicate_threshold"`
	DigestEnabled              bool                `json:"digest_enabled" yaml:"digest_enabled"`
	MorningDigestTime          model.TimeOfDay     `json:"morning_digest_time" yaml:"morning_digest_time"`
	EveningDigestTime          model.TimeOfDay     `json:"evening_digest_time" yaml:"evening_digest_time"`
	RankingWeights             RankingWeights      `json:"ranking_weights" yaml:"ranking_weights"`
	ClientMatchingRules        ClientMatchingRules `json:"client_matching_rules" yaml:"client_matching_rules"`
}

// DefaultWeights is the weight table seeded into a fresh store.
func DefaultWeights() RankingWeights {
	return RankingWeights{
		Overdue:                100,
		DueToday:               60,
		PriorityP0:             50,
		PriorityP1:             30,
		PriorityP2:             15,
		PriorityP3:             0,
		InProgress:             10,
		Pending:                -10,
		ClientWeightMultiplier: 1.0,
		Pinned:                 1000,
	}
}

// Defaults returns the settings document seeded into a fresh store.
func Defaults() Settings {
	return Settings{
		Timezone:                   "America/New_York",
		CapacityMinutesPerDay:      360,
		DefaultTaskDurationMinutes: 30,
		MorningEnd:                 model.TimeOfDay{Hour: 12},
		AfternoonEnd:               model.TimeOfDay{Hour: 17},
		UpcomingDays:               7,
		DuplicateThreshold:         0.85,
		DigestEnabled:              true,
		MorningDigestTime:          model.TimeOfDay{Hour: 6},
		EveningDigestTime:          model.TimeOfDay{Hour: 21},
		RankingWeights:             DefaultWeights(),
	}
}

// decodeBase is what a stored document is decoded onto: scalar defaults
// apply, but weights are all zero so an absent weight stays absent.
func decodeBase() Settings {
	s := Defaults()
	s.RankingWeights = RankingWeights{}
	return s
}

// Decode reads a JSON settings document, rejecting unknown keys.
func Decode(r io.Reader) (Settings, error) {
	s := decodeBase()
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return Settings{}, &model.ValidationError{Field: "settings", Msg: err.Error()}
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// DecodeYAML reads a YAML settings document, rejecting unknown keys.
func DecodeYAML(r io.Reader) (Settings, error) {
	s := decodeBase()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && err != io.EOF {
		return Settings{}, &model.ValidationError{Field: "settings", Msg: err.Error()}
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Parse decodes data as JSON, or as YAML when it does not look like a JSON
// object.
func Parse(data []byte) (Settings, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return Decode(bytes.NewReader(trimmed))
	}
	return DecodeYAML(bytes.NewReader(trimmed))
}

// Encode renders the document as indented JSON.
func (s Settings) Encode() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// Validate checks ranges and references. Errors are ValidationErrors.
func (s Settings) Validate() error {
	if _, err := time.LoadLocation(s.Timezone); err != nil || s.Timezone == "" {
		return model.Invalid("timezone", "unknown time zone %q", s.Timezone)
	}
	if s.CapacityMinutesPerDay <= 0 {
		return model.Invalid("capacity_minutes_per_day", "must be positive, got %d", s.CapacityMinutesPerDay)
	}
	if s.DefaultTaskDurationMinutes < 0 {
		return model.Invalid("default_task_duration_minutes", "must not be negative, got %d", s.DefaultTaskDurationMinutes)
	}
	if s.MorningEnd.Minutes() >= s.AfternoonEnd.Minutes() {
		return model.Invalid("morning_end", "must be before afternoon_end (%s >= %s)", s.MorningEnd, s.AfternoonEnd)
	}
	if s.UpcomingDays < 0 {
		return model.Invalid("upcoming_days", "must not be negative, got %d", s.UpcomingDays)
	}
	if s.DuplicateThreshold <= 0 || s.DuplicateThreshold > 1 {
		return model.Invalid("duplicate_threshold", "must be in (0, 1], got %v", s.DuplicateThreshold)
	}
	r := s.ClientMatchingRules
	for i, d := range r.Domains {
		if strings.TrimSpace(d.Domain) == "" || d.ClientID == "" {
			return model.Invalid("client_matching_rules.domains", "entry %d needs domain and client_id", i)
		}
	}
	for i, k := range r.Keywords {
		if strings.TrimSpace(k.Keyword) == "" || k.ClientID == "" {
			return model.Invalid("client_matching_rules.keywords", "entry %d needs keyword and client_id", i)
		}
	}
	for i, o := range r.Overrides {
		if o.EntityID == "" || o.ClientID == "" {
			return model.Invalid("client_matching_rules.overrides", "entry %d needs entity_id and client_id", i)
		}
	}
	return nil
}

// Location resolves the configured time zone.
func (s Settings) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Source yields the current settings document.
type Source interface {
	Settings(ctx context.Context) (Settings, error)
}

// Static is a Source that always returns the same document.
type Static Settings

func (s Static) Settings(context.Context) (Settings, error) { return Settings(s), nil }
