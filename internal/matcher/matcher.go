// Package matcher resolves externally sourced entities (calendar events, call
// records, ingested tasks) to a client using the configured matching rules.
package matcher

import (
	"sort"
	"strings"

	"github.com/KafClaw/clienthub/internal/model"
	"github.com/KafClaw/clienthub/internal/settings"
)

const confidenceManual = 100

// Entity is the matchable view of an external record.
type Entity struct {
	// ExternalID is the gcal event id or fireflies id used by overrides.
	ExternalID   string
	Participants []string
	Text         string

	// Current assignment. A manual assignment is never re-matched.
	ClientID string
	Method   model.MatchMethod
}

// Result is the outcome of Match. An empty ClientID means no match;
// Ambiguous is set when participant domains implicate several clients.
type Result struct {
	ClientID   string            `json:"client_id,omitempty"`
	Confidence int               `json:"confidence"`
	Method     model.MatchMethod `json:"method,omitempty"`
	Ambiguous  bool              `json:"ambiguous,omitempty"`
	Candidates []string          `json:"candidates,omitempty"`
}

// Matched reports whether a client was resolved.
func (r Result) Matched() bool { return r.ClientID != "" }

// Match resolves e against rules: override, then participant domain, then
// keyword. The first hit wins. Ambiguous domains stop the search.
func Match(e Entity, rules settings.ClientMatchingRules) Result {
	if e.Method == model.MatchManual && e.ClientID != "" {
		return Result{ClientID: e.ClientID, Confidence: confidenceManual, Method: model.MatchManual}
	}

	if e.ExternalID != "" {
		for _, o := range rules.Overrides {
			if o.EntityID == e.ExternalID && o.ClientID != "" {
				return Result{ClientID: o.ClientID, Confidence: model.ConfidenceOverride, Method: model.MatchOverride}
			}
		}
	}

	if clients := domainClients(e.Participants, rules); len(clients) == 1 {
		return Result{ClientID: clients[0], Confidence: model.ConfidenceDomain, Method: model.MatchDomain}
	} else if len(clients) > 1 {
		return Result{Ambiguous: true, Candidates: clients}
	}

	text := strings.ToLower(e.Text)
	for _, k := range rules.Keywords {
		kw := strings.ToLower(strings.TrimSpace(k.Keyword))
		if kw == "" || k.ClientID == "" {
			continue
		}
		if strings.Contains(text, kw) {
			return Result{ClientID: k.ClientID, Confidence: model.ConfidenceKeyword, Method: model.MatchKeyword}
		}
	}
	return Result{}
}

// domainClients returns the sorted distinct clients implicated by the
// participants' non-free-mail domains.
func domainClients(participants []string, rules settings.ClientMatchingRules) []string {
	if len(participants) == 0 || len(rules.Domains) == 0 {
		return nil
	}
	byDomain := make(map[string]string, len(rules.Domains))
	for _, r := range rules.Domains {
		d := normalizeDomain(r.Domain)
		if d == "" || r.ClientID == "" {
			continue
		}
		if _, ok := byDomain[d]; !ok {
			byDomain[d] = r.ClientID
		}
	}
	deny := rules.Denylist()

	seen := map[string]bool{}
	var out []string
	for _, p := range participants {
		d := Domain(p)
		if d == "" || deny[d] {
			continue
		}
		if id, ok := byDomain[d]; ok && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Domain extracts the lower-cased domain of an address such as
// "a@b.com" or "Ann <a@b.com>". It returns "" when there is none.
func Domain(addr string) string {
	addr = strings.TrimSpace(addr)
	if i := strings.LastIndex(addr, "<"); i >= 0 {
		addr = strings.TrimSuffix(addr[i+1:], ">")
	}
	at := strings.LastIndex(addr, "@")
	if at < 0 || at == len(addr)-1 {
		return ""
	}
	return normalizeDomain(addr[at+1:])
}

func normalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	d = strings.TrimPrefix(d, "@")
	return strings.TrimSuffix(d, ".")
}

// ForEvent builds the matchable view of a calendar event. The organizer
// counts as a participant.
func ForEvent(e *model.CalendarEvent) Entity {
	participants := append([]string(nil), e.Participants...)
	if e.OrganizerEmail != "" {
		participants = append(participants, e.OrganizerEmail)
	}
	return Entity{
		ExternalID:   e.GCalEventID,
		Participants: participants,
		Text:         strings.TrimSpace(e.Title + "\n" + e.Description),
		ClientID:     e.ClientID,
		Method:       e.MatchMethod,
	}
}

// ForCall builds the matchable view of a call record.
func ForCall(c *model.Call) Entity {
	return Entity{
		ExternalID:   c.FirefliesID,
		Participants: c.Participants,
		Text:         strings.TrimSpace(c.Title + "\n" + c.Summary),
		ClientID:     c.ClientID,
		Method:       c.MatchMethod,
	}
}
