package ingest

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/KafClaw/clienthub/internal/model"
)

// NormalizeTitle lower-cases s, turns punctuation into spaces and collapses
// runs of whitespace.
func NormalizeTitle(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}

// Similarity returns the Levenshtein ratio of the normalized titles, from 0
// (nothing in common) to 1 (identical).
func Similarity(a, b string) float64 {
	a, b = NormalizeTitle(a), NormalizeTitle(b)
	if a == b {
		return 1
	}
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	dmp := diffmatchpatch.New()
	dist := dmp.DiffLevenshtein(dmp.DiffMain(a, b, false))
	ratio := 1 - float64(dist)/float64(longest)
	if ratio < 0 {
		return 0
	}
	return ratio
}

// findDuplicate returns the most similar open task for the same client
// whose due date is within a day of due, or nil.
func findDuplicate(open []model.Task, clientID, title string, due *model.Date, threshold float64) (*model.Task, float64) {
	var best *model.Task
	bestScore := 0.0
	for i := range open {
		c := &open[i]
		if c.IsRecurring || !c.IsOpen() || c.ClientID != clientID || !dueWithinDay(c.DueDate, due) {
			continue
		}
		if score := Similarity(c.Title, title); score >= threshold && score > bestScore {
			best, bestScore = c, score
		}
	}
	return best, bestScore
}

func dueWithinDay(a, b *model.Date) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	d := a.Sub(*b)
	return d >= -1 && d <= 1
}
