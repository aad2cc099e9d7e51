// Package ranking scores open tasks and composes the capacity-aware Today
// view. Everything here is pure: no I/O, no clocks, no mutation of inputs.
package ranking

import (
	"fmt"
	"sort"

	"github.com/KafClaw/clienthub/internal/model"
	"github.com/KafClaw/clienthub/internal/settings"
)

// Component is one factor of a task's score.
type Component struct {
	Factor string  `json:"factor"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// Breakdown explains a score.
type Breakdown struct {
	TaskID     string      `json:"task_id"`
	Total      float64     `json:"total"`
	Components []Component `json:"components"`
}

// Explain returns the per-factor contributions to the task's score on today.
// Factors whose weight contributes nothing are omitted.
func Explain(t *model.Task, w settings.RankingWeights, today model.Date) Breakdown {
	b := Breakdown{TaskID: t.ID, Components: []Component{}}
	add := func(factor string, score float64, reason string) {
		if score == 0 {
			return
		}
		b.Components = append(b.Components, Component{Factor: factor, Score: score, Reason: reason})
		b.Total += score
	}

	if t.PinnedToday {
		add("Pinned", w.Pinned, "Task is pinned for today")
	}
	if t.DueDate != nil {
		switch days := t.DueDate.Sub(today); {
		case days < 0:
			add("Overdue", w.Overdue, fmt.Sprintf("Overdue by %d day(s)", -days))
		case days == 0:
			add("Due Today", w.DueToday, "Due today")
		}
	}
	add("Priority", w.Priority(t.Priority), "Priority "+string(t.Priority))
	switch t.Status {
	case model.StatusInProgress:
		add("Status", w.InProgress, "In progress")
	case model.StatusPending:
		add("Status", w.Pending, "Pending/blocked")
	}
	if t.Client != nil && t.Client.DefaultPriorityWeight != 0 {
		add("Client Priority", w.ClientWeightMultiplier*float64(t.Client.DefaultPriorityWeight),
			fmt.Sprintf("%s has priority weight %d", t.Client.Name, t.Client.DefaultPriorityWeight))
	}
	return b
}

// Score is the total of Explain.
func Score(t *model.Task, w settings.RankingWeights, today model.Date) float64 {
	return Explain(t, w, today).Total
}

// Scored pairs a task with its score.
type Scored struct {
	Task  model.Task `json:"task"`
	Score float64    `json:"score"`
}

// Rank orders tasks by descending score, then ascending due date (undated
// last), creation time and id. The input slice is not modified.
func Rank(tasks []model.Task, w settings.RankingWeights, today model.Date) []model.Task {
	scored := RankScored(tasks, w, today)
	out := make([]model.Task, len(scored))
	for i := range scored {
		out[i] = scored[i].Task
	}
	return out
}

// RankScored is Rank keeping the scores.
func RankScored(tasks []model.Task, w settings.RankingWeights, today model.Date) []Scored {
	scored := make([]Scored, len(tasks))
	for i := range tasks {
		scored[i] = Scored{Task: tasks[i], Score: Score(&tasks[i], w, today)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return less(&scored[i], &scored[j])
	})
	return scored
}

func less(a, b *Scored) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	ad, bd := a.Task.DueDate, b.Task.DueDate
	switch {
	case ad != nil && bd == nil:
		return true
	case ad == nil && bd != nil:
		return false
	case ad != nil && bd != nil && *ad != *bd:
		return ad.Before(*bd)
	}
	if !a.Task.CreatedAt.Equal(b.Task.CreatedAt) {
		return a.Task.CreatedAt.Before(b.Task.CreatedAt)
	}
	return a.Task.ID < b.Task.ID
}
