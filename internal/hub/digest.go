package hub

import (
	"context"
	"time"

	"github.com/KafClaw/clienthub/internal/model"
	"github.com/KafClaw/clienthub/internal/ranking"
	"github.com/KafClaw/clienthub/internal/store"
)

// Digest is the data behind the morning and evening summaries.
type Digest struct {
	Today     ranking.TodayView `json:"today"`
	Completed []model.Task      `json:"completed"`
}

// Digest composes the Today view at now and the tasks completed earlier on
// the same local day.
func (h *Service) Digest(ctx context.Context, now time.Time) (Digest, error) {
	view, err := h.ComposeToday(ctx, now)
	if err != nil {
		return Digest{}, err
	}
	st, err := h.settings.Settings(ctx)
	if err != nil {
		return Digest{}, err
	}
	dayStart := view.Date.At(model.TimeOfDay{}, st.Location())
	dayEnd := view.Date.AddDays(1).At(model.TimeOfDay{}, st.Location())
	completed, err := h.store.ListTasks(ctx, store.TaskFilter{CompletedFrom: &dayStart, CompletedTo: &dayEnd})
	if err != nil {
		return Digest{}, err
	}
	return Digest{Today: view, Completed: completed}, nil
}
