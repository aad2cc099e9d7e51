package tasks

import (
	"fmt"

	"github.com/KafClaw/clienthub/internal/model"
)

// CanTransition reports whether t may move to status to, and why not.
func CanTransition(t *model.Task, to model.TaskStatus) (bool, string) {
	if !to.Valid() {
		return false, fmt.Sprintf("unknown status %q", to)
	}
	if t.ArchivedAt != nil {
		return false, "task is archived"
	}
	if t.IsRecurring {
		return false, "recurring templates have no status of their own"
	}
	if to == model.StatusCompleted && t.Status != model.StatusCompleted {
		if open := t.IncompleteSubtasks(); len(open) > 0 {
			return false, fmt.Sprintf("%d subtask(s) not completed", len(open))
		}
	}
	return true, ""
}
