package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/KafClaw/clienthub/internal/model"
)

const subtaskColumns = `id, task_id, title, status, COALESCE(priority,''), order_rank,
	created_at, updated_at, completed_at`

func scanSubtask(r rowScanner) (*model.Subtask, error) {
	var st model.Subtask
	var createdAt, updatedAt string
	var completedAt sql.NullString
	if err := r.Scan(&st.ID, &st.TaskID, &st.Title, &st.Status, &st.Priority, &st.OrderRank,
		&createdAt, &updatedAt, &completedAt); err != nil {
		return nil, err
	}
	st.CreatedAt = parseTime(createdAt)
	st.UpdatedAt = parseTime(updatedAt)
	st.CompletedAt = timePtr(completedAt)
	return &st, nil
}

// bumpTask advances the parent's version so a status transition that read
// the old subtask set loses its compare-and-swap.
func bumpTask(ctx context.Context, ex execer, taskID, now string) error {
	res, err := ex.ExecContext(ctx, `UPDATE tasks SET version = version + 1, updated_at = ? WHERE id = ?`, now, taskID)
	if err != nil {
		return fmt.Errorf("bump task version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", taskID, model.ErrNotFound)
	}
	return nil
}

// AddSubtask appends a subtask to an existing task.
func (s *Store) AddSubtask(ctx context.Context, st *model.Subtask, actor model.Actor) (*model.Subtask, error) {
	now := s.now()
	if st.ID == "" {
		st.ID = newID()
	}
	if st.Status == "" {
		st.Status = model.StatusNotStarted
	}
	st.CreatedAt = now
	st.UpdatedAt = now
	if st.Status == model.StatusCompleted && st.CompletedAt == nil {
		st.CompletedAt = &now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := bumpTask(ctx, tx, st.TaskID, fmtTime(now)); err != nil {
		return nil, err
	}
	if st.OrderRank == 0 {
		var max sql.NullInt64
		if err := tx.QueryRowContext(ctx, `SELECT MAX(order_rank) FROM subtasks WHERE task_id = ?`, st.TaskID).Scan(&max); err != nil {
			return nil, fmt.Errorf("next order rank: %w", err)
		}
		if max.Valid {
			st.OrderRank = int(max.Int64) + 1
		}
	}
	if err := insertSubtask(ctx, tx, st); err != nil {
		return nil, wrapWrite("add subtask", err)
	}
	if err := appendActivityTx(ctx, tx, model.ActivityEntry{
		EntityType: model.EntityTask,
		EntityID:   st.TaskID,
		ActionType: model.ActionSubtaskAdded,
		NewValue:   st.Title,
		Actor:      actor,
		Timestamp:  now,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit add subtask: %w", err)
	}
	return st, nil
}

func (s *Store) GetSubtask(ctx context.Context, id string) (*model.Subtask, error) {
	st, err := scanSubtask(s.db.QueryRowContext(ctx, `SELECT `+subtaskColumns+` FROM subtasks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("subtask %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get subtask: %w", err)
	}
	return st, nil
}

// SetSubtaskStatus changes a subtask's status and stamps completed_at.
func (s *Store) SetSubtaskStatus(ctx context.Context, id string, status model.TaskStatus, actor model.Actor) (*model.Subtask, error) {
	st, err := s.GetSubtask(ctx, id)
	if err != nil {
		return nil, err
	}
	if st.Status == status {
		return st, nil
	}
	now := s.now()
	old := st.Status
	st.Status = status
	st.UpdatedAt = now
	if status == model.StatusCompleted {
		st.CompletedAt = &now
	} else {
		st.CompletedAt = nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE subtasks SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		st.Status, nullTime(st.CompletedAt), fmtTime(now), st.ID); err != nil {
		return nil, fmt.Errorf("update subtask: %w", err)
	}
	if err := bumpTask(ctx, tx, st.TaskID, fmtTime(now)); err != nil {
		return nil, err
	}
	action := model.ActionStatusChanged
	if status == model.StatusCompleted {
		action = model.ActionSubtaskCompleted
	}
	if err := appendActivityTx(ctx, tx, model.ActivityEntry{
		EntityType: model.EntitySubtask,
		EntityID:   st.ID,
		ActionType: action,
		FieldName:  model.FieldStatus,
		OldValue:   string(old),
		NewValue:   string(status),
		Actor:      actor,
		Timestamp:  now,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit subtask status: %w", err)
	}
	return st, nil
}
