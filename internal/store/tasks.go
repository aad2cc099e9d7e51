package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/KafClaw/clienthub/internal/model"
)

const taskColumns = `id, title, description, status, priority, due_date, due_time, timebox_bucket,
	estimated_minutes, pinned_today, COALESCE(client_id,''),
	is_recurring, COALESCE(recurrence_rule,''), COALESCE(recurrence_timezone,''),
	recurrence_anchor_date, next_occurrence_at, recurrence_end_date, recurrence_skip_weekends,
	COALESCE(parent_recurring_task_id,''), occurrence_date,
	source_type, COALESCE(source_id,''), COALESCE(idempotency_key,''), last_edited_source,
	last_edited_at, manually_edited, manual_fields,
	possible_duplicate, COALESCE(duplicate_of,''),
	version, created_at, updated_at, completed_at, archived_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (*model.Task, error) {
	var t model.Task
	var dueDate, dueTime, anchor, nextAt, endDate, occDate sql.NullString
	var lastEditedAt, completedAt, archivedAt sql.NullString
	var estimate sql.NullInt64
	var manualFields, createdAt, updatedAt string
	err := r.Scan(
		&t.ID, &t.Title, &t.Description, &t.Status, &t.Priority, &dueDate, &dueTime, &t.TimeboxBucket,
		&estimate, &t.PinnedToday, &t.ClientID,
		&t.IsRecurring, &t.RecurrenceRule, &t.RecurrenceTimezone,
		&anchor, &nextAt, &endDate, &t.SkipWeekends,
		&t.ParentRecurringTaskID, &occDate,
		&t.SourceType, &t.SourceID, &t.IdempotencyKey, &t.LastEditedSource,
		&lastEditedAt, &t.ManuallyEdited, &manualFields,
		&t.PossibleDuplicate, &t.DuplicateOf,
		&t.Version, &createdAt, &updatedAt, &completedAt, &archivedAt,
	)
	if err != nil {
		return nil, err
	}
	t.DueDate = datePtr(dueDate)
	t.DueTime = clockPtr(dueTime)
	if estimate.Valid {
		v := int(estimate.Int64)
		t.EstimatedMinutes = &v
	}
	t.AnchorDate = datePtr(anchor)
	t.NextOccurrenceAt = timePtr(nextAt)
	t.EndDate = datePtr(endDate)
	t.OccurrenceDate = datePtr(occDate)
	t.LastEditedAt = timePtr(lastEditedAt)
	t.ManualFields = decodeList(manualFields)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	t.CompletedAt = timePtr(completedAt)
	t.ArchivedAt = timePtr(archivedAt)
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]model.Task, error) {
	tasks := []model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertTask(ctx context.Context, ex execer, t *model.Task) error {
	_, err := ex.ExecContext(ctx, `INSERT INTO tasks (
		id, title, description, status, priority, due_date, due_time, timebox_bucket,
		estimated_minutes, pinned_today, client_id,
		is_recurring, recurrence_rule, recurrence_timezone, recurrence_anchor_date,
		next_occurrence_at, recurrence_end_date, recurrence_skip_weekends,
		parent_recurring_task_id, occurrence_date,
		source_type, source_id, idempotency_key, last_edited_source, last_edited_at,
		manually_edited, manual_fields, possible_duplicate, duplicate_of,
		version, created_at, updated_at, completed_at, archived_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, t.Status, t.Priority, nullDate(t.DueDate), nullClock(t.DueTime), t.TimeboxBucket,
		nullInt(t.EstimatedMinutes), t.PinnedToday, nullString(t.ClientID),
		t.IsRecurring, nullString(t.RecurrenceRule), nullString(t.RecurrenceTimezone), nullDate(t.AnchorDate),
		nullTime(t.NextOccurrenceAt), nullDate(t.EndDate), t.SkipWeekends,
		nullString(t.ParentRecurringTaskID), nullDate(t.OccurrenceDate),
		t.SourceType, nullString(t.SourceID), nullString(t.IdempotencyKey), t.LastEditedSource, nullTime(t.LastEditedAt),
		t.ManuallyEdited, encodeList(t.ManualFields), t.PossibleDuplicate, nullString(t.DuplicateOf),
		t.Version, fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt), nullTime(t.CompletedAt), nullTime(t.ArchivedAt),
	)
	return err
}

func insertSubtask(ctx context.Context, ex execer, st *model.Subtask) error {
	_, err := ex.ExecContext(ctx, `INSERT INTO subtasks
		(id, task_id, title, status, priority, order_rank, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.TaskID, st.Title, st.Status, nullString(string(st.Priority)), st.OrderRank,
		fmtTime(st.CreatedAt), fmtTime(st.UpdatedAt), nullTime(st.CompletedAt))
	return err
}

// prepareTask fills ids, defaults and timestamps for a new row.
func (s *Store) prepareTask(t *model.Task) {
	now := s.now()
	if t.ID == "" {
		t.ID = newID()
	}
	if t.Status == "" {
		t.Status = model.StatusNotStarted
	}
	if t.Priority == "" {
		t.Priority = model.P2
	}
	if t.TimeboxBucket == "" {
		t.TimeboxBucket = model.TimeboxNone
	}
	if t.SourceType == "" {
		t.SourceType = model.SourceManual
	}
	if t.LastEditedSource == "" {
		t.LastEditedSource = t.SourceType
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	t.Version = 1
	for i := range t.Subtasks {
		st := &t.Subtasks[i]
		if st.ID == "" {
			st.ID = newID()
		}
		st.TaskID = t.ID
		if st.Status == "" {
			st.Status = model.StatusNotStarted
		}
		if st.OrderRank == 0 {
			st.OrderRank = i
		}
		st.CreatedAt = now
		st.UpdatedAt = now
	}
}

// CreateTask inserts a task with its subtasks and the given activity
// entries in one transaction. A clash on the idempotency key or the
// occurrence guard returns an error wrapping ErrDuplicate.
func (s *Store) CreateTask(ctx context.Context, t *model.Task, activity ...model.ActivityEntry) (*model.Task, error) {
	s.prepareTask(t)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := insertTask(ctx, tx, t); err != nil {
		return nil, wrapWrite("create task", err)
	}
	for i := range t.Subtasks {
		if err := insertSubtask(ctx, tx, &t.Subtasks[i]); err != nil {
			return nil, wrapWrite("create subtask", err)
		}
	}
	for _, e := range activity {
		if e.EntityID == "" {
			e.EntityID = t.ID
		}
		if err := appendActivityTx(ctx, tx, e); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create task: %w", err)
	}
	return s.GetTask(ctx, t.ID)
}

// GetTask returns a task with subtasks and client hydrated, or
// model.ErrNotFound.
func (s *Store) GetTask(ctx context.Context, id string) (*model.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if err := s.hydrate(ctx, []*model.Task{t}); err != nil {
		return nil, err
	}
	return t, nil
}

// GetTaskByIdempotencyKey returns nil, nil when no task carries key.
func (s *Store) GetTaskByIdempotencyKey(ctx context.Context, key string) (*model.Task, error) {
	if key == "" {
		return nil, nil
	}
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE idempotency_key = ?`, key))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task by idempotency key: %w", err)
	}
	if err := s.hydrate(ctx, []*model.Task{t}); err != nil {
		return nil, err
	}
	return t, nil
}

// GetTaskBySource returns nil, nil when no task has the (source_type,
// source_id) pair.
func (s *Store) GetTaskBySource(ctx context.Context, sourceType model.SourceType, sourceID string) (*model.Task, error) {
	if sourceType == "" || sourceID == "" {
		return nil, nil
	}
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE source_type = ? AND source_id = ? ORDER BY created_at LIMIT 1`, sourceType, sourceID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task by source: %w", err)
	}
	if err := s.hydrate(ctx, []*model.Task{t}); err != nil {
		return nil, err
	}
	return t, nil
}

// TaskFilter narrows ListTasks. Zero values mean "no constraint", except
// that templates, completed and archived rows are excluded unless asked for.
type TaskFilter struct {
	ClientID          string
	Unassigned        bool
	Statuses          []model.TaskStatus
	DueFrom           *model.Date
	DueTo             *model.Date
	CompletedFrom     *time.Time
	CompletedTo       *time.Time
	ParentID          string
	PossibleDuplicate bool
	IncludeCompleted  bool
	IncludeArchived   bool
	IncludeTemplates  bool
	Limit             int
}

func (s *Store) ListTasks(ctx context.Context, f TaskFilter) ([]model.Task, error) {
	var where []string
	var args []any
	if f.ClientID != "" {
		where = append(where, "client_id = ?")
		args = append(args, f.ClientID)
	} else if f.Unassigned {
		where = append(where, "client_id IS NULL")
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, st)
		}
		where = append(where, "status IN ("+strings.Join(marks, ",")+")")
	}
	if f.DueFrom != nil {
		where = append(where, "due_date >= ?")
		args = append(args, f.DueFrom.String())
	}
	if f.DueTo != nil {
		where = append(where, "due_date <= ?")
		args = append(args, f.DueTo.String())
	}
	if f.CompletedFrom != nil {
		where = append(where, "completed_at >= ?")
		args = append(args, fmtTime(*f.CompletedFrom))
	}
	if f.CompletedTo != nil {
		where = append(where, "completed_at < ?")
		args = append(args, fmtTime(*f.CompletedTo))
	}
	if f.ParentID != "" {
		where = append(where, "parent_recurring_task_id = ?")
		args = append(args, f.ParentID)
	}
	if f.PossibleDuplicate {
		where = append(where, "possible_duplicate = 1")
	}
	if !f.IncludeCompleted && f.CompletedFrom == nil && f.CompletedTo == nil {
		where = append(where, "status != 'COMPLETED'")
	}
	if !f.IncludeArchived {
		where = append(where, "archived_at IS NULL")
	}
	if !f.IncludeTemplates {
		where = append(where, "is_recurring = 0")
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	tasks, err := scanTasks(rows)
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("scan tasks: %w", err)
	}
	ptrs := make([]*model.Task, len(tasks))
	for i := range tasks {
		ptrs[i] = &tasks[i]
	}
	if err := s.hydrate(ctx, ptrs); err != nil {
		return nil, err
	}
	return tasks, nil
}

// ListOpenTasks returns every non-template task that is neither completed
// nor archived.
func (s *Store) ListOpenTasks(ctx context.Context) ([]model.Task, error) {
	return s.ListTasks(ctx, TaskFilter{})
}

// ListDueTemplates returns active recurring templates whose next occurrence
// is at or before now.
func (s *Store) ListDueTemplates(ctx context.Context, now time.Time) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE is_recurring = 1 AND archived_at IS NULL
		  AND next_occurrence_at IS NOT NULL AND next_occurrence_at <= ?
		ORDER BY next_occurrence_at, id`, fmtTime(now))
	if err != nil {
		return nil, fmt.Errorf("list due templates: %w", err)
	}
	defer rows.Close()
	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, fmt.Errorf("scan templates: %w", err)
	}
	ptrs := make([]*model.Task, len(tasks))
	for i := range tasks {
		ptrs[i] = &tasks[i]
	}
	return tasks, s.hydrateSubtasks(ctx, ptrs)
}

// UpdateTask writes every mutable column of t if the stored version still
// equals t.Version, and appends activity in the same transaction. On success
// t.Version is advanced. A stale version returns model.ErrConflict.
func (s *Store) UpdateTask(ctx context.Context, t *model.Task, activity ...model.ActivityEntry) error {
	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE tasks SET
		title = ?, description = ?, status = ?, priority = ?, due_date = ?, due_time = ?,
		timebox_bucket = ?, estimated_minutes = ?, pinned_today = ?, client_id = ?,
		is_recurring = ?, recurrence_rule = ?, recurrence_timezone = ?, recurrence_anchor_date = ?,
		next_occurrence_at = ?, recurrence_end_date = ?, recurrence_skip_weekends = ?,
		source_type = ?, source_id = ?, idempotency_key = ?,
		last_edited_source = ?, last_edited_at = ?, manually_edited = ?, manual_fields = ?,
		possible_duplicate = ?, duplicate_of = ?,
		completed_at = ?, archived_at = ?,
		version = version + 1, updated_at = ?
	WHERE id = ? AND version = ?`,
		t.Title, t.Description, t.Status, t.Priority, nullDate(t.DueDate), nullClock(t.DueTime),
		t.TimeboxBucket, nullInt(t.EstimatedMinutes), t.PinnedToday, nullString(t.ClientID),
		t.IsRecurring, nullString(t.RecurrenceRule), nullString(t.RecurrenceTimezone), nullDate(t.AnchorDate),
		nullTime(t.NextOccurrenceAt), nullDate(t.EndDate), t.SkipWeekends,
		t.SourceType, nullString(t.SourceID), nullString(t.IdempotencyKey),
		t.LastEditedSource, nullTime(t.LastEditedAt), t.ManuallyEdited, encodeList(t.ManualFields),
		t.PossibleDuplicate, nullString(t.DuplicateOf),
		nullTime(t.CompletedAt), nullTime(t.ArchivedAt),
		fmtTime(now),
		t.ID, t.Version,
	)
	if err != nil {
		return wrapWrite("update task", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update task %s at version %d: %w", t.ID, t.Version, model.ErrConflict)
	}
	for _, e := range activity {
		if e.EntityID == "" {
			e.EntityID = t.ID
		}
		if err := appendActivityTx(ctx, tx, e); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update task: %w", err)
	}
	t.Version++
	t.UpdatedAt = now
	return nil
}

// AdvanceTemplate moves a template's next_occurrence_at (nil once the series
// has ended) with a version compare-and-swap.
func (s *Store) AdvanceTemplate(ctx context.Context, id string, version int64, next *time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks
		SET next_occurrence_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND is_recurring = 1`,
		nullTime(next), fmtTime(s.now()), id, version)
	if err != nil {
		return fmt.Errorf("advance template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("advance template %s at version %d: %w", id, version, model.ErrConflict)
	}
	return nil
}

// hydrate attaches subtasks and clients.
func (s *Store) hydrate(ctx context.Context, tasks []*model.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	if err := s.hydrateSubtasks(ctx, tasks); err != nil {
		return err
	}
	ids := map[string]bool{}
	for _, t := range tasks {
		if t.ClientID != "" {
			ids[t.ClientID] = true
		}
	}
	if len(ids) == 0 {
		return nil
	}
	clients, err := s.clientsByID(ctx, ids)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if c, ok := clients[t.ClientID]; ok {
			t.Client = &c
		}
	}
	return nil
}

func (s *Store) hydrateSubtasks(ctx context.Context, tasks []*model.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	byID := make(map[string]*model.Task, len(tasks))
	marks := make([]string, 0, len(tasks))
	args := make([]any, 0, len(tasks))
	for _, t := range tasks {
		t.Subtasks = nil
		byID[t.ID] = t
		marks = append(marks, "?")
		args = append(args, t.ID)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+subtaskColumns+` FROM subtasks
		WHERE task_id IN (`+strings.Join(marks, ",")+`) ORDER BY task_id, order_rank, created_at`, args...)
	if err != nil {
		return fmt.Errorf("list subtasks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		st, err := scanSubtask(rows)
		if err != nil {
			return fmt.Errorf("scan subtask: %w", err)
		}
		if t := byID[st.TaskID]; t != nil {
			t.Subtasks = append(t.Subtasks, *st)
		}
	}
	return rows.Err()
}
