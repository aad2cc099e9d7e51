package store

import (
	"context"
	"fmt"

	"github.com/KafClaw/clienthub/internal/model"
)

func appendActivityTx(ctx context.Context, ex execer, e model.ActivityEntry) error {
	if e.ID == "" {
		e.ID = newID()
	}
	_, err := ex.ExecContext(ctx, `INSERT INTO activity_log
		(id, entity_type, entity_id, action_type, field_name, old_value, new_value, actor, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.EntityType, e.EntityID, e.ActionType, nullString(e.FieldName),
		nullString(e.OldValue), nullString(e.NewValue), e.Actor, fmtTime(e.Timestamp))
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// AppendActivity writes audit entries outside any entity transaction.
func (s *Store) AppendActivity(ctx context.Context, entries ...model.ActivityEntry) error {
	for _, e := range entries {
		if e.Timestamp.IsZero() {
			e.Timestamp = s.now()
		}
		if err := appendActivityTx(ctx, s.db, e); err != nil {
			return err
		}
	}
	return nil
}

// ListActivity returns the audit trail of one entity, oldest first.
func (s *Store) ListActivity(ctx context.Context, entityType model.EntityType, entityID string) ([]model.ActivityEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, entity_type, entity_id, action_type,
		COALESCE(field_name,''), COALESCE(old_value,''), COALESCE(new_value,''), actor, timestamp
		FROM activity_log WHERE entity_type = ? AND entity_id = ?
		ORDER BY timestamp, rowid`, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	entries := []model.ActivityEntry{}
	for rows.Next() {
		var e model.ActivityEntry
		var ts string
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.ActionType,
			&e.FieldName, &e.OldValue, &e.NewValue, &e.Actor, &ts); err != nil {
			return nil, err
		}
		e.Timestamp = parseTime(ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
