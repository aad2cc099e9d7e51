package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/KafClaw/clienthub/internal/model"
)

const clientColumns = `id, name, status, default_priority_weight, COALESCE(health_status,''),
	created_at, updated_at, archived_at`

func scanClient(r rowScanner) (*model.Client, error) {
	var c model.Client
	var createdAt, updatedAt string
	var archivedAt sql.NullString
	if err := r.Scan(&c.ID, &c.Name, &c.Status, &c.DefaultPriorityWeight, &c.HealthStatus,
		&createdAt, &updatedAt, &archivedAt); err != nil {
		return nil, err
	}
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	c.ArchivedAt = timePtr(archivedAt)
	return &c, nil
}

func (s *Store) CreateClient(ctx context.Context, c *model.Client) (*model.Client, error) {
	if strings.TrimSpace(c.Name) == "" {
		return nil, model.Invalid("name", "required")
	}
	if c.DefaultPriorityWeight < 0 || c.DefaultPriorityWeight > model.MaxClientWeight {
		return nil, model.Invalid("default_priority_weight", "must be between 0 and %d", model.MaxClientWeight)
	}
	now := s.now()
	if c.ID == "" {
		c.ID = newID()
	}
	if c.Status == "" {
		c.Status = model.ClientActive
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `INSERT INTO clients
		(id, name, status, default_priority_weight, health_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Status, c.DefaultPriorityWeight, nullString(string(c.HealthStatus)),
		fmtTime(now), fmtTime(now))
	if err != nil {
		return nil, wrapWrite("create client", err)
	}
	return c, nil
}

func (s *Store) GetClient(ctx context.Context, id string) (*model.Client, error) {
	c, err := scanClient(s.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("client %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get client: %w", err)
	}
	return c, nil
}

// ListClients returns clients ordered by name; archived ones only on request.
func (s *Store) ListClients(ctx context.Context, includeArchived bool) ([]model.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients`
	if !includeArchived {
		query += ` WHERE archived_at IS NULL`
	}
	query += ` ORDER BY name, id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()
	clients := []model.Client{}
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, *c)
	}
	return clients, rows.Err()
}

// UpdateClient rewrites name, status, weight and health.
func (s *Store) UpdateClient(ctx context.Context, c *model.Client) error {
	if c.DefaultPriorityWeight < 0 || c.DefaultPriorityWeight > model.MaxClientWeight {
		return model.Invalid("default_priority_weight", "must be between 0 and %d", model.MaxClientWeight)
	}
	now := s.now()
	res, err := s.db.ExecContext(ctx, `UPDATE clients SET name = ?, status = ?, default_priority_weight = ?,
		health_status = ?, archived_at = ?, updated_at = ? WHERE id = ?`,
		c.Name, c.Status, c.DefaultPriorityWeight, nullString(string(c.HealthStatus)),
		nullTime(c.ArchivedAt), fmtTime(now), c.ID)
	if err != nil {
		return fmt.Errorf("update client: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("client %s: %w", c.ID, model.ErrNotFound)
	}
	c.UpdatedAt = now
	return nil
}

func (s *Store) clientsByID(ctx context.Context, ids map[string]bool) (map[string]model.Client, error) {
	marks := make([]string, 0, len(ids))
	args := make([]any, 0, len(ids))
	for id := range ids {
		marks = append(marks, "?")
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id IN (`+strings.Join(marks, ",")+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("load clients: %w", err)
	}
	defer rows.Close()
	out := make(map[string]model.Client, len(ids))
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out[c.ID] = *c
	}
	return out, rows.Err()
}
