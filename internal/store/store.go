// Package store persists tasks, clients, calendar events, calls, the
// activity log and the settings document in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/KafClaw/clienthub/internal/model"
	"github.com/KafClaw/clienthub/internal/settings"
)

const (
	// DriverModernc is the pure-Go driver and the default.
	DriverModernc = "sqlite"
	// DriverCGO is mattn/go-sqlite3.
	DriverCGO = "sqlite3"
)

// ErrDuplicate wraps UNIQUE constraint violations.
var ErrDuplicate = model.ErrDuplicate

// timeLayout is fixed width so stored instants compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000Z"

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at dbPath using the pure-Go
// driver.
func Open(dbPath string) (*Store, error) {
	return OpenWithDriver(DriverModernc, dbPath)
}

// OpenWithDriver opens the database with the named driver ("sqlite" or
// "sqlite3").
func OpenWithDriver(driver, dbPath string) (*Store, error) {
	var dsn string
	switch driver {
	case "", DriverModernc:
		driver = DriverModernc
		dsn = "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	case DriverCGO:
		dsn = "file:" + dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	default:
		return nil, fmt.Errorf("unknown sqlite driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store db: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	s := &Store{db: db, now: time.Now}
	if err := s.seedSettings(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	return s.db.Close()
}

// SetClock replaces the store's clock. Used by tests.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func newID() string { return uuid.NewString() }

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func wrapWrite(op string, err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrDuplicate, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func nullDate(d *model.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullClock(t *model.TimeOfDay) any {
	if t == nil {
		return nil
	}
	return t.String()
}

// nullString maps "" to NULL so UNIQUE indexes ignore empty values.
func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func timePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func datePtr(ns sql.NullString) *model.Date {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	d, err := model.ParseDate(ns.String)
	if err != nil {
		return nil
	}
	return &d
}

func clockPtr(ns sql.NullString) *model.TimeOfDay {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := model.ParseTimeOfDay(ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func encodeList(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeList(s string) []string {
	var out []string
	if s == "" {
		return nil
	}
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

func (s *Store) seedSettings() error {
	doc, err := settings.Defaults().Encode()
	if err != nil {
		return fmt.Errorf("encode default settings: %w", err)
	}
	_, err = s.db.Exec(`INSERT OR IGNORE INTO settings (id, document, updated_at) VALUES (1, ?, ?)`,
		string(doc), fmtTime(s.now()))
	if err != nil {
		return fmt.Errorf("seed settings: %w", err)
	}
	return nil
}

// Settings loads the current settings document. It satisfies
// settings.Source, so every caller gets a freshly decoded value.
func (s *Store) Settings(ctx context.Context) (settings.Settings, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM settings WHERE id = 1`).Scan(&doc)
	if err == sql.ErrNoRows {
		return settings.Defaults(), nil
	}
	if err != nil {
		return settings.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return settings.Decode(strings.NewReader(doc))
}

// SaveSettings validates and replaces the settings document.
func (s *Store) SaveSettings(ctx context.Context, st settings.Settings, actor model.Actor) error {
	if err := st.Validate(); err != nil {
		return err
	}
	doc, err := st.Encode()
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO settings (id, document, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		string(doc), fmtTime(now)); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	if err := appendActivityTx(ctx, tx, model.ActivityEntry{
		EntityType: model.EntitySettings,
		EntityID:   "settings",
		ActionType: model.ActionUpdated,
		Actor:      actor,
		Timestamp:  now,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// JobRun is the last recorded execution of a scheduled job.
type JobRun struct {
	JobName    string    `json:"job_name"`
	LastStatus string    `json:"last_status"`
	LastRunAt  time.Time `json:"last_run_at"`
	RunCount   int       `json:"run_count"`
}

// RecordJobRun upserts the last run of a scheduled job.
func (s *Store) RecordJobRun(ctx context.Context, jobName, status string, runAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO job_runs (job_name, last_status, last_run_at, run_count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(job_name) DO UPDATE SET
			last_status = excluded.last_status,
			last_run_at = excluded.last_run_at,
			run_count = job_runs.run_count + 1`,
		jobName, status, fmtTime(runAt))
	if err != nil {
		return fmt.Errorf("record job run: %w", err)
	}
	return nil
}

// GetJobRun returns nil, nil when the job never ran.
func (s *Store) GetJobRun(ctx context.Context, jobName string) (*JobRun, error) {
	var r JobRun
	var runAt string
	err := s.db.QueryRowContext(ctx, `SELECT job_name, last_status, last_run_at, run_count
		FROM job_runs WHERE job_name = ?`, jobName).Scan(&r.JobName, &r.LastStatus, &runAt, &r.RunCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job run: %w", err)
	}
	r.LastRunAt = parseTime(runAt)
	return &r, nil
}

func (s *Store) ListJobRuns(ctx context.Context) ([]JobRun, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT job_name, last_status, last_run_at, run_count
		FROM job_runs ORDER BY job_name`)
	if err != nil {
		return nil, fmt.Errorf("list job runs: %w", err)
	}
	defer rows.Close()
	runs := []JobRun{}
	for rows.Next() {
		var r JobRun
		var runAt string
		if err := rows.Scan(&r.JobName, &r.LastStatus, &runAt, &r.RunCount); err != nil {
			return nil, err
		}
		r.LastRunAt = parseTime(runAt)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
