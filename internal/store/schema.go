package store

// Schema is applied on every open; all statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS clients (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	default_priority_weight INTEGER NOT NULL DEFAULT 0
		CHECK (default_priority_weight BETWEEN 0 AND 20),
	health_status TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	archived_at TEXT
);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'NOT_STARTED',
	priority TEXT NOT NULL DEFAULT 'P2',
	due_date TEXT,
	due_time TEXT,
	timebox_bucket TEXT NOT NULL DEFAULT 'NONE',
	estimated_minutes INTEGER CHECK (estimated_minutes IS NULL OR estimated_minutes >= 0),
	pinned_today INTEGER NOT NULL DEFAULT 0,
	client_id TEXT REFERENCES clients(id),

	is_recurring INTEGER NOT NULL DEFAULT 0,
	recurrence_rule TEXT,
	recurrence_timezone TEXT,
	recurrence_anchor_date TEXT,
	next_occurrence_at TEXT,
	recurrence_end_date TEXT,
	recurrence_skip_weekends INTEGER NOT NULL DEFAULT 0,
	parent_recurring_task_id TEXT REFERENCES tasks(id),
	occurrence_date TEXT,

	source_type TEXT NOT NULL DEFAULT 'MANUAL',
	source_id TEXT,
	idempotency_key TEXT,
	last_edited_source TEXT NOT NULL DEFAULT 'MANUAL',
	last_edited_at TEXT,
	manually_edited INTEGER NOT NULL DEFAULT 0,
	manual_fields TEXT NOT NULL DEFAULT '[]',

	possible_duplicate INTEGER NOT NULL DEFAULT 0,
	duplicate_of TEXT,

	version INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	completed_at TEXT,
	archived_at TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_idempotency
	ON tasks(idempotency_key) WHERE idempotency_key IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_occurrence
	ON tasks(parent_recurring_task_id, occurrence_date) WHERE parent_recurring_task_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_tasks_source ON tasks(source_type, source_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_client ON tasks(client_id);
CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(due_date);
CREATE INDEX IF NOT EXISTS idx_tasks_next_occurrence
	ON tasks(next_occurrence_at) WHERE is_recurring = 1;

CREATE TABLE IF NOT EXISTS subtasks (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	title TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'NOT_STARTED',
	priority TEXT,
	order_rank INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	completed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_subtasks_task ON subtasks(task_id, order_rank);

CREATE TABLE IF NOT EXISTS calendar_events (
	id TEXT PRIMARY KEY,
	gcal_event_id TEXT UNIQUE NOT NULL,
	calendar_id TEXT,
	title TEXT NOT NULL DEFAULT '',
	description TEXT,
	location TEXT,
	meeting_link TEXT,
	start_time TEXT NOT NULL,
	end_time TEXT NOT NULL,
	all_day INTEGER NOT NULL DEFAULT 0,
	participants TEXT NOT NULL DEFAULT '[]',
	organizer_email TEXT,
	client_id TEXT REFERENCES clients(id),
	match_confidence INTEGER NOT NULL DEFAULT 0,
	match_method TEXT,
	etag TEXT,
	synced_at TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_start ON calendar_events(start_time);
CREATE INDEX IF NOT EXISTS idx_events_client ON calendar_events(client_id);

CREATE TABLE IF NOT EXISTS calls (
	id TEXT PRIMARY KEY,
	fireflies_id TEXT UNIQUE NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	summary TEXT,
	started_at TEXT NOT NULL,
	duration_minutes INTEGER NOT NULL DEFAULT 0,
	participants TEXT NOT NULL DEFAULT '[]',
	transcript_url TEXT,
	client_id TEXT REFERENCES clients(id),
	match_confidence INTEGER NOT NULL DEFAULT 0,
	match_method TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_calls_started ON calls(started_at);

CREATE TABLE IF NOT EXISTS activity_log (
	id TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	action_type TEXT NOT NULL,
	field_name TEXT,
	old_value TEXT,
	new_value TEXT,
	actor TEXT NOT NULL,
	timestamp TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activity_entity ON activity_log(entity_type, entity_id, timestamp);

CREATE TABLE IF NOT EXISTS settings (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	document TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS job_runs (
	job_name TEXT PRIMARY KEY,
	last_status TEXT NOT NULL,
	last_run_at TEXT NOT NULL,
	run_count INTEGER NOT NULL DEFAULT 0
);
`
