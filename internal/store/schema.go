package store

// schema mirrors the logical schema of spec §6 verbatim; embedding columns
// are BLOBs (IEEE-754 float32 encoding, see codec.go) the way
// internal/memory/backend/sqlitevec/backend.go stored them in the teacher
// repo.
const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	trigger TEXT NOT NULL,
	source TEXT
);
CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);

CREATE TABLE IF NOT EXISTS journal (
	id TEXT PRIMARY KEY,
	timestamp INTEGER NOT NULL,
	topic TEXT NOT NULL,
	content TEXT NOT NULL,
	embedding BLOB,
	dimension INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_journal_timestamp ON journal(timestamp);

CREATE TABLE IF NOT EXISTS state_files (
	name TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS topics (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	embedding BLOB,
	dimension INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS reminders (
	id TEXT PRIMARY KEY,
	description TEXT NOT NULL,
	payload TEXT NOT NULL,
	cron_expression TEXT,
	scheduled_time INTEGER,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS summaries (
	id TEXT PRIMARY KEY,
	timestamp INTEGER NOT NULL,
	content TEXT NOT NULL,
	notes TEXT,
	key_decisions_json TEXT,
	open_threads_json TEXT,
	learned_patterns_json TEXT,
	from_timestamp INTEGER NOT NULL,
	to_timestamp INTEGER NOT NULL,
	message_count INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_summaries_timestamp ON summaries(timestamp);

CREATE TABLE IF NOT EXISTS coding_task_state (
	repo_url TEXT PRIMARY KEY,
	branch TEXT NOT NULL,
	session_id TEXT NOT NULL,
	last_task TEXT NOT NULL,
	last_timestamp INTEGER NOT NULL
);
`
