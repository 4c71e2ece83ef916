package storage

// Schema for the five core tables plus calibration. Applied idempotently at
// open; every process runs it, first writer wins.
const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	path          TEXT NOT NULL,
	force         INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	started_at    INTEGER,
	finished_at   INTEGER,
	worker_id     TEXT,
	error_message TEXT,
	result        BLOB
);
CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_worker ON jobs(worker_id);

CREATE TABLE IF NOT EXISTS health (
	component      TEXT PRIMARY KEY,
	last_heartbeat INTEGER NOT NULL,
	status         TEXT NOT NULL,
	pid            INTEGER NOT NULL DEFAULT 0,
	current_job    INTEGER,
	restart_count  INTEGER NOT NULL DEFAULT 0,
	last_restart   INTEGER,
	exit_code      INTEGER,
	metadata       TEXT
);
CREATE INDEX IF NOT EXISTS idx_health_status ON health(status);

CREATE TABLE IF NOT EXISTS worker_kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS claims (
	resource_id TEXT PRIMARY KEY,
	worker_id   TEXT NOT NULL,
	acquired_at INTEGER NOT NULL,
	lease_ms    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS restart_policy (
	component     TEXT PRIMARY KEY,
	restart_count INTEGER NOT NULL DEFAULT 0,
	last_restart  INTEGER NOT NULL DEFAULT 0,
	window_start  INTEGER NOT NULL DEFAULT 0,
	locked_until  INTEGER
);

CREATE TABLE IF NOT EXISTS calibration (
	head       TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	samples    INTEGER NOT NULL DEFAULT 0,
	threshold  REAL NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL
);
`
