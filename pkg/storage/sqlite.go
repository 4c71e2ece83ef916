package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/xiaden/nomarr/pkg/types"
)

// dbtx is the subset of database/sql shared by *sql.DB and *sql.Tx, so the
// same query code serves both the plain store and transactional views.
type dbtx interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// SQLiteStore implements Store using a SQLite database in WAL mode. Workers,
// the supervisor and the broker each open their own SQLiteStore against the
// same file; WAL plus a busy timeout gives serializable single-row CAS across
// processes.
type SQLiteStore struct {
	q  dbtx
	db *sql.DB // nil on transactional views
}

// Open creates (if necessary) and opens the database at dbPath.
func Open(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL mode for cross-process concurrency; busy_timeout so contending
	// writers queue instead of failing with SQLITE_BUSY.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{q: db, db: db}, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// WithTx runs fn in a transaction. Nested calls run in the enclosing
// transaction.
func (s *SQLiteStore) WithTx(fn func(Store) error) error {
	if s.db == nil {
		return fn(s)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(&SQLiteStore{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (after: %w)", rbErr, err)
		}
		return err
	}
	return tx.Commit()
}

// Job operations

const jobColumns = `id, path, force, status, created_at,
	COALESCE(started_at, 0), COALESCE(finished_at, 0),
	COALESCE(worker_id, ''), COALESCE(error_message, ''), result`

func scanJob(row interface{ Scan(...interface{}) error }) (*types.Job, error) {
	var j types.Job
	var force int
	err := row.Scan(&j.ID, &j.Path, &force, &j.Status, &j.CreatedAt,
		&j.StartedAt, &j.FinishedAt, &j.WorkerID, &j.ErrorMessage, &j.Result)
	if err != nil {
		return nil, err
	}
	j.Force = force != 0
	return &j, nil
}

func (s *SQLiteStore) InsertJob(job *types.Job) (int64, error) {
	force := 0
	if job.Force {
		force = 1
	}
	res, err := s.q.Exec(
		`INSERT INTO jobs (path, force, status, created_at) VALUES (?, ?, ?, ?)`,
		job.Path, force, string(job.Status), job.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read job id: %w", err)
	}
	job.ID = id
	return id, nil
}

func (s *SQLiteStore) GetJob(id int64) (*types.Job, error) {
	job, err := scanJob(s.q.QueryRow(
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %d: %w", id, err)
	}
	return job, nil
}

func buildJobWhere(f JobFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if len(f.Statuses) > 0 {
		ph := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			ph[i] = "?"
			args = append(args, string(st))
		}
		conds = append(conds, "status IN ("+strings.Join(ph, ", ")+")")
	}
	if f.Path != "" {
		conds = append(conds, "path = ?")
		args = append(args, f.Path)
	}
	if f.WorkerID != "" {
		conds = append(conds, "worker_id = ?")
		args = append(args, f.WorkerID)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *SQLiteStore) ListJobs(f JobFilter) ([]*types.Job, int, error) {
	where, args := buildJobWhere(f)

	var total int
	if err := s.q.QueryRow(`SELECT COUNT(*) FROM jobs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs` + where + ` ORDER BY created_at, id`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", f.Limit, f.Offset)
	}
	rows, err := s.q.Query(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, total, rows.Err()
}

func (s *SQLiteStore) OldestPendingJob() (*types.Job, error) {
	job, err := scanJob(s.q.QueryRow(
		`SELECT ` + jobColumns + ` FROM jobs WHERE status = 'pending'
		 ORDER BY created_at, id LIMIT 1`))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select pending job: %w", err)
	}
	return job, nil
}

func (s *SQLiteStore) MarkJobRunning(id int64, workerID string, now int64) (bool, error) {
	res, err := s.q.Exec(
		`UPDATE jobs SET status = 'running', started_at = ?, worker_id = ?
		 WHERE id = ? AND status = 'pending'`,
		now, workerID, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim job %d: %w", id, err)
	}
	return applied(res)
}

func (s *SQLiteStore) MarkJobDone(id int64, result []byte, now int64) (bool, error) {
	res, err := s.q.Exec(
		`UPDATE jobs SET status = 'done', finished_at = ?, result = ?
		 WHERE id = ? AND status = 'running'`,
		now, result, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark job %d done: %w", id, err)
	}
	return applied(res)
}

func (s *SQLiteStore) MarkJobError(id int64, message string, now int64) (bool, error) {
	res, err := s.q.Exec(
		`UPDATE jobs SET status = 'error', finished_at = ?, error_message = ?
		 WHERE id = ? AND status = 'running'`,
		now, message, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark job %d error: %w", id, err)
	}
	return applied(res)
}

// ResetJob returns a running job to pending, guarded on the owning worker so
// a late completion and a supervisor reset cannot both win. created_at is
// preserved: the job re-queues at its original position.
func (s *SQLiteStore) ResetJob(id int64, workerID string) (bool, error) {
	res, err := s.q.Exec(
		`UPDATE jobs SET status = 'pending', started_at = NULL, worker_id = NULL
		 WHERE id = ? AND status = 'running' AND worker_id = ?`,
		id, workerID)
	if err != nil {
		return false, fmt.Errorf("failed to reset job %d: %w", id, err)
	}
	return applied(res)
}

func (s *SQLiteStore) ResetErrorJobs() (int, error) {
	res, err := s.q.Exec(
		`UPDATE jobs SET status = 'pending', started_at = NULL, finished_at = NULL,
		 worker_id = NULL, error_message = NULL WHERE status = 'error'`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset error jobs: %w", err)
	}
	return affected(res)
}

func (s *SQLiteStore) RunningJobs() ([]*types.Job, error) {
	jobs, _, err := s.ListJobs(JobFilter{Statuses: []types.JobStatus{types.JobRunning}})
	return jobs, err
}

func (s *SQLiteStore) DeleteJob(id int64) error {
	res, err := s.q.Exec(`DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteJobsByStatus(statuses ...types.JobStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	where, args := buildJobWhere(JobFilter{Statuses: statuses})
	res, err := s.q.Exec(`DELETE FROM jobs`+where, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete jobs by status: %w", err)
	}
	return affected(res)
}

func (s *SQLiteStore) DeleteFinishedBefore(cutoff int64) (int, error) {
	res, err := s.q.Exec(
		`DELETE FROM jobs WHERE status IN ('done', 'error') AND finished_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete finished jobs: %w", err)
	}
	return affected(res)
}

func (s *SQLiteStore) CountJobsByStatus() (map[types.JobStatus]int, error) {
	rows, err := s.q.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[types.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[types.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

// RecentJobDurations returns wall durations of the most recently finished
// done jobs, newest first. Used for the queue ETA estimate.
func (s *SQLiteStore) RecentJobDurations(limit int) ([]int64, error) {
	rows, err := s.q.Query(
		`SELECT finished_at - started_at FROM jobs
		 WHERE status = 'done' AND started_at IS NOT NULL AND finished_at IS NOT NULL
		 ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read job durations: %w", err)
	}
	defer rows.Close()

	var durations []int64
	for rows.Next() {
		var d int64
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		durations = append(durations, d)
	}
	return durations, rows.Err()
}

// Health operations

const healthColumns = `component, last_heartbeat, status, pid,
	COALESCE(current_job, 0), restart_count, COALESCE(last_restart, 0),
	exit_code, COALESCE(metadata, '')`

func scanHealth(row interface{ Scan(...interface{}) error }) (*types.Health, error) {
	var h types.Health
	var exitCode sql.NullInt64
	err := row.Scan(&h.Component, &h.LastHeartbeat, &h.Status, &h.PID,
		&h.CurrentJob, &h.RestartCount, &h.LastRestart, &exitCode, &h.Metadata)
	if err != nil {
		return nil, err
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		h.ExitCode = &code
	}
	return &h, nil
}

func (s *SQLiteStore) UpsertHealth(h *types.Health) error {
	var exitCode interface{}
	if h.ExitCode != nil {
		exitCode = *h.ExitCode
	}
	_, err := s.q.Exec(
		`INSERT INTO health (component, last_heartbeat, status, pid, current_job,
			restart_count, last_restart, exit_code, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(component) DO UPDATE SET
			last_heartbeat = excluded.last_heartbeat,
			status = excluded.status,
			pid = excluded.pid,
			current_job = excluded.current_job,
			restart_count = excluded.restart_count,
			last_restart = excluded.last_restart,
			exit_code = excluded.exit_code,
			metadata = excluded.metadata`,
		h.Component, h.LastHeartbeat, string(h.Status), h.PID, nullableInt64(h.CurrentJob),
		h.RestartCount, nullableInt64(h.LastRestart), exitCode, h.Metadata)
	if err != nil {
		return fmt.Errorf("failed to upsert health %s: %w", h.Component, err)
	}
	return nil
}

func (s *SQLiteStore) GetHealth(component string) (*types.Health, error) {
	h, err := scanHealth(s.q.QueryRow(
		`SELECT `+healthColumns+` FROM health WHERE component = ?`, component))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get health %s: %w", component, err)
	}
	return h, nil
}

func (s *SQLiteStore) ListHealth() ([]*types.Health, error) {
	rows, err := s.q.Query(`SELECT ` + healthColumns + ` FROM health ORDER BY component`)
	if err != nil {
		return nil, fmt.Errorf("failed to list health: %w", err)
	}
	defer rows.Close()

	var records []*types.Health
	for rows.Next() {
		h, err := scanHealth(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, h)
	}
	return records, rows.Err()
}

// Heartbeat refreshes the liveness fields of an existing row without touching
// restart bookkeeping. Returns ErrNotFound when the row is gone (a restarting
// supervisor truncated it) so the owner can re-register.
func (s *SQLiteStore) Heartbeat(component string, status types.HealthStatus, currentJob int64, now int64) error {
	res, err := s.q.Exec(
		`UPDATE health SET last_heartbeat = ?, status = ?, current_job = ?
		 WHERE component = ?`,
		now, string(status), nullableInt64(currentJob), component)
	if err != nil {
		return fmt.Errorf("failed to heartbeat %s: %w", component, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) SetHealthStatus(component string, status types.HealthStatus, exitCode *int, metadata string) error {
	var code interface{}
	if exitCode != nil {
		code = *exitCode
	}
	query := `UPDATE health SET status = ?, exit_code = COALESCE(?, exit_code)`
	args := []interface{}{string(status), code}
	if metadata != "" {
		query += `, metadata = ?`
		args = append(args, metadata)
	}
	query += ` WHERE component = ?`
	args = append(args, component)

	res, err := s.q.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to set health status %s: %w", component, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteHealth(component string) error {
	_, err := s.q.Exec(`DELETE FROM health WHERE component = ?`, component)
	if err != nil {
		return fmt.Errorf("failed to delete health %s: %w", component, err)
	}
	return nil
}

func (s *SQLiteStore) TruncateHealth() error {
	_, err := s.q.Exec(`DELETE FROM health`)
	if err != nil {
		return fmt.Errorf("failed to truncate health: %w", err)
	}
	return nil
}

// Worker KV operations

func (s *SQLiteStore) PutKV(key, value string) error {
	_, err := s.q.Exec(
		`INSERT INTO worker_kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to put kv %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) GetKV(key string) (string, bool, error) {
	var value string
	err := s.q.QueryRow(`SELECT value FROM worker_kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get kv %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) DeleteKV(key string) error {
	_, err := s.q.Exec(`DELETE FROM worker_kv WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete kv %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteKVPrefix(prefix string) (int, error) {
	res, err := s.q.Exec(`DELETE FROM worker_kv WHERE key LIKE ? ESCAPE '\'`, likePrefix(prefix))
	if err != nil {
		return 0, fmt.Errorf("failed to delete kv prefix %s: %w", prefix, err)
	}
	return affected(res)
}

func (s *SQLiteStore) ListKVPrefix(prefix string) (map[string]string, error) {
	rows, err := s.q.Query(`SELECT key, value FROM worker_kv WHERE key LIKE ? ESCAPE '\'`, likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("failed to list kv prefix %s: %w", prefix, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Claim operations

// AcquireClaim takes the lease if the resource is unclaimed, the existing
// lease has expired, or workerID already holds it (which restamps the lease).
// Guarded updates keep it atomic against concurrent acquirers in other
// processes.
func (s *SQLiteStore) AcquireClaim(resourceID, workerID string, now, leaseMS int64) (bool, error) {
	res, err := s.q.Exec(
		`INSERT INTO claims (resource_id, worker_id, acquired_at, lease_ms)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(resource_id) DO UPDATE SET
			worker_id = excluded.worker_id,
			acquired_at = excluded.acquired_at,
			lease_ms = excluded.lease_ms
		 WHERE claims.worker_id = excluded.worker_id
			OR ? - claims.acquired_at >= claims.lease_ms`,
		resourceID, workerID, now, leaseMS, now)
	if err != nil {
		return false, fmt.Errorf("failed to acquire claim %s: %w", resourceID, err)
	}
	return applied(res)
}

func (s *SQLiteStore) ReleaseClaim(resourceID, workerID string) (bool, error) {
	res, err := s.q.Exec(
		`DELETE FROM claims WHERE resource_id = ? AND worker_id = ?`,
		resourceID, workerID)
	if err != nil {
		return false, fmt.Errorf("failed to release claim %s: %w", resourceID, err)
	}
	return applied(res)
}

func (s *SQLiteStore) GetClaim(resourceID string) (*types.Claim, error) {
	var c types.Claim
	err := s.q.QueryRow(
		`SELECT resource_id, worker_id, acquired_at, lease_ms FROM claims WHERE resource_id = ?`,
		resourceID).Scan(&c.ResourceID, &c.WorkerID, &c.AcquiredAt, &c.LeaseMS)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get claim %s: %w", resourceID, err)
	}
	return &c, nil
}

func (s *SQLiteStore) DeleteExpiredClaims(now int64) (int, error) {
	res, err := s.q.Exec(`DELETE FROM claims WHERE ? - acquired_at >= lease_ms`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired claims: %w", err)
	}
	return affected(res)
}

// Restart policy operations

func (s *SQLiteStore) GetRestartPolicy(component string) (*types.RestartPolicy, error) {
	var p types.RestartPolicy
	var locked sql.NullInt64
	err := s.q.QueryRow(
		`SELECT component, restart_count, last_restart, window_start, locked_until
		 FROM restart_policy WHERE component = ?`, component).
		Scan(&p.Component, &p.RestartCount, &p.LastRestart, &p.WindowStart, &locked)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get restart policy %s: %w", component, err)
	}
	if locked.Valid {
		p.LockedUntil = locked.Int64
	}
	return &p, nil
}

func (s *SQLiteStore) UpsertRestartPolicy(p *types.RestartPolicy) error {
	_, err := s.q.Exec(
		`INSERT INTO restart_policy (component, restart_count, last_restart, window_start, locked_until)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(component) DO UPDATE SET
			restart_count = excluded.restart_count,
			last_restart = excluded.last_restart,
			window_start = excluded.window_start,
			locked_until = excluded.locked_until`,
		p.Component, p.RestartCount, p.LastRestart, p.WindowStart, nullableInt64(p.LockedUntil))
	if err != nil {
		return fmt.Errorf("failed to upsert restart policy %s: %w", p.Component, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteRestartPolicy(component string) error {
	_, err := s.q.Exec(`DELETE FROM restart_policy WHERE component = ?`, component)
	if err != nil {
		return fmt.Errorf("failed to delete restart policy %s: %w", component, err)
	}
	return nil
}

// Calibration operations

func (s *SQLiteStore) GetCalibration(head string) (*types.Calibration, error) {
	var c types.Calibration
	err := s.q.QueryRow(
		`SELECT head, state, samples, threshold, updated_at FROM calibration WHERE head = ?`,
		head).Scan(&c.Head, &c.State, &c.Samples, &c.Threshold, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get calibration %s: %w", head, err)
	}
	return &c, nil
}

func (s *SQLiteStore) UpsertCalibration(c *types.Calibration) error {
	_, err := s.q.Exec(
		`INSERT INTO calibration (head, state, samples, threshold, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(head) DO UPDATE SET
			state = excluded.state,
			samples = excluded.samples,
			threshold = excluded.threshold,
			updated_at = excluded.updated_at`,
		c.Head, string(c.State), c.Samples, c.Threshold, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert calibration %s: %w", c.Head, err)
	}
	return nil
}

func (s *SQLiteStore) ListCalibrations() ([]*types.Calibration, error) {
	rows, err := s.q.Query(`SELECT head, state, samples, threshold, updated_at FROM calibration ORDER BY head`)
	if err != nil {
		return nil, fmt.Errorf("failed to list calibrations: %w", err)
	}
	defer rows.Close()

	var out []*types.Calibration
	for rows.Next() {
		var c types.Calibration
		if err := rows.Scan(&c.Head, &c.State, &c.Samples, &c.Threshold, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteCalibration(head string) error {
	_, err := s.q.Exec(`DELETE FROM calibration WHERE head = ?`, head)
	if err != nil {
		return fmt.Errorf("failed to delete calibration %s: %w", head, err)
	}
	return nil
}

// helpers

func applied(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func affected(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func nullableInt64(v int64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

// likePrefix escapes LIKE metacharacters so prefixes containing '_' or '%'
// match literally.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
