package storage

import (
	"errors"

	"github.com/xiaden/nomarr/pkg/types"
)

// ErrNotFound is returned when a keyed lookup matches no row.
var ErrNotFound = errors.New("not found")

// JobFilter selects jobs for List and Delete operations. Zero values mean
// "no constraint". Results are ordered by (created_at, id).
type JobFilter struct {
	Statuses []types.JobStatus
	Path     string
	WorkerID string
	Limit    int
	Offset   int
}

// Store defines the interface for the shared row store backing the scheduler
// core. Every process opens its own Store; handles never cross the spawn
// boundary.
//
// The Mark*/Reset* job operations are atomic compare-and-swap updates guarded
// on the current status (and owner where noted); the bool result reports
// whether the swap applied.
type Store interface {
	// Jobs
	InsertJob(job *types.Job) (int64, error)
	GetJob(id int64) (*types.Job, error)
	ListJobs(f JobFilter) ([]*types.Job, int, error)
	OldestPendingJob() (*types.Job, error)
	MarkJobRunning(id int64, workerID string, now int64) (bool, error)
	MarkJobDone(id int64, result []byte, now int64) (bool, error)
	MarkJobError(id int64, message string, now int64) (bool, error)
	ResetJob(id int64, workerID string) (bool, error)
	ResetErrorJobs() (int, error)
	RunningJobs() ([]*types.Job, error)
	DeleteJob(id int64) error
	DeleteJobsByStatus(statuses ...types.JobStatus) (int, error)
	DeleteFinishedBefore(cutoff int64) (int, error)
	CountJobsByStatus() (map[types.JobStatus]int, error)
	RecentJobDurations(limit int) ([]int64, error)

	// Health
	UpsertHealth(h *types.Health) error
	GetHealth(component string) (*types.Health, error)
	ListHealth() ([]*types.Health, error)
	Heartbeat(component string, status types.HealthStatus, currentJob int64, now int64) error
	SetHealthStatus(component string, status types.HealthStatus, exitCode *int, metadata string) error
	DeleteHealth(component string) error
	TruncateHealth() error

	// Worker KV
	PutKV(key, value string) error
	GetKV(key string) (string, bool, error)
	DeleteKV(key string) error
	DeleteKVPrefix(prefix string) (int, error)
	ListKVPrefix(prefix string) (map[string]string, error)

	// Claims
	AcquireClaim(resourceID, workerID string, now, leaseMS int64) (bool, error)
	ReleaseClaim(resourceID, workerID string) (bool, error)
	GetClaim(resourceID string) (*types.Claim, error)
	DeleteExpiredClaims(now int64) (int, error)

	// Restart policy
	GetRestartPolicy(component string) (*types.RestartPolicy, error)
	UpsertRestartPolicy(p *types.RestartPolicy) error
	DeleteRestartPolicy(component string) error

	// Calibration
	GetCalibration(head string) (*types.Calibration, error)
	UpsertCalibration(c *types.Calibration) error
	ListCalibrations() ([]*types.Calibration, error)
	DeleteCalibration(head string) error

	// WithTx runs fn against a transactional view of the store. The
	// transaction commits if fn returns nil and rolls back otherwise.
	WithTx(fn func(Store) error) error

	// Utility
	Close() error
}
