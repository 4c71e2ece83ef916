package queue

import (
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/xiaden/nomarr/pkg/log"
	"github.com/xiaden/nomarr/pkg/metrics"
	"github.com/xiaden/nomarr/pkg/storage"
	"github.com/xiaden/nomarr/pkg/types"
)

// claimAttempts bounds how many lost races a single ClaimNext call absorbs
// before reporting an empty queue and letting the caller's poll loop retry.
const claimAttempts = 8

// Queue is the durable pool of tagging work. It guarantees at-most-one
// concurrent execution per job via the atomic claim protocol in storage.
type Queue struct {
	store  storage.Store
	logger zerolog.Logger
}

// NewQueue creates a queue over an open store
func NewQueue(store storage.Store) *Queue {
	return &Queue{
		store:  store,
		logger: log.WithComponent("queue"),
	}
}

// Enqueue inserts a pending job for path. No deduplication: callers own
// idempotence.
func (q *Queue) Enqueue(path string, force bool) (int64, error) {
	job := &types.Job{
		Path:      path,
		Force:     force,
		Status:    types.JobPending,
		CreatedAt: types.NowMS(),
	}
	id, err := q.store.InsertJob(job)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", path, err)
	}

	// Seed the ephemeral job state so the broker reports the enqueue.
	q.putJobState(id, path, types.JobPending)
	metrics.JobsEnqueuedTotal.Inc()

	q.logger.Debug().Int64("job_id", id).Str("path", path).Bool("force", force).Msg("Job enqueued")
	return id, nil
}

// EnqueueAll inserts one pending job per path and returns the created ids
func (q *Queue) EnqueueAll(paths []string, force bool) ([]int64, error) {
	ids := make([]int64, 0, len(paths))
	for _, path := range paths {
		id, err := q.Enqueue(path, force)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ClaimNext atomically claims the oldest pending job for workerID. Returns
// (nil, nil) when the queue is empty or every candidate was lost to a
// concurrent claimer.
func (q *Queue) ClaimNext(workerID string) (*types.Job, error) {
	for i := 0; i < claimAttempts; i++ {
		job, err := q.store.OldestPendingJob()
		if err != nil {
			return nil, fmt.Errorf("claim next: %w", err)
		}
		if job == nil {
			return nil, nil
		}

		now := types.NowMS()
		ok, err := q.store.MarkJobRunning(job.ID, workerID, now)
		if err != nil {
			return nil, fmt.Errorf("claim job %d: %w", job.ID, err)
		}
		if !ok {
			// Lost the race; another worker got there first.
			continue
		}

		job.Status = types.JobRunning
		job.StartedAt = now
		job.WorkerID = workerID
		q.putJobState(job.ID, job.Path, types.JobRunning)
		return job, nil
	}
	return nil, nil
}

// MarkDone transitions a running job to done. A job no longer in running is
// left untouched: this covers the race where the supervisor reset a stuck job
// while a late worker completion was in flight.
func (q *Queue) MarkDone(jobID int64, result []byte) error {
	ok, err := q.store.MarkJobDone(jobID, result, types.NowMS())
	if err != nil {
		return fmt.Errorf("mark done %d: %w", jobID, err)
	}
	if !ok {
		q.logger.Warn().Int64("job_id", jobID).Msg("mark_done on a job not in running; ignoring")
		return nil
	}
	if err := q.store.PutKV(types.JobStatusKey(jobID), string(types.JobDone)); err != nil {
		q.logger.Warn().Err(err).Int64("job_id", jobID).Msg("Failed to publish job state")
	}
	metrics.JobsCompletedTotal.Inc()
	return nil
}

// MarkError transitions a running job to error. Same no-op rule as MarkDone.
func (q *Queue) MarkError(jobID int64, message string) error {
	ok, err := q.store.MarkJobError(jobID, message, types.NowMS())
	if err != nil {
		return fmt.Errorf("mark error %d: %w", jobID, err)
	}
	if !ok {
		q.logger.Warn().Int64("job_id", jobID).Msg("mark_error on a job not in running; ignoring")
		return nil
	}
	if err := q.store.PutKV(types.JobStatusKey(jobID), string(types.JobError)); err != nil {
		q.logger.Warn().Err(err).Int64("job_id", jobID).Msg("Failed to publish job state")
	}
	metrics.JobsFailedTotal.Inc()
	return nil
}

// ResetStuck returns running jobs whose owning worker's heartbeat is older
// than thresholdMS to pending, preserving created_at so a reclaimed job keeps
// its place in the queue. Returns the number of jobs reset.
func (q *Queue) ResetStuck(now, thresholdMS int64) (int, error) {
	running, err := q.store.RunningJobs()
	if err != nil {
		return 0, fmt.Errorf("reset stuck: %w", err)
	}
	if len(running) == 0 {
		return 0, nil
	}

	records, err := q.store.ListHealth()
	if err != nil {
		return 0, fmt.Errorf("reset stuck: %w", err)
	}
	heartbeats := make(map[string]int64, len(records))
	for _, h := range records {
		heartbeats[h.Component] = h.LastHeartbeat
	}

	reset := 0
	for _, job := range running {
		beat, known := heartbeats[job.WorkerID]
		if known && now-beat <= thresholdMS {
			continue
		}
		ok, err := q.store.ResetJob(job.ID, job.WorkerID)
		if err != nil {
			return reset, fmt.Errorf("reset job %d: %w", job.ID, err)
		}
		if ok {
			q.putJobState(job.ID, job.Path, types.JobPending)
			q.logger.Warn().
				Int64("job_id", job.ID).
				Str("worker_id", job.WorkerID).
				Msg("Reset stuck job to pending")
			reset++
		}
	}
	return reset, nil
}

// ResetErrors bulk-transitions every errored job back to pending, clearing
// error fields. Returns the number of jobs reset.
func (q *Queue) ResetErrors() (int, error) {
	errored, _, err := q.store.ListJobs(storage.JobFilter{Statuses: []types.JobStatus{types.JobError}})
	if err != nil {
		return 0, fmt.Errorf("reset errors: %w", err)
	}
	n, err := q.store.ResetErrorJobs()
	if err != nil {
		return 0, fmt.Errorf("reset errors: %w", err)
	}
	for _, job := range errored {
		q.putJobState(job.ID, job.Path, types.JobPending)
	}
	return n, nil
}

// Get returns a job by id
func (q *Queue) Get(jobID int64) (*types.Job, error) {
	return q.store.GetJob(jobID)
}

// List returns jobs matching the filter plus the unpaginated total
func (q *Queue) List(f storage.JobFilter) ([]*types.Job, int, error) {
	return q.store.ListJobs(f)
}

// Delete removes one job and its ephemeral state
func (q *Queue) Delete(jobID int64) error {
	if err := q.store.DeleteJob(jobID); err != nil {
		return err
	}
	q.dropJobState(jobID)
	return nil
}

// DeleteByStatus removes every job in the given statuses
func (q *Queue) DeleteByStatus(statuses ...types.JobStatus) (int, error) {
	doomed, _, err := q.store.ListJobs(storage.JobFilter{Statuses: statuses})
	if err != nil {
		return 0, err
	}
	n, err := q.store.DeleteJobsByStatus(statuses...)
	if err != nil {
		return 0, err
	}
	for _, job := range doomed {
		q.dropJobState(job.ID)
	}
	return n, nil
}

// RetentionCleanup deletes finished jobs older than ageMS
func (q *Queue) RetentionCleanup(ageMS int64) (int, error) {
	cutoff := types.NowMS() - ageMS
	n, err := q.store.DeleteFinishedBefore(cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention cleanup: %w", err)
	}
	if n > 0 {
		q.logger.Info().Int("deleted", n).Msg("Retention cleanup removed finished jobs")
	}
	return n, nil
}

// Stats computes aggregate counts plus a rough completion estimate.
// liveWorkers scales the ETA; pass 0 when unknown.
func (q *Queue) Stats(liveWorkers int) (types.QueueStats, error) {
	counts, err := q.store.CountJobsByStatus()
	if err != nil {
		return types.QueueStats{}, fmt.Errorf("queue stats: %w", err)
	}
	stats := types.QueueStats{
		Pending: counts[types.JobPending],
		Running: counts[types.JobRunning],
		Done:    counts[types.JobDone],
		Error:   counts[types.JobError],
	}

	durations, err := q.store.RecentJobDurations(50)
	if err != nil {
		return stats, fmt.Errorf("queue stats: %w", err)
	}
	if len(durations) > 0 {
		var sum int64
		for _, d := range durations {
			sum += d
		}
		stats.AvgMS = sum / int64(len(durations))
		if liveWorkers < 1 {
			liveWorkers = 1
		}
		stats.EtaMS = int64(stats.Pending+stats.Running) * stats.AvgMS / int64(liveWorkers)
	}
	return stats, nil
}

func (q *Queue) putJobState(jobID int64, path string, status types.JobStatus) {
	if err := q.store.PutKV(types.JobStatusKey(jobID), string(status)); err != nil {
		q.logger.Warn().Err(err).Int64("job_id", jobID).Msg("Failed to publish job state")
		return
	}
	if err := q.store.PutKV(types.JobPathKey(jobID), path); err != nil {
		q.logger.Warn().Err(err).Int64("job_id", jobID).Msg("Failed to publish job path")
	}
}

func (q *Queue) dropJobState(jobID int64) {
	prefix := "job:" + strconv.FormatInt(jobID, 10) + ":"
	if _, err := q.store.DeleteKVPrefix(prefix); err != nil {
		q.logger.Warn().Err(err).Int64("job_id", jobID).Msg("Failed to drop job state")
	}
}
