package worker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/xiaden/nomarr/pkg/calibration"
	"github.com/xiaden/nomarr/pkg/log"
	"github.com/xiaden/nomarr/pkg/metrics"
	"github.com/xiaden/nomarr/pkg/processor"
	"github.com/xiaden/nomarr/pkg/queue"
	"github.com/xiaden/nomarr/pkg/storage"
	"github.com/xiaden/nomarr/pkg/types"
)

// Config holds worker configuration. OpenStore must be invoked in the child
// process, never inherited: the storage handle, the model cache and any GPU
// context are per-process.
type Config struct {
	QueueType string
	WorkerID  int

	OpenStore func() (storage.Store, error)
	Processor processor.Processor

	PollInterval      time.Duration
	HeartbeatInterval time.Duration

	// RestartCount is carried across the spawn boundary by the supervisor so
	// a restarted worker republishes an accurate count in its health row.
	RestartCount int

	CalibrationMinSamples int

	RetryAttempts int
	RetryBackoff  time.Duration
}

// Worker claims and executes jobs in its own OS process, publishing
// heartbeat and per-job state through the shared store.
type Worker struct {
	cfg       Config
	component string
	logger    zerolog.Logger

	store storage.Store
	queue *queue.Queue
	cal   *calibration.Machine

	mu         sync.Mutex
	status     types.HealthStatus
	currentJob int64

	hbStop chan struct{}
	hbDone chan struct{}
}

// New creates a worker instance
func New(cfg Config) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	component := types.WorkerComponent(cfg.QueueType, cfg.WorkerID)
	return &Worker{
		cfg:       cfg,
		component: component,
		logger:    log.WithComponent(component),
		status:    types.HealthStarting,
		hbStop:    make(chan struct{}),
		hbDone:    make(chan struct{}),
	}
}

// Component returns the worker's health-table component name
func (w *Worker) Component() string {
	return w.component
}

// Run executes the worker loop until ctx is cancelled or the shutdown flag is
// set, and returns the process exit code.
func (w *Worker) Run(ctx context.Context) int {
	store, err := w.cfg.OpenStore()
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to open storage")
		return types.ExitRecoverable
	}
	defer store.Close()
	w.store = store
	w.queue = queue.NewQueue(store)
	w.cal = calibration.NewMachine(store, w.cfg.CalibrationMinSamples)

	if err := w.register(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to register health row")
		return types.ExitRecoverable
	}

	// Dedicated heartbeat goroutine: the heartbeat must not drift past twice
	// its interval even while the processor holds the main loop.
	go w.heartbeatLoop()
	defer func() {
		close(w.hbStop)
		<-w.hbDone
	}()

	w.setStatus(types.HealthHealthy, 0)
	w.logger.Info().Int("pid", os.Getpid()).Int("restart_count", w.cfg.RestartCount).Msg("Worker started")

	for {
		if done, code := w.checkShutdown(ctx); done {
			return code
		}

		if w.paused() {
			w.sleep(ctx, w.cfg.PollInterval)
			continue
		}

		job, err := w.claimNext()
		if err != nil {
			// Storage stayed down through the retry budget.
			w.logger.Error().Err(err).Msg("Storage unavailable, exiting for restart")
			w.exit(types.HealthCrashed, types.ExitRecoverable, "")
			return types.ExitRecoverable
		}
		if job == nil {
			w.sleep(ctx, w.cfg.PollInterval)
			continue
		}

		if code, fatal := w.process(ctx, job); fatal {
			return code
		}
	}
}

// register publishes the initial health row for this process
func (w *Worker) register() error {
	return w.store.UpsertHealth(&types.Health{
		Component:     w.component,
		LastHeartbeat: types.NowMS(),
		Status:        types.HealthStarting,
		PID:           os.Getpid(),
		RestartCount:  w.cfg.RestartCount,
	})
}

func (w *Worker) claimNext() (*types.Job, error) {
	var job *types.Job
	err := storage.WithRetry(w.cfg.RetryAttempts, w.cfg.RetryBackoff, func() error {
		var err error
		job, err = w.queue.ClaimNext(w.component)
		return err
	})
	return job, err
}

// process runs one claimed job. The bool result reports a worker-level fatal
// condition; job-level errors are recorded on the job and absorbed.
func (w *Worker) process(ctx context.Context, job *types.Job) (int, bool) {
	logger := w.logger.With().Int64("job_id", job.ID).Str("path", job.Path).Logger()
	w.setCurrentJob(job.ID)
	defer w.setCurrentJob(0)

	timer := metrics.NewTimer()
	result, err := w.cfg.Processor.Process(ctx, job.Path, job.Force)
	if err != nil {
		if code, fatal := processor.FatalCode(err); fatal {
			logger.Error().Err(err).Int("exit_code", code).Msg("Worker-level fatal error")
			w.exit(types.HealthFailed, code, err.Error())
			return code, true
		}
		logger.Warn().Err(err).Msg("Job failed")
		if mErr := w.queue.MarkError(job.ID, err.Error()); mErr != nil {
			logger.Error().Err(mErr).Msg("Failed to record job error")
		}
		return 0, false
	}

	kept, err := w.cal.Gate(result.Tags)
	if err != nil {
		logger.Warn().Err(err).Msg("Calibration gate failed")
		if mErr := w.queue.MarkError(job.ID, err.Error()); mErr != nil {
			logger.Error().Err(mErr).Msg("Failed to record job error")
		}
		return 0, false
	}

	blob, err := msgpack.Marshal(kept)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to encode result")
		if mErr := w.queue.MarkError(job.ID, err.Error()); mErr != nil {
			logger.Error().Err(mErr).Msg("Failed to record job error")
		}
		return 0, false
	}

	if err := w.queue.MarkDone(job.ID, blob); err != nil {
		logger.Error().Err(err).Msg("Failed to mark job done")
		return 0, false
	}
	timer.ObserveDuration(metrics.JobDuration)
	logger.Info().Int("tags", len(kept)).Msg("Job done")
	return 0, false
}

// checkShutdown observes the cooperative stop signals between jobs
func (w *Worker) checkShutdown(ctx context.Context) (bool, int) {
	select {
	case <-ctx.Done():
		return true, w.shutdown()
	default:
	}
	if flag, ok, _ := w.store.GetKV(types.ControlShutdownKey); ok && flag == "true" {
		return true, w.shutdown()
	}
	return false, 0
}

func (w *Worker) shutdown() int {
	w.logger.Info().Msg("Worker stopping")
	w.setStatus(types.HealthStopping, w.loadCurrentJob())
	w.exit(types.HealthStopped, types.ExitOK, "")
	return types.ExitOK
}

// exit publishes the terminal health state with its exit code
func (w *Worker) exit(status types.HealthStatus, code int, metadata string) {
	w.mu.Lock()
	w.status = status
	w.mu.Unlock()
	if err := w.store.SetHealthStatus(w.component, status, &code, metadata); err != nil {
		w.logger.Warn().Err(err).Msg("Failed to publish exit state")
	}
}

func (w *Worker) paused() bool {
	flag, ok, err := w.store.GetKV(types.ControlPausedKey)
	if err != nil {
		w.logger.Warn().Err(err).Msg("Failed to read pause flag")
		return false
	}
	return ok && flag == "true"
}

func (w *Worker) setStatus(status types.HealthStatus, currentJob int64) {
	w.mu.Lock()
	w.status = status
	w.currentJob = currentJob
	w.mu.Unlock()
	w.publishHeartbeat()
}

func (w *Worker) setCurrentJob(jobID int64) {
	w.mu.Lock()
	w.currentJob = jobID
	w.mu.Unlock()

	key := types.WorkerCurrentJobKey(w.cfg.QueueType, w.cfg.WorkerID)
	if jobID == 0 {
		if err := w.store.DeleteKV(key); err != nil {
			w.logger.Warn().Err(err).Msg("Failed to clear current job")
		}
	} else {
		if err := w.store.PutKV(key, fmt.Sprintf("%d", jobID)); err != nil {
			w.logger.Warn().Err(err).Msg("Failed to publish current job")
		}
	}
	w.publishHeartbeat()
}

func (w *Worker) loadCurrentJob() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentJob
}

// heartbeatLoop writes liveness on a fixed cadence regardless of what the
// main loop is doing.
func (w *Worker) heartbeatLoop() {
	defer close(w.hbDone)
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.publishHeartbeat()
		case <-w.hbStop:
			return
		}
	}
}

func (w *Worker) publishHeartbeat() {
	w.mu.Lock()
	status := w.status
	currentJob := w.currentJob
	w.mu.Unlock()

	err := w.store.Heartbeat(w.component, status, currentJob, types.NowMS())
	if err == storage.ErrNotFound {
		// Row truncated by a restarting supervisor; re-register.
		err = w.register()
	}
	if err != nil {
		w.logger.Warn().Err(err).Msg("Heartbeat failed")
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
