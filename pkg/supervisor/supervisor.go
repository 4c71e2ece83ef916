package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/xiaden/nomarr/pkg/claims"
	"github.com/xiaden/nomarr/pkg/log"
	"github.com/xiaden/nomarr/pkg/queue"
	"github.com/xiaden/nomarr/pkg/storage"
	"github.com/xiaden/nomarr/pkg/types"
)

// Config holds supervisor configuration
type Config struct {
	// WorkerCounts maps queue type to the number of worker processes.
	WorkerCounts map[string]int

	HeartbeatStale    time.Duration
	HeartbeatInterval time.Duration
	MonitorInterval   time.Duration
	ShutdownGrace     time.Duration

	Backoff        []time.Duration
	RapidWindow    time.Duration
	RapidThreshold int

	RetentionAge time.Duration

	// Exe and BaseArgs form the child command line; the supervisor appends
	// the internal worker subcommand and its flags. Defaults to re-executing
	// the running binary.
	Exe      string
	BaseArgs []string
}

// managedWorker tracks one spawned child process
type managedWorker struct {
	queueType string
	workerID  int
	component string

	cmd    *exec.Cmd
	exitCh chan struct{} // closed once the process has been reaped

	mu         sync.Mutex
	exited     bool
	exitCode   int
	restarting bool
}

func (mw *managedWorker) exitState() (bool, int) {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return mw.exited, mw.exitCode
}

func (mw *managedWorker) setRestarting(v bool) {
	mw.mu.Lock()
	mw.restarting = v
	mw.mu.Unlock()
}

func (mw *managedWorker) isRestarting() bool {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return mw.restarting
}

// Supervisor manages the set of worker processes: spawn, observe, restart
// with policy, pause/resume, graceful shutdown. It is the only component that
// launches processes.
type Supervisor struct {
	cfg    Config
	store  storage.Store
	queue  *queue.Queue
	claims *claims.Manager
	logger zerolog.Logger

	mu      sync.Mutex
	workers map[string]*managedWorker
	stopped bool

	stopCh chan struct{}
	wg     sync.WaitGroup
	cron   *cron.Cron
}

// New creates a supervisor over an open store
func New(cfg Config, store storage.Store) (*Supervisor, error) {
	if cfg.Exe == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve executable: %w", err)
		}
		cfg.Exe = exe
	}
	if len(cfg.Backoff) == 0 {
		return nil, fmt.Errorf("backoff schedule must not be empty")
	}
	return &Supervisor{
		cfg:     cfg,
		store:   store,
		queue:   queue.NewQueue(store),
		claims:  claims.NewManager(store, cfg.HeartbeatStale),
		logger:  log.WithComponent("supervisor"),
		workers: make(map[string]*managedWorker),
		stopCh:  make(chan struct{}),
	}, nil
}

// Start truncates ephemeral state, spawns the configured worker plan and
// begins the monitor, the app heartbeat and the maintenance schedule.
func (s *Supervisor) Start() error {
	if err := s.truncateEphemeral(); err != nil {
		return err
	}
	// A previous unclean shutdown may have left the flag set.
	if err := s.store.PutKV(types.ControlShutdownKey, "false"); err != nil {
		return fmt.Errorf("failed to clear shutdown flag: %w", err)
	}

	if err := s.store.UpsertHealth(&types.Health{
		Component:     types.AppComponent,
		LastHeartbeat: types.NowMS(),
		Status:        types.HealthHealthy,
		PID:           os.Getpid(),
	}); err != nil {
		return fmt.Errorf("failed to register app health: %w", err)
	}

	s.mu.Lock()
	for queueType, count := range s.cfg.WorkerCounts {
		for i := 0; i < count; i++ {
			if err := s.spawnLocked(queueType, i, 0); err != nil {
				s.mu.Unlock()
				return err
			}
		}
	}
	s.mu.Unlock()

	s.wg.Add(2)
	go s.monitorLoop()
	go s.heartbeatLoop()

	s.cron = cron.New()
	if _, err := s.cron.AddFunc("@daily", s.retentionCleanup); err != nil {
		return fmt.Errorf("failed to schedule retention cleanup: %w", err)
	}
	if _, err := s.cron.AddFunc("@hourly", s.sweepClaims); err != nil {
		return fmt.Errorf("failed to schedule claim sweep: %w", err)
	}
	s.cron.Start()

	s.logger.Info().Interface("worker_counts", s.cfg.WorkerCounts).Msg("Supervisor started")
	return nil
}

// spawnLocked launches one worker process. Callers hold s.mu.
func (s *Supervisor) spawnLocked(queueType string, workerID, restartCount int) error {
	component := types.WorkerComponent(queueType, workerID)

	// Publish the health row before the child runs so the monitor never
	// observes a managed worker with no row.
	if err := s.store.UpsertHealth(&types.Health{
		Component:     component,
		LastHeartbeat: types.NowMS(),
		Status:        types.HealthStarting,
		RestartCount:  restartCount,
	}); err != nil {
		return fmt.Errorf("failed to init health for %s: %w", component, err)
	}

	args := append(append([]string{}, s.cfg.BaseArgs...),
		"worker", "--queue", queueType, "--id", strconv.Itoa(workerID))
	cmd := exec.Command(s.cfg.Exe, args...)
	cmd.Env = append(os.Environ(), "NOMARR_RESTART_COUNT="+strconv.Itoa(restartCount))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to spawn %s: %w", component, err)
	}

	mw := &managedWorker{
		queueType: queueType,
		workerID:  workerID,
		component: component,
		cmd:       cmd,
		exitCh:    make(chan struct{}),
	}
	s.workers[component] = mw

	go s.reap(mw)

	s.logger.Info().
		Str("component", component).
		Int("pid", cmd.Process.Pid).
		Int("restart_count", restartCount).
		Msg("Worker spawned")
	return nil
}

// reap waits for the child and records its exit code
func (s *Supervisor) reap(mw *managedWorker) {
	err := mw.cmd.Wait()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	mw.mu.Lock()
	mw.exited = true
	mw.exitCode = code
	mw.mu.Unlock()
	close(mw.exitCh)
}

// heartbeatLoop keeps the parent's own health row fresh
func (s *Supervisor) heartbeatLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.store.Heartbeat(types.AppComponent, types.HealthHealthy, 0, types.NowMS()); err != nil {
				s.logger.Warn().Err(err).Msg("App heartbeat failed")
			}
		case <-s.stopCh:
			return
		}
	}
}

func (s *Supervisor) retentionCleanup() {
	if _, err := s.queue.RetentionCleanup(s.cfg.RetentionAge.Milliseconds()); err != nil {
		s.logger.Error().Err(err).Msg("Retention cleanup failed")
	}
}

func (s *Supervisor) sweepClaims() {
	if n, err := s.claims.Sweep(); err != nil {
		s.logger.Error().Err(err).Msg("Claim sweep failed")
	} else if n > 0 {
		s.logger.Debug().Int("swept", n).Msg("Expired claims removed")
	}
}

// Pause sets the durable pause flag; workers heartbeat but stop claiming.
// Returns the previous state.
func (s *Supervisor) Pause() (bool, error) {
	return s.setPaused(true)
}

// Resume clears the pause flag. Returns the previous state.
func (s *Supervisor) Resume() (bool, error) {
	return s.setPaused(false)
}

func (s *Supervisor) setPaused(paused bool) (bool, error) {
	prev, _, err := s.store.GetKV(types.ControlPausedKey)
	if err != nil {
		return false, err
	}
	if err := s.store.PutKV(types.ControlPausedKey, strconv.FormatBool(paused)); err != nil {
		return false, err
	}
	s.logger.Info().Bool("paused", paused).Msg("Pause flag updated")
	return prev == "true", nil
}

// Paused reports the current pause flag
func (s *Supervisor) Paused() (bool, error) {
	flag, _, err := s.store.GetKV(types.ControlPausedKey)
	if err != nil {
		return false, err
	}
	return flag == "true", nil
}

// Stop performs the graceful shutdown sequence: set the shutdown flag,
// signal every worker, wait out the grace window, kill stragglers, mark
// rows stopped and truncate ephemeral state.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	workers := make([]*managedWorker, 0, len(s.workers))
	for _, mw := range s.workers {
		workers = append(workers, mw)
	}
	s.mu.Unlock()

	close(s.stopCh)
	if s.cron != nil {
		s.cron.Stop()
	}
	s.wg.Wait()

	if err := s.store.PutKV(types.ControlShutdownKey, "true"); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to set shutdown flag")
	}

	for _, mw := range workers {
		if exited, _ := mw.exitState(); exited {
			continue
		}
		if err := mw.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			s.logger.Warn().Err(err).Str("component", mw.component).Msg("Failed to signal worker")
		}
	}

	for _, mw := range workers {
		select {
		case <-mw.exitCh:
		case <-time.After(s.cfg.ShutdownGrace):
			s.logger.Warn().Str("component", mw.component).Msg("Worker did not stop in grace window, killing")
			if err := mw.cmd.Process.Kill(); err != nil {
				s.logger.Error().Err(err).Str("component", mw.component).Msg("Failed to kill worker")
			}
			<-mw.exitCh
		}
	}

	for _, mw := range workers {
		if err := s.store.SetHealthStatus(mw.component, types.HealthStopped, nil, ""); err != nil && err != storage.ErrNotFound {
			s.logger.Warn().Err(err).Str("component", mw.component).Msg("Failed to mark worker stopped")
		}
	}

	if err := s.truncateEphemeral(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to truncate ephemeral state")
	}
	s.logger.Info().Msg("Supervisor stopped")
}

func (s *Supervisor) truncateEphemeral() error {
	if err := s.store.TruncateHealth(); err != nil {
		return err
	}
	for _, prefix := range types.EphemeralKVPrefixes {
		if _, err := s.store.DeleteKVPrefix(prefix); err != nil {
			return err
		}
	}
	return nil
}

// Components returns the component names of every managed worker
func (s *Supervisor) Components() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.workers))
	for component := range s.workers {
		out = append(out, component)
	}
	return out
}
