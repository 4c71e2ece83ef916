package supervisor

import (
	"fmt"
	"time"

	"github.com/xiaden/nomarr/pkg/metrics"
	"github.com/xiaden/nomarr/pkg/storage"
	"github.com/xiaden/nomarr/pkg/types"
)

// handleDead applies the restart policy to one dead worker.
func (s *Supervisor) handleDead(mw *managedWorker, h *types.Health, now int64) {
	// A stale worker whose process is somehow still running gets killed
	// before its slot is respawned; two processes must never share a
	// component id.
	if exited, _ := mw.exitState(); !exited {
		s.logger.Warn().Str("component", mw.component).Msg("Worker stale but process alive, killing")
		if err := mw.cmd.Process.Kill(); err != nil {
			s.logger.Error().Err(err).Str("component", mw.component).Msg("Failed to kill stale worker")
			return
		}
		<-mw.exitCh
	}

	exitCode := s.deadExitCode(mw, h)
	s.logger.Warn().
		Str("component", mw.component).
		Int("exit_code", exitCode).
		Msg("Worker dead")

	if exitCode == types.ExitFatalConfig || exitCode == types.ExitUnrecoverable {
		s.markFailed(mw.component, fmt.Sprintf("fatal exit code %d, not restarting", exitCode))
		return
	}

	policy := s.loadPolicy(mw.component)
	if policy.Locked(now) {
		return
	}

	// Expired window: start counting afresh.
	if now-policy.WindowStart > s.cfg.RapidWindow.Milliseconds() {
		policy.RestartCount = 0
		policy.WindowStart = now
	}

	if policy.RestartCount >= s.cfg.RapidThreshold {
		policy.LockedUntil = types.LockedForever
		if err := s.store.UpsertRestartPolicy(policy); err != nil {
			s.logger.Error().Err(err).Str("component", mw.component).Msg("Failed to persist lockout")
		}
		s.markFailed(mw.component, fmt.Sprintf(
			"%d restarts within %s, locked out until admin reset",
			policy.RestartCount, s.cfg.RapidWindow))
		metrics.WorkerLockoutsTotal.Inc()
		return
	}

	policy.RestartCount++
	policy.LastRestart = now
	if err := s.store.UpsertRestartPolicy(policy); err != nil {
		s.logger.Error().Err(err).Str("component", mw.component).Msg("Failed to persist restart policy")
		return
	}

	backoff := s.backoffFor(policy.RestartCount - 1)
	mw.setRestarting(true)
	metrics.WorkerRestartsTotal.WithLabelValues(mw.queueType).Inc()
	s.logger.Info().
		Str("component", mw.component).
		Dur("backoff", backoff).
		Int("restart_count", policy.RestartCount).
		Msg("Restarting worker")

	go func(restartCount int) {
		select {
		case <-time.After(backoff):
		case <-s.stopCh:
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stopped {
			return
		}
		if err := s.spawnLocked(mw.queueType, mw.workerID, restartCount); err != nil {
			s.logger.Error().Err(err).Str("component", mw.component).Msg("Respawn failed")
			mw.setRestarting(false)
		}
	}(policy.RestartCount)
}

// deadExitCode prefers the worker's orderly self-reported code over the
// OS-level one; a crash with no report counts as recoverable.
func (s *Supervisor) deadExitCode(mw *managedWorker, h *types.Health) int {
	if h != nil && h.ExitCode != nil {
		return *h.ExitCode
	}
	if exited, code := mw.exitState(); exited && code >= 0 {
		return code
	}
	return types.ExitRecoverable
}

func (s *Supervisor) loadPolicy(component string) *types.RestartPolicy {
	policy, err := s.store.GetRestartPolicy(component)
	if err == storage.ErrNotFound {
		return &types.RestartPolicy{Component: component, WindowStart: types.NowMS()}
	}
	if err != nil {
		s.logger.Error().Err(err).Str("component", component).Msg("Failed to load restart policy")
		return &types.RestartPolicy{Component: component, WindowStart: types.NowMS()}
	}
	return policy
}

func (s *Supervisor) backoffFor(restartCount int) time.Duration {
	if restartCount >= len(s.cfg.Backoff) {
		return s.cfg.Backoff[len(s.cfg.Backoff)-1]
	}
	return s.cfg.Backoff[restartCount]
}

// markFailed puts the component into the terminal failed state
func (s *Supervisor) markFailed(component, reason string) {
	err := s.store.SetHealthStatus(component, types.HealthFailed, nil, reason)
	if err == storage.ErrNotFound {
		err = s.store.UpsertHealth(&types.Health{
			Component:     component,
			LastHeartbeat: types.NowMS(),
			Status:        types.HealthFailed,
			Metadata:      reason,
		})
	}
	if err != nil {
		s.logger.Error().Err(err).Str("component", component).Msg("Failed to mark component failed")
	}
	s.logger.Error().Str("component", component).Str("reason", reason).Msg("Worker failed, not restarting")
}

// ClearLockout drops a component's restart bookkeeping and moves a failed
// health row back to crashed, which the monitor treats as dead-and-eligible
// on its next tick. The single implementation of this transition; the
// supervisor's admin surface and the control plane both go through it.
func ClearLockout(store storage.Store, component string) error {
	if err := store.DeleteRestartPolicy(component); err != nil {
		return err
	}
	err := store.SetHealthStatus(component, types.HealthCrashed, nil, "restart count reset")
	if err == storage.ErrNotFound {
		// Component not managed right now; clearing the policy is enough.
		return nil
	}
	return err
}

// ResetRestartCount clears a failed lockout so the monitor may revive the
// component. Admin operation.
func (s *Supervisor) ResetRestartCount(component string) error {
	if err := ClearLockout(s.store, component); err != nil {
		return err
	}
	s.logger.Info().Str("component", component).Msg("Restart count reset")
	return nil
}
