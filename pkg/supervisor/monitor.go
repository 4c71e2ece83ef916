package supervisor

import (
	"time"

	"github.com/xiaden/nomarr/pkg/health"
	"github.com/xiaden/nomarr/pkg/metrics"
	"github.com/xiaden/nomarr/pkg/storage"
	"github.com/xiaden/nomarr/pkg/types"
)

// monitorLoop drives the periodic liveness check over every managed worker
func (s *Supervisor) monitorLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.monitorTick()
		case <-s.stopCh:
			return
		}
	}
}

// monitorTick checks every managed worker and returns stuck jobs to pending.
func (s *Supervisor) monitorTick() {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.MonitorTickDuration)
		metrics.MonitorTicksTotal.Inc()
	}()

	now := types.NowMS()

	s.mu.Lock()
	workers := make([]*managedWorker, 0, len(s.workers))
	for _, mw := range s.workers {
		workers = append(workers, mw)
	}
	s.mu.Unlock()

	for _, mw := range workers {
		if mw.isRestarting() {
			continue
		}

		h, err := s.store.GetHealth(mw.component)
		if err != nil && err != storage.ErrNotFound {
			s.logger.Error().Err(err).Str("component", mw.component).Msg("Failed to read worker health")
			continue
		}

		if h != nil && h.Status == types.HealthFailed {
			// Terminal; only an admin reset revives it.
			continue
		}

		if s.workerAlive(mw, h, now) {
			continue
		}
		s.handleDead(mw, h, now)
	}

	reset, err := s.queue.ResetStuck(now, s.cfg.HeartbeatStale.Milliseconds())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to reset stuck jobs")
	} else if reset > 0 {
		metrics.JobsResetTotal.Add(float64(reset))
	}
}

// workerAlive requires both a fresh heartbeat and a live OS process; a row
// that is absent counts as dead.
func (s *Supervisor) workerAlive(mw *managedWorker, h *types.Health, now int64) bool {
	if exited, _ := mw.exitState(); exited {
		return false
	}
	checker := health.All{
		health.HeartbeatChecker{StaleAfter: s.cfg.HeartbeatStale},
		health.ProcessChecker{},
	}
	if h != nil {
		// The child may not have registered its own pid yet; check the one
		// we spawned.
		if h.PID == 0 {
			h = &types.Health{
				Component:     h.Component,
				LastHeartbeat: h.LastHeartbeat,
				Status:        h.Status,
				PID:           mw.cmd.Process.Pid,
			}
		}
	}
	return checker.Healthy(h, now)
}
