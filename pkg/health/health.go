package health

import (
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/xiaden/nomarr/pkg/types"
)

// Checker decides whether a component's health row describes a live process.
type Checker interface {
	Healthy(h *types.Health, now int64) bool
}

// HeartbeatChecker judges liveness by heartbeat recency
type HeartbeatChecker struct {
	StaleAfter time.Duration
}

func (c HeartbeatChecker) Healthy(h *types.Health, now int64) bool {
	if h == nil {
		return false
	}
	return now-h.LastHeartbeat <= c.StaleAfter.Milliseconds()
}

// ProcessChecker judges liveness by whether the recorded PID still exists
type ProcessChecker struct{}

func (ProcessChecker) Healthy(h *types.Health, now int64) bool {
	if h == nil || h.PID <= 0 {
		return false
	}
	return PIDAlive(h.PID)
}

// PIDAlive reports whether a process with the given pid exists
func PIDAlive(pid int) bool {
	alive, err := process.PidExists(int32(pid))
	if err != nil {
		// Can't tell; assume alive and let the heartbeat check decide.
		return true
	}
	return alive
}

// All passes only when every checker passes. The supervisor composes the
// heartbeat and process checks this way: a stale heartbeat or a vanished PID
// each suffice to call a worker dead.
type All []Checker

func (cs All) Healthy(h *types.Health, now int64) bool {
	for _, c := range cs {
		if !c.Healthy(h, now) {
			return false
		}
	}
	return true
}

// ClaimValid reports whether an advisory claim is still in force: the lease
// window has not elapsed and the owning worker's health row is recent.
func ClaimValid(c *types.Claim, owner *types.Health, now int64, staleAfter time.Duration) bool {
	if c == nil || c.Expired(now) {
		return false
	}
	return HeartbeatChecker{StaleAfter: staleAfter}.Healthy(owner, now)
}
