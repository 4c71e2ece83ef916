package health

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xiaden/nomarr/pkg/types"
)

func TestHeartbeatChecker(t *testing.T) {
	checker := HeartbeatChecker{StaleAfter: 30 * time.Second}
	now := int64(100_000)

	tests := []struct {
		name    string
		health  *types.Health
		healthy bool
	}{
		{"nil row", nil, false},
		{"fresh", &types.Health{LastHeartbeat: now - 1000}, true},
		{"on the boundary", &types.Health{LastHeartbeat: now - 30_000}, true},
		{"stale", &types.Health{LastHeartbeat: now - 30_001}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.healthy, checker.Healthy(tt.health, now))
		})
	}
}

func TestProcessChecker(t *testing.T) {
	now := types.NowMS()

	assert.True(t, ProcessChecker{}.Healthy(&types.Health{PID: os.Getpid()}, now))
	assert.False(t, ProcessChecker{}.Healthy(&types.Health{PID: 0}, now))
	assert.False(t, ProcessChecker{}.Healthy(nil, now))
}

func TestAllComposite(t *testing.T) {
	now := types.NowMS()
	checker := All{
		HeartbeatChecker{StaleAfter: 30 * time.Second},
		ProcessChecker{},
	}

	// Fresh heartbeat, live pid: healthy.
	assert.True(t, checker.Healthy(&types.Health{LastHeartbeat: now, PID: os.Getpid()}, now))
	// Stale heartbeat alone marks it dead even with a live pid.
	assert.False(t, checker.Healthy(&types.Health{LastHeartbeat: now - 60_000, PID: os.Getpid()}, now))
}

func TestClaimValid(t *testing.T) {
	now := types.NowMS()
	claim := &types.Claim{ResourceID: "/a", WorkerID: "w", AcquiredAt: now - 500, LeaseMS: 1000}
	owner := &types.Health{Component: "w", LastHeartbeat: now}

	assert.True(t, ClaimValid(claim, owner, now, 30*time.Second))
	assert.False(t, ClaimValid(claim, &types.Health{LastHeartbeat: now - 60_000}, now, 30*time.Second))
	assert.False(t, ClaimValid(claim, nil, now, 30*time.Second))

	expired := &types.Claim{AcquiredAt: now - 2000, LeaseMS: 1000}
	assert.False(t, ClaimValid(expired, owner, now, 30*time.Second))
	assert.False(t, ClaimValid(nil, owner, now, 30*time.Second))
}
