package claims

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/xiaden/nomarr/pkg/health"
	"github.com/xiaden/nomarr/pkg/log"
	"github.com/xiaden/nomarr/pkg/storage"
	"github.com/xiaden/nomarr/pkg/types"
)

// Manager hands out advisory leases on resources. Discovery-style workers
// that scan the library for eligible files use claims to avoid duplicate work
// at a granularity finer than the job row.
type Manager struct {
	store      storage.Store
	staleAfter time.Duration
	logger     zerolog.Logger
}

// NewManager creates a claim manager. staleAfter bounds how old the owning
// worker's heartbeat may be before its claims stop counting.
func NewManager(store storage.Store, staleAfter time.Duration) *Manager {
	return &Manager{
		store:      store,
		staleAfter: staleAfter,
		logger:     log.WithComponent("claims"),
	}
}

// Acquire takes a lease on resourceID for workerID. Succeeds when the
// resource is unclaimed, the existing lease expired, or the existing holder's
// heartbeat has gone stale (a dead worker does not pin its claims).
func (m *Manager) Acquire(resourceID, workerID string, lease time.Duration) (bool, error) {
	now := types.NowMS()
	ok, err := m.store.AcquireClaim(resourceID, workerID, now, lease.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("acquire claim %s: %w", resourceID, err)
	}
	if ok {
		return true, nil
	}

	// Lease still in force; check whether the holder itself is alive.
	existing, err := m.store.GetClaim(resourceID)
	if err == storage.ErrNotFound {
		// Raced a release; try once more.
		return m.store.AcquireClaim(resourceID, workerID, now, lease.Milliseconds())
	}
	if err != nil {
		return false, err
	}
	owner, err := m.store.GetHealth(existing.WorkerID)
	if err != nil && err != storage.ErrNotFound {
		return false, err
	}
	if health.ClaimValid(existing, owner, now, m.staleAfter) {
		return false, nil
	}

	// Holder is gone; steal by releasing on its behalf and re-acquiring.
	if _, err := m.store.ReleaseClaim(existing.ResourceID, existing.WorkerID); err != nil {
		return false, err
	}
	m.logger.Warn().
		Str("resource_id", resourceID).
		Str("previous_worker", existing.WorkerID).
		Msg("Stole claim from dead worker")
	return m.store.AcquireClaim(resourceID, workerID, now, lease.Milliseconds())
}

// Refresh extends a held lease. Acquiring an already-held claim restamps it.
func (m *Manager) Refresh(resourceID, workerID string, lease time.Duration) (bool, error) {
	return m.store.AcquireClaim(resourceID, workerID, types.NowMS(), lease.Milliseconds())
}

// Release drops a held lease. Releasing a claim held by someone else (or
// nobody) is a no-op returning false.
func (m *Manager) Release(resourceID, workerID string) (bool, error) {
	return m.store.ReleaseClaim(resourceID, workerID)
}

// Sweep deletes every expired claim row. Called from the supervisor's
// maintenance schedule.
func (m *Manager) Sweep() (int, error) {
	return m.store.DeleteExpiredClaims(types.NowMS())
}
