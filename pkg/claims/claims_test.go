package claims

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaden/nomarr/pkg/storage"
	"github.com/xiaden/nomarr/pkg/types"
)

func newTestManager(t *testing.T) (*Manager, *storage.SQLiteStore) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "nomarr.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewManager(store, 30*time.Second), store
}

func heartbeat(t *testing.T, store *storage.SQLiteStore, component string, at int64) {
	t.Helper()
	require.NoError(t, store.UpsertHealth(&types.Health{
		Component:     component,
		LastHeartbeat: at,
		Status:        types.HealthHealthy,
	}))
}

func TestAcquireAndBlock(t *testing.T) {
	m, store := newTestManager(t)
	heartbeat(t, store, "worker:scan:0", types.NowMS())

	ok, err := m.Acquire("/music/a.flac", "worker:scan:0", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// Live holder blocks a competitor.
	ok, err = m.Acquire("/music/a.flac", "worker:scan:1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStealFromDeadWorker(t *testing.T) {
	m, store := newTestManager(t)

	// Holder's heartbeat is ancient even though its lease is long.
	heartbeat(t, store, "worker:scan:0", types.NowMS()-10*60*1000)
	ok, err := m.Acquire("/music/a.flac", "worker:scan:0", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Acquire("/music/a.flac", "worker:scan:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "stale holder does not pin its claim")

	claim, err := store.GetClaim("/music/a.flac")
	require.NoError(t, err)
	assert.Equal(t, "worker:scan:1", claim.WorkerID)
}

func TestRefreshAndRelease(t *testing.T) {
	m, _ := newTestManager(t)

	ok, err := m.Acquire("/r", "w0", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Refresh("/r", "w0", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// Releasing someone else's claim is a no-op.
	ok, err = m.Release("/r", "w1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.Release("/r", "w0")
	require.NoError(t, err)
	assert.True(t, ok)

	// Idempotent.
	ok, err = m.Release("/r", "w0")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSweep(t *testing.T) {
	m, store := newTestManager(t)
	_, err := store.AcquireClaim("/old", "w0", types.NowMS()-10_000, 1000)
	require.NoError(t, err)
	_, err = store.AcquireClaim("/fresh", "w0", types.NowMS(), 60_000)
	require.NoError(t, err)

	n, err := m.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
