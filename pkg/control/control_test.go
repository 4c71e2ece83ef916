package control

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaden/nomarr/pkg/broker"
	"github.com/xiaden/nomarr/pkg/queue"
	"github.com/xiaden/nomarr/pkg/storage"
	"github.com/xiaden/nomarr/pkg/types"
)

func newTestPlane(t *testing.T) (*Plane, *storage.SQLiteStore) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "nomarr.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	b := broker.NewBroker(broker.Config{Tick: 10 * time.Millisecond, BufferSize: 8}, store)
	b.Start()
	t.Cleanup(b.Stop)

	return New(store, b, 1, 30*time.Second), store
}

func TestEnqueueReturnsIDs(t *testing.T) {
	p, _ := newTestPlane(t)

	ids, err := p.Enqueue([]string{"/a.flac", "/b.flac", "/c.flac"}, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)
}

func TestPauseResumeReturnsPreviousState(t *testing.T) {
	p, _ := newTestPlane(t)

	prev, err := p.Pause()
	require.NoError(t, err)
	assert.False(t, prev)

	prev, err = p.Pause()
	require.NoError(t, err)
	assert.True(t, prev, "second pause reports the standing flag")

	prev, err = p.Resume()
	require.NoError(t, err)
	assert.True(t, prev)
}

func TestStatusSnapshot(t *testing.T) {
	p, store := newTestPlane(t)

	_, err := p.Enqueue([]string{"/a", "/b"}, false)
	require.NoError(t, err)

	now := types.NowMS()
	require.NoError(t, store.UpsertHealth(&types.Health{
		Component:     types.AppComponent,
		LastHeartbeat: now - 1500,
		Status:        types.HealthHealthy,
	}))
	require.NoError(t, store.UpsertHealth(&types.Health{
		Component:     "worker:tag:0",
		LastHeartbeat: now,
		Status:        types.HealthHealthy,
		PID:           42,
	}))

	_, err = p.Pause()
	require.NoError(t, err)

	snapshot, err := p.Status()
	require.NoError(t, err)
	assert.Equal(t, 2, snapshot.Stats.Pending)
	assert.True(t, snapshot.Paused)
	assert.GreaterOrEqual(t, snapshot.AppHeartbeatAgeMS, int64(1500))
	require.Len(t, snapshot.Workers, 1)
	assert.Equal(t, "worker:tag:0", snapshot.Workers[0].Component)
}

func TestSubscribeDeliversThroughBroker(t *testing.T) {
	p, _ := newTestPlane(t)

	sub, ch := p.Subscribe([]string{types.TopicQueueJobs})
	defer p.Unsubscribe(sub)

	ids, err := p.Enqueue([]string{"/a.flac"}, false)
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if payload, ok := e.Payload.(types.JobEvent); ok && payload.JobID == ids[0] {
				assert.Equal(t, types.JobPending, payload.Status)
				return
			}
		case <-deadline:
			t.Fatal("no job event observed")
		}
	}
}

func TestResetErrorsAndStuck(t *testing.T) {
	p, store := newTestPlane(t)
	q := queue.NewQueue(store)

	ids, err := p.Enqueue([]string{"/a", "/b"}, false)
	require.NoError(t, err)

	// /a errors; /b is stuck on a worker that never heartbeats.
	job, err := q.ClaimNext("worker:tag:0")
	require.NoError(t, err)
	require.Equal(t, ids[0], job.ID)
	require.NoError(t, q.MarkError(job.ID, "boom"))

	_, err = q.ClaimNext("worker:tag:1")
	require.NoError(t, err)

	n, err := p.ResetErrors()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = p.ResetStuck()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	snapshot, err := p.Status()
	require.NoError(t, err)
	assert.Equal(t, 2, snapshot.Stats.Pending)
}

func TestResetRestartCountClearsLockout(t *testing.T) {
	p, store := newTestPlane(t)
	component := "worker:tag:0"

	require.NoError(t, store.UpsertRestartPolicy(&types.RestartPolicy{
		Component:   component,
		LockedUntil: types.LockedForever,
	}))
	require.NoError(t, store.UpsertHealth(&types.Health{
		Component:     component,
		LastHeartbeat: types.NowMS(),
		Status:        types.HealthFailed,
	}))

	require.NoError(t, p.ResetRestartCount(component))

	_, err := store.GetRestartPolicy(component)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	h, err := store.GetHealth(component)
	require.NoError(t, err)
	assert.Equal(t, types.HealthCrashed, h.Status)

	// Unknown component is fine; the op is idempotent.
	assert.NoError(t, p.ResetRestartCount("worker:tag:9"))
}

func TestCalibrationSurface(t *testing.T) {
	p, _ := newTestPlane(t)

	heads, err := p.CalibrationStatus()
	require.NoError(t, err)
	assert.Empty(t, heads)

	assert.NoError(t, p.ResetCalibration("genre_rock"))
}
