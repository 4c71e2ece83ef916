package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/xiaden/nomarr/pkg/processor"
	"github.com/xiaden/nomarr/pkg/queue"
	"github.com/xiaden/nomarr/pkg/storage"
	"github.com/xiaden/nomarr/pkg/types"
)

// stubProcessor returns canned results or errors per call
type stubProcessor struct {
	calls int32
	fn    func(path string, force bool) (*processor.Result, error)
}

func (s *stubProcessor) Process(_ context.Context, path string, force bool) (*processor.Result, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.fn(path, force)
}

func testConfig(t *testing.T, dbPath string, proc processor.Processor) Config {
	t.Helper()
	return Config{
		QueueType: "tag",
		WorkerID:  0,
		OpenStore: func() (storage.Store, error) {
			return storage.Open(dbPath)
		},
		Processor:             proc,
		PollInterval:          10 * time.Millisecond,
		HeartbeatInterval:     20 * time.Millisecond,
		CalibrationMinSamples: 1,
	}
}

func openSideStore(t *testing.T, dbPath string) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestWorkerProcessesJob(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nomarr.db")
	store := openSideStore(t, dbPath)
	q := queue.NewQueue(store)

	id, err := q.Enqueue("/music/a.flac", false)
	require.NoError(t, err)

	proc := &stubProcessor{fn: func(path string, force bool) (*processor.Result, error) {
		return &processor.Result{Tags: map[string]float64{"genre_rock": 0.9}}, nil
	}}

	w := New(testConfig(t, dbPath, proc))
	ctx, cancel := context.WithCancel(context.Background())
	codeCh := make(chan int, 1)
	go func() { codeCh <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		job, err := q.Get(id)
		return err == nil && job.Status == types.JobDone
	}, 5*time.Second, 10*time.Millisecond)

	job, err := q.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "worker:tag:0", job.WorkerID)

	var tags map[string]float64
	require.NoError(t, msgpack.Unmarshal(job.Result, &tags))
	assert.Equal(t, map[string]float64{"genre_rock": 0.9}, tags)

	cancel()
	assert.Equal(t, types.ExitOK, <-codeCh)

	// Orderly shutdown published the terminal state.
	h, err := store.GetHealth("worker:tag:0")
	require.NoError(t, err)
	assert.Equal(t, types.HealthStopped, h.Status)
	require.NotNil(t, h.ExitCode)
	assert.Equal(t, types.ExitOK, *h.ExitCode)
}

func TestWorkerRecordsJobError(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nomarr.db")
	store := openSideStore(t, dbPath)
	q := queue.NewQueue(store)

	id, err := q.Enqueue("/music/bad.flac", false)
	require.NoError(t, err)

	proc := &stubProcessor{fn: func(path string, force bool) (*processor.Result, error) {
		return nil, errors.New("decode failure")
	}}

	w := New(testConfig(t, dbPath, proc))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	codeCh := make(chan int, 1)
	go func() { codeCh <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		job, err := q.Get(id)
		return err == nil && job.Status == types.JobError
	}, 5*time.Second, 10*time.Millisecond)

	job, err := q.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "decode failure", job.ErrorMessage)

	// A job-level error never kills the worker.
	h, err := store.GetHealth("worker:tag:0")
	require.NoError(t, err)
	assert.NotEqual(t, types.HealthFailed, h.Status)

	cancel()
	assert.Equal(t, types.ExitOK, <-codeCh)
}

func TestWorkerFatalErrorStopsProcess(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nomarr.db")
	store := openSideStore(t, dbPath)
	q := queue.NewQueue(store)

	_, err := q.Enqueue("/music/a.flac", false)
	require.NoError(t, err)

	proc := &stubProcessor{fn: func(path string, force bool) (*processor.Result, error) {
		return nil, processor.Fatal(types.ExitFatalConfig, errors.New("model missing"))
	}}

	w := New(testConfig(t, dbPath, proc))
	codeCh := make(chan int, 1)
	go func() { codeCh <- w.Run(context.Background()) }()

	select {
	case code := <-codeCh:
		assert.Equal(t, types.ExitFatalConfig, code)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit on fatal error")
	}

	h, err := store.GetHealth("worker:tag:0")
	require.NoError(t, err)
	assert.Equal(t, types.HealthFailed, h.Status)
	require.NotNil(t, h.ExitCode)
	assert.Equal(t, types.ExitFatalConfig, *h.ExitCode)
}

func TestWorkerHonorsPauseFlag(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nomarr.db")
	store := openSideStore(t, dbPath)
	q := queue.NewQueue(store)

	require.NoError(t, store.PutKV(types.ControlPausedKey, "true"))
	id, err := q.Enqueue("/music/a.flac", false)
	require.NoError(t, err)

	proc := &stubProcessor{fn: func(path string, force bool) (*processor.Result, error) {
		return &processor.Result{Tags: map[string]float64{}}, nil
	}}

	w := New(testConfig(t, dbPath, proc))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	codeCh := make(chan int, 1)
	go func() { codeCh <- w.Run(ctx) }()

	// Paused: the job stays pending while heartbeats continue.
	time.Sleep(150 * time.Millisecond)
	job, err := q.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.JobPending, job.Status)
	assert.Zero(t, atomic.LoadInt32(&proc.calls))

	h, err := store.GetHealth("worker:tag:0")
	require.NoError(t, err)
	assert.WithinDuration(t,
		time.Now(), time.UnixMilli(h.LastHeartbeat), time.Second,
		"heartbeats continue while paused")

	// Resume: the job completes.
	require.NoError(t, store.PutKV(types.ControlPausedKey, "false"))
	require.Eventually(t, func() bool {
		job, err := q.Get(id)
		return err == nil && job.Status == types.JobDone
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.Equal(t, types.ExitOK, <-codeCh)
}

func TestWorkerObservesShutdownFlag(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nomarr.db")
	store := openSideStore(t, dbPath)

	proc := &stubProcessor{fn: func(path string, force bool) (*processor.Result, error) {
		return &processor.Result{}, nil
	}}

	w := New(testConfig(t, dbPath, proc))
	codeCh := make(chan int, 1)
	go func() { codeCh <- w.Run(context.Background()) }()

	// Let it reach the loop, then raise the durable shutdown flag.
	require.Eventually(t, func() bool {
		h, err := store.GetHealth("worker:tag:0")
		return err == nil && h.Status == types.HealthHealthy
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, store.PutKV(types.ControlShutdownKey, "true"))

	select {
	case code := <-codeCh:
		assert.Equal(t, types.ExitOK, code)
	case <-time.After(5 * time.Second):
		t.Fatal("worker ignored shutdown flag")
	}
}

func TestWorkerPublishesCurrentJob(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nomarr.db")
	store := openSideStore(t, dbPath)
	q := queue.NewQueue(store)

	release := make(chan struct{})
	proc := &stubProcessor{fn: func(path string, force bool) (*processor.Result, error) {
		<-release
		return &processor.Result{Tags: map[string]float64{}}, nil
	}}

	id, err := q.Enqueue("/music/slow.flac", false)
	require.NoError(t, err)

	w := New(testConfig(t, dbPath, proc))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	codeCh := make(chan int, 1)
	go func() { codeCh <- w.Run(ctx) }()

	key := types.WorkerCurrentJobKey("tag", 0)
	require.Eventually(t, func() bool {
		value, ok, err := store.GetKV(key)
		return err == nil && ok && value == "1"
	}, 5*time.Second, 10*time.Millisecond)

	h, err := store.GetHealth("worker:tag:0")
	require.NoError(t, err)
	assert.Equal(t, id, h.CurrentJob)

	close(release)
	require.Eventually(t, func() bool {
		_, ok, err := store.GetKV(key)
		return err == nil && !ok
	}, 5*time.Second, 10*time.Millisecond, "current job cleared after completion")

	cancel()
	assert.Equal(t, types.ExitOK, <-codeCh)
}
