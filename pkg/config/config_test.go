package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"tag": 1}, cfg.WorkerCounts)
	assert.Equal(t, 2000, cfg.WorkerPollIntervalMS)
	assert.Equal(t, 5000, cfg.WorkerHeartbeatMS)
	assert.Equal(t, 30000, cfg.HeartbeatStaleMS)
	assert.Equal(t, 10000, cfg.MonitorIntervalMS)
	assert.Equal(t, 500, cfg.BrokerTickMS)
	assert.Equal(t, 64, cfg.BrokerBufferSize)
	assert.Equal(t, []int{1000, 2000, 4000, 8000, 16000, 32000, 60000}, cfg.BackoffScheduleMS)
	assert.Equal(t, 300000, cfg.RapidWindowMS)
	assert.Equal(t, 5, cfg.RapidThreshold)
	assert.Equal(t, 10000, cfg.ShutdownGraceMS)
	assert.Equal(t, int64(7*24*3600*1000), cfg.RetentionAgeMS)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`
database_path: /tmp/custom.db
worker_counts:
  tag: 2
  scan: 1
worker_heartbeat_ms: 1000
heartbeat_stale_ms: 6000
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nomarr.yml"), content, 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/custom.db", cfg.DatabasePath)
	assert.Equal(t, map[string]int{"tag": 2, "scan": 1}, cfg.WorkerCounts)
	assert.Equal(t, 1000, cfg.WorkerHeartbeatMS)
}

func TestValidateStaleFloor(t *testing.T) {
	cfg := &Config{
		DatabasePath:      "/tmp/x.db",
		WorkerHeartbeatMS: 5000,
		HeartbeatStaleMS:  20000, // below 6x heartbeat
		BackoffScheduleMS: []int{1000},
		RapidThreshold:    5,
	}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "heartbeat_stale_ms")
}

func TestValidateRejectsEmptyBackoff(t *testing.T) {
	cfg := &Config{
		DatabasePath:      "/tmp/x.db",
		WorkerHeartbeatMS: 1000,
		HeartbeatStaleMS:  6000,
		RapidThreshold:    5,
	}
	assert.ErrorContains(t, cfg.Validate(), "backoff_schedule_ms")
}
