package log

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitStampsProcessAndPID(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Process: "worker:tag:0", JSONOutput: true, Output: &buf})

	componentLogger := WithComponent("queue")
	componentLogger.Info().Msg("hello")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "worker:tag:0", line["process"])
	assert.Equal(t, float64(os.Getpid()), line["pid"])
	assert.Equal(t, "queue", line["component"])
	assert.Equal(t, "hello", line["message"])
}

func TestInitUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "verbose", JSONOutput: true, Output: &buf})

	Logger.Debug().Msg("dropped")
	assert.Empty(t, buf.Bytes(), "debug suppressed at the info fallback level")

	Logger.Info().Msg("kept")
	assert.NotEmpty(t, buf.Bytes())
}

func TestDefaultProcessName(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", JSONOutput: true, Output: &buf})

	Logger.Info().Msg("x")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "app", line["process"])
}

func TestSampledPassesBurstThenThrottles(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", JSONOutput: true, Output: &buf})

	logger := Sampled("broker", 3, time.Minute, 1000)
	for i := 0; i < 100; i++ {
		logger.Warn().Msg("poll failure")
	}

	lines := bytes.Count(buf.Bytes(), []byte("\n"))
	assert.Less(t, lines, 10, "sampler must throttle tick-frequency failures")
	assert.GreaterOrEqual(t, lines, 1, "first failures still surface")
}