package processor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaden/nomarr/pkg/types"
)

func TestFatalCode(t *testing.T) {
	err := Fatal(types.ExitFatalConfig, errors.New("model missing"))

	code, fatal := FatalCode(err)
	assert.True(t, fatal)
	assert.Equal(t, types.ExitFatalConfig, code)

	// Wrapped fatals still surface.
	wrapped := fmt.Errorf("starting worker: %w", err)
	code, fatal = FatalCode(wrapped)
	assert.True(t, fatal)
	assert.Equal(t, types.ExitFatalConfig, code)

	_, fatal = FatalCode(errors.New("plain job failure"))
	assert.False(t, fatal)
}

func TestNewExecProcessorRequiresCommand(t *testing.T) {
	_, err := NewExecProcessor("")
	require.Error(t, err)

	code, fatal := FatalCode(err)
	assert.True(t, fatal, "missing tagger command is a configuration fatal")
	assert.Equal(t, types.ExitFatalConfig, code)
}

func TestExecProcessorMissingBinary(t *testing.T) {
	p, err := NewExecProcessor("/nonexistent/nomarr-tagger")
	require.NoError(t, err)

	_, err = p.Process(context.Background(), "/music/a.flac", false)
	require.Error(t, err)
	// A missing binary is a worker-level fatal, not a per-file failure.
	_, fatal := FatalCode(err)
	assert.True(t, fatal)
}

func TestExecProcessorBadOutput(t *testing.T) {
	// `true` exits 0 with no output, which is not a score map.
	p, err := NewExecProcessor("true")
	require.NoError(t, err)

	_, err = p.Process(context.Background(), "/music/a.flac", false)
	require.Error(t, err)
	_, fatal := FatalCode(err)
	assert.False(t, fatal, "bad output fails the job, not the worker")
}
