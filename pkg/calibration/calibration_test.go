package calibration

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaden/nomarr/pkg/storage"
	"github.com/xiaden/nomarr/pkg/types"
)

func newTestMachine(t *testing.T, minSamples int) (*Machine, *storage.SQLiteStore) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "nomarr.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewMachine(store, minSamples), store
}

func TestStateProgression(t *testing.T) {
	m, _ := newTestMachine(t, 3)

	c, err := m.State("mood_happy")
	require.NoError(t, err)
	assert.Equal(t, types.CalibrationUncalibrated, c.State)

	require.NoError(t, m.Observe("mood_happy", 0.5))
	c, err = m.State("mood_happy")
	require.NoError(t, err)
	assert.Equal(t, types.CalibrationCollecting, c.State)
	assert.Equal(t, 1, c.Samples)

	require.NoError(t, m.Observe("mood_happy", 0.7))
	require.NoError(t, m.Observe("mood_happy", 0.9))

	c, err = m.State("mood_happy")
	require.NoError(t, err)
	assert.Equal(t, types.CalibrationCalibrated, c.State)
	assert.Equal(t, 3, c.Samples)
	assert.InDelta(t, 0.7, c.Threshold, 1e-9, "threshold is the mean at promotion")

	allowed, err := m.Allowed("mood_happy")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestGateStripsUncalibratedHeads(t *testing.T) {
	m, _ := newTestMachine(t, 2)

	// First pass: nothing calibrated yet, everything stripped.
	kept, err := m.Gate(map[string]float64{"genre_rock": 0.9, "genre_jazz": 0.2})
	require.NoError(t, err)
	assert.Empty(t, kept)

	// Second pass promotes both heads (2 samples each). genre_rock's score
	// clears its threshold; genre_jazz's falls below its running mean.
	kept, err = m.Gate(map[string]float64{"genre_rock": 0.95, "genre_jazz": 0.1})
	require.NoError(t, err)
	assert.Contains(t, kept, "genre_rock")
	assert.NotContains(t, kept, "genre_jazz")
}

func TestPersistenceAcrossMachines(t *testing.T) {
	m, store := newTestMachine(t, 2)
	require.NoError(t, m.Observe("bpm", 0.4))

	// A restarted worker resumes from the persisted samples.
	m2 := NewMachine(store, 2)
	require.NoError(t, m2.Observe("bpm", 0.6))

	c, err := m2.State("bpm")
	require.NoError(t, err)
	assert.Equal(t, types.CalibrationCalibrated, c.State)
	assert.Equal(t, 2, c.Samples)
}

func TestReset(t *testing.T) {
	m, _ := newTestMachine(t, 1)
	require.NoError(t, m.Observe("mood_sad", 0.5))

	allowed, err := m.Allowed("mood_sad")
	require.NoError(t, err)
	require.True(t, allowed)

	require.NoError(t, m.Reset("mood_sad"))

	c, err := m.State("mood_sad")
	require.NoError(t, err)
	assert.Equal(t, types.CalibrationUncalibrated, c.State)
	assert.Zero(t, c.Samples)
}

func TestListHeads(t *testing.T) {
	m, _ := newTestMachine(t, 5)
	require.NoError(t, m.Observe("a", 0.1))
	require.NoError(t, m.Observe("b", 0.2))

	heads, err := m.List()
	require.NoError(t, err)
	assert.Len(t, heads, 2)
}
