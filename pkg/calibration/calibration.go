package calibration

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/xiaden/nomarr/pkg/log"
	"github.com/xiaden/nomarr/pkg/storage"
	"github.com/xiaden/nomarr/pkg/types"
)

// Machine gates which tags may be persisted. Each tag head runs its own
// state machine: uncalibrated until the first score arrives, collecting while
// samples accumulate, calibrated once MinSamples scores have been observed.
// Only calibrated heads pass the gate, and then only scores at or above the
// head's threshold.
//
// The threshold is the running mean of observed scores: at promotion it
// equals the mean so far, and it keeps tracking the mean afterwards.
// State persists through the store so a restarted worker resumes where the
// previous process left off.
type Machine struct {
	store      storage.Store
	minSamples int
	logger     zerolog.Logger

	mu    sync.Mutex
	cache map[string]*types.Calibration
}

// NewMachine creates a calibration machine over an open store
func NewMachine(store storage.Store, minSamples int) *Machine {
	if minSamples < 1 {
		minSamples = 1
	}
	return &Machine{
		store:      store,
		minSamples: minSamples,
		logger:     log.WithComponent("calibration"),
		cache:      make(map[string]*types.Calibration),
	}
}

// Observe feeds one score into head's state machine and persists the result.
func (m *Machine) Observe(head string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.load(head)
	if err != nil {
		return err
	}

	// Running mean; the mean at promotion becomes the persistence threshold.
	c.Threshold = (c.Threshold*float64(c.Samples) + score) / float64(c.Samples+1)
	c.Samples++
	c.UpdatedAt = types.NowMS()

	switch {
	case c.State == types.CalibrationCalibrated:
		// Threshold keeps tracking the mean after promotion.
	case c.Samples >= m.minSamples:
		c.State = types.CalibrationCalibrated
		m.logger.Info().
			Str("head", head).
			Int("samples", c.Samples).
			Float64("threshold", c.Threshold).
			Msg("Tag head calibrated")
	default:
		c.State = types.CalibrationCollecting
	}

	if err := m.store.UpsertCalibration(c); err != nil {
		return fmt.Errorf("persist calibration %s: %w", head, err)
	}
	return nil
}

// Allowed reports whether head's tags may be persisted
func (m *Machine) Allowed(head string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.load(head)
	if err != nil {
		return false, err
	}
	return c.State == types.CalibrationCalibrated, nil
}

// Gate observes every score and returns only the tags that may be persisted:
// calibrated heads whose score clears the head's threshold.
func (m *Machine) Gate(tags map[string]float64) (map[string]float64, error) {
	kept := make(map[string]float64, len(tags))
	for head, score := range tags {
		if err := m.Observe(head, score); err != nil {
			return nil, err
		}

		m.mu.Lock()
		c, err := m.load(head)
		m.mu.Unlock()
		if err != nil {
			return nil, err
		}
		if c.State == types.CalibrationCalibrated && score >= c.Threshold {
			kept[head] = score
		}
	}
	return kept, nil
}

// State returns the persisted state of one head
func (m *Machine) State(head string) (*types.Calibration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(head)
}

// List returns every head's persisted state
func (m *Machine) List() ([]*types.Calibration, error) {
	return m.store.ListCalibrations()
}

// Reset returns head to uncalibrated, discarding samples and threshold.
func (m *Machine) Reset(head string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.cache, head)
	if err := m.store.DeleteCalibration(head); err != nil {
		return fmt.Errorf("reset calibration %s: %w", head, err)
	}
	return nil
}

// load returns the cached row for head, reading through to the store on miss.
// Callers hold m.mu.
func (m *Machine) load(head string) (*types.Calibration, error) {
	if c, ok := m.cache[head]; ok {
		return c, nil
	}
	c, err := m.store.GetCalibration(head)
	if err == storage.ErrNotFound {
		c = &types.Calibration{
			Head:      head,
			State:     types.CalibrationUncalibrated,
			UpdatedAt: types.NowMS(),
		}
	} else if err != nil {
		return nil, err
	}
	m.cache[head] = c
	return c, nil
}
