package control

import (
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/xiaden/nomarr/pkg/broker"
	"github.com/xiaden/nomarr/pkg/calibration"
	"github.com/xiaden/nomarr/pkg/log"
	"github.com/xiaden/nomarr/pkg/queue"
	"github.com/xiaden/nomarr/pkg/storage"
	"github.com/xiaden/nomarr/pkg/supervisor"
	"github.com/xiaden/nomarr/pkg/types"
)

// Plane is the narrow surface the surrounding application (CLI, HTTP layer)
// depends on. Every operation is a few database calls; none launches worker
// processes — spawn belongs exclusively to the supervisor.
type Plane struct {
	store      storage.Store
	queue      *queue.Queue
	broker     *broker.Broker
	cal        *calibration.Machine
	staleAfter time.Duration
	logger     zerolog.Logger
}

// New creates a control plane over an open store and a running broker
func New(store storage.Store, b *broker.Broker, minSamples int, staleAfter time.Duration) *Plane {
	return &Plane{
		store:      store,
		queue:      queue.NewQueue(store),
		broker:     b,
		cal:        calibration.NewMachine(store, minSamples),
		staleAfter: staleAfter,
		logger:     log.WithComponent("control"),
	}
}

// Enqueue inserts one pending job per path and returns the created ids.
// Deduplication is the caller's responsibility.
func (p *Plane) Enqueue(paths []string, force bool) ([]int64, error) {
	return p.queue.EnqueueAll(paths, force)
}

// Pause sets the durable pause flag. Returns the previous state.
func (p *Plane) Pause() (bool, error) {
	return p.setPaused(true)
}

// Resume clears the pause flag. Returns the previous state.
func (p *Plane) Resume() (bool, error) {
	return p.setPaused(false)
}

func (p *Plane) setPaused(paused bool) (bool, error) {
	prev, _, err := p.store.GetKV(types.ControlPausedKey)
	if err != nil {
		return false, err
	}
	if err := p.store.PutKV(types.ControlPausedKey, strconv.FormatBool(paused)); err != nil {
		return false, err
	}
	return prev == "true", nil
}

// Status returns the aggregate snapshot: queue counts, per-worker health,
// app heartbeat age and a rough throughput estimate.
func (p *Plane) Status() (*types.Snapshot, error) {
	records, err := p.store.ListHealth()
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}

	now := types.NowMS()
	var workers []*types.Health
	var appHeartbeat int64
	alive := 0
	for _, h := range records {
		if h.Component == types.AppComponent {
			appHeartbeat = h.LastHeartbeat
			continue
		}
		workers = append(workers, h)
		if h.Status == types.HealthHealthy {
			alive++
		}
	}

	stats, err := p.queue.Stats(alive)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}

	paused, _, err := p.store.GetKV(types.ControlPausedKey)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}

	snapshot := &types.Snapshot{
		Stats:   stats,
		Workers: workers,
		Paused:  paused == "true",
	}
	if appHeartbeat > 0 {
		snapshot.AppHeartbeatAgeMS = now - appHeartbeat
	}
	if stats.AvgMS > 0 && alive > 0 {
		snapshot.RatePerMinute = float64(alive) * 60000 / float64(stats.AvgMS)
	}
	return snapshot, nil
}

// Subscribe registers a subscriber for topic patterns and returns its handle
// plus the lossy bounded delivery channel.
func (p *Plane) Subscribe(topics []string) (*broker.Subscription, <-chan types.Event) {
	return p.broker.Subscribe(topics)
}

// Unsubscribe removes a subscription. Idempotent.
func (p *Plane) Unsubscribe(sub *broker.Subscription) {
	p.broker.Unsubscribe(sub)
}

// ResetErrors returns every errored job to pending
func (p *Plane) ResetErrors() (int, error) {
	return p.queue.ResetErrors()
}

// ResetStuck returns running jobs with stale owners to pending
func (p *Plane) ResetStuck() (int, error) {
	return p.queue.ResetStuck(types.NowMS(), p.staleAfter.Milliseconds())
}

// RetentionCleanup deletes finished jobs older than ageMS
func (p *Plane) RetentionCleanup(ageMS int64) (int, error) {
	return p.queue.RetentionCleanup(ageMS)
}

// ResetRestartCount clears a failed lockout so the supervisor's monitor may
// revive the component on its next tick.
func (p *Plane) ResetRestartCount(component string) error {
	if err := supervisor.ClearLockout(p.store, component); err != nil {
		return err
	}
	p.logger.Info().Str("component", component).Msg("Restart count reset")
	return nil
}

// CalibrationStatus returns every tag head's calibration state
func (p *Plane) CalibrationStatus() ([]*types.Calibration, error) {
	return p.cal.List()
}

// ResetCalibration returns one head to uncalibrated
func (p *Plane) ResetCalibration(head string) error {
	return p.cal.Reset(head)
}
