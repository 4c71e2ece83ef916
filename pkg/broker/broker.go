package broker

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/xiaden/nomarr/pkg/log"
	"github.com/xiaden/nomarr/pkg/metrics"
	"github.com/xiaden/nomarr/pkg/queue"
	"github.com/xiaden/nomarr/pkg/storage"
	"github.com/xiaden/nomarr/pkg/types"
)

// Config holds broker configuration
type Config struct {
	Tick       time.Duration
	BufferSize int
}

// jobState is the broker's view of one in-flight job
type jobState struct {
	status types.JobStatus
	path   string
}

// Broker polls derived state from the store on a fixed tick, diffs it
// against its previous snapshot and fans typed events out to topic-based
// subscribers. A single poller produces all events, so per-topic ordering
// follows tick order.
type Broker struct {
	cfg    Config
	store  storage.Store
	queue  *queue.Queue
	logger zerolog.Logger
	// pollWarn is burst-sampled: tick-frequency read failures surface
	// immediately but do not flood the log for the length of an outage.
	pollWarn zerolog.Logger

	subsMu sync.RWMutex
	subs   map[uuid.UUID]*Subscription

	// Previous snapshot, owned by the poller. No other goroutine touches it.
	prevJobs    map[int64]jobState
	prevWorkers map[string]types.WorkerEvent
	prevStats   *types.StatsEvent
	prevSystem  *systemKey

	stopCh chan struct{}
	doneCh chan struct{}
}

// systemKey is the comparison tuple for system:health emission. Heartbeat
// age itself changes every tick; emitting on it would be a firehose.
type systemKey struct {
	appHeartbeat  int64
	workersAlive  int
	workersFailed int
}

// NewBroker creates a broker over an open store
func NewBroker(cfg Config, store storage.Store) *Broker {
	if cfg.Tick <= 0 {
		cfg.Tick = 500 * time.Millisecond
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	return &Broker{
		cfg:         cfg,
		store:       store,
		queue:       queue.NewQueue(store),
		logger:      log.WithComponent("broker"),
		pollWarn:    log.Sampled("broker", 5, time.Minute, 120),
		subs:        make(map[uuid.UUID]*Subscription),
		prevJobs:    make(map[int64]jobState),
		prevWorkers: make(map[string]types.WorkerEvent),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins the polling loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the poller and closes every subscription
func (b *Broker) Stop() {
	close(b.stopCh)
	<-b.doneCh

	b.subsMu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[uuid.UUID]*Subscription)
	b.subsMu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	metrics.BrokerSubscribers.Set(0)
}

// Subscribe registers a subscriber for a set of topic patterns and returns
// its handle plus the delivery channel.
func (b *Broker) Subscribe(patterns []string) (*Subscription, <-chan types.Event) {
	sub := newSubscription(patterns, b.cfg.BufferSize)

	b.subsMu.Lock()
	b.subs[sub.id] = sub
	n := len(b.subs)
	b.subsMu.Unlock()

	metrics.BrokerSubscribers.Set(float64(n))
	return sub, sub.Events()
}

// Unsubscribe removes a subscription. Idempotent.
func (b *Broker) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.subsMu.Lock()
	_, present := b.subs[sub.id]
	delete(b.subs, sub.id)
	n := len(b.subs)
	b.subsMu.Unlock()

	sub.Close()
	if present {
		metrics.BrokerSubscribers.Set(float64(n))
	}
}

func (b *Broker) run() {
	defer close(b.doneCh)
	ticker := time.NewTicker(b.cfg.Tick)
	defer ticker.Stop()

	b.logger.Info().Dur("tick", b.cfg.Tick).Msg("Broker started")
	for {
		select {
		case <-ticker.C:
			b.tick()
		case <-b.stopCh:
			b.logger.Info().Msg("Broker stopped")
			return
		}
	}
}

// tick performs one poll-diff-publish cycle
func (b *Broker) tick() {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Msg("Broker tick panicked")
		}
	}()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.BrokerTickDuration)

	now := types.NowMS()
	records, err := b.store.ListHealth()
	if err != nil {
		b.pollWarn.Warn().Err(err).Msg("Failed to read health snapshot")
		return
	}

	currentJobs := b.readCurrentJobs()
	b.diffJobs(currentJobs, now)
	b.diffWorkers(records, now)
	b.diffStats(records, now)
	b.diffSystem(records, now)
}

// readCurrentJobs builds the in-flight job view from the job:* KV namespace.
// The reverse map of job id to owning worker comes from jobOwners, which
// reads worker:*:current_job.
func (b *Broker) readCurrentJobs() map[int64]jobState {
	kv, err := b.store.ListKVPrefix("job:")
	if err != nil {
		b.pollWarn.Warn().Err(err).Msg("Failed to read job state")
		return nil
	}

	jobs := make(map[int64]jobState)
	for key, value := range kv {
		parts := strings.Split(key, ":")
		if len(parts) != 3 {
			continue
		}
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			continue
		}
		state := jobs[id]
		switch parts[2] {
		case "status":
			state.status = types.JobStatus(value)
		case "path":
			state.path = value
		}
		jobs[id] = state
	}
	return jobs
}

func (b *Broker) jobOwners() map[int64]string {
	kv, err := b.store.ListKVPrefix("worker:")
	if err != nil {
		return nil
	}
	owners := make(map[int64]string)
	for key, value := range kv {
		if !strings.HasSuffix(key, ":current_job") {
			continue
		}
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		owners[id] = strings.TrimSuffix(key, ":current_job")
	}
	return owners
}

func (b *Broker) diffJobs(current map[int64]jobState, now int64) {
	if current == nil {
		return
	}
	var owners map[int64]string

	for id, state := range current {
		prev, seen := b.prevJobs[id]
		if seen && prev == state {
			continue
		}
		if state.status == "" {
			continue
		}
		if owners == nil {
			owners = b.jobOwners()
		}

		payload := types.JobEvent{
			JobID:    id,
			Path:     state.path,
			Status:   state.status,
			WorkerID: owners[id],
		}
		if state.status == types.JobError {
			if job, err := b.store.GetJob(id); err == nil {
				payload.Error = job.ErrorMessage
			}
		}
		b.publish(types.Event{
			Type:      types.EventJob,
			Topic:     types.TopicQueueJobs,
			Payload:   payload,
			Timestamp: now,
		})
	}

	// Entries that vanished (deleted jobs, truncation) just fall out of the
	// snapshot; no tombstone event.
	b.prevJobs = current
}

func (b *Broker) diffWorkers(records []*types.Health, now int64) {
	current := make(map[string]types.WorkerEvent)
	for _, h := range records {
		if !strings.HasPrefix(h.Component, "worker:") {
			continue
		}
		current[h.Component] = types.WorkerEvent{
			Component:     h.Component,
			Status:        h.Status,
			PID:           h.PID,
			LastHeartbeat: h.LastHeartbeat,
			CurrentJob:    h.CurrentJob,
			RestartCount:  h.RestartCount,
		}
	}

	for component, ev := range current {
		if prev, seen := b.prevWorkers[component]; seen && prev == ev {
			continue
		}
		b.publish(types.Event{
			Type:      types.EventWorker,
			Topic:     types.ComponentTopic(component),
			Payload:   ev,
			Timestamp: now,
		})
	}
	b.prevWorkers = current
}

func (b *Broker) diffStats(records []*types.Health, now int64) {
	alive := 0
	for _, h := range records {
		if strings.HasPrefix(h.Component, "worker:") && h.Status == types.HealthHealthy {
			alive++
		}
	}
	stats, err := b.queue.Stats(alive)
	if err != nil {
		b.pollWarn.Warn().Err(err).Msg("Failed to compute queue stats")
		return
	}

	ev := types.StatsEvent{
		Pending: stats.Pending,
		Running: stats.Running,
		Done:    stats.Done,
		Error:   stats.Error,
		AvgMS:   stats.AvgMS,
		EtaMS:   stats.EtaMS,
	}
	if b.prevStats != nil && *b.prevStats == ev {
		return
	}
	b.prevStats = &ev
	b.publish(types.Event{
		Type:      types.EventStats,
		Topic:     types.TopicQueueStats,
		Payload:   ev,
		Timestamp: now,
	})
}

func (b *Broker) diffSystem(records []*types.Health, now int64) {
	var appHeartbeat int64
	alive, failed := 0, 0
	for _, h := range records {
		if h.Component == types.AppComponent {
			appHeartbeat = h.LastHeartbeat
			continue
		}
		if !strings.HasPrefix(h.Component, "worker:") {
			continue
		}
		switch h.Status {
		case types.HealthFailed:
			failed++
		case types.HealthHealthy, types.HealthStarting:
			alive++
		}
	}

	key := systemKey{appHeartbeat: appHeartbeat, workersAlive: alive, workersFailed: failed}
	if b.prevSystem != nil && *b.prevSystem == key {
		return
	}
	b.prevSystem = &key

	b.publish(types.Event{
		Type:  types.EventSystem,
		Topic: types.TopicSystemHealth,
		Payload: types.SystemEvent{
			AppHeartbeatAgeMS: now - appHeartbeat,
			WorkersAlive:      alive,
			WorkersFailed:     failed,
		},
		Timestamp: now,
	})
}

// publish fans one event out to every matching subscriber. Never blocks.
func (b *Broker) publish(e types.Event) {
	metrics.BrokerEventsTotal.WithLabelValues(string(e.Type)).Inc()

	b.subsMu.RLock()
	defer b.subsMu.RUnlock()
	for _, sub := range b.subs {
		if sub.matches(e.Topic) {
			sub.deliver(e)
		}
	}
}
