package metrics

import (
	"time"

	"github.com/xiaden/nomarr/pkg/storage"
	"github.com/xiaden/nomarr/pkg/types"
)

// Collector periodically refreshes the gauge metrics from the store. Counters
// are incremented at their call sites; gauges are derived state and polled
// here so they stay correct across worker process restarts.
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectJobMetrics()
	c.collectWorkerMetrics()
}

func (c *Collector) collectJobMetrics() {
	counts, err := c.store.CountJobsByStatus()
	if err != nil {
		return
	}
	for _, status := range []types.JobStatus{types.JobPending, types.JobRunning, types.JobDone, types.JobError} {
		JobsTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func (c *Collector) collectWorkerMetrics() {
	records, err := c.store.ListHealth()
	if err != nil {
		return
	}

	statusCounts := make(map[types.HealthStatus]int)
	for _, h := range records {
		if h.Component == types.AppComponent {
			continue
		}
		statusCounts[h.Status]++
	}
	for _, status := range []types.HealthStatus{
		types.HealthStarting, types.HealthHealthy, types.HealthStopping,
		types.HealthStopped, types.HealthCrashed, types.HealthFailed,
	} {
		WorkersTotal.WithLabelValues(string(status)).Set(float64(statusCounts[status]))
	}
}
