package metrics

import (
	"time"

	"github.com/campusgrid/campusgrid/pkg/store"
	"github.com/campusgrid/campusgrid/pkg/types"
)

// Collector periodically samples the store into the fleet and job gauges.
// Counters and histograms are updated at their call sites; only the
// point-in-time gauges need polling.
type Collector struct {
	store  store.Store
	stopCh chan struct{}
}

// NewCollector creates a collector over the given store
func NewCollector(st store.Store) *Collector {
	return &Collector{
		store:  st,
		stopCh: make(chan struct{}),
	}
}

// Start begins the sampling loop
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
	c.collectWorkers()
	c.collectJobs()
}

func (c *Collector) collectWorkers() {
	workers, err := c.store.ListWorkers()
	if err != nil {
		return
	}

	counts := map[types.WorkerStatus]int{
		types.WorkerStatusOffline: 0,
		types.WorkerStatusOnline:  0,
		types.WorkerStatusBusy:    0,
		types.WorkerStatusPaused:  0,
	}
	for _, w := range workers {
		counts[w.Status]++
	}
	for status, count := range counts {
		WorkersTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *Collector) collectJobs() {
	stats, err := c.store.QueueStats()
	if err != nil {
		return
	}

	JobsTotal.WithLabelValues(string(types.JobStatusPending)).Set(float64(stats.Pending))
	JobsTotal.WithLabelValues(string(types.JobStatusRunning)).Set(float64(stats.Running))
	JobsTotal.WithLabelValues(string(types.JobStatusCompleted)).Set(float64(stats.Completed))
	JobsTotal.WithLabelValues(string(types.JobStatusFailed)).Set(float64(stats.Failed))
}
