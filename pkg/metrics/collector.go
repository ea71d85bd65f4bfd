package metrics

import (
	"time"
)

// FleetSource exposes the in-flight counts the collector samples.
// Implemented by the manager; kept as an interface so this package
// never imports pkg/manager.
type FleetSource interface {
	ActiveOperationCount() int
	ActiveWindowCount() int
}

// Collector periodically samples gauge values from the manager
type Collector struct {
	source FleetSource
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source FleetSource) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
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
	OperationsActive.Set(float64(c.source.ActiveOperationCount()))
	MaintenanceWindowsActive.Set(float64(c.source.ActiveWindowCount()))
}
