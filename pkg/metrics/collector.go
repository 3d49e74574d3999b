package metrics

import (
	"time"

	"github.com/kguardian-dev/kguardian/pkg/correlator"
)

// Collector periodically samples state that isn't naturally updated on
// every mutation (the correlator's size) and reflects it into gauges.
type Collector struct {
	corr   *correlator.Correlator
	stopCh chan struct{}
}

// NewCollector creates a metrics collector over the agent's correlator.
func NewCollector(corr *correlator.Correlator) *Collector {
	return &Collector{
		corr:   corr,
		stopCh: make(chan struct{}),
	}
}

// Start begins periodic collection on its own ticker goroutine.
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

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	CorrelatorSize.Set(float64(c.corr.Len()))
}
