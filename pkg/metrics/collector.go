package metrics

import (
	"time"
)

// NodeLister is satisfied by the cluster membership store. It is a small
// interface here so metrics stays independent of the cluster package.
type NodeLister interface {
	ListNodes() ([]NodeSummary, error)
}

// NodeSummary is the subset of cluster membership state the collector needs.
type NodeSummary struct {
	Role  string
	Stale bool
}

// StagingStater is satisfied by the staging engine.
type StagingStater interface {
	BytesInUse() int64
	OpenFileCount() int
}

// Collector periodically samples cluster membership and the staging engine
// and republishes their state as gauges.
type Collector struct {
	nodes   NodeLister
	staging StagingStater
	stopCh  chan struct{}
}

// NewCollector creates a metrics collector. staging may be nil if the node
// only runs the querier role.
func NewCollector(nodes NodeLister, staging StagingStater) *Collector {
	return &Collector{
		nodes:   nodes,
		staging: staging,
		stopCh:  make(chan struct{}),
	}
}

// Start begins periodic collection in a background goroutine.
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

// Stop halts collection.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectClusterMetrics()
	c.collectStagingMetrics()
}

func (c *Collector) collectClusterMetrics() {
	if c.nodes == nil {
		return
	}

	nodes, err := c.nodes.ListNodes()
	if err != nil {
		return
	}

	counts := make(map[string]int)
	for _, n := range nodes {
		if n.Stale {
			continue
		}
		counts[n.Role]++
	}

	for role, count := range counts {
		ClusterNodesTotal.WithLabelValues(role).Set(float64(count))
	}
}

func (c *Collector) collectStagingMetrics() {
	if c.staging == nil {
		return
	}

	StagingBytesInUse.Set(float64(c.staging.BytesInUse()))
	StagingOpenFiles.Set(float64(c.staging.OpenFileCount()))
}
