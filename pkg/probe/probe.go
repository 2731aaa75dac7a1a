package probe

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidemark/flotilla/pkg/clock"
	"github.com/tidemark/flotilla/pkg/failover"
	"github.com/tidemark/flotilla/pkg/log"
	"github.com/tidemark/flotilla/pkg/registry"
	"github.com/tidemark/flotilla/pkg/types"
)

// healthyRatio is the minimum share of ready nodes for a region to count
// as healthy
const healthyRatio = 0.5

// Prober synthesizes health checks for every region registered with the
// failover manager by reading node state from the registry. A region is
// healthy when at least one node is ready and at least half of its nodes
// are ready.
type Prober struct {
	mu       sync.Mutex
	clock    clock.Clock
	registry registry.NodeRegistry
	failover *failover.Manager
	timers   map[string]clock.Timer
	running  bool
	logger   zerolog.Logger
}

// NewProber creates a health prober
func NewProber(clk clock.Clock, reg registry.NodeRegistry, fm *failover.Manager) *Prober {
	return &Prober{
		clock:    clk,
		registry: reg,
		failover: fm,
		timers:   make(map[string]clock.Timer),
		logger:   log.WithComponent("probe"),
	}
}

// Start schedules periodic probes for every registered region at its
// configured check interval. A second start while running is a no-op.
func (p *Prober) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true
	for _, regionID := range p.failover.Regions() {
		p.scheduleLocked(regionID)
	}
}

func (p *Prober) scheduleLocked(regionID string) {
	status := p.failover.GetState(regionID)
	if status == nil {
		return
	}
	p.timers[regionID] = p.clock.AfterFunc(status.Config.CheckInterval, func() {
		p.ProbeRegion(regionID)

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.running {
			p.scheduleLocked(regionID)
		}
	})
}

// Stop cancels all scheduled probes. Safe to call when not running.
func (p *Prober) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	p.running = false
	for regionID, timer := range p.timers {
		timer.Stop()
		delete(p.timers, regionID)
	}
}

// ProbeRegion performs one health check for the region and feeds the
// result into the failover manager. Returns the synthesized result.
func (p *Prober) ProbeRegion(regionID string) types.HealthCheckResult {
	started := time.Now()
	now := p.clock.Now()

	result := types.HealthCheckResult{
		RegionID:  regionID,
		CheckedAt: now,
	}

	nodes, err := p.registry.ListByRegion(regionID)
	if err != nil {
		p.logger.Warn().Err(err).Str("region_id", regionID).Msg("node lookup failed, reporting unhealthy")
	} else {
		ready := 0
		for _, node := range nodes {
			if node.Status == types.NodeStatusReady {
				ready++
			}
		}
		result.HealthyNodes = ready
		result.TotalNodes = len(nodes)
		result.Healthy = ready > 0 && float64(ready) >= healthyRatio*float64(len(nodes))
	}

	result.ResponseTimeMs = time.Since(started).Milliseconds()
	p.failover.ProcessHealthCheck(result)
	return result
}
