package failover

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidemark/flotilla/pkg/clock"
	"github.com/tidemark/flotilla/pkg/events"
	"github.com/tidemark/flotilla/pkg/log"
	"github.com/tidemark/flotilla/pkg/metrics"
	"github.com/tidemark/flotilla/pkg/types"
)

// DefaultMaxEventHistory bounds the per-region transition log
const DefaultMaxEventHistory = 100

// Config holds manager-wide settings
type Config struct {
	// MaxEventHistory caps each region's event log; oldest entries are
	// evicted on overflow. Zero means DefaultMaxEventHistory.
	MaxEventHistory int
}

// region is the manager's mutable record for one registered region
type region struct {
	config               types.RegionConfig
	state                types.RegionState
	consecutiveFailures  int
	consecutiveSuccesses int
	failedOverAt         time.Time
	lastCheckAt          time.Time
	events               []types.FailoverEvent
}

// Manager runs the per-region failover state machine. Health observations go
// in through ProcessHealthCheck; routing decisions come out of
// GetActiveRegion. Hysteresis (a degraded intermediate state, a failback
// delay floor, and a recovery success count) keeps a flapping region from
// bouncing traffic.
type Manager struct {
	mu         sync.RWMutex
	clock      clock.Clock
	broker     *events.Broker
	regions    map[string]*region
	maxHistory int
	logger     zerolog.Logger
}

// NewManager creates a failover manager
func NewManager(cfg Config, clk clock.Clock, broker *events.Broker) (*Manager, error) {
	if cfg.MaxEventHistory < 0 {
		return nil, fmt.Errorf("max event history must be non-negative, got %d", cfg.MaxEventHistory)
	}
	if cfg.MaxEventHistory == 0 {
		cfg.MaxEventHistory = DefaultMaxEventHistory
	}
	return &Manager{
		clock:      clk,
		broker:     broker,
		regions:    make(map[string]*region),
		maxHistory: cfg.MaxEventHistory,
		logger:     log.WithComponent("failover"),
	}, nil
}

// RegisterRegion adds a region in the Normal state with zeroed counters.
// Re-registering an existing region replaces its config and resets it.
func (m *Manager) RegisterRegion(config types.RegionConfig) error {
	if config.RegionID == "" {
		return fmt.Errorf("region id is required")
	}
	if config.BackupRegionID == "" {
		return fmt.Errorf("backup region id is required")
	}
	if config.BackupRegionID == config.RegionID {
		return fmt.Errorf("backup region must differ from region %q", config.RegionID)
	}
	if config.FailureThreshold <= 0 {
		return fmt.Errorf("failure threshold must be positive, got %d", config.FailureThreshold)
	}
	if config.RecoveryThreshold <= 0 {
		return fmt.Errorf("recovery threshold must be positive, got %d", config.RecoveryThreshold)
	}
	if config.CheckInterval <= 0 {
		return fmt.Errorf("check interval must be positive, got %s", config.CheckInterval)
	}
	if config.FailbackDelay < 0 {
		return fmt.Errorf("failback delay must be non-negative, got %s", config.FailbackDelay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.regions[config.RegionID] = &region{
		config: config,
		state:  types.RegionStateNormal,
	}
	metrics.SetRegionState(config.RegionID, string(types.RegionStateNormal))

	m.logger.Info().
		Str("region_id", config.RegionID).
		Str("backup_region_id", config.BackupRegionID).
		Int("failure_threshold", config.FailureThreshold).
		Msg("region registered")
	return nil
}

// ProcessHealthCheck feeds one health observation into the region's state
// machine. Returns false for an unknown region.
func (m *Manager) ProcessHealthCheck(result types.HealthCheckResult) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.regions[result.RegionID]
	if !ok {
		return false
	}

	now := m.clock.Now()
	r.lastCheckAt = now

	if result.Healthy {
		m.handleHealthy(r, now)
	} else {
		m.handleUnhealthy(r, now)
	}
	return true
}

func (m *Manager) handleHealthy(r *region, now time.Time) {
	r.consecutiveFailures = 0
	r.consecutiveSuccesses++

	switch r.state {
	case types.RegionStateDegraded:
		m.transition(r, types.RegionStateNormal, "health restored", now)
	case types.RegionStateFailedOver:
		if now.Sub(r.failedOverAt) < r.config.FailbackDelay {
			return
		}
		if r.consecutiveSuccesses < r.config.RecoveryThreshold {
			return
		}
		// Composite transition: both steps under the same lock hold
		m.transition(r, types.RegionStateFailingBack, "recovery conditions met", now)
		m.transition(r, types.RegionStateNormal, "failback complete", now)
		r.failedOverAt = time.Time{}
		metrics.FailoversTotal.WithLabelValues(r.config.RegionID, "failback").Inc()
	}
}

func (m *Manager) handleUnhealthy(r *region, now time.Time) {
	r.consecutiveSuccesses = 0
	r.consecutiveFailures++

	degradeAt := (r.config.FailureThreshold + 1) / 2 // ceil(threshold/2)
	if r.state == types.RegionStateNormal && r.consecutiveFailures >= degradeAt &&
		r.consecutiveFailures < r.config.FailureThreshold {
		m.transition(r, types.RegionStateDegraded, "failure threshold approaching", now)
	}

	if r.consecutiveFailures >= r.config.FailureThreshold &&
		r.state != types.RegionStateFailingOver && r.state != types.RegionStateFailedOver {
		m.failover(r, "failure threshold reached", now)
	}
}

// failover performs the composite FailingOver -> FailedOver transition.
// Caller holds the lock.
func (m *Manager) failover(r *region, reason string, now time.Time) {
	m.transition(r, types.RegionStateFailingOver, reason, now)
	m.transition(r, types.RegionStateFailedOver, "traffic moved to "+r.config.BackupRegionID, now)
	r.failedOverAt = now
	metrics.FailoversTotal.WithLabelValues(r.config.RegionID, "failover").Inc()
}

// transition moves the region to a new state, appends to the event log, and
// publishes. Caller holds the lock.
func (m *Manager) transition(r *region, to types.RegionState, reason string, now time.Time) {
	event := types.FailoverEvent{
		FromRegion: r.config.RegionID,
		ToRegion:   r.config.BackupRegionID,
		State:      to,
		Reason:     reason,
		Timestamp:  now,
	}
	r.state = to
	r.events = append(r.events, event)
	if len(r.events) > m.maxHistory {
		r.events = r.events[len(r.events)-m.maxHistory:]
	}
	metrics.SetRegionState(r.config.RegionID, string(to))

	m.logger.Info().
		Str("region_id", r.config.RegionID).
		Str("state", string(to)).
		Str("reason", reason).
		Msg("region state transition")

	if m.broker != nil {
		m.broker.Publish(&events.Event{
			Type:      events.EventFailover,
			Timestamp: now,
			RegionID:  r.config.RegionID,
			Message:   reason,
			Payload:   event,
		})
	}
}

// ForceFailover manually fails the region over, bypassing the counters.
// Returns false for an unknown region or one already failed over.
func (m *Manager) ForceFailover(regionID, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.regions[regionID]
	if !ok {
		return false
	}
	if r.state == types.RegionStateFailingOver || r.state == types.RegionStateFailedOver {
		return false
	}
	if reason == "" {
		reason = "manual failover"
	}
	now := m.clock.Now()
	r.consecutiveFailures = 0
	r.consecutiveSuccesses = 0
	m.failover(r, reason, now)
	return true
}

// ForceFailback manually returns a failed-over region to Normal, bypassing
// the delay floor and recovery count. Returns false unless state = FailedOver.
func (m *Manager) ForceFailback(regionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.regions[regionID]
	if !ok || r.state != types.RegionStateFailedOver {
		return false
	}
	now := m.clock.Now()
	r.consecutiveFailures = 0
	r.consecutiveSuccesses = 0
	m.transition(r, types.RegionStateFailingBack, "manual failback", now)
	m.transition(r, types.RegionStateNormal, "failback complete", now)
	r.failedOverAt = time.Time{}
	metrics.FailoversTotal.WithLabelValues(regionID, "failback").Inc()
	return true
}

// GetActiveRegion returns the backup region id iff the region is failed
// over, otherwise the region id itself. Unknown regions route to themselves.
func (m *Manager) GetActiveRegion(regionID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.regions[regionID]
	if !ok || r.state != types.RegionStateFailedOver {
		return regionID
	}
	return r.config.BackupRegionID
}

// GetState returns a snapshot of the region's state, or nil if unknown
func (m *Manager) GetState(regionID string) *types.RegionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.regions[regionID]
	if !ok {
		return nil
	}
	return &types.RegionStatus{
		Config:               r.config,
		State:                r.state,
		ConsecutiveFailures:  r.consecutiveFailures,
		ConsecutiveSuccesses: r.consecutiveSuccesses,
		FailedOverAt:         r.failedOverAt,
		LastCheckAt:          r.lastCheckAt,
	}
}

// GetEvents returns the region's most recent transitions in append order.
// A limit of 0 returns the full retained log.
func (m *Manager) GetEvents(regionID string, limit int) []types.FailoverEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.regions[regionID]
	if !ok {
		return nil
	}
	evs := r.events
	if limit > 0 && limit < len(evs) {
		evs = evs[len(evs)-limit:]
	}
	out := make([]types.FailoverEvent, len(evs))
	copy(out, evs)
	return out
}

// GetFailedOverRegions lists region ids currently in the FailedOver state
func (m *Manager) GetFailedOverRegions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for id, r := range m.regions {
		if r.state == types.RegionStateFailedOver {
			out = append(out, id)
		}
	}
	return out
}

// Regions lists all registered region ids
func (m *Manager) Regions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.regions))
	for id := range m.regions {
		out = append(out, id)
	}
	return out
}
