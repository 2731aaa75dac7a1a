package idle

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidemark/flotilla/pkg/clock"
	"github.com/tidemark/flotilla/pkg/events"
	"github.com/tidemark/flotilla/pkg/log"
	"github.com/tidemark/flotilla/pkg/metrics"
	"github.com/tidemark/flotilla/pkg/types"
)

// Defaults for the idle lifecycle
const (
	DefaultIdleTimeout      = 5 * time.Minute
	DefaultMinSleepDuration = time.Minute
	DefaultWakeUpTime       = 30 * time.Second
	DefaultCostPerHourCents = 5
	DefaultCheckInterval    = 30 * time.Second
)

// Config holds idle manager settings. Zero values take the defaults.
type Config struct {
	// IdleTimeout is how long a node may sit Idle before auto-sleep.
	IdleTimeout time.Duration
	// MinSleepDuration is the floor below which Wake is refused.
	MinSleepDuration time.Duration
	// WakeUpTime is the simulated boot delay between Waking and Active.
	WakeUpTime time.Duration
	// DefaultCostPerHourCents prices nodes registered without a cost.
	DefaultCostPerHourCents int64
}

// entry is the manager's mutable record for one node
type entry struct {
	nodeID           string
	state            types.IdleState
	idleSince        time.Time
	sleepingSince    time.Time
	totalSleepTime   time.Duration
	costPerHourCents int64
	savingsCents     int64
	autoSleepEnabled bool
	wakeTimer        clock.Timer
}

// Manager tracks the idle/sleep lifecycle of worker nodes and accumulates
// the cost savings of time spent asleep.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	clock   clock.Clock
	broker  *events.Broker
	nodes   map[string]*entry
	retired int64 // savings of unregistered nodes, keeps the total monotone

	checkTimer   clock.Timer
	checkRunning bool

	logger zerolog.Logger
}

// NewManager creates an idle manager
func NewManager(cfg Config, clk clock.Clock, broker *events.Broker) (*Manager, error) {
	if cfg.IdleTimeout < 0 || cfg.MinSleepDuration < 0 || cfg.WakeUpTime < 0 {
		return nil, fmt.Errorf("idle durations must be non-negative")
	}
	if cfg.DefaultCostPerHourCents < 0 {
		return nil, fmt.Errorf("default cost must be non-negative, got %d", cfg.DefaultCostPerHourCents)
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.MinSleepDuration == 0 {
		cfg.MinSleepDuration = DefaultMinSleepDuration
	}
	if cfg.WakeUpTime == 0 {
		cfg.WakeUpTime = DefaultWakeUpTime
	}
	if cfg.DefaultCostPerHourCents == 0 {
		cfg.DefaultCostPerHourCents = DefaultCostPerHourCents
	}
	return &Manager{
		cfg:    cfg,
		clock:  clk,
		broker: broker,
		nodes:  make(map[string]*entry),
		logger: log.WithComponent("idle"),
	}, nil
}

// RegisterNode starts tracking a node in the Active state. A zero cost takes
// the configured default.
func (m *Manager) RegisterNode(nodeID string, costPerHourCents int64, autoSleepEnabled bool) error {
	if nodeID == "" {
		return fmt.Errorf("node id is required")
	}
	if costPerHourCents < 0 {
		return fmt.Errorf("cost must be non-negative, got %d", costPerHourCents)
	}
	if costPerHourCents == 0 {
		costPerHourCents = m.cfg.DefaultCostPerHourCents
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[nodeID]; ok {
		return fmt.Errorf("node %q already registered", nodeID)
	}
	m.nodes[nodeID] = &entry{
		nodeID:           nodeID,
		state:            types.IdleStateActive,
		costPerHourCents: costPerHourCents,
		autoSleepEnabled: autoSleepEnabled,
	}
	m.logger.Info().Str("node_id", nodeID).Int64("cost_cents_per_hour", costPerHourCents).Msg("node registered for idle tracking")
	return nil
}

// UnregisterNode stops tracking a node. Savings earned so far are folded
// into the manager total, including any ongoing sleep segment.
func (m *Manager) UnregisterNode(nodeID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.nodes[nodeID]
	if !ok {
		return false
	}
	if e.state == types.IdleStateSleeping {
		m.accumulateLocked(e)
		metrics.NodesSleeping.Dec()
	}
	if e.wakeTimer != nil {
		e.wakeTimer.Stop()
	}
	m.retired += e.savingsCents
	delete(m.nodes, nodeID)
	return true
}

// MarkIdle moves a node from Active to Idle
func (m *Manager) MarkIdle(nodeID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.nodes[nodeID]
	if !ok || e.state != types.IdleStateActive {
		return false
	}
	e.state = types.IdleStateIdle
	e.idleSince = m.clock.Now()
	m.publishLocked(events.EventNodeIdle, nodeID, "node idle")
	return true
}

// MarkActive returns a node to Active from any state. Leaving Sleeping
// accumulates the segment's savings first.
func (m *Manager) MarkActive(nodeID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.nodes[nodeID]
	if !ok {
		return false
	}
	if e.state == types.IdleStateSleeping {
		m.accumulateLocked(e)
		metrics.NodesSleeping.Dec()
	}
	if e.wakeTimer != nil {
		e.wakeTimer.Stop()
		e.wakeTimer = nil
	}
	e.state = types.IdleStateActive
	e.idleSince = time.Time{}
	e.sleepingSince = time.Time{}
	m.publishLocked(events.EventNodeActive, nodeID, "node active")
	return true
}

// Sleep moves a node from Idle to Sleeping
func (m *Manager) Sleep(nodeID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sleepLocked(nodeID)
}

func (m *Manager) sleepLocked(nodeID string) bool {
	e, ok := m.nodes[nodeID]
	if !ok || e.state != types.IdleStateIdle {
		return false
	}
	e.state = types.IdleStateSleeping
	e.sleepingSince = m.clock.Now()
	e.idleSince = time.Time{}
	metrics.NodesSleeping.Inc()
	m.logger.Info().Str("node_id", nodeID).Msg("node sleeping")
	m.publishLocked(events.EventNodeSleeping, nodeID, "node sleeping")
	return true
}

// Wake starts waking a Sleeping node. Refused below the minimum sleep
// duration. The node reaches Active after the configured wake-up time.
func (m *Manager) Wake(nodeID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.nodes[nodeID]
	if !ok || e.state != types.IdleStateSleeping {
		return false
	}
	if m.clock.Now().Sub(e.sleepingSince) < m.cfg.MinSleepDuration {
		return false
	}

	m.accumulateLocked(e)
	metrics.NodesSleeping.Dec()
	e.state = types.IdleStateWaking
	m.publishLocked(events.EventNodeWaking, nodeID, "node waking")

	e.wakeTimer = m.clock.AfterFunc(m.cfg.WakeUpTime, func() {
		m.finishWake(nodeID)
	})
	return true
}

func (m *Manager) finishWake(nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.nodes[nodeID]
	if !ok || e.state != types.IdleStateWaking {
		return
	}
	e.state = types.IdleStateActive
	e.sleepingSince = time.Time{}
	e.wakeTimer = nil
	m.publishLocked(events.EventNodeAwake, nodeID, "node awake")
}

// CheckIdleNodes sends every auto-sleep node past the idle timeout to sleep
// and returns their ids.
func (m *Manager) CheckIdleNodes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	var slept []string
	for id, e := range m.nodes {
		if e.state != types.IdleStateIdle || !e.autoSleepEnabled {
			continue
		}
		if now.Sub(e.idleSince) < m.cfg.IdleTimeout {
			continue
		}
		if m.sleepLocked(id) {
			slept = append(slept, id)
		}
	}
	sort.Strings(slept)
	return slept
}

// StartIdleCheck runs CheckIdleNodes periodically until StopIdleCheck.
// A second start while running is a no-op.
func (m *Manager) StartIdleCheck(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkRunning {
		return
	}
	m.checkRunning = true
	m.scheduleCheckLocked(interval)
}

func (m *Manager) scheduleCheckLocked(interval time.Duration) {
	m.checkTimer = m.clock.AfterFunc(interval, func() {
		m.CheckIdleNodes()

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.checkRunning {
			m.scheduleCheckLocked(interval)
		}
	})
}

// StopIdleCheck stops the periodic check. Safe to call when not running.
func (m *Manager) StopIdleCheck() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.checkRunning {
		return
	}
	m.checkRunning = false
	if m.checkTimer != nil {
		m.checkTimer.Stop()
		m.checkTimer = nil
	}
}

// GetNode returns a snapshot of a node's idle tracking entry, or nil
func (m *Manager) GetNode(nodeID string) *types.IdleNodeStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.nodes[nodeID]
	if !ok {
		return nil
	}
	status := m.statusLocked(e)
	return &status
}

// ListNodes returns snapshots of every tracked node, sorted by id
func (m *Manager) ListNodes() []types.IdleNodeStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.IdleNodeStatus, 0, len(m.nodes))
	for _, e := range m.nodes {
		out = append(out, m.statusLocked(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// GetTotalSavings sums accumulated savings across all nodes, past and
// present, plus the ongoing segment of any node currently asleep.
func (m *Manager) GetTotalSavings() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	total := m.retired
	for _, e := range m.nodes {
		total += e.savingsCents
		if e.state == types.IdleStateSleeping {
			total += savingsFor(now.Sub(e.sleepingSince), e.costPerHourCents)
		}
	}
	return total
}

// accumulateLocked closes the current sleep segment into the node's
// counters. Caller holds the lock and guarantees state = Sleeping.
func (m *Manager) accumulateLocked(e *entry) {
	delta := m.clock.Now().Sub(e.sleepingSince)
	if delta < 0 {
		delta = 0
	}
	e.totalSleepTime += delta
	cents := savingsFor(delta, e.costPerHourCents)
	e.savingsCents += cents
	if cents > 0 {
		metrics.IdleSavingsCents.Add(float64(cents))
	}
}

// savingsFor is round((delta_ms / 3 600 000) * costPerHourCents)
func savingsFor(delta time.Duration, costPerHourCents int64) int64 {
	return int64(math.Round(float64(delta.Milliseconds()) / 3_600_000 * float64(costPerHourCents)))
}

func (m *Manager) statusLocked(e *entry) types.IdleNodeStatus {
	return types.IdleNodeStatus{
		NodeID:                e.nodeID,
		State:                 e.state,
		IdleSince:             e.idleSince,
		SleepingSince:         e.sleepingSince,
		TotalSleepTime:        e.totalSleepTime,
		CostPerHourCents:      e.costPerHourCents,
		EstimatedSavingsCents: e.savingsCents,
		AutoSleepEnabled:      e.autoSleepEnabled,
	}
}

func (m *Manager) publishLocked(eventType events.EventType, nodeID, message string) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{
		Type:      eventType,
		Timestamp: m.clock.Now(),
		NodeID:    nodeID,
		Message:   message,
	})
}
