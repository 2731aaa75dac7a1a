package quota

import (
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidemark/flotilla/pkg/clock"
	"github.com/tidemark/flotilla/pkg/events"
	"github.com/tidemark/flotilla/pkg/log"
	"github.com/tidemark/flotilla/pkg/metrics"
	"github.com/tidemark/flotilla/pkg/types"
)

// dateLayout is the UTC date format for the daily build counter roll
const dateLayout = "2006-01-02"

// Unlimited is the limit reported when no quota is defined for an entity
const Unlimited = int64(math.MaxInt64)

// Manager enforces per-entity quotas. It stores administrative quota
// definitions, the latest usage snapshot per entity, and answers admission
// checks; warning and exceeded signals are published on the broker.
type Manager struct {
	mu        sync.RWMutex
	clock     clock.Clock
	broker    *events.Broker
	quotas    map[string]*types.QuotaDefinition
	snapshots map[string]*types.QuotaUsageSnapshot
	logger    zerolog.Logger
}

// NewManager creates a quota manager
func NewManager(clk clock.Clock, broker *events.Broker) *Manager {
	return &Manager{
		clock:     clk,
		broker:    broker,
		quotas:    make(map[string]*types.QuotaDefinition),
		snapshots: make(map[string]*types.QuotaUsageSnapshot),
		logger:    log.WithComponent("quota"),
	}
}

// SetQuota registers or replaces the quota definition for an entity
func (m *Manager) SetQuota(def types.QuotaDefinition) error {
	if def.EntityID == "" {
		return fmt.Errorf("entity id is required")
	}
	if def.WarningThresholdPercent < 0 || def.WarningThresholdPercent > 100 {
		return fmt.Errorf("warning threshold must be within [0,100], got %d", def.WarningThresholdPercent)
	}
	if def.MaxCPUMinutes < 0 || def.MaxRAMMb < 0 || def.MaxStorageMb < 0 ||
		def.MaxConcurrentJobs < 0 || def.MaxBuildsPerDay < 0 {
		return fmt.Errorf("quota limits must be non-negative")
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotas[def.EntityID] = &def

	m.logger.Info().Str("entity_id", def.EntityID).Str("quota_id", def.ID).Msg("quota set")
	return nil
}

// RemoveQuota deletes an entity's quota definition
func (m *Manager) RemoveQuota(entityID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.quotas[entityID]; !ok {
		return false
	}
	delete(m.quotas, entityID)
	return true
}

// GetQuota returns a copy of the entity's quota definition, or nil
func (m *Manager) GetQuota(entityID string) *types.QuotaDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	def, ok := m.quotas[entityID]
	if !ok {
		return nil
	}
	copied := *def
	return &copied
}

// GetUsage returns a copy of the entity's usage snapshot, or nil
func (m *Manager) GetUsage(entityID string) *types.QuotaUsageSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.snapshots[entityID]
	if !ok {
		return nil
	}
	copied := *snap
	return &copied
}

// UpdateUsage replaces the stored snapshot for the entity. When the stored
// snapshot carries an older daily reset date, BuildsToday in the incoming
// snapshot is zeroed before replacement. Warning and exceeded signals are
// evaluated for every resource type afterwards.
func (m *Manager) UpdateUsage(snapshot types.QuotaUsageSnapshot) error {
	if snapshot.EntityID == "" {
		return fmt.Errorf("entity id is required")
	}

	m.mu.Lock()
	if prev, ok := m.snapshots[snapshot.EntityID]; ok && prev.DailyResetDate < snapshot.DailyResetDate {
		snapshot.BuildsToday = 0
	}
	m.snapshots[snapshot.EntityID] = &snapshot
	m.mu.Unlock()

	m.evaluate(snapshot.EntityID)
	return nil
}

// evaluate runs a zero-draw check per resource type and publishes
// warning/exceeded events
func (m *Manager) evaluate(entityID string) {
	for _, resource := range []types.ResourceType{
		types.ResourceCPU,
		types.ResourceRAM,
		types.ResourceStorage,
		types.ResourceConcurrentJobs,
		types.ResourceBuilds,
	} {
		result := m.CheckQuota(entityID, resource, 0)
		if result.Limit == Unlimited {
			continue
		}
		switch {
		case result.CurrentUsage > result.Limit:
			m.publishBreach(events.EventQuotaExceeded, "exceeded", result)
		case result.Warning:
			m.publishBreach(events.EventQuotaWarning, "warning", result)
		}
	}
}

func (m *Manager) publishBreach(eventType events.EventType, severity string, result types.QuotaCheckResult) {
	metrics.QuotaBreaches.WithLabelValues(severity).Inc()
	m.logger.Warn().
		Str("entity_id", result.EntityID).
		Str("resource", string(result.ResourceType)).
		Int("usage_percent", result.UsagePercent).
		Msg("quota " + severity)

	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{
		Type:      eventType,
		Timestamp: m.clock.Now(),
		EntityID:  result.EntityID,
		Message:   result.Message,
		Payload:   result,
	})
}

// CheckQuota evaluates whether the entity may draw additionalUsage more of
// the resource. The result carries the projected usage, never a partial one.
func (m *Manager) CheckQuota(entityID string, resource types.ResourceType, additionalUsage int64) types.QuotaCheckResult {
	m.mu.RLock()
	def, hasQuota := m.quotas[entityID]
	snap := m.snapshots[entityID]
	m.mu.RUnlock()

	result := types.QuotaCheckResult{
		Allowed:      true,
		EntityID:     entityID,
		ResourceType: resource,
	}

	if !hasQuota {
		result.Limit = Unlimited
		result.CurrentUsage = m.currentUsage(snap, resource) + additionalUsage
		result.Message = "no quota defined"
		metrics.QuotaChecks.WithLabelValues("allowed").Inc()
		return result
	}

	result.QuotaID = def.ID
	result.Limit = m.limitFor(def, resource)
	projected := m.currentUsage(snap, resource) + additionalUsage
	result.CurrentUsage = projected
	result.UsagePercent = usagePercent(projected, result.Limit)
	result.Warning = result.UsagePercent >= def.WarningThresholdPercent

	switch {
	case projected <= result.Limit:
		result.Message = fmt.Sprintf("%s usage %d of %d", resource, projected, result.Limit)
	case !def.HardLimit:
		result.Message = fmt.Sprintf("%s soft limit exceeded: %d of %d", resource, projected, result.Limit)
	default:
		result.Allowed = false
		result.Message = fmt.Sprintf("%s quota exceeded: %d of %d", resource, projected, result.Limit)
	}

	outcome := "allowed"
	if !result.Allowed {
		outcome = "denied"
	}
	metrics.QuotaChecks.WithLabelValues(outcome).Inc()
	return result
}

// IncrementBuilds rolls the daily counter when the UTC date changed, then
// increments and returns the builds count for today.
func (m *Manager) IncrementBuilds(entityID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	today := m.clock.Now().UTC().Format(dateLayout)

	snap, ok := m.snapshots[entityID]
	if !ok {
		snap = &types.QuotaUsageSnapshot{EntityID: entityID, DailyResetDate: today}
		m.snapshots[entityID] = snap
	}
	if snap.DailyResetDate != today {
		snap.DailyResetDate = today
		snap.BuildsToday = 0
	}
	snap.BuildsToday++
	return snap.BuildsToday
}

// currentUsage reads the resource counter from the snapshot. The builds
// counter reads as zero when the snapshot's reset date is not today.
func (m *Manager) currentUsage(snap *types.QuotaUsageSnapshot, resource types.ResourceType) int64 {
	if snap == nil {
		return 0
	}
	switch resource {
	case types.ResourceCPU:
		return snap.CPUMinutesUsed
	case types.ResourceRAM:
		return snap.RAMMbUsed
	case types.ResourceStorage:
		return snap.StorageMbUsed
	case types.ResourceConcurrentJobs:
		return snap.ConcurrentJobs
	case types.ResourceBuilds:
		if snap.DailyResetDate != m.clock.Now().UTC().Format(dateLayout) {
			return 0
		}
		return snap.BuildsToday
	}
	return 0
}

func (m *Manager) limitFor(def *types.QuotaDefinition, resource types.ResourceType) int64 {
	switch resource {
	case types.ResourceCPU:
		return def.MaxCPUMinutes
	case types.ResourceRAM:
		return def.MaxRAMMb
	case types.ResourceStorage:
		return def.MaxStorageMb
	case types.ResourceConcurrentJobs:
		return def.MaxConcurrentJobs
	case types.ResourceBuilds:
		return def.MaxBuildsPerDay
	}
	return 0
}

// usagePercent is round(100 * projected / limit), guarding a zero limit
func usagePercent(projected, limit int64) int {
	if limit <= 0 {
		if projected > 0 {
			return 100
		}
		return 0
	}
	return int(math.Round(100 * float64(projected) / float64(limit)))
}
