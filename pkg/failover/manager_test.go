package failover

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidemark/flotilla/pkg/clock"
	"github.com/tidemark/flotilla/pkg/events"
	"github.com/tidemark/flotilla/pkg/types"
)

func testRegionConfig() types.RegionConfig {
	return types.RegionConfig{
		RegionID:          "r1",
		BackupRegionID:    "r2",
		FailureThreshold:  3,
		CheckInterval:     time.Second,
		FailbackDelay:     time.Minute,
		RecoveryThreshold: 2,
	}
}

func newTestManager(t *testing.T) (*Manager, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Unix(0, 0))
	m, err := NewManager(Config{}, clk, nil)
	require.NoError(t, err)
	return m, clk
}

func pushHealth(m *Manager, regionID string, healthy bool, at time.Time) bool {
	return m.ProcessHealthCheck(types.HealthCheckResult{
		RegionID:  regionID,
		Healthy:   healthy,
		CheckedAt: at,
	})
}

func TestRegisterRegionValidation(t *testing.T) {
	m, _ := newTestManager(t)

	cases := []struct {
		name   string
		mutate func(*types.RegionConfig)
	}{
		{"missing region id", func(c *types.RegionConfig) { c.RegionID = "" }},
		{"missing backup", func(c *types.RegionConfig) { c.BackupRegionID = "" }},
		{"backup equals region", func(c *types.RegionConfig) { c.BackupRegionID = c.RegionID }},
		{"zero failure threshold", func(c *types.RegionConfig) { c.FailureThreshold = 0 }},
		{"negative recovery threshold", func(c *types.RegionConfig) { c.RecoveryThreshold = -1 }},
		{"zero check interval", func(c *types.RegionConfig) { c.CheckInterval = 0 }},
		{"negative failback delay", func(c *types.RegionConfig) { c.FailbackDelay = -time.Second }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testRegionConfig()
			tc.mutate(&cfg)
			assert.Error(t, m.RegisterRegion(cfg))
		})
	}

	require.NoError(t, m.RegisterRegion(testRegionConfig()))
	status := m.GetState("r1")
	require.NotNil(t, status)
	assert.Equal(t, types.RegionStateNormal, status.State)
}

func TestFailoverThenFailback(t *testing.T) {
	m, clk := newTestManager(t)
	require.NoError(t, m.RegisterRegion(testRegionConfig()))

	// Three unhealthy checks at t=1,2,3s trip the threshold
	for i := 0; i < 3; i++ {
		clk.Advance(time.Second)
		require.True(t, pushHealth(m, "r1", false, clk.Now()))
	}
	status := m.GetState("r1")
	assert.Equal(t, types.RegionStateFailedOver, status.State)
	assert.False(t, status.FailedOverAt.IsZero())
	assert.Equal(t, "r2", m.GetActiveRegion("r1"))
	assert.Equal(t, []string{"r1"}, m.GetFailedOverRegions())

	// Healthy at t=10s: below the failback floor
	clk.Advance(7 * time.Second)
	pushHealth(m, "r1", true, clk.Now())
	assert.Equal(t, types.RegionStateFailedOver, m.GetState("r1").State)

	// Healthy at t=62s: still inside the 60s floor measured from t=3s
	clk.Advance(52 * time.Second)
	pushHealth(m, "r1", true, clk.Now())
	assert.Equal(t, types.RegionStateFailedOver, m.GetState("r1").State)

	// Healthy at t=63s: floor elapsed and recovery count satisfied
	before := len(m.GetEvents("r1", 0))
	clk.Advance(time.Second)
	pushHealth(m, "r1", true, clk.Now())

	status = m.GetState("r1")
	assert.Equal(t, types.RegionStateNormal, status.State)
	assert.True(t, status.FailedOverAt.IsZero())
	assert.Equal(t, "r1", m.GetActiveRegion("r1"))
	assert.Empty(t, m.GetFailedOverRegions())

	evs := m.GetEvents("r1", 0)
	require.Len(t, evs, before+2, "failback appends exactly the FailingBack/Normal pair")
	assert.Equal(t, types.RegionStateFailingBack, evs[len(evs)-2].State)
	assert.Equal(t, types.RegionStateNormal, evs[len(evs)-1].State)
}

func TestDegradedAtHalfThreshold(t *testing.T) {
	m, clk := newTestManager(t)
	require.NoError(t, m.RegisterRegion(testRegionConfig()))

	clk.Advance(time.Second)
	pushHealth(m, "r1", false, clk.Now())
	assert.Equal(t, types.RegionStateNormal, m.GetState("r1").State)

	// ceil(3/2) = 2 failures reach Degraded; routing is unaffected
	clk.Advance(time.Second)
	pushHealth(m, "r1", false, clk.Now())
	assert.Equal(t, types.RegionStateDegraded, m.GetState("r1").State)
	assert.Equal(t, "r1", m.GetActiveRegion("r1"))

	// A single success recovers Degraded to Normal
	clk.Advance(time.Second)
	pushHealth(m, "r1", true, clk.Now())
	assert.Equal(t, types.RegionStateNormal, m.GetState("r1").State)
}

func TestHysteresisBelowThreshold(t *testing.T) {
	m, clk := newTestManager(t)
	cfg := testRegionConfig()
	cfg.FailureThreshold = 5
	require.NoError(t, m.RegisterRegion(cfg))

	for i := 1; i < 5; i++ {
		clk.Advance(time.Second)
		pushHealth(m, "r1", false, clk.Now())
		state := m.GetState("r1").State
		assert.Contains(t, []types.RegionState{types.RegionStateNormal, types.RegionStateDegraded}, state,
			"below the threshold the region never fails over")
	}

	clk.Advance(time.Second)
	pushHealth(m, "r1", false, clk.Now())
	assert.Equal(t, types.RegionStateFailedOver, m.GetState("r1").State)
}

func TestCountersMutuallyExclusive(t *testing.T) {
	m, clk := newTestManager(t)
	cfg := testRegionConfig()
	cfg.FailureThreshold = 10
	require.NoError(t, m.RegisterRegion(cfg))

	for i := 0; i < 6; i++ {
		clk.Advance(time.Second)
		pushHealth(m, "r1", i%2 == 0, clk.Now())
		status := m.GetState("r1")
		assert.True(t, status.ConsecutiveFailures == 0 || status.ConsecutiveSuccesses == 0)
	}
}

func TestFailbackFloorHoldsUnderManySuccesses(t *testing.T) {
	m, clk := newTestManager(t)
	require.NoError(t, m.RegisterRegion(testRegionConfig()))

	for i := 0; i < 3; i++ {
		clk.Advance(time.Second)
		pushHealth(m, "r1", false, clk.Now())
	}
	require.Equal(t, types.RegionStateFailedOver, m.GetState("r1").State)

	// 50 successes within the floor never fail back
	for i := 0; i < 50; i++ {
		clk.Advance(time.Second)
		pushHealth(m, "r1", true, clk.Now())
		assert.Equal(t, types.RegionStateFailedOver, m.GetState("r1").State)
	}
}

func TestForceFailoverAndFailback(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.RegisterRegion(testRegionConfig()))

	assert.True(t, m.ForceFailover("r1", "maintenance window"))
	assert.Equal(t, types.RegionStateFailedOver, m.GetState("r1").State)
	assert.Equal(t, "r2", m.GetActiveRegion("r1"))

	// Already failed over
	assert.False(t, m.ForceFailover("r1", ""))

	assert.True(t, m.ForceFailback("r1"))
	assert.Equal(t, types.RegionStateNormal, m.GetState("r1").State)
	assert.Equal(t, "r1", m.GetActiveRegion("r1"))

	// Failback from Normal is refused
	assert.False(t, m.ForceFailback("r1"))
}

func TestUnknownRegion(t *testing.T) {
	m, clk := newTestManager(t)

	assert.False(t, pushHealth(m, "nope", false, clk.Now()))
	assert.False(t, m.ForceFailover("nope", ""))
	assert.False(t, m.ForceFailback("nope"))
	assert.Nil(t, m.GetState("nope"))
	assert.Nil(t, m.GetEvents("nope", 0))
	assert.Equal(t, "nope", m.GetActiveRegion("nope"))
}

func TestEventHistoryBounded(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	m, err := NewManager(Config{MaxEventHistory: 4}, clk, nil)
	require.NoError(t, err)
	require.NoError(t, m.RegisterRegion(testRegionConfig()))

	// Each force cycle appends 4 events
	for i := 0; i < 5; i++ {
		clk.Advance(time.Second)
		require.True(t, m.ForceFailover("r1", fmt.Sprintf("cycle %d", i)))
		clk.Advance(time.Second)
		require.True(t, m.ForceFailback("r1"))
	}

	evs := m.GetEvents("r1", 0)
	require.Len(t, evs, 4)
	assert.Equal(t, types.RegionStateNormal, evs[3].State, "newest events survive eviction")

	limited := m.GetEvents("r1", 2)
	require.Len(t, limited, 2)
	assert.Equal(t, evs[2], limited[0])
}

func TestCompositeTransitionPublishesBothSteps(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	m, err := NewManager(Config{}, clk, broker)
	require.NoError(t, err)
	sub := broker.Subscribe(events.EventFailover)
	require.NoError(t, m.RegisterRegion(testRegionConfig()))

	for i := 0; i < 3; i++ {
		clk.Advance(time.Second)
		pushHealth(m, "r1", false, clk.Now())
	}

	var states []types.RegionState
	for i := 0; i < 3; i++ {
		select {
		case ev := <-sub:
			event, ok := ev.Payload.(types.FailoverEvent)
			require.True(t, ok)
			states = append(states, event.State)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for failover events")
		}
	}
	assert.Equal(t, []types.RegionState{
		types.RegionStateDegraded,
		types.RegionStateFailingOver,
		types.RegionStateFailedOver,
	}, states, "events arrive in transition order")
}

func TestThresholdOneSkipsDegraded(t *testing.T) {
	m, clk := newTestManager(t)
	cfg := testRegionConfig()
	cfg.FailureThreshold = 1
	require.NoError(t, m.RegisterRegion(cfg))

	clk.Advance(time.Second)
	pushHealth(m, "r1", false, clk.Now())
	assert.Equal(t, types.RegionStateFailedOver, m.GetState("r1").State)

	evs := m.GetEvents("r1", 0)
	for _, ev := range evs {
		assert.NotEqual(t, types.RegionStateDegraded, ev.State)
	}
}
