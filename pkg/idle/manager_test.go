package idle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidemark/flotilla/pkg/clock"
	"github.com/tidemark/flotilla/pkg/events"
	"github.com/tidemark/flotilla/pkg/types"
)

func newTestManager(t *testing.T, cfg Config) (*Manager, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Unix(1000, 0))
	m, err := NewManager(cfg, clk, nil)
	require.NoError(t, err)
	return m, clk
}

func TestRegisterDefaults(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	require.NoError(t, m.RegisterNode("n1", 0, true))
	status := m.GetNode("n1")
	require.NotNil(t, status)
	assert.Equal(t, types.IdleStateActive, status.State)
	assert.Equal(t, int64(DefaultCostPerHourCents), status.CostPerHourCents)
	assert.True(t, status.AutoSleepEnabled)

	assert.Error(t, m.RegisterNode("n1", 0, true), "duplicate registration refused")
	assert.Error(t, m.RegisterNode("", 0, true))
	assert.Error(t, m.RegisterNode("n2", -1, true))
}

func TestConfigValidation(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	_, err := NewManager(Config{IdleTimeout: -time.Second}, clk, nil)
	assert.Error(t, err)
	_, err = NewManager(Config{DefaultCostPerHourCents: -5}, clk, nil)
	assert.Error(t, err)
}

func TestIdleSleepWakeCycle(t *testing.T) {
	m, clk := newTestManager(t, Config{})
	require.NoError(t, m.RegisterNode("n", 600, true))

	// Active -> Idle at t=0
	require.True(t, m.MarkIdle("n"))
	assert.False(t, m.MarkIdle("n"), "markIdle only from Active")

	// Auto-check at t=400s crosses the 300s idle timeout
	clk.Advance(400 * time.Second)
	assert.Equal(t, []string{"n"}, m.CheckIdleNodes())
	status := m.GetNode("n")
	assert.Equal(t, types.IdleStateSleeping, status.State)
	assert.True(t, status.IdleSince.IsZero())
	assert.False(t, status.SleepingSince.IsZero())

	// Wake at +30s is below the 60s sleep floor
	clk.Advance(30 * time.Second)
	assert.False(t, m.Wake("n"))
	assert.Equal(t, types.IdleStateSleeping, m.GetNode("n").State)

	// Wake at +120s succeeds and banks the savings
	clk.Advance(90 * time.Second)
	require.True(t, m.Wake("n"))

	status = m.GetNode("n")
	assert.Equal(t, types.IdleStateWaking, status.State)
	assert.Equal(t, 120*time.Second, status.TotalSleepTime)
	assert.Equal(t, int64(20), status.EstimatedSavingsCents, "round(120000/3600000 * 600)")

	// The wake-up delay elapses and the node is active again
	clk.Advance(30 * time.Second)
	status = m.GetNode("n")
	assert.Equal(t, types.IdleStateActive, status.State)
	assert.True(t, status.SleepingSince.IsZero())
}

func TestSleepOnlyFromIdle(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	require.NoError(t, m.RegisterNode("n", 0, true))

	assert.False(t, m.Sleep("n"), "sleep only from Idle")
	require.True(t, m.MarkIdle("n"))
	assert.True(t, m.Sleep("n"))
	assert.False(t, m.Sleep("n"))
}

func TestMarkActiveAccumulatesFromSleeping(t *testing.T) {
	m, clk := newTestManager(t, Config{})
	require.NoError(t, m.RegisterNode("n", 3600, true))

	require.True(t, m.MarkIdle("n"))
	require.True(t, m.Sleep("n"))
	clk.Advance(time.Hour)

	require.True(t, m.MarkActive("n"))
	status := m.GetNode("n")
	assert.Equal(t, types.IdleStateActive, status.State)
	assert.Equal(t, int64(3600), status.EstimatedSavingsCents)
	assert.Equal(t, time.Hour, status.TotalSleepTime)
}

func TestMarkActiveCancelsPendingWake(t *testing.T) {
	m, clk := newTestManager(t, Config{})
	require.NoError(t, m.RegisterNode("n", 0, true))

	require.True(t, m.MarkIdle("n"))
	require.True(t, m.Sleep("n"))
	clk.Advance(2 * time.Minute)
	require.True(t, m.Wake("n"))

	// A manual activation during Waking wins; the timer must not regress it
	require.True(t, m.MarkActive("n"))
	clk.Advance(time.Minute)
	assert.Equal(t, types.IdleStateActive, m.GetNode("n").State)
}

func TestSavingsMonotone(t *testing.T) {
	m, clk := newTestManager(t, Config{})
	require.NoError(t, m.RegisterNode("a", 600, true))
	require.NoError(t, m.RegisterNode("b", 1200, true))

	last := m.GetTotalSavings()
	step := func() {
		now := m.GetTotalSavings()
		assert.GreaterOrEqual(t, now, last)
		last = now
	}

	require.True(t, m.MarkIdle("a"))
	require.True(t, m.Sleep("a"))
	step()

	// Ongoing sleep counts toward the total before any wake
	clk.Advance(30 * time.Minute)
	assert.Equal(t, int64(300), m.GetTotalSavings())
	step()

	require.True(t, m.MarkIdle("b"))
	require.True(t, m.Sleep("b"))
	clk.Advance(30 * time.Minute)
	step()

	require.True(t, m.Wake("a"))
	step()

	// Unregistering keeps banked savings in the total
	require.True(t, m.UnregisterNode("a"))
	step()
	require.True(t, m.UnregisterNode("b"))
	step()
	assert.Equal(t, last, m.GetTotalSavings())
}

func TestCheckIdleNodesRespectsAutoSleepFlag(t *testing.T) {
	m, clk := newTestManager(t, Config{IdleTimeout: time.Minute})
	require.NoError(t, m.RegisterNode("auto", 0, true))
	require.NoError(t, m.RegisterNode("manual", 0, false))
	require.NoError(t, m.RegisterNode("fresh", 0, true))

	require.True(t, m.MarkIdle("auto"))
	require.True(t, m.MarkIdle("manual"))
	clk.Advance(2 * time.Minute)
	require.True(t, m.MarkIdle("fresh"))

	assert.Equal(t, []string{"auto"}, m.CheckIdleNodes())
	assert.Equal(t, types.IdleStateIdle, m.GetNode("manual").State)
	assert.Equal(t, types.IdleStateIdle, m.GetNode("fresh").State)
}

func TestPeriodicIdleCheck(t *testing.T) {
	m, clk := newTestManager(t, Config{IdleTimeout: time.Minute})
	require.NoError(t, m.RegisterNode("n", 0, true))
	require.True(t, m.MarkIdle("n"))

	m.StartIdleCheck(30 * time.Second)
	m.StartIdleCheck(30 * time.Second) // second start is a no-op
	defer m.StopIdleCheck()

	clk.Advance(30 * time.Second)
	assert.Equal(t, types.IdleStateIdle, m.GetNode("n").State, "first tick is before the timeout")

	clk.Advance(30 * time.Second)
	assert.Equal(t, types.IdleStateSleeping, m.GetNode("n").State, "second tick lands exactly on the timeout")

	m.StopIdleCheck()
	m.StopIdleCheck() // stop after stop is safe
}

func TestUnknownNode(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	assert.False(t, m.MarkIdle("nope"))
	assert.False(t, m.MarkActive("nope"))
	assert.False(t, m.Sleep("nope"))
	assert.False(t, m.Wake("nope"))
	assert.False(t, m.UnregisterNode("nope"))
	assert.Nil(t, m.GetNode("nope"))
}

func TestLifecycleEvents(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	m, err := NewManager(Config{}, clk, broker)
	require.NoError(t, err)
	sub := broker.Subscribe(
		events.EventNodeIdle, events.EventNodeSleeping,
		events.EventNodeWaking, events.EventNodeAwake,
	)

	require.NoError(t, m.RegisterNode("n", 0, true))
	require.True(t, m.MarkIdle("n"))
	require.True(t, m.Sleep("n"))
	clk.Advance(2 * time.Minute)
	require.True(t, m.Wake("n"))
	clk.Advance(time.Minute)

	want := []events.EventType{
		events.EventNodeIdle,
		events.EventNodeSleeping,
		events.EventNodeWaking,
		events.EventNodeAwake,
	}
	for _, expected := range want {
		select {
		case ev := <-sub:
			assert.Equal(t, expected, ev.Type)
			assert.Equal(t, "n", ev.NodeID)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", expected)
		}
	}
}
