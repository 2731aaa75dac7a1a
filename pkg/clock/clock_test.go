package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeAdvanceFiresDueTimers(t *testing.T) {
	c := NewFake(time.Unix(0, 0))

	fired := []string{}
	c.AfterFunc(10*time.Second, func() { fired = append(fired, "a") })
	c.AfterFunc(5*time.Second, func() { fired = append(fired, "b") })
	c.AfterFunc(20*time.Second, func() { fired = append(fired, "c") })

	c.Advance(12 * time.Second)

	// b (5s) before a (10s); c (20s) not yet due
	assert.Equal(t, []string{"b", "a"}, fired)

	c.Advance(10 * time.Second)
	assert.Equal(t, []string{"b", "a", "c"}, fired)
}

func TestFakeStopPreventsFiring(t *testing.T) {
	c := NewFake(time.Unix(0, 0))

	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	c.Advance(5 * time.Second)
	assert.False(t, fired)

	// Stopping again reports the timer as already gone
	assert.False(t, timer.Stop())
}

func TestFakeCallbackCanScheduleTimer(t *testing.T) {
	c := NewFake(time.Unix(0, 0))

	count := 0
	c.AfterFunc(time.Second, func() {
		count++
		c.AfterFunc(time.Second, func() { count++ })
	})

	c.Advance(3 * time.Second)
	assert.Equal(t, 2, count)
}

func TestFakeNowAdvances(t *testing.T) {
	start := time.Unix(100, 0)
	c := NewFake(start)

	assert.Equal(t, start, c.Now())
	c.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), c.Now())
}
