package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, sub Subscriber) *Event {
	t.Helper()
	select {
	case e := <-sub:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestPublishSubscribe(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Type: EventJobStarted, JobID: "j1"})

	e := recv(t, sub)
	assert.Equal(t, EventJobStarted, e.Type)
	assert.Equal(t, "j1", e.JobID)
	assert.False(t, e.Timestamp.IsZero())
}

func TestTopicFilter(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe(EventQuotaExceeded)
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Type: EventJobStarted, JobID: "j1"})
	b.Publish(&Event{Type: EventQuotaExceeded, EntityID: "u1"})

	e := recv(t, sub)
	assert.Equal(t, EventQuotaExceeded, e.Type)
	assert.Equal(t, "u1", e.EntityID)
}

func TestDeliveryOrder(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	for i := 0; i < 10; i++ {
		b.Publish(&Event{Type: EventJobProgress, JobID: "j1", Message: string(rune('a' + i))})
	}

	for i := 0; i < 10; i++ {
		e := recv(t, sub)
		require.Equal(t, string(rune('a'+i)), e.Message)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)

	_, ok := <-sub
	assert.False(t, ok)
	assert.Equal(t, 0, b.SubscriberCount())

	// Double unsubscribe is a no-op
	b.Unsubscribe(sub)
}
