package events

import (
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	EventJobStarted   EventType = "job.started"
	EventJobProgress  EventType = "job.progress"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
	EventJobCancelled EventType = "job.cancelled"

	EventFailover EventType = "failover.event"

	EventQuotaWarning  EventType = "quota.warning"
	EventQuotaExceeded EventType = "quota.exceeded"

	EventNodeIdle     EventType = "node.idle"
	EventNodeActive   EventType = "node.active"
	EventNodeSleeping EventType = "node.sleeping"
	EventNodeWaking   EventType = "node.waking"
	EventNodeAwake    EventType = "node.awake"
)

// Event represents a control plane event. The identifier fields carry enough
// context for subscribers to correlate without querying back into components.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Message   string

	JobID    string
	RegionID string
	EntityID string
	NodeID   string

	// Payload carries the typed event body (types.QuotaCheckResult,
	// types.FailoverEvent, ...) when one exists.
	Payload interface{}
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// subscription tracks a subscriber and its topic filter
type subscription struct {
	ch     Subscriber
	filter map[EventType]bool // nil means all topics
}

// Broker manages event subscriptions and distribution. A single dispatch
// goroutine drains the publish channel, so events are delivered to each
// subscriber in publish order.
type Broker struct {
	subscribers map[Subscriber]*subscription
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]*subscription),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker. Events already accepted by Publish are delivered
// before the dispatch loop exits.
func (b *Broker) Stop() {
	close(b.stopCh)
	<-b.doneCh
}

// Subscribe creates a new subscription and returns a channel. With no types
// given the subscriber receives every event; otherwise only the listed types.
func (b *Broker) Subscribe(eventTypes ...EventType) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	s := &subscription{ch: sub}
	if len(eventTypes) > 0 {
		s.filter = make(map[EventType]bool, len(eventTypes))
		for _, t := range eventTypes {
			s.filter[t] = true
		}
	}
	b.subscribers[sub] = s
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all matching subscribers
func (b *Broker) Publish(event *Event) {
	// Set timestamp if not set
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	defer close(b.doneCh)
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			// Drain anything accepted before Stop
			for {
				select {
				case event := <-b.eventCh:
					b.broadcast(event)
				default:
					return
				}
			}
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subscribers {
		if s.filter != nil && !s.filter[event.Type] {
			continue
		}
		select {
		case s.ch <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
