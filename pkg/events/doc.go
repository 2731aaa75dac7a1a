/*
Package events provides the in-memory pub/sub broker connecting Flotilla's
components to their subscribers.

Every component publishes typed events (job lifecycle notifications, failover
transitions, quota warnings, idle-node state changes) through a shared Broker.
A single dispatch goroutine drains the publish channel and fans events out to
subscriber channels, which gives two guarantees:

  - events are delivered to each subscriber in publish order, so per-job
    notifications and per-region failover events arrive in transition order;
  - slow handlers cannot stall publishers — each subscriber has a bounded
    buffer and a full subscriber is skipped rather than blocked on.

Subscriptions can be filtered by event type:

	sub := broker.Subscribe(events.EventQuotaWarning, events.EventQuotaExceeded)
	defer broker.Unsubscribe(sub)
	for e := range sub {
		result := e.Payload.(types.QuotaCheckResult)
		...
	}
*/
package events
