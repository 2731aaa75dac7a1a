/*
Package failover converts per-region health check streams into routing
decisions.

Each registered region runs an independent state machine:

	Normal ──failures ≥ ⌈threshold/2⌉──▶ Degraded
	Normal|Degraded ──failures ≥ threshold──▶ FailingOver ─▶ FailedOver
	Degraded ──success──▶ Normal
	FailedOver ──delay elapsed ∧ successes ≥ recovery──▶ FailingBack ─▶ Normal

The Degraded intermediate, the failback delay floor, and the recovery
success count provide hysteresis so a flapping region does not bounce
traffic. The composite pairs (FailingOver then FailedOver, FailingBack then
Normal) happen under a single lock hold; callers never observe the
intermediate states, but both steps appear in the event log and on the
broker, in order.

GetActiveRegion answers the routing question: the backup region id while
failed over, the region itself otherwise. ForceFailover and ForceFailback
bypass the counters for manual operation.

Every transition appends to a bounded per-region event log (oldest evicted)
and publishes a failover.event carrying the types.FailoverEvent.
*/
package failover
