/*
Package jobs implements the job lifecycle tracker for the Flotilla control
plane.

The Tracker is the single authority on job state. Jobs enter as pending via
Track, move to running via MarkStarted, and leave through exactly one of the
terminal transitions (MarkCompleted, MarkFailed, MarkCancelled, MarkTimedOut).

# State machine

	pending ─► queued ─► running ─► success
	   │         │         │
	   └────┬────┴────┬────┤
	        ▼         ▼    ▼
	     failed   cancelled  timed_out   (all terminal)

The queued state is reserved for adapters modelling broker admission; the
tracker itself never produces it, but MarkStarted accepts it.

# Archival

A terminal transition moves the job from the active map into a bounded FIFO
history (default 10000 entries, oldest evicted on overflow). Archived jobs
are immutable: every mutator treats them as a no-op returning false, and
GetJob no longer resolves them — read them through GetHistory or
GetJobsByUser.

# Notifications

Each transition publishes a typed event on the shared broker while the
tracker lock is held, so notifications for one job are always delivered in
transition order.

All operations on unknown job ids return false or nil; data-driven failures
never panic.
*/
package jobs
