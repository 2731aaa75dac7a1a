/*
Package types defines the shared data model for the Flotilla control plane.

All entities exchanged between components live here: jobs and their lifecycle
states, artifact metadata, quota definitions and usage snapshots, region
failover state, idle-node tracking entries, and the node records served by the
registry. Each entity is exclusively owned by one component; cross-component
references use opaque string identifiers, never shared pointers.

Enumerations follow the string-constant convention so values serialize cleanly
to JSON and log output:

	JobStatus:   pending, queued, running, success, failed, cancelled, timed_out
	RegionState: normal, degraded, failing_over, failed_over, failing_back
	IdleState:   active, idle, sleeping, waking

Snapshot types (RegionStatus, IdleNodeStatus, QuotaCheckResult, JobStats,
ArtifactStats) are returned by value from component accessors and are safe for
callers to retain.
*/
package types
