/*
Package quota enforces per-entity resource quotas for the Flotilla control
plane.

A quota applies to an entity (user, org, or plan) and limits five resource
dimensions: CPU minutes, RAM, storage, concurrent jobs, and builds per UTC
day. Usage arrives as whole snapshots via UpdateUsage; admission questions go
through CheckQuota, which evaluates projected usage (current plus requested)
against the limit:

  - within the limit: allowed, with Warning set once the configured
    threshold percentage is reached
  - over a soft limit: still allowed, flagged in the message
  - over a hard limit: denied

An entity with no quota defined is always allowed; the result reports
Unlimited so callers can distinguish "no quota" from "large quota".

The builds counter rolls at UTC midnight. IncrementBuilds resets it when the
date changed, and reads treat a stale counter as zero, so the first operation
of a new day always sees a fresh count.

UpdateUsage re-evaluates every dimension after replacing the snapshot and
publishes quota.warning / quota.exceeded events carrying the full check
result.
*/
package quota
