/*
Package metrics exposes Flotilla's Prometheus collectors and the component
health registry.

Collectors are package-level and registered in init, following the
flotilla_* naming scheme: job lifecycle counters and duration histogram,
artifact store gauges and eviction counters, quota check/breach counters,
per-region failover state gauges, and idle-sleep savings.

The health registry tracks per-component liveness reported by each
subsystem; HealthHandler and ReadyHandler serve the /healthz and /readyz
endpoints, with readiness gated on the storage, jobs, and failover
components.
*/
package metrics
