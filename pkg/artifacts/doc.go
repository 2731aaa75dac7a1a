/*
Package artifacts implements Flotilla's bounded content-addressed blob store
for job outputs.

Every stored blob is checksummed with SHA-256 (lowercase hex) and indexed by
both artifact id and job id. Admission enforces three caps: a per-blob size
limit, a per-job artifact count, and a global content size. Under global
pressure the store evicts strictly oldest-first by StoredAt, breaking ties by
insertion order, until the incoming blob fits; if eviction cannot free enough
space the blob is rejected with ErrCapacity and nothing changes.

Artifacts expire after a configurable TTL (default 7 days). CleanupExpired
removes them on demand and StartCleanup runs it periodically in the
background until StopCleanup.

With WithPersistence the store writes blobs through to durable storage and
Restore reloads them after a restart; durability remains the storage layer's
concern, the in-memory index stays authoritative for admission.

Rejections are admission results, not failures: Store returns nil metadata
with a sentinel reason and never panics on data-driven conditions.
*/
package artifacts
