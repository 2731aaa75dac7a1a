// Package probe feeds the failover manager with synthesized health checks.
// It reads node state for each registered region from the node registry at
// the region's configured check interval and reports the region healthy
// when at least one node is ready and ready nodes are at least half the
// total.
package probe
