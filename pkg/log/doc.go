/*
Package log provides Flotilla's structured logging built on zerolog.

Init configures the global logger once at process start; packages obtain child
loggers with WithComponent and attach correlation fields (job_id, region_id,
entity_id, node_id) so every emitted line can be traced back to the entity it
concerns without querying component state.
*/
package log
