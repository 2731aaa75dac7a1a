/*
Package api exposes the control plane over HTTP.

Job submission goes through the dispatch layer so quota admission applies;
the remaining routes read and mutate the core components directly. Event
streaming is a websocket at /v1/events with an optional comma-separated
?types= filter. Prometheus metrics and the health/readiness probes are
served from the same listener.
*/
package api
