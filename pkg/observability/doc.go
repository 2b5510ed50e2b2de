/*
Package observability turns orchestrator lifecycle events into Prometheus
metrics and lets several hook sets observe the same engine.
*/
package observability
