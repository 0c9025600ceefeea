// Package telemetry turns manager events into structured log lines and
// Prometheus series.
package telemetry
