// Package instrumentation provides OpenTelemetry metrics and tracing for the
// authcache library. It is optional: when not configured, every component
// runs with no-op providers at zero overhead.
package instrumentation
