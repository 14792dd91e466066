// Package tracing propagates event trace identifiers as W3C Trace Context.
//
// Stored events carry a trace id and span id. When an event is forwarded
// to a remote collector the request gets a traceparent header for that
// span, so the collector can join it with the agent's own traces:
//
//	traceparent: 00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01
//
// The package uses the OpenTelemetry propagation API only; no spans are
// recorded and no exporter is configured.
package tracing
