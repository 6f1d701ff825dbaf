// Package observability wires logging, tracing and Prometheus metrics.
package observability
