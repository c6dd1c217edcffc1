// Package sinks implements concrete progress consumers: an in-place console
// line, structured logging, and Prometheus gauges. Each sink satisfies the
// progress.Sink interface.
package sinks
