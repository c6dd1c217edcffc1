// Package progress carries engine progress reports from the task monitor to
// pluggable sinks such as the console line, structured logs, or Prometheus
// gauges. A Hub fans every report out to its sinks with a per-sink timeout.
package progress
