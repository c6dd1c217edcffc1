// Package metrics exposes Prometheus collectors for the ingest service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels shared by the record and persist counters.
const (
	ResultSuccess   = "success"
	ResultError     = "error"
	ResultMalformed = "malformed"
	ResultSubmitted = "submitted"
	ResultRejected  = "rejected"
)

var (
	sourceRecordsTotal         prometheus.Counter
	sourceFetchErrorsTotal     prometheus.Counter
	relayDepth                 prometheus.Gauge
	ingestRecordsTotal         *prometheus.CounterVec
	persistTotal               *prometheus.CounterVec
	persistDurationSeconds     prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		sourceRecordsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "source_records_total",
				Help: "Total number of raw records fetched from the message source.",
			},
		)

		sourceFetchErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "source_fetch_errors_total",
				Help: "Total number of failed fetch calls against the message source.",
			},
		)

		relayDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_depth",
				Help: "Number of raw records buffered between the pump and the consumer.",
			},
		)

		ingestRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_records_total",
				Help: "Total number of records drained from the relay, labeled by result.",
			},
			[]string{"result"},
		)

		persistTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sink_persist_total",
				Help: "Total number of persist calls, labeled by result.",
			},
			[]string{"result"},
		)

		persistDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sink_persist_duration_seconds",
				Help:    "Histogram of persist latencies.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of status server requests, labeled by method, route and code.",
			},
			[]string{"method", "route", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of status server request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ResultLabel maps a call outcome to the success/error label.
func ResultLabel(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}

// ObserveFetch records a successful fetch that returned n records.
func ObserveFetch(n int) {
	Init()
	if n > 0 {
		sourceRecordsTotal.Add(float64(n))
	}
}

// ObserveFetchError increments the source error counter.
func ObserveFetchError() {
	Init()
	sourceFetchErrorsTotal.Inc()
}

// SetRelayDepth publishes the current relay length.
func SetRelayDepth(n int) {
	Init()
	relayDepth.Set(float64(n))
}

// ObserveRecord increments the ingest record counter for result.
func ObserveRecord(result string) {
	Init()
	ingestRecordsTotal.WithLabelValues(result).Inc()
}

// ObservePersist records the outcome and latency of one persist call.
func ObservePersist(err error, duration time.Duration) {
	Init()
	persistTotal.WithLabelValues(ResultLabel(err)).Inc()
	persistDurationSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the status server request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
