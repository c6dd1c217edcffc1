package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/elastic-logger/internal/progress"
)

// PrometheusSink mirrors engine counters into gauges on every report.
type PrometheusSink struct {
	tasks   *prometheus.GaugeVec
	running prometheus.Gauge
	uptime  prometheus.Gauge
	stopped prometheus.Gauge
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		tasks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_tasks",
			Help: "Engine task counters as of the last monitor report, partitioned by counter.",
		}, []string{"counter"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_tasks_pending",
			Help: "Tasks admitted and not yet finished.",
		}),
		uptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_uptime_seconds",
			Help: "Seconds since the engine started.",
		}),
		stopped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_stopped",
			Help: "1 once the engine has published its final report.",
		}),
	}
	collectors := []prometheus.Collector{s.tasks, s.running, s.uptime, s.stopped}
	for i, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			for _, registered := range collectors[:i] {
				reg.Unregister(registered)
			}
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Report sets every gauge from r.
func (s *PrometheusSink) Report(_ context.Context, r progress.Report) error {
	s.tasks.WithLabelValues("started").Set(float64(r.Started))
	s.tasks.WithLabelValues("completed").Set(float64(r.Completed))
	s.tasks.WithLabelValues("failed").Set(float64(r.Failed))
	s.tasks.WithLabelValues("rejected").Set(float64(r.Rejected))
	s.running.Set(float64(r.Pending))
	s.uptime.Set(r.Elapsed.Seconds())
	if r.Final {
		s.stopped.Set(1)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
