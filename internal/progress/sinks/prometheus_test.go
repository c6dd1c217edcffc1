package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/elastic-logger/internal/progress"
)

// TestPrometheusSinkRecordsGauges ensures gauges track the latest report.
func TestPrometheusSinkRecordsGauges(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sink.Report(ctx, progress.Report{Started: 4, Pending: 3, Completed: 1, Elapsed: time.Second}))
	require.Equal(t, 4.0, testutil.ToFloat64(sink.tasks.WithLabelValues("started")))
	require.Equal(t, 3.0, testutil.ToFloat64(sink.running))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.stopped))

	require.NoError(t, sink.Report(ctx, progress.Report{Started: 4, Completed: 4, Failed: 2, Rejected: 1, Final: true}))
	require.Equal(t, 4.0, testutil.ToFloat64(sink.tasks.WithLabelValues("completed")))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.tasks.WithLabelValues("failed")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.tasks.WithLabelValues("rejected")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.running))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.stopped))
}

// TestPrometheusSinkDuplicateRegistration verifies a second sink on one registry fails.
func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.ErrorContains(t, err, "register progress collector")
}

// TestPrometheusSinkRollsBackOnConflict verifies a failed registration leaves nothing behind.
func TestPrometheusSinkRollsBackOnConflict(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	conflicting := prometheus.NewGauge(prometheus.GaugeOpts{Name: "engine_stopped", Help: "taken"})
	require.NoError(t, reg.Register(conflicting))

	_, err := NewPrometheusSink(reg)
	require.ErrorContains(t, err, "register progress collector")

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	require.Equal(t, []string{"engine_stopped"}, names)

	reg.Unregister(conflicting)
	_, err = NewPrometheusSink(reg)
	require.NoError(t, err)
}
