package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/elastic-logger/internal/app"
	"github.com/JakeFAU/elastic-logger/internal/config"
)

// useTestApp gives every invocation a quiet logger and its own registry.
func useTestApp(t *testing.T) {
	t.Helper()
	orig := newApp
	newApp = func(cfg config.Config) (*app.App, error) {
		return &app.App{Config: cfg, Logger: zap.NewNop(), Registerer: prometheus.NewRegistry()}, nil
	}
	t.Cleanup(func() { newApp = orig })
}

const memoryConfig = `
engine:
  monitor_interval: 10ms
source:
  provider: memory
sink:
  provider: memory
`

func writeConfig(t *testing.T) string {
	t.Helper()
	return writeConfigBody(t, memoryConfig)
}

func writeConfigBody(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// elasticConfig points the sink at a stub cluster that answers every request
// with an empty search result.
func elasticConfig(t *testing.T) string {
	t.Helper()
	cluster := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"acknowledged": true, "hits": {"total": {"value": 0}, "hits": []}}`)
	}))
	t.Cleanup(cluster.Close)
	return writeConfigBody(t, fmt.Sprintf(`
engine:
  monitor: false
sink:
  provider: elastic
  elastic:
    addresses: [%q]
    index: trips
`, cluster.URL))
}

func TestShowCommandUsesConfiguredSink(t *testing.T) {
	useTestApp(t)

	var out, errOut bytes.Buffer
	err := execute(context.Background(), []string{"show", "--config", writeConfig(t)}, strings.NewReader(""), &out, &errOut)
	require.NoError(t, err, errOut.String())
	assert.Contains(t, out.String(), `"documents": 0`)
}

func TestAdminCommandsReportSuccess(t *testing.T) {
	tests := []struct {
		args []string
		in   string
		want string
	}{
		{args: []string{"init"}, want: "Schema generated\n"},
		{args: []string{"query"}, in: `{"query": {"match_all": {}}}`, want: "Query finished\n"},
		{args: []string{"delete"}, want: "Index deleted\n"},
	}
	for _, tt := range tests {
		t.Run(tt.args[0], func(t *testing.T) {
			useTestApp(t)

			var out, errOut bytes.Buffer
			args := append(tt.args, "--config", elasticConfig(t))
			err := execute(context.Background(), args, strings.NewReader(tt.in), &out, &errOut)
			require.NoError(t, err, errOut.String())
			assert.True(t, strings.HasSuffix(out.String(), tt.want), "output %q", out.String())
		})
	}
}

func TestShowCommandPrintsNoTrailer(t *testing.T) {
	useTestApp(t)

	var out, errOut bytes.Buffer
	err := execute(context.Background(), []string{"show", "--config", writeConfig(t)}, strings.NewReader(""), &out, &errOut)
	require.NoError(t, err, errOut.String())
	assert.NotContains(t, out.String(), "finished")
}

func TestQueryCommandUnsupportedOnMemory(t *testing.T) {
	useTestApp(t)

	var out, errOut bytes.Buffer
	err := execute(context.Background(), []string{"query", "--config", writeConfig(t)},
		strings.NewReader(`{"query": {"match_all": {}}}`), &out, &errOut)
	require.ErrorContains(t, err, "not supported")
}

func TestIngestCommandStopsOnCancel(t *testing.T) {
	useTestApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(100*time.Millisecond, cancel)

	var out, errOut bytes.Buffer
	err := execute(ctx, []string{"ingest", "--config", writeConfig(t)}, strings.NewReader(""), &out, &errOut)
	require.NoError(t, err, errOut.String())
	assert.Contains(t, out.String(), "TaskEngine stopped.")
	assert.True(t, strings.HasSuffix(out.String(), "0 events transferred\n"), "output %q", out.String())
}

func TestIngestCommandRejectsNegativeLimit(t *testing.T) {
	useTestApp(t)

	var out, errOut bytes.Buffer
	err := execute(context.Background(), []string{"kafka", "--max-events", "-1", "--config", writeConfig(t)},
		strings.NewReader(""), &out, &errOut)
	require.ErrorContains(t, err, "--max-events")
}

func TestBadConfigFails(t *testing.T) {
	useTestApp(t)

	var out, errOut bytes.Buffer
	err := execute(context.Background(), []string{"show", "--config", filepath.Join(t.TempDir(), "missing.yaml")},
		strings.NewReader(""), &out, &errOut)
	require.ErrorContains(t, err, "load config")
}
