package runner_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gate4ai/mcpconform/internal/config"
	"github.com/gate4ai/mcpconform/internal/fakeserver"
	"github.com/gate4ai/mcpconform/internal/report"
	"github.com/gate4ai/mcpconform/internal/runner"
	"github.com/gate4ai/mcpconform/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testConfig is a minimal config.IConfig test double, in the style of
// config.InternalConfig in server/transport/transport_server_helpers_test.go.
type testConfig struct {
	protocolVersion   string
	runnerMode        config.RunnerMode
	requestTimeout    time.Duration
	testTimeout       time.Duration
	requestsPerSecond float64
}

func (c *testConfig) TargetCommand() string           { return "" }
func (c *testConfig) TargetURL() string                { return "" }
func (c *testConfig) ProtocolVersion() string          { return c.protocolVersion }
func (c *testConfig) Transport() config.TransportKind  { return config.TransportHTTP }
func (c *testConfig) RunnerMode() config.RunnerMode    { return c.runnerMode }
func (c *testConfig) BearerToken() string              { return "" }
func (c *testConfig) StdioTimeout() time.Duration      { return time.Second }
func (c *testConfig) StdioMaxRetries() int             { return 1 }
func (c *testConfig) RequestTimeout() time.Duration    { return c.requestTimeout }
func (c *testConfig) TestTimeout() time.Duration       { return c.testTimeout }
func (c *testConfig) RequestsPerSecond() float64       { return c.requestsPerSecond }
func (c *testConfig) Debug() bool                      { return false }
func (c *testConfig) HistoryDSN() string               { return "" }

func newTestConfig(version string, mode config.RunnerMode) *testConfig {
	return &testConfig{
		protocolVersion:   version,
		runnerMode:        mode,
		requestTimeout:    2 * time.Second,
		testTimeout:       5 * time.Second,
		requestsPerSecond: 1000,
	}
}

func runAgainstFakeServer(t *testing.T, version string, mode config.RunnerMode) report.ResultSet {
	t.Helper()
	core := fakeserver.New(version)
	srv := httptest.NewServer(fakeserver.NewSyncHandler(core))
	defer srv.Close()

	cfg := newTestConfig(version, mode)
	newTransport := func() (transport.Transport, error) {
		return transport.NewHTTPSyncTransport(srv.URL+"/mcp", transport.WithProtocolVersion(version)), nil
	}

	r := runner.New(cfg, newTransport, zap.NewNop())
	results := r.Run(context.Background())
	return report.Aggregate(results)
}

func TestRunnerAgainstFakeServer_AllVersions(t *testing.T) {
	for _, version := range []string{"2024-11-05", "2025-03-26", "2025-06-18"} {
		for _, mode := range []config.RunnerMode{config.RunnerIsolated, config.RunnerShared} {
			version, mode := version, mode
			t.Run(version+"/"+string(mode), func(t *testing.T) {
				rs := runAgainstFakeServer(t, version, mode)
				assert.Zero(t, rs.Errored, "no catalog case should error against a healthy fake server")
				assert.Greater(t, rs.Total, 0)
				require.LessOrEqual(t, rs.Passed+rs.Failed+rs.Skipped+rs.Errored, rs.Total)
			})
		}
	}
}

func TestRunnerSkipsAsyncCasesOutsideTheirVersion(t *testing.T) {
	rs := runAgainstFakeServer(t, "2024-11-05", config.RunnerIsolated)
	var sawAsyncSkip bool
	for _, e := range rs.Results {
		if e.Outcome == "skipped" && e.Name == "async polling reaches completed" {
			sawAsyncSkip = true
		}
	}
	assert.True(t, sawAsyncSkip, "async-only catalog cases must be skipped, not run, on 2024-11-05")
}

func TestBatchRejectedUnder20250618(t *testing.T) {
	rs := runAgainstFakeServer(t, "2025-06-18", config.RunnerIsolated)
	for _, e := range rs.Results {
		if e.Name == "batch under 2025-06-18 is rejected" {
			assert.Equal(t, "passed", e.Outcome, e.Message)
		}
	}
}
