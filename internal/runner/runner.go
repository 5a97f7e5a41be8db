// Package runner drives the test catalog against a target server, in
// either isolated or shared mode, and hands the results to
// internal/report for aggregation.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/gate4ai/mcpconform/internal/catalog"
	"github.com/gate4ai/mcpconform/internal/config"
	"github.com/gate4ai/mcpconform/internal/protocol"
	"github.com/gate4ai/mcpconform/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// isolatedConcurrency bounds how many isolated-mode test cases run their own
// connect/initialize/shutdown cycle at once, the same bounded-fan-out shape
// tests/env/envs.go uses for its Configure phase.
const isolatedConcurrency = 4

// Result is one test case's outcome, in the shape external reporters
// consume.
type Result struct {
	Name            string
	Outcome         catalog.Outcome
	Message         string
	DurationSeconds float64
}

// TransportFactory builds a fresh Transport for isolated mode, or the one
// shared Transport reused across the whole catalog in shared mode.
type TransportFactory func() (transport.Transport, error)

// Runner drives catalog.All against one target, across one protocol
// version and transport kind.
type Runner struct {
	cfg       config.IConfig
	newT      TransportFactory
	version   string
	logger    *zap.Logger
	limiter   *rate.Limiter
}

// New builds a Runner. newT is called once per test in isolated mode, or
// once total in shared mode.
func New(cfg config.IConfig, newT TransportFactory, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:     cfg,
		newT:    newT,
		version: cfg.ProtocolVersion(),
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond()), 1),
	}
}

// Run executes the full catalog and returns one Result per catalog case,
// in catalog order. Cases inapplicable to the active version are
// reported as Skipped without being invoked.
func (r *Runner) Run(ctx context.Context) []Result {
	if r.cfg.RunnerMode() == config.RunnerShared {
		return r.runShared(ctx)
	}
	return r.runIsolated(ctx)
}

// runIsolated gives each applicable test case its own transport, connecting,
// initializing, and shutting down around every single test. Cases are
// independent of one another in this mode, so they run concurrently, bounded
// by isolatedConcurrency, with each slot writing only its own index.
func (r *Runner) runIsolated(ctx context.Context) []Result {
	results := make([]Result, len(catalog.All))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(isolatedConcurrency)

	for i, tc := range catalog.All {
		i, tc := i, tc
		if !tc.AppliesTo(r.version) {
			results[i] = Result{Name: tc.Name, Outcome: catalog.Skipped, Message: "not applicable to protocol version " + r.version}
			continue
		}
		g.Go(func() error {
			results[i] = r.runOneIsolated(gctx, tc)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Runner) runOneIsolated(ctx context.Context, tc catalog.Case) Result {
	t, err := r.newT()
	if err != nil {
		return Result{Name: tc.Name, Outcome: catalog.Errored, Message: fmt.Sprintf("failed to construct transport: %v", err)}
	}
	if err := t.Start(ctx); err != nil {
		return Result{Name: tc.Name, Outcome: catalog.Errored, Message: fmt.Sprintf("failed to start transport: %v", err)}
	}
	defer t.Stop()

	adapter, err := protocol.New(r.version, t, r.cfg.RequestTimeout())
	if err != nil {
		return Result{Name: tc.Name, Outcome: catalog.Errored, Message: err.Error()}
	}
	if _, _, err := adapter.Initialize(ctx); err != nil {
		return Result{Name: tc.Name, Outcome: catalog.Errored, Message: fmt.Sprintf("initialize failed: %v", err)}
	}

	result := r.runTest(ctx, tc, adapter)
	adapter.Shutdown(ctx)
	return result
}

// runShared keeps one Transport+Adapter for the whole catalog, attempting a
// single re-initialize after any failure before moving to the next test.
func (r *Runner) runShared(ctx context.Context) []Result {
	results := make([]Result, 0, len(catalog.All))
	t, err := r.newT()
	if err != nil {
		return allErrored(fmt.Sprintf("failed to construct shared transport: %v", err))
	}
	if err := t.Start(ctx); err != nil {
		return allErrored(fmt.Sprintf("failed to start shared transport: %v", err))
	}
	defer t.Stop()

	adapter, err := protocol.New(r.version, t, r.cfg.RequestTimeout())
	if err != nil {
		return allErrored(err.Error())
	}
	if _, _, err := adapter.Initialize(ctx); err != nil {
		return allErrored(fmt.Sprintf("initial initialize failed: %v", err))
	}

	for _, tc := range catalog.All {
		if !tc.AppliesTo(r.version) {
			results = append(results, Result{Name: tc.Name, Outcome: catalog.Skipped, Message: "not applicable to protocol version " + r.version})
			continue
		}
		result := r.runTest(ctx, tc, adapter)
		if result.Outcome == catalog.Failed || result.Outcome == catalog.Errored {
			if _, _, reErr := adapter.Initialize(ctx); reErr != nil {
				r.logger.Warn("re-initialize after test failure also failed", zap.String("test", tc.Name), zap.Error(reErr))
			}
		}
		results = append(results, result)
	}
	adapter.Shutdown(ctx)
	return results
}

func allErrored(message string) []Result {
	results := make([]Result, len(catalog.All))
	for i, tc := range catalog.All {
		results[i] = Result{Name: tc.Name, Outcome: catalog.Errored, Message: message}
	}
	return results
}

// runTest enforces the per-test deadline and converts a panic into an
// errored outcome.
func (r *Runner) runTest(ctx context.Context, tc catalog.Case, adapter *protocol.Adapter) (result Result) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Result{Name: tc.Name, Outcome: catalog.Errored, Message: "rate limiter wait cancelled: " + err.Error()}
	}

	testCtx, cancel := context.WithTimeout(ctx, r.cfg.TestTimeout())
	defer cancel()

	start := time.Now()
	done := make(chan Result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- Result{Name: tc.Name, Outcome: catalog.Errored, Message: fmt.Sprintf("test panicked: %v", rec)}
			}
		}()
		passed, message := tc.Run(testCtx, adapter)
		outcome := catalog.Failed
		if passed {
			outcome = catalog.Passed
		}
		done <- Result{Name: tc.Name, Outcome: outcome, Message: message}
	}()

	select {
	case result = <-done:
	case <-testCtx.Done():
		result = Result{Name: tc.Name, Outcome: catalog.Failed, Message: fmt.Sprintf("test exceeded its %s deadline", r.cfg.TestTimeout())}
	}
	result.DurationSeconds = time.Since(start).Seconds()
	return result
}
