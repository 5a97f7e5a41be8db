// mcpconform drives the test catalog (internal/catalog) against a target
// MCP server and prints a compliance report (internal/report), wiring
// config, logger, and service together into one main the same way
// gateway/cmd and server/cmd do.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gate4ai/mcpconform/internal/config"
	"github.com/gate4ai/mcpconform/internal/report"
	"github.com/gate4ai/mcpconform/internal/runner"
	"github.com/gate4ai/mcpconform/internal/transport"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	targetCommand := flag.String("command", "", "shell command that launches the target server (stdio transport)")
	targetURL := flag.String("url", "", "base URL of the target server (http/http-sse transport)")
	protocolVersion := flag.String("protocol-version", "", "protocol revision to test against (overrides config)")
	transportFlag := flag.String("transport", "", "stdio | http | http-sse (overrides config)")
	bearerToken := flag.String("bearer-token", "", "bearer token to send on every request (overrides config)")
	outputFormat := flag.String("format", "text", "text | json")
	outputPath := flag.String("output", "", "write the report here instead of stdout")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logger, err := buildLogger(*debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *targetCommand != "" {
		os.Setenv("MCP_SERVER_COMMAND", *targetCommand)
	}
	if *protocolVersion != "" {
		os.Setenv("MCP_PROTOCOL_VERSION", *protocolVersion)
	}
	if *debug {
		os.Setenv("MCP_DEBUG", "true")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	cfg.ApplyOverrides(*targetURL, *transportFlag, *bearerToken, *debug)
	if cfg.Debug() && !*debug {
		// Debug was switched on by MCP_DEBUG or the config file, not the flag.
		if debugLogger, err := buildLogger(true); err == nil {
			logger = debugLogger
			defer debugLogger.Sync()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		logger.Info("received termination signal")
		cancel()
	}()

	newTransport, err := transportFactory(cfg)
	if err != nil {
		logger.Fatal("failed to build transport factory", zap.Error(err))
	}

	r := runner.New(cfg, newTransport, logger)
	results := r.Run(ctx)
	resultSet := report.Aggregate(results)

	history, err := report.OpenHistory(ctx, cfg.HistoryDSN())
	if err != nil {
		logger.Warn("history store unavailable, continuing without it", zap.Error(err))
	} else if history != nil {
		defer history.Close()
		target := cfg.TargetCommand()
		if target == "" {
			target = cfg.TargetURL()
		}
		if err := history.Record(ctx, target, cfg.ProtocolVersion(), resultSet); err != nil {
			logger.Warn("failed to record history", zap.Error(err))
		}
	}

	if err := writeReport(resultSet, *outputFormat, *outputPath); err != nil {
		logger.Fatal("failed to write report", zap.Error(err))
	}

	if resultSet.Failed > 0 || resultSet.Errored > 0 {
		os.Exit(1)
	}
}

func buildLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}

// transportFactory builds the TransportFactory runner.Runner needs, picking
// the concrete transport.Transport implementation from cfg.Transport().
func transportFactory(cfg config.IConfig) (runner.TransportFactory, error) {
	switch cfg.Transport() {
	case config.TransportStdio:
		return func() (transport.Transport, error) {
			return transport.NewStdioTransport(cfg.TargetCommand(), cfg.StdioMaxRetries(), cfg.StdioTimeout(),
				transport.WithProtocolVersion(cfg.ProtocolVersion())), nil
		}, nil
	case config.TransportHTTP:
		return func() (transport.Transport, error) {
			opts := []transport.Option{transport.WithProtocolVersion(cfg.ProtocolVersion())}
			if cfg.BearerToken() != "" {
				opts = append(opts, transport.WithBearerToken(cfg.BearerToken()))
			}
			return transport.NewHTTPSyncTransport(cfg.TargetURL(), opts...), nil
		}, nil
	case config.TransportHTTPSSE:
		return func() (transport.Transport, error) {
			opts := []transport.Option{transport.WithProtocolVersion(cfg.ProtocolVersion())}
			if cfg.BearerToken() != "" {
				opts = append(opts, transport.WithBearerToken(cfg.BearerToken()))
			}
			return transport.NewHTTPSSETransport(cfg.TargetURL()+"/sse", cfg.TargetURL()+"/mcp", opts...), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Transport())
	}
}

func writeReport(rs report.ResultSet, format, path string) error {
	var out *os.File
	if path == "" {
		out = os.Stdout
	} else {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output file %q: %w", path, err)
		}
		defer f.Close()
		out = f
	}

	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rs)
	default:
		fmt.Fprintf(out, "compliance score: %.1f%% (%d passed, %d failed, %d skipped, %d errored, %d total)\n",
			rs.ComplianceScore, rs.Passed, rs.Failed, rs.Skipped, rs.Errored, rs.Total)
		for _, e := range rs.Results {
			fmt.Fprintf(out, "  [%-8s] %-50s %6.3fs  %s\n", e.Outcome, e.Name, e.DurationSeconds, e.Message)
		}
		return nil
	}
}
