// Package config loads the harness's run configuration: which server to
// drive, over which transport, against which protocol revision, and the
// ambient knobs (timeouts, retries, bearer token, optional history store).
//
// A YAML-backed struct behind a narrow interface, with environment
// variables layered on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// TransportKind selects which of the three wire styles the
// harness drives the target server over.
type TransportKind string

const (
	TransportStdio   TransportKind = "stdio"
	TransportHTTP    TransportKind = "http"
	TransportHTTPSSE TransportKind = "http-sse"
)

// RunnerMode selects isolated-per-test or shared-session execution.
type RunnerMode string

const (
	RunnerIsolated RunnerMode = "isolated"
	RunnerShared   RunnerMode = "shared"
)

// IConfig is the narrow surface the rest of the harness depends on, so
// tests can substitute a fake without touching YAML or the filesystem.
type IConfig interface {
	TargetCommand() string
	TargetURL() string
	ProtocolVersion() string
	Transport() TransportKind
	RunnerMode() RunnerMode
	BearerToken() string
	StdioTimeout() time.Duration
	StdioMaxRetries() int
	RequestTimeout() time.Duration
	TestTimeout() time.Duration
	RequestsPerSecond() float64
	Debug() bool
	HistoryDSN() string
}

var _ IConfig = (*YamlConfig)(nil)

// YamlConfig implements IConfig from a YAML file, overridden by MCP_* and
// related environment variables.
type YamlConfig struct {
	mu sync.RWMutex

	targetCommand     string
	targetURL         string
	protocolVersion   string
	transport         TransportKind
	runnerMode        RunnerMode
	bearerToken       string
	stdioTimeout      time.Duration
	stdioMaxRetries   int
	requestTimeout    time.Duration
	testTimeout       time.Duration
	requestsPerSecond float64
	debug             bool
	historyDSN        string
}

type yamlDoc struct {
	Target struct {
		Command string `yaml:"command"`
		URL     string `yaml:"url"`
	} `yaml:"target"`
	Protocol struct {
		Version string `yaml:"version"`
	} `yaml:"protocol"`
	Transport         string  `yaml:"transport"`
	RunnerMode        string  `yaml:"runner_mode"`
	BearerToken       string  `yaml:"bearer_token"`
	StdioTimeout      float64 `yaml:"stdio_timeout_seconds"`
	StdioMaxRetries   int     `yaml:"stdio_max_retries"`
	RequestTimeout    float64 `yaml:"request_timeout_seconds"`
	TestTimeout       float64 `yaml:"test_timeout_seconds"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Debug             bool    `yaml:"debug"`
	HistoryDSN        string  `yaml:"history_dsn"`
}

// Default timeout, retry, and rate-limit knobs used when the YAML file and
// environment leave them unset.
const (
	defaultStdioTimeout      = 10 * time.Second
	defaultStdioMaxRetries   = 3
	defaultRequestTimeout    = 30 * time.Second
	defaultTestTimeout       = 30 * time.Second
	defaultRequestsPerSecond = 20.0
)

// Load reads configPath (if non-empty) and applies environment overrides.
// A missing or empty configPath is not an error: the harness can run from
// env vars and flags alone.
func Load(configPath string) (*YamlConfig, error) {
	c := &YamlConfig{
		protocolVersion:   "2025-06-18",
		transport:         TransportStdio,
		runnerMode:        RunnerIsolated,
		stdioTimeout:      defaultStdioTimeout,
		stdioMaxRetries:   defaultStdioMaxRetries,
		requestTimeout:    defaultRequestTimeout,
		testTimeout:       defaultTestTimeout,
		requestsPerSecond: defaultRequestsPerSecond,
	}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", configPath, err)
		}
		var doc yamlDoc
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML %q: %w", configPath, err)
		}
		c.applyDoc(&doc)
	}

	c.applyEnv()
	return c, nil
}

func (c *YamlConfig) applyDoc(doc *yamlDoc) {
	if doc.Target.Command != "" {
		c.targetCommand = doc.Target.Command
	}
	if doc.Target.URL != "" {
		c.targetURL = doc.Target.URL
	}
	if doc.Protocol.Version != "" {
		c.protocolVersion = doc.Protocol.Version
	}
	if doc.Transport != "" {
		c.transport = TransportKind(doc.Transport)
	}
	if doc.RunnerMode != "" {
		c.runnerMode = RunnerMode(doc.RunnerMode)
	}
	if doc.BearerToken != "" {
		c.bearerToken = doc.BearerToken
	}
	if doc.StdioTimeout > 0 {
		c.stdioTimeout = time.Duration(doc.StdioTimeout * float64(time.Second))
	}
	if doc.StdioMaxRetries > 0 {
		c.stdioMaxRetries = doc.StdioMaxRetries
	}
	if doc.RequestTimeout > 0 {
		c.requestTimeout = time.Duration(doc.RequestTimeout * float64(time.Second))
	}
	if doc.TestTimeout > 0 {
		c.testTimeout = time.Duration(doc.TestTimeout * float64(time.Second))
	}
	if doc.RequestsPerSecond > 0 {
		c.requestsPerSecond = doc.RequestsPerSecond
	}
	c.debug = c.debug || doc.Debug
	if doc.HistoryDSN != "" {
		c.historyDSN = doc.HistoryDSN
	}
}

// applyEnv layers the supported environment variables on top of
// whatever the YAML file (or the defaults) set, env always winning.
func (c *YamlConfig) applyEnv() {
	if v := os.Getenv("MCP_PROTOCOL_VERSION"); v != "" {
		c.protocolVersion = v
	}
	if v := os.Getenv("MCP_DEBUG"); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes":
			c.debug = true
		}
	}
	if v := os.Getenv("MCP_STDIO_TIMEOUT"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			c.stdioTimeout = time.Duration(secs * float64(time.Second))
		}
	}
	if v := os.Getenv("MCP_STDIO_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.stdioMaxRetries = n
		}
	}
	if v := os.Getenv("MCP_SERVER_COMMAND"); v != "" {
		c.targetCommand = v
	}
}

// ApplyOverrides layers CLI flag values on top of whatever YAML/env already
// set, flags always winning. Blank strings and a false debug leave the
// existing value untouched, mirroring applyEnv's all-or-nothing fields.
func (c *YamlConfig) ApplyOverrides(targetURL, transportKind, bearerToken string, debug bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if targetURL != "" {
		c.targetURL = targetURL
	}
	if transportKind != "" {
		c.transport = TransportKind(transportKind)
	}
	if bearerToken != "" {
		c.bearerToken = bearerToken
	}
	if debug {
		c.debug = true
	}
}

func (c *YamlConfig) TargetCommand() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.targetCommand
}

func (c *YamlConfig) TargetURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.targetURL
}

func (c *YamlConfig) ProtocolVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.protocolVersion
}

func (c *YamlConfig) Transport() TransportKind {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transport
}

func (c *YamlConfig) RunnerMode() RunnerMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.runnerMode
}

func (c *YamlConfig) BearerToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bearerToken
}

func (c *YamlConfig) StdioTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stdioTimeout
}

func (c *YamlConfig) StdioMaxRetries() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stdioMaxRetries
}

func (c *YamlConfig) RequestTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.requestTimeout
}

func (c *YamlConfig) TestTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.testTimeout
}

func (c *YamlConfig) RequestsPerSecond() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.requestsPerSecond
}

func (c *YamlConfig) Debug() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.debug
}

func (c *YamlConfig) HistoryDSN() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.historyDSN
}
