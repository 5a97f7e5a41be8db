// Package transport implements the three wire styles the harness can drive
// a target MCP server over: line-delimited JSON over a child process's
// stdio, synchronous HTTP POST/JSON, and asynchronous HTTP POST with the
// response delivered later over a long-lived SSE stream.
//
// The stdio and HTTP+SSE transports each own a shared.PendingTable and a
// background reader goroutine that resolves entries in it, the same way a
// gateway client session pairs an SSE subscription with a request/response
// correlation table (gateway/clients/mcpClient/session.go). The synchronous
// HTTP transport needs neither: each reply is read from its own POST
// response.
package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/gate4ai/mcpconform/internal/shared"
	"go.uber.org/zap"
)

// Transport is the uniform surface every wire style implements. Protocol
// adapters (internal/protocol) are written against this interface, never
// against a concrete transport, so the same adapter code drives a server
// over stdio or HTTP interchangeably.
type Transport interface {
	// Start launches the transport: spawns the child process for stdio,
	// opens the SSE subscription for HTTP+SSE, and does nothing for
	// synchronous HTTP. It must be called once before any Send* method.
	Start(ctx context.Context) error

	// Stop tears the transport down: every request still waiting on a
	// pending table receives a shared.ErrCodeConnectionOrTimeout error
	// response, later Send* calls fail with *shared.TransportClosedError,
	// and any resources (child process, SSE subscription) are released.
	Stop() error

	// SendRequest sends a request and blocks until its response arrives,
	// the context is cancelled, or the per-call timeout elapses.
	SendRequest(ctx context.Context, method string, params map[string]interface{}, timeout time.Duration) (*shared.Response, error)

	// SendNotification sends a request with no id and does not wait for
	// a reply (none is expected per JSON-RPC 2.0).
	SendNotification(ctx context.Context, method string, params map[string]interface{}) error

	// SendBatch sends several requests as a single JSON-RPC batch array
	// and returns their responses in the order the ids were supplied in
	// reqs. A transport that cannot batch returns
	// shared.ErrProtocol.
	SendBatch(ctx context.Context, reqs []BatchItem, timeout time.Duration) ([]*shared.Response, error)

	// SessionID reports the session identifier this transport has
	// negotiated, or "" if the transport is session-less (plain stdio).
	SessionID() string
}

// BatchItem is one request to include in a SendBatch call.
type BatchItem struct {
	Method string
	Params map[string]interface{}
}

// ProbeResult is the raw outcome of a RawProber call: status, headers, and
// body exactly as the server sent them, with no attempt to parse the body
// as a JSON-RPC envelope.
type ProbeResult struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// RawProber is an optional capability some transports implement: sending a
// request with full control over its headers, bypassing whatever
// Authorization/Mcp-Session-Id bookkeeping the transport would normally add
// on its own. Conformance cases that need to observe a raw 401 or a
// wire-level parse error type-assert for this rather than it being part of
// Transport itself, since plain stdio has no equivalent concept.
type RawProber interface {
	ProbeRaw(ctx context.Context, body []byte, headers map[string]string) (*ProbeResult, error)
}

// Option configures a transport at construction time, the same
// functional-options style as gateway/clients/mcpClient.SessionOption.
type Option func(*commonOptions)

type commonOptions struct {
	bearerToken     string
	headers         map[string]string
	protocolVersion string
	logger          *zap.Logger
}

func newCommonOptions(opts ...Option) *commonOptions {
	co := &commonOptions{headers: make(map[string]string)}
	for _, opt := range opts {
		opt(co)
	}
	return co
}

// WithBearerToken attaches an Authorization: Bearer header to every HTTP
// request this transport sends.
func WithBearerToken(token string) Option {
	return func(co *commonOptions) { co.bearerToken = token }
}

// WithHeaders merges extra headers into every HTTP request this transport
// sends.
func WithHeaders(headers map[string]string) Option {
	return func(co *commonOptions) {
		for k, v := range headers {
			co.headers[k] = v
		}
	}
}

// WithProtocolVersion sets the MCP-Protocol-Version header value.
func WithProtocolVersion(version string) Option {
	return func(co *commonOptions) { co.protocolVersion = version }
}

// WithLogger overrides the transport's structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(co *commonOptions) { co.logger = logger }
}
