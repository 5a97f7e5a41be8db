// Package protocol adapts the three MCP wire revisions behind one
// interface, so the test catalog and runner never branch on protocol
// version themselves. Each adapter wraps a
// transport.Transport and translates its version's field names and method
// set to and from a common result shape.
package protocol

import (
	"context"
	"time"

	"github.com/gate4ai/mcpconform/internal/shared"
	"github.com/gate4ai/mcpconform/internal/transport"
)

// ToolInfo is the version-independent shape of a single tool descriptor,
// normalizing "inputSchema" (2024-11-05, 2025-06-18) and "parameters"
// (2025-03-26) to one field name.
type ToolInfo struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ContentBlock is one block of a tool result, text-only for the harness's
// purposes.
type ContentBlock struct {
	Type string
	Text string
}

// ToolCallResult is the version-independent shape of a finished tool call.
type ToolCallResult struct {
	Content           []ContentBlock
	StructuredContent map[string]interface{}
	IsError           bool
}

// AsyncInvocation identifies an in-flight async tool call (2025-03-26 only).
type AsyncInvocation struct {
	ID string
}

// AsyncState is the version-independent state of an async invocation.
type AsyncState string

const (
	AsyncRunning   AsyncState = "running"
	AsyncCompleted AsyncState = "completed"
	AsyncCancelled AsyncState = "cancelled"
	AsyncError     AsyncState = "error"
)

// ResourceInfo is the version-independent shape of a resource descriptor.
type ResourceInfo struct {
	URI         string
	Name        string
	Description string
	MimeType    string
}

// ResourceContent is the version-independent shape of a resource's body.
type ResourceContent struct {
	URI      string
	MimeType string
	Text     string
}

// ServerInfo identifies the server that answered initialize.
type ServerInfo struct {
	Name    string
	Version string
}

// Capabilities is the subset of the server's advertised capabilities the
// catalog cares about.
type Capabilities struct {
	Tools          bool
	Resources      bool
	Prompts        bool
	AsyncSupported bool
	Elicitation    bool
}

// Adapter is the uniform surface every protocol revision implements. Test
// cases in internal/catalog are written only against this interface.
type Adapter struct {
	impl versionImpl
}

// versionImpl is the per-revision implementation an Adapter delegates to.
// Unexported so every concrete adapter must be constructed through this
// package's New* functions, keeping the revision list closed.
type versionImpl interface {
	ProtocolVersion() string
	Initialize(ctx context.Context) (ServerInfo, Capabilities, error)
	ListTools(ctx context.Context) ([]ToolInfo, error)
	CallTool(ctx context.Context, name string, args map[string]interface{}) (ToolCallResult, error)
	CallToolAsync(ctx context.Context, name string, args map[string]interface{}) (AsyncInvocation, error)
	GetToolResult(ctx context.Context, inv AsyncInvocation) (AsyncState, *ToolCallResult, error)
	CancelTool(ctx context.Context, inv AsyncInvocation) error
	ListResources(ctx context.Context) ([]ResourceInfo, error)
	GetResource(ctx context.Context, uri string) (ResourceContent, error)
	Ping(ctx context.Context) error
	Shutdown(ctx context.Context) error
	SupportsBatching() bool
	SendRawBatch(ctx context.Context, methods []string) ([]*shared.Response, error)
	RawTransport() transport.Transport
}

func newAdapter(impl versionImpl) *Adapter { return &Adapter{impl: impl} }

func (a *Adapter) ProtocolVersion() string { return a.impl.ProtocolVersion() }

// Initialize performs the handshake and the notifications/initialized
// follow-up, in the style of Session.sendInitialize
// (gateway/clients/mcpClient/initialize.go): send initialize, decode the
// result, then fire the initialized notification. The protocolVersion the
// server returns is not compared against the adapter's own revision.
func (a *Adapter) Initialize(ctx context.Context) (ServerInfo, Capabilities, error) {
	return a.impl.Initialize(ctx)
}

func (a *Adapter) ListTools(ctx context.Context) ([]ToolInfo, error) {
	return a.impl.ListTools(ctx)
}

func (a *Adapter) CallTool(ctx context.Context, name string, args map[string]interface{}) (ToolCallResult, error) {
	return a.impl.CallTool(ctx, name, args)
}

// CallToolAsync is only meaningful for the 2025-03-26 revision; other
// revisions return a shared.ErrProtocol-wrapping error so catalog entries
// tagged async-only simply fail fast if misapplied (the runner skips them
// by version tag before it gets this far).
func (a *Adapter) CallToolAsync(ctx context.Context, name string, args map[string]interface{}) (AsyncInvocation, error) {
	return a.impl.CallToolAsync(ctx, name, args)
}

func (a *Adapter) GetToolResult(ctx context.Context, inv AsyncInvocation) (AsyncState, *ToolCallResult, error) {
	return a.impl.GetToolResult(ctx, inv)
}

func (a *Adapter) CancelTool(ctx context.Context, inv AsyncInvocation) error {
	return a.impl.CancelTool(ctx, inv)
}

func (a *Adapter) ListResources(ctx context.Context) ([]ResourceInfo, error) {
	return a.impl.ListResources(ctx)
}

func (a *Adapter) GetResource(ctx context.Context, uri string) (ResourceContent, error) {
	return a.impl.GetResource(ctx, uri)
}

func (a *Adapter) Ping(ctx context.Context) error { return a.impl.Ping(ctx) }

func (a *Adapter) Shutdown(ctx context.Context) error { return a.impl.Shutdown(ctx) }

// SupportsBatching reports whether this revision allows JSON-RPC batch
// arrays; 2025-06-18 is the one revision that forbids it.
func (a *Adapter) SupportsBatching() bool { return a.impl.SupportsBatching() }

// SendRawBatch fires a batch of bare method calls (e.g. repeated pings or a
// deliberately unknown method) purely to exercise batching and error-code
// semantics, returning the real response (or nil, for an entry the server
// never answered) for each method in order.
func (a *Adapter) SendRawBatch(ctx context.Context, methods []string) ([]*shared.Response, error) {
	return a.impl.SendRawBatch(ctx, methods)
}

// RawTransport exposes the transport.Transport this adapter drives, for
// test cases that need wire-level access (raw HTTP probing, transport
// restart) beyond what the Adapter surface provides.
func (a *Adapter) RawTransport() transport.Transport {
	return a.impl.RawTransport()
}

// defaultRequestTimeout is the per-call timeout New gives an adapter when
// it is passed no positive timeout of its own.
const defaultRequestTimeout = 30 * time.Second
