package protocol

import (
	"context"
	"encoding/json"
	"time"

	v3 "github.com/gate4ai/mcpconform/internal/protocol/schema/v20250618"
	"github.com/gate4ai/mcpconform/internal/shared"
	"github.com/gate4ai/mcpconform/internal/transport"
)

type adapter20250618 struct {
	t       transport.Transport
	timeout time.Duration
}

// New20250618 builds the adapter for the "2025-06-18" revision: camelCase
// clientInfo/clientCapabilities, structured tool output, elicitation
// capability, and no JSON-RPC batching.
func New20250618(t transport.Transport, timeout time.Duration) *Adapter {
	return newAdapter(&adapter20250618{t: t, timeout: timeout})
}

func (a *adapter20250618) ProtocolVersion() string { return v3.ProtocolVersion }

func (a *adapter20250618) Initialize(ctx context.Context) (ServerInfo, Capabilities, error) {
	params := structToParams(v3.InitializeParams{
		ProtocolVersion:  v3.ProtocolVersion,
		ClientInfo:       v3.Implementation{Name: "mcpconform", Version: "0.1.0"},
		ClientCapability: v3.ClientCapabilities{Elicitation: &v3.ElicitationCapability{}},
	})
	resp, err := a.t.SendRequest(ctx, "initialize", params, a.timeout)
	if err != nil {
		return ServerInfo{}, Capabilities{}, err
	}
	if resp.Err != nil {
		return ServerInfo{}, Capabilities{}, resp.Err
	}
	var result v3.InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return ServerInfo{}, Capabilities{}, &shared.ProtocolError{Reason: "malformed initialize result: " + err.Error()}
	}
	if err := a.t.SendNotification(ctx, "notifications/initialized", map[string]interface{}{}); err != nil {
		return ServerInfo{}, Capabilities{}, err
	}
	caps := Capabilities{
		Tools:       result.Capabilities.Tools != nil,
		Resources:   result.Capabilities.Resources != nil,
		Prompts:     result.Capabilities.Prompts != nil,
		Elicitation: result.Capabilities.Elicitation != nil,
	}
	return ServerInfo{Name: result.ServerInfo.Name, Version: result.ServerInfo.Version}, caps, nil
}

func (a *adapter20250618) ListTools(ctx context.Context) ([]ToolInfo, error) {
	resp, err := a.t.SendRequest(ctx, "tools/list", map[string]interface{}{}, a.timeout)
	if err != nil {
		return nil, err
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	var result v3.ListToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, &shared.ProtocolError{Reason: "malformed tools/list result: " + err.Error()}
	}
	out := make([]ToolInfo, len(result.Tools))
	for i, t := range result.Tools {
		out[i] = ToolInfo{Name: t.Name, Description: t.Description, Schema: t.InputSchema}
	}
	return out, nil
}

func (a *adapter20250618) CallTool(ctx context.Context, name string, args map[string]interface{}) (ToolCallResult, error) {
	params := structToParams(v3.CallToolParams{Name: name, Arguments: args})
	resp, err := a.t.SendRequest(ctx, "tools/call", params, a.timeout)
	if err != nil {
		return ToolCallResult{}, err
	}
	if resp.Err != nil {
		return ToolCallResult{}, resp.Err
	}
	var result v3.CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return ToolCallResult{}, &shared.ProtocolError{Reason: "malformed tools/call result: " + err.Error()}
	}
	out := ToolCallResult{Content: toContentBlocks3(result.Content), IsError: result.IsError}
	if len(result.StructuredContent) > 0 {
		var sc map[string]interface{}
		if err := json.Unmarshal(result.StructuredContent, &sc); err == nil {
			out.StructuredContent = sc
		}
	}
	return out, nil
}

// CallToolAsync/GetToolResult/CancelTool remain 2025-03-26-only;
// this revision's tool calls are always synchronous.
func (a *adapter20250618) CallToolAsync(ctx context.Context, name string, args map[string]interface{}) (AsyncInvocation, error) {
	return AsyncInvocation{}, &shared.ProtocolError{Reason: "async tool invocation is not part of protocol revision 2025-06-18"}
}

func (a *adapter20250618) GetToolResult(ctx context.Context, inv AsyncInvocation) (AsyncState, *ToolCallResult, error) {
	return "", nil, &shared.ProtocolError{Reason: "async tool invocation is not part of protocol revision 2025-06-18"}
}

func (a *adapter20250618) CancelTool(ctx context.Context, inv AsyncInvocation) error {
	return &shared.ProtocolError{Reason: "async tool invocation is not part of protocol revision 2025-06-18"}
}

func (a *adapter20250618) ListResources(ctx context.Context) ([]ResourceInfo, error) {
	resp, err := a.t.SendRequest(ctx, "resources/list", map[string]interface{}{}, a.timeout)
	if err != nil {
		return nil, err
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	var result v3.ListResourcesResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, &shared.ProtocolError{Reason: "malformed resources/list result: " + err.Error()}
	}
	out := make([]ResourceInfo, len(result.Resources))
	for i, r := range result.Resources {
		out[i] = ResourceInfo{URI: r.URI, Name: r.Name, Description: r.Description, MimeType: r.MimeType}
	}
	return out, nil
}

func (a *adapter20250618) GetResource(ctx context.Context, uri string) (ResourceContent, error) {
	params := structToParams(v3.ReadResourceParams{URI: uri})
	resp, err := a.t.SendRequest(ctx, "resources/get", params, a.timeout)
	if err != nil {
		return ResourceContent{}, err
	}
	if resp.Err != nil {
		return ResourceContent{}, resp.Err
	}
	var result v3.ReadResourceResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return ResourceContent{}, &shared.ProtocolError{Reason: "malformed resources/get result: " + err.Error()}
	}
	if len(result.Contents) == 0 {
		return ResourceContent{}, &shared.ProtocolError{Reason: "resources/get returned no contents"}
	}
	c := result.Contents[0]
	return ResourceContent{URI: c.URI, MimeType: c.MimeType, Text: c.Text}, nil
}

func (a *adapter20250618) Ping(ctx context.Context) error {
	_, err := a.t.SendRequest(ctx, "ping", map[string]interface{}{}, a.timeout)
	return err
}

func (a *adapter20250618) Shutdown(ctx context.Context) error {
	if _, err := a.t.SendRequest(ctx, "shutdown", map[string]interface{}{}, a.timeout); err != nil {
		return err
	}
	return a.t.SendNotification(ctx, "exit", map[string]interface{}{})
}

// SupportsBatching is false: 2025-06-18 removed JSON-RPC batching
// entirely, and a conformant client must never send one.
func (a *adapter20250618) SupportsBatching() bool { return false }

// SendRawBatch still sends the batch array over the wire rather than
// refusing locally: this revision's conformance case exists to confirm the
// server itself rejects a batch, not merely that this adapter declines to
// build one.
func (a *adapter20250618) SendRawBatch(ctx context.Context, methods []string) ([]*shared.Response, error) {
	items := make([]transport.BatchItem, len(methods))
	for i, m := range methods {
		items[i] = transport.BatchItem{Method: m, Params: map[string]interface{}{}}
	}
	return a.t.SendBatch(ctx, items, a.timeout)
}

func (a *adapter20250618) RawTransport() transport.Transport { return a.t }

func toContentBlocks3(cs []v3.Content) []ContentBlock {
	out := make([]ContentBlock, len(cs))
	for i, c := range cs {
		out[i] = ContentBlock{Type: c.Type, Text: c.Text}
	}
	return out
}
