package protocol

import (
	"context"
	"encoding/json"
	"time"

	v2 "github.com/gate4ai/mcpconform/internal/protocol/schema/v20250326"
	"github.com/gate4ai/mcpconform/internal/shared"
	"github.com/gate4ai/mcpconform/internal/transport"
)

type adapter20250326 struct {
	t       transport.Transport
	timeout time.Duration
}

// New20250326 builds the adapter for the "2025-03-26" revision, the one
// revision with async tool invocation and "parameters" instead of
// "arguments"/"inputSchema".
func New20250326(t transport.Transport, timeout time.Duration) *Adapter {
	return newAdapter(&adapter20250326{t: t, timeout: timeout})
}

func (a *adapter20250326) ProtocolVersion() string { return v2.ProtocolVersion }

func (a *adapter20250326) Initialize(ctx context.Context) (ServerInfo, Capabilities, error) {
	params := structToParams(v2.InitializeParams{
		ProtocolVersion:  v2.ProtocolVersion,
		ClientInfo:       v2.Implementation{Name: "mcpconform", Version: "0.1.0"},
		ClientCapability: v2.ClientCapabilities{AsyncSupported: true},
	})
	resp, err := a.t.SendRequest(ctx, "initialize", params, a.timeout)
	if err != nil {
		return ServerInfo{}, Capabilities{}, err
	}
	if resp.Err != nil {
		return ServerInfo{}, Capabilities{}, resp.Err
	}
	var result v2.InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return ServerInfo{}, Capabilities{}, &shared.ProtocolError{Reason: "malformed initialize result: " + err.Error()}
	}
	if result.ServerInfo.Name == "" {
		// Accept the snake_case server_info some servers of this revision send.
		var legacy struct {
			ServerInfo v2.Implementation `json:"server_info"`
		}
		if err := json.Unmarshal(resp.Result, &legacy); err == nil {
			result.ServerInfo = legacy.ServerInfo
		}
	}
	if err := a.t.SendNotification(ctx, "notifications/initialized", map[string]interface{}{}); err != nil {
		return ServerInfo{}, Capabilities{}, err
	}
	caps := Capabilities{
		Tools:          result.Capabilities.Tools != nil,
		Resources:      result.Capabilities.Resources != nil,
		Prompts:        result.Capabilities.Prompts != nil,
		AsyncSupported: result.Capabilities.AsyncSupported,
	}
	return ServerInfo{Name: result.ServerInfo.Name, Version: result.ServerInfo.Version}, caps, nil
}

func (a *adapter20250326) ListTools(ctx context.Context) ([]ToolInfo, error) {
	resp, err := a.t.SendRequest(ctx, "tools/list", map[string]interface{}{}, a.timeout)
	if err != nil {
		return nil, err
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	var result v2.ListToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, &shared.ProtocolError{Reason: "malformed tools/list result: " + err.Error()}
	}
	out := make([]ToolInfo, len(result.Tools))
	for i, t := range result.Tools {
		out[i] = ToolInfo{Name: t.Name, Description: t.Description, Schema: t.Parameters}
	}
	return out, nil
}

func (a *adapter20250326) CallTool(ctx context.Context, name string, args map[string]interface{}) (ToolCallResult, error) {
	params := structToParams(v2.CallToolParams{Name: name, Parameters: args})
	resp, err := a.t.SendRequest(ctx, "tools/call", params, a.timeout)
	if err != nil {
		return ToolCallResult{}, err
	}
	if resp.Err != nil {
		return ToolCallResult{}, resp.Err
	}
	var result v2.CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return ToolCallResult{}, &shared.ProtocolError{Reason: "malformed tools/call result: " + err.Error()}
	}
	return ToolCallResult{Content: toContentBlocks2(result.Content), IsError: result.IsError}, nil
}

func (a *adapter20250326) CallToolAsync(ctx context.Context, name string, args map[string]interface{}) (AsyncInvocation, error) {
	params := structToParams(v2.CallToolParams{Name: name, Parameters: args})
	resp, err := a.t.SendRequest(ctx, "tools/call-async", params, a.timeout)
	if err != nil {
		return AsyncInvocation{}, err
	}
	if resp.Err != nil {
		return AsyncInvocation{}, resp.Err
	}
	var result v2.CallToolAsyncResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return AsyncInvocation{}, &shared.ProtocolError{Reason: "malformed tools/call-async result: " + err.Error()}
	}
	return AsyncInvocation{ID: result.InvocationID}, nil
}

func (a *adapter20250326) GetToolResult(ctx context.Context, inv AsyncInvocation) (AsyncState, *ToolCallResult, error) {
	params := structToParams(v2.GetToolResultParams{InvocationID: inv.ID})
	resp, err := a.t.SendRequest(ctx, "tools/result", params, a.timeout)
	if err != nil {
		return "", nil, err
	}
	if resp.Err != nil {
		return "", nil, resp.Err
	}
	var result v2.GetToolResultResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", nil, &shared.ProtocolError{Reason: "malformed tools/result result: " + err.Error()}
	}
	state := AsyncState(result.State)
	if result.Result == nil {
		return state, nil, nil
	}
	ctr := ToolCallResult{Content: toContentBlocks2(result.Result.Content), IsError: result.Result.IsError}
	return state, &ctr, nil
}

func (a *adapter20250326) CancelTool(ctx context.Context, inv AsyncInvocation) error {
	params := structToParams(v2.CancelToolParams{InvocationID: inv.ID})
	resp, err := a.t.SendRequest(ctx, "tools/cancel", params, a.timeout)
	if err != nil {
		return err
	}
	return resp.Err
}

func (a *adapter20250326) ListResources(ctx context.Context) ([]ResourceInfo, error) {
	resp, err := a.t.SendRequest(ctx, "resources/list", map[string]interface{}{}, a.timeout)
	if err != nil {
		return nil, err
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	var result v2.ListResourcesResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, &shared.ProtocolError{Reason: "malformed resources/list result: " + err.Error()}
	}
	out := make([]ResourceInfo, len(result.Resources))
	for i, r := range result.Resources {
		out[i] = ResourceInfo{URI: r.URI, Name: r.Name, Description: r.Description, MimeType: r.MimeType}
	}
	return out, nil
}

func (a *adapter20250326) GetResource(ctx context.Context, uri string) (ResourceContent, error) {
	params := structToParams(v2.ReadResourceParams{URI: uri})
	resp, err := a.t.SendRequest(ctx, "resources/get", params, a.timeout)
	if err != nil {
		return ResourceContent{}, err
	}
	if resp.Err != nil {
		return ResourceContent{}, resp.Err
	}
	var result v2.ReadResourceResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return ResourceContent{}, &shared.ProtocolError{Reason: "malformed resources/get result: " + err.Error()}
	}
	if len(result.Contents) == 0 {
		return ResourceContent{}, &shared.ProtocolError{Reason: "resources/get returned no contents"}
	}
	c := result.Contents[0]
	return ResourceContent{URI: c.URI, MimeType: c.MimeType, Text: c.Text}, nil
}

func (a *adapter20250326) Ping(ctx context.Context) error {
	_, err := a.t.SendRequest(ctx, "ping", map[string]interface{}{}, a.timeout)
	return err
}

func (a *adapter20250326) Shutdown(ctx context.Context) error {
	if _, err := a.t.SendRequest(ctx, "shutdown", map[string]interface{}{}, a.timeout); err != nil {
		return err
	}
	return a.t.SendNotification(ctx, "exit", map[string]interface{}{})
}

func (a *adapter20250326) SupportsBatching() bool { return true }

func (a *adapter20250326) SendRawBatch(ctx context.Context, methods []string) ([]*shared.Response, error) {
	items := make([]transport.BatchItem, len(methods))
	for i, m := range methods {
		items[i] = transport.BatchItem{Method: m, Params: map[string]interface{}{}}
	}
	return a.t.SendBatch(ctx, items, a.timeout)
}

func (a *adapter20250326) RawTransport() transport.Transport { return a.t }

func toContentBlocks2(cs []v2.Content) []ContentBlock {
	out := make([]ContentBlock, len(cs))
	for i, c := range cs {
		out[i] = ContentBlock{Type: c.Type, Text: c.Text}
	}
	return out
}
