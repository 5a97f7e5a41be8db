package protocol

import (
	"context"
	"encoding/json"
	"time"

	v1 "github.com/gate4ai/mcpconform/internal/protocol/schema/v20241105"
	"github.com/gate4ai/mcpconform/internal/shared"
	"github.com/gate4ai/mcpconform/internal/transport"
)

type adapter20241105 struct {
	t       transport.Transport
	timeout time.Duration
}

// New20241105 builds the adapter for the "2024-11-05" revision.
func New20241105(t transport.Transport, timeout time.Duration) *Adapter {
	return newAdapter(&adapter20241105{t: t, timeout: timeout})
}

func (a *adapter20241105) ProtocolVersion() string { return v1.ProtocolVersion }

func (a *adapter20241105) Initialize(ctx context.Context) (ServerInfo, Capabilities, error) {
	params := structToParams(v1.InitializeParams{
		ProtocolVersion: v1.ProtocolVersion,
		ClientInfo:      v1.Implementation{Name: "mcpconform", Version: "0.1.0"},
	})
	resp, err := a.t.SendRequest(ctx, "initialize", params, a.timeout)
	if err != nil {
		return ServerInfo{}, Capabilities{}, err
	}
	if resp.Err != nil {
		return ServerInfo{}, Capabilities{}, resp.Err
	}
	var result v1.InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return ServerInfo{}, Capabilities{}, &shared.ProtocolError{Reason: "malformed initialize result: " + err.Error()}
	}
	if result.ServerInfo.Name == "" {
		// Accept the snake_case server_info some servers of this revision send.
		var legacy struct {
			ServerInfo v1.Implementation `json:"server_info"`
		}
		if err := json.Unmarshal(resp.Result, &legacy); err == nil {
			result.ServerInfo = legacy.ServerInfo
		}
	}
	if err := a.t.SendNotification(ctx, "notifications/initialized", map[string]interface{}{}); err != nil {
		return ServerInfo{}, Capabilities{}, err
	}
	caps := Capabilities{
		Tools:     result.Capabilities.Tools != nil,
		Resources: result.Capabilities.Resources != nil,
		Prompts:   result.Capabilities.Prompts != nil,
	}
	return ServerInfo{Name: result.ServerInfo.Name, Version: result.ServerInfo.Version}, caps, nil
}

func (a *adapter20241105) ListTools(ctx context.Context) ([]ToolInfo, error) {
	resp, err := a.t.SendRequest(ctx, "tools/list", map[string]interface{}{}, a.timeout)
	if err != nil {
		return nil, err
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	var result v1.ListToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, &shared.ProtocolError{Reason: "malformed tools/list result: " + err.Error()}
	}
	out := make([]ToolInfo, len(result.Tools))
	for i, t := range result.Tools {
		out[i] = ToolInfo{Name: t.Name, Description: t.Description, Schema: t.InputSchema}
	}
	return out, nil
}

func (a *adapter20241105) CallTool(ctx context.Context, name string, args map[string]interface{}) (ToolCallResult, error) {
	params := structToParams(v1.CallToolParams{Name: name, Arguments: args})
	resp, err := a.t.SendRequest(ctx, "tools/call", params, a.timeout)
	if err != nil {
		return ToolCallResult{}, err
	}
	if resp.Err != nil {
		return ToolCallResult{}, resp.Err
	}
	var result v1.CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return ToolCallResult{}, &shared.ProtocolError{Reason: "malformed tools/call result: " + err.Error()}
	}
	return ToolCallResult{Content: toContentBlocks(result.Content), IsError: result.IsError}, nil
}

// CallToolAsync, GetToolResult, CancelTool are not part of this revision:
// async tool support was introduced in 2025-03-26 only.
func (a *adapter20241105) CallToolAsync(ctx context.Context, name string, args map[string]interface{}) (AsyncInvocation, error) {
	return AsyncInvocation{}, &shared.ProtocolError{Reason: "async tool invocation is not part of protocol revision 2024-11-05"}
}

func (a *adapter20241105) GetToolResult(ctx context.Context, inv AsyncInvocation) (AsyncState, *ToolCallResult, error) {
	return "", nil, &shared.ProtocolError{Reason: "async tool invocation is not part of protocol revision 2024-11-05"}
}

func (a *adapter20241105) CancelTool(ctx context.Context, inv AsyncInvocation) error {
	return &shared.ProtocolError{Reason: "async tool invocation is not part of protocol revision 2024-11-05"}
}

func (a *adapter20241105) ListResources(ctx context.Context) ([]ResourceInfo, error) {
	resp, err := a.t.SendRequest(ctx, "resources/list", map[string]interface{}{}, a.timeout)
	if err != nil {
		return nil, err
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	var result v1.ListResourcesResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, &shared.ProtocolError{Reason: "malformed resources/list result: " + err.Error()}
	}
	out := make([]ResourceInfo, len(result.Resources))
	for i, r := range result.Resources {
		out[i] = ResourceInfo{URI: r.URI, Name: r.Name, Description: r.Description, MimeType: r.MimeType}
	}
	return out, nil
}

func (a *adapter20241105) GetResource(ctx context.Context, uri string) (ResourceContent, error) {
	params := structToParams(v1.ReadResourceParams{URI: uri})
	resp, err := a.t.SendRequest(ctx, "resources/get", params, a.timeout)
	if err != nil {
		return ResourceContent{}, err
	}
	if resp.Err != nil {
		return ResourceContent{}, resp.Err
	}
	var result v1.ReadResourceResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return ResourceContent{}, &shared.ProtocolError{Reason: "malformed resources/get result: " + err.Error()}
	}
	if len(result.Contents) == 0 {
		return ResourceContent{}, &shared.ProtocolError{Reason: "resources/get returned no contents"}
	}
	c := result.Contents[0]
	return ResourceContent{URI: c.URI, MimeType: c.MimeType, Text: c.Text}, nil
}

func (a *adapter20241105) Ping(ctx context.Context) error {
	_, err := a.t.SendRequest(ctx, "ping", map[string]interface{}{}, a.timeout)
	return err
}

func (a *adapter20241105) Shutdown(ctx context.Context) error {
	if _, err := a.t.SendRequest(ctx, "shutdown", map[string]interface{}{}, a.timeout); err != nil {
		return err
	}
	return a.t.SendNotification(ctx, "exit", map[string]interface{}{})
}

func (a *adapter20241105) SupportsBatching() bool { return true }

func (a *adapter20241105) SendRawBatch(ctx context.Context, methods []string) ([]*shared.Response, error) {
	items := make([]transport.BatchItem, len(methods))
	for i, m := range methods {
		items[i] = transport.BatchItem{Method: m, Params: map[string]interface{}{}}
	}
	return a.t.SendBatch(ctx, items, a.timeout)
}

func (a *adapter20241105) RawTransport() transport.Transport { return a.t }

// structToParams round-trips a typed params struct through JSON into the
// map[string]interface{} shape shared.Request carries, since this package's
// schema structs are what give each revision's field-name differences a
// name and a type, while the wire layer stays loosely typed.
func structToParams(v interface{}) map[string]interface{} {
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]interface{}{}
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]interface{}{}
	}
	return m
}

func toContentBlocks(cs []v1.Content) []ContentBlock {
	out := make([]ContentBlock, len(cs))
	for i, c := range cs {
		out[i] = ContentBlock{Type: c.Type, Text: c.Text}
	}
	return out
}
