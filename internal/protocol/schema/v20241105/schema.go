// Package v20241105 carries the wire types for MCP protocol revision
// "2024-11-05". Ported and trimmed from shared/mcp/2024/schema:
// only the shapes the conformance harness actually exercises
// (initialize, tools, resources, ping) survive; sampling/roots/annotations
// and other capabilities the test catalog never drives were dropped.
package v20241105

const ProtocolVersion = "2024-11-05"

// Implementation identifies a client or server by name and version.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Capability is a simple listChanged-only capability marker.
type Capability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ClientCapabilities describes what the client advertises during
// initialize.
type ClientCapabilities struct {
	Roots    *Capability `json:"roots,omitempty"`
	Sampling *struct{}   `json:"sampling,omitempty"`
}

// ServerCapabilities describes what the server advertised back.
type ServerCapabilities struct {
	Logging   map[string]interface{} `json:"logging,omitempty"`
	Prompts   *Capability            `json:"prompts,omitempty"`
	Resources *Capability            `json:"resources,omitempty"`
	Tools     *Capability            `json:"tools,omitempty"`
}

// InitializeParams are the client->server initialize request parameters.
// This revision uses snake_case client_info/client_capabilities, the
// casing.2 calls out as the historical/reference-server form.
type InitializeParams struct {
	ProtocolVersion  string              `json:"protocolVersion"`
	ClientInfo       Implementation      `json:"client_info"`
	ClientCapability ClientCapabilities  `json:"client_capabilities"`
}

// InitializeResult is the server's initialize response.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// JSONSchema is a deliberately loose JSON-Schema document: the harness
// never validates tool inputs against it, only checks
// that it is present and well-formed JSON.
type JSONSchema = map[string]interface{}

// Tool is a single tool descriptor as returned by tools/list.
type Tool struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	InputSchema JSONSchema `json:"inputSchema,omitempty"`
}

type ListToolsResult struct {
	Tools      []Tool  `json:"tools"`
	NextCursor *string `json:"nextCursor,omitempty"`
}

// CallToolParams uses "arguments" in this and the 2025-06-18 revision;
// 2025-03-26 alone renames it to "parameters".
type CallToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Content is a single content block of a tool result. Only text is
// modeled; image/audio/embedded-resource blocks decode with just their type
// set and the rest of their fields dropped.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

type ListResourcesResult struct {
	Resources  []Resource `json:"resources"`
	NextCursor *string    `json:"nextCursor,omitempty"`
}

type ReadResourceParams struct {
	URI string `json:"uri"`
}

type ResourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
}

type ReadResourceResult struct {
	Contents []ResourceContent `json:"contents"`
}
