// Package v20250326 carries the wire types for MCP protocol revision
// "2025-03-26", the one version that renames the tool argument/schema
// fields and adds async tool invocation.
package v20250326

const ProtocolVersion = "2025-03-26"

type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type Capability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ClientCapabilities additionally may declare asyncSupported, the only
// revision that does.
type ClientCapabilities struct {
	Roots         *Capability `json:"roots,omitempty"`
	Sampling      *struct{}   `json:"sampling,omitempty"`
	AsyncSupported bool       `json:"asyncSupported,omitempty"`
}

type ServerCapabilities struct {
	Logging        map[string]interface{} `json:"logging,omitempty"`
	Prompts        *Capability            `json:"prompts,omitempty"`
	Resources      *Capability            `json:"resources,omitempty"`
	Tools          *Capability            `json:"tools,omitempty"`
	AsyncSupported bool                   `json:"asyncSupported,omitempty"`
}

type InitializeParams struct {
	ProtocolVersion  string             `json:"protocolVersion"`
	ClientInfo       Implementation     `json:"client_info"`
	ClientCapability ClientCapabilities `json:"client_capabilities"`
}

type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

type JSONSchema = map[string]interface{}

// Tool uses "parameters" for its schema field in this revision only.
type Tool struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Parameters  JSONSchema `json:"parameters,omitempty"`
}

type ListToolsResult struct {
	Tools      []Tool  `json:"tools"`
	NextCursor *string `json:"nextCursor,omitempty"`
}

// CallToolParams uses "parameters" instead of "arguments" in this revision
// only.
type CallToolParams struct {
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// CallToolAsyncResult is the response to tools/call-async: an opaque
// invocation id rather than a finished result.
type CallToolAsyncResult struct {
	InvocationID string `json:"invocationId"`
}

// InvocationState is the terminal-or-not state of an async tool call. Once
// terminal it never changes.
type InvocationState string

const (
	InvocationRunning   InvocationState = "running"
	InvocationCompleted InvocationState = "completed"
	InvocationCancelled InvocationState = "cancelled"
	InvocationError     InvocationState = "error"
)

func (s InvocationState) Terminal() bool {
	return s == InvocationCompleted || s == InvocationCancelled || s == InvocationError
}

type GetToolResultParams struct {
	InvocationID string `json:"invocationId"`
}

type GetToolResultResult struct {
	State  InvocationState `json:"state"`
	Result *CallToolResult `json:"result,omitempty"`
	Error  *string         `json:"error,omitempty"`
}

type CancelToolParams struct {
	InvocationID string `json:"invocationId"`
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
