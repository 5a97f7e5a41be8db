package fakeserver

import (
	"encoding/json"
	"fmt"

	"github.com/gate4ai/mcpconform/internal/shared"
)

// toolDef is a statically registered tool, in the style of
// capability.Tool (embedded schema.Tool plus a handler func), trimmed to
// the handful of fixtures the catalog's seed cases exercise:
// echo, add, and a cancellable sleep.
type toolDef struct {
	name        string
	description string
	schema      map[string]interface{}
	call        func(args map[string]interface{}) (text string, structured map[string]interface{}, isErr bool, rpcErr *shared.Error)
}

var builtinTools = []toolDef{
	{
		name:        "echo",
		description: "Echoes back the message argument unchanged.",
		schema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"message": map[string]interface{}{"type": "string"}},
			"required":   []string{"message"},
		},
		call: func(args map[string]interface{}) (string, map[string]interface{}, bool, *shared.Error) {
			msg, ok := args["message"].(string)
			if !ok {
				return "", nil, false, shared.NewError(shared.ErrCodeInvalidParams, "echo requires a string \"message\" argument")
			}
			return msg, map[string]interface{}{"message": msg}, false, nil
		},
	},
	{
		name:        "add",
		description: "Adds two numbers, returning their sum.",
		schema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"a": map[string]interface{}{"type": "number"}, "b": map[string]interface{}{"type": "number"}},
			"required":   []string{"a", "b"},
		},
		call: func(args map[string]interface{}) (string, map[string]interface{}, bool, *shared.Error) {
			a, aok := args["a"].(float64)
			b, bok := args["b"].(float64)
			if !aok || !bok {
				return "", nil, false, shared.NewError(shared.ErrCodeInvalidParams, "add requires numeric \"a\" and \"b\" arguments")
			}
			sum := a + b
			return fmt.Sprintf("%g", sum), map[string]interface{}{"result": sum}, false, nil
		},
	},
	{
		name:        "sleep",
		description: "Sleeps for the given number of seconds before returning, for async-cancellation testing.",
		schema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"duration": map[string]interface{}{"type": "number"}},
			"required":   []string{"duration"},
		},
		call: func(args map[string]interface{}) (string, map[string]interface{}, bool, *shared.Error) {
			return "slept", nil, false, nil
		},
	},
}

func findTool(name string) (toolDef, bool) {
	for _, t := range builtinTools {
		if t.name == name {
			return t, true
		}
	}
	return toolDef{}, false
}

func (c *Core) handleToolsList(sessionID string, params json.RawMessage) (interface{}, *shared.Error) {
	tools := make([]map[string]interface{}, len(builtinTools))
	for i, t := range builtinTools {
		tools[i] = c.toolSchema(t.name, t.description, t.schema)
	}
	return map[string]interface{}{"tools": tools}, nil
}

func (c *Core) handleToolsCall(sessionID string, params json.RawMessage) (interface{}, *shared.Error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(params, &raw); err != nil {
		return nil, shared.NewError(shared.ErrCodeInvalidParams, "malformed tools/call params")
	}
	name, _ := raw["name"].(string)
	tool, ok := findTool(name)
	if !ok {
		return nil, shared.NewError(shared.ErrCodeMethodNotFound, fmt.Sprintf("unknown tool %q", name))
	}
	args := toolArguments(raw)
	text, structured, isErr, rpcErr := tool.call(args)
	if rpcErr != nil {
		return nil, rpcErr
	}
	result := map[string]interface{}{
		"content": []map[string]interface{}{{"type": "text", "text": text}},
		"isError": isErr,
	}
	if structured != nil && c.Version == v20250618 {
		result["structuredContent"] = structured
	}
	return result, nil
}
