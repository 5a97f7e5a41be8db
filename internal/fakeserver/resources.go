package fakeserver

import (
	"encoding/json"
	"fmt"

	"github.com/gate4ai/mcpconform/internal/shared"
)

// One static fixture resource, enough to exercise resources/list and
// resources/get across all three revisions.
const fixtureResourceURI = "mcpconform://fixtures/greeting"

func (c *Core) handleResourcesList(sessionID string, params json.RawMessage) (interface{}, *shared.Error) {
	return map[string]interface{}{
		"resources": []map[string]interface{}{
			{"uri": fixtureResourceURI, "name": "greeting", "description": "a static text fixture", "mimeType": "text/plain"},
		},
	}, nil
}

func (c *Core) handleResourcesGet(sessionID string, params json.RawMessage) (interface{}, *shared.Error) {
	var raw struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(params, &raw); err != nil {
		return nil, shared.NewError(shared.ErrCodeInvalidParams, "malformed resources/get params")
	}
	if raw.URI != fixtureResourceURI {
		return nil, shared.NewError(shared.ErrCodeInvalidParams, fmt.Sprintf("unknown resource %q", raw.URI))
	}
	return map[string]interface{}{
		"contents": []map[string]interface{}{
			{"uri": fixtureResourceURI, "mimeType": "text/plain", "text": "Hello, MCP!"},
		},
	}, nil
}
