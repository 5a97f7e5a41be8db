package fakeserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchEchoRoundTrip(t *testing.T) {
	c := New(v20241105)
	params, _ := json.Marshal(map[string]interface{}{"name": "echo", "arguments": map[string]interface{}{"message": "hi"}})
	result, rpcErr := c.Dispatch("s1", "tools/call", params)
	require.Nil(t, rpcErr)
	m := result.(map[string]interface{})
	assert.False(t, m["isError"].(bool))
}

func TestDispatchUnknownToolReturnsMethodNotFound(t *testing.T) {
	c := New(v20241105)
	params, _ := json.Marshal(map[string]interface{}{"name": "does-not-exist", "arguments": map[string]interface{}{}})
	_, rpcErr := c.Dispatch("s1", "tools/call", params)
	require.NotNil(t, rpcErr)
	assert.Equal(t, -32601, rpcErr.Code)
}

func TestDispatchUnknownMethod(t *testing.T) {
	c := New(v20241105)
	_, rpcErr := c.Dispatch("s1", "nonexistent/method", json.RawMessage(`{}`))
	require.NotNil(t, rpcErr)
	assert.Equal(t, -32601, rpcErr.Code)
}

func TestToolSchemaUsesParametersFor20250326(t *testing.T) {
	c := New(v20250326)
	schema := c.toolSchema("echo", "desc", map[string]interface{}{"type": "object"})
	_, hasParameters := schema["parameters"]
	_, hasInputSchema := schema["inputSchema"]
	assert.True(t, hasParameters)
	assert.False(t, hasInputSchema)
}

func TestSyncHandlerRejectsBatchUnder20250618(t *testing.T) {
	c := New(v20250618)
	srv := httptest.NewServer(NewSyncHandler(c))
	defer srv.Close()

	batch := `[{"jsonrpc":"2.0","id":1,"method":"ping"},{"jsonrpc":"2.0","id":2,"method":"ping"}]`
	resp, err := http.Post(srv.URL+"/mcp", "application/json", strings.NewReader(batch))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSyncHandlerRequiresBearerTokenWhenConfigured(t *testing.T) {
	c := New(v20250618, WithBearerToken("valid-test-token-123"))
	srv := httptest.NewServer(NewSyncHandler(c))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/mcp", "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Bearer")
}
