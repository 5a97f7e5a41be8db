// Package catalog holds the test case table the Runner drives: one pure
// async function per concern, each tagged with the protocol revisions it
// applies to. None of these functions know which transport or
// revision is underneath; they only see a protocol.Adapter.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gate4ai/mcpconform/internal/protocol"
	"github.com/gate4ai/mcpconform/internal/shared"
	"github.com/gate4ai/mcpconform/internal/transport"
)

// probeTimeout bounds the raw SendRequest call testUnknownMethod makes,
// which bypasses the normal Adapter methods and their per-call timeout. The
// ProbeRaw calls below take no timeout of their own and are bounded only by
// the test's context.
const probeTimeout = 10 * time.Second

// asRPCError unwraps err into a *shared.Error if it carries one (a JSON-RPC
// error object), or returns nil otherwise.
func asRPCError(err error) *shared.Error {
	if err == nil {
		return nil
	}
	var rpcErr *shared.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return nil
}

// Outcome is what a single test case produced.
type Outcome string

const (
	Passed  Outcome = "passed"
	Failed  Outcome = "failed"
	Skipped Outcome = "skipped"
	Errored Outcome = "errored"
)

// Func is the shape every test case has: given a live, already-initialized
// adapter, decide pass/fail and explain why.
type Func func(ctx context.Context, a *protocol.Adapter) (bool, string)

// Case pairs a test function with its name and the protocol versions it
// applies to. An empty Versions slice means "all supported versions".
type Case struct {
	Name     string
	Versions []string
	Run      Func
}

// AppliesTo reports whether this case should run against version.
func (c Case) AppliesTo(version string) bool {
	if len(c.Versions) == 0 {
		return true
	}
	for _, v := range c.Versions {
		if v == version {
			return true
		}
	}
	return false
}

const (
	v20241105 = "2024-11-05"
	v20250326 = "2025-03-26"
	v20250618 = "2025-06-18"
)

// All is the full catalog, grouped by concern.
var All = []Case{
	// Initialization
	{Name: "initialize handshake succeeds", Run: testInitializeSucceeds},
	{Name: "server info fields present", Run: testServerInfoPresent},
	{Name: "re-initialize is rejected", Run: testReinitializeRejected},

	// Tools (sync)
	{Name: "tools/list returns a list", Run: testToolsListReturnsList},
	{Name: "echo tool round-trips", Run: testEchoRoundTrip},
	{Name: "add tool with non-integer operands", Run: testAddNonInteger},
	{Name: "invalid tool arguments produce -32602", Run: testInvalidToolArguments},
	{Name: "unknown tool produces -32601 or -32602", Run: testUnknownTool},

	// Tools (async, 2025-03-26 only)
	{Name: "server advertises async capability", Versions: []string{v20250326}, Run: testAsyncCapabilityAdvertised},
	{Name: "call_tool_async returns an invocation id", Versions: []string{v20250326}, Run: testCallToolAsyncReturnsID},
	{Name: "async polling reaches completed", Versions: []string{v20250326}, Run: testAsyncPollingCompletes},
	{Name: "async sleep with cancel never completes", Versions: []string{v20250326}, Run: testAsyncSleepCancel},

	// Error handling
	{Name: "unknown method returns method-not-found", Run: testUnknownMethod},
	{Name: "invalid params return invalid-params", Run: testInvalidParams},
	{Name: "malformed JSON body returns parse-error", Run: testMalformedJSON},
	{Name: "request missing jsonrpc field is rejected", Run: testMissingJSONRPCField},

	// Batching
	{Name: "batch of two pings returns two responses", Versions: []string{v20241105, v20250326}, Run: testBatchTwoPings},
	{Name: "batch under 2025-06-18 is rejected", Versions: []string{v20250618}, Run: testBatchRejected},

	// Session management
	{Name: "session id stable after initialize", Run: testSessionIDStable},
	{Name: "request with no session id is rejected", Run: testNoSessionIDRejected},
	{Name: "request with a bogus session id is rejected", Run: testBogusSessionIDRejected},

	// OAuth / bearer-token auth (2025-06-18 only)
	{Name: "missing bearer token returns 401 with WWW-Authenticate", Versions: []string{v20250618}, Run: testOAuthNoToken},
	{Name: "valid bearer token is accepted", Versions: []string{v20250618}, Run: testOAuthValidToken},
	{Name: "invalid bearer token is rejected", Versions: []string{v20250618}, Run: testOAuthInvalidToken},
}

func fail(format string, args ...interface{}) (bool, string) {
	return false, fmt.Sprintf(format, args...)
}

func pass(format string, args ...interface{}) (bool, string) {
	return true, fmt.Sprintf(format, args...)
}

func testInitializeSucceeds(ctx context.Context, a *protocol.Adapter) (bool, string) {
	// The runner already called Initialize before any test case runs;
	// reaching here at all is the positive signal. Confirm
	// with a ping, which only a live, handshaken session answers.
	if err := a.Ping(ctx); err != nil {
		return fail("post-initialize ping failed: %v", err)
	}
	return pass("handshake completed and session responds to ping")
}

func testServerInfoPresent(ctx context.Context, a *protocol.Adapter) (bool, string) {
	info, _, err := a.Initialize(ctx)
	if err != nil {
		return fail("second initialize to inspect server info failed: %v", err)
	}
	if info.Name == "" {
		return fail("server info name was empty")
	}
	return pass("server identifies as %q %q", info.Name, info.Version)
}

// testReinitializeRejected sends a second initialize on an already-live
// session; a conformant server either errors or returns the same session
// identity rather than resetting state.
func testReinitializeRejected(ctx context.Context, a *protocol.Adapter) (bool, string) {
	first, _, err := a.Initialize(ctx)
	if err != nil {
		return fail("first re-initialize failed: %v", err)
	}
	second, _, err := a.Initialize(ctx)
	if err != nil {
		// An explicit rejection (error) is an acceptable way to satisfy
		// this invariant.
		return pass("second initialize was rejected: %v", err)
	}
	if second.Name != first.Name || second.Version != first.Version {
		return fail("server identity changed across re-initialize: %+v -> %+v", first, second)
	}
	return pass("second initialize did not corrupt server identity")
}

func testToolsListReturnsList(ctx context.Context, a *protocol.Adapter) (bool, string) {
	tools, err := a.ListTools(ctx)
	if err != nil {
		return fail("tools/list failed: %v", err)
	}
	return pass("tools/list returned %d tool(s)", len(tools))
}

func testEchoRoundTrip(ctx context.Context, a *protocol.Adapter) (bool, string) {
	const want = "Hello, MCP!"
	result, err := a.CallTool(ctx, "echo", map[string]interface{}{"message": want})
	if err != nil {
		return fail("echo tool call failed: %v", err)
	}
	if result.IsError {
		return fail("echo tool reported an error result")
	}
	for _, c := range result.Content {
		if c.Text == want {
			return pass("echo returned the expected message")
		}
	}
	return fail("echo result did not contain %q", want)
}

func testAddNonInteger(ctx context.Context, a *protocol.Adapter) (bool, string) {
	const wantSum = 55.75
	result, err := a.CallTool(ctx, "add", map[string]interface{}{"a": 42.5, "b": 13.25})
	if err != nil {
		return fail("add tool call failed: %v", err)
	}
	if result.IsError {
		return fail("add tool reported an error result")
	}
	for _, c := range result.Content {
		var got float64
		if _, err := fmt.Sscanf(c.Text, "%f", &got); err == nil {
			if math.Abs(got-wantSum) < 1e-4 {
				return pass("add returned %v", got)
			}
		}
	}
	if result.StructuredContent != nil {
		if v, ok := result.StructuredContent["result"].(float64); ok && math.Abs(v-wantSum) < 1e-4 {
			return pass("add returned structured result %v", v)
		}
	}
	return fail("add result did not contain the expected sum %v", wantSum)
}

func testInvalidToolArguments(ctx context.Context, a *protocol.Adapter) (bool, string) {
	_, err := a.CallTool(ctx, "add", map[string]interface{}{"a": "not-a-number"})
	rpcErr := asRPCError(err)
	if rpcErr == nil {
		return fail("expected an invalid-params error, got success or a non-RPC error: %v", err)
	}
	if rpcErr.Code != -32602 {
		return fail("expected error code -32602, got %d", rpcErr.Code)
	}
	return pass("invalid tool arguments correctly produced -32602")
}

func testUnknownTool(ctx context.Context, a *protocol.Adapter) (bool, string) {
	_, err := a.CallTool(ctx, "this-tool-does-not-exist", map[string]interface{}{})
	rpcErr := asRPCError(err)
	if rpcErr == nil {
		return fail("expected an error for an unknown tool, got success or a non-RPC error: %v", err)
	}
	if rpcErr.Code != -32602 && rpcErr.Code != -32601 {
		return fail("expected error code -32601 or -32602, got %d", rpcErr.Code)
	}
	return pass("unknown tool correctly produced %d", rpcErr.Code)
}

func testAsyncCapabilityAdvertised(ctx context.Context, a *protocol.Adapter) (bool, string) {
	_, caps, err := a.Initialize(ctx)
	if err != nil {
		return fail("initialize failed: %v", err)
	}
	if !caps.AsyncSupported {
		return fail("server did not advertise asyncSupported")
	}
	return pass("server advertises async tool support")
}

func testCallToolAsyncReturnsID(ctx context.Context, a *protocol.Adapter) (bool, string) {
	inv, err := a.CallToolAsync(ctx, "sleep", map[string]interface{}{"duration": 0.1})
	if err != nil {
		return fail("call_tool_async failed: %v", err)
	}
	if inv.ID == "" {
		return fail("call_tool_async returned an empty invocation id")
	}
	return pass("call_tool_async returned invocation id %q", inv.ID)
}

func testAsyncPollingCompletes(ctx context.Context, a *protocol.Adapter) (bool, string) {
	inv, err := a.CallToolAsync(ctx, "sleep", map[string]interface{}{"duration": 0.2})
	if err != nil {
		return fail("call_tool_async failed: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		state, _, err := a.GetToolResult(ctx, inv)
		if err != nil {
			return fail("get_tool_result failed: %v", err)
		}
		if state == protocol.AsyncCompleted {
			return pass("async invocation reached completed")
		}
		if state == protocol.AsyncError || state == protocol.AsyncCancelled {
			return fail("async invocation reached terminal state %q before completing", state)
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fail("async invocation did not complete within the polling deadline")
}

func testAsyncSleepCancel(ctx context.Context, a *protocol.Adapter) (bool, string) {
	inv, err := a.CallToolAsync(ctx, "sleep", map[string]interface{}{"duration": 10})
	if err != nil {
		return fail("call_tool_async failed: %v", err)
	}
	time.Sleep(500 * time.Millisecond)
	if err := a.CancelTool(ctx, inv); err != nil {
		return fail("cancel_tool failed: %v", err)
	}
	state, _, err := a.GetToolResult(ctx, inv)
	if err != nil {
		return fail("get_tool_result after cancel failed: %v", err)
	}
	if state == protocol.AsyncCompleted {
		return fail("cancelled invocation still reported completed")
	}
	if state != protocol.AsyncCancelled && state != protocol.AsyncError {
		return fail("cancelled invocation reported non-terminal state %q", state)
	}
	return pass("cancelled invocation reached terminal state %q", state)
}

func testUnknownMethod(ctx context.Context, a *protocol.Adapter) (bool, string) {
	resp, err := a.RawTransport().SendRequest(ctx, "nonexistent/method", map[string]interface{}{}, probeTimeout)
	if err != nil {
		return fail("failed to probe unknown method: %v", err)
	}
	if resp == nil || resp.Err == nil {
		return fail("unknown method did not produce a JSON-RPC error response")
	}
	if resp.Err.Code != shared.ErrCodeMethodNotFound {
		return fail("expected error code %d for an unknown method, got %d", shared.ErrCodeMethodNotFound, resp.Err.Code)
	}
	return pass("unknown method correctly produced error code %d", resp.Err.Code)
}

// testMalformedJSON sends a body that is not valid JSON at all, which every
// revision must reject with a parse error regardless of session state.
func testMalformedJSON(ctx context.Context, a *protocol.Adapter) (bool, string) {
	prober, ok := a.RawTransport().(transport.RawProber)
	if !ok {
		return pass("transport has no raw wire access; skipping malformed-JSON probe")
	}
	result, err := prober.ProbeRaw(ctx, []byte(`{"jsonrpc": "2.0", "method": `), map[string]string{"Content-Type": "application/json"})
	if err != nil {
		return fail("malformed-JSON probe failed: %v", err)
	}
	if result.StatusCode != http.StatusBadRequest {
		return fail("expected HTTP 400 for malformed JSON, got %d", result.StatusCode)
	}
	code, _, ok := parseErrorResponse(result.Body)
	if !ok {
		return fail("malformed-JSON response did not carry a JSON-RPC error: %s", result.Body)
	}
	if code != shared.ErrCodeParseError {
		return fail("expected error code %d for malformed JSON, got %d", shared.ErrCodeParseError, code)
	}
	return pass("malformed JSON correctly produced error code %d", code)
}

// testMissingJSONRPCField sends a structurally valid JSON object that omits
// the required "jsonrpc" member, which must be rejected as an invalid
// request rather than silently accepted or treated as a parse error.
func testMissingJSONRPCField(ctx context.Context, a *protocol.Adapter) (bool, string) {
	prober, ok := a.RawTransport().(transport.RawProber)
	if !ok {
		return pass("transport has no raw wire access; skipping missing-jsonrpc-field probe")
	}
	frame, _ := json.Marshal(map[string]interface{}{
		"id":     1,
		"method": "ping",
		"params": map[string]interface{}{},
	})
	result, err := prober.ProbeRaw(ctx, frame, map[string]string{"Content-Type": "application/json"})
	if err != nil {
		return fail("missing-jsonrpc-field probe failed: %v", err)
	}
	code, _, ok := parseErrorResponse(result.Body)
	if !ok {
		return fail("missing-jsonrpc-field response did not carry a JSON-RPC error: %s", result.Body)
	}
	if code != shared.ErrCodeInvalidRequest {
		return fail("expected error code %d for a request missing jsonrpc, got %d", shared.ErrCodeInvalidRequest, code)
	}
	return pass("request missing the jsonrpc field correctly produced error code %d", code)
}

// testNoSessionIDRejected sends a well-formed, non-initialize request with
// no session id header at all, which must be rejected rather than silently
// assigned a fresh session.
func testNoSessionIDRejected(ctx context.Context, a *protocol.Adapter) (bool, string) {
	prober, ok := a.RawTransport().(transport.RawProber)
	if !ok {
		return pass("transport has no raw wire access; skipping no-session-id probe")
	}
	result, err := prober.ProbeRaw(ctx, rawFrame("ping"), map[string]string{"Content-Type": "application/json"})
	if err != nil {
		return fail("no-session-id probe failed: %v", err)
	}
	if result.StatusCode != http.StatusUnauthorized {
		return fail("expected HTTP 401 for a request with no session id, got %d", result.StatusCode)
	}
	return pass("request with no session id correctly rejected with HTTP %d", result.StatusCode)
}

// testBogusSessionIDRejected attaches a session id the server never issued,
// which must be rejected the same way a missing one is.
func testBogusSessionIDRejected(ctx context.Context, a *protocol.Adapter) (bool, string) {
	prober, ok := a.RawTransport().(transport.RawProber)
	if !ok {
		return pass("transport has no raw wire access; skipping bogus-session-id probe")
	}
	headers := map[string]string{"Content-Type": "application/json", "Mcp-Session-Id": "bogus-session-id-never-issued"}
	result, err := prober.ProbeRaw(ctx, rawFrame("ping"), headers)
	if err != nil {
		return fail("bogus-session-id probe failed: %v", err)
	}
	if result.StatusCode != http.StatusUnauthorized {
		return fail("expected HTTP 401 for a bogus session id, got %d", result.StatusCode)
	}
	return pass("bogus session id correctly rejected with HTTP %d", result.StatusCode)
}

// testOAuthNoToken sends a request with no Authorization header at all
// (but with the live session id, so a rejection is about the token and not
// the session) against a server that requires one, expecting a 401 with a
// WWW-Authenticate challenge.
func testOAuthNoToken(ctx context.Context, a *protocol.Adapter) (bool, string) {
	prober, ok := a.RawTransport().(transport.RawProber)
	if !ok {
		return pass("transport has no raw wire access; skipping OAuth no-token probe")
	}
	headers := map[string]string{"Content-Type": "application/json"}
	if sid := a.RawTransport().SessionID(); sid != "" {
		headers["Mcp-Session-Id"] = sid
	}
	result, err := prober.ProbeRaw(ctx, rawFrame("ping"), headers)
	if err != nil {
		return fail("OAuth no-token probe failed: %v", err)
	}
	if result.StatusCode != http.StatusUnauthorized {
		return pass("server does not enforce bearer-token auth (HTTP %d); skipping challenge check", result.StatusCode)
	}
	if result.Header.Get("WWW-Authenticate") == "" {
		return fail("401 response carried no WWW-Authenticate challenge")
	}
	return pass("missing bearer token correctly rejected with a WWW-Authenticate challenge")
}

// testOAuthValidToken confirms the well-known conformance bearer token is
// accepted when the active transport already carries one.
func testOAuthValidToken(ctx context.Context, a *protocol.Adapter) (bool, string) {
	if err := a.Ping(ctx); err != nil {
		return fail("ping with the configured bearer token failed: %v", err)
	}
	return pass("valid bearer token accepted")
}

// testOAuthInvalidToken swaps in a token the server never issued (keeping
// the live session id) and confirms it is rejected rather than treated as
// equivalent to a valid one.
func testOAuthInvalidToken(ctx context.Context, a *protocol.Adapter) (bool, string) {
	prober, ok := a.RawTransport().(transport.RawProber)
	if !ok {
		return pass("transport has no raw wire access; skipping OAuth invalid-token probe")
	}
	headers := map[string]string{"Content-Type": "application/json", "Authorization": "Bearer not-the-right-token"}
	if sid := a.RawTransport().SessionID(); sid != "" {
		headers["Mcp-Session-Id"] = sid
	}
	result, err := prober.ProbeRaw(ctx, rawFrame("ping"), headers)
	if err != nil {
		return fail("OAuth invalid-token probe failed: %v", err)
	}
	if result.StatusCode != http.StatusUnauthorized {
		return fail("expected HTTP 401 for an invalid bearer token, got %d", result.StatusCode)
	}
	return pass("invalid bearer token correctly rejected with HTTP %d", result.StatusCode)
}

// rawFrame builds the bytes of a minimal, well-formed JSON-RPC request for a
// given method, for probes that need a valid frame but control over headers.
func rawFrame(method string) []byte {
	data, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": shared.JSONRPCVersion,
		"id":      1,
		"method":  method,
		"params":  map[string]interface{}{},
	})
	return data
}

// parseErrorResponse extracts the JSON-RPC error code and message from a raw
// probe body, reporting ok=false if the body carries no error object.
func parseErrorResponse(body []byte) (code int, message string, ok bool) {
	var resp shared.Response
	if err := json.Unmarshal(body, &resp); err != nil || resp.Err == nil {
		return 0, "", false
	}
	return resp.Err.Code, resp.Err.Message, true
}

func testInvalidParams(ctx context.Context, a *protocol.Adapter) (bool, string) {
	_, err := a.CallTool(ctx, "add", map[string]interface{}{})
	rpcErr := asRPCError(err)
	if rpcErr == nil {
		return fail("expected invalid-params for a call missing required arguments: %v", err)
	}
	if rpcErr.Code != -32602 {
		return fail("expected error code -32602, got %d", rpcErr.Code)
	}
	return pass("missing arguments correctly produced -32602")
}

func testBatchTwoPings(ctx context.Context, a *protocol.Adapter) (bool, string) {
	if !a.SupportsBatching() {
		return fail("adapter reports batching unsupported for a version that requires it")
	}
	resps, err := a.SendRawBatch(ctx, []string{"ping", "ping"})
	if err != nil {
		return fail("batch of two pings failed: %v", err)
	}
	if len(resps) != 2 || resps[0] == nil || resps[1] == nil {
		return fail("expected two responses to a two-ping batch, got %v", resps)
	}
	if resps[0].Err != nil || resps[1].Err != nil {
		return fail("expected both pings in the batch to succeed, got errors %v / %v", resps[0].Err, resps[1].Err)
	}
	return pass("batch of two pings returned two responses")
}

// testBatchRejected confirms 2025-06-18's no-batching rule is enforced by
// the server itself, not merely refused client-side: it sends the batch
// array over the wire and checks for the real HTTP 400 / -32600 rejection.
func testBatchRejected(ctx context.Context, a *protocol.Adapter) (bool, string) {
	if a.SupportsBatching() {
		return fail("2025-06-18 adapter must report batching unsupported")
	}
	resps, err := a.SendRawBatch(ctx, []string{"ping", "ping"})
	if err != nil {
		return pass("batching rejected at the transport before reaching the wire: %v", err)
	}
	for _, r := range resps {
		if r == nil || r.Err == nil {
			return fail("expected the server to reject the batch with a JSON-RPC error, got %v", resps)
		}
		if r.Err.Code != shared.ErrCodeInvalidRequest {
			return fail("expected error code %d for a rejected batch, got %d", shared.ErrCodeInvalidRequest, r.Err.Code)
		}
		if !strings.Contains(strings.ToLower(r.Err.Message), "batch") {
			return fail("rejected-batch error message did not mention batching: %q", r.Err.Message)
		}
	}
	return pass("server rejected the batch over the wire with error code %d", shared.ErrCodeInvalidRequest)
}

func testSessionIDStable(ctx context.Context, a *protocol.Adapter) (bool, string) {
	// The session id the transport holds after initialize must survive a
	// further request unchanged.
	before := a.RawTransport().SessionID()
	if err := a.Ping(ctx); err != nil {
		return fail("session unresponsive mid-catalog: %v", err)
	}
	if after := a.RawTransport().SessionID(); after != before {
		return fail("session id changed from %q to %q after a ping", before, after)
	}
	return pass("session responsive, id %q unchanged across a ping", before)
}
