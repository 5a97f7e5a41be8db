package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gate4ai/mcpconform/internal/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// httpCodeToRPCCode and rpcCodeToHTTPStatus are the bidirectional
// translation tables, in the style of mcp_testing's
// ERROR_CODE_MAP/HTTP_CODE_MAP (transports/http.py):
// a synchronous HTTP transport must be able to go either direction when a
// target server reports errors purely through status codes.
var httpCodeToRPCCode = map[int]int{
	http.StatusBadRequest:          shared.ErrCodeInvalidRequest,
	http.StatusUnauthorized:        shared.ErrCodeUnauthorized,
	http.StatusNotFound:            shared.ErrCodeMethodNotFound,
	http.StatusConflict:            shared.ErrCodeAlreadyInitialized,
	http.StatusUnprocessableEntity: shared.ErrCodeInvalidParams,
	http.StatusInternalServerError: shared.ErrCodeInternal,
	http.StatusGatewayTimeout:      shared.ErrCodeConnectionOrTimeout,
}

var rpcCodeToHTTPStatus = map[int]int{
	shared.ErrCodeInvalidRequest:      http.StatusBadRequest,
	shared.ErrCodeUnauthorized:        http.StatusUnauthorized,
	shared.ErrCodeMethodNotFound:      http.StatusNotFound,
	shared.ErrCodeAlreadyInitialized:  http.StatusConflict,
	shared.ErrCodeInvalidParams:       http.StatusUnprocessableEntity,
	shared.ErrCodeInternal:            http.StatusInternalServerError,
	shared.ErrCodeConnectionOrTimeout: http.StatusGatewayTimeout,
}

// HTTPSyncTransport POSTs a JSON-RPC frame and reads the reply from the
// same response body, the simplest of the three transports.
// In the style of Session.executeSendRequest
// (gateway/clients/mcpClient/request.go): build the request, set headers,
// Do it, classify the status.
type HTTPSyncTransport struct {
	endpoint        string
	httpClient      *http.Client
	bearerToken     string
	headers         map[string]string
	protocolVersion string
	logger          *zap.Logger

	mu        sync.RWMutex
	sessionID string
	idSeq     atomic.Int64
	stopped   atomic.Bool
}

var _ Transport = (*HTTPSyncTransport)(nil)
var _ RawProber = (*HTTPSyncTransport)(nil)

func NewHTTPSyncTransport(endpoint string, opts ...Option) *HTTPSyncTransport {
	co := newCommonOptions(opts...)
	logger := co.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPSyncTransport{
		endpoint:        endpoint,
		httpClient:      &http.Client{Timeout: 60 * time.Second},
		bearerToken:     co.bearerToken,
		headers:         co.headers,
		protocolVersion: co.protocolVersion,
		logger:          logger,
		// Placeholder until the server assigns one via Mcp-Session-Id.
		sessionID:       uuid.NewString(),
	}
}

// Start is a no-op beyond recording intent: a sync HTTP transport has no
// connection to establish ahead of time.
func (t *HTTPSyncTransport) Start(ctx context.Context) error {
	return nil
}

func (t *HTTPSyncTransport) Stop() error {
	t.stopped.Store(true)
	t.httpClient.CloseIdleConnections()
	return nil
}

func (t *HTTPSyncTransport) SessionID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessionID
}

func (t *HTTPSyncTransport) nextID() *shared.RequestID {
	return shared.NewRequestID(t.idSeq.Add(1))
}

func (t *HTTPSyncTransport) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if t.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.bearerToken)
	}
	if t.protocolVersion != "" {
		req.Header.Set("MCP-Protocol-Version", t.protocolVersion)
	}
	t.mu.RLock()
	sid := t.sessionID
	t.mu.RUnlock()
	if sid != "" {
		req.Header.Set("Mcp-Session-Id", sid)
	}
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
}

func (t *HTTPSyncTransport) captureSessionID(resp *http.Response) {
	if sid := resp.Header.Get("Mcp-Session-Id"); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}
}

// do POSTs body and returns the raw response and its body (read up to
// 10 MiB) without looking at the status. Its callers turn a non-2xx status
// into a *shared.Response carrying the mapped error code (toErrorResponse),
// so transport-level failures reach the adapters as protocol-level ones.
func (t *HTTPSyncTransport) do(ctx context.Context, body []byte) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	t.setHeaders(req)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, nil, &shared.TransportClosedError{Cause: err}
	}
	defer resp.Body.Close()
	t.captureSessionID(resp)

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return resp, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp, respBody, nil
}

// ProbeRaw posts body with exactly the given headers and none of the
// transport's usual Authorization/Mcp-Session-Id bookkeeping, returning the
// raw status, headers, and body untouched. Conformance cases use this to
// observe wire-level rejections (missing bearer token, missing or bogus
// session id, malformed payloads) that the normal Send* path would never
// produce since it always sets those headers correctly.
func (t *HTTPSyncTransport) ProbeRaw(ctx context.Context, body []byte, headers map[string]string) (*ProbeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build probe request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, &shared.TransportClosedError{Cause: err}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read probe response body: %w", err)
	}
	return &ProbeResult{StatusCode: resp.StatusCode, Header: resp.Header, Body: respBody}, nil
}

func (t *HTTPSyncTransport) toErrorResponse(id *shared.RequestID, resp *http.Response, respBody []byte) *shared.Response {
	code, ok := httpCodeToRPCCode[resp.StatusCode]
	if !ok {
		code = shared.ErrCodeInternal
	}
	msg := fmt.Sprintf("http status %d", resp.StatusCode)
	if len(respBody) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, string(respBody))
	}
	return &shared.Response{JSONRPC: shared.JSONRPCVersion, ID: id, Err: shared.NewError(code, msg)}
}

func (t *HTTPSyncTransport) SendRequest(ctx context.Context, method string, params map[string]interface{}, timeout time.Duration) (*shared.Response, error) {
	if t.stopped.Load() {
		return nil, &shared.TransportClosedError{}
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	id := t.nextID()
	req := shared.NewRequest(id, method, params)
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	resp, respBody, err := t.do(reqCtx, data)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return t.toErrorResponse(id, resp, respBody), nil
	}

	_, parsed, err := shared.ParseFrame(respBody)
	if err != nil {
		return nil, &shared.ProtocolError{Reason: err.Error()}
	}
	if parsed == nil {
		return nil, &shared.ProtocolError{Reason: "expected a JSON-RPC response, got a request"}
	}
	if !parsed.ID.Equal(id) {
		t.logger.Warn("response id mismatch", zap.String("want", id.String()), zap.String("got", parsed.ID.String()))
	}
	return parsed, nil
}

func (t *HTTPSyncTransport) SendNotification(ctx context.Context, method string, params map[string]interface{}) error {
	if t.stopped.Load() {
		return &shared.TransportClosedError{}
	}
	req := shared.NewRequest(nil, method, params)
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	resp, respBody, err := t.do(ctx, data)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification %s rejected: status %d: %s", method, resp.StatusCode, string(respBody))
	}
	return nil
}

// SendBatch marshals the whole slice as one JSON array, per JSON-RPC 2.0
// batching.
func (t *HTTPSyncTransport) SendBatch(ctx context.Context, reqs []BatchItem, timeout time.Duration) ([]*shared.Response, error) {
	if t.stopped.Load() {
		return nil, &shared.TransportClosedError{}
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ids := make([]*shared.RequestID, len(reqs))
	batch := make([]*shared.Request, len(reqs))
	for i, item := range reqs {
		id := t.nextID()
		ids[i] = id
		batch[i] = shared.NewRequest(id, item.Method, item.Params)
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}

	resp, respBody, err := t.do(reqCtx, data)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		out := make([]*shared.Response, len(reqs))
		for i, id := range ids {
			out[i] = t.toErrorResponse(id, resp, respBody)
		}
		return out, nil
	}

	frames, err := shared.ParseBatch(respBody)
	if err != nil {
		return nil, &shared.ProtocolError{Reason: err.Error()}
	}
	byID := make(map[string]*shared.Response, len(frames))
	for _, frame := range frames {
		_, parsed, err := shared.ParseFrame(frame)
		if err != nil || parsed == nil {
			continue
		}
		byID[parsed.ID.String()] = parsed
	}
	out := make([]*shared.Response, len(ids))
	for i, id := range ids {
		out[i] = byID[id.String()]
	}
	return out, nil
}
