package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gate4ai/mcpconform/internal/shared"
	"github.com/google/uuid"
	"github.com/r3labs/sse/v2"
	"go.uber.org/zap"
)

// HTTPSSETransport POSTs a request and accepts a 202, then waits for the
// actual response to arrive later as an SSE event. The
// sending side and the background SSE reader share a shared.PendingTable,
// the same split Session keeps between executeSendRequest
// and processLoop (gateway/clients/mcpClient/{request,session}.go), except
// here the harness is the one sending POSTs, not the one serving them.
type HTTPSSETransport struct {
	postEndpoint    string
	sseEndpoint     string
	bearerToken     string
	headers         map[string]string
	protocolVersion string
	httpClient      *http.Client
	logger          *zap.Logger

	mu        sync.RWMutex
	sessionID string
	idSeq     atomic.Int64
	stopped   atomic.Bool

	pending   *shared.PendingTable
	sseClient *sse.Client
	sseCh     chan *sse.Event
	closeCh   chan struct{}
}

var _ Transport = (*HTTPSSETransport)(nil)

// NewHTTPSSETransport builds a transport that opens an SSE subscription at
// sseEndpoint and POSTs requests to postEndpoint. When postEndpoint is
// empty, it is learned from the server's "endpoint" event, the same
// 2024-11-05 SSE handshake session.go performs; a send made before that
// event has arrived fails with a *shared.ProtocolError rather than waiting.
func NewHTTPSSETransport(sseEndpoint, postEndpoint string, opts ...Option) *HTTPSSETransport {
	co := newCommonOptions(opts...)
	logger := co.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPSSETransport{
		sseEndpoint:     sseEndpoint,
		postEndpoint:    postEndpoint,
		bearerToken:     co.bearerToken,
		headers:         co.headers,
		protocolVersion: co.protocolVersion,
		httpClient:      &http.Client{Timeout: 60 * time.Second},
		logger:          logger,
		pending:         shared.NewPendingTable(logger),
		sseCh:           make(chan *sse.Event, 64),
		closeCh:         make(chan struct{}),
		sessionID:       uuid.NewString(),
	}
}

func (t *HTTPSSETransport) Start(ctx context.Context) error {
	t.sseClient = sse.NewClient(t.sseEndpoint)
	t.sseClient.Headers = t.headersMap()

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = 0
	sseCtx, sseCancel := context.WithCancel(ctx)
	t.sseClient.ReconnectStrategy = backoff.WithContext(expBackoff, sseCtx)
	t.sseClient.ReconnectNotify = func(err error, d time.Duration) {
		t.logger.Warn("SSE connection dropped, reconnecting", zap.Error(err), zap.Duration("delay", d))
		if stopReconnecting(err.Error()) {
			sseCancel()
		}
	}

	ready := make(chan error, 1)
	go func() {
		err := t.sseClient.SubscribeChanWithContext(sseCtx, "", t.sseCh)
		select {
		case ready <- err:
		default:
		}
	}()

	select {
	case err := <-ready:
		if err != nil {
			sseCancel()
			return fmt.Errorf("failed to subscribe to SSE stream: %w", err)
		}
	case <-time.After(200 * time.Millisecond):
		// Subscription accepted the channel and is running in the
		// background; absence of an immediate error is success.
	}

	go t.readLoop(sseCancel)
	return nil
}

func stopReconnecting(errMsg string) bool {
	return strings.Contains(errMsg, "Unauthorized") ||
		strings.Contains(errMsg, "no such host") ||
		strings.Contains(errMsg, "connection refused")
}

func (t *HTTPSSETransport) headersMap() map[string][]string {
	h := make(map[string][]string)
	if t.bearerToken != "" {
		h["Authorization"] = []string{"Bearer " + t.bearerToken}
	}
	if t.protocolVersion != "" {
		h["MCP-Protocol-Version"] = []string{t.protocolVersion}
	}
	for k, v := range t.headers {
		h[k] = []string{v}
	}
	return h
}

// readLoop resolves "message" events against the pending table and learns
// the POST endpoint from an "endpoint" event when one wasn't supplied up
// front, accepting either a pre-known message endpoint or a discovered one.
func (t *HTTPSSETransport) readLoop(cancel context.CancelFunc) {
	defer func() {
		cancel()
		t.pending.CancelAll(shared.NewError(shared.ErrCodeConnectionOrTimeout, "SSE stream closed"))
	}()
	for {
		select {
		case ev, ok := <-t.sseCh:
			if !ok {
				return
			}
			if ev == nil {
				continue
			}
			switch string(ev.Event) {
			case "endpoint":
				t.mu.RLock()
				known := t.postEndpoint != ""
				t.mu.RUnlock()
				data := string(ev.Data)
				var resolved *url.URL
				if len(ev.Data) > 0 {
					if u, err := url.Parse(data); err == nil {
						base, _ := url.Parse(t.sseEndpoint)
						resolved = base.ResolveReference(u)
						if !known {
							t.mu.Lock()
							t.postEndpoint = resolved.String()
							t.mu.Unlock()
						}
					}
				}
				if sid := sessionIDFromEndpointEvent(data, resolved); sid != "" {
					t.mu.Lock()
					t.sessionID = sid
					t.mu.Unlock()
				}
			case "message", "":
				if len(ev.Data) == 0 {
					continue
				}
				frames, err := shared.ParseBatch(ev.Data)
				if err != nil {
					t.logger.Warn("discarding malformed SSE message event", zap.Error(err))
					continue
				}
				for _, frame := range frames {
					_, resp, err := shared.ParseFrame(frame)
					if err != nil {
						t.logger.Warn("discarding malformed SSE frame", zap.Error(err))
						continue
					}
					if resp != nil {
						t.pending.Resolve(resp)
					}
				}
			case "ping":
			default:
				t.logger.Debug("unhandled SSE event", zap.String("event", string(ev.Event)))
			}
		case <-t.closeCh:
			return
		}
	}
}

func (t *HTTPSSETransport) nextID() *shared.RequestID {
	return shared.NewRequestID(t.idSeq.Add(1))
}

// sessionIDFromEndpointEvent extracts a server-assigned session id from the
// SSE "endpoint" event payload, which arrives either as a URL carrying a
// "session_id" query parameter (the fakeserver's own /mcp?session_id=...
// form) or as a "Connected to session <id>" text preamble some servers send
// instead. endpointURL is the already-resolved endpoint, or nil if the
// payload didn't parse as a URL.
func sessionIDFromEndpointEvent(data string, endpointURL *url.URL) string {
	if endpointURL != nil {
		if sid := endpointURL.Query().Get("session_id"); sid != "" {
			return sid
		}
	}
	const marker = "Connected to session "
	if idx := strings.Index(data, marker); idx >= 0 {
		rest := strings.TrimSpace(data[idx+len(marker):])
		if fields := strings.Fields(rest); len(fields) > 0 {
			return strings.Trim(fields[0], "\"'.,;")
		}
	}
	return ""
}

func (t *HTTPSSETransport) post(ctx context.Context, body []byte) (*http.Response, error) {
	t.mu.RLock()
	endpoint := t.postEndpoint
	sid := t.sessionID
	t.mu.RUnlock()
	if endpoint == "" {
		return nil, &shared.ProtocolError{Reason: "POST endpoint not yet discovered from SSE stream"}
	}
	postURL := endpoint
	if sid != "" {
		if u, err := url.Parse(endpoint); err == nil {
			q := u.Query()
			q.Set("session_id", sid)
			u.RawQuery = q.Encode()
			postURL = u.String()
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Mcp-Session-Id", sid)
	if t.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.bearerToken)
	}
	if t.protocolVersion != "" {
		req.Header.Set("MCP-Protocol-Version", t.protocolVersion)
	}
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, &shared.TransportClosedError{Cause: err}
	}
	return resp, nil
}

// SendRequest POSTs the request, accepts either an immediate 200 (some
// targets answer inline) or a 202 with the real response arriving later
// over SSE, and waits on the pending table either way.
func (t *HTTPSSETransport) SendRequest(ctx context.Context, method string, params map[string]interface{}, timeout time.Duration) (*shared.Response, error) {
	if t.stopped.Load() {
		return nil, &shared.TransportClosedError{}
	}
	id := t.nextID()
	deadline := time.Now().Add(timeout)
	done := t.pending.Register(id, method, deadline)

	req := shared.NewRequest(id, method, params)
	data, err := json.Marshal(req)
	if err != nil {
		t.pending.Cancel(id, shared.WrapError(err))
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	resp, err := t.post(ctx, data)
	if err != nil {
		t.pending.Cancel(id, shared.WrapError(err))
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		// Some targets answer the POST directly rather than pushing an
		// SSE event; resolve the pending entry from the body too.
		var body bytes.Buffer
		if _, err := body.ReadFrom(resp.Body); err == nil && body.Len() > 0 {
			if _, parsed, err := shared.ParseFrame(body.Bytes()); err == nil && parsed != nil {
				t.pending.Resolve(parsed)
			}
		}
	} else if resp.StatusCode != http.StatusAccepted {
		t.pending.Cancel(id, shared.NewError(shared.ErrCodeConnectionOrTimeout, fmt.Sprintf("unexpected http status %d", resp.StatusCode)))
	}

	select {
	case r := <-done:
		return r, nil
	case <-time.After(timeout):
		t.pending.Cancel(id, shared.NewError(shared.ErrCodeConnectionOrTimeout, "timed out waiting for SSE response"))
		return nil, &shared.TimeoutError{Method: method, ID: id.String()}
	case <-ctx.Done():
		t.pending.Cancel(id, shared.NewError(shared.ErrCodeConnectionOrTimeout, "request context cancelled"))
		return nil, ctx.Err()
	}
}

func (t *HTTPSSETransport) SendNotification(ctx context.Context, method string, params map[string]interface{}) error {
	if t.stopped.Load() {
		return &shared.TransportClosedError{}
	}
	req := shared.NewRequest(nil, method, params)
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	resp, err := t.post(ctx, data)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("notification %s rejected: status %d", method, resp.StatusCode)
	}
	return nil
}

// SendBatch is not supported over the async SSE transport: batching rules
// apply to the synchronous transports, and batching a set
// of requests whose replies may arrive on the SSE stream in any order
// brings no benefit, so this harness never needs it.
func (t *HTTPSSETransport) SendBatch(ctx context.Context, reqs []BatchItem, timeout time.Duration) ([]*shared.Response, error) {
	return nil, &shared.ProtocolError{Reason: "batching is not supported over the async SSE transport"}
}

func (t *HTTPSSETransport) SessionID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessionID
}

func (t *HTTPSSETransport) Stop() error {
	if !t.stopped.CompareAndSwap(false, true) {
		return nil
	}
	close(t.closeCh)
	if t.sseClient != nil {
		t.sseClient.Unsubscribe(t.sseCh)
	}
	t.pending.CancelAll(shared.NewError(shared.ErrCodeConnectionOrTimeout, "transport stopped"))
	t.httpClient.CloseIdleConnections()
	return nil
}
