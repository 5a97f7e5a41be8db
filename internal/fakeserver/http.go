package fakeserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gate4ai/mcpconform/internal/shared"
	"github.com/google/uuid"
)

const sessionHeader = "Mcp-Session-Id"

// checkBearer enforces the bearer-token requirement set by WithBearerToken,
// on any revision, and writes the 401 + WWW-Authenticate challenge the
// catalog's OAuth test cases look for. Returns false once it has written a
// response and the caller must not write again.
func (c *Core) checkBearer(w http.ResponseWriter, r *http.Request) bool {
	if !c.RequireBearer {
		return true
	}
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix || auth[len(prefix):] != c.BearerToken {
		w.Header().Set("WWW-Authenticate", `Bearer realm="mcpconform", error="invalid_token"`)
		w.WriteHeader(http.StatusUnauthorized)
		return false
	}
	return true
}

// NewSyncHandler serves the unified POST /mcp endpoint the way
// internal/transport's HTTPSyncTransport expects: one HTTP response per
// request, batches answered as a JSON array, grounded on handle-mcp2025-POST.go's
// responseAndCloseConnection path minus the SSE branch.
func NewSyncHandler(c *Core) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if !c.checkBearer(w, r) {
			return
		}
		handleSyncMCP(c, w, r)
	})
	registerWellKnown(mux, c)
	return mux
}

func handleSyncMCP(c *Core, w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(sessionHeader)

	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONRPCError(w, nil, shared.ErrCodeParseError, "invalid JSON body")
		return
	}

	if c.Version == v20250618 && len(body) > 0 && body[0] == '[' {
		writeBatchRejected(w)
		return
	}

	frames, err := shared.ParseBatch(body)
	if err != nil {
		writeJSONRPCError(w, nil, shared.ErrCodeParseError, "invalid JSON-RPC payload")
		return
	}
	for _, frame := range frames {
		if !hasJSONRPCField(frame) {
			writeJSONRPCError(w, nil, shared.ErrCodeInvalidRequest, "request is missing the jsonrpc field")
			return
		}
	}

	if sessionID == "" {
		if !batchContainsInitialize(frames) {
			writeSessionError(w, "missing Mcp-Session-Id header")
			return
		}
		sessionID = uuid.NewString()
	} else if !c.hasSession(sessionID) && !batchContainsInitialize(frames) {
		writeSessionError(w, "unknown or expired session id")
		return
	}

	w.Header().Set(sessionHeader, sessionID)

	var responses []*shared.Response
	for _, frame := range frames {
		req, _, parseErr := shared.ParseFrame(frame)
		if parseErr != nil || req == nil {
			continue
		}
		if req.IsNotification() {
			c.HandleNotification(sessionID, req.Method)
			continue
		}
		paramsJSON, _ := json.Marshal(req.Params)
		result, rpcErr := c.Dispatch(sessionID, req.Method, paramsJSON)
		resp := &shared.Response{JSONRPC: shared.JSONRPCVersion, ID: req.ID}
		if rpcErr != nil {
			resp.Err = rpcErr
		} else {
			resultJSON, _ := json.Marshal(result)
			resp.Result = resultJSON
		}
		responses = append(responses, resp)
	}

	w.Header().Set("Content-Type", "application/json")
	if len(responses) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.WriteHeader(http.StatusOK)
	if len(frames) == 1 {
		json.NewEncoder(w).Encode(responses[0])
		return
	}
	json.NewEncoder(w).Encode(responses)
}

func writeBatchRejected(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(&shared.Response{
		JSONRPC: shared.JSONRPCVersion,
		ID:      nil,
		Err:     shared.NewError(shared.ErrCodeInvalidRequest, "JSON-RPC batching is not supported by this protocol revision"),
	})
}

func writeJSONRPCError(w http.ResponseWriter, id *shared.RequestID, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(&shared.Response{JSONRPC: shared.JSONRPCVersion, ID: id, Err: shared.NewError(code, message)})
}

// writeSessionError answers a missing or unrecognized session id with the
// 401 / -32003 pairing the session management rules call for.
func writeSessionError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(&shared.Response{
		JSONRPC: shared.JSONRPCVersion,
		ID:      nil,
		Err:     shared.NewError(shared.ErrCodeSessionExpired, message),
	})
}

// hasJSONRPCField reports whether frame carries the literal "jsonrpc":"2.0"
// member every request must have.
func hasJSONRPCField(frame json.RawMessage) bool {
	var env struct {
		JSONRPC string `json:"jsonrpc"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		return false
	}
	return env.JSONRPC == shared.JSONRPCVersion
}

// batchContainsInitialize reports whether any frame in a batch is an
// initialize call, the one method allowed to arrive without an
// already-known session id.
func batchContainsInitialize(frames []json.RawMessage) bool {
	for _, frame := range frames {
		req, _, err := shared.ParseFrame(frame)
		if err == nil && req != nil && req.Method == "initialize" {
			return true
		}
	}
	return false
}

// sseHub routes each session's responses to that session's open GET /sse
// stream.
type sseHub struct {
	mu   sync.Mutex
	subs map[string]chan []byte
}

func newSSEHub() *sseHub { return &sseHub{subs: make(map[string]chan []byte)} }

func (h *sseHub) subscribe(sessionID string) chan []byte {
	ch := make(chan []byte, 16)
	h.mu.Lock()
	h.subs[sessionID] = ch
	h.mu.Unlock()
	return ch
}

func (h *sseHub) publish(sessionID string, payload []byte) {
	h.mu.Lock()
	ch, ok := h.subs[sessionID]
	h.mu.Unlock()
	if ok {
		ch <- payload
	}
}

// NewSSEHandler serves the async HTTP wire style internal/transport's
// HTTPSSETransport expects: POST /mcp answers 202 Accepted and the actual
// response is delivered as a "message" event over GET /sse, grounded on handle-mcp2025-POST.go's
// responseToStream path.
func NewSSEHandler(c *Core) http.Handler {
	hub := newSSEHub()
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		if !c.checkBearer(w, r) {
			return
		}
		handleSSEConnect(c, hub, w, r)
	})
	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if !c.checkBearer(w, r) {
			return
		}
		handleAsyncMCP(c, hub, w, r)
	})
	registerWellKnown(mux, c)
	return mux
}

func handleSSEConnect(c *Core, hub *sseHub, w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	sessionID := uuid.NewString()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "event: endpoint\ndata: /mcp?session_id=%s\n\n", sessionID)
	flusher.Flush()

	ch := hub.subscribe(sessionID)
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case payload := <-ch:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, "event: ping\ndata: {}\n\n")
			flusher.Flush()
		}
	}
}

func handleAsyncMCP(c *Core, hub *sseHub, w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = r.Header.Get(sessionHeader)
	}

	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONRPCError(w, nil, shared.ErrCodeParseError, "invalid JSON body")
		return
	}

	req, _, parseErr := shared.ParseFrame(body)
	if parseErr != nil || req == nil {
		writeJSONRPCError(w, nil, shared.ErrCodeParseError, "invalid JSON-RPC frame")
		return
	}

	w.Header().Set(sessionHeader, sessionID)
	w.WriteHeader(http.StatusAccepted)

	if req.IsNotification() {
		c.HandleNotification(sessionID, req.Method)
		return
	}

	go func() {
		paramsJSON, _ := json.Marshal(req.Params)
		result, rpcErr := c.Dispatch(sessionID, req.Method, paramsJSON)
		resp := &shared.Response{JSONRPC: shared.JSONRPCVersion, ID: req.ID}
		if rpcErr != nil {
			resp.Err = rpcErr
		} else {
			resultJSON, _ := json.Marshal(result)
			resp.Result = resultJSON
		}
		payload, _ := json.Marshal(resp)
		hub.publish(sessionID, payload)
	}()
}

// registerWellKnown serves the OAuth discovery documents defined for
// 2025-06-18 (/.well-known/oauth-authorization-server,
// /.well-known/oauth-protected-resource). The routes are registered on every
// revision and answer 404 on revisions before 2025-06-18.
func registerWellKnown(mux *http.ServeMux, c *Core) {
	mux.HandleFunc("/.well-known/oauth-protected-resource", func(w http.ResponseWriter, r *http.Request) {
		if c.Version != v20250618 {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"resource":              "mcpconform-fakeserver",
			"authorization_servers": []string{"/.well-known/oauth-authorization-server"},
		})
	})
	mux.HandleFunc("/.well-known/oauth-authorization-server", func(w http.ResponseWriter, r *http.Request) {
		if c.Version != v20250618 {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"issuer":                 "mcpconform-fakeserver",
			"token_endpoint":         "/oauth/token",
			"authorization_endpoint": "/oauth/authorize",
		})
	})
}
