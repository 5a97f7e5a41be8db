// Package fakeserver is an in-process stand-in for a target MCP server,
// used only by this repository's own tests. It speaks all three protocol
// revisions so the catalog and runner can be exercised end to
// end without a real server on the other side of the wire.
//
// The dispatch-table-of-handlers shape follows server/mcp/capability's
// approach, generalized from one fixed schema version to three.
package fakeserver

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gate4ai/mcpconform/internal/shared"
	"go.uber.org/zap"
)

// Handler answers one JSON-RPC method call. A nil error with a nil result
// means "no result field" (used for notifications dispatched as if they
// were calls, which never happens in practice since Core.Dispatch only
// calls Handler for requests that carry an id).
type Handler func(c *Core, sessionID string, params json.RawMessage) (interface{}, *shared.Error)

// Core holds the state of one fake server instance: its protocol revision,
// registered tools, live sessions, and in-flight async invocations. One
// Core backs one httptest.Server or one stdio subprocess for the lifetime
// of a test.
type Core struct {
	Version         string
	RequireBearer   bool
	BearerToken     string
	logger          *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
	handlers map[string]Handler

	asyncMu   sync.Mutex
	asyncJobs map[string]*asyncJob
}

type session struct {
	id          string
	initialized bool
}

// Option configures a Core at construction.
type Option func(*Core)

// WithBearerToken requires the given token on every HTTP request, whatever
// protocol revision the Core emulates.
func WithBearerToken(token string) Option {
	return func(c *Core) { c.RequireBearer = true; c.BearerToken = token }
}

// WithLogger attaches a zap logger; a nop logger is used otherwise.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Core) { c.logger = logger }
}

// New builds a Core emulating the given protocol revision.
func New(version string, opts ...Option) *Core {
	c := &Core{
		Version:   version,
		logger:    zap.NewNop(),
		sessions:  make(map[string]*session),
		asyncJobs: make(map[string]*asyncJob),
	}
	c.handlers = map[string]Handler{
		"initialize":           (*Core).handleInitialize,
		"ping":                 (*Core).handlePing,
		"server/info":          (*Core).handleServerInfo,
		"tools/list":           (*Core).handleToolsList,
		"tools/call":           (*Core).handleToolsCall,
		"tools/call-async":     (*Core).handleToolsCallAsync,
		"tools/result":         (*Core).handleToolsResult,
		"tools/cancel":         (*Core).handleToolsCancel,
		"resources/list":       (*Core).handleResourcesList,
		"resources/get":        (*Core).handleResourcesGet,
		"shutdown":             (*Core).handleShutdown,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dispatch answers one JSON-RPC request. Notifications
// ("notifications/initialized", "exit") are handled by the transport layer (http.go/stdio.go) before
// Dispatch is reached, since they never produce a response frame.
func (c *Core) Dispatch(sessionID, method string, params json.RawMessage) (interface{}, *shared.Error) {
	h, ok := c.handlers[method]
	if !ok {
		return nil, shared.NewError(shared.ErrCodeMethodNotFound, fmt.Sprintf("unknown method %q", method))
	}
	return h(c, sessionID, params)
}

func (c *Core) getOrCreateSession(id string) *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	if !ok {
		s = &session{id: id}
		c.sessions[id] = s
	}
	return s
}

// hasSession reports whether id names a session this Core already knows
// about, used to reject requests carrying a missing or bogus session id.
func (c *Core) hasSession(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[id]
	return ok
}

func (c *Core) handleInitialize(sessionID string, params json.RawMessage) (interface{}, *shared.Error) {
	s := c.getOrCreateSession(sessionID)
	c.mu.Lock()
	s.initialized = true
	c.mu.Unlock()
	return c.initializeResult(), nil
}

func (c *Core) handlePing(sessionID string, params json.RawMessage) (interface{}, *shared.Error) {
	return map[string]interface{}{}, nil
}

func (c *Core) handleServerInfo(sessionID string, params json.RawMessage) (interface{}, *shared.Error) {
	return map[string]interface{}{"name": "mcpconform-fakeserver", "version": "0.1.0"}, nil
}

func (c *Core) handleShutdown(sessionID string, params json.RawMessage) (interface{}, *shared.Error) {
	return map[string]interface{}{}, nil
}

// HandleNotification processes fire-and-forget notifications. Transports
// call this instead of Dispatch when a frame carries no id.
func (c *Core) HandleNotification(sessionID, method string) {
	switch method {
	case "exit":
		c.mu.Lock()
		delete(c.sessions, sessionID)
		c.mu.Unlock()
	case "notifications/initialized":
		// no state change needed; initialize already marked the session ready.
	}
}

func asyncID() string {
	return fmt.Sprintf("inv-%d", time.Now().UnixNano())
}
