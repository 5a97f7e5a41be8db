package shared

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// PendingRequest is an outstanding JSON-RPC request awaiting correlation
//. The completion slot is a buffered channel
// of size 1 so a late responder never blocks.
type PendingRequest struct {
	ID        *RequestID
	Method    string
	Deadline  time.Time
	done      chan *Response
	completed bool
}

// PendingTable is the Transport's central coordinating structure: it maps
// request ids to the slot waiting on their response. A single table is
// shared between the goroutine that sends requests and the background
// reader goroutine (stdio line reader, or SSE event reader) that resolves
// them, the same role shared.RequestManager plays for gateway client
// sessions, generalized here to carry a deadline per entry instead
// of a single global timeout.
type PendingTable struct {
	mu       sync.Mutex
	entries  map[string]*PendingRequest
	logger   *zap.Logger
}

func NewPendingTable(logger *zap.Logger) *PendingTable {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PendingTable{
		entries: make(map[string]*PendingRequest),
		logger:  logger,
	}
}

// Register inserts a new pending entry keyed by id and returns the
// completion slot to await.
func (t *PendingTable) Register(id *RequestID, method string, deadline time.Time) <-chan *Response {
	entry := &PendingRequest{
		ID:       id,
		Method:   method,
		Deadline: deadline,
		done:     make(chan *Response, 1),
	}
	t.mu.Lock()
	t.entries[id.String()] = entry
	t.mu.Unlock()
	return entry.done
}

// Resolve hands a response to the pending entry with a matching id. It
// returns false if no matching entry exists (late/unknown response), which
// callers log and discard per.
func (t *PendingTable) Resolve(resp *Response) bool {
	if resp == nil || resp.ID.IsEmpty() {
		return false
	}
	key := resp.ID.String()
	t.mu.Lock()
	entry, ok := t.entries[key]
	if ok {
		delete(t.entries, key)
	}
	t.mu.Unlock()
	if !ok {
		t.logger.Warn("response for unknown or already-resolved request id, discarding", zap.String("id", key))
		return false
	}
	select {
	case entry.done <- resp:
	default:
		t.logger.Warn("pending slot already filled, discarding duplicate response", zap.String("id", key))
	}
	return true
}

// Cancel removes a pending entry (deadline elapsed or caller gave up) and
// signals its slot with a synthesized timeout response, so any in-flight
// select on the slot unblocks instead of leaking.
func (t *PendingTable) Cancel(id *RequestID, err *Error) {
	key := id.String()
	t.mu.Lock()
	entry, ok := t.entries[key]
	if ok {
		delete(t.entries, key)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	select {
	case entry.done <- &Response{JSONRPC: JSONRPCVersion, ID: id, Err: err}:
	default:
	}
}

// CancelAll drains every pending entry with the given error, used when a
// Transport detects it is closed and must not leave any caller blocked
// forever.
func (t *PendingTable) CancelAll(err *Error) {
	t.mu.Lock()
	toCancel := make([]*PendingRequest, 0, len(t.entries))
	for _, entry := range t.entries {
		toCancel = append(toCancel, entry)
	}
	t.entries = make(map[string]*PendingRequest)
	t.mu.Unlock()

	for _, entry := range toCancel {
		select {
		case entry.done <- &Response{JSONRPC: JSONRPCVersion, ID: entry.ID, Err: err}:
		default:
		}
	}
}

// Len reports the number of outstanding entries, useful for tests that
// assert no leaked pending requests after a transport is stopped.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
