package shared

import "errors"

// The error taxonomy from, as sentinel values so callers can branch
// with errors.Is instead of string matching.
var (
	ErrTransportClosed = errors.New("transport closed")
	ErrTimeout          = errors.New("request timed out")
	ErrProtocol         = errors.New("protocol violation")
)

// TimeoutError wraps ErrTimeout with the method and id that timed out, so
// log lines and test failure messages stay specific.
type TimeoutError struct {
	Method string
	ID     string
}

func (e *TimeoutError) Error() string {
	return "timeout waiting for response to " + e.Method + " (id " + e.ID + ")"
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// ProtocolError wraps ErrProtocol with a human-readable reason: missing
// jsonrpc field, both result and error present, id mismatch, and so on.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return ErrProtocol }

// TransportClosedError wraps ErrTransportClosed with the underlying cause
// (subprocess exit, HTTP session failure, SSE stream death).
type TransportClosedError struct {
	Cause error
}

func (e *TransportClosedError) Error() string {
	if e.Cause == nil {
		return "transport closed"
	}
	return "transport closed: " + e.Cause.Error()
}

func (e *TransportClosedError) Unwrap() error { return ErrTransportClosed }
