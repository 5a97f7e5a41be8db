package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gate4ai/mcpconform/internal/shared"
	"go.uber.org/zap"
)

// StdioTransport drives a target MCP server as a child process, writing one
// JSON-RPC frame per line to its stdin and reading one frame per line from
// its stdout. A single background goroutine owns stdout, the
// same split of responsibilities the SSE reader uses in
// gateway/clients/mcpClient/session.go: one reader goroutine resolves a
// shared.PendingTable, everything else sends into it.
type StdioTransport struct {
	command string
	args    []string
	maxRetries int
	startTimeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	pending *shared.PendingTable
	stopped atomic.Bool
	idSeq   atomic.Int64
	stderrTail *stderrRingBuffer
}

// NewStdioTransport builds a transport that launches command (a full shell
// command line, split on whitespace).
func NewStdioTransport(command string, maxRetries int, startTimeout time.Duration, opts ...Option) *StdioTransport {
	co := newCommonOptions(opts...)
	logger := co.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fields := strings.Fields(command)
	var bin string
	var args []string
	if len(fields) > 0 {
		bin, args = fields[0], fields[1:]
	}
	return &StdioTransport{
		command:      bin,
		args:         args,
		maxRetries:   maxRetries,
		startTimeout: startTimeout,
		logger:       logger,
		pending:      shared.NewPendingTable(logger),
		stderrTail:   newStderrRingBuffer(4096),
	}
}

var _ Transport = (*StdioTransport)(nil)

// stdioStopGracePeriod is how long Stop waits for the child to exit after
// SIGTERM before escalating to SIGKILL.
const stdioStopGracePeriod = 500 * time.Millisecond

// Start launches the child process, retrying with exponential backoff up to
// maxRetries times if the exec itself fails. It does not retry once the process is running and misbehaving;
// that is surfaced as a protocol or transport-closed error instead. Calling
// Start again after Stop on the same transport spawns a fresh child and
// yields a fresh session.
func (t *StdioTransport) Start(ctx context.Context) error {
	t.stopped.Store(false)
	startCtx, cancel := context.WithTimeout(ctx, t.startTimeout)
	defer cancel()
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(t.maxRetries)), startCtx)

	return backoff.Retry(func() error {
		return t.spawn(ctx)
	}, b)
}

func (t *StdioTransport) spawn(ctx context.Context) error {
	cmd := exec.Command(t.command, t.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start target command %q: %w", t.command, err)
	}

	t.mu.Lock()
	t.cmd = cmd
	t.stdin = stdin
	t.mu.Unlock()

	go t.readLoop(stdout)
	go t.drainStderr(stderr)
	t.logger.Info("stdio transport started", zap.String("command", t.command), zap.Int("pid", cmd.Process.Pid))
	return nil
}

// readLoop is the single background reader: every line from the child's
// stdout is parsed as one JSON-RPC frame and resolved against the pending
// table.
func (t *StdioTransport) readLoop(stdout io.ReadCloser) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		_, resp, err := shared.ParseFrame([]byte(line))
		if err != nil {
			t.logger.Warn("discarding malformed line from target stdout", zap.Error(err), zap.String("line", line))
			continue
		}
		if resp != nil {
			t.pending.Resolve(resp)
		}
	}
	t.logger.Info("target stdout closed, tearing down pending requests")
	t.pending.CancelAll(shared.NewError(shared.ErrCodeConnectionOrTimeout, "target process closed stdout"))
}

func (t *StdioTransport) drainStderr(stderr io.ReadCloser) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		t.stderrTail.Write(scanner.Text())
	}
}

func (t *StdioTransport) nextID() *shared.RequestID {
	return shared.NewRequestID(t.idSeq.Add(1))
}

func (t *StdioTransport) writeLine(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	t.mu.Lock()
	stdin := t.stdin
	t.mu.Unlock()
	if stdin == nil {
		return &shared.TransportClosedError{Cause: fmt.Errorf("stdin not open")}
	}
	if _, err := stdin.Write(append(data, '\n')); err != nil {
		return &shared.TransportClosedError{Cause: err}
	}
	return nil
}

func (t *StdioTransport) SendRequest(ctx context.Context, method string, params map[string]interface{}, timeout time.Duration) (*shared.Response, error) {
	if t.stopped.Load() {
		return nil, &shared.TransportClosedError{}
	}
	id := t.nextID()
	deadline := time.Now().Add(timeout)
	done := t.pending.Register(id, method, deadline)
	req := shared.NewRequest(id, method, params)
	if err := t.writeLine(req); err != nil {
		t.pending.Cancel(id, shared.WrapError(err))
		return nil, err
	}

	select {
	case resp := <-done:
		return resp, nil
	case <-time.After(timeout):
		t.pending.Cancel(id, shared.NewError(shared.ErrCodeConnectionOrTimeout, "timed out waiting for response"))
		return nil, &shared.TimeoutError{Method: method, ID: id.String()}
	case <-ctx.Done():
		t.pending.Cancel(id, shared.NewError(shared.ErrCodeConnectionOrTimeout, "request context cancelled"))
		return nil, ctx.Err()
	}
}

func (t *StdioTransport) SendNotification(ctx context.Context, method string, params map[string]interface{}) error {
	if t.stopped.Load() {
		return &shared.TransportClosedError{}
	}
	req := shared.NewRequest(nil, method, params)
	return t.writeLine(req)
}

// SendBatch writes every item as a single JSON array frame and waits on all
// of their pending slots. The 2024-11-05 and 2025-03-26 revisions allow
// this; the 2025-06-18 adapter calls it only from SendRawBatch, to observe
// the server rejecting the batch.
func (t *StdioTransport) SendBatch(ctx context.Context, reqs []BatchItem, timeout time.Duration) ([]*shared.Response, error) {
	if t.stopped.Load() {
		return nil, &shared.TransportClosedError{}
	}
	ids := make([]*shared.RequestID, len(reqs))
	dones := make([]<-chan *shared.Response, len(reqs))
	batch := make([]*shared.Request, len(reqs))
	deadline := time.Now().Add(timeout)
	for i, item := range reqs {
		id := t.nextID()
		ids[i] = id
		dones[i] = t.pending.Register(id, item.Method, deadline)
		batch[i] = shared.NewRequest(id, item.Method, item.Params)
	}
	if err := t.writeLine(batch); err != nil {
		for _, id := range ids {
			t.pending.Cancel(id, shared.WrapError(err))
		}
		return nil, err
	}

	results := make([]*shared.Response, len(reqs))
	for i, done := range dones {
		select {
		case resp := <-done:
			results[i] = resp
		case <-time.After(timeout):
			t.pending.Cancel(ids[i], shared.NewError(shared.ErrCodeConnectionOrTimeout, "timed out waiting for batch response"))
			return nil, &shared.TimeoutError{Method: reqs[i].Method, ID: ids[i].String()}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return results, nil
}

// SessionID is always empty: plain stdio carries no session identifier of
// its own.
func (t *StdioTransport) SessionID() string { return "" }

// Stop closes stdin and asks the child to exit with SIGTERM, giving it
// stdioStopGracePeriod to leave on its own before escalating to SIGKILL.
func (t *StdioTransport) Stop() error {
	if !t.stopped.CompareAndSwap(false, true) {
		return nil
	}
	t.pending.CancelAll(shared.NewError(shared.ErrCodeConnectionOrTimeout, "transport stopped"))
	t.mu.Lock()
	stdin := t.stdin
	cmd := t.cmd
	t.mu.Unlock()
	if stdin != nil {
		_ = stdin.Close()
	}
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	waitDone := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(waitDone)
	}()

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		t.logger.Warn("failed to send SIGTERM, killing target process", zap.Error(err), zap.Int("pid", cmd.Process.Pid))
		_ = cmd.Process.Kill()
		<-waitDone
		return nil
	}

	select {
	case <-waitDone:
	case <-time.After(stdioStopGracePeriod):
		t.logger.Warn("target process did not exit after SIGTERM, sending SIGKILL", zap.Int("pid", cmd.Process.Pid))
		_ = cmd.Process.Kill()
		<-waitDone
	}
	return nil
}

// StderrTail returns the last bytes of the child's stderr, useful in test
// failure messages when a target crashes on launch.
func (t *StdioTransport) StderrTail() string {
	return t.stderrTail.String()
}

// stderrRingBuffer keeps only the last maxBytes of stderr so a noisy target
// can't balloon memory over a long conformance run.
type stderrRingBuffer struct {
	mu      sync.Mutex
	maxSize int
	lines   []string
	size    int
}

func newStderrRingBuffer(maxSize int) *stderrRingBuffer {
	return &stderrRingBuffer{maxSize: maxSize}
}

func (b *stderrRingBuffer) Write(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	b.size += len(line)
	for b.size > b.maxSize && len(b.lines) > 0 {
		b.size -= len(b.lines[0])
		b.lines = b.lines[1:]
	}
}

func (b *stderrRingBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.lines, "\n")
}
