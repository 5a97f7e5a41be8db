package fakeserver

import (
	"encoding/json"
	"time"

	"github.com/gate4ai/mcpconform/internal/shared"
)

// asyncJob tracks one outstanding tools/call-async invocation, only
// reachable on the 2025-03-26 revision.
type asyncJob struct {
	state      string
	cancelled  chan struct{}
	resultText string
	structured map[string]interface{}
	rpcErr     *shared.Error
}

const (
	stateRunning   = "running"
	stateCompleted = "completed"
	stateCancelled = "cancelled"
	stateError     = "error"
)

func (c *Core) handleToolsCallAsync(sessionID string, params json.RawMessage) (interface{}, *shared.Error) {
	if c.Version != v20250326 {
		return nil, shared.NewError(shared.ErrCodeMethodNotFound, "tools/call-async is not part of this protocol revision")
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(params, &raw); err != nil {
		return nil, shared.NewError(shared.ErrCodeInvalidParams, "malformed tools/call-async params")
	}
	name, _ := raw["name"].(string)
	tool, ok := findTool(name)
	if !ok {
		return nil, shared.NewError(shared.ErrCodeMethodNotFound, "unknown tool")
	}
	args := toolArguments(raw)
	job := &asyncJob{state: stateRunning, cancelled: make(chan struct{})}
	id := asyncID()
	c.asyncMu.Lock()
	c.asyncJobs[id] = job
	c.asyncMu.Unlock()

	duration, _ := args["duration"].(float64)
	go c.runAsyncTool(id, job, tool, args, duration)

	return map[string]interface{}{"invocationId": id}, nil
}

func (c *Core) runAsyncTool(id string, job *asyncJob, tool toolDef, args map[string]interface{}, duration float64) {
	delay := time.Duration(duration * float64(time.Second))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-job.cancelled:
		c.asyncMu.Lock()
		job.state = stateCancelled
		c.asyncMu.Unlock()
		return
	case <-timer.C:
	}
	text, structured, isErr, rpcErr := tool.call(args)
	c.asyncMu.Lock()
	defer c.asyncMu.Unlock()
	if job.state == stateCancelled {
		return
	}
	if rpcErr != nil || isErr {
		job.state = stateError
		job.rpcErr = rpcErr
		return
	}
	job.state = stateCompleted
	job.resultText = text
	job.structured = structured
}

func (c *Core) handleToolsResult(sessionID string, params json.RawMessage) (interface{}, *shared.Error) {
	if c.Version != v20250326 {
		return nil, shared.NewError(shared.ErrCodeMethodNotFound, "tools/result is not part of this protocol revision")
	}
	var raw struct {
		InvocationID string `json:"invocationId"`
	}
	if err := json.Unmarshal(params, &raw); err != nil {
		return nil, shared.NewError(shared.ErrCodeInvalidParams, "malformed tools/result params")
	}
	c.asyncMu.Lock()
	job, ok := c.asyncJobs[raw.InvocationID]
	c.asyncMu.Unlock()
	if !ok {
		return nil, shared.NewError(shared.ErrCodeInvalidParams, "unknown invocation id")
	}
	c.asyncMu.Lock()
	defer c.asyncMu.Unlock()
	out := map[string]interface{}{"state": job.state}
	if job.state == stateCompleted {
		out["result"] = map[string]interface{}{
			"content": []map[string]interface{}{{"type": "text", "text": job.resultText}},
			"isError": false,
		}
	}
	if job.state == stateError && job.rpcErr != nil {
		out["error"] = job.rpcErr.Message
	}
	return out, nil
}

func (c *Core) handleToolsCancel(sessionID string, params json.RawMessage) (interface{}, *shared.Error) {
	if c.Version != v20250326 {
		return nil, shared.NewError(shared.ErrCodeMethodNotFound, "tools/cancel is not part of this protocol revision")
	}
	var raw struct {
		InvocationID string `json:"invocationId"`
	}
	if err := json.Unmarshal(params, &raw); err != nil {
		return nil, shared.NewError(shared.ErrCodeInvalidParams, "malformed tools/cancel params")
	}
	c.asyncMu.Lock()
	job, ok := c.asyncJobs[raw.InvocationID]
	c.asyncMu.Unlock()
	if !ok {
		return nil, shared.NewError(shared.ErrCodeInvalidParams, "unknown invocation id")
	}
	select {
	case <-job.cancelled:
	default:
		close(job.cancelled)
	}
	return map[string]interface{}{}, nil
}
