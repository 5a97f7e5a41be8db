package fakeserver

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/gate4ai/mcpconform/internal/shared"
)

// ServeStdio runs Core as a line-delimited JSON-RPC peer, grounded on the
// stdio half of internal/transport's StdioTransport: one frame per line in,
// one frame per line out, batches accepted as a JSON array on one line.
// stdio has no notion of an HTTP session id, so every connection uses the
// fixed session name "stdio".
func ServeStdio(ctx context.Context, r io.Reader, w io.Writer, c *Core) error {
	const sessionID = "stdio"
	var writeMu sync.Mutex
	writeLine := func(v interface{}) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_, err = w.Write(append(b, '\n'))
		return err
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		frames, err := shared.ParseBatch(line)
		if err != nil {
			continue
		}
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
		if len(responses) == 0 {
			continue
		}
		if len(responses) == 1 && len(frames) == 1 {
			if err := writeLine(responses[0]); err != nil {
				return err
			}
			continue
		}
		if err := writeLine(responses); err != nil {
			return err
		}
	}
	return scanner.Err()
}
