// ABOUTME: stdio transport: newline-delimited JSON-RPC on stdin/stdout.
// ABOUTME: Requests run concurrently and honor notifications/cancelled.

package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ServeStdio reads one JSON-RPC message per line from in and writes responses
// to out until in reaches EOF or ctx is cancelled. In-flight requests are
// cancelled and awaited before returning.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st := &stdioSession{
		server:   s,
		out:      out,
		inflight: make(map[string]context.CancelFunc),
	}

	lines := make(chan stdioLine)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		reader := bufio.NewReaderSize(in, 64*1024)
		for {
			line, err := readLine(reader, MaxRequestBodySize)
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = nil
				}
				readErr <- err
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				readErr <- ctx.Err()
				return
			}
		}
	}()

	s.logger.Info("MCP stdio transport started")

	var err error
loop:
	for {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break loop
		case line, ok := <-lines:
			if !ok {
				err = <-readErr
				break loop
			}
			if line.oversized {
				st.write(errorResponse(nil, JSONRPCInvalidRequest, "request too large", nil))
				continue
			}
			if len(line.data) == 0 {
				continue
			}
			st.dispatch(ctx, line.data)
		}
	}

	// On EOF let in-flight requests finish; on shutdown abort them.
	if err != nil {
		cancel()
	}
	st.wg.Wait()
	s.logger.Info("MCP stdio transport stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	return nil
}

// stdioLine is one newline-delimited message read from stdin.
type stdioLine struct {
	data      []byte
	oversized bool
}

// readLine returns the next line without its terminator. A line longer than
// limit is consumed in full and returned with oversized set and no data.
func readLine(r *bufio.Reader, limit int) (stdioLine, error) {
	var line stdioLine
	for {
		chunk, err := r.ReadSlice('\n')
		if !line.oversized {
			if len(line.data)+len(bytes.TrimRight(chunk, "\r\n")) > limit {
				line.oversized = true
				line.data = nil
			} else {
				line.data = append(line.data, chunk...)
			}
		}

		switch {
		case err == nil:
			line.data = bytes.TrimRight(line.data, "\r\n")
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && (len(line.data) > 0 || line.oversized):
			// final line without a trailing newline
			line.data = bytes.TrimRight(line.data, "\r\n")
			return line, nil
		default:
			return stdioLine{}, err
		}
	}
}

// stdioSession tracks in-flight requests of one stdio connection.
type stdioSession struct {
	server *Server

	writeMu sync.Mutex
	out     io.Writer

	mu       sync.Mutex
	inflight map[string]context.CancelFunc

	wg sync.WaitGroup
}

func (st *stdioSession) dispatch(ctx context.Context, line []byte) {
	var req JSONRPCRequest
	if err := json.Unmarshal(line, &req); err != nil {
		st.write(errorResponse(nil, JSONRPCParseError, "invalid JSON", nil))
		return
	}

	if req.Method == "notifications/cancelled" {
		st.cancelRequest(req.Params)
		return
	}

	if req.IsNotification() {
		st.server.Handle(ctx, &req)
		return
	}

	reqCtx, cancel := context.WithCancel(ctx)
	key := string(req.ID)
	st.mu.Lock()
	st.inflight[key] = cancel
	st.mu.Unlock()

	st.wg.Add(1)
	go func() {
		defer st.wg.Done()
		defer func() {
			st.mu.Lock()
			delete(st.inflight, key)
			st.mu.Unlock()
			cancel()
		}()

		if resp := st.server.Handle(reqCtx, &req); resp != nil {
			st.write(resp)
		}
	}()
}

func (st *stdioSession) cancelRequest(raw json.RawMessage) {
	var params MCPCancelledParams
	if err := json.Unmarshal(raw, &params); err != nil || len(params.RequestID) == 0 {
		return
	}

	st.mu.Lock()
	cancel, ok := st.inflight[string(params.RequestID)]
	st.mu.Unlock()
	if ok {
		st.server.logger.Info("cancelling MCP request",
			"request_id", string(params.RequestID),
			"reason", params.Reason,
		)
		cancel()
	}
}

func (st *stdioSession) write(resp *JSONRPCResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		st.server.logger.Warn("failed to encode JSON-RPC response", "error", err)
		return
	}
	data = append(data, '\n')

	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	if _, err := st.out.Write(data); err != nil {
		st.server.logger.Warn("failed to write JSON-RPC response", "error", err)
	}
}
