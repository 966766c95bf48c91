package mcp

import "fmt"

// ConnectionError indicates that a request never produced a usable HTTP
// response: dial or TLS failure, timeout, or a non-2xx status from the
// server.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("mcp: connection to %s failed: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ProtocolError indicates the server responded, but not with anything we
// can use: an error-bearing JSON-RPC envelope on a protocol method, an
// undecodable body, an SSE stream with no parseable data block, or an
// empty batch.
type ProtocolError struct {
	Method string
	Msg    string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mcp: protocol error on %s: %s: %v", e.Method, e.Msg, e.Err)
	}
	return fmt.Sprintf("mcp: protocol error on %s: %s", e.Method, e.Msg)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ToolExecutionError is a server-reported failure of a specific
// tools/call invocation.
type ToolExecutionError struct {
	Tool    string
	Code    int
	Message string
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("mcp: tool %s failed: %s (code %d)", e.Tool, e.Message, e.Code)
}
