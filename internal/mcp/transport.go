package mcp

import "context"

// Accept header values used when sending requests. The strict variant is
// tried first for tools/list; the broadened variant admits servers that
// only ever answer via SSE.
const (
	AcceptJSON = "application/json"
	AcceptAny  = "application/json, text/event-stream"
)

// SendOptions carries per-request transport hints.
type SendOptions struct {
	// Accept overrides the Accept header. Empty means AcceptAny.
	Accept string

	// ProtocolVersion, when non-empty, is sent as the
	// mcp-protocol-version header. It is set once the handshake has
	// negotiated a version.
	ProtocolVersion string
}

// Transport delivers JSON-RPC messages to an MCP server. The transport
// handles framing, encoding, response demultiplexing, and session
// affinity.
type Transport interface {
	// Send sends a JSON-RPC request and returns the correlated response.
	Send(ctx context.Context, req *Request, opts SendOptions) (*Response, error)

	// Notify sends a JSON-RPC notification (no response expected).
	Notify(ctx context.Context, notif *Notification, opts SendOptions) error

	// Reset discards any captured session state so the next request
	// starts a fresh session.
	Reset()

	// Close shuts down the transport and releases resources.
	Close() error
}
