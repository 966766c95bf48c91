package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mattnowzari/mcpbridge/internal/buildinfo"
)

// defaultProtocolVersion is the MCP protocol version we advertise during
// initialization and keep when the server proposes something we do not
// support.
const defaultProtocolVersion = "2025-03-26"

// supportedProtocolVersions is the set of protocol versions this client
// is willing to adopt from a server's initialize response.
var supportedProtocolVersions = map[string]bool{
	"2024-11-05": true,
	"2025-03-26": true,
	"2025-06-18": true,
}

// ToolDefinition is an MCP tool as returned by tools/list.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// toolsListResult is the result payload of a tools/list response.
type toolsListResult struct {
	Tools []ToolDefinition `json:"tools"`
}

// serverInfo is returned in the initialize response.
type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// serverCapabilities describes what an MCP server supports.
type serverCapabilities struct {
	Tools *struct{} `json:"tools,omitempty"`
}

// initializeResult is the full initialize response result.
type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ServerInfo      serverInfo         `json:"serverInfo"`
	Capabilities    serverCapabilities `json:"capabilities"`
}

// Client connects to a single MCP server and provides typed access to
// the protocol operations it consumes: initialize, tools/list, and
// tools/call.
//
// A Client is single-caller-oriented: the initialized flag and the
// negotiated version are guarded by a mutex so racing calls cannot run
// the handshake twice, but interleaving unrelated requests on one
// instance is not a supported pattern.
type Client struct {
	name      string
	transport Transport
	logger    *slog.Logger
	nextID    atomic.Int64

	mu          sync.Mutex
	initialized bool
	protoVer    string
	serverName  string
	serverVer   string
}

// NewClient creates an MCP client for the given server. The transport
// determines how messages are delivered.
func NewClient(name string, transport Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		name:      name,
		transport: transport,
		logger:    logger.With("mcp_server", name),
		protoVer:  defaultProtocolVersion,
	}
}

// Name returns the server name this client is connected to.
func (c *Client) Name() string {
	return c.name
}

// ProtocolVersion returns the negotiated protocol version.
func (c *Client) ProtocolVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.protoVer
}

// Initialize performs the MCP handshake: it sends an initialize request
// followed by the notifications/initialized notification. Initialize is
// idempotent — a second call on an already-initialized client performs
// no requests. The server's protocol version is adopted only when it is
// in the supported set; otherwise the client keeps its default and
// proceeds, since a version mismatch alone is not worth failing the
// handshake over.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}

	params := map[string]any{
		"protocolVersion": defaultProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    buildinfo.Name,
			"version": buildinfo.Version,
		},
	}

	resp, err := c.send(ctx, "initialize", params, SendOptions{})
	if err != nil {
		return err
	}

	var result initializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return &ProtocolError{Method: "initialize", Msg: "unmarshal result", Err: err}
	}

	if supportedProtocolVersions[result.ProtocolVersion] {
		c.protoVer = result.ProtocolVersion
	} else {
		c.logger.Warn("server proposed unsupported protocol version, keeping default",
			"server_version", result.ProtocolVersion,
			"using", defaultProtocolVersion,
		)
		c.protoVer = defaultProtocolVersion
	}

	c.initialized = true
	c.serverName = result.ServerInfo.Name
	c.serverVer = result.ServerInfo.Version

	c.logger.Info("MCP server initialized",
		"server_name", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
		"protocol_version", c.protoVer,
	)

	// Complete the handshake. A failed notification is logged but not
	// fatal; some servers return 4xx for notifications yet serve
	// requests fine.
	notifOpts := SendOptions{ProtocolVersion: c.protoVer}
	if err := c.transport.Notify(ctx, NewNotification("notifications/initialized", nil), notifOpts); err != nil {
		c.logger.Warn("initialized notification failed", "error", err)
	}

	return nil
}

// Reset clears the initialized state and any transport session so the
// next call performs a fresh handshake.
func (c *Client) Reset() {
	c.mu.Lock()
	c.initialized = false
	c.protoVer = defaultProtocolVersion
	c.serverName = ""
	c.serverVer = ""
	c.mu.Unlock()
	c.transport.Reset()
}

// ListTools calls tools/list and returns the server's tool definitions.
// The client auto-initializes on first use. Results are never cached:
// discovery callers need ground truth, not a snapshot.
//
// The first attempt asks for a plain JSON reply; on any failure one
// retry is made with a broadened Accept header, which accommodates
// servers that answer every request via SSE regardless of the client's
// stated preference.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	if err := c.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}

	opts := SendOptions{Accept: AcceptJSON, ProtocolVersion: c.ProtocolVersion()}
	resp, err := c.send(ctx, "tools/list", nil, opts)
	if err != nil {
		c.logger.Debug("strict tools/list failed, retrying with event-stream accept", "error", err)
		opts.Accept = AcceptAny
		resp, err = c.send(ctx, "tools/list", nil, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}

	var result toolsListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, &ProtocolError{Method: "tools/list", Msg: "unmarshal result", Err: err}
	}

	if result.Tools == nil {
		result.Tools = []ToolDefinition{}
	}

	c.logger.Debug("discovered MCP tools", "count", len(result.Tools))
	return result.Tools, nil
}

// CallTool invokes a tool by name with the given arguments and returns
// the raw result payload. The client auto-initializes on first use.
// A JSON-RPC error on the call surfaces as *ToolExecutionError carrying
// the server's message; interpreting the result shape is left to the
// caller.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	if err := c.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("tools/call %s: %w", name, err)
	}

	if args == nil {
		args = map[string]any{}
	}
	params := map[string]any{
		"name":      name,
		"arguments": args,
	}

	opts := SendOptions{ProtocolVersion: c.ProtocolVersion()}
	resp, err := c.send(ctx, "tools/call", params, opts)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return nil, &ToolExecutionError{Tool: name, Code: rpcErr.Code, Message: rpcErr.Message}
		}
		return nil, fmt.Errorf("tools/call %s: %w", name, err)
	}

	return resp.Result, nil
}

// Close shuts down the client and its transport.
func (c *Client) Close() error {
	c.logger.Debug("closing MCP client")
	return c.transport.Close()
}

// send issues a JSON-RPC request and surfaces an error-bearing envelope
// as *RPCError for the caller to classify.
func (c *Client) send(ctx context.Context, method string, params any, opts SendOptions) (*Response, error) {
	id := c.nextID.Add(1)
	req := NewRequest(id, method, params)

	resp, err := c.transport.Send(ctx, req, opts)
	if err != nil {
		return nil, err
	}

	if resp.Error != nil {
		if method == "initialize" || method == "tools/list" {
			return nil, &ProtocolError{Method: method, Msg: "server error", Err: resp.Error}
		}
		return nil, resp.Error
	}

	return resp, nil
}
