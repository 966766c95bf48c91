// Package bridge turns (server, capability, arguments) triples into MCP
// protocol calls and normalizes the heterogeneous result shapes into a
// single textual representation.
//
// Every failure — connection, protocol, or tool-level — surfaces as a
// typed *ExecutionError carrying the server and capability identifiers,
// so one bad call can never crash a batch of independent invocations.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mattnowzari/mcpbridge/internal/mcp"
)

// Endpoint is what the credential source resolves a server reference to.
type Endpoint struct {
	URL             string
	Token           string
	Headers         map[string]string
	InsecureSkipTLS bool
}

// CredentialSource resolves a server reference to its endpoint and
// credential. Implemented by the host's configuration layer; this
// package never sees where URLs and tokens are stored.
type CredentialSource interface {
	Endpoint(ctx context.Context, server string) (Endpoint, error)
}

// ExecutionError wraps any failure of a capability execution with the
// server and capability it belongs to.
type ExecutionError struct {
	Server     string
	Capability string
	Err        error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute %s on %s: %v", e.Capability, e.Server, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Result is the normalized outcome of one capability execution.
type Result struct {
	Server     string `json:"server"`
	Capability string `json:"capability"`
	Text       string `json:"text"`
}

// Executor maintains one MCP client per server reference and executes
// capabilities through them. Clients are created lazily on first use
// and reused until Reset or Close.
type Executor struct {
	creds  CredentialSource
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*mcp.Client
}

// NewExecutor creates an executor over the given credential source.
func NewExecutor(creds CredentialSource, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		creds:   creds,
		logger:  logger,
		clients: make(map[string]*mcp.Client),
	}
}

// client returns the cached MCP client for a server, creating it on
// first use.
func (e *Executor) client(ctx context.Context, server string) (*mcp.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c, ok := e.clients[server]; ok {
		return c, nil
	}

	ep, err := e.creds.Endpoint(ctx, server)
	if err != nil {
		return nil, fmt.Errorf("resolve endpoint for %s: %w", server, err)
	}

	transport := mcp.NewHTTPTransport(mcp.HTTPConfig{
		URL:             ep.URL,
		Token:           ep.Token,
		Headers:         ep.Headers,
		InsecureSkipTLS: ep.InsecureSkipTLS,
		Logger:          e.logger,
	})

	c := mcp.NewClient(server, transport, e.logger)
	e.clients[server] = c
	return c, nil
}

// Execute invokes one capability and normalizes the result. The error
// return is always either nil or a *ExecutionError.
func (e *Executor) Execute(ctx context.Context, server, capability string, args map[string]any) (*Result, error) {
	fail := func(err error) (*Result, error) {
		e.logger.Warn("capability execution failed",
			"server", server,
			"capability", capability,
			"error", err,
		)
		return nil, &ExecutionError{Server: server, Capability: capability, Err: err}
	}

	client, err := e.client(ctx, server)
	if err != nil {
		return fail(err)
	}

	raw, err := client.CallTool(ctx, capability, args)
	if err != nil {
		return fail(err)
	}

	text, isErr := normalizeResult(raw)
	if isErr {
		return fail(fmt.Errorf("tool reported error: %s", text))
	}

	return &Result{Server: server, Capability: capability, Text: text}, nil
}

// Discover lists the capabilities a server currently exposes. This is
// the reconciler's ground-truth path; results are never cached.
func (e *Executor) Discover(ctx context.Context, server string) ([]mcp.ToolDefinition, error) {
	client, err := e.client(ctx, server)
	if err != nil {
		return nil, err
	}
	return client.ListTools(ctx)
}

// Reset drops the cached client for a server so the next call builds a
// fresh one. Use after rotating credentials or changing the endpoint.
func (e *Executor) Reset(server string) {
	e.mu.Lock()
	c, ok := e.clients[server]
	delete(e.clients, server)
	e.mu.Unlock()
	if ok {
		_ = c.Close()
	}
}

// Close shuts down all cached clients.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for name, c := range e.clients {
		if err := c.Close(); err != nil {
			e.logger.Warn("close MCP client", "server", name, "error", err)
		}
	}
	e.clients = make(map[string]*mcp.Client)
	return nil
}

// contentBlock is the common shape of a tools/call content item. Raw is
// kept alongside so non-text blocks can be serialized verbatim.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// normalizeResult flattens a raw tools/call result into text. A result
// carrying content blocks becomes the blocks' text joined by newlines,
// with non-text blocks serialized to their JSON representation. Any
// other payload is pretty-printed as JSON.
func normalizeResult(raw json.RawMessage) (text string, isError bool) {
	if len(raw) == 0 {
		return "", false
	}

	var envelope struct {
		Content []json.RawMessage `json:"content"`
		IsError bool              `json:"isError"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Content != nil {
		parts := make([]string, 0, len(envelope.Content))
		for _, rawBlock := range envelope.Content {
			var block contentBlock
			if err := json.Unmarshal(rawBlock, &block); err == nil && block.Type == "text" {
				parts = append(parts, block.Text)
				continue
			}
			parts = append(parts, compactJSON(rawBlock))
		}
		return strings.Join(parts, "\n"), envelope.IsError
	}

	return prettyJSON(raw), false
}

// compactJSON renders a raw message without insignificant whitespace.
func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// prettyJSON renders a raw message indented for human consumption.
func prettyJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
