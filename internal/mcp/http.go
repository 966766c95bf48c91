package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mattnowzari/mcpbridge/internal/httpkit"
)

// sessionHeader carries the server-assigned session token. Servers set
// it on the initialize response; we echo it on every subsequent request.
const sessionHeader = "Mcp-Session-Id"

// versionHeader advertises the negotiated protocol version after the
// handshake.
const versionHeader = "Mcp-Protocol-Version"

// maxResponseBody bounds how much of a response we are willing to read.
const maxResponseBody = 10 << 20

// HTTPConfig configures an HTTP MCP transport that communicates with a
// remote MCP server over streamable HTTP (JSON-RPC over POST).
type HTTPConfig struct {
	// URL is the MCP server endpoint.
	URL string

	// Token, when non-empty, is sent as a bearer Authorization header.
	Token string

	// Headers are additional HTTP headers sent with every request.
	Headers map[string]string

	// Timeout bounds each call end to end. Zero means 30 seconds.
	Timeout time.Duration

	// InsecureSkipTLS disables TLS certificate verification for this
	// endpoint only. For local/development servers.
	InsecureSkipTLS bool

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

// HTTPTransport communicates with an MCP server over streamable HTTP.
// Each JSON-RPC request is sent as an HTTP POST; the response comes back
// in the response body as a single object, a batch array, or an SSE
// stream whose last data block is the payload.
type HTTPTransport struct {
	url        string
	token      string
	headers    map[string]string
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.RWMutex
	sessionID string // session token for request affinity
}

// NewHTTPTransport creates an HTTP transport for the given config.
// The underlying HTTP client is constructed via httpkit.
func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	opts := []httpkit.ClientOption{
		httpkit.WithTimeout(timeout),
	}
	if cfg.InsecureSkipTLS {
		opts = append(opts, httpkit.WithTLSInsecureSkipVerify())
	}

	return &HTTPTransport{
		url:        cfg.URL,
		token:      cfg.Token,
		headers:    cfg.Headers,
		httpClient: httpkit.NewClient(opts...),
		logger:     logger,
	}
}

// SessionID returns the session token captured from the server, if any.
func (t *HTTPTransport) SessionID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessionID
}

// Reset discards the captured session token. The next request starts a
// fresh session.
func (t *HTTPTransport) Reset() {
	t.mu.Lock()
	t.sessionID = ""
	t.mu.Unlock()
}

// Send sends a JSON-RPC request via HTTP POST and returns the response
// correlated to the request id.
func (t *HTTPTransport) Send(ctx context.Context, req *Request, opts SendOptions) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, contentType, err := t.post(ctx, body, opts)
	if err != nil {
		return nil, err
	}

	return demuxResponse(req.Method, req.ID, contentType, respBody)
}

// Notify sends a JSON-RPC notification via HTTP POST. No response
// content is expected, but the HTTP response status is checked.
func (t *HTTPTransport) Notify(ctx context.Context, notif *Notification, opts SendOptions) error {
	body, err := json.Marshal(notif)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	_, _, err = t.post(ctx, body, opts)
	return err
}

// post issues one HTTP POST and returns the raw body and content type.
// Transport failures, timeouts, and non-2xx statuses all come back as
// *ConnectionError.
func (t *HTTPTransport) post(ctx context.Context, body []byte, opts SendOptions) ([]byte, string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("create HTTP request: %w", err)
	}

	accept := opts.Accept
	if accept == "" {
		accept = AcceptAny
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)
	if t.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.token)
	}
	if opts.ProtocolVersion != "" {
		httpReq.Header.Set(versionHeader, opts.ProtocolVersion)
	}

	// Apply configured headers (auth, etc.) after the standard set so
	// explicit configuration wins.
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	// Include session ID if we have one from a previous response.
	t.mu.RLock()
	if t.sessionID != "" {
		httpReq.Header.Set(sessionHeader, t.sessionID)
	}
	t.mu.RUnlock()

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, "", &ConnectionError{URL: t.url, Err: err}
	}
	defer httpkit.DrainAndClose(httpResp.Body, 1<<20)

	// Capture session ID from the response. The invariant is that the
	// session token only ever comes from an observed response header.
	if sid := httpResp.Header.Get(sessionHeader); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		errBody := httpkit.ReadErrorBody(httpResp.Body, 1<<20)
		return nil, "", &ConnectionError{
			URL: t.url,
			Err: fmt.Errorf("server returned %d: %s", httpResp.StatusCode, strings.TrimSpace(errBody)),
		}
	}

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, "", &ConnectionError{URL: t.url, Err: fmt.Errorf("read response body: %w", err)}
	}

	return respBody, httpResp.Header.Get("Content-Type"), nil
}

// demuxResponse turns a raw 2xx body into the single JSON-RPC response
// correlated to reqID. It handles, in order: SSE-framed bodies (by
// content type or by sniffing for "data:" lines), batch arrays, and
// plain single objects.
func demuxResponse(method string, reqID int64, contentType string, body []byte) (*Response, error) {
	if strings.Contains(contentType, "text/event-stream") || looksLikeSSE(body) {
		payload, ok := lastSSEData(body)
		if !ok {
			return nil, &ProtocolError{Method: method, Msg: "no parseable data block in event stream"}
		}
		body = payload
	}

	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var batch []Response
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, &ProtocolError{Method: method, Msg: "malformed batch response", Err: err}
		}
		if len(batch) == 0 {
			return nil, &ProtocolError{Method: method, Msg: "empty batch response"}
		}
		for i := range batch {
			if batch[i].ID.Matches(reqID) {
				return &batch[i], nil
			}
		}
		// No id matched; fall back to the first element as best effort.
		return &batch[0], nil
	}

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &ProtocolError{Method: method, Msg: "malformed response body", Err: err}
	}
	return &resp, nil
}

// looksLikeSSE sniffs a body for SSE framing. Some servers stream
// data: lines without declaring text/event-stream.
func looksLikeSSE(body []byte) bool {
	for _, line := range bytes.Split(body, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if bytes.HasPrefix(line, []byte("data:")) ||
			bytes.HasPrefix(line, []byte("event:")) ||
			bytes.HasPrefix(line, []byte("id:")) {
			return true
		}
		return false
	}
	return false
}

// lastSSEData extracts the last JSON-parseable data block from an SSE
// body. Consecutive data: lines within one event are joined with
// newlines per the SSE framing rules. "Last wins" is a compatibility
// shim for servers that emit keepalive or partial blocks before the
// real payload; earlier blocks are dropped.
func lastSSEData(body []byte) ([]byte, bool) {
	var (
		last    []byte
		current []string
	)

	flush := func() {
		if len(current) == 0 {
			return
		}
		block := strings.Join(current, "\n")
		current = nil
		if block == "" || block == "[DONE]" {
			return
		}
		if json.Valid([]byte(block)) {
			last = []byte(block)
		}
	}

	for _, raw := range strings.Split(string(body), "\n") {
		line := strings.TrimRight(raw, "\r")
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "data:"):
			current = append(current, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	flush()

	if last == nil {
		return nil, false
	}
	return last, true
}

// Close is a no-op for HTTP transports. The underlying HTTP client
// manages its own connection pool via httpkit.
func (t *HTTPTransport) Close() error {
	return nil
}
