package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func sendReq(t *testing.T, tr *HTTPTransport, opts SendOptions) (*Response, error) {
	t.Helper()
	return tr.Send(context.Background(), NewRequest(1, "tools/list", nil), opts)
}

func TestHTTPTransport_RequestHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{}}`)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{
		URL:     srv.URL,
		Token:   "sekrit",
		Headers: map[string]string{"X-Org": "acme"},
	})
	if _, err := sendReq(t, tr, SendOptions{ProtocolVersion: "2025-03-26"}); err != nil {
		t.Fatal(err)
	}

	checks := map[string]string{
		"Content-Type":         "application/json",
		"Accept":               AcceptAny,
		"Authorization":        "Bearer sekrit",
		"X-Org":                "acme",
		"Mcp-Protocol-Version": "2025-03-26",
	}
	for k, want := range checks {
		if v := got.Get(k); v != want {
			t.Errorf("%s = %q, want %q", k, v, want)
		}
	}
}

func TestHTTPTransport_StrictAcceptOption(t *testing.T) {
	var accept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept = r.Header.Get("Accept")
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{}}`)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{URL: srv.URL})
	if _, err := sendReq(t, tr, SendOptions{Accept: AcceptJSON}); err != nil {
		t.Fatal(err)
	}
	if accept != AcceptJSON {
		t.Errorf("accept = %q, want %q", accept, AcceptJSON)
	}
}

func TestHTTPTransport_SessionCaptureAndReplay(t *testing.T) {
	var sessionSeen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionSeen = append(sessionSeen, r.Header.Get("Mcp-Session-Id"))
		w.Header().Set("Mcp-Session-Id", "sess-42")
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{}}`)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{URL: srv.URL})

	// First request: no session yet. The response assigns one.
	if _, err := sendReq(t, tr, SendOptions{}); err != nil {
		t.Fatal(err)
	}
	if tr.SessionID() != "sess-42" {
		t.Fatalf("session = %q, want sess-42", tr.SessionID())
	}

	// Second request replays it.
	if _, err := sendReq(t, tr, SendOptions{}); err != nil {
		t.Fatal(err)
	}
	if sessionSeen[0] != "" || sessionSeen[1] != "sess-42" {
		t.Errorf("session headers = %v", sessionSeen)
	}

	// Reset clears it.
	tr.Reset()
	if tr.SessionID() != "" {
		t.Errorf("session after reset = %q", tr.SessionID())
	}
}

func TestHTTPTransport_Non2xxIsConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{URL: srv.URL})
	_, err := sendReq(t, tr, SendOptions{})
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected *ConnectionError, got %T: %v", err, err)
	}
}

func TestHTTPTransport_TransportFailureIsConnectionError(t *testing.T) {
	// A closed server: connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	tr := NewHTTPTransport(HTTPConfig{URL: srv.URL})
	_, err := sendReq(t, tr, SendOptions{})
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected *ConnectionError, got %T: %v", err, err)
	}
}

func TestHTTPTransport_GarbageBodyIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `this is not json`)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{URL: srv.URL})
	_, err := sendReq(t, tr, SendOptions{})
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected *ProtocolError, got %T: %v", err, err)
	}
}

func TestHTTPTransport_RPCErrorPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"nope"}}`)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{URL: srv.URL})
	resp, err := sendReq(t, tr, SendOptions{})
	if err != nil {
		t.Fatalf("transport should deliver error envelopes, got %v", err)
	}
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Fatalf("resp.Error = %+v", resp.Error)
	}
}

func TestHTTPTransport_Notify(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{URL: srv.URL})
	err := tr.Notify(context.Background(), NewNotification("notifications/initialized", nil), SendOptions{})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if string(body) != `{"jsonrpc":"2.0","method":"notifications/initialized"}` {
		t.Errorf("body = %s", body)
	}
}

func TestDemuxResponse_BatchIDCorrelation(t *testing.T) {
	// Two entries; only the second matches. Correlation is
	// authoritative over array order.
	body := []byte(`[
		{"jsonrpc":"2.0","id":99,"result":{"who":"wrong"}},
		{"jsonrpc":"2.0","id":1,"result":{"who":"right"}}
	]`)
	resp, err := demuxResponse("tools/list", 1, "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	var result struct{ Who string }
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatal(err)
	}
	if result.Who != "right" {
		t.Errorf("picked %q, want the id-matched entry", result.Who)
	}
}

func TestDemuxResponse_BatchNoMatchFallsBackToFirst(t *testing.T) {
	body := []byte(`[
		{"jsonrpc":"2.0","id":7,"result":{"who":"first"}},
		{"jsonrpc":"2.0","id":8,"result":{"who":"second"}}
	]`)
	resp, err := demuxResponse("tools/list", 1, "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	var result struct{ Who string }
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatal(err)
	}
	if result.Who != "first" {
		t.Errorf("picked %q, want best-effort first element", result.Who)
	}
}

func TestDemuxResponse_EmptyBatch(t *testing.T) {
	_, err := demuxResponse("tools/list", 1, "application/json", []byte(`[]`))
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected *ProtocolError, got %v", err)
	}
}

func TestDemuxResponse_SSELastDataBlockWins(t *testing.T) {
	body := []byte("event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"seq\":1}}\n\n" +
		"data: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"seq\":2}}\n\n")
	resp, err := demuxResponse("tools/call", 1, "text/event-stream", body)
	if err != nil {
		t.Fatal(err)
	}
	var result struct{ Seq int }
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatal(err)
	}
	if result.Seq != 2 {
		t.Errorf("seq = %d, want the last data block (2)", result.Seq)
	}
}

func TestDemuxResponse_SSESniffedWithoutContentType(t *testing.T) {
	// No event-stream content type, but the body is SSE-framed.
	body := []byte("data: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"ok\":true}}\n\n")
	resp, err := demuxResponse("initialize", 1, "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	var result struct{ OK bool }
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatal(err)
	}
	if !result.OK {
		t.Error("sniffed SSE body not parsed")
	}
}

func TestDemuxResponse_SSEMultiLineData(t *testing.T) {
	// One event whose JSON payload spans two data lines.
	body := []byte("data: {\"jsonrpc\":\"2.0\",\"id\":1,\ndata: \"result\":{\"ok\":true}}\n\n")
	resp, err := demuxResponse("initialize", 1, "text/event-stream", body)
	if err != nil {
		t.Fatal(err)
	}
	var result struct{ OK bool }
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatal(err)
	}
	if !result.OK {
		t.Error("multi-line data block not joined")
	}
}

func TestDemuxResponse_SSEKeepaliveSkipped(t *testing.T) {
	// Unparseable and sentinel blocks after the payload must not
	// clobber it.
	body := []byte("data: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"ok\":true}}\n\n" +
		"data: [DONE]\n\n")
	resp, err := demuxResponse("tools/call", 1, "text/event-stream", body)
	if err != nil {
		t.Fatal(err)
	}
	var result struct{ OK bool }
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatal(err)
	}
	if !result.OK {
		t.Error("payload lost to trailing sentinel block")
	}
}

func TestDemuxResponse_SSENoParseableBlock(t *testing.T) {
	body := []byte("data: not json\n\ndata: [DONE]\n\n")
	_, err := demuxResponse("initialize", 1, "text/event-stream", body)
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected *ProtocolError, got %v", err)
	}
}

func TestClientOverHTTP_EndToEnd(t *testing.T) {
	// A minimal MCP server: initialize assigns a session, tools/list
	// requires it.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req Request
		if err := json.Unmarshal(body, &req); err != nil {
			// Probably the initialized notification.
			w.WriteHeader(http.StatusAccepted)
			return
		}
		switch req.Method {
		case "initialize":
			w.Header().Set("Mcp-Session-Id", "e2e-session")
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"protocolVersion":"2025-03-26","serverInfo":{"name":"e2e","version":"1"}}}`, req.ID)
		case "tools/list":
			if r.Header.Get("Mcp-Session-Id") != "e2e-session" {
				http.Error(w, "missing session", http.StatusBadRequest)
				return
			}
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":{"tools":[{"name":"search","inputSchema":{"type":"object"}}]}}`, req.ID)
		default:
			w.WriteHeader(http.StatusAccepted)
		}
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{URL: srv.URL})
	client := NewClient("e2e", tr, nil)
	t.Cleanup(func() { client.Close() })

	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "search" {
		t.Fatalf("tools = %+v", tools)
	}
}
