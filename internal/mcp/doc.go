// Package mcp implements the client side of the MCP (Model Context
// Protocol) wire protocol over streamable HTTP.
//
// MCP is JSON-RPC 2.0 over HTTP POST. A client performs a handshake
// (initialize plus the notifications/initialized notification),
// discovers tools via tools/list, and invokes them via tools/call.
// Servers answer with a single JSON object, a batch array, or an
// SSE-framed stream of data: blocks; the transport demultiplexes all
// three shapes into one correlated response. A server-assigned session
// token (Mcp-Session-Id) is captured from response headers and echoed
// on every subsequent request.
//
// This package covers the client/host side only and exactly the three
// methods above. Result interpretation and projection into a local tool
// registry live in the bridge and reconcile packages.
package mcp
