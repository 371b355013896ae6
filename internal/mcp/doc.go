// Package mcp implements a Model Context Protocol server exposing tools and
// resources to AI clients.
//
// # Overview
//
// MCP (Model Context Protocol) is a standard for AI tool integration. Server
// holds the registered tools, resources and resource templates and dispatches
// JSON-RPC 2.0 requests to them. It knows nothing about the transport.
//
// # Transports
//
// Two transports wrap a Server:
//
//   - ServeStdio: one JSON message per line on stdin, responses on stdout.
//     This is how desktop clients launch local servers.
//   - HTTPHandler: Streamable HTTP on a single /mcp endpoint. POST carries
//     JSON-RPC messages, DELETE ends a session, GET returns 405 since the
//     server never initiates streams.
//
// # Methods
//
//	initialize                handshake, protocol version negotiation
//	ping                      liveness
//	tools/list, tools/call    tool discovery and execution
//	resources/list            concrete resources
//	resources/templates/list  parameterized resources
//	resources/read            read by URI
//
// Notifications (requests without an id) never produce a response. Over
// stdio, notifications/cancelled aborts the named in-flight request.
//
// # Errors
//
// Handlers choose between two failure channels:
//
//   - return an *Error (for example InvalidParams) to fail the JSON-RPC call
//   - return any other error from a tool to produce a result with isError set,
//     which the model can read and react to
//
// Cancellation and deadline errors always fail the JSON-RPC call.
//
// # Sessions and Authentication
//
// The HTTP transport issues an Mcp-Session-Id on initialize and requires it on
// every later request. When a TokenVerifier is configured every request must
// carry:
//
//	Authorization: Bearer <token>
//
// and only the token that created a session may delete it.
//
// # Usage
//
//	srv, _ := mcp.NewServer(mcp.Config{Name: "mercury", Version: version})
//	srv.AddTool(mcp.Tool{Name: "echo", Handler: echo})
//
//	// stdio
//	err := srv.ServeStdio(ctx, os.Stdin, os.Stdout)
//
//	// HTTP
//	h, _ := mcp.NewHTTPHandler(mcp.HTTPConfig{Server: srv})
//	router := chi.NewRouter()
//	h.RegisterRoutes(router)
package mcp
