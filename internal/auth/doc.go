// Package auth provides bearer-token authentication for the MCP HTTP transport.
//
// The stdio transport needs no authentication: the client launches the server
// as a child process. When the server listens on HTTP and transport.jwt_secret
// is configured, every /mcp request must carry an HS256 JWT:
//
//	Authorization: Bearer <token>
//
// Tokens are minted with `mercury-mcp token --subject NAME`. They carry the
// subject, issuer "mercury-mcp", and a mandatory expiry.
//
// This token only admits MCP clients to this server. It is unrelated to the
// Mercury API key, which never leaves the server process.
package auth
