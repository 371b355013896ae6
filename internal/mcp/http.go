// ABOUTME: Streamable HTTP transport for the MCP server with session management.
// ABOUTME: Single /mcp endpoint for POST and DELETE, optional bearer JWT auth, and /health.

package mcp

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/2389/mercury-mcp/internal/auth"
)

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// mcpSession tracks an active MCP client session.
type mcpSession struct {
	id              string
	protocolVersion string
	ownerToken      string // bearer token used to verify session ownership on DELETE
	createdAt       time.Time
}

// sessionStore manages active MCP sessions (in-memory).
type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*mcpSession
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*mcpSession)}
}

func (s *sessionStore) create(protocolVersion, ownerToken string) *mcpSession {
	sess := &mcpSession{
		id:              uuid.New().String(),
		protocolVersion: protocolVersion,
		ownerToken:      ownerToken,
		createdAt:       time.Now(),
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess
}

func (s *sessionStore) get(id string) (*mcpSession, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	return sess, ok
}

func (s *sessionStore) delete(id string) bool {
	s.mu.Lock()
	_, existed := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	return existed
}

func (s *sessionStore) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// HTTPConfig holds configuration for the HTTP transport.
type HTTPConfig struct {
	Server        *Server
	Logger        *slog.Logger
	TokenVerifier auth.TokenVerifier // nil disables authentication
}

// HTTPHandler serves the MCP Streamable HTTP transport (protocol 2025-11-25).
type HTTPHandler struct {
	server   *Server
	logger   *slog.Logger
	verifier auth.TokenVerifier
	sessions *sessionStore
}

// NewHTTPHandler creates the HTTP transport for an MCP server.
func NewHTTPHandler(cfg HTTPConfig) (*HTTPHandler, error) {
	if cfg.Server == nil {
		return nil, errors.New("server is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPHandler{
		server:   cfg.Server,
		logger:   logger,
		verifier: cfg.TokenVerifier,
		sessions: newSessionStore(),
	}, nil
}

// RegisterRoutes registers the MCP endpoint and health check on the given router.
func (h *HTTPHandler) RegisterRoutes(r chi.Router) {
	r.HandleFunc("/mcp", h.handleMCP)
	r.Get("/health", h.handleHealth)
}

// handleHealth reports liveness and the number of open sessions.
func (h *HTTPHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"sessions": h.sessions.count(),
	})
}

// handleMCP is the single Streamable HTTP endpoint for POST, GET and DELETE.
func (h *HTTPHandler) handleMCP(w http.ResponseWriter, r *http.Request) {
	token, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r, token)
	case http.MethodGet:
		// We don't support server-initiated SSE streams
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	case http.MethodDelete:
		h.handleDelete(w, r, token)
	default:
		w.Header().Set("Allow", "POST, GET, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// authenticate verifies the bearer token when auth is enabled and returns it.
// It writes a 401 and returns false on failure.
func (h *HTTPHandler) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := bearerToken(r)
	if h.verifier == nil {
		return token, true
	}

	if token == "" {
		w.Header().Set("WWW-Authenticate", `Bearer realm="mercury-mcp"`)
		http.Error(w, "Unauthorized: missing bearer token", http.StatusUnauthorized)
		return "", false
	}

	subject, err := h.verifier.Verify(token)
	if err != nil {
		h.logger.Debug("rejected MCP token", "error", err)
		w.Header().Set("WWW-Authenticate", `Bearer realm="mercury-mcp", error="invalid_token"`)
		http.Error(w, "Unauthorized: invalid or expired token", http.StatusUnauthorized)
		return "", false
	}

	h.logger.Debug("authenticated MCP request", "subject", subject)
	return token, true
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
}

// handleDelete terminates a session.
// Verifies the caller owns the session to prevent unauthorized termination.
func (h *HTTPHandler) handleDelete(w http.ResponseWriter, r *http.Request, token string) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}

	sess, ok := h.sessions.get(sessionID)
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	// The DELETE request must carry the same auth as initialize
	if sess.ownerToken != "" && token != sess.ownerToken {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	h.sessions.delete(sessionID)
	h.logger.Info("MCP session terminated", "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// handlePost processes JSON-RPC messages sent via HTTP POST.
func (h *HTTPHandler) handlePost(w http.ResponseWriter, r *http.Request, token string) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	protoVersion := r.Header.Get("Mcp-Protocol-Version")

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		h.sendResponse(w, errorResponse(nil, JSONRPCParseError, "failed to read request body", nil))
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		h.sendResponse(w, errorResponse(nil, JSONRPCInvalidRequest, "request body too large", nil))
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.sendResponse(w, errorResponse(nil, JSONRPCParseError, "invalid JSON", nil))
		return
	}
	if req.JSONRPC != "2.0" {
		h.sendResponse(w, errorResponse(req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version", nil))
		return
	}

	isInitialize := req.Method == "initialize"

	// Protocol version header is not required on initialize
	if !isInitialize && protoVersion != "" && !supportedProtocolVersions[protoVersion] {
		http.Error(w, "Bad Request: unsupported MCP-Protocol-Version", http.StatusBadRequest)
		return
	}

	if isInitialize {
		sess := h.sessions.create(negotiateProtocolVersion(req.Params), token)
		h.logger.Info("MCP session created",
			"session_id", sess.id,
			"protocol_version", sess.protocolVersion,
		)
		// Set the session ID header so the client can use it on subsequent requests
		w.Header().Set("Mcp-Session-Id", sess.id)
	} else {
		if sessionID == "" {
			http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
			return
		}
		if _, ok := h.sessions.get(sessionID); !ok {
			// Session expired or invalid - client must re-initialize
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
	}

	resp := h.server.Handle(r.Context(), &req)
	if resp == nil {
		// Notifications are accepted with no body
		w.WriteHeader(http.StatusAccepted)
		return
	}
	h.sendResponse(w, resp)
}

// sendResponse writes a JSON-RPC response.
func (h *HTTPHandler) sendResponse(w http.ResponseWriter, resp *JSONRPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}
