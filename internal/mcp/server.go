// ABOUTME: Transport-independent MCP server: tool and resource registry plus JSON-RPC dispatch.
// ABOUTME: Handles initialize, ping, tools/list, tools/call, and resources/* methods.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// ToolHandler executes a tool with its raw JSON arguments.
// Returning an *Error produces a JSON-RPC error; any other error produces a
// tool result with isError set.
type ToolHandler func(ctx context.Context, args json.RawMessage) (*MCPCallToolResult, error)

// Tool is a callable operation exposed through tools/list and tools/call.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Handler     ToolHandler
}

// ReadRequest identifies the resource being read. Params holds the values
// bound by a resource template (empty for concrete resources).
type ReadRequest struct {
	URI    string
	Params map[string]string
}

// ResourceReader produces the contents of a resource.
type ResourceReader func(ctx context.Context, req ReadRequest) ([]MCPResourceContents, error)

// Resource is a readable endpoint with a fixed URI.
type Resource struct {
	URI         string
	Name        string
	Description string
	MIMEType    string
	Read        ResourceReader
}

// ResourceTemplate is a readable endpoint whose URI contains {placeholders},
// each matching exactly one non-empty path segment.
type ResourceTemplate struct {
	URITemplate string
	Name        string
	Description string
	MIMEType    string
	Read        ResourceReader
}

// Config holds configuration for the MCP server.
type Config struct {
	Name         string
	Version      string
	Instructions string
	Logger       *slog.Logger
}

// Server dispatches MCP requests to registered tools and resources.
// Registration happens at startup; dispatch is safe for concurrent use.
type Server struct {
	info         Implementation
	instructions string
	logger       *slog.Logger

	mu        sync.RWMutex
	tools     []*Tool
	toolIndex map[string]*Tool
	resources []*Resource
	templates []*ResourceTemplate
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		return nil, errors.New("server name is required")
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		info:         Implementation{Name: cfg.Name, Version: version},
		instructions: cfg.Instructions,
		logger:       logger,
		toolIndex:    make(map[string]*Tool),
	}, nil
}

// AddTool registers a tool. Names must be unique.
func (s *Server) AddTool(t Tool) error {
	if t.Name == "" {
		return errors.New("tool name is required")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %s: handler is required", t.Name)
	}
	if len(t.InputSchema) == 0 {
		t.InputSchema = json.RawMessage(`{"type":"object"}`)
	}
	if !json.Valid(t.InputSchema) {
		return fmt.Errorf("tool %s: input schema is not valid JSON", t.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.toolIndex[t.Name]; exists {
		return fmt.Errorf("tool %s already registered", t.Name)
	}
	tool := t
	s.tools = append(s.tools, &tool)
	s.toolIndex[t.Name] = &tool
	return nil
}

// AddResource registers a resource with a fixed URI.
func (s *Server) AddResource(r Resource) error {
	if r.URI == "" {
		return errors.New("resource URI is required")
	}
	if r.Read == nil {
		return fmt.Errorf("resource %s: reader is required", r.URI)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.resources {
		if existing.URI == r.URI {
			return fmt.Errorf("resource %s already registered", r.URI)
		}
	}
	res := r
	s.resources = append(s.resources, &res)
	return nil
}

// AddResourceTemplate registers a parameterized resource.
func (s *Server) AddResourceTemplate(t ResourceTemplate) error {
	if !strings.Contains(t.URITemplate, "{") {
		return fmt.Errorf("resource template %q has no placeholders", t.URITemplate)
	}
	if t.Read == nil {
		return fmt.Errorf("resource template %s: reader is required", t.URITemplate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tmpl := t
	s.templates = append(s.templates, &tmpl)
	return nil
}

// Handle processes a single request. It returns nil for notifications.
func (s *Server) Handle(ctx context.Context, req *JSONRPCRequest) *JSONRPCResponse {
	if req.JSONRPC != "2.0" {
		if req.IsNotification() {
			return nil
		}
		return errorResponse(req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version", nil)
	}

	if req.IsNotification() {
		if strings.HasPrefix(req.Method, "notifications/") {
			s.logger.Debug("accepted MCP notification", "method", req.Method)
		} else {
			s.logger.Warn("received notification for non-notification method", "method", req.Method)
		}
		return nil
	}

	s.logger.Debug("MCP request", "method", req.Method)

	var (
		result any
		err    error
	)
	switch req.Method {
	case "initialize":
		result = s.handleInitialize(req.Params)
	case "ping":
		result = struct{}{}
	case "tools/list":
		result = s.handleToolsList()
	case "tools/call":
		result, err = s.handleToolsCall(ctx, req.Params)
	case "resources/list":
		result = s.handleResourcesList()
	case "resources/templates/list":
		result = s.handleResourceTemplatesList()
	case "resources/read":
		result, err = s.handleResourcesRead(ctx, req.Params)
	default:
		return errorResponse(req.ID, JSONRPCMethodNotFound, "method not found", nil)
	}

	if err != nil {
		return s.errorFor(req.ID, req.Method, err)
	}
	return &JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
}

// HandleMessage parses one raw JSON-RPC message and dispatches it.
// It returns nil when no response should be written.
func (s *Server) HandleMessage(ctx context.Context, raw []byte) *JSONRPCResponse {
	var req JSONRPCRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(nil, JSONRPCParseError, "invalid JSON", nil)
	}
	return s.Handle(ctx, &req)
}

func (s *Server) handleInitialize(params json.RawMessage) InitializeResult {
	version := negotiateProtocolVersion(params)

	s.mu.RLock()
	caps := map[string]any{}
	if len(s.tools) > 0 {
		caps["tools"] = map[string]any{}
	}
	if len(s.resources) > 0 || len(s.templates) > 0 {
		caps["resources"] = map[string]any{}
	}
	s.mu.RUnlock()

	s.logger.Info("MCP client initialized", "protocol_version", version)

	return InitializeResult{
		ProtocolVersion: version,
		Capabilities:    caps,
		ServerInfo:      s.info,
		Instructions:    s.instructions,
	}
}

func (s *Server) handleToolsList() MCPListToolsResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := MCPListToolsResult{Tools: make([]MCPToolInfo, len(s.tools))}
	for i, tool := range s.tools {
		result.Tools[i] = MCPToolInfo{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		}
	}

	s.logger.Debug("tools/list", "count", len(result.Tools))
	return result
}

func (s *Server) handleToolsCall(ctx context.Context, raw json.RawMessage) (*MCPCallToolResult, error) {
	var params MCPCallToolParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, InvalidParams("invalid params", err)
		}
	}
	if params.Name == "" {
		return nil, InvalidParams("tool name is required", nil)
	}

	s.mu.RLock()
	tool, ok := s.toolIndex[params.Name]
	s.mu.RUnlock()
	if !ok {
		return nil, InvalidParams("tool not found: "+params.Name, nil)
	}

	args := params.Arguments
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage("{}")
	}

	s.logger.Debug("tools/call", "tool_name", params.Name)

	result, err := tool.Handler(ctx, args)
	if err != nil {
		var rpcErr *Error
		if errors.As(err, &rpcErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		s.logger.Warn("tool execution failed", "tool_name", params.Name, "error", err)
		return ErrorResult(err.Error()), nil
	}
	if result == nil {
		result = &MCPCallToolResult{}
	}
	if result.Content == nil {
		result.Content = []MCPContent{}
	}

	s.logger.Debug("tools/call complete",
		"tool_name", params.Name,
		"is_error", result.IsError,
	)
	return result, nil
}

func (s *Server) handleResourcesList() MCPListResourcesResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := MCPListResourcesResult{Resources: make([]MCPResourceInfo, len(s.resources))}
	for i, r := range s.resources {
		result.Resources[i] = MCPResourceInfo{
			URI:         r.URI,
			Name:        r.Name,
			Description: r.Description,
			MIMEType:    r.MIMEType,
		}
	}
	return result
}

func (s *Server) handleResourceTemplatesList() MCPListResourceTemplatesResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := MCPListResourceTemplatesResult{ResourceTemplates: make([]MCPResourceTemplateInfo, len(s.templates))}
	for i, t := range s.templates {
		result.ResourceTemplates[i] = MCPResourceTemplateInfo{
			URITemplate: t.URITemplate,
			Name:        t.Name,
			Description: t.Description,
			MIMEType:    t.MIMEType,
		}
	}
	return result
}

func (s *Server) handleResourcesRead(ctx context.Context, raw json.RawMessage) (*MCPReadResourceResult, error) {
	var params MCPReadResourceParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, InvalidParams("invalid params", err)
		}
	}
	if params.URI == "" {
		return nil, InvalidParams("resource uri is required", nil)
	}

	read, req, ok := s.lookupResource(params.URI)
	if !ok {
		return nil, &Error{
			Code:    MCPResourceNotFound,
			Message: "resource not found",
			Data:    map[string]any{"uri": params.URI},
		}
	}

	contents, err := read(ctx, req)
	if err != nil {
		return nil, err
	}
	if contents == nil {
		contents = []MCPResourceContents{}
	}
	return &MCPReadResourceResult{Contents: contents}, nil
}

// lookupResource prefers concrete resources over templates.
func (s *Server) lookupResource(uri string) (ResourceReader, ReadRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.resources {
		if r.URI == uri {
			return r.Read, ReadRequest{URI: uri}, true
		}
	}
	for _, t := range s.templates {
		if params, ok := matchTemplate(t.URITemplate, uri); ok {
			return t.Read, ReadRequest{URI: uri, Params: params}, true
		}
	}
	return nil, ReadRequest{}, false
}

// matchTemplate binds {name} placeholders in tmpl against uri. Literal text
// must match exactly and each placeholder captures one non-empty segment
// without '/'.
func matchTemplate(tmpl, uri string) (map[string]string, bool) {
	params := make(map[string]string)
	for len(tmpl) > 0 {
		open := strings.IndexByte(tmpl, '{')
		if open < 0 {
			return params, tmpl == uri
		}
		if !strings.HasPrefix(uri, tmpl[:open]) {
			return nil, false
		}
		uri = uri[open:]
		tmpl = tmpl[open:]

		end := strings.IndexByte(tmpl, '}')
		if end < 0 {
			return nil, false
		}
		name := tmpl[1:end]
		tmpl = tmpl[end+1:]

		// The value runs up to the next literal character of the template.
		stop := len(uri)
		if slash := strings.IndexByte(uri, '/'); slash >= 0 {
			stop = slash
		}
		if len(tmpl) > 0 {
			if i := strings.IndexByte(uri[:stop], tmpl[0]); i >= 0 {
				stop = i
			}
		}
		value := uri[:stop]
		if value == "" {
			return nil, false
		}
		params[name] = value
		uri = uri[stop:]
	}
	return params, uri == ""
}

// errorFor maps a handler error onto a JSON-RPC error response.
func (s *Server) errorFor(id json.RawMessage, method string, err error) *JSONRPCResponse {
	var rpcErr *Error
	switch {
	case errors.As(err, &rpcErr):
		if rpcErr.Code == JSONRPCInvalidParams {
			s.logger.Debug("rejected MCP request", "method", method, "error", err)
		} else {
			s.logger.Warn("MCP request failed", "method", method, "error", err)
		}
		return errorResponse(id, rpcErr.Code, rpcErr.Message, rpcErr.Data)
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn("MCP request timed out", "method", method)
		return errorResponse(id, JSONRPCInternalError, "request timed out", nil)
	case errors.Is(err, context.Canceled):
		s.logger.Info("MCP request cancelled", "method", method)
		return errorResponse(id, JSONRPCInternalError, "request cancelled", nil)
	default:
		s.logger.Warn("MCP request failed", "method", method, "error", err)
		return errorResponse(id, JSONRPCInternalError, err.Error(), nil)
	}
}

func errorResponse(id json.RawMessage, code int, message string, data any) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// TextResult builds a successful tool result with a single text item.
func TextResult(text string) *MCPCallToolResult {
	return &MCPCallToolResult{Content: []MCPContent{{Type: "text", Text: text}}}
}

// ErrorResult builds a tool result reporting an execution failure.
func ErrorResult(text string) *MCPCallToolResult {
	return &MCPCallToolResult{
		Content: []MCPContent{{Type: "text", Text: text}},
		IsError: true,
	}
}

// JSONResult renders v as indented JSON text. Objects are also attached as
// structuredContent.
func JSONResult(v any) (*MCPCallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding tool result: %w", err)
	}
	result := TextResult(string(data))
	if len(data) > 0 && data[0] == '{' {
		result.StructuredContent = json.RawMessage(data)
	}
	return result, nil
}
