// Copyright 2025 Joseph Cumines

// Package server implements a Model Context Protocol (MCP) server over the
// windowkit tracking engine. It exposes the tracker's query, discovery,
// preview, and manipulation surface as MCP tools with soft-error semantics
// (isError in ToolResult rather than RPC-level failures), and streams the
// tracker's change events to SSE and websocket subscribers.
//
// The server supports both stdio (for MCP clients like Claude Desktop) and
// HTTP/SSE transports (for web-based integrations), speaking MCP
// specification version 2025-11-25.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/joeycumines/windowkit/internal/config"
	"github.com/joeycumines/windowkit/internal/engine"
	"github.com/joeycumines/windowkit/internal/transport"
)

// shutdownResponseDelay is the delay before shutdown to allow the response
// to be sent.
const shutdownResponseDelay = 100 * time.Millisecond

// Tracker is the engine surface the MCP server drives. engine.Tracker
// satisfies it; tests substitute a fake.
type Tracker interface {
	StartTracking(ctx context.Context) error
	StopTracking()
	TrackApplication(ctx context.Context, app engine.RunningApp) ([]engine.WindowRecord, error)
	UntrackApplication(pid int32) engine.ChangeReport
	RefreshApplication(ctx context.Context, pid int32) (engine.ChangeReport, error)
	FullScan(ctx context.Context) (engine.ChangeReport, error)
	CapturePreview(ctx context.Context, id uint32) (engine.Image, error)
	RefreshPreviews(ctx context.Context, pid int32) (int, error)
	Repository() *engine.Repository
	SubscribeEvents(buffer int) (<-chan engine.Event, func())
	SubscribeProcessEvents(buffer int) (<-chan engine.ProcessEvent, func())
	PermissionGranted() bool
	FrontmostApplication() engine.RunningApp
	TrackedApplications() []engine.RunningApp
	IgnorePID(pid int32)
	UnignorePID(pid int32)
	FocusWindow(id uint32) error
	MinimizeWindow(id uint32, minimized bool) error
	CloseWindow(id uint32) error
}

// MCPServer implements the Model Context Protocol server over a Tracker.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type MCPServer struct {
	tracker       Tracker
	cfg           *config.Config
	auditLogger   *AuditLogger
	httpTransport *transport.HTTPTransport
	log           zerolog.Logger
	ctx           context.Context
	cancel        context.CancelFunc
	tools         map[string]*Tool
	mu            sync.RWMutex
}

// Tool represents an MCP tool with its handler, schema, and metadata.
// Each tool is registered with the server and exposed via the MCP protocol.
//
//lint:ignore BETTERALIGN struct is intentionally ordered for clarity
type Tool struct {
	Handler     func(*ToolCall) (*ToolResult, error)
	InputSchema map[string]interface{}
	Name        string
	Description string
}

// ToolCall represents an incoming MCP tool invocation request.
// It contains the tool name and the JSON-encoded arguments.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult represents the result of an MCP tool invocation.
// It contains one or more content items (text, images) and an optional
// error flag.
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content represents a content item in an MCP tool result.
//
// For type="text":
//   - Text: the text content
//
// For type="image":
//   - Data: base64-encoded image bytes (no data-URI prefix)
//   - MimeType: MIME type (e.g., "image/png", "image/jpeg")
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// MCPInitializeParams represents the params of an MCP initialize request.
// Per MCP spec, clients send protocolVersion, clientInfo, and capabilities.
type MCPInitializeParams struct {
	Capabilities    interface{}   `json:"capabilities"`
	ClientInfo      MCPClientInfo `json:"clientInfo"`
	ProtocolVersion string        `json:"protocolVersion"`
}

// MCPClientInfo represents client information in an initialize request.
type MCPClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Supported MCP protocol versions.
const (
	// mcpProtocolVersionCurrent is the current MCP specification version.
	mcpProtocolVersionCurrent = "2025-11-25"
	// mcpProtocolVersionPrevious is the previous MCP specification version (deprecated).
	mcpProtocolVersionPrevious = "2024-11-05"
)

// NewMCPServer creates an MCP server over tracker with the given
// configuration. It initializes the audit logger and registers all tools;
// the tracker's lifecycle (StartTracking/StopTracking) belongs to the
// caller.
func NewMCPServer(cfg *config.Config, tracker Tracker, logger zerolog.Logger) (*MCPServer, error) {
	ctx, cancel := context.WithCancel(context.Background())

	auditLogger, err := NewAuditLogger(cfg.AuditLogPath)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize audit logger: %w", err)
	}

	s := &MCPServer{
		tracker:     tracker,
		cfg:         cfg,
		auditLogger: auditLogger,
		log:         logger.With().Str("component", "mcp").Logger(),
		ctx:         ctx,
		cancel:      cancel,
		tools:       make(map[string]*Tool),
	}
	s.registerTools()
	return s, nil
}

// registerTools initializes all MCP tool handlers for the server: the
// window-scoped tools (queries, previews, manipulation, event watching) and
// the application-scoped tools (tracking lifecycle, scans, ignore lists,
// permission state).
func (s *MCPServer) registerTools() {
	for _, tool := range s.windowTools() {
		s.tools[tool.Name] = tool
	}
	for _, tool := range s.applicationTools() {
		s.tools[tool.Name] = tool
	}
}

// Shutdown gracefully shuts down the server and releases its resources.
// It closes the HTTP transport and the audit logger; the tracker is the
// caller's to stop.
func (s *MCPServer) Shutdown() {
	s.mu.RLock()
	httpTransport := s.httpTransport
	s.mu.RUnlock()
	if httpTransport != nil {
		if err := httpTransport.Close(); err != nil {
			s.log.Error().Err(err).Msg("closing HTTP transport")
		}
	}
	if s.auditLogger != nil {
		if err := s.auditLogger.Close(); err != nil {
			s.log.Error().Err(err).Msg("closing audit logger")
		}
	}
	s.cancel()
	s.log.Info().Msg("MCP server shut down")
}

// Serve runs the stdio transport until stdin closes or shutdown.
func (s *MCPServer) Serve(tr *transport.StdioTransport) error {
	return tr.Serve(s.handleMessage)
}

// ServeHTTP runs the HTTP/SSE transport, pumping tracker events to
// streaming subscribers for as long as it serves.
func (s *MCPServer) ServeHTTP(tr *transport.HTTPTransport) error {
	s.mu.Lock()
	s.httpTransport = tr
	s.mu.Unlock()

	tr.SetStatsSource(func() (int, int) {
		return len(s.tracker.TrackedApplications()), len(s.tracker.Repository().ReadAll())
	})
	go s.pumpEvents(tr)
	return tr.Serve(s.handleMessage)
}

// pumpEvents forwards the tracker's change events to the transport's SSE
// and websocket subscribers until the server shuts down.
func (s *MCPServer) pumpEvents(tr *transport.HTTPTransport) {
	events, unsubscribe := s.tracker.SubscribeEvents(256)
	defer unsubscribe()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			name, data, err := marshalEvent(ev)
			if err != nil {
				s.log.Error().Err(err).Msg("marshaling event")
				continue
			}
			tr.BroadcastEvent(name, data)
		}
	}
}

// validateAndProcessInitialize validates an initialize request's protocol
// version and returns the capabilities response.
func (s *MCPServer) validateAndProcessInitialize(msg *transport.Message) (*transport.Message, error) {
	var params MCPInitializeParams
	if len(msg.Params) > 0 {
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			// Malformed params - treat as empty and use defaults
			s.log.Warn().Err(err).Msg("initialize params parse error, using defaults")
		}
	}

	protocolVersion := params.ProtocolVersion
	switch protocolVersion {
	case mcpProtocolVersionCurrent:
	case mcpProtocolVersionPrevious:
		s.log.Warn().Str("version", protocolVersion).Msg("client using old protocol version")
	case "":
		protocolVersion = mcpProtocolVersionCurrent
	default:
		return &transport.Message{
			JSONRPC: "2.0",
			ID:      msg.ID,
			Error: &transport.ErrorObj{
				Code:    transport.ErrCodeInvalidRequest,
				Message: fmt.Sprintf("unsupported protocol version: %s; supported versions are %s, %s", protocolVersion, mcpProtocolVersionPrevious, mcpProtocolVersionCurrent),
			},
		}, nil
	}

	clientName := params.ClientInfo.Name
	if clientName == "" {
		clientName = "unknown"
	}
	s.log.Info().
		Str("client", clientName).
		Str("client_version", params.ClientInfo.Version).
		Str("protocol", protocolVersion).
		Msg("MCP client connected")

	return &transport.Message{
		JSONRPC: "2.0",
		ID:      msg.ID,
		Result:  []byte(fmt.Sprintf(`{"protocolVersion":"%s","capabilities":{"tools":{},"resources":{"subscribe":false,"listChanged":false}},"serverInfo":{"name":"windowkit","version":"0.1.0"}}`, mcpProtocolVersionCurrent)),
	}, nil
}

// handleMessage handles a single MCP message; both the stdio and HTTP
// transports route through it. A nil response means the message was a
// notification.
func (s *MCPServer) handleMessage(msg *transport.Message) (*transport.Message, error) {
	switch msg.Method {
	case "initialize":
		return s.validateAndProcessInitialize(msg)

	case "notifications/initialized":
		// Client acknowledgment of successful initialization; no response.
		return nil, nil

	case "ping":
		return &transport.Message{JSONRPC: "2.0", ID: msg.ID, Result: []byte(`{}`)}, nil

	case "shutdown":
		go func() {
			// Delay shutdown slightly to allow the response to be sent.
			time.Sleep(shutdownResponseDelay)
			s.Shutdown()
		}()
		return &transport.Message{JSONRPC: "2.0", ID: msg.ID, Result: []byte(`{}`)}, nil

	case "exit":
		s.Shutdown()
		return nil, nil

	case "tools/list":
		return s.handleToolsList(msg), nil

	case "tools/call":
		return s.handleToolsCall(msg), nil

	case "resources/list":
		return s.handleResourcesList(msg), nil

	case "resources/read":
		return s.handleResourcesRead(msg), nil
	}

	return &transport.Message{
		JSONRPC: "2.0",
		ID:      msg.ID,
		Error: &transport.ErrorObj{
			Code:    transport.ErrCodeMethodNotFound,
			Message: fmt.Sprintf("Method not found: %s", msg.Method),
		},
	}, nil
}

func (s *MCPServer) handleToolsList(msg *transport.Message) *transport.Message {
	s.mu.RLock()
	tools := make([]map[string]interface{}, 0, len(s.tools))
	for _, tool := range s.tools {
		tools = append(tools, map[string]interface{}{
			"name":        tool.Name,
			"description": tool.Description,
			"inputSchema": tool.InputSchema,
		})
	}
	s.mu.RUnlock()

	result, err := json.Marshal(map[string]interface{}{"tools": tools})
	if err != nil {
		return &transport.Message{
			JSONRPC: "2.0",
			ID:      msg.ID,
			Error: &transport.ErrorObj{
				Code:    transport.ErrCodeInternalError,
				Message: "failed to marshal tools list",
			},
		}
	}
	return &transport.Message{JSONRPC: "2.0", ID: msg.ID, Result: result}
}

func (s *MCPServer) handleToolsCall(msg *transport.Message) *transport.Message {
	var params ToolCall
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return &transport.Message{
			JSONRPC: "2.0",
			ID:      msg.ID,
			Error: &transport.ErrorObj{
				Code:    transport.ErrCodeInvalidParams,
				Message: fmt.Sprintf("invalid params: %v", err),
			},
		}
	}

	s.mu.RLock()
	tool, ok := s.tools[params.Name]
	s.mu.RUnlock()
	if !ok {
		return &transport.Message{
			JSONRPC: "2.0",
			ID:      msg.ID,
			Error: &transport.ErrorObj{
				Code:    transport.ErrCodeMethodNotFound,
				Message: fmt.Sprintf("Tool not found: %s", params.Name),
			},
		}
	}

	// Validate tool input against the schema before calling the handler.
	var args map[string]interface{}
	if len(params.Arguments) > 0 {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return &transport.Message{
				JSONRPC: "2.0",
				ID:      msg.ID,
				Error: &transport.ErrorObj{
					Code:    transport.ErrCodeInvalidParams,
					Message: fmt.Sprintf("Invalid arguments JSON: %v", err),
				},
			}
		}
	} else {
		args = make(map[string]interface{})
	}
	s.mu.RLock()
	validationErr := validateToolInput(params.Name, args, s.tools)
	s.mu.RUnlock()
	if validationErr != nil {
		validationErr.ID = msg.ID
		return validationErr
	}

	startTime := time.Now()
	result, err := tool.Handler(&ToolCall{Name: params.Name, Arguments: params.Arguments})
	duration := time.Since(startTime)

	status := "ok"
	if err != nil || (result != nil && result.IsError) {
		status = "error"
	}

	s.mu.RLock()
	httpTransport := s.httpTransport
	s.mu.RUnlock()
	if httpTransport != nil {
		httpTransport.Metrics().RecordToolCall(params.Name, status, duration)
	}
	if s.auditLogger != nil {
		s.auditLogger.LogToolCall(params.Name, params.Arguments, status, duration)
	}

	if err != nil {
		return &transport.Message{
			JSONRPC: "2.0",
			ID:      msg.ID,
			Error: &transport.ErrorObj{
				Code:    transport.ErrCodeInternalError,
				Message: err.Error(),
			},
		}
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return &transport.Message{
			JSONRPC: "2.0",
			ID:      msg.ID,
			Error: &transport.ErrorObj{
				Code:    transport.ErrCodeInternalError,
				Message: "failed to marshal tool result",
			},
		}
	}
	return &transport.Message{JSONRPC: "2.0", ID: msg.ID, Result: resultJSON}
}

func (s *MCPServer) handleResourcesList(msg *transport.Message) *transport.Message {
	resources := []map[string]interface{}{
		{
			"uri":         "windows://all",
			"name":        "All Tracked Windows",
			"description": "Every window record currently in the cache, across all applications",
			"mimeType":    "application/json",
		},
		{
			"uri":         "windows://",
			"name":        "Per-Application Windows Template",
			"description": "Use windows://{pid} to read the cached window records of one application",
			"mimeType":    "application/json",
		},
	}
	result, _ := json.Marshal(map[string]interface{}{"resources": resources})
	return &transport.Message{JSONRPC: "2.0", ID: msg.ID, Result: result}
}

func (s *MCPServer) handleResourcesRead(msg *transport.Message) *transport.Message {
	var params struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return &transport.Message{
			JSONRPC: "2.0",
			ID:      msg.ID,
			Error: &transport.ErrorObj{
				Code:    transport.ErrCodeInvalidParams,
				Message: fmt.Sprintf("invalid params: %v", err),
			},
		}
	}

	content, err := s.readResource(params.URI)
	if err != nil {
		return &transport.Message{
			JSONRPC: "2.0",
			ID:      msg.ID,
			Error: &transport.ErrorObj{
				Code:    transport.ErrCodeInternalError,
				Message: err.Error(),
			},
		}
	}
	result, _ := json.Marshal(map[string]interface{}{
		"contents": []map[string]interface{}{
			{"uri": params.URI, "mimeType": "application/json", "text": content},
		},
	})
	return &transport.Message{JSONRPC: "2.0", ID: msg.ID, Result: result}
}

// readResource resolves a windows:// URI against the cache.
func (s *MCPServer) readResource(uri string) (string, error) {
	const scheme = "windows://"
	if !strings.HasPrefix(uri, scheme) {
		return "", fmt.Errorf("unknown resource URI: %s", uri)
	}
	rest := strings.TrimPrefix(uri, scheme)
	var records []engine.WindowRecord
	switch rest {
	case "all", "":
		records = s.tracker.Repository().ReadAll()
	default:
		pid, err := strconv.ParseInt(rest, 10, 32)
		if err != nil || pid <= 0 {
			return "", fmt.Errorf("invalid pid in resource URI: %s", uri)
		}
		records = s.tracker.Repository().ReadApplication(int32(pid))
	}
	data, err := json.MarshalIndent(map[string]any{"windows": toWindowListJSON(records)}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode resource: %w", err)
	}
	return string(data), nil
}
