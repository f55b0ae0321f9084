// Copyright 2025 Joseph Cumines
//
// MCP server unit tests

package server

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/joeycumines/windowkit/internal/engine"
	"github.com/joeycumines/windowkit/internal/transport"
)

func request(method string, params any) *transport.Message {
	msg := &transport.Message{JSONRPC: "2.0", Method: method, ID: json.RawMessage(`1`)}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			panic(err)
		}
		msg.Params = raw
	}
	return msg
}

func callTool(t *testing.T, s *MCPServer, name string, args any) *ToolResult {
	t.Helper()
	params := map[string]any{"name": name}
	if args != nil {
		params["arguments"] = args
	}
	resp, err := s.handleMessage(request("tools/call", params))
	if err != nil {
		t.Fatalf("handleMessage() error = %v", err)
	}
	if resp == nil {
		t.Fatal("expected a response")
	}
	if resp.Error != nil {
		t.Fatalf("unexpected RPC error: %+v", resp.Error)
	}
	var result ToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("decoding tool result: %v", err)
	}
	return &result
}

func resultText(t *testing.T, result *ToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("tool result has no content")
	}
	return result.Content[0].Text
}

func TestInitialize_CurrentProtocolVersion(t *testing.T) {
	s, _ := newTestServer(t)
	resp, err := s.handleMessage(request("initialize", map[string]any{
		"protocolVersion": mcpProtocolVersionCurrent,
		"clientInfo":      map[string]any{"name": "test-client", "version": "1.0"},
	}))
	if err != nil || resp == nil || resp.Error != nil {
		t.Fatalf("initialize failed: resp=%+v err=%v", resp, err)
	}
	var result struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name string `json:"name"`
		} `json:"serverInfo"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("decoding initialize result: %v", err)
	}
	if result.ProtocolVersion != mcpProtocolVersionCurrent {
		t.Errorf("protocolVersion = %s", result.ProtocolVersion)
	}
	if result.ServerInfo.Name != "windowkit" {
		t.Errorf("serverInfo.name = %s", result.ServerInfo.Name)
	}
}

func TestInitialize_UnsupportedProtocolVersionRejected(t *testing.T) {
	s, _ := newTestServer(t)
	resp, err := s.handleMessage(request("initialize", map[string]any{
		"protocolVersion": "1999-01-01",
	}))
	if err != nil || resp == nil {
		t.Fatalf("unexpected: resp=%+v err=%v", resp, err)
	}
	if resp.Error == nil || resp.Error.Code != transport.ErrCodeInvalidRequest {
		t.Fatalf("expected invalid-request error, got %+v", resp.Error)
	}
}

func TestInitialize_MissingVersionDefaults(t *testing.T) {
	s, _ := newTestServer(t)
	resp, err := s.handleMessage(request("initialize", map[string]any{}))
	if err != nil || resp == nil || resp.Error != nil {
		t.Fatalf("initialize with no version must default: resp=%+v err=%v", resp, err)
	}
}

func TestNotificationsInitialized_NoResponse(t *testing.T) {
	s, _ := newTestServer(t)
	resp, err := s.handleMessage(request("notifications/initialized", nil))
	if err != nil || resp != nil {
		t.Fatalf("notification must produce no response, got resp=%+v err=%v", resp, err)
	}
}

func TestPing(t *testing.T) {
	s, _ := newTestServer(t)
	resp, err := s.handleMessage(request("ping", nil))
	if err != nil || resp == nil || resp.Error != nil {
		t.Fatalf("ping failed: resp=%+v err=%v", resp, err)
	}
	if string(resp.Result) != `{}` {
		t.Errorf("ping result = %s", resp.Result)
	}
}

func TestToolsList_ContainsExpectedTools(t *testing.T) {
	s, _ := newTestServer(t)
	resp, err := s.handleMessage(request("tools/list", nil))
	if err != nil || resp == nil || resp.Error != nil {
		t.Fatalf("tools/list failed: resp=%+v err=%v", resp, err)
	}
	var result struct {
		Tools []struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			InputSchema map[string]any `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("decoding tools list: %v", err)
	}
	names := make(map[string]bool, len(result.Tools))
	for _, tool := range result.Tools {
		names[tool.Name] = true
		if tool.Description == "" {
			t.Errorf("tool %s has no description", tool.Name)
		}
		if tool.InputSchema == nil {
			t.Errorf("tool %s has no input schema", tool.Name)
		}
	}
	for _, want := range []string{
		"list_windows", "get_window", "capture_preview", "refresh_previews",
		"fresh_preview_ids", "focus_window", "minimize_window",
		"unminimize_window", "close_window", "watch_events",
		"list_applications", "frontmost_application", "track_application",
		"untrack_application", "refresh_application", "full_scan",
		"ignore_pid", "unignore_pid", "permission_status",
	} {
		if !names[want] {
			t.Errorf("tools/list missing %s", want)
		}
	}
}

func TestToolsCall_UnknownTool(t *testing.T) {
	s, _ := newTestServer(t)
	resp, err := s.handleMessage(request("tools/call", map[string]any{"name": "no_such_tool"}))
	if err != nil || resp == nil {
		t.Fatalf("unexpected: resp=%+v err=%v", resp, err)
	}
	if resp.Error == nil || resp.Error.Code != transport.ErrCodeMethodNotFound {
		t.Fatalf("expected method-not-found, got %+v", resp.Error)
	}
}

func TestToolsCall_SchemaValidationRejectsBadArgs(t *testing.T) {
	s, _ := newTestServer(t)
	resp, err := s.handleMessage(request("tools/call", map[string]any{
		"name":      "get_window",
		"arguments": map[string]any{"window_id": "not-a-number"},
	}))
	if err != nil || resp == nil {
		t.Fatalf("unexpected: resp=%+v err=%v", resp, err)
	}
	if resp.Error == nil || resp.Error.Code != transport.ErrCodeInvalidParams {
		t.Fatalf("expected invalid-params, got %+v", resp.Error)
	}
}

func TestToolsCall_MissingRequiredFieldRejected(t *testing.T) {
	s, _ := newTestServer(t)
	resp, err := s.handleMessage(request("tools/call", map[string]any{"name": "get_window"}))
	if err != nil || resp == nil {
		t.Fatalf("unexpected: resp=%+v err=%v", resp, err)
	}
	if resp.Error == nil || resp.Error.Code != transport.ErrCodeInvalidParams {
		t.Fatalf("expected invalid-params for missing window_id, got %+v", resp.Error)
	}
}

func TestUnknownMethod(t *testing.T) {
	s, _ := newTestServer(t)
	resp, err := s.handleMessage(request("wat/isthis", nil))
	if err != nil || resp == nil {
		t.Fatalf("unexpected: resp=%+v err=%v", resp, err)
	}
	if resp.Error == nil || resp.Error.Code != transport.ErrCodeMethodNotFound {
		t.Fatalf("expected method-not-found, got %+v", resp.Error)
	}
}

func TestResourcesList(t *testing.T) {
	s, _ := newTestServer(t)
	resp, err := s.handleMessage(request("resources/list", nil))
	if err != nil || resp == nil || resp.Error != nil {
		t.Fatalf("resources/list failed: resp=%+v err=%v", resp, err)
	}
	if !strings.Contains(string(resp.Result), "windows://all") {
		t.Errorf("expected windows://all resource, got %s", resp.Result)
	}
}

func TestResourcesRead_AllAndPerPID(t *testing.T) {
	s, ft := newTestServer(t)
	ft.repo.Store(42, []engine.WindowRecord{{ID: 1, Title: "One"}})
	ft.repo.Store(99, []engine.WindowRecord{{ID: 2, Title: "Two"}})

	resp, err := s.handleMessage(request("resources/read", map[string]any{"uri": "windows://all"}))
	if err != nil || resp == nil || resp.Error != nil {
		t.Fatalf("resources/read failed: resp=%+v err=%v", resp, err)
	}
	if !strings.Contains(string(resp.Result), "One") || !strings.Contains(string(resp.Result), "Two") {
		t.Errorf("expected both windows in windows://all, got %s", resp.Result)
	}

	resp, err = s.handleMessage(request("resources/read", map[string]any{"uri": "windows://42"}))
	if err != nil || resp == nil || resp.Error != nil {
		t.Fatalf("resources/read failed: resp=%+v err=%v", resp, err)
	}
	if !strings.Contains(string(resp.Result), "One") || strings.Contains(string(resp.Result), "Two") {
		t.Errorf("expected only pid 42's window, got %s", resp.Result)
	}

	resp, _ = s.handleMessage(request("resources/read", map[string]any{"uri": "clipboard://current"}))
	if resp == nil || resp.Error == nil {
		t.Fatal("expected error for unknown resource scheme")
	}
}

func TestMarshalEvent(t *testing.T) {
	name, data, err := marshalEvent(engine.Event{
		Kind:     engine.WindowAppeared,
		PID:      42,
		WindowID: 7,
		Record:   engine.WindowRecord{ID: 7, OwnerPID: 42, Title: "New"},
	})
	if err != nil {
		t.Fatalf("marshalEvent() error = %v", err)
	}
	if name != "window-appeared" {
		t.Errorf("name = %s", name)
	}
	var payload eventJSON
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if payload.Window == nil || payload.Window.Title != "New" {
		t.Errorf("expected embedded record, got %+v", payload.Window)
	}

	name, data, err = marshalEvent(engine.Event{Kind: engine.WindowDisappeared, PID: 42, WindowID: 7})
	if err != nil || name != "window-disappeared" {
		t.Fatalf("unexpected: name=%s err=%v", name, err)
	}
	if strings.Contains(string(data), `"window"`) {
		t.Errorf("disappearance must not embed a record: %s", data)
	}
}
