// Copyright 2025 Joseph Cumines

package server

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/joeycumines/windowkit/internal/engine"
)

func TestErrorResult(t *testing.T) {
	result := errorResult("test error")
	if !result.IsError {
		t.Error("expected IsError to be true")
	}
	if len(result.Content) != 1 {
		t.Fatalf("expected 1 content item, got %d", len(result.Content))
	}
	if result.Content[0].Type != "text" {
		t.Errorf("expected type 'text', got %q", result.Content[0].Type)
	}
	if result.Content[0].Text != "test error" {
		t.Errorf("expected text 'test error', got %q", result.Content[0].Text)
	}
}

func TestErrorResultf(t *testing.T) {
	result := errorResultf("window %d missing", 42)
	if !result.IsError {
		t.Error("expected IsError to be true")
	}
	if result.Content[0].Text != "window 42 missing" {
		t.Errorf("unexpected text: %q", result.Content[0].Text)
	}
}

func TestTextResult(t *testing.T) {
	result := textResult("hello")
	if result.IsError {
		t.Error("expected IsError to be false")
	}
	if len(result.Content) != 1 || result.Content[0].Text != "hello" {
		t.Fatalf("unexpected content: %+v", result.Content)
	}
}

func TestTextResultf(t *testing.T) {
	result := textResultf("refreshed %d", 3)
	if result.Content[0].Text != "refreshed 3" {
		t.Errorf("unexpected text: %q", result.Content[0].Text)
	}
}

func TestJSONResult(t *testing.T) {
	result := jsonResult(map[string]any{"count": 2})
	if result.IsError {
		t.Error("expected IsError to be false")
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].Text), &decoded); err != nil {
		t.Fatalf("result text is not JSON: %v", err)
	}
	if decoded["count"] != float64(2) {
		t.Errorf("count = %v, want 2", decoded["count"])
	}
}

func TestImageResult(t *testing.T) {
	result := imageResult("captured", engine.Image{Data: []byte{1, 2}, MimeType: "image/png"})
	if len(result.Content) != 2 {
		t.Fatalf("expected text + image content, got %d items", len(result.Content))
	}
	if result.Content[0].Type != "text" || result.Content[1].Type != "image" {
		t.Errorf("unexpected content types: %s, %s", result.Content[0].Type, result.Content[1].Type)
	}
	if result.Content[1].MimeType != "image/png" {
		t.Errorf("MimeType = %q, want image/png", result.Content[1].MimeType)
	}
	if result.Content[1].Data == "" {
		t.Error("expected base64 image data")
	}
}

func TestBoundsString(t *testing.T) {
	tests := []struct {
		name     string
		bounds   engine.Rect
		expected string
	}{
		{
			name:     "origin",
			bounds:   engine.Rect{X: 0, Y: 0, Width: 100, Height: 100},
			expected: "(0, 0) 100x100",
		},
		{
			name:     "fractional coordinates round",
			bounds:   engine.Rect{X: 100.5, Y: 200.7, Width: 800, Height: 600},
			expected: "(100, 201) 800x600",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := boundsString(tt.bounds); got != tt.expected {
				t.Errorf("boundsString() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestBoundsPositionAndSize(t *testing.T) {
	b := engine.Rect{X: 100, Y: 200, Width: 1920, Height: 1080}
	if got := boundsPosition(b); got != "(100, 200)" {
		t.Errorf("boundsPosition() = %q", got)
	}
	if got := boundsSize(b); got != "1920x1080" {
		t.Errorf("boundsSize() = %q", got)
	}
}

func TestTruncateText(t *testing.T) {
	short := "short"
	if got := truncateText(short); got != short {
		t.Errorf("short text must pass through, got %q", got)
	}
	long := strings.Repeat("x", maxDisplayTextLen+10)
	got := truncateText(long)
	if len(got) != maxDisplayTextLen+3 || !strings.HasSuffix(got, "...") {
		t.Errorf("unexpected truncation: %q", got)
	}
}

func TestFormatEngineError_NilError(t *testing.T) {
	if got := formatEngineError(nil, "list_windows"); got != "" {
		t.Errorf("expected empty string for nil error, got %q", got)
	}
}

func TestFormatEngineError_Sentinels(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantInText string
	}{
		{"permission denied", engine.ErrPermissionDenied, "System Settings"},
		{"cannot complete", engine.ErrCannotComplete, "may have closed"},
		{"timeout", engine.ErrTimeout, "deadline"},
		{"unsupported", engine.ErrUnsupported, "macOS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatEngineError(tt.err, "capture_preview")
			if !strings.Contains(got, "Error in capture_preview") {
				t.Errorf("missing tool context: %q", got)
			}
			if !strings.Contains(got, "Suggestion:") {
				t.Errorf("missing suggestion: %q", got)
			}
			if !strings.Contains(got, tt.wantInText) {
				t.Errorf("expected %q in %q", tt.wantInText, got)
			}
		})
	}
}

func TestFormatEngineError_PlainError(t *testing.T) {
	got := formatEngineError(errors.New("boom"), "full_scan")
	if !strings.Contains(got, "boom") {
		t.Errorf("expected plain error message preserved, got %q", got)
	}
	if strings.Contains(got, "Suggestion:") {
		t.Errorf("plain errors carry no suggestion, got %q", got)
	}
}

func TestParseArgs(t *testing.T) {
	args, err := parseArgs(nil)
	if err != nil || len(args) != 0 {
		t.Fatalf("nil arguments must decode to an empty map, got (%v, %v)", args, err)
	}
	args, err = parseArgs(json.RawMessage(`{"pid": 42}`))
	if err != nil {
		t.Fatalf("parseArgs() error = %v", err)
	}
	if args["pid"] != float64(42) {
		t.Errorf("pid = %v, want 42", args["pid"])
	}
	if _, err := parseArgs(json.RawMessage(`not json`)); err == nil {
		t.Error("expected error for malformed arguments")
	}
}

func TestRequirePID(t *testing.T) {
	if _, err := requirePID(map[string]any{}); err == nil {
		t.Error("expected error for missing pid")
	}
	if _, err := requirePID(map[string]any{"pid": float64(-1)}); err == nil {
		t.Error("expected error for non-positive pid")
	}
	if _, err := requirePID(map[string]any{"pid": float64(1.5)}); err == nil {
		t.Error("expected error for fractional pid")
	}
	pid, err := requirePID(map[string]any{"pid": float64(42)})
	if err != nil || pid != 42 {
		t.Errorf("requirePID() = (%d, %v), want (42, nil)", pid, err)
	}
}

func TestRequireWindowID(t *testing.T) {
	if _, err := requireWindowID(map[string]any{}); err == nil {
		t.Error("expected error for missing window_id")
	}
	if _, err := requireWindowID(map[string]any{"window_id": "seven"}); err == nil {
		t.Error("expected error for non-integer window_id")
	}
	id, err := requireWindowID(map[string]any{"window_id": float64(7)})
	if err != nil || id != 7 {
		t.Errorf("requireWindowID() = (%d, %v), want (7, nil)", id, err)
	}
}

func TestToWindowJSON(t *testing.T) {
	space := int32(3)
	img := engine.Image{Data: []byte{1}}
	rec := engine.WindowRecord{
		ID:            7,
		Title:         "Notes",
		OwnerBundleID: "com.apple.Notes",
		OwnerPID:      42,
		Bounds:        engine.Rect{X: 10, Y: 20, Width: 800, Height: 600},
		IsMinimized:   true,
		DesktopSpace:  &space,
		CachedPreview: &img,
		CreationTime:  time.Unix(1000, 0),
	}
	got := toWindowJSON(rec)
	if got.ID != 7 || got.PID != 42 || got.Title != "Notes" {
		t.Errorf("unexpected identity fields: %+v", got)
	}
	if got.Bounds != "(10, 20) 800x600" {
		t.Errorf("Bounds = %q", got.Bounds)
	}
	if !got.IsMinimized || !got.HasPreview {
		t.Errorf("unexpected flags: %+v", got)
	}
	if got.DesktopSpace == nil || *got.DesktopSpace != 3 {
		t.Errorf("DesktopSpace = %v, want 3", got.DesktopSpace)
	}
	if got.CreatedAt == "" {
		t.Error("expected CreatedAt to be set")
	}
	if got.LastInteraction != "" {
		t.Error("expected empty LastInteraction for zero time")
	}
}

func TestToWindowListJSON_SortsByPIDThenID(t *testing.T) {
	recs := []engine.WindowRecord{
		{ID: 9, OwnerPID: 200},
		{ID: 2, OwnerPID: 100},
		{ID: 1, OwnerPID: 100},
	}
	got := toWindowListJSON(recs)
	if len(got) != 3 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].ID != 1 || got[1].ID != 2 || got[2].ID != 9 {
		t.Errorf("unexpected order: %+v", got)
	}
}

func TestValidateToolInput_RequiredAndTypes(t *testing.T) {
	tools := map[string]*Tool{
		"get_window": {
			Name: "get_window",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"window_id": map[string]interface{}{"type": "integer"},
				},
				"required": []string{"window_id"},
			},
		},
	}
	if resp := validateToolInput("get_window", map[string]any{}, tools); resp == nil {
		t.Error("expected validation failure for missing required field")
	}
	if resp := validateToolInput("get_window", map[string]any{"window_id": "x"}, tools); resp == nil {
		t.Error("expected validation failure for wrong type")
	}
	if resp := validateToolInput("get_window", map[string]any{"window_id": float64(3)}, tools); resp != nil {
		t.Errorf("expected validation success, got %+v", resp.Error)
	}
	if resp := validateToolInput("unknown_tool", map[string]any{}, tools); resp != nil {
		t.Errorf("unknown tools are handled elsewhere, got %+v", resp.Error)
	}
}
