// Copyright 2025 Joseph Cumines
//
// Window-scoped MCP tools: cache queries, preview capture, event watching,
// and manipulation. Every handler reads or drives the tracker; none of them
// mutates the repository directly.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/joeycumines/windowkit/internal/engine"
)

const (
	// defaultWatchDuration is how long watch_events collects when the
	// caller does not say.
	defaultWatchDuration = 2 * time.Second
	// maxWatchDuration bounds a single watch_events call.
	maxWatchDuration = 60 * time.Second
	// captureTimeout bounds a single on-demand preview capture.
	captureTimeout = 15 * time.Second
)

// windowTools returns the window-scoped tool registrations.
func (s *MCPServer) windowTools() []*Tool {
	return []*Tool{
		{
			Name:        "list_windows",
			Description: "List tracked windows. With no arguments returns every window across all applications; filter by pid or bundle_id to scope to one application.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"pid": map[string]interface{}{
						"type":        "integer",
						"description": "Only windows owned by this process id",
					},
					"bundle_id": map[string]interface{}{
						"type":        "string",
						"description": "Only windows owned by applications with this bundle identifier",
					},
				},
			},
			Handler: s.handleListWindows,
		},
		{
			Name:        "get_window",
			Description: "Fetch one tracked window by its compositor window id, including bounds, state flags, and preview freshness.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"window_id": map[string]interface{}{
						"type":        "integer",
						"description": "Compositor window id",
					},
				},
				"required": []string{"window_id"},
			},
			Handler: s.handleGetWindow,
		},
		{
			Name:        "capture_preview",
			Description: "Capture a fresh preview image of a tracked window and return it as base64 image content. The preview is cached for subsequent reads.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"window_id": map[string]interface{}{
						"type":        "integer",
						"description": "Compositor window id",
					},
				},
				"required": []string{"window_id"},
			},
			Handler: s.handleCapturePreview,
		},
		{
			Name:        "refresh_previews",
			Description: "Recapture previews for every window of an application whose cached preview is missing or stale.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"pid": map[string]interface{}{
						"type":        "integer",
						"description": "Owning process id",
					},
				},
				"required": []string{"pid"},
			},
			Handler: s.handleRefreshPreviews,
		},
		{
			Name:        "fresh_preview_ids",
			Description: "List the window ids of an application whose cached previews are still fresh.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"pid": map[string]interface{}{
						"type":        "integer",
						"description": "Owning process id",
					},
				},
				"required": []string{"pid"},
			},
			Handler: s.handleFreshPreviewIDs,
		},
		{
			Name:        "focus_window",
			Description: "Raise a window and make it its application's main window.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"window_id": map[string]interface{}{
						"type":        "integer",
						"description": "Compositor window id",
					},
				},
				"required": []string{"window_id"},
			},
			Handler: s.handleFocusWindow,
		},
		{
			Name:        "minimize_window",
			Description: "Minimize a window to the Dock.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"window_id": map[string]interface{}{
						"type":        "integer",
						"description": "Compositor window id",
					},
				},
				"required": []string{"window_id"},
			},
			Handler: func(call *ToolCall) (*ToolResult, error) {
				return s.handleMinimize(call, true)
			},
		},
		{
			Name:        "unminimize_window",
			Description: "Restore a minimized window from the Dock.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"window_id": map[string]interface{}{
						"type":        "integer",
						"description": "Compositor window id",
					},
				},
				"required": []string{"window_id"},
			},
			Handler: func(call *ToolCall) (*ToolResult, error) {
				return s.handleMinimize(call, false)
			},
		},
		{
			Name:        "close_window",
			Description: "Close a window by pressing its close button. The cache updates when the destruction notification arrives.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"window_id": map[string]interface{}{
						"type":        "integer",
						"description": "Compositor window id",
					},
				},
				"required": []string{"window_id"},
			},
			Handler: s.handleCloseWindow,
		},
		{
			Name:        "watch_events",
			Description: "Collect window change events (appeared, disappeared, changed, preview-captured) for a bounded duration and return them as a batch. Streaming clients should prefer the /events SSE or /ws endpoints.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"duration_ms": map[string]interface{}{
						"type":        "integer",
						"description": "How long to collect, in milliseconds. Default: 2000, max: 60000",
					},
					"pid": map[string]interface{}{
						"type":        "integer",
						"description": "Only events for this process id",
					},
				},
			},
			Handler: s.handleWatchEvents,
		},
	}
}

func (s *MCPServer) handleListWindows(call *ToolCall) (*ToolResult, error) {
	args, err := parseArgs(call.Arguments)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if bundleID, ok := argString(args, "bundle_id"); ok && bundleID != "" {
		return jsonResult(map[string]any{
			"windows": toWindowListJSON(s.tracker.Repository().ReadByBundleID(bundleID)),
		}), nil
	}
	if pidVal, present, err := argInt(args, "pid"); err != nil {
		return errorResult(err.Error()), nil
	} else if present {
		return jsonResult(map[string]any{
			"windows": toWindowListJSON(s.tracker.Repository().ReadApplication(int32(pidVal))),
		}), nil
	}
	return jsonResult(map[string]any{
		"windows": toWindowListJSON(s.tracker.Repository().ReadAll()),
	}), nil
}

func (s *MCPServer) handleGetWindow(call *ToolCall) (*ToolResult, error) {
	args, err := parseArgs(call.Arguments)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	id, err := requireWindowID(args)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	rec, ok := s.tracker.Repository().ReadWindowByID(id)
	if !ok {
		return errorResultf("window %d is not tracked", id), nil
	}
	previewFresh := false
	for _, fresh := range s.tracker.Repository().FreshPreviewIDs(rec.OwnerPID, time.Now()) {
		if fresh == id {
			previewFresh = true
			break
		}
	}
	return jsonResult(map[string]any{
		"window":        toWindowJSON(rec),
		"position":      boundsPosition(rec.Bounds),
		"size":          boundsSize(rec.Bounds),
		"preview_fresh": previewFresh,
	}), nil
}

func (s *MCPServer) handleCapturePreview(call *ToolCall) (*ToolResult, error) {
	args, err := parseArgs(call.Arguments)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	id, err := requireWindowID(args)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	ctx, cancel := context.WithTimeout(s.ctx, captureTimeout)
	defer cancel()
	img, err := s.tracker.CapturePreview(ctx, id)
	if err != nil {
		return engineErrorResult(err, "capture_preview"), nil
	}
	summary := fmt.Sprintf("Captured preview of window %d (%dx%d, %s)", id, img.Width, img.Height, img.MimeType)
	return imageResult(summary, img), nil
}

func (s *MCPServer) handleRefreshPreviews(call *ToolCall) (*ToolResult, error) {
	args, err := parseArgs(call.Arguments)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	pid, err := requirePID(args)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	ctx, cancel := context.WithTimeout(s.ctx, captureTimeout)
	defer cancel()
	n, err := s.tracker.RefreshPreviews(ctx, pid)
	if err != nil {
		return engineErrorResult(err, "refresh_previews"), nil
	}
	return textResultf("Refreshed %d preview(s) for pid %d", n, pid), nil
}

func (s *MCPServer) handleFreshPreviewIDs(call *ToolCall) (*ToolResult, error) {
	args, err := parseArgs(call.Arguments)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	pid, err := requirePID(args)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	ids := s.tracker.Repository().FreshPreviewIDs(pid, time.Now())
	if ids == nil {
		ids = []uint32{}
	}
	return jsonResult(map[string]any{"pid": pid, "fresh_preview_ids": ids}), nil
}

func (s *MCPServer) handleFocusWindow(call *ToolCall) (*ToolResult, error) {
	args, err := parseArgs(call.Arguments)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	id, err := requireWindowID(args)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if err := s.tracker.FocusWindow(id); err != nil {
		return manipulationErrorResult(err, "focus_window"), nil
	}
	return textResultf("Focused window %d", id), nil
}

func (s *MCPServer) handleMinimize(call *ToolCall, minimized bool) (*ToolResult, error) {
	args, err := parseArgs(call.Arguments)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	id, err := requireWindowID(args)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	tool := "minimize_window"
	verb := "Minimized"
	if !minimized {
		tool = "unminimize_window"
		verb = "Restored"
	}
	if err := s.tracker.MinimizeWindow(id, minimized); err != nil {
		return manipulationErrorResult(err, tool), nil
	}
	return textResultf("%s window %d", verb, id), nil
}

func (s *MCPServer) handleCloseWindow(call *ToolCall) (*ToolResult, error) {
	args, err := parseArgs(call.Arguments)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	id, err := requireWindowID(args)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if err := s.tracker.CloseWindow(id); err != nil {
		return manipulationErrorResult(err, "close_window"), nil
	}
	return textResultf("Pressed close on window %d", id), nil
}

// manipulationErrorResult formats a manipulation failure, keeping the typed
// operation context when present.
func manipulationErrorResult(err error, toolName string) *ToolResult {
	var merr *engine.ManipulationError
	if errors.As(err, &merr) {
		return errorResultf("Error in %s: %s of window %d failed: %v", toolName, merr.Op, merr.WindowID, merr.Err)
	}
	return engineErrorResult(err, toolName)
}

// eventJSON is the wire shape of one tracker event in a watch_events batch.
type eventJSON struct {
	Kind     string      `json:"kind"`
	PID      int32       `json:"pid"`
	WindowID uint32      `json:"window_id"`
	Window   *windowJSON `json:"window,omitempty"`
}

func toEventJSON(ev engine.Event) eventJSON {
	out := eventJSON{PID: ev.PID, WindowID: ev.WindowID}
	switch ev.Kind {
	case engine.WindowAppeared:
		out.Kind = "window-appeared"
	case engine.WindowDisappeared:
		out.Kind = "window-disappeared"
	case engine.WindowChanged:
		out.Kind = "window-changed"
	case engine.PreviewCaptured:
		out.Kind = "preview-captured"
	}
	if ev.Kind == engine.WindowAppeared || ev.Kind == engine.WindowChanged {
		w := toWindowJSON(ev.Record)
		out.Window = &w
	}
	return out
}

// marshalEvent renders one event for the streaming transports.
func marshalEvent(ev engine.Event) (name string, data []byte, err error) {
	payload := toEventJSON(ev)
	data, err = json.Marshal(payload)
	return payload.Kind, data, err
}

func (s *MCPServer) handleWatchEvents(call *ToolCall) (*ToolResult, error) {
	args, err := parseArgs(call.Arguments)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	duration := defaultWatchDuration
	if ms, present, err := argInt(args, "duration_ms"); err != nil {
		return errorResult(err.Error()), nil
	} else if present {
		duration = time.Duration(ms) * time.Millisecond
		if duration <= 0 || duration > maxWatchDuration {
			return errorResultf("field \"duration_ms\" must be between 1 and %d", maxWatchDuration/time.Millisecond), nil
		}
	}
	var filterPID int32
	if pid, present, err := argInt(args, "pid"); err != nil {
		return errorResult(err.Error()), nil
	} else if present {
		filterPID = int32(pid)
	}

	ch, unsubscribe := s.tracker.SubscribeEvents(256)
	defer unsubscribe()

	events := []eventJSON{}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return jsonResult(map[string]any{"events": events}), nil
		case <-timer.C:
			return jsonResult(map[string]any{"events": events}), nil
		case ev, ok := <-ch:
			if !ok {
				return jsonResult(map[string]any{"events": events}), nil
			}
			if filterPID != 0 && ev.PID != filterPID {
				continue
			}
			events = append(events, toEventJSON(ev))
		}
	}
}
