// Copyright 2025 Joseph Cumines
//
// Application-scoped MCP tools: tracking lifecycle, scans, ignore lists, and
// permission/frontmost queries.

package server

import (
	"context"
	"time"

	"github.com/joeycumines/windowkit/internal/engine"
)

// scanTimeout bounds a single full scan or per-application refresh driven
// through a tool call.
const scanTimeout = 30 * time.Second

// applicationTools returns the application-scoped tool registrations.
func (s *MCPServer) applicationTools() []*Tool {
	return []*Tool{
		{
			Name:        "list_applications",
			Description: "List the applications the tracker currently holds windows for, with pid, bundle id, and window counts.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
			Handler: s.handleListApplications,
		},
		{
			Name:        "frontmost_application",
			Description: "Return the application most recently activated by the user.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
			Handler: s.handleFrontmostApplication,
		},
		{
			Name:        "track_application",
			Description: "Start tracking an application: run discovery for its windows and subscribe to its accessibility notifications. Returns the discovered windows.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"pid": map[string]interface{}{
						"type":        "integer",
						"description": "Process id of the application",
					},
					"bundle_id": map[string]interface{}{
						"type":        "string",
						"description": "Bundle identifier recorded on the application's windows",
					},
				},
				"required": []string{"pid"},
			},
			Handler: s.handleTrackApplication,
		},
		{
			Name:        "untrack_application",
			Description: "Stop tracking an application and drop its cached windows.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"pid": map[string]interface{}{
						"type":        "integer",
						"description": "Process id of the application",
					},
				},
				"required": []string{"pid"},
			},
			Handler: s.handleUntrackApplication,
		},
		{
			Name:        "refresh_application",
			Description: "Re-discover one application's windows and reconcile the cache, pruning windows that disappeared without a notification.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"pid": map[string]interface{}{
						"type":        "integer",
						"description": "Process id of the application",
					},
				},
				"required": []string{"pid"},
			},
			Handler: s.handleRefreshApplication,
		},
		{
			Name:        "full_scan",
			Description: "Re-discover every running regular application and reconcile the whole cache. Returns the merged change report.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
			Handler: s.handleFullScan,
		},
		{
			Name:        "ignore_pid",
			Description: "Exclude a process id from tracking, dropping anything already cached for it.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"pid": map[string]interface{}{
						"type":        "integer",
						"description": "Process id to ignore",
					},
				},
				"required": []string{"pid"},
			},
			Handler: s.handleIgnorePID,
		},
		{
			Name:        "unignore_pid",
			Description: "Re-admit a previously ignored process id to tracking.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"pid": map[string]interface{}{
						"type":        "integer",
						"description": "Process id to re-admit",
					},
				},
				"required": []string{"pid"},
			},
			Handler: s.handleUnignorePID,
		},
		{
			Name:        "permission_status",
			Description: "Report whether the screen-capture permission is currently granted and whether the engine runs headless.",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
			Handler: s.handlePermissionStatus,
		},
	}
}

// applicationJSON is the wire shape of one tracked application.
type applicationJSON struct {
	PID         int32  `json:"pid"`
	BundleID    string `json:"bundle_id,omitempty"`
	Name        string `json:"name,omitempty"`
	WindowCount int    `json:"window_count"`
}

func (s *MCPServer) handleListApplications(call *ToolCall) (*ToolResult, error) {
	apps := s.tracker.TrackedApplications()
	out := make([]applicationJSON, 0, len(apps))
	for _, app := range apps {
		out = append(out, applicationJSON{
			PID:         app.PID,
			BundleID:    app.BundleID,
			Name:        app.Name,
			WindowCount: len(s.tracker.Repository().ReadApplication(app.PID)),
		})
	}
	return jsonResult(map[string]any{"applications": out}), nil
}

func (s *MCPServer) handleFrontmostApplication(call *ToolCall) (*ToolResult, error) {
	app := s.tracker.FrontmostApplication()
	if app.PID == 0 {
		return textResult("No application has been activated yet"), nil
	}
	return jsonResult(applicationJSON{
		PID:         app.PID,
		BundleID:    app.BundleID,
		Name:        app.Name,
		WindowCount: len(s.tracker.Repository().ReadApplication(app.PID)),
	}), nil
}

func (s *MCPServer) handleTrackApplication(call *ToolCall) (*ToolResult, error) {
	args, err := parseArgs(call.Arguments)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	pid, err := requirePID(args)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	bundleID, _ := argString(args, "bundle_id")
	ctx, cancel := context.WithTimeout(s.ctx, scanTimeout)
	defer cancel()
	records, err := s.tracker.TrackApplication(ctx, engine.RunningApp{PID: pid, BundleID: bundleID})
	if err != nil {
		return engineErrorResult(err, "track_application"), nil
	}
	return jsonResult(map[string]any{
		"pid":     pid,
		"windows": toWindowListJSON(records),
	}), nil
}

func (s *MCPServer) handleUntrackApplication(call *ToolCall) (*ToolResult, error) {
	args, err := parseArgs(call.Arguments)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	pid, err := requirePID(args)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	report := s.tracker.UntrackApplication(pid)
	return textResultf("Stopped tracking pid %d (%d window(s) removed)", pid, len(report.Removed)), nil
}

func (s *MCPServer) handleRefreshApplication(call *ToolCall) (*ToolResult, error) {
	args, err := parseArgs(call.Arguments)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	pid, err := requirePID(args)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	ctx, cancel := context.WithTimeout(s.ctx, scanTimeout)
	defer cancel()
	report, err := s.tracker.RefreshApplication(ctx, pid)
	if err != nil {
		return engineErrorResult(err, "refresh_application"), nil
	}
	return jsonResult(changeReportJSON(report)), nil
}

func (s *MCPServer) handleFullScan(call *ToolCall) (*ToolResult, error) {
	ctx, cancel := context.WithTimeout(s.ctx, scanTimeout)
	defer cancel()
	report, err := s.tracker.FullScan(ctx)
	if err != nil {
		return engineErrorResult(err, "full_scan"), nil
	}
	return jsonResult(changeReportJSON(report)), nil
}

// changeReportJSON renders a ChangeReport for tool output.
func changeReportJSON(report engine.ChangeReport) map[string]any {
	removed := report.Removed
	if removed == nil {
		removed = []uint32{}
	}
	return map[string]any{
		"added":    toWindowListJSON(report.Added),
		"removed":  removed,
		"modified": toWindowListJSON(report.Modified),
	}
}

func (s *MCPServer) handleIgnorePID(call *ToolCall) (*ToolResult, error) {
	args, err := parseArgs(call.Arguments)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	pid, err := requirePID(args)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	s.tracker.IgnorePID(pid)
	return textResultf("Ignoring pid %d", pid), nil
}

func (s *MCPServer) handleUnignorePID(call *ToolCall) (*ToolResult, error) {
	args, err := parseArgs(call.Arguments)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	pid, err := requirePID(args)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	s.tracker.UnignorePID(pid)
	return textResultf("Re-admitted pid %d to tracking", pid), nil
}

func (s *MCPServer) handlePermissionStatus(call *ToolCall) (*ToolResult, error) {
	return jsonResult(map[string]any{
		"screen_capture_granted": s.tracker.PermissionGranted(),
		"headless":               s.cfg.Headless,
	}), nil
}
