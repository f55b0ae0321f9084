// Copyright 2025 Joseph Cumines
//
// Helper functions for tool handlers

package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/joeycumines/windowkit/internal/engine"
	"github.com/joeycumines/windowkit/internal/transport"
)

// maxDisplayTextLen is the maximum length for text shown in result summaries.
// Longer text is truncated with "..." suffix.
const maxDisplayTextLen = 50

// truncateText truncates text to maxDisplayTextLen characters with "..." suffix if needed.
func truncateText(s string) string {
	if len(s) > maxDisplayTextLen {
		return s[:maxDisplayTextLen] + "..."
	}
	return s
}

// errorResult creates a ToolResult with IsError=true and the given message.
// This reduces boilerplate for error responses across handlers.
func errorResult(msg string) *ToolResult {
	return &ToolResult{
		IsError: true,
		Content: []Content{{Type: "text", Text: msg}},
	}
}

// errorResultf creates a ToolResult with IsError=true and a formatted message.
// This is the sprintf version of errorResult.
func errorResultf(format string, args ...any) *ToolResult {
	return errorResult(fmt.Sprintf(format, args...))
}

// textResult creates a ToolResult with a single text content.
// This reduces boilerplate for simple text responses.
func textResult(text string) *ToolResult {
	return &ToolResult{
		Content: []Content{{Type: "text", Text: text}},
	}
}

// textResultf creates a ToolResult with a formatted text content.
func textResultf(format string, args ...any) *ToolResult {
	return textResult(fmt.Sprintf(format, args...))
}

// jsonResult creates a ToolResult whose single text content is v rendered
// as indented JSON.
func jsonResult(v any) *ToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResultf("failed to encode result: %v", err)
	}
	return textResult(string(data))
}

// imageResult creates a ToolResult carrying a captured preview as base64
// image content, with a short text summary alongside.
func imageResult(summary string, img engine.Image) *ToolResult {
	mime := img.MimeType
	if mime == "" {
		mime = "image/png"
	}
	return &ToolResult{
		Content: []Content{
			{Type: "text", Text: summary},
			{Type: "image", Data: base64.StdEncoding.EncodeToString(img.Data), MimeType: mime},
		},
	}
}

// parseArgs decodes a tool call's raw JSON arguments into a map. A missing
// or empty arguments payload decodes to an empty map.
func parseArgs(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// argInt reads an integer-valued argument. JSON unmarshaling delivers
// numbers as float64; whole-ness is enforced.
func argInt(args map[string]any, key string) (int64, bool, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return 0, false, nil
	}
	f, ok := raw.(float64)
	if !ok || f != float64(int64(f)) {
		return 0, false, fmt.Errorf("field %q must be an integer, got %v", key, raw)
	}
	return int64(f), true, nil
}

// requirePID reads the mandatory "pid" argument.
func requirePID(args map[string]any) (int32, error) {
	v, present, err := argInt(args, "pid")
	if err != nil {
		return 0, err
	}
	if !present {
		return 0, fmt.Errorf("missing required field: pid")
	}
	if v <= 0 {
		return 0, fmt.Errorf("field \"pid\" must be a positive process id, got %d", v)
	}
	return int32(v), nil
}

// requireWindowID reads the mandatory "window_id" argument.
func requireWindowID(args map[string]any) (uint32, error) {
	v, present, err := argInt(args, "window_id")
	if err != nil {
		return 0, err
	}
	if !present {
		return 0, fmt.Errorf("missing required field: window_id")
	}
	if v <= 0 || v > 1<<32-1 {
		return 0, fmt.Errorf("field \"window_id\" must be a positive 32-bit window id, got %d", v)
	}
	return uint32(v), nil
}

func argString(args map[string]any, key string) (string, bool) {
	raw, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}

// windowJSON is the wire shape of one cached window record.
type windowJSON struct {
	ID              uint32 `json:"id"`
	Title           string `json:"title,omitempty"`
	BundleID        string `json:"bundle_id,omitempty"`
	PID             int32  `json:"pid"`
	Bounds          string `json:"bounds"`
	IsMinimized     bool   `json:"is_minimized"`
	IsVisible       bool   `json:"is_visible"`
	IsOwnerHidden   bool   `json:"is_owner_hidden"`
	DesktopSpace    *int32 `json:"desktop_space,omitempty"`
	HasPreview      bool   `json:"has_preview"`
	CreatedAt       string `json:"created_at,omitempty"`
	LastInteraction string `json:"last_interaction,omitempty"`
}

func toWindowJSON(rec engine.WindowRecord) windowJSON {
	out := windowJSON{
		ID:            rec.ID,
		Title:         rec.Title,
		BundleID:      rec.OwnerBundleID,
		PID:           rec.OwnerPID,
		Bounds:        boundsString(rec.Bounds),
		IsMinimized:   rec.IsMinimized,
		IsVisible:     rec.IsVisible,
		IsOwnerHidden: rec.IsOwnerHidden,
		DesktopSpace:  rec.DesktopSpace,
		HasPreview:    rec.HasPreview(),
	}
	if !rec.CreationTime.IsZero() {
		out.CreatedAt = rec.CreationTime.UTC().Format(time.RFC3339)
	}
	if !rec.LastInteractionTime.IsZero() {
		out.LastInteraction = rec.LastInteractionTime.UTC().Format(time.RFC3339)
	}
	return out
}

func toWindowListJSON(recs []engine.WindowRecord) []windowJSON {
	out := make([]windowJSON, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toWindowJSON(rec))
	}
	slices.SortFunc(out, func(a, b windowJSON) int {
		if a.PID != b.PID {
			return int(a.PID - b.PID)
		}
		return int(int64(a.ID) - int64(b.ID))
	})
	return out
}

// boundsString returns a formatted string representation of a window's
// bounds.
func boundsString(b engine.Rect) string {
	return fmt.Sprintf("(%.0f, %.0f) %.0fx%.0f", b.X, b.Y, b.Width, b.Height)
}

// boundsPosition returns a formatted position string from window bounds.
func boundsPosition(b engine.Rect) string {
	return fmt.Sprintf("(%.0f, %.0f)", b.X, b.Y)
}

// boundsSize returns a formatted size string from window bounds.
func boundsSize(b engine.Rect) string {
	return fmt.Sprintf("%.0fx%.0f", b.Width, b.Height)
}

// formatEngineError formats an engine-layer error with context for MCP tool
// responses, mapping the engine's sentinel errors to actionable suggestions
// the way the teacher's gRPC-status formatter mapped codes.Code values.
func formatEngineError(err error, toolName string) string {
	if err == nil {
		return ""
	}

	suggestion := ""
	switch {
	case errors.Is(err, engine.ErrPermissionDenied):
		suggestion = "Ensure accessibility and screen recording permissions are granted in System Settings > Privacy & Security"
	case errors.Is(err, engine.ErrCannotComplete):
		suggestion = "The window or application may have closed; retry discovery for the owning application"
	case errors.Is(err, engine.ErrTimeout):
		suggestion = "The platform call exceeded its deadline; try again or reduce the scope of the request"
	case errors.Is(err, engine.ErrUnsupported):
		suggestion = "This build has no platform backend; the window engine only runs on macOS"
	}

	result := fmt.Sprintf("Error in %s: %s", toolName, err.Error())
	if suggestion != "" {
		result += fmt.Sprintf("\nSuggestion: %s", suggestion)
	}
	return result
}

// engineErrorResult creates a ToolResult with IsError=true and a formatted
// engine error message.
func engineErrorResult(err error, toolName string) *ToolResult {
	return errorResult(formatEngineError(err, toolName))
}

// validateToolInput validates JSON arguments against a tool's InputSchema.
// It checks:
//   - All required fields are present
//   - Field types match the schema (string, number, boolean, integer, array, object)
//   - Enum values are in the allowed set (if enum is specified)
//
// Returns a JSON-RPC error response with ErrCodeInvalidParams (-32602) if validation fails,
// nil if validation passes.
//
// Note: Extra properties not defined in the schema are allowed per JSON-RPC conventions.
func validateToolInput(toolName string, args map[string]any, tools map[string]*Tool) *transport.Message {
	tool, ok := tools[toolName]
	if !ok {
		// Tool not found - this is handled separately, return nil to let caller handle
		return nil
	}

	schema := tool.InputSchema
	if schema == nil {
		// No schema defined - nothing to validate
		return nil
	}

	// Get required fields from schema
	requiredFields := getRequiredFields(schema)

	// Check all required fields are present
	for _, field := range requiredFields {
		if _, exists := args[field]; !exists {
			return invalidParamsError(fmt.Sprintf("missing required field: %s", field))
		}
	}

	// Get properties from schema for type/enum validation
	properties := getSchemaProperties(schema)
	if properties == nil {
		// No properties defined - skip type validation
		return nil
	}

	// Validate each provided argument against its schema
	for fieldName, value := range args {
		propSchema, exists := properties[fieldName]
		if !exists {
			// Extra property not in schema - allowed per JSON-RPC conventions
			continue
		}

		if err := validateFieldValue(fieldName, value, propSchema); err != nil {
			return invalidParamsError(err.Error())
		}
	}

	return nil
}

// invalidParamsError creates a JSON-RPC error response with ErrCodeInvalidParams.
func invalidParamsError(message string) *transport.Message {
	return &transport.Message{
		JSONRPC: "2.0",
		Error: &transport.ErrorObj{
			Code:    transport.ErrCodeInvalidParams,
			Message: message,
		},
	}
}

// getRequiredFields extracts the "required" array from a JSON schema.
func getRequiredFields(schema map[string]any) []string {
	required, ok := schema["required"]
	if !ok {
		return nil
	}

	requiredArr, ok := required.([]string)
	if ok {
		return requiredArr
	}

	// Handle case where required is []interface{} (from JSON unmarshaling)
	requiredIface, ok := required.([]any)
	if !ok {
		return nil
	}

	result := make([]string, 0, len(requiredIface))
	for _, v := range requiredIface {
		if s, ok := v.(string); ok {
			result = append(result, s)
		}
	}
	return result
}

// getSchemaProperties extracts the "properties" map from a JSON schema.
func getSchemaProperties(schema map[string]any) map[string]map[string]any {
	props, ok := schema["properties"]
	if !ok {
		return nil
	}

	propsMap, ok := props.(map[string]any)
	if !ok {
		return nil
	}

	result := make(map[string]map[string]any, len(propsMap))
	for k, v := range propsMap {
		if propSchema, ok := v.(map[string]any); ok {
			result[k] = propSchema
		}
	}
	return result
}

// validateFieldValue validates a single field value against its property schema.
// Returns an error if validation fails.
func validateFieldValue(fieldName string, value any, propSchema map[string]any) error {
	// Skip validation for nil/null values (unless required, which is checked above)
	if value == nil {
		return nil
	}

	// Get expected type from schema
	schemaType, hasType := propSchema["type"].(string)
	if !hasType {
		// No type specified - skip type validation
		return validateEnumValue(fieldName, value, propSchema)
	}

	// Validate type
	if err := validateType(fieldName, value, schemaType); err != nil {
		return err
	}

	// Validate enum if present
	return validateEnumValue(fieldName, value, propSchema)
}

// validateType validates that a value matches the expected JSON Schema type.
// JSON Schema types: string, number, integer, boolean, array, object
func validateType(fieldName string, value any, expectedType string) error {
	switch expectedType {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("field %q must be a string, got %T", fieldName, value)
		}
	case "number":
		// JSON numbers can be float64 or json.Number; integers are also valid numbers
		if !isNumber(value) {
			return fmt.Errorf("field %q must be a number, got %T", fieldName, value)
		}
	case "integer":
		// Integers must be whole numbers
		if !isInteger(value) {
			return fmt.Errorf("field %q must be an integer, got %T", fieldName, value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("field %q must be a boolean, got %T", fieldName, value)
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return fmt.Errorf("field %q must be an array, got %T", fieldName, value)
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("field %q must be an object, got %T", fieldName, value)
		}
	default:
		// Unknown type - skip validation
	}
	return nil
}

// isNumber returns true if the value is a valid JSON number (float64 or integer).
func isNumber(value any) bool {
	switch value.(type) {
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	default:
		return false
	}
}

// isInteger returns true if the value is an integer (whole number).
// JSON unmarshaling to interface{} produces float64 for all numbers,
// so we need to check if the float64 is a whole number.
func isInteger(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		// Check if the float64 is a whole number
		return v == float64(int64(v))
	case float32:
		return v == float32(int32(v))
	default:
		return false
	}
}

// validateEnumValue validates that a value is in the allowed enum set.
// Returns nil if no enum is defined or if value is in the allowed set.
func validateEnumValue(fieldName string, value any, propSchema map[string]any) error {
	enumValues, ok := propSchema["enum"]
	if !ok {
		return nil
	}

	// Handle enum as []string (defined in registerTools)
	if enumStrings, ok := enumValues.([]string); ok {
		valueStr, ok := value.(string)
		if !ok {
			// Enum is defined but value is not a string - type mismatch
			return fmt.Errorf("field %q must be a string for enum validation, got %T", fieldName, value)
		}
		if slices.Contains(enumStrings, valueStr) {
			return nil
		}
		return fmt.Errorf("field %q must be one of [%s], got %q", fieldName, strings.Join(enumStrings, ", "), valueStr)
	}

	// Handle enum as []interface{} (from JSON unmarshaling)
	if enumIface, ok := enumValues.([]any); ok {
		for _, allowed := range enumIface {
			if value == allowed {
				return nil
			}
			// Also compare as strings for flexibility
			if valueStr, ok := value.(string); ok {
				if allowedStr, ok := allowed.(string); ok && valueStr == allowedStr {
					return nil
				}
			}
		}
		// Build error message with allowed values
		allowedStrs := make([]string, 0, len(enumIface))
		for _, v := range enumIface {
			allowedStrs = append(allowedStrs, fmt.Sprintf("%v", v))
		}
		return fmt.Errorf("field %q must be one of [%s], got %v", fieldName, strings.Join(allowedStrs, ", "), value)
	}

	return nil
}
