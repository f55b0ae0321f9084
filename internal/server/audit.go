// Copyright 2025 Joseph Cumines
//
// Audit trail for MCP tool invocations: one JSON line per call, written
// through the same zerolog stack as the rest of the daemon, to a dedicated
// append-only file so operational logs and the audit record stay separate
// streams.

package server

import (
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AuditLogger records tool invocations with redacted arguments, result
// status, and duration. Disabled (a no-op) when constructed with an empty
// path.
type AuditLogger struct {
	mu      sync.Mutex
	log     zerolog.Logger
	file    *os.File
	enabled bool
	closed  bool
}

// redactedKeys are the argument keys whose values never reach the audit
// file. The tool surface itself carries no credentials, but callers can
// put anything in arguments, and the serving config knows these names.
var redactedKeys = map[string]bool{
	"auth_token":    true,
	"token":         true,
	"api_key":       true,
	"authorization": true,
	"password":      true,
	"secret":        true,
}

// NewAuditLogger creates an audit logger appending to filePath. An empty
// path disables auditing. Returns an error if the file cannot be opened.
func NewAuditLogger(filePath string) (*AuditLogger, error) {
	if filePath == "" {
		return &AuditLogger{}, nil
	}
	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &AuditLogger{
		log:     zerolog.New(file).With().Timestamp().Logger(),
		file:    file,
		enabled: true,
	}, nil
}

// IsEnabled reports whether invocations are being recorded.
func (a *AuditLogger) IsEnabled() bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled && !a.closed
}

// Close closes the audit file. Safe to call repeatedly; logging after
// Close is a no-op rather than a write to a closed file.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.file == nil {
		a.closed = true
		return nil
	}
	a.closed = true
	return a.file.Close()
}

// LogToolCall records one invocation. Sensitive argument values are
// replaced before anything touches the file.
func (a *AuditLogger) LogToolCall(tool string, args json.RawMessage, status string, duration time.Duration) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.enabled || a.closed {
		return
	}
	a.log.Info().
		Str("tool", tool).
		Str("arguments", redactArguments(args)).
		Str("status", status).
		Float64("duration_seconds", duration.Seconds()).
		Msg("tool_invocation")
}

// redactArguments renders args as compact JSON with sensitive values
// replaced by "[REDACTED]". Arguments that do not parse are dropped
// wholesale rather than logged raw.
func redactArguments(args json.RawMessage) string {
	if len(args) == 0 {
		return "{}"
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(args, &decoded); err != nil {
		return `{"_error":"unparseable arguments"}`
	}
	redactMapValues(decoded)
	out, err := json.Marshal(decoded)
	if err != nil {
		return `{"_error":"unserializable arguments"}`
	}
	return string(out)
}

// redactMapValues walks a decoded argument tree, replacing the value of
// every key containing a sensitive name, case-insensitively, at any depth.
func redactMapValues(m map[string]interface{}) {
	for key, value := range m {
		lower := strings.ToLower(key)
		redact := redactedKeys[lower]
		if !redact {
			for sensitive := range redactedKeys {
				if strings.Contains(lower, sensitive) {
					redact = true
					break
				}
			}
		}
		if redact {
			m[key] = "[REDACTED]"
			continue
		}
		switch v := value.(type) {
		case map[string]interface{}:
			redactMapValues(v)
		case []interface{}:
			for _, item := range v {
				if nested, ok := item.(map[string]interface{}); ok {
					redactMapValues(nested)
				}
			}
		}
	}
}
