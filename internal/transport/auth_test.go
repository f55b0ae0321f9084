// Copyright 2025 Joseph Cumines
//
// Bearer-token authentication tests for the HTTP transport

package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// authedTransport builds a transport requiring token, with the tool-call
// handler stubbed so authenticated requests can be told apart from rejected
// ones.
func authedTransport(token string) *HTTPTransport {
	tr := NewHTTPTransport(&HTTPTransportConfig{APIKey: token})
	tr.handler = func(msg *Message) (*Message, error) {
		return &Message{JSONRPC: "2.0", ID: msg.ID, Result: []byte(`{}`)}, nil
	}
	return tr
}

// doAuthed sends a request through the transport's full middleware chain.
func doAuthed(tr *HTTPTransport, method, path, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(`{"jsonrpc":"2.0","method":"ping","id":1}`))
	req.RemoteAddr = "10.0.0.1:5555"
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	tr.server.Handler.ServeHTTP(w, req)
	return w
}

func TestAuth_DisabledWhenNoTokenConfigured(t *testing.T) {
	tr := authedTransport("")
	if tr.IsAuthEnabled() {
		t.Fatal("IsAuthEnabled() = true with no token")
	}
	if w := doAuthed(tr, "POST", "/message", ""); w.Code != http.StatusOK {
		t.Errorf("unauthenticated request with auth disabled: status = %d, want 200", w.Code)
	}
}

func TestAuth_ValidTokenAccepted(t *testing.T) {
	tr := authedTransport("tok-123")
	if !tr.IsAuthEnabled() {
		t.Fatal("IsAuthEnabled() = false with a token configured")
	}
	if w := doAuthed(tr, "POST", "/message", "Bearer tok-123"); w.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200, body %q", w.Code, w.Body.String())
	}
}

func TestAuth_RejectsMissingWrongAndMalformed(t *testing.T) {
	tr := authedTransport("tok-123")
	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong token", "Bearer not-the-token"},
		{"token is a prefix", "Bearer tok-12"},
		{"token has a suffix", "Bearer tok-1234"},
		{"wrong scheme", "Basic tok-123"},
		{"bare token without scheme", "tok-123"},
		{"case-sensitive token", "Bearer TOK-123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doAuthed(tr, "POST", "/message", tt.header)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
		})
	}
}

func TestAuth_HealthEndpointExempt(t *testing.T) {
	tr := authedTransport("tok-123")
	if w := doAuthed(tr, "GET", "/health", ""); w.Code != http.StatusOK {
		t.Errorf("/health without auth: status = %d, want 200", w.Code)
	}
}

func TestAuth_PreflightExempt(t *testing.T) {
	// Browsers never attach Authorization to a CORS preflight; it must
	// reach the CORS middleware and succeed without credentials.
	tr := authedTransport("tok-123")
	w := doAuthed(tr, "OPTIONS", "/message", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("preflight response missing CORS headers")
	}
}

func TestAuth_ProtectsEveryOtherEndpoint(t *testing.T) {
	tr := authedTransport("tok-123")
	for _, path := range []string{"/message", "/metrics", "/ws"} {
		w := doAuthed(tr, "GET", path, "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s without auth: status = %d, want 401", path, w.Code)
		}
	}
}

func TestAuth_MetricsWithTokenAccepted(t *testing.T) {
	tr := authedTransport("tok-123")
	w := doAuthed(tr, "GET", "/metrics", "Bearer tok-123")
	if w.Code != http.StatusOK {
		t.Fatalf("/metrics with token: status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "windowkit_tool_calls_total") {
		t.Errorf("expected metrics exposition, got %q", w.Body.String())
	}
}

func TestAuth_ErrorBodyNeverEchoesToken(t *testing.T) {
	tr := authedTransport("tok-123")
	w := doAuthed(tr, "POST", "/message", "Bearer wrong-guess")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	body := w.Body.String()
	if strings.Contains(body, "tok-123") || strings.Contains(body, "wrong-guess") {
		t.Errorf("401 body must not echo tokens, got %q", body)
	}
}
