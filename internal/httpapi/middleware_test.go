package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"campusgrid.org/internal/obs"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequestIDAssignedAndEchoed(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" {
		t.Fatal("expected a generated request id")
	}
	if rec.Header().Get("X-Request-ID") != seen {
		t.Fatalf("header %q does not match context %q", rec.Header().Get("X-Request-ID"), seen)
	}

	// Caller-supplied ids are kept.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if seen != "req-abc" || rec.Header().Get("X-Request-ID") != "req-abc" {
		t.Fatalf("caller request id not preserved: %q", seen)
	}
}

func TestLoggingJSONEmitsStructuredLine(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	h := RequestID(LoggingJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))
	req := httptest.NewRequest(http.MethodGet, "/api/auth/users", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	h.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line not valid JSON: %v (%s)", err, buf.String())
	}
	if entry["msg"] != "request_complete" || entry["level"] != "info" {
		t.Fatalf("unexpected line: %v", entry)
	}
	if entry["method"] != http.MethodGet || entry["path"] != "/api/auth/users" {
		t.Fatalf("request fields missing: %v", entry)
	}
	if entry["status"] != float64(http.StatusTeapot) {
		t.Fatalf("status not recorded: %v", entry["status"])
	}
	if entry["remote_ip"] != "10.0.0.5" {
		t.Fatalf("remote ip not recorded: %v", entry["remote_ip"])
	}
	if entry["request_id"] == "" {
		t.Fatal("request id missing from log line")
	}
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(okHandler(), 2, 1)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1111"

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Fatal("expected Retry-After header")
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("429 body not JSON: %v", err)
	}
	if body["error"] != "rate limit exceeded" {
		t.Fatalf("unexpected body: %v", body)
	}

	// A different client has its own bucket.
	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.RemoteAddr = "10.0.0.2:2222"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Fatalf("second client throttled: %d", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("nosniff missing")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatal("frame options missing")
	}
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	CORS(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatalf("origin not allowed: %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}

	// Non-local origins get no allow header.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	rec = httptest.NewRecorder()
	CORS(okHandler()).ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("foreign origin must not be allowed")
	}
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc123", "abc123", false},
		{"bearer abc123", "abc123", false},
		{"Bearer   abc123  ", "abc123", false},
		{"", "", true},
		{"Basic dXNlcg==", "", true},
		{"Bearer ", "", true},
		{"abc123", "", true},
	}
	for _, tc := range cases {
		got, err := BearerToken(tc.header)
		if tc.wantErr {
			if err == nil {
				t.Errorf("BearerToken(%q): expected error", tc.header)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("BearerToken(%q) = %q, %v; want %q", tc.header, got, err, tc.want)
		}
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:4321"
	if got := ClientIP(req); got != "10.0.0.9" {
		t.Fatalf("ClientIP = %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.9")
	if got := ClientIP(req); got != "203.0.113.7" {
		t.Fatalf("ClientIP with XFF = %q", got)
	}
}
