package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/netip"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"shopfront.io/internal/audit"
)

func TestRateLimitExceeded(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequestID(RateLimit(base, 1, 1))

	req := httptest.NewRequest(http.MethodGet, "/limited", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, req.Clone(context.Background()))
	if rr1.Code != http.StatusOK {
		t.Fatalf("expected first call 200, got %d", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, req.Clone(context.Background()))
	if rr2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr2.Code)
	}
	if rr2.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	var body map[string]any
	if err := json.Unmarshal(rr2.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode rate limit body: %v", err)
	}
	if body["error"] == "" {
		t.Fatalf("expected error message in body")
	}
	if body["request_id"] == "" {
		t.Fatalf("expected request_id in body")
	}

	other := req.Clone(context.Background())
	other.RemoteAddr = "10.0.0.2:1234"
	rr3 := httptest.NewRecorder()
	handler.ServeHTTP(rr3, other)
	if rr3.Code != http.StatusOK {
		t.Fatalf("expected other client to pass, got %d", rr3.Code)
	}
}

func TestRateLimitIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	trusted, err := ParseTrustedProxies([]string{"192.168.0.0/16"})
	if err != nil {
		t.Fatalf("parse proxies: %v", err)
	}
	handler := ClientIP(trusted)(RateLimit(base, 2, 0.001))

	limited := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "203.0.113.9:5555"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited != 48 {
		t.Fatalf("expected 48 rejected requests from one peer, got %d", limited)
	}
}

func TestClientIPResolution(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"192.168.0.0/16", "172.16.0.5"})
	if err != nil {
		t.Fatalf("parse proxies: %v", err)
	}
	cases := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"untrusted peer ignores header", "203.0.113.9:1", "10.0.0.1", "203.0.113.9"},
		{"no header", "192.168.1.1:1", "", "192.168.1.1"},
		{"trusted peer uses last hop", "192.168.1.1:1", "198.51.100.2", "198.51.100.2"},
		{"spoofed leftmost entry skipped", "192.168.1.1:1", "1.1.1.1, 198.51.100.2", "198.51.100.2"},
		{"chained trusted proxies", "192.168.1.1:1", "198.51.100.2, 172.16.0.5", "198.51.100.2"},
		{"garbage hop stops walk", "192.168.1.1:1", "198.51.100.2, not-an-ip", "192.168.1.1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got string
			handler := ClientIP(trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = clientIP(r)
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)
			if got != tc.want {
				t.Fatalf("clientIP=%q, want %q", got, tc.want)
			}
		})
	}
}

func TestParseTrustedProxies(t *testing.T) {
	got, err := ParseTrustedProxies([]string{"10.1.2.3/8", " 127.0.0.1 ", ""})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8"), netip.MustParsePrefix("127.0.0.1/32")}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("unexpected prefixes %v", got)
	}
	if _, err := ParseTrustedProxies([]string{"proxy.local"}); err == nil {
		t.Fatal("expected error for hostname")
	}
}

func TestLoggingJSONEmitsStructuredEntry(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	handler := RequestID(LoggingJSON(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/log-test", nil)
	req.Header.Set("User-Agent", "middleware-test")
	req.RemoteAddr = "127.0.0.1:1234"

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	entries := logs.FilterMessage("request_complete").All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	for _, key := range []string{"request_id", "method", "path", "status", "duration_ms"} {
		if _, ok := fields[key]; !ok {
			t.Fatalf("expected key %q in log entry", key)
		}
	}
	if fields["status"] != int64(http.StatusTeapot) {
		t.Fatalf("unexpected status: %v", fields["status"])
	}
	if fields["request_id"] != rr.Header().Get(requestIDHeader) {
		t.Fatalf("request id mismatch: %v vs %s", fields["request_id"], rr.Header().Get(requestIDHeader))
	}
}

func TestRequestIDPropagatesToAudit(t *testing.T) {
	var gotRID, gotAuditRID string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRID = RequestIDFromContext(r.Context())
		gotAuditRID = audit.RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "req-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if gotRID != "req-123" || gotAuditRID != "req-123" {
		t.Fatalf("request id not propagated: %q %q", gotRID, gotAuditRID)
	}
	if rr.Header().Get(requestIDHeader) != "req-123" {
		t.Fatalf("response header missing request id")
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, strings.Repeat("x", 200))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if len(gotRID) != 36 {
		t.Fatalf("oversized request id should be replaced, got %q", gotRID)
	}
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	for _, h := range []string{"X-Content-Type-Options", "X-Frame-Options", "Content-Security-Policy", "Cache-Control"} {
		if rr.Header().Get(h) == "" {
			t.Fatalf("missing %s", h)
		}
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := map[string]bool{
		"":               false,
		"Bearer":         false,
		"Bearer    ":     false,
		"Basic abc":      false,
		"Bearer abc.def": true,
		"bearer abc.def": true,
	}
	for header, ok := range cases {
		tok, err := extractBearerToken(header)
		if ok && (err != nil || tok != "abc.def") {
			t.Fatalf("header %q: got %q, %v", header, tok, err)
		}
		if !ok && err == nil {
			t.Fatalf("header %q: expected error", header)
		}
	}
}

func TestHealthAndReadiness(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(call{method: http.MethodGet, path: "/healthz"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %d", resp.StatusCode)
	}
	resp = c.do(call{method: http.MethodGet, path: "/readyz"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz: %d", resp.StatusCode)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestReadinessFailure(t *testing.T) {
	c := newTestAPI(t)
	api, err := New(Deps{
		Auth:     c.svc,
		Catalog:  c.catalog,
		Registry: c.registry,
		Ready:    ReadyFunc(func(context.Context) error { return context.DeadlineExceeded }),
	}, Options{})
	if err != nil {
		t.Fatalf("new api: %v", err)
	}
	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
