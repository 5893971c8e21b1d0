package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORSAllowedOrigin(t *testing.T) {
	next := &captureHandler{}
	h := CORS([]string{"https://app.carbex.eu"})(next)

	r := httptest.NewRequest(http.MethodGet, "/api/market/reference-prices", nil)
	r.Header.Set("Origin", "https://app.carbex.eu")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.carbex.eu" {
		t.Fatalf("allow origin = %q", got)
	}
	if !next.called {
		t.Fatal("next should run for non-preflight requests")
	}
}

func TestCORSDisallowedOrigin(t *testing.T) {
	h := CORS([]string{"https://app.carbex.eu"})(&captureHandler{})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("disallowed origin should get no CORS headers, got %q", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	next := &captureHandler{}
	h := CORS(nil)(next)

	r := httptest.NewRequest(http.MethodOptions, "/api/cash-market/orders", nil)
	r.Header.Set("Origin", "https://app.carbex.eu")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if next.called {
		t.Fatal("preflight should not reach the handler")
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got == "" {
		t.Fatal("preflight should carry the allow-headers list")
	}
}

func TestCORSWildcard(t *testing.T) {
	h := CORS([]string{"*"})(&captureHandler{})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://anything.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://anything.example.com" {
		t.Fatalf("wildcard should echo the origin, got %q", got)
	}
}
