package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var noop = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

func request(h http.Handler, method, remote, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/api/v1/roles", nil)
	req.RemoteAddr = remote
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiterPerAddress(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	h := rl.Limit(noop)

	for i := 0; i < 2; i++ {
		if rec := request(h, http.MethodGet, "203.0.113.5:4000", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i+1, rec.Code)
		}
	}
	rec := request(h, http.MethodGet, "203.0.113.5:4001", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("burst exceeded: status %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After")
	}
	if rec := request(h, http.MethodGet, "198.51.100.9:4000", ""); rec.Code != http.StatusOK {
		t.Fatalf("other address throttled: status %d", rec.Code)
	}
}

func TestRateLimiterEvictsIdle(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	rl.limiter("203.0.113.5")
	rl.evict(time.Now().Add(rl.idle + time.Second))
	if len(rl.visitors) != 0 {
		t.Fatalf("visitors = %d, want 0", len(rl.visitors))
	}
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.agro.test"})(noop)

	rec := request(h, http.MethodGet, "", "https://app.agro.test")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.agro.test" {
		t.Fatalf("allowed origin = %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("credentials not allowed for listed origin")
	}

	rec = request(h, http.MethodGet, "", "https://evil.test")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unlisted origin echoed: %q", got)
	}

	rec = request(h, http.MethodOptions, "", "https://app.agro.test")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
}

func TestCORSWildcardWithoutCredentials(t *testing.T) {
	h := CORS([]string{"*"})(noop)
	rec := request(h, http.MethodGet, "", "https://anywhere.test")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("origin = %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Fatalf("credentials combined with wildcard")
	}
}
