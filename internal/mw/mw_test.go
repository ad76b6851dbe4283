package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"groupchat/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/time/rate"
)

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("requestID")) })
	return r
}

func TestRequestID(t *testing.T) {
	r := newEngine(RequestID())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	generated := w.Header().Get(RequestIDHeader)
	if generated == "" || w.Body.String() != generated {
		t.Fatalf("generated id %q, body %q", generated, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Fatalf("incoming id not propagated, got %q", got)
	}
}

func TestRateLimit(t *testing.T) {
	r := newEngine(RateLimit(rate.Every(time.Hour), 2, ByIPRoute))
	rejected := metrics.RateLimited.WithLabelValues("/ping")
	before := testutil.ToFloat64(rejected)
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}
	if got := testutil.ToFloat64(rejected) - before; got != 1 {
		t.Fatalf("rate limited counter grew by %v, want 1", got)
	}
}

func TestRateLimitByUserIgnoresIP(t *testing.T) {
	setUser := func(c *gin.Context) {
		if id := c.GetHeader("X-Test-User"); id == "7" {
			c.Set("userID", uint(7))
		}
	}
	r := newEngine(setUser, RateLimit(rate.Every(time.Hour), 1, ByUser))

	send := func(ip, user string) int {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = ip + ":1234"
		if user != "" {
			req.Header.Set("X-Test-User", user)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	if code := send("10.0.0.1", "7"); code != http.StatusOK {
		t.Fatalf("first request: %d", code)
	}
	if code := send("10.0.0.2", "7"); code != http.StatusTooManyRequests {
		t.Fatalf("same user from new IP: %d", code)
	}
	if code := send("10.0.0.2", ""); code != http.StatusOK {
		t.Fatalf("anonymous request keyed by IP: %d", code)
	}
}

func TestLimiterSweepsIdleBuckets(t *testing.T) {
	l := NewLimiter(rate.Every(time.Hour), 1, time.Minute)
	defer l.Stop()
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	l.Allow("a")
	now = now.Add(30 * time.Second)
	l.Allow("b")
	now = now.Add(45 * time.Second)
	if left := l.sweep(); left != 1 {
		t.Fatalf("buckets left = %d, want 1", left)
	}
	// a fresh bucket has its burst back
	if !l.Allow("a") {
		t.Fatal("swept key should start with a full bucket")
	}
	l.Stop()
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		allowed []string
		origin  string
		host    string
		allow   string
	}{
		{"dev allows any origin", "dev", nil, "http://localhost:5173", "api.example.com", "http://localhost:5173"},
		{"prod same host", "prod", nil, "https://chat.example.com", "chat.example.com", "https://chat.example.com"},
		{"prod foreign origin", "prod", nil, "https://evil.example.net", "chat.example.com", ""},
		{"prod allowlisted origin", "prod", []string{"https://App.example.com/"}, "https://app.example.com", "api.example.com", "https://app.example.com"},
		{"prod lookalike host", "prod", nil, "https://chat.example.com.evil.net", "chat.example.com", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newEngine(CORS(tt.env, tt.allowed))
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			req.Host = tt.host
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.allow {
				t.Fatalf("allow origin = %q, want %q", got, tt.allow)
			}
			if w.Code != http.StatusOK {
				t.Fatalf("simple request status = %d", w.Code)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	r := newEngine(CORS("prod", []string{"https://app.example.com"}))
	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
		req.Host = "api.example.com"
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := preflight("https://app.example.com")
	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatalf("allowed preflight: status %d headers %v", w.Code, w.Header())
	}
	if w := preflight("https://evil.example.net"); w.Code != http.StatusForbidden {
		t.Fatalf("foreign preflight: status %d", w.Code)
	}
}
