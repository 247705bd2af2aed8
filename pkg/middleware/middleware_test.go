package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestLimiter_Allow(t *testing.T) {
	l := NewLimiter(0, 2, time.Minute)
	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("burst of 2 should be allowed")
	}
	if l.Allow("a") {
		t.Error("third call should be limited")
	}
	if !l.Allow("b") {
		t.Error("keys must not share a bucket")
	}
}

func TestLimiter_Sweep(t *testing.T) {
	l := NewLimiter(1, 1, time.Second)
	l.Allow("old")
	l.sweep(time.Now().Add(2 * time.Second))
	if l.Len() != 0 {
		t.Errorf("Len() after sweep = %d, want 0", l.Len())
	}
	l.Allow("x")
	l.Forget("x")
	if l.Len() != 0 {
		t.Errorf("Len() after Forget = %d, want 0", l.Len())
	}
	l.Stop()
	l.Stop()
}

func TestRateLimit_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimit(NewLimiter(0, 1, time.Minute)))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 429]", codes)
	}
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name       string
		env        string
		method     string
		origin     string
		wantStatus int
		wantAllow  string
	}{
		{"dev any origin", "dev", http.MethodGet, "http://ui.local", http.StatusOK, "http://ui.local"},
		{"prod foreign origin", "prod", http.MethodGet, "http://evil.example", http.StatusOK, ""},
		{"prod same host", "prod", http.MethodGet, "http://example.com", http.StatusOK, "http://example.com"},
		{"preflight", "dev", http.MethodOptions, "http://ui.local", http.StatusNoContent, "http://ui.local"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(CORS(tt.env))
			r.Handle(tt.method, "/x", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(tt.method, "http://example.com/x", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
		})
	}
}
