package log

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARN ", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{"nonsense", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCtx_FallsBackToGlobal(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf)
	ctx := WithLogger(context.Background(), l)

	Ctx(ctx).Info().Msg("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("context logger not used, got %q", buf.String())
	}

	// no logger stored: must not panic
	Ctx(context.Background()).Debug().Msg("ignored")
}

func TestL_ChainsLevelMethods(t *testing.T) {
	var buf bytes.Buffer
	saved := global
	global = zerolog.New(&buf)
	defer func() { global = saved }()

	L().Info().Str(FieldUserID, "u1").Msg("chained")
	if !strings.Contains(buf.String(), `"user_id":"u1"`) {
		t.Errorf("global logger not used, got %q", buf.String())
	}

	ctxLogger := Ctx(context.Background())
	if ctxLogger != L() {
		t.Error("Ctx without a stored logger should return the global logger")
	}
}

func TestGinMiddleware_RequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	r := gin.New()
	r.Use(GinMiddleware(zerolog.New(&buf)))
	r.GET("/ping", func(c *gin.Context) {
		c.Set(FieldUserID, "u1")
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(headerRequestID, "req-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if got := w.Header().Get(headerRequestID); got != "req-1" {
		t.Errorf("X-Request-ID = %q, want req-1", got)
	}
	out := buf.String()
	for _, want := range []string{`"request_id":"req-1"`, `"user_id":"u1"`, `"status":204`} {
		if !strings.Contains(out, want) {
			t.Errorf("log line missing %s: %s", want, out)
		}
	}
}
