package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestNew_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("production", &buf)
	l.Info("token acquired", "access_token", "eyJhbGciOi", "call_sid", "CA1")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if line["access_token"] != redacted {
		t.Fatalf("expected token redacted, got %v", line["access_token"])
	}
	if line["call_sid"] != "CA1" {
		t.Fatalf("expected call_sid kept, got %v", line["call_sid"])
	}
}

func TestMiddleware_PropagatesRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	l := NewWithWriter("dev", &buf)

	r := gin.New()
	r.Use(Middleware(l))
	r.GET("/x", func(c *gin.Context) {
		From(c.Request.Context()).Info("inside")
		c.Status(http.StatusNotFound)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(headerRequestID, "rid-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Header().Get(headerRequestID) != "rid-1" {
		t.Fatalf("expected request id echoed")
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %s", len(lines), buf.String())
	}
	for _, raw := range lines {
		var line map[string]any
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if line["request_id"] != "rid-1" {
			t.Fatalf("expected request_id on every line, got %v", line)
		}
	}
	var summary map[string]any
	_ = json.Unmarshal([]byte(lines[1]), &summary)
	if summary["level"] != "WARN" {
		t.Fatalf("expected 4xx logged at WARN, got %v", summary["level"])
	}
}

func TestOr_FallsBack(t *testing.T) {
	fallback := NewWithWriter("dev", &bytes.Buffer{})
	if Or(context.Background(), fallback) != fallback {
		t.Fatalf("expected fallback logger")
	}
}
