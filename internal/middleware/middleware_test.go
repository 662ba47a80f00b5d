package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestIDGeneratesWhenMissing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())

	var seenInCtx, seenInGin string
	r.GET("/ping", func(c *gin.Context) {
		seenInCtx = GetRequestID(c.Request.Context())
		seenInGin = GetRequestIDFromGin(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	header := resp.Header().Get(HeaderRequestID)
	if header == "" {
		t.Fatal("expected generated request id in response header")
	}
	if seenInCtx != header || seenInGin != header {
		t.Fatalf("request id mismatch: ctx=%q gin=%q header=%q", seenInCtx, seenInGin, header)
	}
}

func TestRequestIDKeepsUpstreamValue(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/ping", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(HeaderRequestID, "upstream-42")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if got := resp.Header().Get(HeaderRequestID); got != "upstream-42" {
		t.Fatalf("expected upstream request id preserved, got %q", got)
	}
}

func TestAccessLogLevelsByStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)
	r := gin.New()
	r.Use(RequestID(), AccessLog(zap.New(core)))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	for _, path := range []string{"/ok", "/missing", "/boom"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("expected 3 access log entries, got %d", len(entries))
	}
	wantLevels := []zapcore.Level{zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, want := range wantLevels {
		if entries[i].Level != want {
			t.Fatalf("entry %d: expected level %s, got %s", i, want, entries[i].Level)
		}
		fields := entries[i].ContextMap()
		if fields["request_id"] == "" {
			t.Fatalf("entry %d: missing request_id field", i)
		}
	}
}
