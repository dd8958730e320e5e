package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func TestInitUsesLogLevelFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")

	l, err := Init()
	if err != nil {
		t.Fatalf("Init() returned error: %v", err)
	}
	if l == nil {
		t.Fatalf("Init() returned nil logger")
	}
	if !l.Core().Enabled(zap.DebugLevel) {
		t.Fatalf("expected debug level to be enabled")
	}
}

func TestNewFallsBackToInfo(t *testing.T) {
	l, err := New("shouting")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if l.Core().Enabled(zap.DebugLevel) {
		t.Fatalf("expected debug disabled for unknown level")
	}
	if !l.Core().Enabled(zap.InfoLevel) {
		t.Fatalf("expected info enabled")
	}
}

func TestMiddlewareSetsCorrelationID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Middleware())
	r.GET("/ping", func(c *gin.Context) {
		id := CorrelationID(c)
		if id == "" {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		if FromContext(c, nil) == nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusOK)
	})

	req, _ := http.NewRequest(http.MethodGet, "/ping", nil)
	rr := httptest.NewRecorder()

	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if rr.Header().Get(CorrelationIDHeader) == "" {
		t.Fatalf("expected %s header to be set", CorrelationIDHeader)
	}
}

func TestMiddlewareReusesIncomingCorrelationID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Middleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, CorrelationID(c)) })

	req, _ := http.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(CorrelationIDHeader, "abc-123")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Body.String() != "abc-123" {
		t.Fatalf("expected incoming id to be reused, got %q", rr.Body.String())
	}
}
