package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"micropython-service/internal/config"
	"micropython-service/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequestIDMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("request_id"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	generated := w.Header().Get(RequestIDHeader)
	require.NotEmpty(t, generated)
	assert.Equal(t, generated, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestRateLimitMiddleware(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := &config.SecurityConfig{RateLimitEnabled: true, RateLimitRequests: 2, RateLimitWindow: time.Hour}
	router := gin.New()
	router.Use(RateLimitMiddleware(ctx, cfg, utils.NewSecurityLogger(zap.NewNop())))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
}

func TestRateLimitDisabled(t *testing.T) {
	router := gin.New()
	router.Use(RateLimitMiddleware(context.Background(), &config.SecurityConfig{}, utils.NewSecurityLogger(zap.NewNop())))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(RecoveryMiddleware(zap.NewNop()))
	router.GET("/", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_SERVER_ERROR")
}

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		allowed string
	}{
		{"any origin", []string{"*"}, "http://tool.local", "*"},
		{"empty list", nil, "http://tool.local", "*"},
		{"listed origin", []string{"http://ide.local"}, "http://ide.local", "http://ide.local"},
		{"unlisted origin", []string{"http://ide.local"}, "http://evil.local", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(CORSMiddleware(&config.SecurityConfig{AllowedOrigins: tt.origins}))
			router.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.allowed, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestLoggingMiddlewareSkipsQuietPaths(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware(utils.NewServiceLogger(zap.New(core), "test"), "/live"))
	router.GET("/live", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/board", func(c *gin.Context) { c.Status(http.StatusConflict) })

	for _, target := range []string{"/live", "/board"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/board", fields["path"])
	assert.NotEmpty(t, fields["request_id"])
}
