package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func healthRouter(env *testEnv) *gin.Engine {
	h := NewHealthHandler(env.service, nil, testConfig(), zap.NewNop())
	router := gin.New()
	router.GET("/health", h.HealthCheck)
	router.GET("/health/board", h.BoardHealthCheck)
	router.GET("/ready", h.ReadinessCheck)
	router.GET("/live", h.LivenessCheck)
	return router
}

func get(router *gin.Engine, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)
	router := healthRouter(env)

	w := get(router, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "micropython-service", health.Service)
	assert.Equal(t, false, health.Checks["board"].Data["connected"])
	assert.Equal(t, "Circuit closed", health.Checks["circuit_breaker"].Message)

	assert.Equal(t, http.StatusServiceUnavailable, get(router, "/health/board").Code)
	env.connect(t)
	assert.Equal(t, http.StatusOK, get(router, "/health/board").Code)
}

func TestHealthTurnsUnhealthyWhenBreakerOpens(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t)
	env.board.SetSilent(true)
	router := healthRouter(env)

	assert.Equal(t, http.StatusOK, get(router, "/ready").Code)
	for i := 0; i < 2; i++ {
		env.do(t, http.MethodPost, "/api/v1/board/exec", []byte(`{"code":"print(123)"}`))
	}

	assert.Equal(t, http.StatusServiceUnavailable, get(router, "/health").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(router, "/ready").Code)
	assert.Equal(t, http.StatusOK, get(router, "/live").Code)

	w, resp := env.do(t, http.MethodPost, "/api/v1/board/exec", []byte(`{"code":"print(123)"}`))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "BOARD_UNAVAILABLE", resp.Error.Code)
}
