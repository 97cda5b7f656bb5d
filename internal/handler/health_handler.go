// internal/handler/health_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"micropython-service/internal/config"
	"micropython-service/internal/service"
	"micropython-service/internal/utils"
)

// ConnectionCounter reports live WebSocket clients.
type ConnectionCounter interface {
	GetConnectionStats() *ConnectionStats
}

// HealthHandler handles health check requests
type HealthHandler struct {
	boardService *service.BoardService
	websockets   ConnectionCounter
	config       *config.Config
	logger       *utils.ServiceLogger
	startedAt    time.Time
}

// NewHealthHandler creates a new health handler. websockets may be nil.
func NewHealthHandler(boardService *service.BoardService, websockets ConnectionCounter, config *config.Config, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		boardService: boardService,
		websockets:   websockets,
		config:       config,
		logger:       utils.NewServiceLogger(logger, "health-handler"),
		startedAt:    time.Now(),
	}
}

// HealthCheck performs general health check
// @Summary Health check
// @Description Service status with the board connection and circuit breaker state. A disconnected board is not unhealthy.
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "Service is healthy"
// @Failure 503 {object} HealthResponse "Circuit breaker is open"
// @Router /health [get]
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	health := &HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Service:   h.config.App.Name,
		Version:   h.config.App.Version,
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		Checks:    make(map[string]CheckResult),
	}

	status := h.boardService.Status()
	board := CheckResult{
		Status: "healthy",
		Data: map[string]interface{}{
			"connected": status.Connected,
			"device":    status.Device,
			"mode":      status.Mode,
		},
	}
	if !status.Connected {
		board.Message = "No board connected"
	}
	health.Checks["board"] = board

	if status.Breaker != "" {
		breaker := CheckResult{Status: "healthy", Message: "Circuit " + status.Breaker}
		if status.Breaker == "open" {
			breaker.Status = "unhealthy"
			health.Status = "unhealthy"
		}
		health.Checks["circuit_breaker"] = breaker
	}

	if h.websockets != nil {
		health.Checks["websocket"] = CheckResult{
			Status: "healthy",
			Data: map[string]interface{}{
				"connections": h.websockets.GetConnectionStats().TotalConnections,
			},
		}
	}

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		h.logger.Warn("Health check failed", zap.String("breaker", status.Breaker))
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, health)
}

// BoardHealthCheck reports the board link statistics
// @Summary Board health check
// @Tags Health
// @Produce json
// @Success 200 {object} utils.APIResponse{data=service.BoardStatus} "Board is connected"
// @Failure 503 {object} utils.APIResponse "No board connected"
// @Router /health/board [get]
func (h *HealthHandler) BoardHealthCheck(c *gin.Context) {
	status := h.boardService.Status()
	if !status.Connected {
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "No board connected", service.ErrNotConnected)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Board is connected", status)
}

// ReadinessCheck for Kubernetes readiness probe
// @Summary Readiness check
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Service is ready"
// @Failure 503 {object} object{status=string,reason=string} "Service is not ready"
// @Router /ready [get]
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if h.boardService.Status().Breaker == "open" {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "board circuit open",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

// LivenessCheck for Kubernetes liveness probe
// @Summary Liveness check
// @Tags Health
// @Produce json
// @Success 200 {object} object{status=string,timestamp=string} "Service is alive"
// @Router /live [get]
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents individual check result
type CheckResult struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
