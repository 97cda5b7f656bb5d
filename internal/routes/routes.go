// internal/routes/routes.go
package routes

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"micropython-service/internal/config"
	"micropython-service/internal/handler"
	"micropython-service/internal/middleware"
	"micropython-service/internal/service"
	"micropython-service/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	ctx          context.Context
	config       *config.Config
	logger       *zap.Logger
	boardService *service.BoardService
	wsHandler    *handler.WebSocketHandler
}

// NewRouter creates a new router instance. ctx bounds background work such
// as the rate limiter's janitor.
func NewRouter(
	ctx context.Context,
	config *config.Config,
	logger *zap.Logger,
	boardService *service.BoardService,
) *Router {
	return &Router{
		ctx:          ctx,
		config:       config,
		logger:       logger,
		boardService: boardService,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	r.addMiddleware(router)
	r.addRoutes(router)
	return router
}

// Close disconnects WebSocket clients.
func (r *Router) Close() {
	if r.wsHandler != nil {
		r.wsHandler.Close()
	}
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger, "/live", "/ready"))

	router.Use(middleware.CORSMiddleware(&r.config.Security))
	router.Use(middleware.RateLimitMiddleware(r.ctx, &r.config.Security, utils.NewSecurityLogger(r.logger)))

	r.logger.Info("Middleware configured",
		zap.Bool("rate_limit", r.config.Security.RateLimitEnabled),
	)
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	r.wsHandler = handler.NewWebSocketHandler(r.boardService, r.config.Security.AllowedOrigins, r.logger)
	boardHandler := handler.NewBoardHandler(r.boardService, r.logger)
	healthHandler := handler.NewHealthHandler(r.boardService, r.wsHandler, r.config, r.logger)

	r.addHealthRoutes(router, healthHandler)

	apiV1 := router.Group("/api/v1")
	apiV1.GET("/ports", boardHandler.ListPorts)
	r.addBoardRoutes(apiV1, boardHandler)

	r.addWebSocketRoutes(router, r.wsHandler)
	r.addDocumentationRoutes(router)

	r.logger.Info("All routes configured successfully")
}

// addHealthRoutes sets up health check routes
func (r *Router) addHealthRoutes(router *gin.Engine, handler *handler.HealthHandler) {
	health := router.Group("")
	{
		health.GET("/health", handler.HealthCheck)
		health.GET("/health/board", handler.BoardHealthCheck)
		health.GET("/ready", handler.ReadinessCheck)
		health.GET("/live", handler.LivenessCheck)
	}
}

// addBoardRoutes sets up board control and file routes
func (r *Router) addBoardRoutes(api *gin.RouterGroup, boardHandler *handler.BoardHandler) {
	board := api.Group("/board")
	{
		board.POST("/connect", boardHandler.Connect)
		board.POST("/disconnect", boardHandler.Disconnect)
		board.GET("/status", boardHandler.Status)

		board.POST("/exec", boardHandler.Exec)
		board.POST("/interrupt", boardHandler.Interrupt)
		board.POST("/stop", boardHandler.Stop)
		board.POST("/reset", boardHandler.Reset)

		board.GET("/files", boardHandler.ReadFile)
		board.PUT("/files", boardHandler.WriteFile)
		board.DELETE("/files", boardHandler.DeleteFile)
		board.GET("/dirs", boardHandler.ListDir)
		board.POST("/dirs", boardHandler.MakeDir)
		board.POST("/rename", boardHandler.Rename)
	}
}

// addWebSocketRoutes sets up WebSocket routes
func (r *Router) addWebSocketRoutes(router *gin.Engine, handler *handler.WebSocketHandler) {
	ws := router.Group("/ws")
	{
		ws.GET("/exec", handler.HandleExecConnection)
	}
}

// addDocumentationRoutes sets up documentation routes
func (r *Router) addDocumentationRoutes(router *gin.Engine) {
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))

	router.GET("/docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})
}
