// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	_ "micropython-service/docs"
	"micropython-service/internal/config"
	"micropython-service/internal/discovery"
	"micropython-service/internal/protocol"
	"micropython-service/internal/routes"
	"micropython-service/internal/service"
	"micropython-service/internal/utils"
)

// Application represents the main application
type Application struct {
	config *config.Config
	logger *zap.Logger
	server *http.Server
	router *routes.Router

	ctx    context.Context
	cancel context.CancelFunc

	boardService *service.BoardService
}

// @title MicroPython Service API
// @version 1.0.0
// @description HTTP and WebSocket bridge to a MicroPython board over its raw REPL

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8084
// @BasePath /api/v1
func main() {
	var configFile string

	cmd := &cobra.Command{
		Use:           "mpy-server",
		Short:         "Serve a MicroPython board over HTTP and WebSocket",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApplication(configFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			return app.Start()
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "config file (default: ./config.yaml)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewApplication creates a new application instance
func NewApplication(configFile string) (*Application, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, "micropython-service")
	serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	app := &Application{
		config: cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	app.initializeServices()
	app.initializeServer()

	return app, nil
}

// initializeServices creates service instances
func (app *Application) initializeServices() {
	scanner := discovery.NewScanner(app.logger, discovery.WithAllPorts(app.config.Serial.ListAll))
	factory := protocol.SerialFactory(app.config.SerialTemplate(), app.logger)

	app.boardService = service.NewBoardService(
		factory,
		scanner,
		afero.NewOsFs(),
		app.config,
		app.logger,
	)

	app.logger.Info("Services initialized successfully",
		zap.String("port", app.config.Serial.Port),
		zap.String("dialect", app.config.Repl.Dialect),
	)
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() {
	app.router = routes.NewRouter(app.ctx, app.config, app.logger, app.boardService)

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      app.router.SetupRouter(),
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.config.GetServerAddr()),
		zap.Bool("tls_enabled", app.config.Server.TLS.Enabled),
	)
}

// startBackgroundServices starts background services
func (app *Application) startBackgroundServices() {
	if app.config.Serial.Port != "" && app.config.Serial.ReconnectInterval > 0 {
		go app.startBoardWatchdog()
	}

	app.logger.Info("Background services started")
}

// startBoardWatchdog connects the configured board and reopens it after it
// disappears.
func (app *Application) startBoardWatchdog() {
	interval := app.config.Serial.ReconnectInterval
	app.logger.Info("Board watchdog started",
		zap.String("port", app.config.Serial.Port),
		zap.Duration("interval", interval),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		app.checkBoard()

		select {
		case <-ticker.C:
		case <-app.ctx.Done():
			return
		}
	}
}

// checkBoard makes one reconnection attempt if the board is missing
func (app *Application) checkBoard() {
	ctx, cancel := context.WithTimeout(app.ctx, 30*time.Second)
	defer cancel()

	attempted, err := app.boardService.Reconnect(ctx)
	switch {
	case err != nil:
		app.logger.Warn("Board reconnect failed",
			zap.String("port", app.config.Serial.Port),
			zap.Error(err),
		)
	case attempted:
		app.logger.Info("Board reconnected", zap.String("port", app.config.Serial.Port))
	}
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	app.shutdown()
}

// shutdown performs graceful shutdown
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, "micropython-service")
	serviceLogger.LogServiceStop("shutdown signal received")

	app.cancel()
	app.router.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	if err := app.boardService.Close(); err != nil {
		app.logger.Error("Board close error", zap.Error(err))
	} else {
		app.logger.Info("Board connection closed")
	}

	app.logger.Info("Application shutdown completed")

	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Fprintf(os.Stderr, "Logger close error: %v\n", err)
	}
}

// Start runs the HTTP server until a shutdown signal arrives
func (app *Application) Start() error {
	go func() {
		app.logger.Info("Starting HTTP server",
			zap.String("address", app.server.Addr),
		)

		var err error
		if app.config.Server.TLS.Enabled {
			err = app.server.ListenAndServeTLS(
				app.config.Server.TLS.CertFile,
				app.config.Server.TLS.KeyFile,
			)
		} else {
			err = app.server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	app.startBackgroundServices()
	app.waitForShutdown()

	return nil
}
