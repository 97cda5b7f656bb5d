// internal/utils/logger.go
package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"micropython-service/internal/config"
)

const defaultLogFile = "./logs/mpy.log"

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg *config.LoggingConfig) (*zap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	sink, err := openSink(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	encoderConfig := newEncoderConfig(cfg.Format)
	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, sink, level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

func newEncoderConfig(format string) zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "timestamp"
	ec.MessageKey = "message"
	ec.EncodeCaller = zapcore.ShortCallerEncoder

	if format == "console" {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		ec.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	} else {
		ec.EncodeLevel = zapcore.LowercaseLevelEncoder
		ec.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339Nano)
	}
	return ec
}

// openSink returns stdout, stderr or a size-rotated file.
func openSink(cfg *config.LoggingConfig) (zapcore.WriteSyncer, error) {
	switch cfg.Output {
	case "stdout", "":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	case "file":
		path := cfg.FilePath
		if path == "" {
			path = defaultLogFile
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.MaxSize, // MB
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge, // days
			Compress:   cfg.Compress,
		}), nil
	default:
		return nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}
}

func parseLevel(name string) (zapcore.Level, error) {
	if name == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(name))); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level: %s", name)
	}
	return level, nil
}

// CloseLogger flushes buffered log entries.
func CloseLogger(logger *zap.Logger) error {
	return logger.Sync()
}

// BoardLogger tags entries with the serial device of the attached board.
type BoardLogger struct {
	*zap.Logger
}

// NewBoardLogger creates a logger for the board on device
func NewBoardLogger(baseLogger *zap.Logger, device string) *BoardLogger {
	return &BoardLogger{
		Logger: baseLogger.With(
			zap.String("device", device),
			zap.String("component", "board"),
		),
	}
}

// LogConnection records an open or close of the serial link.
func (bl *BoardLogger) LogConnection(action string, err error) {
	if err != nil {
		bl.Error("Board connection event",
			zap.String("action", action),
			zap.Bool("success", false),
			zap.Error(err),
		)
		return
	}
	bl.Info("Board connection event",
		zap.String("action", action),
		zap.Bool("success", true),
	)
}

// OperationLogger times one board operation from start to outcome.
type OperationLogger struct {
	logger    *zap.Logger
	startTime time.Time
}

// NewOperationLogger creates an operation-specific logger
func NewOperationLogger(baseLogger *zap.Logger, operationType, operationID string) *OperationLogger {
	return &OperationLogger{
		logger: baseLogger.With(
			zap.String("operation_type", operationType),
			zap.String("operation_id", operationID),
		),
		startTime: time.Now(),
	}
}

// Start logs operation start
func (ol *OperationLogger) Start(fields ...zap.Field) {
	ol.logger.Debug("Operation started", fields...)
}

// Success logs successful operation completion
func (ol *OperationLogger) Success(fields ...zap.Field) {
	fields = append(fields, zap.Duration("duration", time.Since(ol.startTime)))
	ol.logger.Info("Operation completed", fields...)
}

// Error logs operation failure
func (ol *OperationLogger) Error(err error, fields ...zap.Field) {
	fields = append(fields,
		zap.Duration("duration", time.Since(ol.startTime)),
		zap.Error(err),
	)
	ol.logger.Error("Operation failed", fields...)
}

// Warn logs an operation that ended early without a fault.
func (ol *OperationLogger) Warn(reason string, fields ...zap.Field) {
	fields = append(fields,
		zap.Duration("duration", time.Since(ol.startTime)),
		zap.String("reason", reason),
	)
	ol.logger.Warn("Operation ended early", fields...)
}

// Progress logs upload progress in percent
func (ol *OperationLogger) Progress(message string, percent int, fields ...zap.Field) {
	fields = append(fields,
		zap.Int("percent", percent),
		zap.Duration("elapsed", time.Since(ol.startTime)),
	)
	ol.logger.Debug(message, fields...)
}

// ServiceLogger provides service-level logging functionality
type ServiceLogger struct {
	*zap.Logger
}

// NewServiceLogger creates a service-specific logger
func NewServiceLogger(baseLogger *zap.Logger, serviceName string) *ServiceLogger {
	return &ServiceLogger{
		Logger: baseLogger.With(zap.String("service", serviceName)),
	}
}

// LogServiceStart logs service startup
func (sl *ServiceLogger) LogServiceStart(version string, cfg *config.Config) {
	sl.Info("Service starting",
		zap.String("version", version),
		zap.String("environment", cfg.App.Environment),
		zap.String("serial_port", cfg.Serial.Port),
		zap.Int("baud_rate", cfg.Serial.BaudRate),
		zap.String("dialect", cfg.Repl.Dialect),
		zap.String("address", cfg.GetServerAddr()),
	)
}

// LogServiceStop logs service shutdown
func (sl *ServiceLogger) LogServiceStop(reason string) {
	sl.Info("Service stopping", zap.String("reason", reason))
}

// APIRequest describes one served HTTP request.
type APIRequest struct {
	Method    string
	Path      string
	RequestID string
	ClientIP  string
	Status    int
	Duration  time.Duration
}

// LogAPIRequest logs a served request at a level chosen by its status.
func (sl *ServiceLogger) LogAPIRequest(req APIRequest) {
	level := zapcore.InfoLevel
	switch {
	case req.Status >= 500:
		level = zapcore.ErrorLevel
	case req.Status >= 400:
		level = zapcore.WarnLevel
	}

	if ce := sl.Check(level, "API request"); ce != nil {
		ce.Write(
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.String("request_id", req.RequestID),
			zap.String("client_ip", req.ClientIP),
			zap.Int("status_code", req.Status),
			zap.Duration("duration", req.Duration),
		)
	}
}

// SecurityLogger provides security-related logging
type SecurityLogger struct {
	logger *zap.Logger
}

// NewSecurityLogger creates a security-specific logger
func NewSecurityLogger(baseLogger *zap.Logger) *SecurityLogger {
	return &SecurityLogger{
		logger: baseLogger.With(zap.String("component", "security")),
	}
}

// LogRateLimitViolation logs rate limit violations
func (sl *SecurityLogger) LogRateLimitViolation(clientIP, endpoint string, limit int, timeWindow string) {
	sl.logger.Warn("Rate limit violation",
		zap.String("client_ip", clientIP),
		zap.String("endpoint", endpoint),
		zap.Int("limit", limit),
		zap.String("time_window", timeWindow),
	)
}
