// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"micropython-service/internal/fileops"
	"micropython-service/internal/protocol"
	"micropython-service/internal/repl"
)

// EnvPrefix prefixes every environment override, e.g. MPY_SERIAL_PORT.
const EnvPrefix = "MPY"

// Config represents the application configuration
type Config struct {
	Serial   SerialConfig   `mapstructure:"serial"`
	Repl     ReplConfig     `mapstructure:"repl"`
	Transfer TransferConfig `mapstructure:"transfer"`
	Server   ServerConfig   `mapstructure:"server"`
	Security SecurityConfig `mapstructure:"security"`
	Breaker  BreakerConfig  `mapstructure:"breaker"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	App      AppConfig      `mapstructure:"app"`
}

// SerialConfig represents the serial link to the board
type SerialConfig struct {
	Port     string        `mapstructure:"port"`
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	StopBits int           `mapstructure:"stop_bits"`
	Parity   string        `mapstructure:"parity"`
	ReadPoll time.Duration `mapstructure:"read_poll"`
	ListAll  bool          `mapstructure:"list_all"`

	// ReconnectInterval is how often the server retries a lost board; zero
	// disables the watchdog.
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
}

// ReplConfig represents REPL protocol timing
type ReplConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	ExecTimeout  time.Duration `mapstructure:"exec_timeout"`
	PromptSettle time.Duration `mapstructure:"prompt_settle"`
	Dialect      string        `mapstructure:"dialect"`
}

// TransferConfig represents write pacing and file transfer sizes
type TransferConfig struct {
	CommandChunkSize  int           `mapstructure:"command_chunk_size"`
	CommandChunkDelay time.Duration `mapstructure:"command_chunk_delay"`
	UploadChunkSize   int           `mapstructure:"upload_chunk_size"`
	UploadChunkDelay  time.Duration `mapstructure:"upload_chunk_delay"`
	ReadChunkSize     int           `mapstructure:"read_chunk_size"`
	OperationTimeout  time.Duration `mapstructure:"operation_timeout"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	TLS          TLSConfig     `mapstructure:"tls"`
}

// TLSConfig represents TLS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// SecurityConfig represents security configuration
type SecurityConfig struct {
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
	RateLimitEnabled  bool          `mapstructure:"rate_limit_enabled"`
	RateLimitRequests int           `mapstructure:"rate_limit_requests"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window"`
}

// BreakerConfig represents the circuit breaker guarding the board
type BreakerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxFailures uint32        `mapstructure:"max_failures"`
	Interval    time.Duration `mapstructure:"interval"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// Load loads configuration from file and environment variables. An empty
// configFile searches the usual locations; a missing file is not an error
// and leaves the defaults in place.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.mpy")
		v.AddConfigPath("/etc/mpy")
	}

	// Environment variable support
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Serial defaults
	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud_rate", protocol.DefaultBaudRate)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.parity", "none")
	v.SetDefault("serial.read_poll", "100ms")
	v.SetDefault("serial.list_all", false)
	v.SetDefault("serial.reconnect_interval", "5s")

	// REPL defaults
	v.SetDefault("repl.timeout", "5s")
	v.SetDefault("repl.exec_timeout", "0s")
	v.SetDefault("repl.prompt_settle", "150ms")
	v.SetDefault("repl.dialect", repl.DialectTwoEOT.Name)

	// Transfer defaults
	v.SetDefault("transfer.command_chunk_size", repl.DefaultCommandPlan.Size)
	v.SetDefault("transfer.command_chunk_delay", repl.DefaultCommandPlan.Delay.String())
	v.SetDefault("transfer.upload_chunk_size", repl.DefaultUploadPlan.Size)
	v.SetDefault("transfer.upload_chunk_delay", repl.DefaultUploadPlan.Delay.String())
	v.SetDefault("transfer.read_chunk_size", fileops.DefaultReadChunk)
	v.SetDefault("transfer.operation_timeout", "30s")

	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", "8084")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.tls.enabled", false)

	// Security defaults
	v.SetDefault("security.allowed_origins", []string{"http://localhost:3000", "http://127.0.0.1:3000"})
	v.SetDefault("security.rate_limit_enabled", true)
	v.SetDefault("security.rate_limit_requests", 100)
	v.SetDefault("security.rate_limit_window", "1m")

	// Breaker defaults
	v.SetDefault("breaker.enabled", true)
	v.SetDefault("breaker.max_failures", 3)
	v.SetDefault("breaker.interval", "0s")
	v.SetDefault("breaker.timeout", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file_path", "logs/mpy.log")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// App defaults
	v.SetDefault("app.name", "micropython-service")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Serial.BaudRate != protocol.DefaultBaudRate {
		return fmt.Errorf("serial.baud_rate must be %d", protocol.DefaultBaudRate)
	}
	if config.Repl.Timeout <= 0 {
		return fmt.Errorf("repl.timeout must be positive")
	}
	if config.Repl.ExecTimeout < 0 {
		return fmt.Errorf("repl.exec_timeout must not be negative")
	}
	if _, err := repl.DialectByName(config.Repl.Dialect); err != nil {
		return fmt.Errorf("repl.dialect: %w", err)
	}
	if config.Transfer.CommandChunkSize < 1 {
		return fmt.Errorf("transfer.command_chunk_size must be at least 1")
	}
	if config.Transfer.UploadChunkSize < 1 {
		return fmt.Errorf("transfer.upload_chunk_size must be at least 1")
	}
	if config.Transfer.ReadChunkSize < 1 {
		return fmt.Errorf("transfer.read_chunk_size must be at least 1")
	}
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}

	// Validate environment
	validEnvs := []string{"development", "staging", "production", "test"}
	isValidEnv := false
	for _, env := range validEnvs {
		if config.App.Environment == env {
			isValidEnv = true
			break
		}
	}
	if !isValidEnv {
		return fmt.Errorf("app.environment must be one of: %v", validEnvs)
	}

	// Validate logging level
	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	isValidLevel := false
	for _, level := range validLevels {
		if config.Logging.Level == level {
			isValidLevel = true
			break
		}
	}
	if !isValidLevel {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	return nil
}

// ReplSessionConfig builds the settings a repl.Session consumes.
func (c *Config) ReplSessionConfig() repl.Config {
	dialect, _ := repl.DialectByName(c.Repl.Dialect)
	return repl.Config{
		Timeout:      c.Repl.Timeout,
		ExecTimeout:  c.Repl.ExecTimeout,
		PromptSettle: c.Repl.PromptSettle,
		CommandPlan: repl.ChunkPlan{
			Size:  c.Transfer.CommandChunkSize,
			Delay: c.Transfer.CommandChunkDelay,
		},
		Dialect: dialect,
	}
}

// SerialTemplate builds the serial settings every opened port starts from.
func (c *Config) SerialTemplate() protocol.SerialConfig {
	return protocol.SerialConfig{
		Port:     c.Serial.Port,
		BaudRate: c.Serial.BaudRate,
		DataBits: c.Serial.DataBits,
		StopBits: c.Serial.StopBits,
		Parity:   c.Serial.Parity,
		ReadPoll: c.Serial.ReadPoll,
	}
}

// FileOptions builds the file transfer settings.
func (c *Config) FileOptions() fileops.Options {
	return fileops.Options{
		UploadPlan: repl.ChunkPlan{
			Size:  c.Transfer.UploadChunkSize,
			Delay: c.Transfer.UploadChunkDelay,
		},
		ReadChunk: c.Transfer.ReadChunkSize,
		Timeout:   c.Transfer.OperationTimeout,
	}
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment checks if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.IsDevelopment()
}
