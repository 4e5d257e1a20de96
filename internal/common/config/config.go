// Package config provides configuration management for termport.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for termport.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Registry RegistryConfig `mapstructure:"registry"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Host     HostConfig     `mapstructure:"host"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// GatewayConfig holds WebSocket gateway configuration.
type GatewayConfig struct {
	// MaxConnections caps the number of simultaneous open streaming clients.
	MaxConnections int `mapstructure:"maxConnections"`

	// HeartbeatInterval is how often liveness is checked, in seconds.
	HeartbeatInterval int `mapstructure:"heartbeatInterval"`

	// HeartbeatMisses is how many consecutive missed heartbeats force-close
	// a connection.
	HeartbeatMisses int `mapstructure:"heartbeatMisses"`

	// SendBufferSize is the per-connection outbound queue length. When the
	// queue is full the message is dropped for that connection.
	SendBufferSize int `mapstructure:"sendBufferSize"`

	// HandshakeTimeout bounds the upgrade+authentication window, in seconds.
	HandshakeTimeout int `mapstructure:"handshakeTimeout"`
}

// RegistryConfig holds terminal registry configuration.
type RegistryConfig struct {
	// ScrollbackLines is the per-terminal output ring buffer capacity.
	ScrollbackLines int `mapstructure:"scrollbackLines"`
}

// AuthConfig holds API key authentication configuration.
type AuthConfig struct {
	// StoreDir is the directory holding the credential digest file
	// (default: ~/.termport).
	StoreDir string `mapstructure:"storeDir"`

	// KeyName is the name the digest is stored under.
	KeyName string `mapstructure:"keyName"`
}

// HostConfig holds host shell collaborator configuration.
type HostConfig struct {
	// Shell overrides shell detection (empty means detect from $SHELL).
	Shell string `mapstructure:"shell"`

	// WorkDir is the initial working directory for spawned shells.
	WorkDir string `mapstructure:"workDir"`

	Cols int `mapstructure:"cols"`
	Rows int `mapstructure:"rows"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// HeartbeatIntervalDuration returns the heartbeat interval as a time.Duration.
func (g *GatewayConfig) HeartbeatIntervalDuration() time.Duration {
	return time.Duration(g.HeartbeatInterval) * time.Second
}

// HandshakeTimeoutDuration returns the handshake timeout as a time.Duration.
func (g *GatewayConfig) HandshakeTimeoutDuration() time.Duration {
	return time.Duration(g.HandshakeTimeout) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("TERMPORT_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func defaultStoreDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".termport"
	}
	return filepath.Join(home, ".termport")
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8088)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Gateway defaults
	v.SetDefault("gateway.maxConnections", 50)
	v.SetDefault("gateway.heartbeatInterval", 15)
	v.SetDefault("gateway.heartbeatMisses", 3)
	v.SetDefault("gateway.sendBufferSize", 256)
	v.SetDefault("gateway.handshakeTimeout", 10)

	// Registry defaults
	v.SetDefault("registry.scrollbackLines", 1000)

	// Auth defaults
	v.SetDefault("auth.storeDir", defaultStoreDir())
	v.SetDefault("auth.keyName", "api-key")

	// Host defaults
	v.SetDefault("host.shell", "")
	v.SetDefault("host.workDir", "")
	v.SetDefault("host.cols", 80)
	v.SetDefault("host.rows", 24)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "termport")
	v.SetDefault("nats.maxReconnects", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix TERMPORT_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or /etc/termport/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("TERMPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys).
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion.
	_ = v.BindEnv("gateway.maxConnections", "TERMPORT_GATEWAY_MAX_CONNECTIONS")
	_ = v.BindEnv("gateway.heartbeatInterval", "TERMPORT_GATEWAY_HEARTBEAT_INTERVAL")
	_ = v.BindEnv("registry.scrollbackLines", "TERMPORT_REGISTRY_SCROLLBACK_LINES")
	_ = v.BindEnv("auth.storeDir", "TERMPORT_AUTH_STORE_DIR")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/termport/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Gateway.MaxConnections <= 0 {
		errs = append(errs, "gateway.maxConnections must be positive")
	}
	if cfg.Gateway.HeartbeatInterval <= 0 {
		errs = append(errs, "gateway.heartbeatInterval must be positive")
	}
	if cfg.Gateway.HeartbeatMisses <= 0 {
		errs = append(errs, "gateway.heartbeatMisses must be positive")
	}
	if cfg.Gateway.SendBufferSize <= 0 {
		errs = append(errs, "gateway.sendBufferSize must be positive")
	}

	if cfg.Registry.ScrollbackLines <= 0 {
		errs = append(errs, "registry.scrollbackLines must be positive")
	}

	if cfg.Host.Cols <= 0 || cfg.Host.Rows <= 0 {
		errs = append(errs, "host.cols and host.rows must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
