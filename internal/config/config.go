// Package config loads expensebridge settings through viper: defaults, an
// optional YAML config file and EXPENSEBRIDGE_* environment variables.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override,
// e.g. EXPENSEBRIDGE_SERVER_PORT for server.port.
const EnvPrefix = "EXPENSEBRIDGE"

// Config represents the complete expensebridge configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Worker  WorkerConfig  `mapstructure:"worker" yaml:"worker"`
	Relay   RelayConfig   `mapstructure:"relay" yaml:"relay"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig controls the HTTP and WebSocket listener
type ServerConfig struct {
	// Host is the interface to bind (default: "0.0.0.0")
	Host string `mapstructure:"host" yaml:"host"`
	// Port is the listen port (default: 5000, PORT overrides it)
	Port int `mapstructure:"port" yaml:"port"`
	// StaticDir holds index.html and the browser client assets
	StaticDir string `mapstructure:"static_dir" yaml:"static_dir"`
	// AllowedOrigins is checked on WebSocket upgrade and echoed in CORS headers.
	// "*" allows any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	// PingIntervalSeconds is how often the server pings each client
	PingIntervalSeconds int `mapstructure:"ping_interval_seconds" yaml:"ping_interval_seconds"`
	// PongTimeoutSeconds is how long a client may stay silent before it is dropped
	PongTimeoutSeconds int `mapstructure:"pong_timeout_seconds" yaml:"pong_timeout_seconds"`
}

// WorkerConfig controls the per-session worker process
type WorkerConfig struct {
	// Command is the worker argv. Empty means this binary's own worker subcommand.
	Command []string `mapstructure:"command" yaml:"command"`
	// Dir is the worker's working directory (empty inherits the server's)
	Dir string `mapstructure:"dir" yaml:"dir"`
	// DataDir is where the default worker keeps expenses.json and report.yaml
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
}

// RelayConfig controls output relaying
type RelayConfig struct {
	// BacklogLines is how many relayed lines each session keeps in memory
	BacklogLines int `mapstructure:"backlog_lines" yaml:"backlog_lines"`
}

// LoggingConfig controls structured logging
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: "info")
	Level string `mapstructure:"level" yaml:"level"`
	// File is the log file path; empty logs to stderr
	File string `mapstructure:"file" yaml:"file"`
	// MaxSizeMB is the size at which the log file is rotated (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of rotated files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
	// Compress gzips rotated files
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                5000,
			StaticDir:           "static",
			AllowedOrigins:      []string{"*"},
			PingIntervalSeconds: 25,
			PongTimeoutSeconds:  60,
		},
		Worker: WorkerConfig{
			Command: []string{},
			DataDir: "static",
		},
		Relay: RelayConfig{
			BacklogLines: 1000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// PingInterval returns the heartbeat interval as a time.Duration
func (c *ServerConfig) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalSeconds) * time.Second
}

// PongTimeout returns the client silence limit as a time.Duration
func (c *ServerConfig) PongTimeout() time.Duration {
	return time.Duration(c.PongTimeoutSeconds) * time.Second
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Server defaults
	viper.SetDefault("server.host", defaults.Server.Host)
	viper.SetDefault("server.port", defaults.Server.Port)
	viper.SetDefault("server.static_dir", defaults.Server.StaticDir)
	viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)
	viper.SetDefault("server.ping_interval_seconds", defaults.Server.PingIntervalSeconds)
	viper.SetDefault("server.pong_timeout_seconds", defaults.Server.PongTimeoutSeconds)

	// Worker defaults
	viper.SetDefault("worker.command", defaults.Worker.Command)
	viper.SetDefault("worker.dir", defaults.Worker.Dir)
	viper.SetDefault("worker.data_dir", defaults.Worker.DataDir)

	viper.SetDefault("relay.backlog_lines", defaults.Relay.BacklogLines)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.file", defaults.Logging.File)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// BindEnv binds the plain PORT variable to server.port, matching common
// hosting platforms. EXPENSEBRIDGE_SERVER_PORT still takes precedence.
func BindEnv() error {
	return viper.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT")
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "expensebridge")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".expensebridge"
	}
	return filepath.Join(home, ".config", "expensebridge")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
