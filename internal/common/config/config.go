// Package config provides configuration management for agentwire.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for agentwire.
type Config struct {
	Adapter AdapterConfig `mapstructure:"adapter"`
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// AdapterConfig holds stream-json adapter configuration.
type AdapterConfig struct {
	// CLIPath is the agent binary to spawn (default: "claude").
	CLIPath string `mapstructure:"cliPath"`

	// WorkDir is the working directory for the agent subprocess.
	// Empty means the current directory.
	WorkDir string `mapstructure:"workDir"`

	// Model is passed to the CLI via --model. Empty uses the CLI default.
	Model string `mapstructure:"model"`

	// PermissionMode is passed via --permission-mode
	// (default, acceptEdits, bypassPermissions, plan).
	PermissionMode string `mapstructure:"permissionMode"`

	// InitializeTimeout bounds the initialize handshake (seconds).
	InitializeTimeout int `mapstructure:"initializeTimeout"`

	// ControlTimeout bounds each outbound control request (seconds).
	ControlTimeout int `mapstructure:"controlTimeout"`

	// PartialMessages requests stream_event deltas from the CLI
	// (--include-partial-messages).
	PartialMessages bool `mapstructure:"partialMessages"`

	// AgentsFile points at a YAML file of agent definitions loaded by the
	// host binary. Empty means no custom agents.
	AgentsFile string `mapstructure:"agentsFile"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// TracingConfig holds OpenTelemetry configuration.
type TracingConfig struct {
	// Enabled turns span export on. The OTLP endpoint is taken from
	// OTEL_EXPORTER_OTLP_ENDPOINT; without it tracing stays a no-op.
	Enabled bool `mapstructure:"enabled"`

	// ServiceName overrides the reported service.name resource attribute.
	ServiceName string `mapstructure:"serviceName"`
}

// InitializeTimeoutDuration returns the initialize timeout as a time.Duration.
func (a *AdapterConfig) InitializeTimeoutDuration() time.Duration {
	return time.Duration(a.InitializeTimeout) * time.Second
}

// ControlTimeoutDuration returns the control request timeout as a time.Duration.
func (a *AdapterConfig) ControlTimeoutDuration() time.Duration {
	return time.Duration(a.ControlTimeout) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	// Check if running in Kubernetes
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}

	// Check for explicit production environment
	if env := os.Getenv("AGENTWIRE_ENV"); env == "production" || env == "prod" {
		return "json"
	}

	// Default to text format for terminal use (more readable than JSON)
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Adapter defaults
	v.SetDefault("adapter.cliPath", "claude")
	v.SetDefault("adapter.workDir", "")
	v.SetDefault("adapter.model", "")
	v.SetDefault("adapter.permissionMode", "")
	v.SetDefault("adapter.initializeTimeout", 30)
	v.SetDefault("adapter.controlTimeout", 60)
	v.SetDefault("adapter.partialMessages", false)
	v.SetDefault("adapter.agentsFile", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "agentwire")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix AGENTWIRE_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/agentwire/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("AGENTWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys)
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so we explicitly bind keys where env var naming differs from config key naming.
	_ = v.BindEnv("adapter.cliPath", "AGENTWIRE_ADAPTER_CLI_PATH")
	_ = v.BindEnv("adapter.workDir", "AGENTWIRE_ADAPTER_WORK_DIR")
	_ = v.BindEnv("adapter.permissionMode", "AGENTWIRE_ADAPTER_PERMISSION_MODE")
	_ = v.BindEnv("adapter.initializeTimeout", "AGENTWIRE_ADAPTER_INITIALIZE_TIMEOUT")
	_ = v.BindEnv("adapter.controlTimeout", "AGENTWIRE_ADAPTER_CONTROL_TIMEOUT")
	_ = v.BindEnv("adapter.partialMessages", "AGENTWIRE_ADAPTER_PARTIAL_MESSAGES")
	_ = v.BindEnv("adapter.agentsFile", "AGENTWIRE_ADAPTER_AGENTS_FILE")
	_ = v.BindEnv("logging.outputPath", "AGENTWIRE_LOGGING_OUTPUT_PATH")
	_ = v.BindEnv("tracing.serviceName", "AGENTWIRE_TRACING_SERVICE_NAME")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentwire/")

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

	if cfg.Adapter.CLIPath == "" {
		errs = append(errs, "adapter.cliPath is required")
	}
	if cfg.Adapter.InitializeTimeout <= 0 {
		errs = append(errs, "adapter.initializeTimeout must be positive")
	}
	if cfg.Adapter.ControlTimeout <= 0 {
		errs = append(errs, "adapter.controlTimeout must be positive")
	}
	if cfg.Adapter.PermissionMode != "" {
		validModes := map[string]bool{"default": true, "acceptEdits": true, "bypassPermissions": true, "plan": true}
		if !validModes[cfg.Adapter.PermissionMode] {
			errs = append(errs, "adapter.permissionMode must be one of: default, acceptEdits, bypassPermissions, plan")
		}
	}

	// Logging validation
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
