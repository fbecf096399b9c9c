// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger LoggerConfig `mapstructure:"logger" yaml:"logger"`
	Bridge BridgeConfig `mapstructure:"bridge" yaml:"bridge"`
	Exec   WorkerConfig `mapstructure:"exec" yaml:"exec"`
	Vision VisionConfig `mapstructure:"vision" yaml:"vision"`
	Media  MediaConfig  `mapstructure:"media" yaml:"media"`
	Server ServerConfig `mapstructure:"server" yaml:"server"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BridgeConfig governs the coordination layer itself.
type BridgeConfig struct {
	// Enabled gates every caller-facing operation. A disabled bridge
	// rejects calls without spawning workers.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// DefaultSessionKey scopes the vision worker's screenshot cache
	// when callers do not supply their own key.
	DefaultSessionKey string `mapstructure:"default_session_key" yaml:"default_session_key"`
	// ActRatePerSec caps dispatched input actions. Zero disables the
	// limiter.
	ActRatePerSec float64 `mapstructure:"act_rate_per_sec" yaml:"act_rate_per_sec"`
}

// WorkerConfig describes how to launch and talk to one worker process.
type WorkerConfig struct {
	// PythonPath, when set, is the only interpreter candidate tried.
	PythonPath string `mapstructure:"python_path" yaml:"python_path"`
	// PythonEnvVar names an environment variable that overrides
	// PythonPath when present.
	PythonEnvVar string `mapstructure:"python_env_var" yaml:"python_env_var"`
	// Entrypoint is the worker's script path, the last launch argument.
	Entrypoint string `mapstructure:"entrypoint" yaml:"entrypoint"`
	// ExtraArgs are inserted between the interpreter and the entrypoint.
	ExtraArgs []string `mapstructure:"extra_args" yaml:"extra_args"`
	// RequestTimeout bounds a single RPC round-trip. Zero means wait
	// until the worker answers or dies.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// VisionConfig extends WorkerConfig with grounding parameters consumed
// by the vision worker on every resolve call.
type VisionConfig struct {
	WorkerConfig `mapstructure:",squash" yaml:",inline"`
	// OCRMatchThreshold is the fuzzy-match floor (0..1) below which an
	// OCR text lookup is treated as not found.
	OCRMatchThreshold float64 `mapstructure:"ocr_match_threshold" yaml:"ocr_match_threshold"`
	// OCRWaitTimeout bounds how long the worker may block waiting for
	// a pending OCR pass before answering.
	OCRWaitTimeout time.Duration `mapstructure:"ocr_wait_timeout" yaml:"ocr_wait_timeout"`
	// ModelName selects the grounding model for prediction resolves.
	ModelName string `mapstructure:"model_name" yaml:"model_name"`
}

// MediaConfig configures snapshot persistence.
type MediaConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// ServerConfig configures the local HTTP control API.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// NewDefaultConfig creates a configuration populated with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with static defaults.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration keys.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "deskbridge")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Bridge --
	v.SetDefault("bridge.enabled", true)
	v.SetDefault("bridge.default_session_key", "default")
	v.SetDefault("bridge.act_rate_per_sec", 0.0)

	// -- Exec worker --
	v.SetDefault("exec.python_path", "")
	v.SetDefault("exec.python_env_var", "DESKBRIDGE_EXEC_PYTHON")
	v.SetDefault("exec.entrypoint", "workers/computer_exec/server.py")
	v.SetDefault("exec.extra_args", []string{})
	v.SetDefault("exec.request_timeout", "30s")

	// -- Vision worker --
	v.SetDefault("vision.python_path", "")
	v.SetDefault("vision.python_env_var", "DESKBRIDGE_VISION_PYTHON")
	v.SetDefault("vision.entrypoint", "workers/grounding_service/server.py")
	v.SetDefault("vision.extra_args", []string{})
	// Prediction resolves can block on model load; keep this generous.
	v.SetDefault("vision.request_timeout", "120s")
	v.SetDefault("vision.ocr_match_threshold", 0.8)
	v.SetDefault("vision.ocr_wait_timeout", "5s")
	v.SetDefault("vision.model_name", "OpenGVLab/InternVL3_5-4B")

	// -- Media --
	v.SetDefault("media.dir", "")

	// -- Server --
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8382)
}

// NewConfigFromViper unmarshals and validates a configuration from a
// prepared viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.applyFallbacks(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads the config file (optional) plus DESKBRIDGE_* environment
// overrides and returns the validated configuration.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("deskbridge")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("DESKBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and env vars apply.
	}

	return NewConfigFromViper(v)
}

// Validate rejects configurations the bridge cannot operate with.
func (c *Config) Validate() error {
	if c.Vision.OCRMatchThreshold < 0 || c.Vision.OCRMatchThreshold > 1 {
		return fmt.Errorf("vision.ocr_match_threshold must be within [0, 1], got %v", c.Vision.OCRMatchThreshold)
	}
	if c.Exec.Entrypoint == "" {
		return fmt.Errorf("exec.entrypoint must not be empty")
	}
	if c.Vision.Entrypoint == "" {
		return fmt.Errorf("vision.entrypoint must not be empty")
	}
	if c.Bridge.ActRatePerSec < 0 {
		return fmt.Errorf("bridge.act_rate_per_sec must not be negative, got %v", c.Bridge.ActRatePerSec)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}

// applyFallbacks fills values that depend on the host environment.
func (c *Config) applyFallbacks() error {
	if c.Media.Dir == "" {
		home, err := homedir.Dir()
		if err != nil {
			return fmt.Errorf("resolving home directory for media dir: %w", err)
		}
		c.Media.Dir = filepath.Join(home, ".deskbridge", "media")
	}
	if c.Bridge.DefaultSessionKey == "" {
		c.Bridge.DefaultSessionKey = "default"
	}
	return nil
}
