// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Network NetworkConfig `mapstructure:"network" yaml:"network"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig holds settings for the Chrome instance the agent drives.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args            []string `mapstructure:"args" yaml:"args"`
	RemoteURL       string   `mapstructure:"remote_url" yaml:"remote_url"`
	StartURL        string   `mapstructure:"start_url" yaml:"start_url"`
}

// CaptureConfig tunes the event capture pipeline.
type CaptureConfig struct {
	// AnnotationEnabled routes active events through the annotation gate.
	// Off by default: active events are recorded directly without deferring
	// the browser's default action.
	AnnotationEnabled bool `mapstructure:"annotation_enabled" yaml:"annotation_enabled"`

	ActiveMinInterval  time.Duration `mapstructure:"active_min_interval" yaml:"active_min_interval"`
	PassiveMinInterval time.Duration `mapstructure:"passive_min_interval" yaml:"passive_min_interval"`
	HierarchyDepth     int           `mapstructure:"hierarchy_depth" yaml:"hierarchy_depth"`

	// IdleThreshold is how long a foreground view may go untouched before
	// the staleness timer treats it as implicitly backgrounded.
	IdleThreshold  time.Duration `mapstructure:"idle_threshold" yaml:"idle_threshold"`
	IdleCheckEvery time.Duration `mapstructure:"idle_check_every" yaml:"idle_check_every"`

	// CompressThreshold is the serialized payload size above which an upload
	// is DEFLATE-compressed and base64-encoded.
	CompressThreshold int `mapstructure:"compress_threshold" yaml:"compress_threshold"`
}

// NetworkConfig tunes the HTTP client used for collector traffic.
type NetworkConfig struct {
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ForceHTTP2      bool          `mapstructure:"force_http2" yaml:"force_http2"`
}

// AuthConfig describes the collector location and the retry policy for
// authenticated requests.
type AuthConfig struct {
	BaseURL    string        `mapstructure:"base_url" yaml:"base_url"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
}

// StoreConfig locates the durable key/value store.
type StoreConfig struct {
	// Path is the SQLite file backing the durable store. Empty means
	// <home>/.webtrail/state.db.
	Path string `mapstructure:"path" yaml:"path"`

	TaskCacheTTL  time.Duration `mapstructure:"task_cache_ttl" yaml:"task_cache_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// ServerConfig configures the collector server.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	DatabaseURL     string        `mapstructure:"database_url" yaml:"database_url"`
	JWTSecret       string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl" yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl" yaml:"refresh_token_ttl"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "webtrail")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.start_url", "about:blank")

	// -- Capture --
	v.SetDefault("capture.annotation_enabled", false)
	v.SetDefault("capture.active_min_interval", "200ms")
	v.SetDefault("capture.passive_min_interval", "80ms")
	v.SetDefault("capture.hierarchy_depth", 10)
	v.SetDefault("capture.idle_threshold", "2m")
	v.SetDefault("capture.idle_check_every", "15s")
	v.SetDefault("capture.compress_threshold", 32*1024)

	// -- Network --
	v.SetDefault("network.request_timeout", "30s")
	v.SetDefault("network.ignore_tls_errors", false)
	v.SetDefault("network.force_http2", true)

	// -- Auth --
	v.SetDefault("auth.base_url", "http://localhost:8080")
	v.SetDefault("auth.max_retries", 3)
	v.SetDefault("auth.base_delay", "500ms")

	// -- Store --
	v.SetDefault("store.path", "")
	v.SetDefault("store.task_cache_ttl", "30m")
	v.SetDefault("store.sweep_interval", "60s")

	// -- Server --
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.access_token_ttl", "15m")
	v.SetDefault("server.refresh_token_ttl", "720h")
	v.SetDefault("server.shutdown_timeout", "10s")
}

// NewDefaultConfig creates a configuration struct populated with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with static defaults, but fail loudly if it does.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Sensitive values come from the environment, never the config file.
	_ = v.BindEnv("server.jwt_secret", "WEBTRAIL_JWT_SECRET")
	_ = v.BindEnv("server.database_url", "WEBTRAIL_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Auth.MaxRetries < 0 {
		return fmt.Errorf("auth.max_retries must not be negative")
	}
	if c.Auth.BaseDelay < 0 {
		return fmt.Errorf("auth.base_delay must not be negative")
	}
	if c.Capture.HierarchyDepth <= 0 {
		return fmt.Errorf("capture.hierarchy_depth must be a positive integer")
	}
	if c.Capture.ActiveMinInterval <= 0 || c.Capture.PassiveMinInterval <= 0 {
		return fmt.Errorf("capture throttle intervals must be positive durations")
	}
	if c.Capture.IdleThreshold <= 0 {
		return fmt.Errorf("capture.idle_threshold must be a positive duration")
	}
	return nil
}

// StorePath resolves the durable store location, defaulting to a dotfile
// directory in the user's home.
func (c *Config) StorePath() (string, error) {
	if c.Store.Path != "" {
		return c.Store.Path, nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".webtrail", "state.db"), nil
}
