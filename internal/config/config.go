// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	DB      DBConfig      `mapstructure:"db"`
	Uploads UploadsConfig `mapstructure:"uploads"`
	Render  RenderConfig  `mapstructure:"render"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Cleanup CleanupConfig `mapstructure:"cleanup"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int      `mapstructure:"port"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	PublicRateLimit int      `mapstructure:"public_rate_limit"`
}

// AuthConfig governs guest key issuance.
type AuthConfig struct {
	KeySalt      string `mapstructure:"key_salt"`
	KeyTTLHours  int    `mapstructure:"key_ttl_hours"`
	AllowPrivate bool   `mapstructure:"allow_private_hosts"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// UploadsConfig sets where rendered artifacts are written and served from.
type UploadsConfig struct {
	Dir string `mapstructure:"dir"`
}

// RenderConfig configures the headless rendering subsystem.
type RenderConfig struct {
	Enabled                bool `mapstructure:"enabled"`
	ScreenshotTimeoutSec   int  `mapstructure:"screenshot_timeout_seconds"`
	PDFTimeoutSec          int  `mapstructure:"pdf_timeout_seconds"`
	InspectTimeoutSec      int  `mapstructure:"inspect_timeout_seconds"`
	ScoreCacheTTLSeconds   int  `mapstructure:"score_cache_ttl_seconds"`
	DisableGPU             bool `mapstructure:"disable_gpu"`
	IgnoreCertificateError bool `mapstructure:"ignore_certificate_errors"`
}

// JobsConfig governs the job queue pollers.
type JobsConfig struct {
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
}

// MonitorConfig governs the monitor scheduler.
type MonitorConfig struct {
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
	BatchLimit     int `mapstructure:"batch_limit"`
	Concurrency    int `mapstructure:"concurrency"`
}

// CleanupConfig governs the expiry and orphan sweeper.
type CleanupConfig struct {
	IntervalMinutes   int `mapstructure:"interval_minutes"`
	OrphanMaxAgeHours int `mapstructure:"orphan_max_age_hours"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MONITORIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.public_rate_limit", 20)
	v.SetDefault("auth.key_ttl_hours", 24)
	v.SetDefault("auth.allow_private_hosts", false)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("uploads.dir", "uploads")
	v.SetDefault("render.enabled", true)
	v.SetDefault("render.screenshot_timeout_seconds", 30)
	v.SetDefault("render.pdf_timeout_seconds", 45)
	v.SetDefault("render.inspect_timeout_seconds", 30)
	v.SetDefault("render.score_cache_ttl_seconds", 300)
	v.SetDefault("render.disable_gpu", true)
	v.SetDefault("render.ignore_certificate_errors", false)
	v.SetDefault("jobs.poll_interval_ms", 2000)
	v.SetDefault("monitor.poll_interval_ms", 5000)
	v.SetDefault("monitor.batch_limit", 10)
	v.SetDefault("monitor.concurrency", 3)
	v.SetDefault("cleanup.interval_minutes", 60)
	v.SetDefault("cleanup.orphan_max_age_hours", 48)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.KeySalt == "" {
		return fmt.Errorf("auth.key_salt must be set")
	}
	if c.Auth.KeyTTLHours <= 0 {
		return fmt.Errorf("auth.key_ttl_hours must be > 0")
	}
	if c.Uploads.Dir == "" {
		return fmt.Errorf("uploads.dir must be set")
	}
	if c.Jobs.PollIntervalMs <= 0 {
		return fmt.Errorf("jobs.poll_interval_ms must be > 0")
	}
	if c.Monitor.PollIntervalMs <= 0 {
		return fmt.Errorf("monitor.poll_interval_ms must be > 0")
	}
	if c.Monitor.BatchLimit <= 0 {
		return fmt.Errorf("monitor.batch_limit must be > 0")
	}
	if c.Monitor.Concurrency <= 0 {
		return fmt.Errorf("monitor.concurrency must be > 0")
	}
	if c.Cleanup.IntervalMinutes <= 0 {
		return fmt.Errorf("cleanup.interval_minutes must be > 0")
	}
	if c.Cleanup.OrphanMaxAgeHours <= 0 {
		return fmt.Errorf("cleanup.orphan_max_age_hours must be > 0")
	}
	return nil
}

// KeyTTL is the guest credential lifetime.
func (c Config) KeyTTL() time.Duration {
	return time.Duration(c.Auth.KeyTTLHours) * time.Hour
}

// JobPollInterval is the queue poll cadence.
func (c Config) JobPollInterval() time.Duration {
	return time.Duration(c.Jobs.PollIntervalMs) * time.Millisecond
}

// MonitorPollInterval is the scheduler tick cadence.
func (c Config) MonitorPollInterval() time.Duration {
	return time.Duration(c.Monitor.PollIntervalMs) * time.Millisecond
}

// CleanupInterval is the sweeper cadence.
func (c Config) CleanupInterval() time.Duration {
	return time.Duration(c.Cleanup.IntervalMinutes) * time.Minute
}

// OrphanMaxAge is how old an unreferenced upload must be before removal.
func (c Config) OrphanMaxAge() time.Duration {
	return time.Duration(c.Cleanup.OrphanMaxAgeHours) * time.Hour
}
