// Package config loads and validates booklist configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	GenAI     GenAIConfig     `mapstructure:"genai"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Trends    TrendsConfig    `mapstructure:"trends"`
	Render    RenderConfig    `mapstructure:"render"`
	Export    ExportConfig    `mapstructure:"export"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Keystore  KeystoreConfig  `mapstructure:"keystore"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// GenAIConfig selects and configures the generative model backend.
type GenAIConfig struct {
	Provider          string  `mapstructure:"provider"`
	Endpoint          string  `mapstructure:"endpoint"`
	Model             string  `mapstructure:"model"`
	APIKey            string  `mapstructure:"api_key"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// RetryConfig is the retry budget shared by every generation call.
type RetryConfig struct {
	Attempts    int `mapstructure:"attempts"`
	BaseDelayMs int `mapstructure:"base_delay_ms"`
}

// TrendsConfig tunes candidate discovery.
type TrendsConfig struct {
	FeedURL   string `mapstructure:"feed_url"`
	FeedLimit int    `mapstructure:"feed_limit"`
}

// RenderConfig describes the card canvas and capture timing.
type RenderConfig struct {
	Width         int     `mapstructure:"width"`
	Height        int     `mapstructure:"height"`
	PixelRatio    float64 `mapstructure:"pixel_ratio"`
	Background    string  `mapstructure:"background"`
	FontFamily    string  `mapstructure:"font_family"`
	FontURL       string  `mapstructure:"font_url"`
	SettleMs      int     `mapstructure:"settle_ms"`
	QuoteSettleMs int     `mapstructure:"quote_settle_ms"`
	AfterMs       int     `mapstructure:"after_ms"`
	TimeoutSec    int     `mapstructure:"timeout_seconds"`
	ChromePath    string  `mapstructure:"chrome_path"`
}

// ExportConfig sets where finished archives are delivered.
type ExportConfig struct {
	Driver    string `mapstructure:"driver"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// ArchiveConfig controls the archive store backend and identity scope.
type ArchiveConfig struct {
	Driver      string `mapstructure:"driver"`
	DSN         string `mapstructure:"dsn"`
	Table       string `mapstructure:"table"`
	AppID       string `mapstructure:"app_id"`
	UserID      string `mapstructure:"user_id"`
	PollSeconds int    `mapstructure:"poll_seconds"`
}

// KeystoreConfig points at the local credential file.
type KeystoreConfig struct {
	Path string `mapstructure:"path"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ScheduleConfig enables cron-triggered runs.
type ScheduleConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cron    string `mapstructure:"cron"`
}

// PipelineConfig holds controller timing.
type PipelineConfig struct {
	ResetDelayMs int `mapstructure:"reset_delay_ms"`
}

// TelemetryConfig names the service for tracing.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BOOKLIST")
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
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("genai.provider", "gemini")
	v.SetDefault("genai.endpoint", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("genai.model", "gemini-2.5-flash-preview-09-2025")
	v.SetDefault("genai.api_key", "")
	v.SetDefault("genai.timeout_seconds", 60)
	v.SetDefault("genai.requests_per_second", 2.0)
	v.SetDefault("retry.attempts", 5)
	v.SetDefault("retry.base_delay_ms", 1000)
	v.SetDefault("trends.feed_url", "")
	v.SetDefault("trends.feed_limit", 20)
	v.SetDefault("render.width", 1242)
	v.SetDefault("render.height", 1656)
	v.SetDefault("render.pixel_ratio", 2.0)
	v.SetDefault("render.background", "#FAF9F6")
	v.SetDefault("render.font_family", "'Noto Serif SC', 'Songti SC', serif")
	v.SetDefault("render.font_url", "")
	v.SetDefault("render.settle_ms", 800)
	v.SetDefault("render.quote_settle_ms", 300)
	v.SetDefault("render.after_ms", 500)
	v.SetDefault("render.timeout_seconds", 30)
	v.SetDefault("render.chrome_path", "")
	v.SetDefault("export.driver", "local")
	v.SetDefault("export.dir", "exports")
	v.SetDefault("export.prefix", "")
	v.SetDefault("archive.driver", "memory")
	v.SetDefault("archive.table", "archived_projects")
	v.SetDefault("archive.app_id", "master-book-production-stable")
	v.SetDefault("archive.user_id", "")
	v.SetDefault("archive.poll_seconds", 5)
	v.SetDefault("keystore.path", "~/.config/booklist/credentials.toml")
	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.cron", "0 9 * * *")
	v.SetDefault("pipeline.reset_delay_ms", 2000)
	v.SetDefault("telemetry.service_name", "booklist")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.GenAI.Provider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("genai.provider must be gemini or openai, got %q", c.GenAI.Provider)
	}
	if c.GenAI.Model == "" {
		return fmt.Errorf("genai.model is required")
	}
	if c.Retry.Attempts < 0 {
		return fmt.Errorf("retry.attempts must be >= 0")
	}
	if c.Retry.BaseDelayMs <= 0 {
		return fmt.Errorf("retry.base_delay_ms must be > 0")
	}
	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		return fmt.Errorf("render.width and render.height must be > 0")
	}
	if c.Render.PixelRatio <= 0 {
		return fmt.Errorf("render.pixel_ratio must be > 0")
	}
	switch c.Export.Driver {
	case "local", "memory":
	case "gcs":
		if c.Export.GCSBucket == "" {
			return fmt.Errorf("export.gcs_bucket must be set when export.driver is gcs")
		}
	default:
		return fmt.Errorf("unknown export.driver %q", c.Export.Driver)
	}
	switch c.Archive.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Archive.DSN == "" {
			return fmt.Errorf("archive.dsn must be set when archive.driver is %s", c.Archive.Driver)
		}
	default:
		return fmt.Errorf("unknown archive.driver %q", c.Archive.Driver)
	}
	if c.Schedule.Enabled && c.Schedule.Cron == "" {
		return fmt.Errorf("schedule.cron must be set when schedule is enabled")
	}
	return nil
}

// RetryBaseDelay converts the configured base delay into a duration.
func (c Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Retry.BaseDelayMs) * time.Millisecond
}

// GenAITimeout bounds a single generation HTTP round trip.
func (c Config) GenAITimeout() time.Duration {
	return time.Duration(c.GenAI.TimeoutSeconds) * time.Second
}

// ResetDelay is how long a finished run stays visible before the slots clear.
func (c Config) ResetDelay() time.Duration {
	return time.Duration(c.Pipeline.ResetDelayMs) * time.Millisecond
}

// Ms converts a millisecond knob into a duration.
func Ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
