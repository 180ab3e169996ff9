package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	CORS       CORSConfig       `mapstructure:"cors"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Supabase   SupabaseConfig   `mapstructure:"supabase"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Buffer     BufferConfig     `mapstructure:"buffer"`
	Flush      FlushConfig      `mapstructure:"flush"`
	Debounce   DebounceConfig   `mapstructure:"debounce"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Limits     LimitsConfig     `mapstructure:"limits"`
	Push       PushConfig       `mapstructure:"push"`
	Moderation ModerationConfig `mapstructure:"moderation"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// AuthConfig holds API key authentication settings.
type AuthConfig struct {
	APIKeys []string `mapstructure:"api_keys"`
}

// CORSConfig holds CORS policy settings.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// RateLimitConfig holds per-IP HTTP rate limiting settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SupabaseConfig holds Supabase project settings.
type SupabaseConfig struct {
	URL        string `mapstructure:"url"`
	ServiceKey string `mapstructure:"service_key"`
}

// QueueConfig holds async queue settings.
type QueueConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	MaxRetry    int `mapstructure:"max_retry"`
}

// BufferConfig holds interaction buffer settings: per-op-family viral
// thresholds and the periodic sweep interval.
type BufferConfig struct {
	LikeThreshold    int64 `mapstructure:"like_threshold"`
	CommentThreshold int64 `mapstructure:"comment_threshold"`
	ViewThreshold    int64 `mapstructure:"view_threshold"`
	SweepIntervalSec int   `mapstructure:"sweep_interval_sec"`
}

// FlushConfig holds settings for flush jobs and the in-handler retry
// of durable counter writes.
type FlushConfig struct {
	MaxAttempts  int `mapstructure:"max_attempts"`
	BaseDelayMS  int `mapstructure:"base_delay_ms"`
	TimeoutSec   int `mapstructure:"timeout_sec"`
	RetentionSec int `mapstructure:"retention_sec"`
}

// DebounceConfig holds broadcast coalescing settings.
type DebounceConfig struct {
	IntervalMS int `mapstructure:"interval_ms"`
}

// NotifyConfig holds notification aggregation settings.
type NotifyConfig struct {
	WindowSec int `mapstructure:"window_sec"`
}

// LimitsConfig holds per-user action rate limit settings.
type LimitsConfig struct {
	CommentMax       int `mapstructure:"comment_max"`
	CommentWindowSec int `mapstructure:"comment_window_sec"`
}

// PushConfig holds push notification provider settings.
type PushConfig struct {
	FCMServerKey string `mapstructure:"fcm_server_key"`
}

// ModerationConfig holds comment content moderation settings.
type ModerationConfig struct {
	BlockedWords []string `mapstructure:"blocked_words"`
}

// Load reads configuration from config.yaml and environment variables.
// Environment variables use the PULSE_ prefix and underscore separators.
// Example: PULSE_SERVER_PORT overrides server.port in config.yaml.
func Load() (*Config, error) {
	v := viper.New()

	// Config file settings
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Load .env file if it exists
	_ = godotenv.Load()

	// Environment variable settings
	v.SetEnvPrefix("PULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("rate_limit.requests_per_second", 50)
	v.SetDefault("rate_limit.burst", 100)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.max_retry", 5)
	v.SetDefault("buffer.like_threshold", 50)
	v.SetDefault("buffer.comment_threshold", 25)
	v.SetDefault("buffer.view_threshold", 500)
	v.SetDefault("buffer.sweep_interval_sec", 30)
	v.SetDefault("flush.max_attempts", 3)
	v.SetDefault("flush.base_delay_ms", 100)
	v.SetDefault("flush.timeout_sec", 30)
	v.SetDefault("flush.retention_sec", 60)
	v.SetDefault("debounce.interval_ms", 150)
	v.SetDefault("notify.window_sec", 300) // 5 minute aggregation window
	v.SetDefault("limits.comment_max", 30)
	v.SetDefault("limits.comment_window_sec", 60)

	// Read config file (optional, env vars can provide everything)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Handle comma-separated API keys from env var
	if apiKeysStr := v.GetString("auth.api_keys"); apiKeysStr != "" && len(cfg.Auth.APIKeys) == 0 {
		keys := strings.Split(apiKeysStr, ",")
		for i := range keys {
			keys[i] = strings.TrimSpace(keys[i])
		}
		cfg.Auth.APIKeys = keys
	}

	return &cfg, nil
}
