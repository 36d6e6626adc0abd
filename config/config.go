package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the digest pipeline.
type Config struct {
	AI          AIConfig          `mapstructure:"ai"`
	Email       EmailConfig       `mapstructure:"email"`
	Schedule    ScheduleConfig    `mapstructure:"schedule"`
	Filter      FilterConfig      `mapstructure:"filter"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency"`
	Server      ServerConfig      `mapstructure:"server"`
	Roots       []string          `mapstructure:"roots"`
}

// AIConfig points the gateway at an OpenAI-compatible endpoint.
type AIConfig struct {
	Provider    string        `mapstructure:"provider"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	BaseURL     string        `mapstructure:"base_url"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

func (c AIConfig) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("ai.api_key is required")
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("ai.model is required")
	}
	return nil
}

// EmailConfig contains SMTP delivery settings.
type EmailConfig struct {
	SMTPHost string   `mapstructure:"smtp_host"`
	SMTPPort int      `mapstructure:"smtp_port"`
	UseSSL   bool     `mapstructure:"use_ssl"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	FromAddr string   `mapstructure:"from_addr"`
	FromName string   `mapstructure:"from_name"`
	ToAddrs  []string `mapstructure:"to_addrs"`
}

// ScheduleConfig drives the clock: fetch cadence plus wall-clock digest
// times in a named timezone.
type ScheduleConfig struct {
	FetchInterval string   `mapstructure:"fetch_interval"` // e.g. "2h"
	DigestTimes   []string `mapstructure:"digest_times"`   // e.g. ["09:00", "21:00"]
	Timezone      string   `mapstructure:"timezone"`
}

func (c ScheduleConfig) Validate() error {
	if _, err := ParseInterval(c.FetchInterval); err != nil {
		return fmt.Errorf("schedule.fetch_interval: %w", err)
	}
	for _, t := range c.DigestTimes {
		if _, _, err := ParseClock(t); err != nil {
			return fmt.Errorf("schedule.digest_times: %w", err)
		}
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("schedule.timezone: %w", err)
		}
	}
	return nil
}

// Location resolves the configured timezone, defaulting to UTC.
func (c ScheduleConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FilterConfig bounds the digest.
type FilterConfig struct {
	TopPickCount         int     `mapstructure:"top_pick_count"`
	MinScore             float64 `mapstructure:"min_score"`
	MaxArticlesPerDigest int     `mapstructure:"max_articles_per_digest"`
}

// StorageConfig wires the Postgres store and optional redis.
type StorageConfig struct {
	DatabaseURL          string `mapstructure:"database_url"`
	ArticleRetentionDays int    `mapstructure:"article_retention_days"`
	TraceDir             string `mapstructure:"trace_dir"`
	RedisAddr            string `mapstructure:"redis_addr"`
	RedisPassword        string `mapstructure:"redis_password"`
	RedisDB              int    `mapstructure:"redis_db"`
}

func (c StorageConfig) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("storage.database_url is required")
	}
	return nil
}

// TelemetryConfig controls the AI call recorder.
type TelemetryConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	StoragePath      string `mapstructure:"storage_path"`
	RetentionDays    int    `mapstructure:"retention_days"`
	MaxContentLength int    `mapstructure:"max_content_length"`
}

// ConcurrencyConfig bounds the worker pools.
type ConcurrencyConfig struct {
	MaxConcurrentFetches  int `mapstructure:"max_concurrent_fetches"`
	MaxConcurrentExtracts int `mapstructure:"max_concurrent_extracts"`
	MaxConcurrentAnalyses int `mapstructure:"max_concurrent_analyses"`
}

// ServerConfig contains the admin HTTP surface settings.
type ServerConfig struct {
	Address        string   `mapstructure:"address"`
	JWTSecret      string   `mapstructure:"jwt_secret"`
	AdminUser      string   `mapstructure:"admin_user"`
	AdminPassword  string   `mapstructure:"admin_password"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	MaxWSConns     int      `mapstructure:"max_ws_conns"`
}

// ParseInterval parses interval specs of the form "30s", "15m", "2h", "1d".
func ParseInterval(s string) (time.Duration, error) {
	m := intervalRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	switch m[2] {
	case "s":
		return time.Duration(n) * time.Second, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("invalid interval unit %q", s)
}

var intervalRe = regexp.MustCompile(`^(\d+)([smhd])$`)

// ParseClock parses "HH:MM" wall-clock times.
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid time %q", s)
	}
	return hour, minute, nil
}

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv recursively substitutes ${VAR} strings from the environment.
func ExpandEnv(v any) any {
	switch val := v.(type) {
	case string:
		return envVarRe.ReplaceAllStringFunc(val, func(m string) string {
			return os.Getenv(m[2 : len(m)-1])
		})
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = ExpandEnv(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = ExpandEnv(item)
		}
		return out
	default:
		return v
	}
}

// LoadConfig reads config.yaml (or the file at path) and returns the
// validated configuration. Fatal configuration errors are returned, not
// papered over: the caller must not start the scheduler on error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetDefault("ai.base_url", "https://api.openai.com/v1")
	v.SetDefault("ai.max_tokens", 4096)
	v.SetDefault("ai.temperature", 0.3)
	v.SetDefault("ai.timeout", time.Minute)
	v.SetDefault("email.from_name", "AI Digest")
	v.SetDefault("schedule.fetch_interval", "2h")
	v.SetDefault("schedule.digest_times", []string{"09:00"})
	v.SetDefault("schedule.timezone", "UTC")
	v.SetDefault("filter.top_pick_count", 5)
	v.SetDefault("filter.min_score", 5.0)
	v.SetDefault("filter.max_articles_per_digest", 100)
	v.SetDefault("storage.article_retention_days", 180)
	v.SetDefault("storage.trace_dir", "data/traces")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.storage_path", "data/telemetry")
	v.SetDefault("telemetry.retention_days", 30)
	v.SetDefault("telemetry.max_content_length", 10000)
	v.SetDefault("concurrency.max_concurrent_fetches", 10)
	v.SetDefault("concurrency.max_concurrent_extracts", 5)
	v.SetDefault("concurrency.max_concurrent_analyses", 5)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.max_ws_conns", 100)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("NEWSDIGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand ${VAR} references before unmarshalling.
	settings := ExpandEnv(v.AllSettings()).(map[string]any)
	if err := v.MergeConfigMap(settings); err != nil {
		return nil, fmt.Errorf("merge config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.AI.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Schedule.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Storage.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
