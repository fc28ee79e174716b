package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// global configuration structure
type Config struct {
	Bot          BotConfig          `mapstructure:"bot"`
	Logger       LoggerConfig       `mapstructure:"logger"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Moderation   ModerationConfig   `mapstructure:"moderation"`
	Verification VerificationConfig `mapstructure:"verification"`
	GBan         GBanConfig         `mapstructure:"gban"`
	Filter       FilterConfig       `mapstructure:"filter"`
	Maintenance  MaintenanceConfig  `mapstructure:"maintenance"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// Telegram bot configuration
type BotConfig struct {
	Token          string        `mapstructure:"token"`
	Debug          bool          `mapstructure:"debug"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	PollingTimeout int           `mapstructure:"polling_timeout"`
	Webhook        WebhookConfig `mapstructure:"webhook"`
}

// webhook server configuration; polling is used when disabled
type WebhookConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Endpoint   string `mapstructure:"endpoint"`
	Path       string `mapstructure:"path"`
	ListenPort string `mapstructure:"listen_port"`
	Secret     string `mapstructure:"secret"`
	DebugPath  string `mapstructure:"debug_path"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
}

// logging configuration
type LoggerConfig struct {
	Directory string            `mapstructure:"directory"`
	Prefix    string            `mapstructure:"prefix"`
	Level     string            `mapstructure:"level"`
	Rotation  LogRotationConfig `mapstructure:"rotation"`
}

// log rotation settings
type LogRotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	Charset         string        `mapstructure:"charset"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SlowQuery       time.Duration `mapstructure:"slow_query"`
}

// spam scoring and sanction settings
type ModerationConfig struct {
	FloodThreshold    int           `mapstructure:"flood_threshold"`
	FloodWindow       time.Duration `mapstructure:"flood_window"`
	LinkThreshold     int           `mapstructure:"link_threshold"`
	SpamThreshold     float64       `mapstructure:"spam_threshold"`
	NewAccountAge     time.Duration `mapstructure:"new_account_age"`
	MaxWarnings       int           `mapstructure:"max_warnings"`
	MuteDuration      time.Duration `mapstructure:"mute_duration"`
	NoticeTTL         time.Duration `mapstructure:"notice_ttl"`
	DispatcherWorkers int           `mapstructure:"dispatcher_workers"`
	EditTrackerSize   int           `mapstructure:"edit_tracker_size"`
}

type VerificationConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Kind             string        `mapstructure:"kind"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	RestrictDuration time.Duration `mapstructure:"restrict_duration"`
}

type GBanConfig struct {
	Admins      []int64 `mapstructure:"admins"`
	Concurrency int     `mapstructure:"concurrency"`
}

type FilterConfig struct {
	KeywordsFile string `mapstructure:"keywords_file"`
}

// periodic sweeps; a zero log_retention keeps moderation logs forever
type MaintenanceConfig struct {
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	LogRetention    time.Duration `mapstructure:"log_retention"`
	StatsInterval   time.Duration `mapstructure:"stats_interval"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

var cfg *Config

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("GUARDIAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	log.Printf("Using config file: %s", v.ConfigFileUsed())

	loaded := &Config{}
	if err := v.Unmarshal(loaded); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := loaded.Validate(); err != nil {
		return nil, err
	}

	cfg = loaded
	return cfg, nil
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		log.Fatalf("unable to decode default config: %v", err)
	}
	return c
}

func Get() *Config {
	if cfg == nil {
		log.Fatal("Configuration not initialized, call Load() first")
	}
	return cfg
}

// Validate rejects values the moderation components cannot work with.
func (c *Config) Validate() error {
	switch c.Verification.Kind {
	case "text", "math", "button":
	default:
		return fmt.Errorf("verification.kind must be one of text, math, button: got %q", c.Verification.Kind)
	}
	if c.Moderation.FloodThreshold < 1 {
		return fmt.Errorf("moderation.flood_threshold must be positive")
	}
	if c.Verification.MaxAttempts < 1 {
		return fmt.Errorf("verification.max_attempts must be positive")
	}
	if c.Database.Enabled {
		switch c.Database.Driver {
		case "mysql", "postgres", "sqlite":
		default:
			return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.rate_limit", 25.0)
	v.SetDefault("bot.polling_timeout", 30)
	v.SetDefault("bot.webhook.enabled", false)
	v.SetDefault("bot.webhook.path", "/webhook")
	v.SetDefault("bot.webhook.listen_port", "8443")
	v.SetDefault("bot.webhook.debug_path", "/debug")
	v.SetDefault("bot.webhook.cert_file", "")
	v.SetDefault("bot.webhook.key_file", "")

	v.SetDefault("logger.directory", "logs")
	v.SetDefault("logger.prefix", "tg-guardian")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.rotation.max_size", 10)
	v.SetDefault("logger.rotation.max_backups", 30)
	v.SetDefault("logger.rotation.max_age", 90)
	v.SetDefault("logger.rotation.compress", true)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.charset", "utf8mb4")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.slow_query", 200*time.Millisecond)

	v.SetDefault("moderation.flood_threshold", 5)
	v.SetDefault("moderation.flood_window", time.Minute)
	v.SetDefault("moderation.link_threshold", 2)
	v.SetDefault("moderation.spam_threshold", 0.6)
	v.SetDefault("moderation.new_account_age", 24*time.Hour)
	v.SetDefault("moderation.max_warnings", 3)
	v.SetDefault("moderation.mute_duration", time.Hour)
	v.SetDefault("moderation.notice_ttl", 30*time.Second)
	v.SetDefault("moderation.dispatcher_workers", 16)
	v.SetDefault("moderation.edit_tracker_size", 1000)

	v.SetDefault("verification.enabled", true)
	v.SetDefault("verification.kind", "button")
	v.SetDefault("verification.timeout", 300*time.Second)
	v.SetDefault("verification.max_attempts", 3)
	v.SetDefault("verification.restrict_duration", 10*time.Minute)

	v.SetDefault("gban.concurrency", 4)

	v.SetDefault("filter.keywords_file", "")

	v.SetDefault("maintenance.cleanup_interval", 15*time.Minute)
	v.SetDefault("maintenance.log_retention", 90*24*time.Hour)
	v.SetDefault("maintenance.stats_interval", time.Hour)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}
