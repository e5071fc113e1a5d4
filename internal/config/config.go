package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Mail      MailConfig      `mapstructure:"mail"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Port    int    `mapstructure:"port"`
	BaseURL string `mapstructure:"base_url"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
	Path     string `mapstructure:"path"` // directory for SQLite database files
}

// DSN returns the driver-specific data source name.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path + "/" + d.Name + ".db"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type AuthConfig struct {
	SessionTTLHours    int    `mapstructure:"session_ttl_hours"`
	CookieName         string `mapstructure:"cookie_name"`
	CookieSecure       bool   `mapstructure:"cookie_secure"`
	MagicLinkSecret    string `mapstructure:"magic_link_secret"`
	StateSecret        string `mapstructure:"state_secret"`
	GoogleClientID     string `mapstructure:"google_client_id"`
	GoogleClientSecret string `mapstructure:"google_client_secret"`
	GoogleRedirectURL  string `mapstructure:"google_redirect_url"`
}

type StorageConfig struct {
	Driver    string `mapstructure:"driver"` // "s3" or "local"
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	LocalPath string `mapstructure:"local_path"`
}

type MailConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	FromName    string `mapstructure:"from_name"`
	FromAddress string `mapstructure:"from_address"`
}

type ExtractConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

type WebhookConfig struct {
	InboundEmailSecret string `mapstructure:"inbound_email_secret"`
}

type TelemetryConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	BufferSize      int  `mapstructure:"buffer_size"`
	FlushIntervalMs int  `mapstructure:"flush_interval_ms"`
}

func Load() (*Config, error) {
	viper.SetConfigName("app")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../..")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.base_url", "http://localhost:8080")
	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.pool_size", 10)
	viper.SetDefault("database.path", "./data")
	viper.SetDefault("redis.url", "redis://localhost:6379/0")
	viper.SetDefault("auth.session_ttl_hours", 720)
	viper.SetDefault("auth.cookie_name", "arive_session")
	viper.SetDefault("auth.cookie_secure", true)
	viper.SetDefault("auth.magic_link_secret", "changeme-magic-secret")
	viper.SetDefault("auth.state_secret", "changeme-state-secret")
	viper.SetDefault("storage.driver", "local")
	viper.SetDefault("storage.local_path", "./uploads")
	viper.SetDefault("mail.port", 587)
	viper.SetDefault("mail.from_name", "Arive")
	viper.SetDefault("mail.from_address", "no-reply@arive.local")
	viper.SetDefault("extract.model", "default")
	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.buffer_size", 500)
	viper.SetDefault("telemetry.flush_interval_ms", 100)

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}
