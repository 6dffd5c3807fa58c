package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the hhnotify service.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	HH         HHConfig         `mapstructure:"hh"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`

	// PublicBaseURL is the externally reachable base of this service; the
	// OAuth redirect and webhook subscription URLs are derived from it.
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// TelegramConfig configures the bot transport.
type TelegramConfig struct {
	Token       string        `mapstructure:"token"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
}

// HHConfig holds hh.ru OAuth and API settings.
type HHConfig struct {
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	UserAgent    string        `mapstructure:"user_agent"`
	APIBaseURL   string        `mapstructure:"api_base_url"`
	OAuthBaseURL string        `mapstructure:"oauth_base_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// RedirectURL returns the OAuth callback URL registered with hh.ru.
func (c ServerConfig) RedirectURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/hh/oauth/callback"
}

// WebhookURL returns the URL hh.ru pushes webhook events to.
func (c ServerConfig) WebhookURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/hh/webhook"
}

// PipelineConfig tunes the background loops.
type PipelineConfig struct {
	DeliveryInterval time.Duration `mapstructure:"delivery_interval"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// ClassifierConfig optionally overrides the built-in phrase sets. Keys are
// phrase-set names (rejection_text, rejection_state), values are ordered
// phrase lists.
type ClassifierConfig struct {
	PhraseSets map[string][]string `mapstructure:"phrase_sets"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("HHNOTIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

// Validate reports configuration that cannot produce a working service.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token must be configured")
	}
	if strings.TrimSpace(c.HH.ClientID) == "" || strings.TrimSpace(c.HH.ClientSecret) == "" {
		return errors.New("hh.client_id and hh.client_secret must be configured")
	}
	if strings.TrimSpace(c.Server.PublicBaseURL) == "" {
		return errors.New("server.public_base_url must be configured")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/hhnotify.sqlite")

	v.SetDefault("telegram.poll_timeout", "10s")

	v.SetDefault("hh.user_agent", "hhnotify/1.0 (contact@example.com)")
	v.SetDefault("hh.api_base_url", "https://api.hh.ru")
	v.SetDefault("hh.oauth_base_url", "https://hh.ru")
	v.SetDefault("hh.timeout", "10s")

	v.SetDefault("pipeline.delivery_interval", "5s")
	v.SetDefault("pipeline.poll_interval", "1m")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
