package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	Server        struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Gateway struct {
		URL      string        `mapstructure:"url"`
		AnonKey  string        `mapstructure:"anon_key"`
		Function string        `mapstructure:"function"`
		Timeout  time.Duration `mapstructure:"timeout"`
	} `mapstructure:"gateway"`
	Auth struct {
		Issuer       string `mapstructure:"issuer"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
		RedirectURL  string `mapstructure:"redirect_url"`
		TokenURL     string `mapstructure:"token_url"`
		Username     string `mapstructure:"username"`
		Password     string `mapstructure:"password"`
	} `mapstructure:"auth"`
	Onboarding struct {
		MaxAttempts       int           `mapstructure:"max_attempts"`
		BaseDelay         time.Duration `mapstructure:"base_delay"`
		RetryClientErrors bool          `mapstructure:"retry_client_errors"`
		DefaultPlan       string        `mapstructure:"default_plan"`
	} `mapstructure:"onboarding"`
	Session struct {
		InitialTimeout time.Duration `mapstructure:"initial_timeout"`
		ExpiryGrace    time.Duration `mapstructure:"expiry_grace"`
		RefreshLead    time.Duration `mapstructure:"refresh_lead"`
		RefreshFloor   time.Duration `mapstructure:"refresh_floor"`
		Heartbeat      time.Duration `mapstructure:"heartbeat"`
		HealthInterval time.Duration `mapstructure:"health_interval"`
		SettleDelay    time.Duration `mapstructure:"settle_delay"`
		ReadyTimeout   time.Duration `mapstructure:"ready_timeout"`
	} `mapstructure:"session"`
	Errors struct {
		HistorySize       int           `mapstructure:"history_size"`
		SuppressionWindow time.Duration `mapstructure:"suppression_window"`
		DegradedThreshold int           `mapstructure:"degraded_threshold"`
	} `mapstructure:"errors"`
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
}

// EnvPrefix is prepended to every environment override, e.g.
// TENANTDASH_GATEWAY_URL overrides gateway.url.
const EnvPrefix = "TENANTDASH"

// setDefaults registers every key. AutomaticEnv only overlays keys viper
// already knows, so keys without a meaningful default get a zero value.
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "DEV")
	v.SetDefault("dev_mode_bypass", false)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("gateway.url", "")
	v.SetDefault("gateway.anon_key", "")
	v.SetDefault("gateway.function", "tenant-data")
	for _, key := range []string{"issuer", "client_id", "client_secret", "redirect_url", "token_url", "username", "password"} {
		v.SetDefault("auth."+key, "")
	}
	v.SetDefault("gateway.timeout", 30*time.Second)
	v.SetDefault("onboarding.max_attempts", 3)
	v.SetDefault("onboarding.base_delay", time.Second)
	v.SetDefault("onboarding.retry_client_errors", true)
	v.SetDefault("onboarding.default_plan", "Kisan_Basic")
	v.SetDefault("session.initial_timeout", 3*time.Second)
	v.SetDefault("session.expiry_grace", 60*time.Second)
	v.SetDefault("session.refresh_lead", 5*time.Minute)
	v.SetDefault("session.refresh_floor", time.Minute)
	v.SetDefault("session.heartbeat", 5*time.Minute)
	v.SetDefault("session.health_interval", 30*time.Second)
	v.SetDefault("session.settle_delay", time.Second)
	v.SetDefault("session.ready_timeout", 5*time.Second)
	v.SetDefault("errors.history_size", 100)
	v.SetDefault("errors.suppression_window", 5*time.Minute)
	v.SetDefault("errors.degraded_threshold", 10)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// LoadConfig loads the configuration from a file and the environment. An
// empty path searches for config.yaml in the working directory and ./config;
// a missing file is not an error when no explicit path was given.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// normalize issuer and gateway urls (strip trailing slash if any)
	config.Auth.Issuer = normalizeURL(config.Auth.Issuer)
	config.Gateway.URL = normalizeURL(config.Gateway.URL)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects values the onboarding core cannot run with.
func (c *Config) Validate() error {
	if c.Onboarding.MaxAttempts < 1 {
		return fmt.Errorf("onboarding.max_attempts must be at least 1, got %d", c.Onboarding.MaxAttempts)
	}
	if c.Onboarding.BaseDelay < 0 {
		return errors.New("onboarding.base_delay must not be negative")
	}
	if c.Session.RefreshFloor <= 0 {
		return errors.New("session.refresh_floor must be positive")
	}
	if c.Session.HealthInterval <= 0 || c.Session.Heartbeat <= 0 {
		return errors.New("session.health_interval and session.heartbeat must be positive")
	}
	if c.Errors.HistorySize < 1 {
		return fmt.Errorf("errors.history_size must be at least 1, got %d", c.Errors.HistorySize)
	}
	return nil
}

// IsDev reports whether the application runs in the DEV environment.
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Environment, "DEV")
}

// DSN renders the Postgres connection string for pgx.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

// normalizeURL removes surrounding whitespace and any trailing slash so
// users can paste URLs from provider consoles without worrying about
// double separators.
func normalizeURL(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
