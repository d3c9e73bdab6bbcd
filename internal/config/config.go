package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Auth     AuthConfig     `mapstructure:"auth"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Device   DeviceConfig   `mapstructure:"device"`
	ML       MLConfig       `mapstructure:"ml"`
	FHIR     FHIRConfig     `mapstructure:"fhir"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	BindAddr string `mapstructure:"bind_addr"`
	Workers  int    `mapstructure:"workers"`
}

type DatabaseConfig struct {
	URL            string `mapstructure:"url"`
	MaxConnections int32  `mapstructure:"max_connections"`
	MinConnections int32  `mapstructure:"min_connections"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret           string `mapstructure:"secret"`
	ExpirationHours  int64  `mapstructure:"expiration_hours"`
	RefreshTokenDays int64  `mapstructure:"refresh_token_days"`
}

// AuthConfig carries the login-lockout policy. The failed-attempt counter
// lives in the users table; these values decide when it trips and for how
// long the account stays locked.
type AuthConfig struct {
	MaxFailedLogins int `mapstructure:"max_failed_logins"`
	LockoutMinutes  int `mapstructure:"lockout_minutes"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DeviceConfig struct {
	Secret              string `mapstructure:"secret"`
	ReplayWindowSeconds int64  `mapstructure:"replay_window_seconds"`
}

type MLConfig struct {
	AnomalyThreshold float64 `mapstructure:"anomaly_threshold"`
	EnableAlerts     bool    `mapstructure:"enable_alerts"`
	CriticalHRLow    int     `mapstructure:"critical_hr_low"`
	CriticalHRHigh   int     `mapstructure:"critical_hr_high"`
	CriticalSpO2Low  int     `mapstructure:"critical_spo2_low"`
}

type FHIRConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	OrganizationID string `mapstructure:"organization_id"`
}

type LoggingConfig struct {
	Level               string `mapstructure:"level"`
	AuditLogPath        string `mapstructure:"audit_log_path"`
	EnablePHIEncryption bool   `mapstructure:"enable_phi_encryption"`
}

// Load reads config.toml from the working directory (optional) and applies
// environment overrides with prefix MEDHEALTH and key separator "__", e.g.
// MEDHEALTH__JWT__SECRET overrides jwt.secret.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile("config.toml")
	v.SetConfigType("toml")
	v.SetEnvPrefix("MEDHEALTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.bind_addr", "0.0.0.0:8080")
	v.SetDefault("server.workers", 0)
	v.SetDefault("database.max_connections", 20)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("redis.url", "redis://localhost:6379")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("jwt.expiration_hours", 24)
	v.SetDefault("jwt.refresh_token_days", 7)
	v.SetDefault("auth.max_failed_logins", 5)
	v.SetDefault("auth.lockout_minutes", 15)
	v.SetDefault("cors.allowed_origins", "http://localhost:3000")
	v.SetDefault("device.replay_window_seconds", 60)
	v.SetDefault("ml.anomaly_threshold", 0.85)
	v.SetDefault("ml.enable_alerts", true)
	v.SetDefault("ml.critical_hr_low", 40)
	v.SetDefault("ml.critical_hr_high", 180)
	v.SetDefault("ml.critical_spo2_low", 88)
	v.SetDefault("fhir.base_url", "http://localhost:8080/fhir")
	v.SetDefault("fhir.organization_id", "medhealth-org-001")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.audit_log_path", "")
	v.SetDefault("logging.enable_phi_encryption", false)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"server.bind_addr", "server.workers",
		"database.url", "database.max_connections", "database.min_connections",
		"redis.url", "redis.pool_size",
		"jwt.secret", "jwt.expiration_hours", "jwt.refresh_token_days",
		"auth.max_failed_logins", "auth.lockout_minutes",
		"cors.allowed_origins",
		"device.secret", "device.replay_window_seconds",
		"ml.anomaly_threshold", "ml.enable_alerts",
		"ml.critical_hr_low", "ml.critical_hr_high", "ml.critical_spo2_low",
		"fhir.base_url", "fhir.organization_id",
		"logging.level", "logging.audit_log_path", "logging.enable_phi_encryption",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	// Try reading config.toml, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// allowed_origins accepts either a TOML list or a comma-separated string
	// (the env override is always a string).
	if len(cfg.CORS.AllowedOrigins) == 1 && strings.Contains(cfg.CORS.AllowedOrigins[0], ",") {
		cfg.CORS.AllowedOrigins = splitOrigins(cfg.CORS.AllowedOrigins[0])
	} else if len(cfg.CORS.AllowedOrigins) == 0 {
		if raw := v.GetString("cors.allowed_origins"); raw != "" {
			cfg.CORS.AllowedOrigins = splitOrigins(raw)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// Validate checks that the configuration is safe to run. The JWT and
// device secrets have no defaults and must be provided.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("jwt.secret must be at least 32 characters, got %d", len(c.JWT.Secret))
	}
	if c.JWT.ExpirationHours <= 0 {
		return fmt.Errorf("jwt.expiration_hours must be positive, got %d", c.JWT.ExpirationHours)
	}
	if c.Device.Secret == "" {
		return fmt.Errorf("device.secret is required")
	}
	if c.Device.ReplayWindowSeconds <= 0 {
		return fmt.Errorf("device.replay_window_seconds must be positive, got %d", c.Device.ReplayWindowSeconds)
	}
	if c.ML.AnomalyThreshold < 0 || c.ML.AnomalyThreshold > 1 {
		return fmt.Errorf("ml.anomaly_threshold must be in [0,1], got %g", c.ML.AnomalyThreshold)
	}
	if c.ML.CriticalHRLow >= c.ML.CriticalHRHigh {
		return fmt.Errorf("ml.critical_hr_low (%d) must be below ml.critical_hr_high (%d)",
			c.ML.CriticalHRLow, c.ML.CriticalHRHigh)
	}
	if c.Database.MinConnections > c.Database.MaxConnections {
		return fmt.Errorf("database.min_connections (%d) exceeds database.max_connections (%d)",
			c.Database.MinConnections, c.Database.MaxConnections)
	}
	return nil
}

// TokenLifetime returns the access-token lifetime in seconds.
func (c *Config) TokenLifetime() int64 {
	return c.JWT.ExpirationHours * 3600
}
