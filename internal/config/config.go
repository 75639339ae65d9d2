package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rpggio/optrack/internal/engine"
	"gopkg.in/yaml.v3"
)

// Config defines server configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	DB          DBConfig          `yaml:"db"`
	Log         LogConfig         `yaml:"log"`
	Transport   TransportConfig   `yaml:"transport"`
	Auth        AuthConfig        `yaml:"auth"`
	Retention   RetentionConfig   `yaml:"retention"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Engine      engine.Config     `yaml:"engine"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DBConfig selects the activity log store. Driver is "sqlite" or "postgres".
type DBConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Path  string `yaml:"path"`
}

// TransportConfig selects "http" or "stdio".
type TransportConfig struct {
	Mode string `yaml:"mode"`
}

type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
	// DefaultUser owns every request when auth is disabled.
	DefaultUser string `yaml:"default_user"`
	// BootstrapToken, when set, is registered for BootstrapUser at startup.
	BootstrapToken string `yaml:"bootstrap_token"`
	BootstrapUser  string `yaml:"bootstrap_user"`
}

type RetentionConfig struct {
	// Days is the age after which successful records are swept. Zero disables the sweep.
	Days     int           `yaml:"days"`
	Interval time.Duration `yaml:"interval"`
}

type RateLimitConfig struct {
	// RPS is the per-user request rate. Zero disables limiting.
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// DiagnosticsConfig picks where failure reports go: "log" or "trace".
type DiagnosticsConfig struct {
	Sink string `yaml:"sink"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		DB: DBConfig{
			Driver: "sqlite",
			Path:   "optrack.db",
		},
		Log: LogConfig{
			Level: "info",
		},
		Transport: TransportConfig{
			Mode: "http",
		},
		Auth: AuthConfig{
			Enabled:     true,
			DefaultUser: "default",
		},
		Retention: RetentionConfig{
			Days:     30,
			Interval: time.Hour,
		},
		RateLimit: RateLimitConfig{
			RPS:   20,
			Burst: 40,
		},
		Engine: engine.DefaultConfig(),
		Diagnostics: DiagnosticsConfig{
			Sink: "log",
		},
	}
}

// Load reads configuration from an optional YAML file and environment variables.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("OPTRACK_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if host := os.Getenv("OPTRACK_SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if portStr := os.Getenv("OPTRACK_SERVER_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid OPTRACK_SERVER_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if driver := os.Getenv("OPTRACK_DB_DRIVER"); driver != "" {
		cfg.DB.Driver = driver
	}
	if dbPath := os.Getenv("OPTRACK_DB_PATH"); dbPath != "" {
		cfg.DB.Path = dbPath
	}
	if dsn := os.Getenv("OPTRACK_DB_DSN"); dsn != "" {
		cfg.DB.DSN = dsn
	}
	if level := os.Getenv("OPTRACK_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if logPath := os.Getenv("OPTRACK_LOG_PATH"); logPath != "" {
		cfg.Log.Path = logPath
	}
	if mode := os.Getenv("OPTRACK_TRANSPORT_MODE"); mode != "" {
		cfg.Transport.Mode = mode
	}
	if authStr := os.Getenv("OPTRACK_AUTH_ENABLED"); authStr != "" {
		enabled, err := strconv.ParseBool(authStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid OPTRACK_AUTH_ENABLED: %w", err)
		}
		cfg.Auth.Enabled = enabled
	}
	if token := os.Getenv("OPTRACK_API_KEY"); token != "" {
		cfg.Auth.BootstrapToken = token
	}
	if user := os.Getenv("OPTRACK_API_KEY_USER"); user != "" {
		cfg.Auth.BootstrapUser = user
	}
	if daysStr := os.Getenv("OPTRACK_RETENTION_DAYS"); daysStr != "" {
		days, err := strconv.Atoi(daysStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid OPTRACK_RETENTION_DAYS: %w", err)
		}
		cfg.Retention.Days = days
	}
	if rpsStr := os.Getenv("OPTRACK_RATE_LIMIT_RPS"); rpsStr != "" {
		rps, err := strconv.ParseFloat(rpsStr, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid OPTRACK_RATE_LIMIT_RPS: %w", err)
		}
		cfg.RateLimit.RPS = rps
	}
	if sink := os.Getenv("OPTRACK_DIAGNOSTICS_SINK"); sink != "" {
		cfg.Diagnostics.Sink = sink
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	switch c.DB.Driver {
	case "sqlite":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown db.driver %q", c.DB.Driver)
	}
	switch c.Transport.Mode {
	case "http", "stdio":
	default:
		return fmt.Errorf("unknown transport.mode %q", c.Transport.Mode)
	}
	switch c.Diagnostics.Sink {
	case "log", "trace":
	default:
		return fmt.Errorf("unknown diagnostics.sink %q", c.Diagnostics.Sink)
	}
	if c.Auth.BootstrapToken != "" && c.Auth.BootstrapUser == "" {
		return fmt.Errorf("auth.bootstrap_user is required with auth.bootstrap_token")
	}
	if c.Retention.Days < 0 {
		return fmt.Errorf("retention.days must not be negative")
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("rate_limit.rps must not be negative")
	}
	return nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}
