package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	AppURL    string `env:"APP_URL" default:"http://localhost:8080"`
	RedisURL  string `env:"REDIS_URL"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
	LogFile   string `env:"LOG_FILE"`

	MaxConnections       int     `env:"MAX_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP  int     `env:"MAX_CONNECTIONS_PER_IP" default:"100"`
	ConnectRatePerSecond float64 `env:"CONNECT_RATE_PER_SECOND" default:"10"`
	ConnectBurst         int     `env:"CONNECT_BURST" default:"20"`
	MaxClientsPerRoom    int     `env:"MAX_CLIENTS_PER_ROOM" default:"500"`
	SubscriberBuffer     int     `env:"SUBSCRIBER_BUFFER" default:"64"`

	KeepaliveInterval time.Duration `env:"KEEPALIVE_INTERVAL" default:"15s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// IsDevelopment reports whether the app runs in the development environment.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a number between 1 and 65535, got %q", cfg.Port)
	}

	if !slices.Contains([]string{"development", "production", "test"}, cfg.AppEnv) {
		return fmt.Errorf("APP_ENV must be one of development, production, test, got %q", cfg.AppEnv)
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", cfg.LogLevel)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	if u, err := url.Parse(cfg.AppURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("APP_URL must be an absolute URL, got %q", cfg.AppURL)
	}
	if cfg.RedisURL != "" {
		u, err := url.Parse(cfg.RedisURL)
		if err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			return errors.New("REDIS_URL must use the redis:// or rediss:// scheme")
		}
	}

	positive := map[string]int{
		"MAX_CONNECTIONS":        cfg.MaxConnections,
		"MAX_CONNECTIONS_PER_IP": cfg.MaxConnectionsPerIP,
		"CONNECT_BURST":          cfg.ConnectBurst,
		"SUBSCRIBER_BUFFER":      cfg.SubscriberBuffer,
	}
	for name, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if cfg.MaxConnectionsPerIP > cfg.MaxConnections {
		return errors.New("MAX_CONNECTIONS_PER_IP must not exceed MAX_CONNECTIONS")
	}
	if cfg.ConnectRatePerSecond <= 0 {
		return errors.New("CONNECT_RATE_PER_SECOND must be positive")
	}
	if cfg.MaxClientsPerRoom < 0 {
		return errors.New("MAX_CLIENTS_PER_ROOM must not be negative")
	}
	if cfg.KeepaliveInterval < time.Second {
		return errors.New("KEEPALIVE_INTERVAL must be at least 1s")
	}
	if cfg.ShutdownTimeout <= 0 {
		return errors.New("SHUTDOWN_TIMEOUT must be positive")
	}

	return nil
}
