package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "http://localhost:8080", cfg.AppURL)
	assert.Empty(t, cfg.RedisURL)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 10000, cfg.MaxConnections)
	assert.Equal(t, 100, cfg.MaxConnectionsPerIP)
	assert.InDelta(t, 10.0, cfg.ConnectRatePerSecond, 0.001)
	assert.Equal(t, 20, cfg.ConnectBurst)
	assert.Equal(t, 500, cfg.MaxClientsPerRoom)
	assert.Equal(t, 64, cfg.SubscriberBuffer)
	assert.Equal(t, 15*time.Second, cfg.KeepaliveInterval)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("APP_ENV", "production")
	t.Setenv("APP_URL", "https://chat.example.com")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_FILE", "/var/log/roomcast.log")
	t.Setenv("CONNECT_RATE_PER_SECOND", "2.5")
	t.Setenv("KEEPALIVE_INTERVAL", "30s")
	t.Setenv("MAX_CLIENTS_PER_ROOM", "0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.AppEnv)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "/var/log/roomcast.log", cfg.LogFile)
	assert.InDelta(t, 2.5, cfg.ConnectRatePerSecond, 0.001)
	assert.Equal(t, 30*time.Second, cfg.KeepaliveInterval)
	assert.Zero(t, cfg.MaxClientsPerRoom)
	assert.False(t, cfg.IsDevelopment())
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"port not a number", "PORT", "http", "PORT must be a number"},
		{"port out of range", "PORT", "70000", "PORT must be a number"},
		{"unknown env", "APP_ENV", "staging", "APP_ENV must be one of"},
		{"unknown log level", "LOG_LEVEL", "trace", "LOG_LEVEL must be one of"},
		{"unknown log format", "LOG_FORMAT", "xml", "LOG_FORMAT must be text or json"},
		{"relative app url", "APP_URL", "/chat", "APP_URL must be an absolute URL"},
		{"redis url scheme", "REDIS_URL", "http://localhost:6379", "REDIS_URL must use"},
		{"zero max connections", "MAX_CONNECTIONS", "0", "MAX_CONNECTIONS must be positive"},
		{"per-ip above global", "MAX_CONNECTIONS_PER_IP", "20000", "must not exceed MAX_CONNECTIONS"},
		{"zero rate", "CONNECT_RATE_PER_SECOND", "0", "CONNECT_RATE_PER_SECOND must be positive"},
		{"negative room cap", "MAX_CLIENTS_PER_ROOM", "-1", "MAX_CLIENTS_PER_ROOM must not be negative"},
		{"zero subscriber buffer", "SUBSCRIBER_BUFFER", "0", "SUBSCRIBER_BUFFER must be positive"},
		{"keepalive too short", "KEEPALIVE_INTERVAL", "100ms", "KEEPALIVE_INTERVAL must be at least 1s"},
		{"zero shutdown timeout", "SHUTDOWN_TIMEOUT", "0s", "SHUTDOWN_TIMEOUT must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MalformedDuration(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load environment variables")
}
