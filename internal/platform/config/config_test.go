package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("JWT_SECRET", "test-secret-at-least-16-chars")
}

func TestLoad_AllRequiredVarsSet(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
	assert.Equal(t, "test-secret-at-least-16-chars", cfg.JWTSecret)
	assert.Empty(t, cfg.RedisURL)
}

func TestLoad_MissingRequired(t *testing.T) {
	tests := []struct {
		name    string
		skipEnv string
		wantErr string
	}{
		{"missing DATABASE_URL", "DATABASE_URL", "DATABASE_URL is required"},
		{"missing JWT_SECRET", "JWT_SECRET", "JWT_SECRET is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.skipEnv, "")

			_, err := Load()
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}
}

func TestLoad_ShortJWTSecret(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("JWT_SECRET", "short")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET must be at least 16 characters")
}

func TestLoad_DefaultValues(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 10000, cfg.MaxWebSocketConnections)
	assert.Equal(t, 20, cfg.MaxConnectionsPerIP)
	assert.InDelta(t, 10.0, cfg.ConnectionRate, 0.001)
	assert.Equal(t, 32, cfg.SendBufferSize)
	assert.Equal(t, 10, cfg.StockAlertThreshold)
	assert.Equal(t, "medidash.events", cfg.KafkaTopic)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_CustomPortAndEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("APP_ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.IsProduction())
}

func TestLoad_InvalidLimits(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SEND_BUFFER_SIZE", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SEND_BUFFER_SIZE")
}

func TestBrokers(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"empty", "", nil},
		{"single", "kafka:9092", []string{"kafka:9092"}},
		{"multiple with spaces", "a:9092, b:9092 ,,c:9092", []string{"a:9092", "b:9092", "c:9092"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{KafkaBrokers: tt.raw}
			assert.Equal(t, tt.want, cfg.Brokers())
		})
	}
}
