package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const minJWTSecretLength = 16

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	Port        string `env:"PORT" default:"8080"`
	AppURL      string `env:"APP_URL" default:"http://localhost:8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	JWTSecret   string `env:"JWT_SECRET"`
	JWTIssuer   string `env:"JWT_ISSUER"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`

	NotifyAPIKey string `env:"NOTIFY_API_KEY"`

	KafkaBrokers string `env:"KAFKA_BROKERS"`
	KafkaTopic   string `env:"KAFKA_TOPIC" default:"medidash.events"`
	KafkaGroupID string `env:"KAFKA_GROUP_ID" default:"medidash-realtime"`

	MaxWebSocketConnections int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP     int     `env:"MAX_CONNECTIONS_PER_IP" default:"20"`
	ConnectionRate          float64 `env:"CONNECTION_RATE" default:"10"`
	ConnectionBurst         int     `env:"CONNECTION_BURST" default:"20"`
	SendBufferSize          int     `env:"SEND_BUFFER_SIZE" default:"32"`

	StockAlertThreshold int `env:"STOCK_ALERT_THRESHOLD" default:"10"`

	// OTLPEndpoint is a host:port for the OTLP gRPC trace exporter. Empty disables export.
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `env:"OTEL_EXPORTER_OTLP_INSECURE" default:"true"`
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

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Brokers splits KAFKA_BROKERS into addresses. Empty means the Kafka ingress is off.
func (c *Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func validate(cfg *Config) error {
	required := []struct{ name, value string }{
		{"DATABASE_URL", cfg.DatabaseURL},
		{"JWT_SECRET", cfg.JWTSecret},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}

	if len(cfg.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters", minJWTSecretLength)
	}

	if cfg.RedisURL != "" {
		if _, err := url.Parse(cfg.RedisURL); err != nil {
			return fmt.Errorf("REDIS_URL is not a valid URL: %w", err)
		}
	}

	if cfg.MaxWebSocketConnections <= 0 || cfg.MaxConnectionsPerIP <= 0 {
		return errors.New("MAX_WEBSOCKET_CONNECTIONS and MAX_CONNECTIONS_PER_IP must be positive")
	}
	if cfg.ConnectionRate <= 0 || cfg.ConnectionBurst <= 0 {
		return errors.New("CONNECTION_RATE and CONNECTION_BURST must be positive")
	}
	if cfg.SendBufferSize <= 0 {
		return errors.New("SEND_BUFFER_SIZE must be positive")
	}
	if cfg.StockAlertThreshold < 0 {
		return errors.New("STOCK_ALERT_THRESHOLD must not be negative")
	}

	return nil
}
