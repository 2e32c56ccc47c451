package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process-level configuration for the attestation service.
type Server struct {
	Addr          string
	JWTSigningKey string
	WebhookSecret string

	Provider ProviderConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	Kafka    KafkaConfig
}

// ProviderConfig points at the hosted identity-verification provider.
type ProviderConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// RedisConfig holds connection settings for the nonce store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// PostgresConfig holds the session-store DSN. Empty means in-memory stores.
type PostgresConfig struct {
	DSN string
}

// KafkaConfig enables the optional event sink when brokers are set.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// NonceTTL bounds how long an issued login nonce stays valid.
var NonceTTL = 5 * time.Minute

// WebhookMaxSkew bounds the accepted age of a signed webhook timestamp.
var WebhookMaxSkew = 5 * time.Minute

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("VEIL_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	webhookSecret := os.Getenv("KYC_WEBHOOK_SECRET")
	if webhookSecret == "" {
		// Use a default for development - should be overridden in production
		webhookSecret = "dev-webhook-secret-change-in-production"
	}

	cfg := Server{
		Addr:          addr,
		JWTSigningKey: jwtSigningKey,
		WebhookSecret: webhookSecret,
		Provider: ProviderConfig{
			BaseURL: os.Getenv("KYC_PROVIDER_URL"),
			APIKey:  os.Getenv("KYC_PROVIDER_API_KEY"),
			Timeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Postgres: PostgresConfig{
			DSN: os.Getenv("POSTGRES_DSN"),
		},
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka = KafkaConfig{
			Brokers: strings.Split(brokers, ","),
			Topic:   envOr("KAFKA_EVENTS_TOPIC", "veil.events"),
		}
	}

	return cfg
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
