// Package config builds runtime configuration from environment variables so
// main stays lean.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures the service configuration.
type Server struct {
	Addr          string
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string

	// DatabaseURL selects the Postgres stack; empty falls back to the
	// in-memory stores (development only).
	DatabaseURL string
	// RedisURL enables the Redis verification record store.
	RedisURL string

	// KafkaBrokers enables the outbox relay when non-empty.
	KafkaBrokers  []string
	EventsTopic   string
	RelayInterval time.Duration
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	cfg := Server{
		Addr:          getenv("ATTEST_ADDR", ":8080"),
		JWTSigningKey: getenv("ATTEST_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		JWTIssuer:     getenv("ATTEST_JWT_ISSUER", "attest"),
		JWTAudience:   getenv("ATTEST_JWT_AUDIENCE", "profile-api"),
		DatabaseURL:   os.Getenv("ATTEST_DATABASE_URL"),
		RedisURL:      os.Getenv("ATTEST_REDIS_URL"),
		EventsTopic:   getenv("ATTEST_EVENTS_TOPIC", "account-events"),
		RelayInterval: getduration("ATTEST_RELAY_INTERVAL", time.Second),
	}
	if brokers := os.Getenv("ATTEST_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitList(brokers)
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getduration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
