// Package config loads runtime configuration from the environment so main
// stays lean.
package config

import (
	"os"
	"strings"
	"time"
)

// Config captures everything the server needs at startup. Empty DatabaseURL
// selects the in-memory stores; empty RedisAddr keeps the verification flow
// in process memory; empty KafkaBrokers disables the audit outbox worker.
type Config struct {
	Addr string

	DatabaseURL  string
	RedisAddr    string
	KafkaBrokers []string
	AuditTopic   string

	SecretKey        string
	JWTSigningKey    string
	JWTTTL           time.Duration
	CertNumberPrefix string
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	cfg := Config{
		Addr:             getenv("CERTREG_ADDR", ":8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		AuditTopic:       getenv("AUDIT_TOPIC", "certreg.audit"),
		SecretKey:        getenv("SECRET_KEY", "dev-secret-key-change-in-production"),
		JWTSigningKey:    getenv("JWT_SIGNING_KEY", "dev-signing-key-change-in-production"),
		JWTTTL:           12 * time.Hour,
		CertNumberPrefix: getenv("CERT_NUMBER_PREFIX", "MWHWR"),
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	if ttl := os.Getenv("JWT_TTL"); ttl != "" {
		if parsed, err := time.ParseDuration(ttl); err == nil {
			cfg.JWTTTL = parsed
		}
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
