// Package config resolves service addresses from the environment, with
// local-development defaults so every binary runs out of the box.
package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Load reads a .env file if one is present, then snapshots the variables
// the services care about. Missing .env is not an error.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		KafkaBrokers: splitList(getenv("KAFKA_BROKERS", "localhost:19092")),
		KafkaTopic:   getenv("KAFKA_TOPIC", "support-chat-events"),
		RedisAddr:    getenv("REDIS_ADDR", "localhost:6379"),
		ScyllaHosts:  splitList(getenv("SCYLLA_HOSTS", "localhost:9042")),
		Keyspace:     getenv("SCYLLA_KEYSPACE", "supportline"),
		GatewayAddr:  getenv("GATEWAY_ADDR", ":8080"),
		APIAddr:      getenv("API_ADDR", ":8081"),
		JWTSecret:    getenv("JWT_SECRET", "supportline-dev-secret"),
	}
}

type Config struct {
	KafkaBrokers []string
	KafkaTopic   string
	RedisAddr    string
	ScyllaHosts  []string
	Keyspace     string
	GatewayAddr  string
	APIAddr      string
	JWTSecret    string
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
