// pkg/config/config.go
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	HTTPAddr string // gateway-service

	// Default backend base URL (upstream-specific override via provider)
	DefaultBackendBaseURL string

	// Proxy behavior
	MountPrefix     string
	MaxRedirects    int
	MaxBodyBytes    int64
	UpstreamTimeout time.Duration

	// Optional rule/policy files
	RulesFile  string
	PolicyFile string

	// Redis & Postgres
	RedisURL         string
	DatabaseURL      string
	UpstreamCacheTTL time.Duration
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:                   env("CREWGATE_ENV", "dev"),
		HTTPAddr:              env("CREWGATE_HTTP_ADDR", ":8080"),
		DefaultBackendBaseURL: env("BACKEND_BASE_URL", "http://localhost:8000"),
		MountPrefix:           env("PROXY_MOUNT_PREFIX", ""),
		MaxRedirects:          envInt("PROXY_MAX_REDIRECTS", 3),
		MaxBodyBytes:          int64(envInt("PROXY_MAX_BODY_BYTES", 2<<20)),
		UpstreamTimeout:       envDur("UPSTREAM_TIMEOUT_SEC", 30) * time.Second,
		RulesFile:             env("GATEWAY_RULES_FILE", ""),
		PolicyFile:            env("GATEWAY_POLICY_FILE", ""),
		RedisURL:              env("REDIS_URL", ""),
		DatabaseURL:           env("DATABASE_URL", ""),
		UpstreamCacheTTL:      envDur("UPSTREAM_CACHE_TTL_SEC", 30) * time.Second,
	}
	if cfg.DatabaseURL == "" {
		log.Println("[WARN] DATABASE_URL not set — using in-memory upstream provider for dev")
	}
	return cfg
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}
func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		i, _ := strconv.Atoi(v)
		return time.Duration(i)
	}
	return time.Duration(def)
}
