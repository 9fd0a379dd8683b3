package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds shared runtime configuration for the dashboard API.
type Config struct {
	Env                string
	HTTPPort           string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	JobsDBPath         string
	AuditDBPath        string
	ProvisionDBPath    string
	UpstreamTimeout    time.Duration
	BatchFetchTimeout  time.Duration
	SingleFetchTimeout time.Duration
	DefaultCacheTTL    time.Duration
	CacheSweepInterval time.Duration
	SessionTTL         time.Duration
	RateLimitCapacity  int
	RateLimitRefill    float64
	MaxJobListLimit    int
}

// Load reads configuration from environment variables with sane defaults for local development.
func Load() Config {
	return Config{
		Env:                getEnv("APP_ENV", "dev"),
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		JobsDBPath:         getEnv("JOBS_DB_PATH", "jobs.db"),
		AuditDBPath:        getEnv("AUDIT_DB_PATH", "audit.db"),
		ProvisionDBPath:    getEnv("PROVISION_DB_PATH", "prod_customer_data.db"),
		UpstreamTimeout:    getEnvDuration("UPSTREAM_TIMEOUT", 35*time.Second),
		BatchFetchTimeout:  getEnvDuration("BATCH_FETCH_TIMEOUT", 30*time.Second),
		SingleFetchTimeout: getEnvDuration("SINGLE_FETCH_TIMEOUT", 10*time.Second),
		DefaultCacheTTL:    getEnvDuration("CACHE_TTL", 30*time.Minute),
		CacheSweepInterval: getEnvDuration("CACHE_SWEEP_INTERVAL", 10*time.Minute),
		SessionTTL:         getEnvDuration("SESSION_TTL", 30*time.Minute),
		RateLimitCapacity:  getEnvInt("RATE_LIMIT_CAPACITY", 50),
		RateLimitRefill:    getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", 20),
		MaxJobListLimit:    getEnvInt("MAX_JOB_LIST_LIMIT", 500),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
