package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr        string
	LogLevel    string
	RedisURL    string
	DatabaseURL string

	// SecretKey signs access tokens. The server refuses to start without
	// it unless a Secrets Manager name is configured instead.
	SecretKey       string
	TokenTTL        time.Duration
	AdminSecretHash string

	OTLPEndpoint string

	AWSRegion       string
	SecretName      string
	AlertTopicARN   string
	IngestQueueURL  string

	// QPSOverride forces one rate limit for every tenant when positive.
	QPSOverride int64

	QuotaCacheTTL time.Duration

	// MaxQuotaLimits bounds what an admin quota update may set.
	MaxQuotaVectors   int64
	MaxQuotaQPS       int64
	MaxQuotaStorageGB int64
	MaxQuotaRepos     int64

	// Graceful shutdown
	ShutdownTimeout time.Duration
	DrainTimeout    time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Addr:              getEnv("ADDR", ":8080"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		RedisURL:          getEnv("REDIS_URL", ""),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		SecretKey:         getEnv("SECRET_KEY", ""),
		TokenTTL:          getDurationEnv("TOKEN_TTL", 30*time.Minute),
		AdminSecretHash:   getEnv("ADMIN_SECRET_HASH", ""),
		OTLPEndpoint:      getEnv("OTLP_ENDPOINT", ""),
		AWSRegion:         getEnv("AWS_REGION", ""),
		SecretName:        getEnv("SECRETS_NAME", ""),
		AlertTopicARN:     getEnv("ALERT_TOPIC_ARN", ""),
		IngestQueueURL:    getEnv("INGEST_QUEUE_URL", ""),
		QPSOverride:       getInt64Env("QPS_OVERRIDE", 0),
		QuotaCacheTTL:     getDurationEnv("QUOTA_CACHE_TTL", 5*time.Minute),
		MaxQuotaVectors:   getInt64Env("MAX_QUOTA_VECTORS", 10_000_000),
		MaxQuotaQPS:       getInt64Env("MAX_QUOTA_QPS", 1000),
		MaxQuotaStorageGB: getInt64Env("MAX_QUOTA_STORAGE_GB", 1000),
		MaxQuotaRepos:     getInt64Env("MAX_QUOTA_REPOS", 500),
		ShutdownTimeout:   getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		DrainTimeout:      getDurationEnv("DRAIN_TIMEOUT", 15*time.Second),
	}

	return cfg, nil
}

// MaxQuotaLimits returns the admin update bounds keyed by quota name.
func (c *Config) MaxQuotaLimits() map[string]int64 {
	return map[string]int64{
		"vectors":    c.MaxQuotaVectors,
		"qps":        c.MaxQuotaQPS,
		"storage_gb": c.MaxQuotaStorageGB,
		"repos":      c.MaxQuotaRepos,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}
