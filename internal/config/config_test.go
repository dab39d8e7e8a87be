package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	// Clear all env vars
	envVars := []string{
		"ADDR", "LOG_LEVEL", "REDIS_URL", "DATABASE_URL",
		"SECRET_KEY", "TOKEN_TTL", "ADMIN_SECRET_HASH", "OTLP_ENDPOINT",
		"AWS_REGION", "SECRETS_NAME", "ALERT_TOPIC_ARN", "INGEST_QUEUE_URL",
		"QPS_OVERRIDE", "QUOTA_CACHE_TTL",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"Addr", cfg.Addr, ":8080"},
		{"LogLevel", cfg.LogLevel, "info"},
		{"RedisURL", cfg.RedisURL, ""},
		{"DatabaseURL", cfg.DatabaseURL, ""},
		{"SecretKey", cfg.SecretKey, ""},
		{"AdminSecretHash", cfg.AdminSecretHash, ""},
		{"OTLPEndpoint", cfg.OTLPEndpoint, ""},
		{"AWSRegion", cfg.AWSRegion, ""},
		{"SecretName", cfg.SecretName, ""},
		{"AlertTopicARN", cfg.AlertTopicARN, ""},
		{"IngestQueueURL", cfg.IngestQueueURL, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.expected)
			}
		})
	}

	if cfg.TokenTTL != 30*time.Minute {
		t.Errorf("TokenTTL = %v, want 30m", cfg.TokenTTL)
	}
	if cfg.QPSOverride != 0 {
		t.Errorf("QPSOverride = %d, want 0", cfg.QPSOverride)
	}
	if cfg.QuotaCacheTTL != 5*time.Minute {
		t.Errorf("QuotaCacheTTL = %v, want 5m", cfg.QuotaCacheTTL)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 30s", cfg.ShutdownTimeout)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	envs := map[string]string{
		"ADDR":              ":9090",
		"LOG_LEVEL":         "debug",
		"REDIS_URL":         "redis://localhost:6379",
		"DATABASE_URL":      "postgres://localhost/test",
		"SECRET_KEY":        "signing-secret",
		"TOKEN_TTL":         "600",
		"ADMIN_SECRET_HASH": "$2a$10$abcdefg",
		"OTLP_ENDPOINT":     "http://jaeger:4317",
		"AWS_REGION":        "us-east-1",
		"SECRETS_NAME":      "tenantgate/prod",
		"ALERT_TOPIC_ARN":   "arn:aws:sns:us-east-1:123:alerts",
		"INGEST_QUEUE_URL":  "https://sqs.us-east-1.amazonaws.com/123/ingest",
		"QPS_OVERRIDE":      "7",
		"QUOTA_CACHE_TTL":   "120",
	}
	for k, v := range envs {
		os.Setenv(k, v)
	}
	defer func() {
		for k := range envs {
			os.Unsetenv(k)
		}
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"Addr", cfg.Addr, ":9090"},
		{"LogLevel", cfg.LogLevel, "debug"},
		{"RedisURL", cfg.RedisURL, "redis://localhost:6379"},
		{"DatabaseURL", cfg.DatabaseURL, "postgres://localhost/test"},
		{"SecretKey", cfg.SecretKey, "signing-secret"},
		{"AdminSecretHash", cfg.AdminSecretHash, "$2a$10$abcdefg"},
		{"OTLPEndpoint", cfg.OTLPEndpoint, "http://jaeger:4317"},
		{"AWSRegion", cfg.AWSRegion, "us-east-1"},
		{"SecretName", cfg.SecretName, "tenantgate/prod"},
		{"AlertTopicARN", cfg.AlertTopicARN, "arn:aws:sns:us-east-1:123:alerts"},
		{"IngestQueueURL", cfg.IngestQueueURL, "https://sqs.us-east-1.amazonaws.com/123/ingest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.expected)
			}
		})
	}

	if cfg.TokenTTL != 10*time.Minute {
		t.Errorf("TokenTTL = %v, want 10m", cfg.TokenTTL)
	}
	if cfg.QPSOverride != 7 {
		t.Errorf("QPSOverride = %d, want 7", cfg.QPSOverride)
	}
	if cfg.QuotaCacheTTL != 2*time.Minute {
		t.Errorf("QuotaCacheTTL = %v, want 2m", cfg.QuotaCacheTTL)
	}
}

func TestMaxQuotaLimits(t *testing.T) {
	os.Setenv("MAX_QUOTA_QPS", "250")
	defer os.Unsetenv("MAX_QUOTA_QPS")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	limits := cfg.MaxQuotaLimits()
	if limits["qps"] != 250 {
		t.Errorf("qps bound = %d, want 250", limits["qps"])
	}
	for _, key := range []string{"vectors", "qps", "storage_gb", "repos"} {
		if limits[key] <= 0 {
			t.Errorf("%s bound missing or non-positive: %d", key, limits[key])
		}
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		envValue     string
		defaultValue string
		expected     string
	}{
		{"env set", "TEST_VAR", "custom", "default", "custom"},
		{"env not set", "TEST_VAR_UNSET", "", "default", "default"},
		{"env empty", "TEST_VAR_EMPTY", "", "default", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.expected {
				t.Errorf("getEnv(%q, %q) = %q, want %q", tt.key, tt.defaultValue, got, tt.expected)
			}
		})
	}
}

func TestGetInt64Env(t *testing.T) {
	os.Setenv("TEST_INT", "42")
	defer os.Unsetenv("TEST_INT")

	if got := getInt64Env("TEST_INT", 5); got != 42 {
		t.Errorf("getInt64Env = %d, want 42", got)
	}
	if got := getInt64Env("TEST_INT_UNSET", 5); got != 5 {
		t.Errorf("getInt64Env default = %d, want 5", got)
	}

	os.Setenv("TEST_INT_BAD", "not-a-number")
	defer os.Unsetenv("TEST_INT_BAD")
	if got := getInt64Env("TEST_INT_BAD", 5); got != 5 {
		t.Errorf("getInt64Env malformed = %d, want default 5", got)
	}
}
