// Package config handles application configuration.
package config

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port    int
	BaseURL string

	// Database
	DatabaseURL string

	// Authentication
	JWTSecret     string
	JWTExpiry     time.Duration
	EncryptionKey []byte // 32-byte key for AES-256-GCM encryption

	// Clerk identity webhooks
	ClerkIssuerURL     string // e.g., "https://xxx.clerk.accounts.dev"
	ClerkWebhookSecret string // Svix signing secret for Clerk webhooks

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string

	// Image generation provider
	ProviderName          string // e.g., "replicate"
	ProviderBaseURL       string
	ProviderAPIToken      string // env fallback; admin-configured DB credential wins
	ProviderWebhookSecret string // shared secret for inbound result webhooks

	// Token economics
	SignupGrantTokens int            // free tokens on account creation
	ModelCosts        map[string]int // declared token cost per model
	DefaultModelCost  int            // cost for models not in ModelCosts

	// Retry behaviour. The original accounting let retries through without
	// re-checking the balance; flip this on to require cost coverage again.
	RetryRequiresBalance bool

	// CORS
	CORSOrigins []string

	// Admin API
	AdminEnabled bool

	// Object Storage (Tigris/S3-compatible)
	StorageEnabled   bool
	StorageEndpoint  string // AWS_ENDPOINT_URL_S3 for Tigris
	StorageAccessKey string // AWS_ACCESS_KEY_ID
	StorageSecretKey string // AWS_SECRET_ACCESS_KEY
	StorageBucket    string
	StorageRegion    string

	// Cleanup
	CleanupEnabled     bool
	UsageRetention     time.Duration // how long usage events are kept (default 90 days)
	CleanupInterval    time.Duration // how often cleanup runs (default 24h)
	StaleProcessingAge time.Duration // processing generations older than this are failed

	// Worker
	WorkerPollInterval        time.Duration
	WorkerConcurrency         int
	WorkerShutdownGracePeriod time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		DatabaseURL: getEnv("DATABASE_URL", "file:pixelmint.db?_journal=WAL&_timeout=5000"),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		JWTExpiry:   getEnvDuration("JWT_EXPIRY", 15*time.Minute),

		ClerkIssuerURL:     getEnv("CLERK_ISSUER_URL", ""),
		ClerkWebhookSecret: getEnv("CLERK_WEBHOOK_SECRET", ""),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		ProviderName:          getEnv("PROVIDER_NAME", "replicate"),
		ProviderBaseURL:       getEnv("PROVIDER_BASE_URL", "https://api.replicate.com/v1"),
		ProviderAPIToken:      getEnv("PROVIDER_API_TOKEN", ""),
		ProviderWebhookSecret: getEnv("PROVIDER_WEBHOOK_SECRET", ""),

		SignupGrantTokens:    getEnvInt("SIGNUP_GRANT_TOKENS", 25),
		DefaultModelCost:     getEnvInt("DEFAULT_MODEL_COST", 4),
		RetryRequiresBalance: getEnvBool("RETRY_REQUIRES_BALANCE", false),

		CORSOrigins:  getEnvSlice("CORS_ORIGINS", []string{"http://localhost:3000"}),
		AdminEnabled: getEnvBool("ADMIN_ENABLED", true),

		// Object Storage (Tigris/S3-compatible) - uses Fly's standard env vars
		StorageEndpoint:  getEnv("AWS_ENDPOINT_URL_S3", ""),
		StorageAccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
		StorageSecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		StorageBucket:    getEnvWithFallback("BUCKET_NAME", "STORAGE_BUCKET", ""),
		StorageRegion:    getEnv("AWS_REGION", "auto"),
	}

	cfg.StorageEnabled = cfg.StorageBucket != "" && cfg.StorageEndpoint != ""

	cfg.ModelCosts = parseModelCosts(getEnv("MODEL_COSTS", "sdxl=4,flux-schnell=2,flux-pro=8,kandinsky=4"))

	// Cleanup configuration
	cfg.CleanupEnabled = getEnvBool("CLEANUP_ENABLED", true)
	cfg.UsageRetention = getEnvDuration("USAGE_RETENTION", 90*24*time.Hour)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.StaleProcessingAge = getEnvDuration("STALE_PROCESSING_AGE", 30*time.Minute)

	// Worker configuration
	cfg.WorkerPollInterval = getEnvDuration("WORKER_POLL_INTERVAL", 5*time.Second)
	cfg.WorkerConcurrency = getEnvInt("WORKER_CONCURRENCY", 3)
	cfg.WorkerShutdownGracePeriod = getEnvDuration("WORKER_SHUTDOWN_GRACE_PERIOD", 5*time.Minute)

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	// Set up encryption key (derive from JWT secret if not explicitly set)
	encKeyStr := getEnv("ENCRYPTION_KEY", "")
	if encKeyStr != "" {
		decoded, err := base64.StdEncoding.DecodeString(encKeyStr)
		if err != nil || len(decoded) != 32 {
			return nil, fmt.Errorf("ENCRYPTION_KEY must be a base64-encoded 32-byte key")
		}
		cfg.EncryptionKey = decoded
	} else {
		cfg.EncryptionKey = deriveEncryptionKey(cfg.JWTSecret)
	}

	return cfg, nil
}

// CostForModel returns the declared token cost for a model.
func (c *Config) CostForModel(model string) int {
	if cost, ok := c.ModelCosts[model]; ok {
		return cost
	}
	return c.DefaultModelCost
}

// parseModelCosts parses "model=cost,model=cost" pairs.
func parseModelCosts(raw string) map[string]int {
	costs := make(map[string]int)
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 {
			continue
		}
		cost, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || cost <= 0 {
			continue
		}
		costs[strings.TrimSpace(parts[0])] = cost
	}
	return costs
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getEnvWithFallback(primary, fallback, defaultValue string) string {
	if value := os.Getenv(primary); value != "" {
		return value
	}
	if value := os.Getenv(fallback); value != "" {
		return value
	}
	return defaultValue
}

// deriveEncryptionKey creates a 32-byte AES-256 key from a secret string using
// HKDF. HKDF is appropriate for high-entropy secrets like JWT secrets; for
// low-entropy passwords use Argon2 instead.
func deriveEncryptionKey(secret string) []byte {
	salt := []byte("pixelmint-api-encryption-key-v1")
	info := []byte("aes-256-gcm-encryption")

	hkdfReader := hkdf.New(sha256.New, []byte(secret), salt, info)

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		panic("hkdf: failed to derive key: " + err.Error())
	}

	return key
}
