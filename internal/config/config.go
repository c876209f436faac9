// Package config provides configuration management for the webhook verifier.
// It loads settings from environment variables with sensible defaults and
// validates them so the service refuses to start half-configured.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FILE: Log file path (default: stdout)
//   - TLS_CERT, TLS_KEY: Serve HTTPS when both are set
//   - MAX_BODY_BYTES: Largest accepted webhook body (default: 1048576)
//
// Provider Secrets (a route is registered for every secret that is set):
//   - STRIPE_WEBHOOK_SECRET
//   - GITHUB_WEBHOOK_SECRET
//   - SLACK_SIGNING_SECRET
//   - SHOPIFY_WEBHOOK_SECRET
//   - TWILIO_AUTH_TOKEN
//   - CONFIG_ENCRYPTION_KEY: Passphrase for secrets written as "enc:<ciphertext>"
//
// Replay Protection:
//   - REPLAY_PROTECTION_ENABLED: Enable timestamp and nonce checks (default: true)
//   - REPLAY_TOLERANCE_SECONDS: Accepted timestamp skew and nonce lifetime (default: 300)
//   - NONCE_STORE: memory, redis, sqlite or postgres (default: memory)
//   - NONCE_SWEEP_INTERVAL: Expired nonce purge interval (default: 60s)
//   - NONCE_SQLITE_PATH: SQLite file for the sqlite store (default: ./webhook_nonces.db)
//   - NONCE_POSTGRES_DSN: Connection string for the postgres store
//   - NONCE_KEY_PREFIX: Redis key prefix (default: webhook:nonce:)
//   - LOG_VERIFICATION_ATTEMPTS: Log every rejected delivery (default: false)
//
// Redis Configuration (NONCE_STORE=redis):
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//
// Rate Limiting (per sender IP and route):
//   - RATE_LIMIT_ENABLED: Throttle webhook routes (default: false)
//   - RATE_LIMIT_RPS: Sustained requests per second per sender (default: 10)
//   - RATE_LIMIT_BURST: Burst size per sender (default: 20)
//   - RATE_LIMIT_TRUST_PROXY: Key senders on X-Forwarded-For/X-Real-IP instead of the peer address (default: false)
//
// Custom Routes:
//   - ROUTES_FILE: JSON file with additional route definitions, see LoadRoutes
//
// Example usage:
//
//	cfg := config.Load()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"webhook-verifier/internal/crypto"
	"webhook-verifier/internal/ratelimit"
	"webhook-verifier/internal/redis"
	"webhook-verifier/internal/replay"
	"webhook-verifier/internal/signature"
)

// Config holds all configuration values for the webhook verifier. Numeric
// values are kept as the raw environment strings and parsed by Validate and
// the typed accessors.
type Config struct {
	// Application settings
	Port         string // Server port number
	LogLevel     string // Logging level (debug, info, warn, error)
	LogFile      string // Log file path, stdout when empty
	TLSCert      string // TLS certificate file
	TLSKey       string // TLS private key file
	MaxBodyBytes string // Largest accepted request body in bytes

	// Provider secrets, plain or "enc:" ciphertext
	StripeSecret  string
	GitHubSecret  string
	SlackSecret   string
	ShopifySecret string
	TwilioToken   string

	// Encryption configuration
	EncryptionKey string // Passphrase for "enc:" secrets

	// Replay protection
	ReplayEnabled           bool   // Whether timestamp and nonce checks run
	ReplayTolerance         string // Tolerance window in seconds
	LogVerificationAttempts bool   // Log every rejected delivery
	NonceStore              string // memory, redis, sqlite or postgres
	NonceSweepInterval      string // Expired nonce purge interval (e.g., "60s")
	NonceSQLitePath         string // SQLite database file
	NoncePostgresDSN        string // PostgreSQL connection string
	NonceKeyPrefix          string // Redis key prefix

	// Redis configuration for the redis nonce store
	RedisAddress  string // Redis server address (host:port)
	RedisPassword string // Redis authentication password
	RedisDB       string // Redis database number (0-15)
	RedisPoolSize string // Redis connection pool size

	// Rate limiting for webhook routes
	RateLimitEnabled bool   // Whether per-sender throttling is active
	RateLimitRPS     string // Sustained requests per second
	RateLimitBurst   string // Token bucket size
	// RateLimitTrustProxy keys senders on proxy headers. Only safe behind a
	// proxy that overwrites them.
	RateLimitTrustProxy bool

	// RoutesFile points at a JSON list of extra routes
	RoutesFile string
}

// Load creates a new Config instance with values loaded from environment variables.
// If an environment variable is not set, the corresponding default value is used.
//
// This function does not validate the configuration; call Validate() on the
// returned Config before use.
func Load() *Config {
	return &Config{
		Port:         getEnv("PORT", "8080"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFile:      getEnv("LOG_FILE", ""),
		TLSCert:      getEnv("TLS_CERT", ""),
		TLSKey:       getEnv("TLS_KEY", ""),
		MaxBodyBytes: getEnv("MAX_BODY_BYTES", "1048576"),

		StripeSecret:  getEnv("STRIPE_WEBHOOK_SECRET", ""),
		GitHubSecret:  getEnv("GITHUB_WEBHOOK_SECRET", ""),
		SlackSecret:   getEnv("SLACK_SIGNING_SECRET", ""),
		ShopifySecret: getEnv("SHOPIFY_WEBHOOK_SECRET", ""),
		TwilioToken:   getEnv("TWILIO_AUTH_TOKEN", ""),

		EncryptionKey: getEnv("CONFIG_ENCRYPTION_KEY", ""),

		ReplayEnabled:           getBoolEnv("REPLAY_PROTECTION_ENABLED", true),
		ReplayTolerance:         getEnv("REPLAY_TOLERANCE_SECONDS", "300"),
		LogVerificationAttempts: getBoolEnv("LOG_VERIFICATION_ATTEMPTS", false),
		NonceStore:              getEnv("NONCE_STORE", replay.StoreMemory),
		NonceSweepInterval:      getEnv("NONCE_SWEEP_INTERVAL", "60s"),
		NonceSQLitePath:         getEnv("NONCE_SQLITE_PATH", "./webhook_nonces.db"),
		NoncePostgresDSN:        getEnv("NONCE_POSTGRES_DSN", ""),
		NonceKeyPrefix:          getEnv("NONCE_KEY_PREFIX", replay.DefaultKeyPrefix),

		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),

		RateLimitEnabled:    getBoolEnv("RATE_LIMIT_ENABLED", false),
		RateLimitRPS:        getEnv("RATE_LIMIT_RPS", "10"),
		RateLimitBurst:      getEnv("RATE_LIMIT_BURST", "20"),
		RateLimitTrustProxy: getBoolEnv("RATE_LIMIT_TRUST_PROXY", false),

		RoutesFile: getEnv("ROUTES_FILE", ""),
	}
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv retrieves a boolean environment variable value or returns a default value.
// Values strconv.ParseBool rejects fall back to the default.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate checks field formats and cross-field requirements.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("TLS_CERT and TLS_KEY must be set together")
	}

	if n, err := strconv.ParseInt(c.MaxBodyBytes, 10, 64); err != nil || n <= 0 {
		return fmt.Errorf("MAX_BODY_BYTES must be a positive integer")
	}

	if secs, err := strconv.Atoi(c.ReplayTolerance); err != nil || secs <= 0 {
		return fmt.Errorf("REPLAY_TOLERANCE_SECONDS must be a positive integer")
	}

	if d, err := time.ParseDuration(c.NonceSweepInterval); err != nil || d <= 0 {
		return fmt.Errorf("NONCE_SWEEP_INTERVAL must be a positive duration (e.g., 60s)")
	}

	switch c.NonceStore {
	case replay.StoreMemory:
	case replay.StoreRedis:
		if c.RedisAddress == "" {
			return fmt.Errorf("REDIS_ADDRESS is required when NONCE_STORE is redis")
		}
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if size, err := strconv.Atoi(c.RedisPoolSize); err != nil || size < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
	case replay.StoreSQLite:
		if c.NonceSQLitePath == "" {
			return fmt.Errorf("NONCE_SQLITE_PATH is required when NONCE_STORE is sqlite")
		}
	case replay.StorePostgres:
		if c.NoncePostgresDSN == "" {
			return fmt.Errorf("NONCE_POSTGRES_DSN is required when NONCE_STORE is postgres")
		}
	default:
		return fmt.Errorf("NONCE_STORE must be one of memory, redis, sqlite, postgres")
	}

	if c.RateLimitEnabled {
		if rps, err := strconv.ParseFloat(c.RateLimitRPS, 64); err != nil || rps <= 0 {
			return fmt.Errorf("RATE_LIMIT_RPS must be a positive number")
		}
		if burst, err := strconv.Atoi(c.RateLimitBurst); err != nil || burst < 1 {
			return fmt.Errorf("RATE_LIMIT_BURST must be a positive integer")
		}
	}

	if c.EncryptionKey == "" {
		for env, value := range c.secretsByEnv() {
			if crypto.IsEncrypted(value) {
				return fmt.Errorf("%s is encrypted but CONFIG_ENCRYPTION_KEY is not set", env)
			}
		}
	}

	return nil
}

func (c *Config) secretsByEnv() map[string]string {
	return map[string]string{
		"STRIPE_WEBHOOK_SECRET":  c.StripeSecret,
		"GITHUB_WEBHOOK_SECRET":  c.GitHubSecret,
		"SLACK_SIGNING_SECRET":   c.SlackSecret,
		"SHOPIFY_WEBHOOK_SECRET": c.ShopifySecret,
		"TWILIO_AUTH_TOKEN":      c.TwilioToken,
	}
}

// SecretBox returns the decryptor for "enc:" values, or nil when no
// encryption key is configured.
func (c *Config) SecretBox() (*crypto.SecretBox, error) {
	if c.EncryptionKey == "" {
		return nil, nil
	}
	return crypto.NewSecretBox(c.EncryptionKey)
}

// ProviderSecrets returns the decrypted secrets of the built-in providers
// that have one configured.
func (c *Config) ProviderSecrets(box *crypto.SecretBox) (map[string]string, error) {
	raw := map[string]string{
		signature.ProviderStripe:  c.StripeSecret,
		signature.ProviderGitHub:  c.GitHubSecret,
		signature.ProviderSlack:   c.SlackSecret,
		signature.ProviderShopify: c.ShopifySecret,
		signature.ProviderTwilio:  c.TwilioToken,
	}

	secrets := make(map[string]string, len(raw))
	for provider, value := range raw {
		if value == "" {
			continue
		}
		secret, err := crypto.Reveal(box, value)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt %s secret: %w", provider, err)
		}
		secrets[provider] = secret
	}
	return secrets, nil
}

// ReplayToleranceDuration returns the tolerance window, falling back to the
// default when the raw value is invalid.
func (c *Config) ReplayToleranceDuration() time.Duration {
	secs, err := strconv.Atoi(c.ReplayTolerance)
	if err != nil || secs <= 0 {
		return replay.DefaultTolerance
	}
	return time.Duration(secs) * time.Second
}

// SweepInterval returns the nonce purge interval.
func (c *Config) SweepInterval() time.Duration {
	d, err := time.ParseDuration(c.NonceSweepInterval)
	if err != nil || d <= 0 {
		return replay.DefaultSweepInterval
	}
	return d
}

// MaxBodySize returns the body limit in bytes.
func (c *Config) MaxBodySize() int64 {
	n, err := strconv.ParseInt(c.MaxBodyBytes, 10, 64)
	if err != nil || n <= 0 {
		return 1 << 20
	}
	return n
}

// StoreOptions translates the nonce store settings for replay.NewStore.
func (c *Config) StoreOptions() replay.Options {
	opts := replay.Options{
		Type:          c.NonceStore,
		SweepInterval: c.SweepInterval(),
		KeyPrefix:     c.NonceKeyPrefix,
		SQLitePath:    c.NonceSQLitePath,
		PostgresDSN:   c.NoncePostgresDSN,
	}

	if c.NonceStore == replay.StoreRedis {
		db, _ := strconv.Atoi(c.RedisDB)
		poolSize, _ := strconv.Atoi(c.RedisPoolSize)
		opts.Redis = &redis.Config{
			Address:  c.RedisAddress,
			Password: c.RedisPassword,
			DB:       db,
			PoolSize: poolSize,
		}
	}
	return opts
}

// RateLimitConfig translates the throttling settings for ratelimit.NewLimiter.
func (c *Config) RateLimitConfig() ratelimit.Config {
	cfg := ratelimit.DefaultConfig()
	cfg.Enabled = c.RateLimitEnabled
	cfg.TrustProxyHeaders = c.RateLimitTrustProxy
	if rps, err := strconv.ParseFloat(c.RateLimitRPS, 64); err == nil && rps > 0 {
		cfg.RequestsPerSecond = rps
	}
	if burst, err := strconv.Atoi(c.RateLimitBurst); err == nil && burst > 0 {
		cfg.BurstSize = burst
	}
	return cfg
}
