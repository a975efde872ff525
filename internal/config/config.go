package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Dan9191/bank-cards/internal/utils"
)

// Config holds application configuration
type Config struct {
	Port           string
	DBConn         string
	LogLevel       string
	MigrateOnStart bool

	// DevMode allows built-in development secrets when JWT_SECRET or
	// ENCRYPTION_KEY are unset. InsecureDefaults names the ones in use.
	DevMode          bool
	InsecureDefaults []string

	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	EncryptionKey utils.CipherKey

	RedisAddr     string
	RedisPassword string
	LockTTL       time.Duration

	TransferMaxRetries int
	TransferRetryDelay time.Duration

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SenderEmail  string

	AdminUsername string
	AdminEmail    string
	AdminPassword string
}

const (
	devJWTSecret     = "secret"
	devEncryptionKey = "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6"
)

// NewConfig loads configuration from environment variables
func NewConfig() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		DBConn:        getEnv("DB_CONN", "host=localhost port=5436 user=test password=test dbname=bank sslmode=disable"),
		LogLevel:      getEnv("LOG_LEVEL", "INFO"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SMTPHost:      getEnv("SMTP_HOST", ""),
		SMTPPort:      getEnv("SMTP_PORT", "587"),
		SMTPUsername:  getEnv("SMTP_USERNAME", ""),
		SMTPPassword:  getEnv("SMTP_PASSWORD", ""),
		SenderEmail:   getEnv("SENDER_EMAIL", "noreply@bank.local"),
		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminEmail:    getEnv("ADMIN_EMAIL", "admin@bank.local"),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),
	}

	if cfg.DBConn == "" {
		return nil, fmt.Errorf("DB_CONN is required")
	}

	var err error
	if cfg.DevMode, err = getBool("DEV_MODE", false); err != nil {
		return nil, err
	}
	if cfg.JWTSecret, err = cfg.secret("JWT_SECRET", devJWTSecret); err != nil {
		return nil, err
	}
	hexKey, err := cfg.secret("ENCRYPTION_KEY", devEncryptionKey)
	if err != nil {
		return nil, err
	}
	key, err := utils.ParseCipherKey(hexKey)
	if err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY: %w", err)
	}
	cfg.EncryptionKey = key

	if cfg.MigrateOnStart, err = getBool("MIGRATE_ON_START", true); err != nil {
		return nil, err
	}
	if cfg.AccessTokenTTL, err = getDuration("ACCESS_TOKEN_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.RefreshTokenTTL, err = getDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.LockTTL, err = getDuration("LOCK_TTL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.TransferRetryDelay, err = getDuration("TRANSFER_RETRY_DELAY", 50*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.TransferMaxRetries, err = getInt("TRANSFER_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.TransferMaxRetries < 1 {
		return nil, fmt.Errorf("TRANSFER_MAX_RETRIES must be at least 1")
	}

	return cfg, nil
}

// secret reads a required secret. Outside dev mode a missing value is an error.
func (c *Config) secret(key, devDefault string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}
	if !c.DevMode {
		return "", fmt.Errorf("%s is required", key)
	}
	c.InsecureDefaults = append(c.InsecureDefaults, key)
	return devDefault, nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, defaultVal int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, defaultVal bool) (bool, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
