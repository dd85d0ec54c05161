package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Valkey
	ValkeyHost     string
	ValkeyPort     string
	ValkeyPassword string

	// Server
	Port    string
	GinMode string

	// Ingest pipeline
	CacheDir       string
	FailureDir     string
	LockFile       string
	IngestWorkers  int
	StepSeconds    int64
	CacheMinAge    time.Duration
	IngestInterval time.Duration
	DBTimeout      time.Duration

	// Cleaner
	RetentionDays           int
	QuarantineRetentionDays int
	DryRun                  bool

	LogLevel string
}

func Load() *Config {
	return &Config{
		// Database
		DBHost:     getEnv("DB_HOST", "postgres"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "infoset"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		// Valkey
		ValkeyHost:     getEnv("VALKEY_HOST", "valkey"),
		ValkeyPort:     getEnv("VALKEY_PORT", "6379"),
		ValkeyPassword: getEnv("VALKEY_PASSWORD", ""),

		// Server
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// Ingest pipeline
		CacheDir:       getEnv("CACHE_DIR", "/var/cache/infoset/ingest"),
		FailureDir:     getEnv("FAILURE_DIR", "/var/cache/infoset/failures"),
		LockFile:       getEnv("LOCK_FILE", "/var/cache/infoset/ingest.lock"),
		IngestWorkers:  getEnvInt("INGEST_WORKERS", 20),
		StepSeconds:    int64(getEnvInt("STEP_SECONDS", 300)),
		CacheMinAge:    time.Duration(getEnvInt("CACHE_MIN_AGE", 15)) * time.Second,
		IngestInterval: time.Duration(getEnvInt("INGEST_INTERVAL", 60)) * time.Second,
		DBTimeout:      time.Duration(getEnvInt("DB_TIMEOUT", 30)) * time.Second,

		// Cleaner
		RetentionDays:           getEnvInt("RETENTION_DAYS", 90),
		QuarantineRetentionDays: getEnvInt("QUARANTINE_RETENTION_DAYS", 14),
		DryRun:                  getEnv("DRY_RUN", "false") == "true",

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode,
	)
}

func (c *Config) GetValkeyAddress() string {
	return fmt.Sprintf("%s:%s", c.ValkeyHost, c.ValkeyPort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
