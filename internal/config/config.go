package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all environment configuration values for the application.
// These values are loaded from a .env file at startup.
type Config struct {
	// ServerPort is the port the HTTP server listens on
	ServerPort string

	// BaseURL is the public URL embedded in shareable links
	BaseURL string

	// StoreType selects the thread store backend: "redis" or "memory"
	StoreType string

	// Redis connection settings, used when StoreType is "redis"
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// BlobBackend selects where audio is stored: "filesystem" or "s3"
	BlobBackend string

	// UploadDir is the audio directory for the filesystem backend
	UploadDir string

	// S3 settings, used when BlobBackend is "s3"
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool

	// UploadTimeout bounds a single audio blob write
	UploadTimeout time.Duration

	// CleanupEnabled starts the expired-thread reaper
	CleanupEnabled  bool
	CleanupInterval time.Duration

	// Rate limiting per client IP
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	// StaticDir serves the frontend shell when set and present
	StaticDir string
}

// Load reads environment variables and returns a populated Config struct.
// It will load from a .env file if present, then read from environment
// variables. Falls back to sensible defaults for local development.
func Load() *Config {
	// Attempt to load .env file - not an error if it doesn't exist
	// as we may be running in production with real environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		ServerPort: getEnv("PORT", "8080"),
		BaseURL:    getEnv("BASE_URL", "http://localhost:8080"),

		StoreType:     getEnv("STORE_TYPE", "memory"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		BlobBackend: getEnv("BLOB_BACKEND", "filesystem"),
		UploadDir:   getEnv("UPLOAD_DIR", "uploads"),

		S3Endpoint:  getEnv("S3_ENDPOINT", "localhost:9000"),
		S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("S3_SECRET_KEY", ""),
		S3Bucket:    getEnv("S3_BUCKET", "echo-voices"),
		S3UseSSL:    getEnvBool("S3_USE_SSL", false),

		UploadTimeout: getEnvDuration("UPLOAD_TIMEOUT", 30*time.Second),

		CleanupEnabled:  getEnvBool("CLEANUP_ENABLED", true),
		CleanupInterval: getEnvDuration("CLEANUP_INTERVAL", 10*time.Minute),

		RateLimitEnabled: getEnvBool("RATE_LIMIT_ENABLED", false),
		RateLimitRPS:     getEnvFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:   getEnvInt("RATE_LIMIT_BURST", 30),

		StaticDir: getEnv("STATIC_DIR", ""),
	}

	if config.StoreType == "memory" {
		log.Println("WARNING: STORE_TYPE is memory; threads will not survive a restart")
	}
	if config.BlobBackend == "s3" && config.S3AccessKey == "" {
		log.Println("WARNING: S3 blob backend selected but S3_ACCESS_KEY is not set")
	}

	return config
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
