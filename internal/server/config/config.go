package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port    string
	BaseURL string

	DBPath        string
	DocumentPath  string
	StoragePath   string
	RateLimitPath string
	SweepLockPath string

	MaxFilesPerRequest int
	MaxFileSize        int64
	MaxRequestSize     int64

	RateLimitMax    int
	RateLimitWindow time.Duration
	SweepInterval   time.Duration

	// DefaultTTL applies when the settings table carries no override.
	DefaultTTL time.Duration

	AdminIDsPath    string
	AdminHMACSecret string
	AdminLoginToken string
	CookieSecure    bool
}

func Load() *Config {
	// Optional .env for local development; a missing file is fine.
	_ = godotenv.Load()

	return &Config{
		Port:    getEnv("PORT", "8080"),
		BaseURL: getEnv("BASE_URL", "http://localhost:8080"),

		DBPath:        getEnv("DB_PATH", "./data/app.sqlite"),
		DocumentPath:  getEnv("DOCUMENT_PATH", "./data/uploads"),
		StoragePath:   getEnv("STORAGE_PATH", "./data/storage"),
		RateLimitPath: getEnv("RATELIMIT_PATH", "./data/ratelimit"),
		SweepLockPath: getEnv("SWEEP_LOCK_PATH", "./data/cleanup.lock"),

		MaxFilesPerRequest: getEnvInt("MAX_FILES_PER_REQUEST", 20),
		MaxFileSize:        getEnvInt64("MAX_FILE_SIZE", 10*1024*1024),
		MaxRequestSize:     getEnvInt64("MAX_REQUEST_SIZE", 50*1024*1024),

		RateLimitMax:    getEnvInt("RATE_LIMIT_MAX", 60),
		RateLimitWindow: getEnvSeconds("RATE_LIMIT_WINDOW_SECONDS", 600*time.Second),
		SweepInterval:   getEnvSeconds("SWEEP_INTERVAL_SECONDS", 300*time.Second),

		DefaultTTL: getEnvSeconds("DEFAULT_TTL_SECONDS", 48*time.Hour),

		AdminIDsPath:    getEnv("ADMIN_IDS_PATH", "./config/admin_ids.txt"),
		AdminHMACSecret: getEnv("ADMIN_HMAC_SECRET", ""),
		AdminLoginToken: getEnv("ADMIN_LOGIN_TOKEN", ""),
		CookieSecure:    getEnvBool("COOKIE_SECURE", false),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if secs, err := strconv.ParseInt(val, 10, 64); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}
