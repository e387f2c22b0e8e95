package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort       string
	LogLevel       string
	PostgresDSN    string
	RedisURL       string
	MongoURI       string
	MongoDatabase  string
	JWTSecret      string
	RequestTimeout time.Duration

	DBMaxOpenConns int
	DBMaxIdleConns int
	DBConnMaxIdle  time.Duration
	DBConnMaxLife  time.Duration

	UploadDir         string
	PublicFileBaseURL string

	MessageRateLimit  int
	MessageRateWindow time.Duration
	UploadRateLimit   int
	UploadRateWindow  time.Duration

	NotifyGatewayURL         string
	NotifyInternalKey        string
	NotifyGatewayTimeout     time.Duration
	NotifyQueuePrefix        string
	NotifyMaxAttempts        int
	NotifyBackoff            time.Duration
	NotifyConcurrency        int
	NotifyPerRecipientPerMin int
	NotifierPort             string
}

// Load reads the environment, after merging an optional .env file.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("failed to load .env: %v", err)
	}
	cfg := &Config{
		HTTPPort:       getEnv("HTTP_PORT", "8080"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		PostgresDSN:    getEnv("DATABASE_URL", ""),
		RedisURL:       getEnv("REDIS_URL", ""),
		MongoURI:       getEnv("MONGO_URI", ""),
		MongoDatabase:  getEnv("MONGO_DATABASE", "uniadmit"),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		RequestTimeout: getDuration("REQUEST_TIMEOUT", 15*time.Second),

		DBMaxOpenConns: getInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns: getInt("DB_MAX_IDLE_CONNS", 10),
		DBConnMaxIdle:  getDuration("DB_CONN_MAX_IDLE", 5*time.Minute),
		DBConnMaxLife:  getDuration("DB_CONN_MAX_LIFE", 30*time.Minute),

		UploadDir:         getEnv("UPLOAD_DIR", "./uploads"),
		PublicFileBaseURL: getEnv("PUBLIC_FILE_BASE_URL", "/files"),

		MessageRateLimit:  getInt("MESSAGE_RATE_LIMIT", 20),
		MessageRateWindow: getDuration("MESSAGE_RATE_WINDOW", time.Minute),
		UploadRateLimit:   getInt("UPLOAD_RATE_LIMIT", 30),
		UploadRateWindow:  getDuration("UPLOAD_RATE_WINDOW", time.Minute),

		NotifyGatewayURL:         getEnv("NOTIFY_GATEWAY_URL", ""),
		NotifyInternalKey:        getEnv("NOTIFY_INTERNAL_KEY", ""),
		NotifyGatewayTimeout:     getDuration("NOTIFY_GATEWAY_TIMEOUT", 10*time.Second),
		NotifyQueuePrefix:        getEnv("NOTIFY_QUEUE_PREFIX", "uniadmit:notifications"),
		NotifyMaxAttempts:        getInt("NOTIFY_MAX_ATTEMPTS", 5),
		NotifyBackoff:            getDuration("NOTIFY_BACKOFF", 2*time.Second),
		NotifyConcurrency:        getInt("NOTIFY_CONCURRENCY", 2),
		NotifyPerRecipientPerMin: getInt("NOTIFY_PER_RECIPIENT_PER_MIN", 30),
		NotifierPort:             getEnv("NOTIFIER_PORT", "8081"),
	}
	cfg.PublicFileBaseURL = strings.TrimRight(cfg.PublicFileBaseURL, "/")

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}
	if cfg.NotifyMaxAttempts <= 0 {
		log.Fatal("NOTIFY_MAX_ATTEMPTS must be positive")
	}

	return cfg
}

// InMemory reports whether the API runs without Postgres.
func (c *Config) InMemory() bool {
	return c.PostgresDSN == ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
