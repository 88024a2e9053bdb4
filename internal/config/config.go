package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Server
	HTTPAddr string

	// PostgreSQL (relational mirror + marketplace tables)
	DatabaseDSN string

	// Redis (real-time store, pub/sub, task queue)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JWT
	JwtSecret string

	// Store timeouts
	RealtimeTimeout time.Duration
	MirrorTimeout   time.Duration

	// Reconciliation
	ReconcileCron     string
	ReconcilePageSize int
	WorkerConcurrency int

	// Legacy thread scan bounds
	LegacyScanPageSize int
	LegacyScanMaxPages int

	// Workflow
	NotifyConcurrency int

	// Send rate limiting (per participant)
	SendRatePerSec float64
	SendBurst      int

	// AWS S3 (job-offer photos)
	AwsAccessKeyID     string
	AwsSecretAccessKey string
	AwsRegion          string
	AwsS3Bucket        string

	LogLevel string

	// Memory runs every store in process; nothing external is contacted.
	Memory bool
}

// Load configuration from environment variables. DB_DSN is only required
// when memory is false.
func Load(memory bool) (*Config, error) {
	// Load .env file, ignoring errors if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{Memory: memory}
	var err error

	getEnv := func(key, defaultValue string) string {
		if value, exists := os.LookupEnv(key); exists {
			return value
		}
		return defaultValue
	}

	getRequiredEnv := func(key string) (string, error) {
		value, exists := os.LookupEnv(key)
		if !exists || value == "" {
			return "", fmt.Errorf("missing required environment variable: %s", key)
		}
		return value, nil
	}

	getInt := func(key, defaultValue string) (int, error) {
		n, err := strconv.Atoi(getEnv(key, defaultValue))
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return n, nil
	}

	if memory {
		cfg.DatabaseDSN = getEnv("DB_DSN", "")
	} else if cfg.DatabaseDSN, err = getRequiredEnv("DB_DSN"); err != nil {
		return nil, err
	}
	cfg.JwtSecret, err = getRequiredEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.ReconcileCron = getEnv("RECONCILE_CRON", "*/15 * * * *")
	cfg.AwsAccessKeyID = getEnv("AWS_ACCESS_KEY_ID", "")
	cfg.AwsSecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", "")
	cfg.AwsRegion = getEnv("AWS_REGION", "")
	cfg.AwsS3Bucket = getEnv("AWS_S3_BUCKET", "")
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")

	if cfg.RedisDB, err = getInt("REDIS_DB", "0"); err != nil {
		return nil, err
	}

	realtimeMs, err := getInt("REALTIME_TIMEOUT_MS", "3000")
	if err != nil {
		return nil, err
	}
	cfg.RealtimeTimeout = time.Duration(realtimeMs) * time.Millisecond

	mirrorMs, err := getInt("MIRROR_TIMEOUT_MS", "2000")
	if err != nil {
		return nil, err
	}
	cfg.MirrorTimeout = time.Duration(mirrorMs) * time.Millisecond

	if cfg.ReconcilePageSize, err = getInt("RECONCILE_PAGE_SIZE", "200"); err != nil {
		return nil, err
	}
	if cfg.WorkerConcurrency, err = getInt("WORKER_CONCURRENCY", "4"); err != nil {
		return nil, err
	}
	if cfg.LegacyScanPageSize, err = getInt("LEGACY_SCAN_PAGE_SIZE", "100"); err != nil {
		return nil, err
	}
	if cfg.LegacyScanMaxPages, err = getInt("LEGACY_SCAN_MAX_PAGES", "50"); err != nil {
		return nil, err
	}
	if cfg.NotifyConcurrency, err = getInt("NOTIFY_CONCURRENCY", "4"); err != nil {
		return nil, err
	}
	if cfg.SendBurst, err = getInt("SEND_BURST", "10"); err != nil {
		return nil, err
	}

	cfg.SendRatePerSec, err = strconv.ParseFloat(getEnv("SEND_RATE_PER_SEC", "5"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid SEND_RATE_PER_SEC: %w", err)
	}

	return cfg, nil
}
