// Package config handles environment variable loading for ports, database
// strings, timeouts, and monitor tunables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the coordinator.
type Config struct {
	// Database connection string
	DatabaseURL string

	// HTTP server port for the coordinator
	HTTPPort int

	// Admin bearer token; admin endpoints return 401 without it
	AdminToken string

	// Directory for the ndjson result archive
	DatalakeDir string

	// Populator settings
	PopulateInterval time.Duration
	BatchSize        int
	MaxPendingJobs   int64

	// Recovery monitor settings
	MonitorInterval       time.Duration
	ClaimedJobTimeout     time.Duration
	ProcessingJobTimeout  time.Duration
	MaxRecoveriesPerCycle int
	RecoveryBatchSize     int

	// Bot liveness and retention
	BotDownThreshold time.Duration
	BotRetention     time.Duration
	CleanupInterval  time.Duration

	// Store connection pool and deadlines
	DBMaxOpenConns int
	DBMaxIdleConns int
	StoreTimeout   time.Duration
	RequestTimeout time.Duration
}

// Load reads configuration from environment variables. A .env file in the
// working directory is merged first when present; real environment wins.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	port, err := intEnv("HTTP_PORT", 8080)
	if err != nil {
		return nil, err
	}

	populateIntervalMS, err := intEnv("POPULATE_INTERVAL_MS", 600_000)
	if err != nil {
		return nil, err
	}

	batchSize, err := intEnv("BATCH_SIZE", 5)
	if err != nil {
		return nil, err
	}

	maxPending, err := intEnv("MAX_PENDING_JOBS", 10_000)
	if err != nil {
		return nil, err
	}

	monitorInterval, err := secondsEnv("JOB_MONITORING_INTERVAL_SECONDS", 60*time.Second)
	if err != nil {
		return nil, err
	}

	claimedTimeout, err := secondsEnv("CLAIMED_JOB_TIMEOUT_SECONDS", 300*time.Second)
	if err != nil {
		return nil, err
	}

	processingTimeout, err := secondsEnv("PROCESSING_JOB_TIMEOUT_SECONDS", 600*time.Second)
	if err != nil {
		return nil, err
	}

	maxRecoveries, err := intEnv("MAX_RECOVERY_ATTEMPTS_PER_CYCLE", 100)
	if err != nil {
		return nil, err
	}

	recoveryBatch, err := intEnv("RECOVERY_BATCH_SIZE", 10)
	if err != nil {
		return nil, err
	}

	downThreshold, err := secondsEnv("BOT_DOWN_THRESHOLD_SECONDS", 120*time.Second)
	if err != nil {
		return nil, err
	}

	retentionDays, err := intEnv("BOT_RETENTION_DAYS", 7)
	if err != nil {
		return nil, err
	}

	cleanupHours, err := intEnv("CLEANUP_INTERVAL_HOURS", 6)
	if err != nil {
		return nil, err
	}

	maxOpen, err := intEnv("DB_MAX_OPEN_CONNS", 20)
	if err != nil {
		return nil, err
	}

	maxIdle, err := intEnv("DB_MAX_IDLE_CONNS", 5)
	if err != nil {
		return nil, err
	}

	storeTimeout, err := secondsEnv("STORE_TIMEOUT_SECONDS", 5*time.Second)
	if err != nil {
		return nil, err
	}

	requestTimeout, err := secondsEnv("REQUEST_TIMEOUT_SECONDS", 30*time.Second)
	if err != nil {
		return nil, err
	}

	datalakeDir := os.Getenv("DATALAKE_DIR")
	if datalakeDir == "" {
		datalakeDir = "./datalake"
	}

	return &Config{
		DatabaseURL:           dbURL,
		HTTPPort:              port,
		AdminToken:            os.Getenv("ADMIN_TOKEN"),
		DatalakeDir:           datalakeDir,
		PopulateInterval:      time.Duration(populateIntervalMS) * time.Millisecond,
		BatchSize:             batchSize,
		MaxPendingJobs:        int64(maxPending),
		MonitorInterval:       monitorInterval,
		ClaimedJobTimeout:     claimedTimeout,
		ProcessingJobTimeout:  processingTimeout,
		MaxRecoveriesPerCycle: maxRecoveries,
		RecoveryBatchSize:     recoveryBatch,
		BotDownThreshold:      downThreshold,
		BotRetention:          time.Duration(retentionDays) * 24 * time.Hour,
		CleanupInterval:       time.Duration(cleanupHours) * time.Hour,
		DBMaxOpenConns:        maxOpen,
		DBMaxIdleConns:        maxIdle,
		StoreTimeout:          storeTimeout,
		RequestTimeout:        requestTimeout,
	}, nil
}

// Validate rejects values the monitors cannot run with.
func (c *Config) Validate() error {
	if c.MonitorInterval < 10*time.Second {
		return fmt.Errorf("JOB_MONITORING_INTERVAL_SECONDS must be at least 10")
	}
	if c.ClaimedJobTimeout < time.Minute {
		return fmt.Errorf("CLAIMED_JOB_TIMEOUT_SECONDS must be at least 60")
	}
	if c.ProcessingJobTimeout < time.Minute {
		return fmt.Errorf("PROCESSING_JOB_TIMEOUT_SECONDS must be at least 60")
	}
	if c.MaxRecoveriesPerCycle < 1 {
		return fmt.Errorf("MAX_RECOVERY_ATTEMPTS_PER_CYCLE must be at least 1")
	}
	if c.RecoveryBatchSize < 1 {
		return fmt.Errorf("RECOVERY_BATCH_SIZE must be at least 1")
	}
	if c.BatchSize < 1 || c.BatchSize > 100 {
		return fmt.Errorf("BATCH_SIZE must be between 1 and 100")
	}
	return nil
}

func intEnv(name string, def int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v, nil
}

func secondsEnv(name string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return time.Duration(v) * time.Second, nil
}
