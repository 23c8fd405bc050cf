package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration. Values come from the environment,
// optionally seeded from a .env file.
type Config struct {
	// HTTP server
	Port     string
	LogLevel string

	// Oracle
	OracleModel      string
	OracleMaxRetries int
	StageTimeout     time.Duration

	// Chunking. An extraction chunk size of 0 selects a dynamic size based
	// on table count and average table length.
	ExtractionChunkSize     int
	CategorizationChunkSize int
	MaxParallelChunks       int

	// Task store
	ActiveTaskTTL   time.Duration
	TerminalTaskTTL time.Duration

	// Job queue
	QueueBuffer int
	WorkerCount int

	// Upload limits
	MaxUploadBytes int64

	// Optional Google Cloud integrations. Empty values disable them.
	GCSBucket       string
	BigQueryProject string
	BigQueryDataset string
	CredentialsFile string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first if present; real environment variables win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		OracleModel:      getEnv("ORACLE_MODEL", "gemini-2.5-flash"),
		OracleMaxRetries: getEnvInt("ORACLE_MAX_RETRIES", 2),
		StageTimeout:     getEnvDuration("STAGE_TIMEOUT", 0),

		ExtractionChunkSize:     getEnvInt("EXTRACTION_CHUNK_SIZE", 2),
		CategorizationChunkSize: getEnvInt("CATEGORIZATION_CHUNK_SIZE", 40),
		MaxParallelChunks:       getEnvInt("MAX_PARALLEL_CHUNKS", 8),

		ActiveTaskTTL:   getEnvDuration("ACTIVE_TASK_TTL", time.Hour),
		TerminalTaskTTL: getEnvDuration("TERMINAL_TASK_TTL", 15*time.Minute),

		QueueBuffer: getEnvInt("QUEUE_BUFFER", 100),
		WorkerCount: getEnvInt("WORKER_COUNT", 5),

		MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_BYTES", 10*1024*1024)),

		GCSBucket:       getEnv("GCS_BUCKET", ""),
		BigQueryProject: getEnv("BIGQUERY_PROJECT", ""),
		BigQueryDataset: getEnv("BIGQUERY_DATASET", "finance"),
		CredentialsFile: getEnv("GOOGLE_CREDENTIALS_FILE", ""),
	}
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("invalid port %q: must be a number", c.Port)
	} else if port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", port)
	}
	if c.OracleModel == "" {
		return fmt.Errorf("oracle model must not be empty")
	}
	if c.OracleMaxRetries < 0 {
		return fmt.Errorf("invalid ORACLE_MAX_RETRIES %d: must be >= 0", c.OracleMaxRetries)
	}
	if c.ExtractionChunkSize < 0 {
		return fmt.Errorf("invalid EXTRACTION_CHUNK_SIZE %d: must be >= 0", c.ExtractionChunkSize)
	}
	if c.CategorizationChunkSize < 1 {
		return fmt.Errorf("invalid CATEGORIZATION_CHUNK_SIZE %d: must be >= 1", c.CategorizationChunkSize)
	}
	if c.MaxParallelChunks < 1 {
		return fmt.Errorf("invalid MAX_PARALLEL_CHUNKS %d: must be >= 1", c.MaxParallelChunks)
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("invalid WORKER_COUNT %d: must be >= 1", c.WorkerCount)
	}
	if c.BigQueryProject != "" && c.BigQueryDataset == "" {
		return fmt.Errorf("BIGQUERY_DATASET is required when BIGQUERY_PROJECT is set")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
