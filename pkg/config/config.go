package config

import "os"

// Config holds engine configuration.
type Config struct {
	LogLevel string

	// LedgerDriver selects the ledger store: "memory", "sqlite", or "postgres".
	LedgerDriver string
	DatabaseURL  string

	// PacksDir is the directory of threshold pack YAML documents loaded at
	// startup. RedisAddr, when set, adds a published-pack source to sync from.
	PacksDir  string
	RedisAddr string

	OTLPEndpoint     string
	TelemetryEnabled bool

	// ArchiveBucket, when set, enables S3 ledger archiving.
	ArchiveBucket string
	ArchiveRegion string
	ArchivePrefix string
}

// Load loads configuration from environment variables.
func Load() *Config {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	driver := os.Getenv("LEDGER_DRIVER")
	if driver == "" {
		driver = "memory"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "postgres://spine@localhost:5432/spine?sslmode=disable"
	}

	packsDir := os.Getenv("THRESHOLD_PACKS_DIR")
	if packsDir == "" {
		packsDir = "./packs"
	}

	otlp := os.Getenv("OTLP_ENDPOINT")
	if otlp == "" {
		otlp = "localhost:4317"
	}

	prefix := os.Getenv("ARCHIVE_PREFIX")
	if prefix == "" {
		prefix = "ledger/"
	}

	return &Config{
		LogLevel:         logLevel,
		LedgerDriver:     driver,
		DatabaseURL:      dbURL,
		PacksDir:         packsDir,
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		OTLPEndpoint:     otlp,
		TelemetryEnabled: os.Getenv("TELEMETRY_ENABLED") == "true",
		ArchiveBucket:    os.Getenv("ARCHIVE_BUCKET"),
		ArchiveRegion:    os.Getenv("ARCHIVE_REGION"),
		ArchivePrefix:    prefix,
	}
}
