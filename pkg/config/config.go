package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds process configuration.
type Config struct {
	StatePath       string        // SQLite database path
	PostgresURL     string        // if set, Postgres is used instead of SQLite
	RunLogDir       string        // directory for per-run audit documents
	SnapshotPath    string        // reputation snapshot file
	RedisAddr       string        // optional, enables the Redis frequency window
	TokenSigningKey string        // HMAC key for approval grants
	LogLevel        string
	ProfilePath     string        // optional governance profile YAML
	SnapshotEvery   time.Duration // autosave interval for the reputation snapshot
	OTLPEndpoint    string
	TelemetryOn     bool
}

// Load loads configuration from environment variables.
func Load() *Config {
	statePath := os.Getenv("STEWARD_STATE_PATH")
	if statePath == "" {
		statePath = "steward.db"
	}

	runLogDir := os.Getenv("STEWARD_RUNLOG_DIR")
	if runLogDir == "" {
		runLogDir = "runlogs"
	}

	snapshotPath := os.Getenv("STEWARD_SNAPSHOT_PATH")
	if snapshotPath == "" {
		snapshotPath = "reputation.json"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	otlp := os.Getenv("OTLP_ENDPOINT")
	if otlp == "" {
		otlp = "localhost:4317"
	}

	snapshotEvery := 15 * time.Minute
	if raw := os.Getenv("STEWARD_SNAPSHOT_EVERY_SECONDS"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			snapshotEvery = time.Duration(secs) * time.Second
		}
	}

	return &Config{
		StatePath:       statePath,
		PostgresURL:     os.Getenv("STEWARD_POSTGRES_URL"),
		RunLogDir:       runLogDir,
		SnapshotPath:    snapshotPath,
		RedisAddr:       os.Getenv("STEWARD_REDIS_ADDR"),
		TokenSigningKey: os.Getenv("STEWARD_TOKEN_KEY"),
		LogLevel:        logLevel,
		ProfilePath:     os.Getenv("STEWARD_PROFILE_PATH"),
		SnapshotEvery:   snapshotEvery,
		OTLPEndpoint:    otlp,
		TelemetryOn:     os.Getenv("STEWARD_TELEMETRY") == "true",
	}
}
