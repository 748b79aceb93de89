package testutil

import (
	"database/sql"
	"fmt"
	"os"
	"testing"

	_ "github.com/lib/pq"
)

// TestDBConfig holds test database configuration
type TestDBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DefaultTestDBConfig returns a default test database configuration
func DefaultTestDBConfig() TestDBConfig {
	return TestDBConfig{
		Host:     getEnv("TEST_DB_HOST", "localhost"),
		Port:     getIntEnv("TEST_DB_PORT", 5432),
		User:     getEnv("TEST_DB_USER", "postgres"),
		Password: getEnv("TEST_DB_PASSWORD", "postgres"),
		Database: getEnv("TEST_DB_NAME", "scenestream_test"),
		SSLMode:  getEnv("TEST_DB_SSLMODE", "disable"),
	}
}

// DatabaseURL returns a PostgreSQL connection string
func (c TestDBConfig) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
		c.SSLMode,
	)
}

// SetupTestDB creates a test database connection and the schema the
// persistence and telemetry stores expect. Skips the test when no Postgres
// is reachable, so the suite stays runnable without one.
func SetupTestDB(t *testing.T) *sql.DB {
	cfg := DefaultTestDBConfig()

	adminURL := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/postgres?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.SSLMode,
	)

	adminDB, err := sql.Open("postgres", adminURL)
	if err != nil {
		t.Skipf("Skipping: failed to open PostgreSQL: %v", err)
	}
	defer func() { _ = adminDB.Close() }()

	if err := adminDB.Ping(); err != nil {
		t.Skipf("Skipping: no test PostgreSQL reachable: %v", err)
	}

	// Create test database if it doesn't exist
	if _, err := adminDB.Exec(fmt.Sprintf("CREATE DATABASE %s", cfg.Database)); err != nil {
		t.Logf("Test database creation: %v (may already exist)", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL())
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to ping test database: %v", err)
	}

	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("Failed to apply test schema: %v", err)
		}
	}

	return db
}

// schemaStatements mirrors the production schema for the two tables the
// server writes.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS session_snapshots (
		session_key   TEXT PRIMARY KEY,
		tier          TEXT NOT NULL,
		selection     TEXT NOT NULL,
		mobile        BOOLEAN NOT NULL DEFAULT FALSE,
		last_room     TEXT NOT NULL,
		last_position DOUBLE PRECISION[] NOT NULL,
		last_rotation DOUBLE PRECISION[] NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS telemetry_events (
		id             BIGSERIAL PRIMARY KEY,
		session_id     TEXT NOT NULL,
		event_type     TEXT NOT NULL,
		category       TEXT NOT NULL,
		schema_version TEXT NOT NULL,
		timestamp_ms   BIGINT NOT NULL,
		payload        JSONB
	)`,
}

// CleanupTestDB truncates the server's tables for a clean slate between
// integration tests.
func CleanupTestDB(t *testing.T, db *sql.DB) {
	tables := []string{
		"telemetry_events",
		"session_snapshots",
	}

	for _, table := range tables {
		if _, err := db.Exec(fmt.Sprintf("TRUNCATE TABLE %s", table)); err != nil {
			t.Logf("Warning: Failed to truncate table %s: %v", table, err)
		}
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getIntEnv gets an integer environment variable or returns a default value
func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err != nil {
		return defaultValue
	}
	return intValue
}
