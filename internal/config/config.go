package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the scenestream server
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Chunk     ChunkConfig
	Quality   QualityConfig
	Telemetry TelemetryConfig
	Assets    AssetsConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Environment  string
}

// DatabaseConfig holds database connection configuration. The database is
// optional: with Enabled false, snapshots live in memory and telemetry goes
// to the log sink.
type DatabaseConfig struct {
	Enabled         bool
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// AuthConfig holds session token and operator key configuration
type AuthConfig struct {
	JWTSecret       string
	JWTExpiration   time.Duration
	OperatorKeyHash string
}

// ChunkConfig holds chunk lifecycle and memory budget configuration
type ChunkConfig struct {
	MaxDormant         int
	ResetDelay         time.Duration
	MemoryBudgetBytes  int64
	MemoryThresholdPct int
	MemoryPollInterval time.Duration
}

// QualityConfig holds auto-quality thresholds
type QualityConfig struct {
	WindowSize     int
	DowngradeP95Ms float64
	UpgradeP95Ms   float64
	CooldownFrames int
}

// TelemetryConfig holds telemetry batching configuration
type TelemetryConfig struct {
	FlushInterval time.Duration
	MaxQueue      int
	FlushTimeout  time.Duration
	PerfWindow    time.Duration
}

// AssetsConfig holds chunk asset service configuration
type AssetsConfig struct {
	BaseURL        string
	Timeout        time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
}

// RateLimitConfig holds per-client request limits
type RateLimitConfig struct {
	SessionLimit  int
	SessionWindow time.Duration
	IngestLimit   int
	IngestWindow  time.Duration
}

// Load reads configuration from environment variables and .env file
// It returns a Config struct with all settings populated
// The .env file is loaded from the current working directory
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found (this is OK if using environment variables): %v", err)
	}

	config := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getDurationEnv("SERVER_IDLE_TIMEOUT", 60*time.Second),
			Environment:  getEnv("ENVIRONMENT", "development"),
		},
		Database: DatabaseConfig{
			Enabled:         getBoolEnv("DB_ENABLED", false),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getIntEnv("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "scenestream_dev"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxConnections:  getIntEnv("DB_MAX_CONNECTIONS", 25),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Auth: AuthConfig{
			JWTSecret:       getEnv("JWT_SECRET", ""),
			JWTExpiration:   getDurationEnv("JWT_EXPIRATION", 12*time.Hour),
			OperatorKeyHash: getEnv("OPERATOR_KEY_HASH", ""),
		},
		Chunk: ChunkConfig{
			MaxDormant:         getIntEnv("CHUNK_MAX_DORMANT", 2),
			ResetDelay:         getDurationEnv("CHUNK_RESET_DELAY", 2*time.Second),
			MemoryBudgetBytes:  getInt64Env("CHUNK_MEMORY_BUDGET_BYTES", 256<<20),
			MemoryThresholdPct: getIntEnv("CHUNK_MEMORY_THRESHOLD_PCT", 80),
			MemoryPollInterval: getDurationEnv("CHUNK_MEMORY_POLL_INTERVAL", 5*time.Second),
		},
		Quality: QualityConfig{
			WindowSize:     getIntEnv("QUALITY_WINDOW_SIZE", 60),
			DowngradeP95Ms: getFloatEnv("QUALITY_DOWNGRADE_P95_MS", 20),
			UpgradeP95Ms:   getFloatEnv("QUALITY_UPGRADE_P95_MS", 12),
			CooldownFrames: getIntEnv("QUALITY_COOLDOWN_FRAMES", 120),
		},
		Telemetry: TelemetryConfig{
			FlushInterval: getDurationEnv("TELEMETRY_FLUSH_INTERVAL", 15*time.Second),
			MaxQueue:      getIntEnv("TELEMETRY_MAX_QUEUE", 64),
			FlushTimeout:  getDurationEnv("TELEMETRY_FLUSH_TIMEOUT", 5*time.Second),
			PerfWindow:    getDurationEnv("TELEMETRY_PERF_WINDOW", 5*time.Second),
		},
		Assets: AssetsConfig{
			// Use 127.0.0.1 instead of localhost for better Windows compatibility (avoids IPv6 issues)
			BaseURL:        getEnv("ASSETS_BASE_URL", "http://127.0.0.1:8081"),
			Timeout:        getDurationEnv("ASSETS_TIMEOUT", 30*time.Second),
			MaxAttempts:    getIntEnv("ASSETS_MAX_ATTEMPTS", 3),
			RetryBaseDelay: getDurationEnv("ASSETS_RETRY_BASE_DELAY", 100*time.Millisecond),
		},
		RateLimit: RateLimitConfig{
			SessionLimit:  getIntEnv("RATE_SESSION_LIMIT", 10),
			SessionWindow: getDurationEnv("RATE_SESSION_WINDOW", time.Minute),
			IngestLimit:   getIntEnv("RATE_INGEST_LIMIT", 600),
			IngestWindow:  getDurationEnv("RATE_INGEST_WINDOW", time.Minute),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate checks that all required configuration values are set
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Database.Enabled && c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required when DB_ENABLED is true")
	}
	if c.Chunk.MaxDormant < 0 {
		return fmt.Errorf("CHUNK_MAX_DORMANT must not be negative")
	}
	if c.Quality.UpgradeP95Ms >= c.Quality.DowngradeP95Ms {
		return fmt.Errorf("QUALITY_UPGRADE_P95_MS must be below QUALITY_DOWNGRADE_P95_MS")
	}
	if c.Assets.MaxAttempts < 1 {
		return fmt.Errorf("ASSETS_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

// DatabaseURL returns a PostgreSQL connection string
func (c *DatabaseConfig) DatabaseURL() string {
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

// IsDevelopment returns true if running in development mode
func (c *ServerConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}

// Helper functions for environment variable access

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: invalid integer value for %s: %s, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return intValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		log.Printf("Warning: invalid integer value for %s: %s, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return intValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("Warning: invalid float value for %s: %s, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return floatValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("Warning: invalid boolean value for %s: %s, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return boolValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Warning: invalid duration value for %s: %s, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return duration
}
