package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Activity journal drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	ServerPort string
	ServerHost string

	// Relay limits
	MaxSnapshotBytes       int
	MaxRoomMembers         int
	SendQueueSize          int
	PresenceQueueSize      int
	MessagesPerSecond      int
	MessageBurst           int
	CursorUpdatesPerSecond int

	// Activity journal (optional)
	DBDriver   string
	DBDSN      string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	ActivityWorkers   int
	ActivityQueueSize int
	ActivityRetention time.Duration

	// Cluster bridge (optional)
	RedisURL string

	// Diagram generation (optional)
	OpenAIAPIKey string

	// Observability
	JaegerEndpoint string

	ShutdownTimeout time.Duration
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort: getEnv("SERVER_PORT", getEnv("PORT", "3001")),
		ServerHost: getEnv("SERVER_HOST", "0.0.0.0"),

		MaxSnapshotBytes:       getEnvInt("MAX_SNAPSHOT_BYTES", 1<<20),
		MaxRoomMembers:         getEnvInt("MAX_ROOM_MEMBERS", 0),
		SendQueueSize:          getEnvInt("SEND_QUEUE_SIZE", 256),
		PresenceQueueSize:      getEnvInt("PRESENCE_QUEUE_SIZE", 64),
		MessagesPerSecond:      getEnvInt("MESSAGES_PER_SECOND", 200),
		MessageBurst:           getEnvInt("MESSAGE_BURST", 400),
		CursorUpdatesPerSecond: getEnvInt("CURSOR_UPDATES_PER_SECOND", 60),

		DBDriver:   getEnv("DB_DRIVER", ""),
		DBDSN:      getEnv("DB_DSN", ""),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "canvas_relay"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		ActivityWorkers:   getEnvInt("ACTIVITY_WORKERS", 2),
		ActivityQueueSize: getEnvInt("ACTIVITY_QUEUE_SIZE", 1024),
		ActivityRetention: getEnvDuration("ACTIVITY_RETENTION", 7*24*time.Hour),

		RedisURL: getEnv("REDIS_URL", ""),

		OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),

		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),

		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects settings the relay cannot run with.
func (c *Config) Validate() error {
	positive := map[string]int{
		"MAX_SNAPSHOT_BYTES":        c.MaxSnapshotBytes,
		"SEND_QUEUE_SIZE":           c.SendQueueSize,
		"PRESENCE_QUEUE_SIZE":       c.PresenceQueueSize,
		"MESSAGES_PER_SECOND":       c.MessagesPerSecond,
		"MESSAGE_BURST":             c.MessageBurst,
		"CURSOR_UPDATES_PER_SECOND": c.CursorUpdatesPerSecond,
		"ACTIVITY_WORKERS":          c.ActivityWorkers,
		"ACTIVITY_QUEUE_SIZE":       c.ActivityQueueSize,
	}
	for key, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", key, value)
		}
	}

	if c.MaxRoomMembers < 0 {
		return fmt.Errorf("MAX_ROOM_MEMBERS must not be negative, got %d", c.MaxRoomMembers)
	}

	switch c.DBDriver {
	case "", DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (want postgres or sqlite)", c.DBDriver)
	}

	return nil
}

// JournalEnabled reports whether an activity database is configured.
func (c *Config) JournalEnabled() bool {
	return c.DBDriver != ""
}

// DatabaseURL returns the DSN for the configured driver.
// DB_DSN wins when set; otherwise postgres parts are assembled and sqlite
// falls back to a local file.
func (c *Config) DatabaseURL() string {
	if c.DBDSN != "" {
		return c.DBDSN
	}
	if c.DBDriver == DriverSQLite {
		return "file:canvas-relay.db?_busy_timeout=5000"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.ServerHost, c.ServerPort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
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
