package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds coordinator configuration, loaded from the environment.
type Config struct {
	AppEnv   string // APP_ENV
	AppHost  string // APP_HOST
	HTTPPort string // HTTP_PORT

	// PostgreSQL archive. Archiving is disabled when DB_HOST is empty.
	DB struct {
		Host     string
		Port     string
		User     string
		Password string
		Database string
		SSLMode  string
	}

	Protocol Protocol
}

// Protocol carries the timing and capacity constants of the coordination
// protocol. Every bounded wait in the session state machine comes from here.
type Protocol struct {
	GuardInterval   time.Duration // lead time between arming and T_start
	ReadinessWindow time.Duration // synchronizing -> armed deadline
	AckTimeout      time.Duration // armed -> recording deadline
	DrainTimeout    time.Duration // stopping -> closed deadline
	HeartbeatPeriod time.Duration // client ping period; sweep runs at the same period
	SyncWindow      time.Duration // window for collecting clock-offset samples
	SyncMinSamples  int           // round trips required before a camera may report ready
	ChunkQueueLimit int           // per-camera pending chunks before Backpressure
	MaxCameras      int           // upper bound on expectedParticipantCount
	MinCameras      int
}

// Load loads config from environment (.env if present).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:   getEnv("APP_ENV", "development"),
		AppHost:  getEnv("APP_HOST", "0.0.0.0"),
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		Protocol: Protocol{
			GuardInterval:   envMs("GUARD_INTERVAL_MS", 3000),
			ReadinessWindow: envMs("READINESS_WINDOW_MS", 15000),
			AckTimeout:      envMs("ACK_TIMEOUT_MS", 1000),
			DrainTimeout:    envMs("DRAIN_TIMEOUT_MS", 10000),
			HeartbeatPeriod: envMs("HEARTBEAT_PERIOD_MS", 5000),
			SyncWindow:      envMs("SYNC_WINDOW_MS", 5000),
			SyncMinSamples:  envInt("SYNC_MIN_SAMPLES", 3),
			ChunkQueueLimit: envInt("CHUNK_QUEUE_LIMIT", 8),
			MaxCameras:      envInt("MAX_CAMERAS_PER_GAME", 6),
			MinCameras:      envInt("MIN_CAMERAS_PER_GAME", 2),
		},
	}
	cfg.DB.Host = getEnv("DB_HOST", "")
	cfg.DB.Port = getEnv("DB_PORT", "5432")
	cfg.DB.User = getEnv("DB_USER", "postgres")
	cfg.DB.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.DB.Database = getEnv("DB_DATABASE", "multicam")
	cfg.DB.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg, nil
}

// Validate checks internal consistency of the protocol constants.
func (c *Config) Validate() error {
	p := c.Protocol
	if p.GuardInterval <= 0 {
		return errors.New("config: GUARD_INTERVAL_MS must be positive")
	}
	if p.ReadinessWindow <= 0 || p.AckTimeout <= 0 || p.DrainTimeout <= 0 {
		return errors.New("config: state-machine timeouts must be positive")
	}
	if p.HeartbeatPeriod <= 0 {
		return errors.New("config: HEARTBEAT_PERIOD_MS must be positive")
	}
	if p.SyncMinSamples < 1 {
		return errors.New("config: SYNC_MIN_SAMPLES must be at least 1")
	}
	if p.ChunkQueueLimit < 1 {
		return errors.New("config: CHUNK_QUEUE_LIMIT must be at least 1")
	}
	if p.MinCameras < 1 || p.MaxCameras < p.MinCameras {
		return errors.New("config: camera count bounds are inconsistent")
	}
	if c.AppEnv == "production" && c.DB.Host != "" && c.DB.Password == "" {
		return errors.New("config: in production DB_PASSWORD is required")
	}
	return nil
}

// ArchiveEnabled reports whether a durable archive is configured.
func (c *Config) ArchiveEnabled() bool { return c.DB.Host != "" }

// DSN returns the PostgreSQL connection string for GORM.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Database, c.DB.SSLMode)
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string { return c.AppHost + ":" + c.HTTPPort }

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envMs(key string, defMs int) time.Duration {
	return time.Duration(envInt(key, defMs)) * time.Millisecond
}
