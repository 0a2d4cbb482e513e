package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServiceName string
	Port        string

	// Empty DatabaseURL runs the engine on the in-memory store.
	DatabaseURL   string
	MigrationsDir string

	// Empty NATSURL disables the event bus.
	NATSURL string

	// Empty RedisAddr disables the live cache.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SchemeMatcherURL     string
	SchemeMatcherToken   string
	SchemeMatcherTimeout time.Duration
	SchemeFallbackPath   string

	ThresholdsPath string
	CostThreshold  float64
	RequestTimeout time.Duration

	LogLevel  string
	LogFormat string

	Historian            Historian
	HistorianMappingPath string
}

// Historian is the connection to an external plant database readings can be
// pulled from. An empty Type disables historian pulls.
type Historian struct {
	Type     string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// Load reads the environment, seeded from a .env file in the working
// directory when one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg := &Config{
		ServiceName:          getEnv("SERVICE_NAME", "plantwatch"),
		Port:                 getEnv("PORT", "8080"),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		MigrationsDir:        getEnv("MIGRATIONS_DIR", "migrations"),
		NATSURL:              getEnv("NATS_URL", ""),
		RedisAddr:            getEnv("REDIS_ADDR", ""),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		RedisDB:              getEnvInt("REDIS_DB", 0),
		SchemeMatcherURL:     getEnv("SCHEME_MATCHER_URL", ""),
		SchemeMatcherToken:   getEnv("SCHEME_MATCHER_TOKEN", ""),
		SchemeMatcherTimeout: getEnvDuration("SCHEME_MATCHER_TIMEOUT", 15*time.Second),
		SchemeFallbackPath:   getEnv("SCHEME_FALLBACK_PATH", ""),
		ThresholdsPath:       getEnv("THRESHOLDS_PATH", ""),
		CostThreshold:        getEnvFloat("COST_THRESHOLD", 50000),
		RequestTimeout:       getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "json"),
		Historian: Historian{
			Type:     strings.ToLower(getEnv("HISTORIAN_TYPE", "")),
			Host:     getEnv("HISTORIAN_HOST", "localhost"),
			Port:     getEnvInt("HISTORIAN_PORT", 0),
			User:     getEnv("HISTORIAN_USER", ""),
			Password: getEnv("HISTORIAN_PASSWORD", ""),
			Database: getEnv("HISTORIAN_DATABASE", ""),
			SSLMode:  getEnv("HISTORIAN_SSLMODE", "disable"),
		},
		HistorianMappingPath: getEnv("HISTORIAN_MAPPING_PATH", ""),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT must not be empty")
	}
	if c.CostThreshold <= 0 {
		return fmt.Errorf("COST_THRESHOLD must be positive, got %v", c.CostThreshold)
	}
	if c.SchemeMatcherTimeout <= 0 {
		return errors.New("SCHEME_MATCHER_TIMEOUT must be positive")
	}
	switch c.Historian.Type {
	case "", "postgres", "mysql", "mssql":
	default:
		return fmt.Errorf("HISTORIAN_TYPE %q is not one of postgres, mysql, mssql", c.Historian.Type)
	}
	if c.Historian.Type != "" && c.HistorianMappingPath == "" {
		return errors.New("HISTORIAN_MAPPING_PATH is required when HISTORIAN_TYPE is set")
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
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("20s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
