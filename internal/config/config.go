package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/voyagen/streamvault/internal/models"
)

// ErrMissingDatabaseURL is returned when no database DSN or path is configured.
var ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds application configuration.
type Config struct {
	DatabaseDriver  string         `yaml:"database_driver" env:"DATABASE_DRIVER"`
	DatabaseURL     string         `yaml:"database_url" env:"DATABASE_URL"`
	RedisURL        string         `yaml:"redis_url" env:"REDIS_URL"`
	ServerPort      string         `yaml:"server_port" env:"SERVER_PORT"`
	PublicURL       string         `yaml:"public_url" env:"PUBLIC_URL"`
	UserAgent       string         `yaml:"user_agent" env:"FETCHER_USER_AGENT"`
	Timeout         time.Duration  `yaml:"timeout" env:"FETCHER_TIMEOUT"`
	XtreamRPS       float64        `yaml:"xtream_rps" env:"XTREAM_RPS"`
	SyncInterval    time.Duration  `yaml:"sync_interval" env:"SYNC_INTERVAL"`
	SyncConcurrency int            `yaml:"sync_concurrency" env:"SYNC_CONCURRENCY"`
	BatchSize       int            `yaml:"batch_size" env:"BATCH_SIZE"`
	EPGMaxAge       time.Duration  `yaml:"epg_max_age" env:"EPG_MAX_AGE"`
	LogLevel        string         `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat       string         `yaml:"log_format" env:"LOG_FORMAT"`
	Sources         []SourceConfig `yaml:"sources"`
}

// SourceConfig provisions a source from the config file. Sources are upserted by name.
type SourceConfig struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	URL       string `yaml:"url"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	UserAgent string `yaml:"user_agent"`
	Enabled   *bool  `yaml:"enabled"`
}

// Source converts the entry into a models.Source (ID unset).
func (s SourceConfig) Source() models.Source {
	enabled := true
	if s.Enabled != nil {
		enabled = *s.Enabled
	}
	return models.Source{
		Name:      s.Name,
		Type:      models.SourceType(strings.ToLower(s.Type)),
		URL:       s.URL,
		Username:  s.Username,
		Password:  s.Password,
		UserAgent: s.UserAgent,
		Enabled:   enabled,
	}
}

// Default returns a Config with every optional field set.
func Default() *Config {
	return &Config{
		DatabaseDriver:  DriverPostgres,
		ServerPort:      "8080",
		UserAgent:       "StreamVault/1.0",
		Timeout:         30 * time.Second,
		XtreamRPS:       5,
		SyncInterval:    6 * time.Hour,
		SyncConcurrency: 1,
		BatchSize:       500,
		EPGMaxAge:       time.Hour,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// Load builds config from environment variables.
// If DATABASE_URL is not set, Load tries to load .env.local and .env first.
// DATABASE_URL is required; everything else has a default.
func Load() (*Config, error) {
	if os.Getenv("DATABASE_URL") == "" {
		loadEnvFiles()
	}
	c := Default()
	c.DatabaseURL = os.Getenv("DATABASE_URL")
	c.RedisURL = os.Getenv("REDIS_URL")
	c.PublicURL = os.Getenv("PUBLIC_URL")
	setString(&c.DatabaseDriver, "DATABASE_DRIVER")
	setString(&c.ServerPort, "SERVER_PORT")
	setString(&c.UserAgent, "FETCHER_USER_AGENT")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")
	setDuration(&c.Timeout, "FETCHER_TIMEOUT")
	setDuration(&c.SyncInterval, "SYNC_INTERVAL")
	setDuration(&c.EPGMaxAge, "EPG_MAX_AGE")
	setInt(&c.SyncConcurrency, "SYNC_CONCURRENCY")
	setInt(&c.BatchSize, "BATCH_SIZE")
	if s := os.Getenv("XTREAM_RPS"); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			c.XtreamRPS = f
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks required fields and normalizes values.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	c.DatabaseDriver = strings.ToLower(c.DatabaseDriver)
	if c.DatabaseDriver != DriverPostgres && c.DatabaseDriver != DriverSQLite {
		return fmt.Errorf("database_driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.DatabaseDriver)
	}
	if c.SyncConcurrency < 1 {
		c.SyncConcurrency = 1
	}
	if c.BatchSize < 1 {
		c.BatchSize = 500
	}
	c.PublicURL = strings.TrimRight(c.PublicURL, "/")
	for i, s := range c.Sources {
		if s.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if !models.SourceType(strings.ToLower(s.Type)).Valid() {
			return fmt.Errorf("sources[%d] %q: type must be xtream, m3u or epg", i, s.Name)
		}
		if s.URL == "" {
			return fmt.Errorf("sources[%d] %q: url is required", i, s.Name)
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) {
	if s := os.Getenv(key); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			*dst = d
		}
	}
}

func setInt(dst *int, key string) {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			*dst = n
		}
	}
}
