package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	DatabaseDriver  string         `yaml:"database_driver"`
	DatabaseURL     string         `yaml:"database_url"`
	RedisURL        string         `yaml:"redis_url"`
	ServerPort      string         `yaml:"server_port"`
	PublicURL       string         `yaml:"public_url"`
	UserAgent       string         `yaml:"user_agent"`
	Timeout         string         `yaml:"timeout"`
	XtreamRPS       string         `yaml:"xtream_rps"`
	SyncInterval    string         `yaml:"sync_interval"`
	SyncConcurrency int            `yaml:"sync_concurrency"`
	BatchSize       int            `yaml:"batch_size"`
	EPGMaxAge       string         `yaml:"epg_max_age"`
	LogLevel        string         `yaml:"log_level"`
	LogFormat       string         `yaml:"log_format"`
	Sources         []SourceConfig `yaml:"sources"`
}

// LoadFromFile loads config from a YAML file. database_url is required.
// Durations use Go syntax ("30s", "6h"); "0" disables the sync schedule.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	c := Default()
	c.DatabaseURL = f.DatabaseURL
	c.RedisURL = f.RedisURL
	c.PublicURL = f.PublicURL
	c.Sources = f.Sources
	for dst, v := range map[*string]string{
		&c.DatabaseDriver: f.DatabaseDriver,
		&c.ServerPort:     f.ServerPort,
		&c.UserAgent:      f.UserAgent,
		&c.LogLevel:       f.LogLevel,
		&c.LogFormat:      f.LogFormat,
	} {
		if v != "" {
			*dst = v
		}
	}
	for dst, v := range map[*time.Duration]string{
		&c.Timeout:      f.Timeout,
		&c.SyncInterval: f.SyncInterval,
		&c.EPGMaxAge:    f.EPGMaxAge,
	} {
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("parse %s: invalid duration %q: %w", path, v, err)
		}
		*dst = d
	}
	if f.XtreamRPS != "" {
		rps, err := strconv.ParseFloat(f.XtreamRPS, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s: invalid xtream_rps %q", path, f.XtreamRPS)
		}
		c.XtreamRPS = rps
	}
	if f.SyncConcurrency != 0 {
		c.SyncConcurrency = f.SyncConcurrency
	}
	if f.BatchSize != 0 {
		c.BatchSize = f.BatchSize
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
