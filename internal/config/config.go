// Package config loads server configuration from an optional TOML file with
// environment-variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds the server configuration.
type Config struct {
	Port          string
	DBPath        string
	LogDir        string
	RealtimeToken string
	BacklogSize   int
	JobStepDelay  time.Duration
}

const (
	defaultPort         = "8080"
	defaultDBPath       = "data/documents.db"
	defaultLogDir       = "data/logs"
	defaultBacklogSize  = 1024
	defaultJobStepDelay = 150 * time.Millisecond
)

// Load parses the TOML file at path, falling back to defaults when the file is
// missing, then applies environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Config{
		Port:         defaultPort,
		DBPath:       defaultDBPath,
		LogDir:       defaultLogDir,
		BacklogSize:  defaultBacklogSize,
		JobStepDelay: defaultJobStepDelay,
	}

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var raw struct {
		Port          string `toml:"port"`
		DBPath        string `toml:"db_path"`
		LogDir        string `toml:"log_dir"`
		RealtimeToken string `toml:"realtime_token"`
		BacklogSize   int    `toml:"backlog_size"`
		JobStepDelay  string `toml:"job_step_delay"`
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	if v := strings.TrimSpace(raw.Port); v != "" {
		c.Port = v
	}
	if v := strings.TrimSpace(raw.DBPath); v != "" {
		c.DBPath = v
	}
	if v := strings.TrimSpace(raw.LogDir); v != "" {
		c.LogDir = v
	}
	if v := strings.TrimSpace(raw.RealtimeToken); v != "" {
		c.RealtimeToken = v
	}
	if raw.BacklogSize > 0 {
		c.BacklogSize = raw.BacklogSize
	}
	if v := strings.TrimSpace(raw.JobStepDelay); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse job_step_delay: %w", err)
		}
		c.JobStepDelay = d
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("LOG_DIR"); v != "" {
		c.LogDir = v
	}
	if v := os.Getenv("REALTIME_TOKEN"); v != "" {
		c.RealtimeToken = v
	}
	if v := os.Getenv("BACKLOG_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid BACKLOG_SIZE %q", v)
		}
		c.BacklogSize = n
	}
	if v := os.Getenv("JOB_STEP_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid JOB_STEP_DELAY %q: %w", v, err)
		}
		c.JobStepDelay = d
	}
	return nil
}
