package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/mockinterview/docpipe"
	"github.com/hazyhaar/mockinterview/interview"
	"github.com/hazyhaar/mockinterview/observability"
)

// Config is the service configuration, read from YAML and then overridden
// by environment variables.
type Config struct {
	Listen   string `yaml:"listen"`
	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`

	// MCP mounts the streamable MCP endpoint at /mcp.
	MCP bool `yaml:"mcp"`

	Upload     UploadConfig                  `yaml:"upload"`
	Strategies StrategiesConfig              `yaml:"strategies"`
	LLM        interview.ModelConfig         `yaml:"llm"`
	Interview  InterviewConfig               `yaml:"interview"`
	Retention  observability.RetentionConfig `yaml:"retention"`
}

// UploadConfig holds the validator limits and the per-IP API rate limit.
type UploadConfig struct {
	docpipe.Config `yaml:",inline"`

	RatePerMinute int `yaml:"rate_per_minute"`
	Burst         int `yaml:"burst"`
}

// StrategiesConfig selects and tunes the extraction strategies.
type StrategiesConfig struct {
	Local     LocalStrategyConfig     `yaml:"local"`
	Remote    RemoteStrategyConfig    `yaml:"remote"`
	PlainText PlainTextStrategyConfig `yaml:"plaintext"`
}

type LocalStrategyConfig struct {
	Enabled             bool `yaml:"enabled"`
	docpipe.LocalConfig `yaml:",inline"`
}

type RemoteStrategyConfig struct {
	Enabled              bool `yaml:"enabled"`
	docpipe.RemoteConfig `yaml:",inline"`
}

type PlainTextStrategyConfig struct {
	Enabled                 bool `yaml:"enabled"`
	docpipe.PlainTextConfig `yaml:",inline"`
}

// InterviewConfig tunes the interview service.
type InterviewConfig struct {
	MaxQuestions int `yaml:"max_questions"`
}

// DefaultConfig returns a configuration with sane defaults: local and
// plain-text strategies on, remote worker off.
func DefaultConfig() *Config {
	return &Config{
		Listen:   ":8080",
		DBPath:   "data/mockinterview.db",
		LogLevel: "info",
		Upload: UploadConfig{
			Config: docpipe.Config{
				MaxFileSize:       docpipe.DefaultMaxFileSize,
				AcceptedType:      docpipe.DefaultAcceptedType,
				AcceptedExtension: docpipe.DefaultAcceptedExtension,
			},
			RatePerMinute: 20,
			Burst:         5,
		},
		Strategies: StrategiesConfig{
			Local: LocalStrategyConfig{
				Enabled:     true,
				LocalConfig: docpipe.LocalConfig{Timeout: 30 * time.Second},
			},
			Remote: RemoteStrategyConfig{
				RemoteConfig: docpipe.RemoteConfig{Timeout: 30 * time.Second},
			},
			PlainText: PlainTextStrategyConfig{
				Enabled:         true,
				PlainTextConfig: docpipe.PlainTextConfig{Timeout: 10 * time.Second},
			},
		},
		LLM: interview.ModelConfig{
			BaseURL: "https://openrouter.ai/api/v1",
			Model:   "qwen/qwen2.5-32b-instruct",
			Timeout: 60 * time.Second,
		},
		Interview: InterviewConfig{MaxQuestions: interview.DefaultMaxQuestions},
		Retention: observability.RetentionConfig{
			IngestDays:  30,
			EventDays:   90,
			MetricsDays: 14,
		},
	}
}

// LoadConfig reads a YAML file over DefaultConfig. An empty path returns
// the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides file values with PORT, LOG_LEVEL, DB_PATH,
// LLM_API_KEY and REMOTE_WORKER_URL when they are set.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("PORT"); v != "" {
		c.Listen = ":" + v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := getenv("LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := getenv("REMOTE_WORKER_URL"); v != "" {
		c.Strategies.Remote.Enabled = true
		c.Strategies.Remote.Endpoint = v
	}
}

// Validate checks the configuration for required fields.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q: want debug, info, warn or error", c.LogLevel)
	}
	if c.Upload.MaxFileSize <= 0 {
		return fmt.Errorf("upload.max_file_size must be positive")
	}
	if c.Upload.AcceptedType == "" {
		return fmt.Errorf("upload.accepted_type is required")
	}
	if !strings.HasPrefix(c.Upload.AcceptedExtension, ".") {
		return fmt.Errorf("upload.accepted_extension must start with a dot")
	}
	if c.Upload.RatePerMinute < 0 {
		return fmt.Errorf("upload.rate_per_minute must not be negative")
	}
	if c.Strategies.Remote.Enabled && c.Strategies.Remote.Endpoint == "" {
		return fmt.Errorf("strategies.remote.endpoint is required when the remote worker is enabled")
	}
	if c.Interview.MaxQuestions < 0 {
		return fmt.Errorf("interview.max_questions must not be negative")
	}
	return nil
}
