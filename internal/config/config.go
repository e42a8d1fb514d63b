// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// GoogleConfig holds the OAuth client used to refresh mailbox grants.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// IngestConfig tunes what the ingester reads and how it stores results.
type IngestConfig struct {
	SenderDomains []string
	Currency      string
	ResultLimit   int
	RulesPath     string // optional YAML overlay for the keyword tables
}

// JobsConfig tunes the worker pool and retry policy.
type JobsConfig struct {
	Workers     int
	MaxAttempts int
	Backoff     time.Duration
	TTL         time.Duration
}

// Config holds all configuration for the ingestion service.
type Config struct {
	DatabaseURL string

	// Redis
	RedisURL  string
	JobsQueue string

	Google GoogleConfig
	Ingest IngestConfig
	Jobs   JobsConfig

	// Server
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Jobs string `yaml:"jobs"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Google struct {
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
		RedirectURL  string `yaml:"redirect_url"`
	} `yaml:"google"`
	Ingest struct {
		SenderDomains []string `yaml:"sender_domains"`
		Currency      string   `yaml:"currency"`
		ResultLimit   int      `yaml:"result_limit"`
		RulesPath     string   `yaml:"rules_path"`
	} `yaml:"ingest"`
	Jobs struct {
		Workers     int    `yaml:"workers"`
		MaxAttempts int    `yaml:"max_attempts"`
		Backoff     string `yaml:"backoff"`
		TTL         string `yaml:"ttl"`
	} `yaml:"jobs"`
}

// defaultSenderDomains are the BNPL providers' notification domains.
var defaultSenderDomains = []string{"lazypay.in", "getsimpl.com"}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for scalar settings. A missing file is not an
// error; everything can come from the environment.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	var raw rawConfig
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	cfg := &Config{
		DatabaseURL: firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		RedisURL:    firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		JobsQueue:   firstNonEmpty(raw.Redis.Queues.Jobs, envOrDefault("JOBS_QUEUE", "ingest:jobs")),
		Google: GoogleConfig{
			ClientID:     firstNonEmpty(raw.Google.ClientID, os.Getenv("GOOGLE_CLIENT_ID")),
			ClientSecret: firstNonEmpty(raw.Google.ClientSecret, os.Getenv("GOOGLE_CLIENT_SECRET")),
			RedirectURL:  firstNonEmpty(raw.Google.RedirectURL, os.Getenv("GOOGLE_REDIRECT_URL")),
		},
		Ingest: IngestConfig{
			SenderDomains: raw.Ingest.SenderDomains,
			Currency:      strings.ToUpper(firstNonEmpty(raw.Ingest.Currency, envOrDefault("DEFAULT_CURRENCY", "INR"))),
			ResultLimit:   firstPositive(raw.Ingest.ResultLimit, envOrDefaultInt("RESULT_LIMIT", 100)),
			RulesPath:     firstNonEmpty(raw.Ingest.RulesPath, os.Getenv("RULES_PATH")),
		},
		Jobs: JobsConfig{
			Workers:     firstPositive(raw.Jobs.Workers, envOrDefaultInt("JOB_WORKERS", 4)),
			MaxAttempts: firstPositive(raw.Jobs.MaxAttempts, envOrDefaultInt("JOB_MAX_ATTEMPTS", 3)),
			Backoff:     envOrDefaultDuration("JOB_BACKOFF", 5*time.Second),
			TTL:         envOrDefaultDuration("JOB_TTL", 168*time.Hour),
		},
		Port: envOrDefaultInt("PORT", 8080),
	}

	if raw.Jobs.Backoff != "" {
		d, err := time.ParseDuration(raw.Jobs.Backoff)
		if err != nil {
			return nil, fmt.Errorf("parse jobs.backoff: %w", err)
		}
		cfg.Jobs.Backoff = d
	}
	if raw.Jobs.TTL != "" {
		d, err := time.ParseDuration(raw.Jobs.TTL)
		if err != nil {
			return nil, fmt.Errorf("parse jobs.ttl: %w", err)
		}
		cfg.Jobs.TTL = d
	}

	if len(cfg.Ingest.SenderDomains) == 0 {
		cfg.Ingest.SenderDomains = append([]string(nil), defaultSenderDomains...)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database url is not configured: set database.url or DATABASE_URL")
	}

	return cfg, nil
}

// ValidateGoogle reports whether mailbox access can be configured.
func (c *Config) ValidateGoogle() error {
	if c.Google.ClientID == "" || c.Google.ClientSecret == "" {
		return fmt.Errorf("google client id and secret are required: check config.yaml and environment variables")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
