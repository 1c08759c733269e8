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
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the ingestion service.
type Config struct {
	// SATVOS backend
	DefaultAPIBaseURL string

	// Raw mail storage (S3 or compatible)
	S3Bucket    string
	S3Prefix    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	// Postgres tenant directory
	DatabaseURL string

	// Redis dedup
	RedisURL string

	// Tenant config cache
	TenantCacheTTL time.Duration

	// HTTP
	RequestTimeout time.Duration
	InboundPort    int
	Port           int // health check only

	LogLevel slog.Level
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Satvos struct {
		APIBaseURL string `yaml:"api_base_url"`
	} `yaml:"satvos"`
	S3 struct {
		Bucket    string `yaml:"bucket"`
		Prefix    string `yaml:"prefix"`
		Region    string `yaml:"region"`
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
	} `yaml:"s3"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
}

// Load reads the full service configuration and validates everything the
// ingestion service needs.
func Load() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}

	var missing []string
	if cfg.DefaultAPIBaseURL == "" {
		missing = append(missing, "SATVOS_API_BASE_URL")
	}
	if cfg.S3Bucket == "" {
		missing = append(missing, "SES_EMAIL_BUCKET")
	}
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}

// LoadCLI reads the same configuration sources but only requires the
// database URL, for tools that just talk to the tenant directory.
func LoadCLI() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("missing required configuration: DATABASE_URL")
	}
	return cfg, nil
}

// load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings. The YAML file is optional;
// every setting has an environment fallback.
func load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	var raw rawConfig
	if data, err := os.ReadFile(configPath); err == nil {
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	cfg := &Config{
		DefaultAPIBaseURL: strings.TrimRight(firstNonEmpty(raw.Satvos.APIBaseURL, os.Getenv("SATVOS_API_BASE_URL")), "/"),
		S3Bucket:          firstNonEmpty(raw.S3.Bucket, os.Getenv("SES_EMAIL_BUCKET")),
		S3Prefix:          strings.Trim(firstNonEmpty(raw.S3.Prefix, envOrDefault("SES_EMAIL_PREFIX", "ses-inbound")), "/"),
		S3Region:          firstNonEmpty(raw.S3.Region, envOrDefault("AWS_REGION", "us-east-1")),
		S3Endpoint:        firstNonEmpty(raw.S3.Endpoint, os.Getenv("S3_ENDPOINT")),
		S3AccessKey:       firstNonEmpty(raw.S3.AccessKey, os.Getenv("S3_ACCESS_KEY")),
		S3SecretKey:       firstNonEmpty(raw.S3.SecretKey, os.Getenv("S3_SECRET_KEY")),
		DatabaseURL:       firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		RedisURL:          firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		TenantCacheTTL:    envOrDefaultDuration("TENANT_CACHE_TTL", 300*time.Second),
		RequestTimeout:    envOrDefaultDuration("REQUEST_TIMEOUT", 30*time.Second),
		InboundPort:       envOrDefaultInt("INBOUND_PORT", 8081),
		Port:              envOrDefaultInt("PORT", 8080),
		LogLevel:          parseLogLevel(envOrDefault("LOG_LEVEL", "INFO")),
	}

	return cfg, nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
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
