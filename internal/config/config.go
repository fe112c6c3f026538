package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig      `json:"server"`
	Reasoning []ReasoningConfig `json:"reasoning"`
	Embedding EmbeddingConfig   `json:"embedding"`
	Database  DatabaseConfig    `json:"database"`
	Platform  PlatformConfig    `json:"platform"`
	Detection DetectionConfig   `json:"detection"`
	Mission   MissionDefaults   `json:"mission"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

// ReasoningConfig configures one reasoning backend.
type ReasoningConfig struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // "openai" or "anthropic"
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"`
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN           string `json:"dsn"`
	MigrationsDir string `json:"migrations_dir"`
}

type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// PlatformConfig configures the flight-platform link.
type PlatformConfig struct {
	Endpoints       []string `json:"endpoints"`
	Vehicle         string   `json:"vehicle"`
	MaxAttempts     int      `json:"max_attempts"`
	InitialDelayMS  int      `json:"initial_delay_ms"`
	MaxDelayMS      int      `json:"max_delay_ms"`
	RequestTimeoutS int      `json:"request_timeout_s"`
}

// InitialDelay returns the first backoff delay.
func (p PlatformConfig) InitialDelay() time.Duration {
	return time.Duration(p.InitialDelayMS) * time.Millisecond
}

// MaxDelay returns the backoff delay cap.
func (p PlatformConfig) MaxDelay() time.Duration {
	return time.Duration(p.MaxDelayMS) * time.Millisecond
}

// RequestTimeout returns the per-RPC timeout.
func (p PlatformConfig) RequestTimeout() time.Duration {
	return time.Duration(p.RequestTimeoutS) * time.Second
}

type DetectionConfig struct {
	Endpoint string `json:"endpoint"`
}

// MissionDefaults are operator defaults applied when a mission request
// leaves them unset.
type MissionDefaults struct {
	StepLimit          int    `json:"step_limit"`
	ExecutorSteps      int    `json:"executor_steps"`
	Model              string `json:"model"`
	PriorKnowledgePath string `json:"prior_knowledge_path"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}
