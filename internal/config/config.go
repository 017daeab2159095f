// Package config provides configuration management for the KGAS identity
// and workflow subsystem. Settings come from an optional YAML file and
// environment variables with the KGAS_ prefix; environment variables win,
// and every option has a sensible default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the KGAS services.
type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	// Engine selects the backend: sqlite, postgres, or neo4j
	// (neo4j covers the identity stores only). Default: sqlite.
	Engine string `yaml:"engine"`

	// DataPath is the data directory for the SQLite database, blob files,
	// and event files. Default: ./data.
	DataPath string `yaml:"data_path"`

	// PostgresDSN is the connection string for the postgres engine.
	PostgresDSN string `yaml:"postgres_dsn"`

	// Neo4j connection settings for the neo4j engine.
	Neo4jURI      string `yaml:"neo4j_uri"`
	Neo4jUser     string `yaml:"neo4j_user"`
	Neo4jPassword string `yaml:"neo4j_password"`
}

// WorkflowConfig contains checkpoint and retention settings.
type WorkflowConfig struct {
	// CheckpointInterval is the default number of operations between
	// automatic checkpoints. Default: 100.
	CheckpointInterval int `yaml:"checkpoint_interval"`

	// KeepCheckpoints is how many checkpoints per workflow retention
	// sweeps preserve. Default: 3.
	KeepCheckpoints int `yaml:"keep_checkpoints"`

	// SweepInterval is how often the maintenance daemon runs a retention
	// sweep. Default: 1h.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// LoggingConfig contains logger settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error. Default: info.
	Level string `yaml:"level"`

	// Development switches to the human-readable console encoder.
	Development bool `yaml:"development"`
}

// LoadConfig loads configuration from environment variables with defaults.
func LoadConfig() (*Config, error) {
	return buildBaseConfig(), nil
}

// LoadConfigFile loads configuration from a YAML file, then applies
// environment variable overrides on top.
func LoadConfigFile(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnv(cfg)
	return cfg, nil
}

// defaults returns a Config with every option at its default value.
func defaults() *Config {
	return &Config{
		Storage: StorageConfig{
			Engine:   "sqlite",
			DataPath: "./data",
			Neo4jURI: "bolt://localhost:7687",
		},
		Workflow: WorkflowConfig{
			CheckpointInterval: 100,
			KeepCheckpoints:    3,
			SweepInterval:      time.Hour,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// buildBaseConfig constructs a Config from environment variables layered
// over the defaults.
func buildBaseConfig() *Config {
	cfg := defaults()
	applyEnv(cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	cfg.Storage.Engine = getEnv("KGAS_STORAGE_ENGINE", cfg.Storage.Engine)
	cfg.Storage.DataPath = getEnv("KGAS_DATA_PATH", cfg.Storage.DataPath)
	cfg.Storage.PostgresDSN = getEnv("KGAS_POSTGRES_DSN", cfg.Storage.PostgresDSN)
	cfg.Storage.Neo4jURI = getEnv("KGAS_NEO4J_URI", cfg.Storage.Neo4jURI)
	cfg.Storage.Neo4jUser = getEnv("KGAS_NEO4J_USER", cfg.Storage.Neo4jUser)
	cfg.Storage.Neo4jPassword = getEnv("KGAS_NEO4J_PASSWORD", cfg.Storage.Neo4jPassword)

	cfg.Workflow.CheckpointInterval = getEnvInt("KGAS_CHECKPOINT_INTERVAL", cfg.Workflow.CheckpointInterval)
	cfg.Workflow.KeepCheckpoints = getEnvInt("KGAS_KEEP_CHECKPOINTS", cfg.Workflow.KeepCheckpoints)
	cfg.Workflow.SweepInterval = getEnvDuration("KGAS_SWEEP_INTERVAL", cfg.Workflow.SweepInterval)

	cfg.Logging.Level = getEnv("KGAS_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Development = getEnvBool("KGAS_LOG_DEVELOPMENT", cfg.Logging.Development)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. If the variable exists but cannot be parsed, the default wins.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default
// value. It recognizes "true", "1", "yes" and "false", "0", "no".
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (e.g. "30m")
// or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
