// Package config provides configuration for graphvault.
//
// Values come from defaults, then an optional YAML file, then GRAPHVAULT_*
// environment variables. Command-line flags are applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds ingestion settings.
type Config struct {
	// DataDir is the root directory for database files.
	DataDir string `yaml:"data_dir"`
	// GraphDB is the graph database file. Defaults to <data_dir>/graph.db.
	GraphDB string `yaml:"graph_db"`
	// StateBackend is "sqlite" or "badger".
	StateBackend string `yaml:"state_backend"`
	// StatePath is the state database file (sqlite) or directory (badger).
	StatePath string `yaml:"state_path"`
	// BatchSize is the number of documents written per transaction.
	BatchSize int `yaml:"batch_size"`
	// MaxWriteBytes bounds the serialized size of one write.
	MaxWriteBytes int64 `yaml:"max_write_bytes"`
	// DefaultVersion is used when neither flags, metadata nor path name one.
	DefaultVersion string `yaml:"default_version"`
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	// MetricsFile, when set, receives Prometheus text output after each run.
	MetricsFile string `yaml:"metrics_file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:       "./.graphvault",
		StateBackend:  "sqlite",
		BatchSize:     1000,
		MaxWriteBytes: 16 << 20, // 16MB
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// Load reads the YAML file at path (skipped when path is empty) over the
// defaults and then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening config: %w", err)
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		// An empty file decodes to io.EOF and leaves the defaults.
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.DataDir = getEnv("GRAPHVAULT_DATA_DIR", c.DataDir)
	c.GraphDB = getEnv("GRAPHVAULT_GRAPH_DB", c.GraphDB)
	c.StateBackend = getEnv("GRAPHVAULT_STATE_BACKEND", c.StateBackend)
	c.StatePath = getEnv("GRAPHVAULT_STATE_PATH", c.StatePath)
	c.BatchSize = getEnvInt("GRAPHVAULT_BATCH_SIZE", c.BatchSize)
	c.MaxWriteBytes = getEnvInt64("GRAPHVAULT_MAX_WRITE_BYTES", c.MaxWriteBytes)
	c.DefaultVersion = getEnv("GRAPHVAULT_DEFAULT_VERSION", c.DefaultVersion)
	c.LogLevel = getEnv("GRAPHVAULT_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("GRAPHVAULT_LOG_FORMAT", c.LogFormat)
	c.MetricsFile = getEnv("GRAPHVAULT_METRICS_FILE", c.MetricsFile)
}

// GraphDBPath returns the graph database file.
func (c *Config) GraphDBPath() string {
	if c.GraphDB != "" {
		return c.GraphDB
	}
	return filepath.Join(c.DataDir, "graph.db")
}

// StateDBPath returns the state database location for the backend.
func (c *Config) StateDBPath() string {
	if c.StatePath != "" {
		return c.StatePath
	}
	if strings.EqualFold(c.StateBackend, "badger") {
		return filepath.Join(c.DataDir, "state")
	}
	return filepath.Join(c.DataDir, "state.db")
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" && (c.GraphDB == "" || c.StatePath == "") {
		errs = append(errs, errors.New("data_dir is required unless graph_db and state_path are set"))
	}
	switch strings.ToLower(c.StateBackend) {
	case "sqlite", "badger":
	default:
		errs = append(errs, fmt.Errorf("state_backend must be sqlite or badger, got %q", c.StateBackend))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch_size must be positive, got %d", c.BatchSize))
	}
	if c.MaxWriteBytes <= 0 {
		errs = append(errs, fmt.Errorf("max_write_bytes must be positive, got %d", c.MaxWriteBytes))
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}
