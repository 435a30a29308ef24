// ABOUTME: Configuration loading and parsing for claudeslackd
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete claudeslackd configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	EventBus    EventBusConfig    `yaml:"event_bus"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// StoreConfig holds the relational store's on-disk location.
type StoreConfig struct {
	Path string `yaml:"path"` // ":memory:" for an ephemeral store
}

// VectorStoreConfig selects and configures the optional semantic search
// backend. Kind "memory" (the default) needs nothing further; any other
// kind is a hosted vector database and requires URL/APIKey.
type VectorStoreConfig struct {
	Kind   string `yaml:"kind"` // "memory", "qdrant", "pinecone", ...
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// EventBusConfig sizes the in-memory event ring buffer.
type EventBusConfig struct {
	RingBufferSize int `yaml:"ring_buffer_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const defaultRingBufferSize = 10000

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable value. An unset variable expands to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Store.Path == "" {
		cfg.Store.Path = ":memory:"
	}
	if cfg.VectorStore.Kind == "" {
		cfg.VectorStore.Kind = "memory"
	}
	if cfg.EventBus.RingBufferSize == 0 {
		cfg.EventBus.RingBufferSize = defaultRingBufferSize
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// ParseDuration parses a duration string, matching the teacher's
// raw-string-plus-explicit-parse pattern for any yaml field that needs a
// time.Duration rather than yaml.v3's own (stricter) duration support.
func ParseDuration(raw, field string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing %s %q: %w", field, raw, err)
	}
	return d, nil
}
