// Package config provides YAML-based configuration for localdex.
// Configuration is loaded with a layered precedence: defaults → YAML file → env vars.
// Environment variables always win, so existing workflows are unaffected.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. LOCALDEX_CONFIG environment variable
//  3. ~/.localdex/config.yaml
//  4. ./localdex.yaml
//
// If no file is found the system runs entirely from env vars (backwards compatible).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Embedding configures the embedding backend the indexing engine embeds through.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Index configures the indexing engine itself: data root, dump threshold,
	// chunk bounds, and the designated system collection key.
	Index IndexConfig `yaml:"index"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`
}

// EmbeddingConfig holds embedding backend settings.
type EmbeddingConfig struct {
	// Endpoint is the embedding model service base URL, e.g. "http://localhost:8080".
	Endpoint string `yaml:"endpoint"`
	// APIKey is the embedding API bearer token. Prefer env var EMBED_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the embedding model name sent in the request body.
	Model string `yaml:"model"`
	// RateLimit caps outbound embedding sub-batch requests per second. Zero disables throttling.
	RateLimit float32 `yaml:"rate_limit"`
}

// IndexConfig holds indexing engine settings.
type IndexConfig struct {
	// DataRoot is the app-data root under which every collection's store,
	// index shards, and document copies are kept. Defaults to the
	// platform-standard user data directory when empty.
	DataRoot string `yaml:"data_root"`
	// DumpThreshold is the in-memory vector count a collection's memshard
	// must reach before it is dumped to a persisted shard file.
	DumpThreshold int `yaml:"dump_threshold"`
	// MinChunk is the minimum chunk length, in runes.
	MinChunk int `yaml:"min_chunk"`
	// MaxChunk is the maximum chunk length, in runes.
	MaxChunk int `yaml:"max_chunk"`
	// SystemKey names the collection whose searches bypass the in-memory
	// cache and return persisted results only.
	SystemKey string `yaml:"system_key"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"EMBED_ENDPOINT", func(c *Config) string { return c.Embedding.Endpoint }},
	{"EMBED_API_KEY", func(c *Config) string { return c.Embedding.APIKey }},
	{"EMBED_MODEL", func(c *Config) string { return c.Embedding.Model }},
	{"EMBED_RATE_LIMIT", func(c *Config) string { return float32Str(c.Embedding.RateLimit) }},
	{"LOCALDEX_DATA_ROOT", func(c *Config) string { return c.Index.DataRoot }},
	{"LOCALDEX_DUMP_THRESHOLD", func(c *Config) string { return intStr(c.Index.DumpThreshold) }},
	{"LOCALDEX_MIN_CHUNK", func(c *Config) string { return intStr(c.Index.MinChunk) }},
	{"LOCALDEX_MAX_CHUNK", func(c *Config) string { return intStr(c.Index.MaxChunk) }},
	{"LOCALDEX_SYSTEM_KEY", func(c *Config) string { return c.Index.SystemKey }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" || yamlVal == "0" || yamlVal == "false" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set — do not override
		}
		os.Setenv(m.envKey, yamlVal)
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("LOCALDEX_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".localdex", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("localdex.yaml"); err == nil {
		return "localdex.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}
