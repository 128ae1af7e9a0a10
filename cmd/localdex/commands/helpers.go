package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/localdex/localdex/internal/chunk"
	"github.com/localdex/localdex/internal/core"
	"github.com/localdex/localdex/internal/embedclient"
)

// buildCore constructs the shared Core facade from environment configuration.
// It is called fresh by each subcommand, rather than cached on the root
// command, so config loaded into the environment by the root command's
// PersistentPreRunE is always reflected.
func buildCore() (*core.Core, error) {
	embed, err := embedclient.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("commands: %w", err)
	}

	dataRoot, err := resolveDataRoot()
	if err != nil {
		return nil, fmt.Errorf("commands: %w", err)
	}

	chunkOpts := chunk.Options{
		MinChunk: getEnvInt("LOCALDEX_MIN_CHUNK", chunk.DefaultMinChunk),
		MaxChunk: getEnvInt("LOCALDEX_MAX_CHUNK", chunk.DefaultMaxChunk),
	}

	dumpThreshold := getEnvInt("LOCALDEX_DUMP_THRESHOLD", 0)
	systemKey := getEnvOrDefault("LOCALDEX_SYSTEM_KEY", "system")

	return core.New(filepath.Join(dataRoot, "embedding"), dumpThreshold, embed, chunkOpts, systemKey, prometheus.DefaultRegisterer), nil
}

// resolveDataRoot returns LOCALDEX_DATA_ROOT if set, otherwise a
// platform-standard per-user data directory under os.UserHomeDir.
func resolveDataRoot() (string, error) {
	if root := os.Getenv("LOCALDEX_DATA_ROOT"); root != "" {
		return root, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve default data root: %w", err)
	}
	return filepath.Join(home, ".localdex", "data"), nil
}

// getEnvOrDefault returns the environment variable's value, or def if unset
// or empty.
func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvInt returns the environment variable parsed as an int, or def if
// unset, empty, or unparsable.
func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
