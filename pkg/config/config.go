// Package config loads peer configuration from environment variables
// and an on-disk YAML file, following the teacher's LoadFromEnv/
// Validate pattern.
//
// Configuration is organized into:
//   - Database: storage backend settings
//   - Sync: retention depth, default TieBreakPolicy, sync timeout
//   - Logging: level/format/output
//   - Features: CRRDB_*_ENABLED feature flags
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/latticedb/crrdb/pkg/crr"
)

// Config holds all peer configuration.
type Config struct {
	Database DatabaseConfig
	Sync     SyncConfig
	Logging  LoggingConfig
	Features FeatureFlagsConfig
}

// DatabaseConfig holds storage backend settings.
type DatabaseConfig struct {
	// DataDir is the directory for BadgerDB data files.
	DataDir string
	// InMemory runs against a transient in-memory engine, bypassing DataDir.
	InMemory bool
}

// SyncConfig holds sync-protocol and GC settings.
type SyncConfig struct {
	// RetentionDepth is the GC retention depth R (spec §4.6): ancestors
	// within R edges of a head are always kept in full.
	RetentionDepth int
	// DefaultPolicy is the TieBreakPolicy applied when a caller does not
	// specify one explicitly.
	DefaultPolicy crr.TieBreakPolicy
	// Timeout is the configured bound for a single sync exchange with a
	// peer. It is validated but not enforced: pkg/sync does not read it.
	Timeout time.Duration
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR.
	Level string
	// Format is one of "text" or "json".
	Format string
	// Output is "stdout", "stderr", or a file path.
	Output string
}

// FeatureFlagsConfig holds optional-feature toggles.
type FeatureFlagsConfig struct {
	// SealedStubsEnabled is read from CRRDB_SEALED_STUBS_ENABLED. The GC
	// engine does not consult it: a GC pass always seals boundary-parent
	// nodes (spec §4.6), whatever its value.
	SealedStubsEnabled bool
	// GCAsyncEnabled is read from CRRDB_GC_ASYNC_ENABLED. No background
	// GC loop reads it: GC runs only on explicit Peer.GC calls.
	GCAsyncEnabled bool
}

// LoadFromEnv builds a Config from environment variables, applying
// defaults for anything unset.
func LoadFromEnv() *Config {
	cfg := &Config{}

	cfg.Database.DataDir = getEnv("CRRDB_DATA_DIR", "./data")
	cfg.Database.InMemory = getEnvBool("CRRDB_IN_MEMORY", false)

	cfg.Sync.RetentionDepth = getEnvInt("CRRDB_RETENTION_DEPTH", 100)
	cfg.Sync.DefaultPolicy = parsePolicy(getEnv("CRRDB_DEFAULT_POLICY", "lexicographic_min"))
	cfg.Sync.Timeout = getEnvDuration("CRRDB_SYNC_TIMEOUT", 30*time.Second)

	cfg.Logging.Level = getEnv("CRRDB_LOG_LEVEL", "INFO")
	cfg.Logging.Format = getEnv("CRRDB_LOG_FORMAT", "text")
	cfg.Logging.Output = getEnv("CRRDB_LOG_OUTPUT", "stdout")

	cfg.Features.SealedStubsEnabled = getEnvBool("CRRDB_SEALED_STUBS_ENABLED", true)
	cfg.Features.GCAsyncEnabled = getEnvBool("CRRDB_GC_ASYNC_ENABLED", false)

	return cfg
}

// LoadFromYAML reads a peer configuration file (crr.yaml), layering it
// on top of defaults. Fields absent from the file keep their default
// value.
func LoadFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var file yamlConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg := LoadFromEnv()
	if file.DataDir != "" {
		cfg.Database.DataDir = file.DataDir
	}
	if file.RetentionDepth != 0 {
		cfg.Sync.RetentionDepth = file.RetentionDepth
	}
	if file.DefaultPolicy != "" {
		cfg.Sync.DefaultPolicy = parsePolicy(file.DefaultPolicy)
	}
	if file.SyncTimeout != "" {
		if d, err := time.ParseDuration(file.SyncTimeout); err == nil {
			cfg.Sync.Timeout = d
		}
	}
	return cfg, nil
}

// yamlConfig mirrors crr.yaml's on-disk shape.
type yamlConfig struct {
	DataDir        string `yaml:"data_dir"`
	RetentionDepth int    `yaml:"retention_depth"`
	DefaultPolicy  string `yaml:"default_policy"`
	SyncTimeout    string `yaml:"sync_timeout"`
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Sync.RetentionDepth < 0 {
		return fmt.Errorf("config: retention depth must be >= 0, got %d", c.Sync.RetentionDepth)
	}
	if c.Sync.Timeout <= 0 {
		return fmt.Errorf("config: sync timeout must be positive, got %v", c.Sync.Timeout)
	}
	if !c.Database.InMemory && c.Database.DataDir == "" {
		return fmt.Errorf("config: data dir must be set unless running in-memory")
	}
	return nil
}

func parsePolicy(s string) crr.TieBreakPolicy {
	switch strings.ToLower(s) {
	case "prefer_existing":
		return crr.PreferExisting
	case "prefer_incoming":
		return crr.PreferIncoming
	default:
		return crr.LexicographicMin
	}
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

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
