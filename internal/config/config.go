// Package config loads hierprops settings from a TOML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Backends accepted in [store] backend.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

const (
	defaultName    = "default"
	defaultBackend = BackendSQLite
	defaultLevel   = "info"
	defaultAddr    = "127.0.0.1:8340"
)

// Config holds settings loaded from config.toml.
type Config struct {
	// Name tags every log line of the forest.
	Name   string       `toml:"name"`
	Store  StoreConfig  `toml:"store"`
	Log    LogConfig    `toml:"log"`
	Server ServerConfig `toml:"server"`
}

// StoreConfig selects the backend holding the forest.
type StoreConfig struct {
	Backend string `toml:"backend"`
	// Path is the SQLite file or Badger directory. Empty means a file under
	// the state directory.
	Path string `toml:"path"`
	// SyncWrites makes Badger fsync every commit.
	SyncWrites bool `toml:"sync_writes"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `toml:"level"`
}

// ServerConfig configures the HTTP API of `hierprops serve`.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// DefaultPath returns $XDG_CONFIG_HOME/hierprops/config.toml, falling back to
// ~/.config.
func DefaultPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "hierprops", "config.toml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	return filepath.Join(home, ".config", "hierprops", "config.toml"), nil
}

// StateDir returns the directory holding the default database, creating it.
func StateDir() (string, error) {
	dir := os.Getenv("XDG_STATE_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("home dir: %w", err)
		}
		dir = filepath.Join(home, ".local", "state")
	}
	dir = filepath.Join(dir, "hierprops")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create state dir: %w", err)
	}
	return dir, nil
}

// Load reads the file at path and returns the parsed config with defaults
// applied. If the file does not exist, defaults are returned with no error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// Re-apply defaults for empty fields
	cfg.applyDefaults()
	cfg.Store.Backend = strings.ToLower(cfg.Store.Backend)
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = defaultName
	}
	if c.Store.Backend == "" {
		c.Store.Backend = defaultBackend
	}
	if c.Log.Level == "" {
		c.Log.Level = defaultLevel
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaultAddr
	}
}

// Validate rejects unknown backends and log levels.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendSQLite, BackendBadger, BackendMemory:
	default:
		return fmt.Errorf("store: unknown backend %q", c.Store.Backend)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: unknown level %q", c.Log.Level)
	}
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}

// StorePath returns the configured store path, or the backend's default
// location under the state directory.
func (c *Config) StorePath() (string, error) {
	if c.Store.Path != "" {
		return c.Store.Path, nil
	}
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	switch c.Store.Backend {
	case BackendBadger:
		return filepath.Join(dir, c.Name+".badger"), nil
	default:
		return filepath.Join(dir, c.Name+".db"), nil
	}
}
