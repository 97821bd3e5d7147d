package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/jamesainslie/shrink/pkg/shrink/logging"
	"github.com/jamesainslie/shrink/pkg/shrink/types"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size" yaml:"max_size"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	Daily      bool   `mapstructure:"daily" yaml:"daily"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level" yaml:"level"`
	Path       string            `mapstructure:"path" yaml:"path"`
	Rotation   RotationConfig    `mapstructure:"rotation" yaml:"rotation"`
	Components map[string]string `mapstructure:"components" yaml:"components"`
}

// HashCacheConfig configures the persistent digest cache.
type HashCacheConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ServicesConfig selects and orders the built-in backends.
type ServicesConfig struct {
	Order    []string `mapstructure:"order" yaml:"order"`
	Disabled []string `mapstructure:"disabled" yaml:"disabled"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// Config represents the application configuration.
type Config struct {
	Service   string          `mapstructure:"service" yaml:"service"`
	Filter    string          `mapstructure:"filter" yaml:"filter"`
	TopLevel  bool            `mapstructure:"top_level" yaml:"top_level"`
	Manifest  string          `mapstructure:"manifest" yaml:"manifest"`
	Workers   int             `mapstructure:"workers" yaml:"workers"`
	Output    string          `mapstructure:"output" yaml:"output"`
	HashCache HashCacheConfig `mapstructure:"hash_cache" yaml:"hash_cache"`
	Services  ServicesConfig  `mapstructure:"services" yaml:"services"`
	Watch     WatchConfig     `mapstructure:"watch" yaml:"watch"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`

	// Env holds backend variables such as KRAKEN_API_KEY. Keys are
	// upper-cased on load.
	Env map[string]string `mapstructure:"env" yaml:"env"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-" yaml:"-"`
}

// Load loads configuration from file and environment variables.
// An explicit file must exist. Otherwise the search order is:
//   - $XDG_CONFIG_HOME/shrink/config.yaml
//   - $HOME/.config/shrink/config.yaml
//
// Environment variables are prefixed with SHRINK_ (e.g., SHRINK_WORKERS).
func Load(file string) (*Config, error) {
	v := viper.New()

	if file != "" {
		expanded, err := ExpandPath(file)
		if err != nil {
			return nil, err
		}
		v.SetConfigFile(expanded)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
			v.AddConfigPath(filepath.Join(xdgConfigHome, "shrink"))
		}
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		v.AddConfigPath(filepath.Join(homeDir, ".config", "shrink"))
	}

	v.SetEnvPrefix("SHRINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	env := make(map[string]string, len(cfg.Env))
	for k, val := range cfg.Env {
		env[strings.ToUpper(k)] = val
	}
	cfg.Env = env

	var err error
	if cfg.Manifest, err = ExpandPath(cfg.Manifest); err != nil {
		return nil, err
	}
	if cfg.HashCache.Path, err = ExpandPath(cfg.HashCache.Path); err != nil {
		return nil, err
	}
	if cfg.Logging.Path, err = ExpandPath(cfg.Logging.Path); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service", "")
	v.SetDefault("filter", DefaultFilter)
	v.SetDefault("top_level", false)
	v.SetDefault("manifest", "")
	v.SetDefault("workers", 0)
	v.SetDefault("output", DefaultOutputFormat)

	v.SetDefault("hash_cache.enabled", true)
	v.SetDefault("hash_cache.path", DefaultHashCachePath())

	v.SetDefault("services.order", []string{})
	v.SetDefault("services.disabled", []string{})

	v.SetDefault("watch.debounce", DefaultWatchDebounce)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.rotation.max_size", DefaultLogMaxSize)
	v.SetDefault("logging.rotation.max_age", 30)
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.rotation.daily", true)
	v.SetDefault("logging.components", map[string]string{})

	v.SetDefault("env", map[string]string{})
}

// LoggingConfig converts the logging section for logging.Init.
func (c *Config) LoggingConfig() (logging.Config, error) {
	cfg := logging.DefaultConfig()
	if c.Logging.Level != "" {
		cfg.Level = c.Logging.Level
	}
	if c.Logging.Path != "" {
		cfg.Path = c.Logging.Path
	}
	cfg.Components = c.Logging.Components

	r := c.Logging.Rotation
	if r.MaxSize != "" {
		size, err := types.ParseSize(r.MaxSize)
		if err != nil {
			return cfg, fmt.Errorf("logging.rotation.max_size: %w", err)
		}
		cfg.Rotation.MaxSize = size
	}
	cfg.Rotation.MaxAge = r.MaxAge
	cfg.Rotation.MaxBackups = r.MaxBackups
	cfg.Rotation.Daily = r.Daily
	return cfg, nil
}

// ConfigDir returns the configuration directory path.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, "shrink"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, ".config", "shrink"), nil
}

// ConfigPath returns the default config file path.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// WriteDefault writes a default config file if none exists and returns its
// path. An existing file is left untouched.
func WriteDefault() (string, error) {
	configPath, err := ConfigPath()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configPath); err == nil {
		return configPath, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to check config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	defaultConfig := fmt.Sprintf(`# shrink image optimizer configuration

# Backend to force for every file (empty picks by extension)
service: ""

# Glob matched against file names
filter: "%s"

# Only optimize files directly inside the source directory
top_level: false

# Manifest file (empty means <source>/.shrink-manifest.xml)
manifest: ""

# Concurrent files (0 picks a value from the CPU count)
workers: 0

# Report format: pretty, plain, json, jsonl, yaml, csv, tsv, markdown
output: %s

# Digest cache so unchanged files are not re-read
hash_cache:
  enabled: true
  path: %s

# Built-in backends, in lookup priority order
services:
  order: []
  disabled: []

# Backend variables; the process environment wins over these
env:
  # KRAKEN_API_KEY: ""
  # KRAKEN_SECRET_KEY: ""
  # PUNYPNG_KEY: ""
  # JPEGTRAN_PATH: /usr/local/bin/jpegtran

watch:
  debounce: %s

logging:
  # Log level: debug, info, warn, error
  level: info
  # Log file path (empty means use default: $XDG_STATE_HOME/shrink/shrink.log)
  path: ""
  rotation:
    max_size: %s
    max_age: 30       # days
    max_backups: 5
    daily: true
  components:
%s`, DefaultFilter, DefaultOutputFormat, DefaultHashCachePath(), DefaultWatchDebounce,
		DefaultLogMaxSize, componentLines())

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return "", fmt.Errorf("failed to write default config: %w", err)
	}

	return configPath, nil
}

func componentLines() string {
	names := []string{"engine", "registry", "remote", "local", "manifest", "hashcache", "watcher", "cli"}
	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "    %s: %s\n", name, DefaultComponentLevels[name])
	}
	return b.String()
}

// ExpandPath expands ~ in a path to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	return filepath.Join(homeDir, path[1:]), nil
}

// StateDir returns $XDG_STATE_HOME/shrink/ for log files.
func StateDir() string {
	return filepath.Join(xdg.StateHome, "shrink")
}

// CacheDir returns $XDG_CACHE_HOME/shrink/.
func CacheDir() string {
	return filepath.Join(xdg.CacheHome, "shrink")
}

// DefaultHashCachePath returns the default digest cache directory.
func DefaultHashCachePath() string {
	return filepath.Join(CacheDir(), "hashes")
}
