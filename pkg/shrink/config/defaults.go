// Package config provides configuration management for shrink.
package config

import "time"

// Default configuration values for shrink.
const (
	// DefaultFilter matches every file name.
	DefaultFilter = "*"

	// DefaultOutputFormat is the report format used when none is given.
	DefaultOutputFormat = "pretty"

	// DefaultWatchDebounce is how long watch mode waits for changes to
	// settle before re-running.
	DefaultWatchDebounce = 2 * time.Second

	// DefaultLogMaxSize is the log size that triggers rotation.
	DefaultLogMaxSize = "10MB"
)

// DefaultComponentLevels holds per-component log level overrides written
// to a fresh config file.
var DefaultComponentLevels = map[string]string{
	"engine":    "info",
	"registry":  "info",
	"remote":    "info",
	"local":     "info",
	"manifest":  "warn",
	"hashcache": "warn",
	"watcher":   "info",
	"cli":       "info",
}
