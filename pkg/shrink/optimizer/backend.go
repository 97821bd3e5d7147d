// Package optimizer defines the backend contract and the registry that
// picks a backend for a file, guards it and materializes its result.
package optimizer

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jamesainslie/shrink/pkg/shrink/logging"
	"github.com/jamesainslie/shrink/pkg/shrink/types"
)

// Environment supplies configuration variables to backends.
type Environment interface {
	Getenv(key string) string
}

// EnvFunc adapts a function to Environment.
type EnvFunc func(key string) string

// Getenv implements Environment.
func (f EnvFunc) Getenv(key string) string { return f(key) }

// OSEnv reads the process environment.
var OSEnv Environment = EnvFunc(os.Getenv)

// MapEnv is a fixed Environment, mostly useful in tests.
type MapEnv map[string]string

// Getenv implements Environment.
func (m MapEnv) Getenv(key string) string { return m[key] }

// Backend optimizes single image files.
type Backend interface {
	// Name is the unique, case-insensitive identifier of the backend.
	Name() string

	// Extensions lists the supported dotted lowercase extensions.
	Extensions() []string

	// MaxFileSize is the exclusive size ceiling in bytes. Zero means no limit.
	MaxFileSize() int64

	// Configure reads settings from env. Calling it twice is harmless.
	Configure(env Environment)

	// Optimize processes the file at sourcePath. It reports failures in the
	// returned Outcome and never writes to the source.
	Optimize(ctx context.Context, sourcePath string) Outcome

	// Clone returns an independent copy carrying the same configuration.
	Clone() Backend

	// Supports reports whether ext (dotted, any case) is handled.
	Supports(ext string) bool
}

// Extension returns the lowercase dotted extension of path.
func Extension(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

// SupportsExtension reports whether ext matches one of exts, ignoring case.
func SupportsExtension(exts []string, ext string) bool {
	return slices.Contains(exts, strings.ToLower(ext))
}

// EnvDuration reads a timeout. Plain integers are milliseconds, anything
// else must parse as a Go duration. Empty, invalid or non-positive values
// yield fallback.
func EnvDuration(env Environment, key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(env.Getenv(key))
	if raw == "" {
		return fallback
	}

	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if ms <= 0 {
			return fallback
		}
		return time.Duration(ms) * time.Millisecond
	}

	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		logging.Get("registry").Warn("ignoring invalid timeout", "key", key, "value", raw)
		return fallback
	}
	return d
}

// EnvSize reads a size ceiling in bytes or human form ("5MB").
// Empty or invalid values yield 0 (no limit).
func EnvSize(env Environment, key string) int64 {
	raw := strings.TrimSpace(env.Getenv(key))
	if raw == "" {
		return 0
	}

	size, err := types.ParseSize(raw)
	if err != nil {
		logging.Get("registry").Warn("ignoring invalid file size", "key", key, "value", raw)
		return 0
	}
	return size
}

// EnvBool reads a boolean. Empty or invalid values are false.
func EnvBool(env Environment, key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(env.Getenv(key)))
	return err == nil && v
}
