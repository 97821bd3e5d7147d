package config

import (
	"os"
	"strings"

	"github.com/jamesainslie/shrink/pkg/shrink/optimizer"
)

// Env resolves backend variables from the process environment, falling
// back to the config file's env section.
type Env struct {
	lookup func(string) (string, bool)
	values map[string]string
}

var _ optimizer.Environment = (*Env)(nil)

// NewEnv returns an Env over the process environment and cfg.Env.
func NewEnv(cfg *Config) *Env {
	var values map[string]string
	if cfg != nil {
		values = cfg.Env
	}
	return &Env{lookup: os.LookupEnv, values: values}
}

// Getenv implements optimizer.Environment. A variable set to the empty
// string in the process environment still falls back to the config.
func (e *Env) Getenv(key string) string {
	if v, ok := e.lookup(key); ok && v != "" {
		return v
	}
	return e.values[strings.ToUpper(key)]
}
