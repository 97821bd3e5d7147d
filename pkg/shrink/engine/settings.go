package engine

import (
	"fmt"
	"strings"
)

// ManifestFileName is the manifest written into the source directory when
// no explicit manifest path is given.
const ManifestFileName = ".shrink-manifest.xml"

// Scope selects how deep enumeration goes.
type Scope int

const (
	// Recursive descends into every subdirectory.
	Recursive Scope = iota
	// TopLevel only looks at the source directory itself.
	TopLevel
)

// String returns the scope name.
func (s Scope) String() string {
	switch s {
	case TopLevel:
		return "top-level"
	default:
		return "recursive"
	}
}

// ParseScope parses "recursive" or "top-level".
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "recursive", "all":
		return Recursive, nil
	case "top-level", "toplevel", "top":
		return TopLevel, nil
	default:
		return Recursive, fmt.Errorf("unknown search scope %q", s)
	}
}

// Settings controls one run.
type Settings struct {
	// Service forces a backend by name. Empty lets the extension decide; an
	// unregistered name is ignored with a warning.
	Service string `json:"service" yaml:"service"`

	// SearchFilter is a glob matched against file base names.
	SearchFilter string `json:"search_filter" yaml:"search_filter"`

	// SearchScope selects recursive or top-level enumeration.
	SearchScope Scope `json:"search_scope" yaml:"search_scope"`

	// ConfigFile is the manifest path. Empty uses ManifestFileName in the
	// source directory.
	ConfigFile string `json:"config_file" yaml:"config_file"`

	// Workers bounds concurrent files. Zero uses the engine default.
	Workers int `json:"workers" yaml:"workers"`
}

// DefaultSettings returns settings matching every file recursively.
func DefaultSettings() Settings {
	return Settings{
		SearchFilter: "*",
		SearchScope:  Recursive,
	}
}
