package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/shrink/pkg/shrink/config"
	"github.com/jamesainslie/shrink/pkg/shrink/engine"
	"github.com/jamesainslie/shrink/pkg/shrink/output"
)

// addOptimizeFlags registers the run flags shared by the root and
// optimize commands.
func addOptimizeFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("service", "S", "", "force one optimization service (see 'shrink services')")
	cmd.Flags().StringP("filter", "f", "", `file name pattern (default "*")`)
	cmd.Flags().Bool("top-level", false, "only optimize files directly in the source directory")
	cmd.Flags().StringP("manifest", "m", "", "manifest file (default: <source>/.shrink-manifest.xml)")
	cmd.Flags().IntP("workers", "w", 0, "override worker count (0=auto)")
	cmd.Flags().Bool("no-cache", false, "hash every file instead of using the hash cache")
	cmd.Flags().Bool("watch", false, "keep running and re-optimize when files change")
}

// runOptions is a fully resolved optimization request.
type runOptions struct {
	Source   string
	Output   string
	Settings engine.Settings
	NoCache  bool
	Watch    bool
}

// resolveRun merges positional arguments, changed flags and the
// configuration. Flags win over the configuration.
func resolveRun(cmd *cobra.Command, args []string, cfg *config.Config) (runOptions, error) {
	opts := runOptions{
		Source:   ".",
		Settings: engine.DefaultSettings(),
	}

	if cfg != nil {
		opts.Settings.Service = cfg.Service
		if cfg.Filter != "" {
			opts.Settings.SearchFilter = cfg.Filter
		}
		if cfg.TopLevel {
			opts.Settings.SearchScope = engine.TopLevel
		}
		opts.Settings.ConfigFile = cfg.Manifest
		opts.Settings.Workers = cfg.Workers
		opts.NoCache = !cfg.HashCache.Enabled
	}

	flags := cmd.Flags()
	if flags.Changed("service") {
		opts.Settings.Service, _ = flags.GetString("service")
	}
	if flags.Changed("filter") {
		opts.Settings.SearchFilter, _ = flags.GetString("filter")
	}
	if flags.Changed("top-level") {
		if topLevel, _ := flags.GetBool("top-level"); topLevel {
			opts.Settings.SearchScope = engine.TopLevel
		} else {
			opts.Settings.SearchScope = engine.Recursive
		}
	}
	if flags.Changed("manifest") {
		opts.Settings.ConfigFile, _ = flags.GetString("manifest")
	}
	if flags.Changed("workers") {
		opts.Settings.Workers, _ = flags.GetInt("workers")
	}
	if noCache, _ := flags.GetBool("no-cache"); noCache {
		opts.NoCache = true
	}
	opts.Watch, _ = flags.GetBool("watch")

	if opts.Settings.Workers < 0 {
		return opts, fmt.Errorf("invalid worker count %d", opts.Settings.Workers)
	}

	if len(args) > 0 {
		opts.Source = args[0]
	}
	if len(args) > 1 {
		opts.Output = args[1]
	}

	var err error
	if opts.Source, err = config.ExpandPath(opts.Source); err != nil {
		return opts, fmt.Errorf("failed to expand path: %w", err)
	}
	if opts.Output, err = config.ExpandPath(opts.Output); err != nil {
		return opts, fmt.Errorf("failed to expand path: %w", err)
	}
	if opts.Settings.ConfigFile, err = config.ExpandPath(opts.Settings.ConfigFile); err != nil {
		return opts, fmt.Errorf("failed to expand path: %w", err)
	}

	return opts, nil
}

// resolveFormatter returns the report formatter for name. The template
// format needs a template string.
func resolveFormatter(name, tmpl string) (output.Formatter, error) {
	if name == "template" {
		if tmpl == "" {
			return nil, fmt.Errorf("--template is required when using -o template")
		}
		return output.NewTemplateFormatter(tmpl), nil
	}

	formatter, err := output.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown output format %q: available formats are %v", name, output.Available())
	}
	return formatter, nil
}
