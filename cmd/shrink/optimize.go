package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/shrink/cmd/shrink/tui"
	"github.com/jamesainslie/shrink/pkg/shrink/config"
	"github.com/jamesainslie/shrink/pkg/shrink/engine"
	"github.com/jamesainslie/shrink/pkg/shrink/hashcache"
	"github.com/jamesainslie/shrink/pkg/shrink/logging"
	"github.com/jamesainslie/shrink/pkg/shrink/optimizer"
	"github.com/jamesainslie/shrink/pkg/shrink/optimizer/builtin"
	"github.com/jamesainslie/shrink/pkg/shrink/output"
	"github.com/jamesainslie/shrink/pkg/shrink/tuner"
	"github.com/jamesainslie/shrink/pkg/shrink/types"
	"github.com/jamesainslie/shrink/pkg/shrink/watcher"
)

var cliLogger = logging.Get("cli")

var optimizeCmd = &cobra.Command{
	Use:   "optimize <source> [output]",
	Short: "Optimize the images in a directory",
	Long: `Optimize every supported image below source.

Results replace the originals unless an output directory is given. Files
already recorded in the manifest with an unchanged hash are skipped.

With --watch the command keeps running and optimizes again whenever files
in the source tree change, until interrupted.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runOptimize,
}

func init() {
	addOptimizeFlags(optimizeCmd)
	rootCmd.AddCommand(optimizeCmd)
}

// runner performs optimization runs with a fixed registry and hasher.
type runner struct {
	registry *optimizer.Registry
	hasher   hashcache.Hasher
	opts     runOptions
}

func (r *runner) optimize(ctx context.Context, progress func(engine.Progress)) (*engine.Result, error) {
	eng, err := engine.New(r.registry,
		engine.WithHasher(r.hasher),
		engine.WithProgress(progress))
	if err != nil {
		return nil, err
	}
	return eng.Optimize(ctx, r.opts.Source, r.opts.Output, r.opts.Settings)
}

// runOptimize is the main optimize command handler.
func runOptimize(cmd *cobra.Command, args []string) error {
	opts, err := resolveRun(cmd, args, appCfg)
	if err != nil {
		return err
	}

	format := outputFormat()
	formatter, err := resolveFormatter(format, viper.GetString("template"))
	if err != nil {
		return err
	}

	registry := builtin.NewRegistry(builtin.Options{
		Order:    appCfg.Services.Order,
		Disabled: appCfg.Services.Disabled,
		Env:      config.NewEnv(appCfg),
	})
	if registry.Len() == 0 {
		return errors.New("no optimization services enabled")
	}
	if service := opts.Settings.Service; service != "" && registry.GetByName(service) == nil {
		return fmt.Errorf("unknown service %q: run 'shrink services' to list them", service)
	}

	hasher, closeCache := openHasher(opts.NoCache)
	defer closeCache()

	opts.Settings.Workers = tuneWorkers(registry, opts.Settings).Workers

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := &runner{registry: registry, hasher: hasher, opts: opts}
	mode := chooseProgress(format, viper.GetBool("no_interactive"), getQuiet(), opts.Watch,
		isTerminal(os.Stdout), isTerminal(os.Stderr))

	res, runErr := runWithProgress(ctx, stop, r, mode)
	if res != nil {
		if err := writeReport(cmd.OutOrStdout(), formatter, output.FromRun(res)); err != nil {
			return err
		}
		if ctx.Err() != nil && res.Stats.Cancelled > 0 {
			printInfo("Interrupted, %d file(s) were not optimized", res.Stats.Cancelled)
		}
	}
	if runErr != nil {
		return runErr
	}

	if opts.Watch && ctx.Err() == nil {
		return watchAndRerun(ctx, cmd.OutOrStdout(), r, res, formatter, mode)
	}
	return nil
}

// runWithProgress runs once, showing progress the way mode asks for.
func runWithProgress(ctx context.Context, cancel context.CancelFunc, r *runner, mode progressMode) (*engine.Result, error) {
	if mode == progressTUI {
		if err := initTUILogging(); err != nil {
			return nil, fmt.Errorf("failed to initialize TUI logging: %w", err)
		}
		return tui.Run(tui.Options{
			Source:  r.opts.Source,
			Output:  r.opts.Output,
			Service: r.opts.Settings.Service,
			Workers: r.opts.Settings.Workers,
		}, cancel, func(report func(engine.Progress)) (*engine.Result, error) {
			return r.optimize(ctx, report)
		})
	}

	rep := newReporter(mode, os.Stderr)
	defer rep.Finish()
	return r.optimize(ctx, rep.Report)
}

// watchAndRerun repeats the run whenever the source tree changes, until
// ctx is cancelled.
func watchAndRerun(ctx context.Context, out io.Writer, r *runner, first *engine.Result,
	formatter output.Formatter, mode progressMode,
) error {
	w, err := watcher.New(
		watcher.WithDebounce(appCfg.Watch.Debounce),
		watcher.WithIgnore(watchIgnore(first)),
	)
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer w.Close()

	if err := w.Watch(first.Source); err != nil {
		return fmt.Errorf("failed to watch %s: %w", first.Source, err)
	}

	printInfo("Watching %s for changes (Ctrl+C to stop)...", first.Source)
	cliLogger.Info("watching", "source", first.Source, "dirs", len(w.Watched()))

	w.Run(ctx, func(ctx context.Context, paths []string) {
		printVerbose("%d path(s) changed", len(paths))
		cliLogger.Debug("changes detected", "paths", len(paths))

		rep := newReporter(mode, os.Stderr)
		res, err := r.optimize(ctx, rep.Report)
		rep.Finish()

		if res != nil && res.Stats.Processed() > 0 {
			if ferr := writeReport(out, formatter, output.FromRun(res)); ferr != nil {
				printError("%v", ferr)
			}
		}
		if err != nil {
			printError("%v", err)
		}
	})
	return nil
}

// watchIgnore drops the manifest's own files and an output directory
// nested in the source so a run does not trigger itself.
func watchIgnore(res *engine.Result) func(path string) bool {
	own := map[string]bool{
		res.Manifest:           true,
		res.Manifest + ".lock": true,
		res.Manifest + ".tmp":  true,
	}
	nestedOutput := res.Output != res.Source && isWithin(res.Output, res.Source)

	return func(path string) bool {
		if own[path] {
			return true
		}
		return nestedOutput && (path == res.Output || isWithin(path, res.Output))
	}
}

func isWithin(path, dir string) bool {
	return strings.HasPrefix(path, dir+string(filepath.Separator))
}

// openHasher returns the cached hasher unless caching is off or the cache
// cannot be opened, in which case every file is hashed.
func openHasher(noCache bool) (hashcache.Hasher, func()) {
	if noCache {
		printVerbose("Hash cache disabled")
		return hashcache.MD5, func() {}
	}

	path := appCfg.HashCache.Path
	if path == "" {
		path = config.DefaultHashCachePath()
	}

	store, err := hashcache.OpenStore(path)
	if err != nil {
		printVerbose("Hash cache unavailable, hashing every file: %v", err)
		cliLogger.Warn("hash cache unavailable", "path", path, "error", err)
		return hashcache.MD5, func() {}
	}

	cached := hashcache.NewCached(store, nil)
	return cached, func() {
		hits, misses := cached.Stats()
		printVerbose("Hash cache: %d hits, %d misses", hits, misses)
		_ = store.Close()
	}
}

// tuneWorkers sizes the worker pool for the machine and the backends the
// run will use.
func tuneWorkers(registry *optimizer.Registry, settings engine.Settings) tuner.OptimalConfig {
	resources, err := tuner.Detect()
	if err != nil {
		printVerbose("Failed to detect system resources, using defaults: %v", err)
		resources = tuner.SystemResources{
			CPUCores:     4,
			TotalRAM:     8 * types.GiB,
			AvailableRAM: 4 * types.GiB,
		}
	}

	workload := workloadFor(registry.Backends(), settings.Service)

	var optConfig tuner.OptimalConfig
	if settings.Workers > 0 {
		optConfig = tuner.CalculateWithOverrides(resources, workload, settings.Workers)
	} else {
		optConfig = tuner.Calculate(resources, workload)
	}

	printVerbose("System: %d CPUs, %s RAM, %s available",
		resources.CPUCores,
		types.FormatSize(resources.TotalRAM),
		types.FormatSize(resources.AvailableRAM))
	printVerbose("Config: %d workers (%s workload)", optConfig.Workers, optConfig.Workload)

	return optConfig
}

// workloadFor classifies the backends that will actually receive files:
// the forced service, or for each extension the first backend claiming it.
func workloadFor(backends []optimizer.Backend, service string) tuner.Workload {
	var local, remote bool
	mark := func(b optimizer.Backend) {
		if builtin.Kind(b) == "local" {
			local = true
		} else {
			remote = true
		}
	}

	claimed := make(map[string]bool)
	for _, b := range backends {
		if service != "" {
			if strings.EqualFold(b.Name(), service) {
				mark(b)
				break
			}
			continue
		}

		wins := false
		for _, ext := range b.Extensions() {
			ext = strings.ToLower(ext)
			if !claimed[ext] {
				claimed[ext] = true
				wins = true
			}
		}
		if wins {
			mark(b)
		}
	}

	switch {
	case local && remote:
		return tuner.Mixed
	case remote:
		return tuner.Remote
	default:
		return tuner.Local
	}
}

// writeReport formats r and writes it to w.
func writeReport(w io.Writer, formatter output.Formatter, r *output.Result) error {
	var buf bytes.Buffer
	if err := formatter.Format(&buf, r); err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	_, err := io.Copy(w, &buf)
	return err
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
