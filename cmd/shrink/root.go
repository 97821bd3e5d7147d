package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/shrink/pkg/shrink/config"
	"github.com/jamesainslie/shrink/pkg/shrink/logging"
)

var (
	cfgFile string

	// appCfg is loaded once per invocation by initConfig.
	appCfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "shrink [source] [output]",
		Short: "Losslessly optimize the images in a directory",
		Long: `Shrink walks a directory, sends every image it has not optimized before to
an optimization service, and writes the smaller result in place or to a
separate output directory.

Results are recorded in a manifest (.shrink-manifest.xml in the source
directory by default) so unchanged files are skipped on the next run.

Examples:
  shrink                          # Optimize the current directory in place
  shrink ~/site/images            # Optimize a specific directory
  shrink ~/raw ~/optimized        # Write results to another directory
  shrink -S PngOut -f "*.png" .   # Force one service for PNG files
  shrink -n -o json .             # Non-interactive JSON report
  shrink optimize --watch .       # Re-run whenever images change
  shrink manifest show            # List optimized files
  shrink services                 # List optimization services`,
		Args:              cobra.MaximumNArgs(2),
		RunE:              runOptimize,
		PersistentPreRunE: initConfig,
		SilenceUsage:      true,
	}
)

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/shrink/config.yaml)")
	rootCmd.PersistentFlags().BoolP("no-interactive", "n", false, "disable TUI, use text output")
	rootCmd.PersistentFlags().StringP("output", "o", "", "report format (pretty, plain, json, jsonl, yaml, csv, tsv, markdown, paths, template)")
	rootCmd.PersistentFlags().String("template", "", "Go template used with -o template")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug output")

	// Bind flags to viper
	_ = viper.BindPFlag("no_interactive", rootCmd.PersistentFlags().Lookup("no-interactive"))
	_ = viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	_ = viper.BindPFlag("template", rootCmd.PersistentFlags().Lookup("template"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	addOptimizeFlags(rootCmd)
}

// initConfig loads the configuration file and environment, then starts
// file logging.
func initConfig(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	appCfg = cfg

	logCfg, err := cfg.LoggingConfig()
	if err != nil {
		return err
	}
	if getVerbose() {
		logCfg.ConsoleLevel = "debug"
	}
	if err := logging.Init(logCfg); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	printVerbose("Config file: %s", displayConfigFile(cfg))
	return nil
}

// initTUILogging re-initializes logging with the console silenced so log
// lines do not tear the interactive view.
func initTUILogging() error {
	logCfg, err := appCfg.LoggingConfig()
	if err != nil {
		return err
	}
	logCfg.TUIMode = true
	return logging.Init(logCfg)
}

// Execute runs the root command.
func Execute() error {
	defer func() { _ = logging.Close() }()
	return rootCmd.Execute()
}

// outputFormat returns the report format from the flag, falling back to
// the configuration.
func outputFormat() string {
	if format := viper.GetString("output"); format != "" {
		return format
	}
	if appCfg != nil && appCfg.Output != "" {
		return appCfg.Output
	}
	return config.DefaultOutputFormat
}

func displayConfigFile(cfg *config.Config) string {
	if cfg.File == "" {
		return "(none, using defaults)"
	}
	return cfg.File
}

// getVerbose returns true if verbose mode is enabled.
func getVerbose() bool {
	return viper.GetBool("verbose")
}

// getQuiet returns true if quiet mode is enabled.
func getQuiet() bool {
	return viper.GetBool("quiet")
}

// printVerbose prints a message if verbose mode is enabled.
func printVerbose(format string, args ...interface{}) {
	if getVerbose() && !getQuiet() {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a status message to stderr if quiet mode is not
// enabled. Reports go to stdout.
func printInfo(format string, args ...interface{}) {
	if !getQuiet() {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
