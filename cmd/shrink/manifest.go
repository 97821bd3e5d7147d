package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/shrink/pkg/shrink/config"
	"github.com/jamesainslie/shrink/pkg/shrink/engine"
	"github.com/jamesainslie/shrink/pkg/shrink/manifest"
	"github.com/jamesainslie/shrink/pkg/shrink/output"
	"github.com/jamesainslie/shrink/pkg/shrink/types"
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Inspect and maintain the optimization manifest",
	Long: `Commands for the manifest that records every optimized file.

The manifest lives at <source>/.shrink-manifest.xml unless --manifest or
the manifest configuration key says otherwise.`,
}

var manifestShowCmd = &cobra.Command{
	Use:   "show [source]",
	Short: "List optimized files",
	Long:  `Lists every record in the manifest using the selected report format.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runManifestShow,
}

var manifestStatsCmd = &cobra.Command{
	Use:   "stats [source]",
	Short: "Show manifest totals",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runManifestStats,
}

var manifestPruneCmd = &cobra.Command{
	Use:   "prune [source]",
	Short: "Remove records for files that no longer exist",
	Long: `Removes manifest records whose files have been deleted or moved.
Optimization runs never remove records on their own.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runManifestPrune,
}

func init() {
	manifestCmd.PersistentFlags().StringP("manifest", "m", "", "manifest file (default: <source>/.shrink-manifest.xml)")

	manifestCmd.AddCommand(manifestShowCmd)
	manifestCmd.AddCommand(manifestStatsCmd)
	manifestCmd.AddCommand(manifestPruneCmd)
	rootCmd.AddCommand(manifestCmd)
}

// resolveManifest returns the source directory and manifest path for a
// manifest subcommand.
func resolveManifest(cmd *cobra.Command, args []string) (source, path string, err error) {
	source = "."
	if len(args) > 0 {
		source = args[0]
	}
	if source, err = config.ExpandPath(source); err != nil {
		return "", "", fmt.Errorf("failed to expand path: %w", err)
	}
	if source, err = filepath.Abs(source); err != nil {
		return "", "", fmt.Errorf("failed to resolve path: %w", err)
	}

	if appCfg != nil {
		path = appCfg.Manifest
	}
	if cmd.Flags().Changed("manifest") {
		path, _ = cmd.Flags().GetString("manifest")
	}
	if path == "" {
		path = filepath.Join(source, engine.ManifestFileName)
	}
	if path, err = config.ExpandPath(path); err != nil {
		return "", "", fmt.Errorf("failed to expand path: %w", err)
	}
	if path, err = filepath.Abs(path); err != nil {
		return "", "", fmt.Errorf("failed to resolve path: %w", err)
	}
	return source, path, nil
}

func loadManifest(cmd *cobra.Command, args []string) (string, string, *manifest.Store, error) {
	source, path, err := resolveManifest(cmd, args)
	if err != nil {
		return "", "", nil, err
	}

	store := manifest.New()
	if err := store.Load(path); err != nil {
		return "", "", nil, err
	}
	printVerbose("Loaded %d record(s) from %s", store.Len(), path)
	return source, path, store, nil
}

// runManifestShow lists the manifest records.
func runManifestShow(cmd *cobra.Command, args []string) error {
	source, path, store, err := loadManifest(cmd, args)
	if err != nil {
		return err
	}

	formatter, err := resolveFormatter(outputFormat(), viper.GetString("template"))
	if err != nil {
		return err
	}
	return writeReport(cmd.OutOrStdout(), formatter, output.FromRecords(source, path, store.Records()))
}

// runManifestStats prints record count and size totals.
func runManifestStats(cmd *cobra.Command, args []string) error {
	_, path, store, err := loadManifest(cmd, args)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Manifest:    %s\n", path)
	fmt.Fprintf(out, "Records:     %d\n", store.Len())
	fmt.Fprintf(out, "Size before: %s\n", types.FormatBytes(store.TotalSizeBefore()))
	fmt.Fprintf(out, "Size after:  %s\n", types.FormatBytes(store.TotalSizeAfter()))
	fmt.Fprintf(out, "Saved:       %s (%.1f%%)\n",
		types.FormatBytes(store.TotalSaved()), store.TotalSavedPercent())
	return nil
}

// runManifestPrune drops records whose files are gone and saves the
// manifest if anything changed.
func runManifestPrune(cmd *cobra.Command, args []string) error {
	_, path, store, err := loadManifest(cmd, args)
	if err != nil {
		return err
	}

	removed := store.Prune(func(p string) bool {
		_, err := os.Stat(p)
		return err == nil
	})
	if removed == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to prune.")
		return nil
	}

	if err := store.Save(path); err != nil {
		return fmt.Errorf("failed to save manifest: %w", err)
	}
	cliLogger.Info("manifest pruned", "path", path, "removed", removed, "kept", store.Len())
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d record(s), %d kept.\n", removed, store.Len())
	return nil
}
