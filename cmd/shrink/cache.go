package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/shrink/pkg/shrink/config"
	"github.com/jamesainslie/shrink/pkg/shrink/hashcache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the hash cache",
	Long: `Commands for managing the shrink hash cache.

The cache remembers the MD5 digest of every file shrink has hashed, keyed
by path and validated by size and modification time, so unchanged files
are not read again on the next run. Cache data is stored in the XDG cache
directory (typically ~/.cache/shrink/hashes).`,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [dir]",
	Short: "Clear cached digests",
	Long: `Removes cached digests. With a directory argument only entries below
that directory are removed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cachePath := hashCachePath()
		out := cmd.OutOrStdout()

		if _, err := os.Stat(cachePath); os.IsNotExist(err) {
			fmt.Fprintln(out, "Cache is already empty.")
			return nil
		}

		store, err := hashcache.OpenStore(cachePath)
		if err != nil {
			return err
		}
		defer store.Close()

		if len(args) == 0 {
			if err := store.Clear(); err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}
			fmt.Fprintln(out, "Cache cleared.")
			return nil
		}

		dir, err := config.ExpandPath(args[0])
		if err != nil {
			return err
		}
		if dir, err = filepath.Abs(dir); err != nil {
			return err
		}
		n, err := store.DeletePrefix(dir)
		if err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
		fmt.Fprintf(out, "Removed %d cached digest(s) below %s.\n", n, dir)
		return nil
	},
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	Long:  `Displays information about the cache including its location, entry count and size.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cachePath := hashCachePath()
		out := cmd.OutOrStdout()

		if _, err := os.Stat(cachePath); os.IsNotExist(err) {
			fmt.Fprintln(out, "Cache: empty (no cache directory)")
			fmt.Fprintf(out, "Cache location: %s\n", cachePath)
			return nil
		}

		store, err := hashcache.OpenStore(cachePath)
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.Stats()
		if err != nil {
			return fmt.Errorf("failed to read cache statistics: %w", err)
		}

		fmt.Fprintf(out, "Cache location: %s\n", stats.Path)
		fmt.Fprintf(out, "Cache entries: %s\n", humanize.Comma(stats.Entries))
		fmt.Fprintf(out, "Cache size: %s\n", humanize.IBytes(uint64(stats.LSMSize+stats.VLogSize)))
		if !appCfg.HashCache.Enabled {
			fmt.Fprintln(out, "Cache is disabled in the configuration.")
		}
		return nil
	},
}

var cachePathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show cache location",
	Long:  `Prints the path to the cache directory.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), hashCachePath())
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cachePathCmd)
	rootCmd.AddCommand(cacheCmd)
}

// hashCachePath returns the configured cache directory.
func hashCachePath() string {
	if appCfg != nil && appCfg.HashCache.Path != "" {
		return appCfg.HashCache.Path
	}
	return config.DefaultHashCachePath()
}
