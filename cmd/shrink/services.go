package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/shrink/pkg/shrink/config"
	"github.com/jamesainslie/shrink/pkg/shrink/optimizer"
	"github.com/jamesainslie/shrink/pkg/shrink/optimizer/builtin"
)

var servicesCmd = &cobra.Command{
	Use:   "services",
	Short: "List optimization services",
	Long: `Lists the optimization services in the order they are tried, with the
file extensions each one handles and its size ceiling.

Local tools must be installed on PATH (or pointed to with GIFSICLE_PATH,
JPEGTRAN_PATH or PNGOUT_PATH). Remote services are assumed reachable.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		backends := builtin.Backends(builtin.Options{
			Order:    appCfg.Services.Order,
			Disabled: appCfg.Services.Disabled,
			Env:      config.NewEnv(appCfg),
			All:      true,
		})
		if len(backends) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No services enabled.")
			return nil
		}
		return writeServices(cmd.OutOrStdout(), backends)
	},
}

func init() {
	rootCmd.AddCommand(servicesCmd)
}

// writeServices prints one row per backend.
func writeServices(w io.Writer, backends []optimizer.Backend) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tEXTENSIONS\tMAX SIZE\tAVAILABLE")

	for _, b := range backends {
		maxSize := "-"
		if limit := b.MaxFileSize(); limit > 0 {
			maxSize = humanize.IBytes(uint64(limit))
		}
		available := "yes"
		if !builtin.Available(b) {
			available = "no"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			b.Name(), builtin.Kind(b), strings.Join(b.Extensions(), " "), maxSize, available)
	}
	return tw.Flush()
}
