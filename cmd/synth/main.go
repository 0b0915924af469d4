package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "synth",
	Short: "Consolidate SYNTHESYS outputs across rounds and resolve their DOIs",
	Long: `synth reads the outputs table of every SYNTHESYS round, attaches a DOI to
each output where one can be found, merges outputs that share a DOI and
rewrites the analytical schema with one row per distinct output.

Resolutions are cached between runs; only unseen outputs and outputs whose
last attempt failed are looked up again.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (defaults to $SYNTH_CONFIG, then config.yml)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "synth:", err)
		os.Exit(1)
	}
}
