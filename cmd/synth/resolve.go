package main

import (
	"github.com/spf13/cobra"

	"github.com/NaturalHistoryMuseum/synth-transform/internal/rebuild"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve identifiers into the cache without touching the target",
	Long: `Extract every round and resolve identifiers (and metadata, when enabled)
into the cache. A later rebuild then only looks up what changed.`,
	RunE: runResolve,
}

var resolveForceRefresh bool

func init() {
	rootCmd.AddCommand(resolveCmd)

	resolveCmd.Flags().BoolVar(&resolveForceRefresh, "force-refresh", false, "Ignore cached resolutions and look every output up again")
}

func runResolve(cmd *cobra.Command, _ []string) error {
	return runPipeline(cmd, rebuild.Options{
		ResolveOnly:  true,
		ForceRefresh: resolveForceRefresh,
	})
}
