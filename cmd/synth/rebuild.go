package main

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/NaturalHistoryMuseum/synth-transform/internal/models"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/platform/config"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/rebuild"
	"github.com/NaturalHistoryMuseum/synth-transform/internal/resolve"
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the consolidated outputs and id mappings",
	Long: `Extract every round, resolve identifiers, consolidate duplicates and
replace the canonical_outputs and output_id_mappings tables in one
transaction. Nothing is written if any step fails.

Use --without-data to create empty tables only.`,
	RunE: runRebuild,
}

var (
	rebuildWithoutData  bool
	rebuildForceRefresh bool
)

func init() {
	rootCmd.AddCommand(rebuildCmd)

	rebuildCmd.Flags().BoolVar(&rebuildWithoutData, "without-data", false, "Reset the target tables without loading outputs")
	rebuildCmd.Flags().BoolVar(&rebuildForceRefresh, "force-refresh", false, "Ignore cached resolutions and look every output up again")
}

func runRebuild(cmd *cobra.Command, _ []string) error {
	return runPipeline(cmd, rebuild.Options{
		WithoutData:  rebuildWithoutData,
		ForceRefresh: rebuildForceRefresh,
	})
}

func runPipeline(cmd *cobra.Command, opts rebuild.Options) error {
	ctx := cmd.Context()
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.orchestrator.Run(ctx, opts)
	if err != nil {
		return err
	}
	printSummary(cmd.OutOrStdout(), summary)
	return nil
}

func printSummary(w io.Writer, s rebuild.RunSummary) {
	fmt.Fprintf(w, "run %s finished in %s\n", s.RunID, s.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  extracted:  %d\n", s.Extracted)
	fmt.Fprintf(w, "  resolved:   %d (cached %d)\n", s.Resolved, s.Cached)
	methods := make([]models.Method, 0, len(s.ByMethod))
	for m := range s.ByMethod {
		methods = append(methods, m)
	}
	slices.Sort(methods)
	for _, m := range methods {
		fmt.Fprintf(w, "    %-10s %d\n", m, s.ByMethod[m])
	}
	fmt.Fprintf(w, "  no match:   %d\n", s.NoMatch)
	fmt.Fprintf(w, "  errors:     %d\n", s.Errors)
	if s.Metadata != (resolve.MetadataSummary{}) {
		fmt.Fprintf(w, "  metadata:   %d fetched, %d cached, %d failed\n", s.Metadata.Fetched, s.Metadata.Cached, s.Metadata.Failed)
	}
	if s.Groups > 0 {
		fmt.Fprintf(w, "  outputs:    %d (%d merged, %d title disagreements)\n", s.Groups, s.MergedGroups, s.TitleDisagreements)
	}
}
