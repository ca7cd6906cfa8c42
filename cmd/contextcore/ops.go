package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/contextcore/internal/evolution"
)

var (
	sweepWorkspaces    []string
	sweepDelete        bool
	reconcileWorkspace string
	statsWorkspace     string
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a confidence decay sweep over workspaces",
	Long: `Apply temporal confidence decay to every context in the given
workspaces. Contexts whose confidence falls below the configured minimum
are flagged (or deleted with --delete-flagged).

Examples:
  contextcore sweep --workspace my-project
  contextcore sweep --workspace my-project --workspace shared --delete-flagged`,
	RunE: runSweep,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Repair vector index drift against the primary store",
	Long: `Compare the vector index with the primary record store for a
workspace, re-indexing records missing from the index and removing stale
index entries whose primary record is gone. The primary store is the
source of truth; the index is a rebuildable projection.

Examples:
  contextcore reconcile --workspace my-project`,
	RunE: runReconcile,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show confidence statistics for a workspace",
	RunE:  runStats,
}

func init() {
	sweepCmd.Flags().StringSliceVar(&sweepWorkspaces, "workspace", nil, "workspace id (repeatable, required)")
	sweepCmd.Flags().BoolVar(&sweepDelete, "delete-flagged", false, "delete contexts flagged below the confidence minimum")
	_ = sweepCmd.MarkFlagRequired("workspace")

	reconcileCmd.Flags().StringVar(&reconcileWorkspace, "workspace", "", "workspace id (required)")
	_ = reconcileCmd.MarkFlagRequired("workspace")

	statsCmd.Flags().StringVar(&statsWorkspace, "workspace", "", "workspace id (required)")
	_ = statsCmd.MarkFlagRequired("workspace")
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	engine := a.engine
	if sweepDelete {
		engCfg := a.cfg.EvolutionEngineConfig()
		engCfg.DeleteFlagged = true
		engine, err = evolution.NewEngine(a.store, a.storage, engCfg, a.logger)
		if err != nil {
			return fmt.Errorf("failed to create evolution engine: %w", err)
		}
	}

	for _, ws := range sweepWorkspaces {
		result, err := engine.Evolve(ctx, evolution.EvolveRequest{
			WorkspaceID:        ws,
			ApplyTemporalDecay: true,
		})
		if err != nil {
			return fmt.Errorf("sweep failed for workspace %s: %w", ws, err)
		}
		fmt.Printf("%s: updated=%d flagged=%d\n", ws, result.Updated, len(result.Flagged))
		for _, id := range result.Flagged {
			fmt.Printf("  flagged: %s\n", id)
		}
	}
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.storage.Reconcile(ctx, reconcileWorkspace)
	if err != nil {
		return fmt.Errorf("reconcile failed: %w", err)
	}

	fmt.Printf("Reindexed: %d\n", result.Reindexed)
	fmt.Printf("Removed:   %d\n", result.Removed)
	fmt.Printf("Failed:    %d\n", result.Failed)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.engine.GetEvolutionStats(ctx, statsWorkspace)
	if err != nil {
		return fmt.Errorf("failed to compute stats: %w", err)
	}

	fmt.Printf("Workspace:           %s\n", statsWorkspace)
	fmt.Printf("Total contexts:      %d\n", stats.TotalContexts)
	fmt.Printf("Average confidence:  %.3f\n", stats.AverageConfidence)
	fmt.Printf("Low confidence:      %d\n", stats.LowConfidenceContexts)
	return nil
}
