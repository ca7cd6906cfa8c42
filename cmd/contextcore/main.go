// Package main implements the contextcore CLI for managing and querying
// the context engine: adding contexts, running retrievals, recording
// feedback, and operating the maintenance loops (decay sweeps, index
// reconciliation).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath is the YAML config file; empty uses the default path.
	configPath string
	// version information (set via ldflags during build)
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "contextcore",
	Short: "CLI for the contextcore context engine",
	Long: `contextcore manages a hierarchical context store with semantic retrieval.

Contexts live in a primary record store (SQLite) and are mirrored into a
vector index (chromem or Qdrant) for similarity search. Commands cover
the full lifecycle: add content, query it, record feedback, and run the
maintenance loops that keep confidence scores and the index healthy.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file path (default ~/.config/contextcore/config.yaml)")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("contextcore %s\n", version)
	},
}
