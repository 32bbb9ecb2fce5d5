package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "voyager",
	Short: "Multi-agent travel planning orchestrator",
	Long: `Voyager decomposes a structured trip request into a graph of
specialist agent tasks (itinerary planning, transport, accommodation,
activities, budget, weather), schedules them with priority-aware dispatch
and per-agent concurrency limits, and merges the results into a single
itinerary.

Requests are YAML files; see 'voyager run --help' for the format.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
