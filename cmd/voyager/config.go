package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/voyagerhq/voyager/internal/config"
	"github.com/voyagerhq/voyager/internal/state"
	"github.com/voyagerhq/voyager/pkg/models"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Display the effective configuration after merging defaults, the
user config (` + "~/.config/voyager/config.yaml" + `), any project-level
.voyager.yaml, and environment variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		displayConfig(cfg)
		return nil
	},
}

func displayConfig(cfg *config.Config) {
	apiKeyDisplay := "(not set)"
	if cfg.Anthropic.APIKey != "" {
		apiKeyDisplay = "****"
	}
	fmt.Printf("anthropic.api_key: %s\n", apiKeyDisplay)
	fmt.Printf("anthropic.use_bedrock: %t\n", cfg.Anthropic.UseBedrock)
	if cfg.Anthropic.AWSRegion != "" {
		fmt.Printf("anthropic.aws_region: %s\n", cfg.Anthropic.AWSRegion)
	}
	fmt.Printf("storage.db_path: %s\n", cfg.DBPath(state.DefaultDBPath()))
	fmt.Printf("config file: %s\n", config.GetUserConfigPath())

	descriptors := cfg.Descriptors()
	types := make([]models.AgentType, 0, len(descriptors))
	for at := range descriptors {
		types = append(types, at)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	fmt.Printf("\n%-16s %-8s %-8s %-8s %-10s %s\n",
		"AGENT", "CAP", "TIMEOUT", "RETRIES", "TIER", "FALLBACK")
	for _, at := range types {
		desc := descriptors[at]
		fallback := string(desc.FallbackTier)
		if fallback == "" {
			fallback = "-"
		}
		fmt.Printf("%-16s %-8d %-8s %-8d %-10s %s\n",
			at, desc.Capacity, desc.Timeout, desc.Retry.MaxAttempts, desc.Tier, fallback)
	}
}
