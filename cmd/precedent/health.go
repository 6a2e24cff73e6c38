package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"precedent/internal/config"
	"precedent/internal/reasoner"
)

const defaultHealthTimeout = 5 * time.Second

var healthTimeout time.Duration

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe the configured Bedrock model",
	Long: `Performs a one-token invoke against the configured model, proving
credentials, region and model access in a single round trip.`,
	RunE: runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Reasoner.Mode != config.ReasonerModeInitial {
		fmt.Printf("reasoner disabled (mode %s), nothing to probe\n", cfg.Reasoner.Mode)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()

	client, err := reasoner.NewBedrockClient(ctx, cfg.Reasoner)
	if err != nil {
		return err
	}
	took, err := client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("bedrock unreachable: %w", err)
	}
	fmt.Printf("ok: %s reachable in %dms\n", cfg.Reasoner.ModelID, took.Milliseconds())
	return nil
}
