package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"precedent/internal/config"
	"precedent/internal/pipeline"
	"precedent/internal/types"
)

var (
	searchMaxResults int
	searchDebug      bool
	searchJSON       bool
	planJSON         bool
)

// searchCmd runs one scenario end to end against the live providers
var searchCmd = &cobra.Command{
	Use:   "search [scenario]",
	Short: "Answer a fact scenario with ranked judgments",
	Long: `Runs one scenario through the full pipeline against live sources and
prints the tiered results.

Example:
  precedent search "state government appeal dismissed as time barred, condonation of delay refused"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

// planCmd prints the retrieval plan without firing a single upstream request
var planCmd = &cobra.Command{
	Use:   "plan [scenario]",
	Short: "Print the retrieval plan without touching upstream sources",
	Long: `Runs the deterministic front half of a request: intent profile, reasoner
pass, proposition checklist and phased query variants. Nothing is retrieved;
use it to inspect what a search would attempt.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPlan,
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.engine.Search(ctx, strings.Join(args, " "), pipeline.Options{
		MaxResults: searchMaxResults,
		Debug:      searchDebug,
	})
	if err != nil {
		return err
	}

	if searchJSON {
		return printJSON(resp)
	}
	printResponse(resp)
	return nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	pr, err := a.engine.Plan(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}

	if planJSON {
		return printJSON(pr)
	}
	printPlan(pr)
	return nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func printResponse(resp *types.SearchResponse) {
	fmt.Printf("status: %s  tiers: strict %d / provisional %d / exploratory %d\n",
		resp.Status, resp.TierCounts.Strict, resp.TierCounts.Provisional, resp.TierCounts.Exploratory)
	fmt.Printf("guarantee: target %d, met=%t, source=%s\n",
		resp.Guarantee.Target, resp.Guarantee.Met, resp.Guarantee.Source)

	printTier("exact (strict)", resp.CasesExactStrict)
	printTier("exact (provisional)", resp.CasesExactProvisional)
	printTier("exploratory", resp.CasesExploratory)

	if len(resp.Notes) > 0 {
		fmt.Println("\nnotes:")
		for _, n := range resp.Notes {
			fmt.Println("  -", n)
		}
	}
}

func printTier(label string, cases []types.ScoredCase) {
	if len(cases) == 0 {
		return
	}
	fmt.Printf("\n%s:\n", label)
	for i, c := range cases {
		fmt.Printf("%3d. %s\n", i+1, c.Title)
		fmt.Printf("     %s  confidence %.2f (%s)", c.Court, c.ConfidenceScore, c.ConfidenceBand)
		if c.FallbackReason != "" {
			fmt.Printf("  [%s]", c.FallbackReason)
		}
		fmt.Println()
		fmt.Printf("     %s\n", c.URL)
	}
}

func printPlan(pr *pipeline.PlanResult) {
	fmt.Printf("query: %s\n", pr.Query)
	if pr.Profile.PrimaryDomain != "" {
		fmt.Printf("domain: %s\n", pr.Profile.PrimaryDomain)
	}
	fmt.Printf("budget: %d attempts", pr.GlobalBudget)
	if pr.Extended {
		fmt.Print(" (extended)")
	}
	fmt.Println()

	for _, rt := range pr.Reasoner {
		switch {
		case rt.SkipReason != "":
			fmt.Printf("reasoner: %s skipped (%s)\n", rt.Pass, rt.SkipReason)
		case rt.CacheHit:
			fmt.Printf("reasoner: %s cache hit\n", rt.Pass)
		default:
			fmt.Printf("reasoner: %s in %dms\n", rt.Pass, rt.LatencyMs)
		}
	}

	cl := pr.Checklist
	fmt.Printf("checklist: %d axes, %d hook groups", len(cl.Axes), len(cl.HookGroups))
	if cl.Outcome.Required {
		fmt.Printf(", outcome %s required", cl.Outcome.Polarity)
	}
	fmt.Println()

	fmt.Println("\nvariants:")
	for _, v := range pr.Variants {
		fmt.Printf("  [%-9s] %s\n", v.Phase, v.Phrase)
	}
}
