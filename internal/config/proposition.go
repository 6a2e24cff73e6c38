package config

import "time"

// PropositionConfig carries the proposition-gate feature flags and tuneables.
// The generation flags default on; turning one off reverts the gate to the
// previous generation's behavior (no hook groups, no strict/provisional
// split, no role/chain graph respectively).
type PropositionConfig struct {
	// HookGroupsEnabled gates hook-group + polarity evaluation.
	HookGroupsEnabled bool
	// StrictSplitEnabled gates the strict/provisional tier split.
	StrictSplitEnabled bool
	// GraphEnabled gates role and chain graph evaluation.
	GraphEnabled bool

	// StrictStopTarget is how many exact-strict results end the search early.
	StrictStopTarget int
	// BestEffortStopTarget is the strict+provisional count that counts as
	// quality-sufficient for pass-2 gating.
	BestEffortStopTarget int

	// ProvisionalConfidenceFloor is the minimum calibrated confidence a
	// provisional case must reach before it counts toward the best-effort
	// target.
	ProvisionalConfidenceFloor float64
	// ChainMinCoverage is the fraction of chain constraints that must hold
	// for the chain signal to count as satisfied.
	ChainMinCoverage float64
}

func loadProposition(p *parser) PropositionConfig {
	return PropositionConfig{
		HookGroupsEnabled:          p.bool("PROPOSITION_V3", true),
		StrictSplitEnabled:         p.bool("PROPOSITION_V41", true),
		GraphEnabled:               p.bool("PROPOSITION_V5", true),
		StrictStopTarget:           p.int("PROPOSITION_STRICT_STOP_TARGET", 3, 1, 12),
		BestEffortStopTarget:       p.int("PROPOSITION_BEST_EFFORT_STOP_TARGET", 5, 1, 20),
		ProvisionalConfidenceFloor: p.float("PROPOSITION_PROVISIONAL_CONFIDENCE_FLOOR", 0.55, 0.0, 0.70),
		ChainMinCoverage:           p.float("PROPOSITION_CHAIN_MIN_COVERAGE", 1.0, 0.5, 1.0),
	}
}

// GuaranteeConfig configures the always-return backstops.
type GuaranteeConfig struct {
	AlwaysReturn      bool
	SyntheticFallback bool
	StaleFallback     bool

	MinResults    int
	ExtraAttempts int
	// MinRemaining is the wall-clock floor below which backfill is skipped.
	MinRemaining       time.Duration
	StaleMinSimilarity float64
}

func loadGuarantee(p *parser) GuaranteeConfig {
	return GuaranteeConfig{
		AlwaysReturn:       p.bool("ALWAYS_RETURN_V1", true),
		SyntheticFallback:  p.bool("ALWAYS_RETURN_SYNTHETIC_FALLBACK", true),
		StaleFallback:      p.bool("STALE_FALLBACK_ENABLED", true),
		MinResults:         p.int("GUARANTEE_MIN_RESULTS", 3, 1, 10),
		ExtraAttempts:      p.int("GUARANTEE_EXTRA_ATTEMPTS", 4, 1, 12),
		MinRemaining:       p.durationMs("GUARANTEE_MIN_REMAINING_MS", 1500, 250, 10000),
		StaleMinSimilarity: p.float("STALE_FALLBACK_MIN_SIMILARITY", 0.45, 0.1, 1.0),
	}
}
