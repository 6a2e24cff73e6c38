package config

import "time"

// ReasonerMode gates whether the LLM reasoner runs at all.
type ReasonerMode string

const (
	// ReasonerModeInitial runs the reasoner normally (pass-1 plus an optional
	// pass-2 refinement).
	ReasonerModeInitial ReasonerMode = "initial"
	// ReasonerModeOff disables the reasoner; planning is fully deterministic.
	ReasonerModeOff ReasonerMode = "off"
	// ReasonerModeDeterministic keeps the orchestrator wiring live (cache,
	// telemetry) but never invokes the model.
	ReasonerModeDeterministic ReasonerMode = "deterministic"
)

// ReasonerConfig configures the LLM reasoner orchestrator.
//
// The shortest timeout in the chain wins: the adaptive per-call timeout is
// always capped by MaxTimeout, and both sit inside the pipeline's wall clock.
type ReasonerConfig struct {
	Mode    ReasonerMode
	ModelID string
	Region  string

	// BaseTimeout is the adaptive-timeout floor; complexity bumps are added
	// on top and the sum is capped by MaxTimeout.
	BaseTimeout time.Duration
	MaxTimeout  time.Duration

	MaxCallsPerRequest int

	CacheTTL      time.Duration
	Pass2CacheTTL time.Duration

	CircuitEnabled       bool
	CircuitFailThreshold int
	CircuitCooldown      time.Duration

	// MaxInflight sizes the local in-process semaphore.
	MaxInflight int64

	GlobalRateLimit  int
	GlobalRateWindow time.Duration

	LockWait time.Duration

	RetryOnTimeout    bool
	RetryTimeoutBonus time.Duration
}

func loadReasoner(p *parser) ReasonerConfig {
	return ReasonerConfig{
		Mode:                 ReasonerMode(p.enum("LLM_REASONER_MODE", string(ReasonerModeInitial), "initial", "off", "deterministic")),
		ModelID:              p.str("LLM_REASONER_MODEL_ID", "anthropic.claude-3-5-haiku-20241022-v1:0"),
		Region:               p.str("AWS_REGION", "ap-south-1"),
		BaseTimeout:          p.durationMs("LLM_REASONER_TIMEOUT_MS", 1500, 200, 8000),
		MaxTimeout:           p.durationMs("LLM_REASONER_MAX_TIMEOUT_MS", 2400, 400, 12000),
		MaxCallsPerRequest:   p.int("LLM_REASONER_MAX_CALLS_PER_REQUEST", 2, 0, 6),
		CacheTTL:             p.durationSec("LLM_REASONER_CACHE_TTL_SEC", 21600, 60, 7*24*3600),
		Pass2CacheTTL:        p.durationSec("LLM_REASONER_PASS2_CACHE_TTL_SEC", 1200, 30, 24*3600),
		CircuitEnabled:       p.bool("LLM_CIRCUIT_BREAKER_ENABLED", true),
		CircuitFailThreshold: p.int("LLM_CIRCUIT_FAIL_THRESHOLD", 3, 1, 20),
		CircuitCooldown:      p.durationMs("LLM_CIRCUIT_COOLDOWN_MS", 45000, 1000, 600000),
		MaxInflight:          int64(p.int("LLM_REASONER_MAX_INFLIGHT", 2, 1, 32)),
		GlobalRateLimit:      p.int("LLM_REASONER_GLOBAL_RATE_LIMIT", 30, 1, 1200),
		GlobalRateWindow:     p.durationSec("LLM_REASONER_GLOBAL_RATE_WINDOW_SEC", 60, 1, 3600),
		LockWait:             p.durationMs("LLM_REASONER_LOCK_WAIT_MS", 1200, 0, 10000),
		RetryOnTimeout:       p.bool("LLM_REASONER_RETRY_ON_TIMEOUT", true),
		RetryTimeoutBonus:    p.durationMs("LLM_REASONER_RETRY_TIMEOUT_BONUS_MS", 400, 0, 4000),
	}
}
