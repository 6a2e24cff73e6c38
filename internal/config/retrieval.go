package config

import "time"

// RetrievalConfig configures the retrieval providers and the scheduler's
// per-attempt behavior. The IK_* knobs keep the names of the upstream
// lexical source they bound.
type RetrievalConfig struct {
	// FetchTimeout is the provider's per-attempt timeout; AttemptTimeoutCap
	// is the hard ceiling regardless of remaining budget.
	FetchTimeout      time.Duration
	AttemptTimeoutCap time.Duration

	Max429Retries int
	MaxRetryAfter time.Duration

	PrimaryMaxPages  int
	FallbackMaxPages int
	OtherMaxPages    int

	// AdaptiveScheduler re-sorts variants within a phase by observed utility.
	AdaptiveScheduler bool
	// StopOnCandidateTarget ends a run early once enough case-like
	// candidates have been collected.
	StopOnCandidateTarget bool

	// BaseURL is the lexical source root; UserAgent identifies us politely.
	BaseURL   string
	UserAgent string

	SerperEnabled bool
	SerperAPIKey  string
	SerperBaseURL string
}

func loadRetrieval(p *parser) RetrievalConfig {
	return RetrievalConfig{
		FetchTimeout:          p.durationMs("IK_FETCH_TIMEOUT_MS", 3000, 500, 10000),
		AttemptTimeoutCap:     p.durationMs("ATTEMPT_FETCH_TIMEOUT_CAP_MS", 3500, 500, 12000),
		Max429Retries:         p.int("IK_MAX_429_RETRIES", 2, 0, 6),
		MaxRetryAfter:         p.durationMs("IK_MAX_RETRY_AFTER_MS", 4000, 250, 30000),
		PrimaryMaxPages:       p.int("PRIMARY_MAX_PAGES", 2, 1, 5),
		FallbackMaxPages:      p.int("FALLBACK_MAX_PAGES", 1, 1, 4),
		OtherMaxPages:         p.int("OTHER_MAX_PAGES", 1, 1, 3),
		AdaptiveScheduler:     p.bool("ADAPTIVE_VARIANT_SCHEDULER", true),
		StopOnCandidateTarget: p.bool("SCHEDULER_STOP_ON_RAW_CANDIDATE_TARGET", true),
		BaseURL:               p.str("IK_BASE_URL", "https://indiankanoon.org"),
		UserAgent:             p.str("IK_USER_AGENT", "precedent/1.0 (case-law research)"),
		SerperEnabled:         p.bool("SERPER_ENABLED", false),
		SerperAPIKey:          p.str("SERPER_API_KEY", ""),
		SerperBaseURL:         p.str("SERPER_BASE_URL", "https://google.serper.dev"),
	}
}
