// Package types provides shared type definitions used across precedent packages.
// This package exists to break import cycles between the scheduler, classifier,
// ranking, gate, and pipeline layers. Types in this package are foundational
// data structures with no dependencies on other internal packages.
package types

import (
	"fmt"
	"strings"
)

// =============================================================================
// COURT AND PHASE ENUMS
// =============================================================================

// CourtScope restricts retrieval to a court level. ANY disables the filter.
type CourtScope string

const (
	CourtScopeSC  CourtScope = "SC"
	CourtScopeHC  CourtScope = "HC"
	CourtScopeAny CourtScope = "ANY"
)

// CourtKind is the court attributed to a retrieved candidate.
type CourtKind string

const (
	CourtSupreme CourtKind = "SC"
	CourtHigh    CourtKind = "HC"
	CourtUnknown CourtKind = "UNKNOWN"
)

// Phase is one of the six retrieval lanes. Lanes are consumed in declaration
// order; later lanes drop date and court filters.
type Phase string

const (
	PhasePrimary   Phase = "primary"
	PhaseFallback  Phase = "fallback"
	PhaseRescue    Phase = "rescue"
	PhaseMicro     Phase = "micro"
	PhaseRevolving Phase = "revolving"
	PhaseBrowse    Phase = "browse"
)

// AllPhases lists the lanes in scheduler consumption order.
var AllPhases = []Phase{PhasePrimary, PhaseFallback, PhaseRescue, PhaseMicro, PhaseRevolving, PhaseBrowse}

// Relaxed reports whether the phase drops date and court filters at
// scheduling time.
func (p Phase) Relaxed() bool {
	switch p {
	case PhaseRescue, PhaseMicro, PhaseRevolving, PhaseBrowse:
		return true
	}
	return false
}

// Strictness splits variants into proposition-strict and relaxed wording.
type Strictness string

const (
	StrictnessStrict  Strictness = "strict"
	StrictnessRelaxed Strictness = "relaxed"
)

// QueryMode hints the provider at how literally to compile the phrase.
type QueryMode string

const (
	QueryModePrecision QueryMode = "precision"
	QueryModeExpansion QueryMode = "expansion"
	QueryModeContext   QueryMode = "context"
)

// =============================================================================
// OUTCOME POLARITY
// =============================================================================

// OutcomePolarity is the disposition the proposition requires of a judgment.
type OutcomePolarity string

const (
	PolarityRequired    OutcomePolarity = "required"
	PolarityNotRequired OutcomePolarity = "not_required"
	PolarityAllowed     OutcomePolarity = "allowed"
	PolarityRefused     OutcomePolarity = "refused"
	PolarityDismissed   OutcomePolarity = "dismissed"
	PolarityQuashed     OutcomePolarity = "quashed"
	PolarityUnknown     OutcomePolarity = "unknown"
)

// Known reports whether the polarity carries a usable disposition signal.
func (p OutcomePolarity) Known() bool {
	return p != "" && p != PolarityUnknown
}

// RelationType links two hook groups inside a proposition. A judgment
// satisfies a relation when both groups match and a sentence connects them.
type RelationType string

const (
	RelationRequires      RelationType = "requires"
	RelationAppliesTo     RelationType = "applies_to"
	RelationInteractsWith RelationType = "interacts_with"
	RelationExcludedBy    RelationType = "excluded_by"
)

// Known reports whether the relation type is one of the four defined kinds.
func (r RelationType) Known() bool {
	switch r {
	case RelationRequires, RelationAppliesTo, RelationInteractsWith, RelationExcludedBy:
		return true
	}
	return false
}

// =============================================================================
// QUERY VARIANTS
// =============================================================================

// RetrievalDirectives tell the provider how literally to compile the phrase
// and which document universe to search.
type RetrievalDirectives struct {
	QueryMode QueryMode `json:"queryMode"`

	// DoctypeProfile names the provider-side document filter: "supremecourt",
	// "highcourts" or "judgments".
	DoctypeProfile string `json:"doctypeProfile,omitempty"`

	// ApplyContradictionExclusions asks the provider to compile the
	// MustExcludeTokens into negative operators where it supports them.
	ApplyContradictionExclusions bool `json:"applyContradictionExclusions,omitempty"`
}

// QueryVariant is one planned retrieval phrase. Variants are immutable once
// planned: the scheduler reorders and skips them but never rewrites phrase,
// key or directives.
type QueryVariant struct {
	// ID is derived from the phrase hash and stable across runs.
	ID     string `json:"id"`
	Phrase string `json:"phrase"`
	Phase  Phase  `json:"phase"`

	// Purpose records which planning rule emitted the variant, for traces.
	Purpose string `json:"purpose,omitempty"`

	CourtScope CourtScope `json:"courtScope"`
	Strictness Strictness `json:"strictness"`

	Tokens []string `json:"tokens,omitempty"`

	// CanonicalKey is "{phase}:{strictness}:{phrase}" and is the unit of
	// scheduler dedup and utility accounting.
	CanonicalKey string `json:"canonicalKey"`
	Priority     int    `json:"priority"`

	MustIncludeTokens []string `json:"mustIncludeTokens,omitempty"`
	MustExcludeTokens []string `json:"mustExcludeTokens,omitempty"`

	// ProviderHints carries provider-specific knobs (page size, sort order)
	// that no planner rule interprets.
	ProviderHints map[string]string `json:"providerHints,omitempty"`

	Directives RetrievalDirectives `json:"retrievalDirectives"`
}

// =============================================================================
// CANDIDATES
// =============================================================================

// DetailArtifact holds the second-stage evidence extracted from a judgment's
// detail document. EvidenceWindows are ratio-like sentences bounded by the
// gate's proximity window; BodyExcerpt is a short excerpt of the body text.
type DetailArtifact struct {
	EvidenceWindows []string `json:"evidenceWindows,omitempty"`
	BodyExcerpt     []string `json:"bodyExcerpt,omitempty"`
}

// CaseCandidate is a retrieved judgment (or judgment-like artifact). URL is
// the unique identity: duplicates are merged preferring richer evidence.
type CaseCandidate struct {
	URL             string          `json:"url"`
	Title           string          `json:"title"`
	Snippet         string          `json:"snippet,omitempty"`
	Court           CourtKind       `json:"court"`
	CourtText       string          `json:"courtText,omitempty"`
	Date            string          `json:"date,omitempty"`
	DetailText      string          `json:"detailText,omitempty"`
	DetailArtifact  *DetailArtifact `json:"detailArtifact,omitempty"`
	CitesCount      *int            `json:"citesCount,omitempty"`
	CitedByCount    *int            `json:"citedByCount,omitempty"`
	FullDocumentURL string          `json:"fullDocumentUrl,omitempty"`
}

// QualityScore ranks two candidates sharing a URL when merging. Richer
// evidence wins; snippet length is a weak tiebreaker.
func (c *CaseCandidate) QualityScore() float64 {
	score := 0.0
	if c.Court != "" && c.Court != CourtUnknown {
		score += 10
	}
	if c.DetailText != "" {
		score += 12
	}
	if c.DetailArtifact != nil && len(c.DetailArtifact.EvidenceWindows) > 0 {
		score += 8
	}
	if c.CourtText != "" {
		score += 4
	}
	if c.FullDocumentURL != "" {
		score += 2
	}
	score += float64(len(c.Snippet)) / 120.0
	if c.CitesCount != nil {
		score++
	}
	if c.CitedByCount != nil {
		score++
	}
	return score
}

// CombinedText concatenates the surface text the gate scans for signals.
func (c *CaseCandidate) CombinedText() string {
	parts := []string{c.Title, c.Snippet, c.DetailText}
	if c.DetailArtifact != nil {
		parts = append(parts, c.DetailArtifact.BodyExcerpt...)
	}
	return strings.ToLower(strings.Join(parts, " \n "))
}

// EvidenceText concatenates the bounded evidence windows used for relation
// and chain proximity checks. Falls back to the snippet when no detail
// artifact was hydrated.
func (c *CaseCandidate) EvidenceText() string {
	if c.DetailArtifact != nil && len(c.DetailArtifact.EvidenceWindows) > 0 {
		return strings.ToLower(strings.Join(c.DetailArtifact.EvidenceWindows, " \n "))
	}
	return strings.ToLower(c.Snippet)
}

// MergeCandidates merges b into a (same URL), preferring the richer record.
func MergeCandidates(a, b CaseCandidate) CaseCandidate {
	hi, lo := a, b
	if b.QualityScore() > a.QualityScore() {
		hi, lo = b, a
	}
	if hi.Snippet == "" {
		hi.Snippet = lo.Snippet
	}
	if hi.Court == "" || hi.Court == CourtUnknown {
		hi.Court = lo.Court
	}
	if hi.CourtText == "" {
		hi.CourtText = lo.CourtText
	}
	if hi.Date == "" {
		hi.Date = lo.Date
	}
	if hi.DetailText == "" {
		hi.DetailText = lo.DetailText
	}
	if hi.DetailArtifact == nil {
		hi.DetailArtifact = lo.DetailArtifact
	}
	if hi.CitesCount == nil {
		hi.CitesCount = lo.CitesCount
	}
	if hi.CitedByCount == nil {
		hi.CitedByCount = lo.CitedByCount
	}
	if hi.FullDocumentURL == "" {
		hi.FullDocumentURL = lo.FullDocumentURL
	}
	return hi
}

// =============================================================================
// SCORED CASES
// =============================================================================

// ConfidenceBand buckets the calibrated confidence for display.
type ConfidenceBand string

const (
	BandVeryHigh ConfidenceBand = "VERY_HIGH"
	BandHigh     ConfidenceBand = "HIGH"
	BandMedium   ConfidenceBand = "MEDIUM"
	BandLow      ConfidenceBand = "LOW"
)

// ExactnessType is the proposition-gate lane a case landed in. Empty means
// the case did not clear the provisional bar.
type ExactnessType string

const (
	ExactnessStrict      ExactnessType = "strict"
	ExactnessProvisional ExactnessType = "provisional"
)

// RetrievalTier is the user-visible lane. Near-miss gate outcomes surface on
// the exploratory tier.
type RetrievalTier string

const (
	TierStrict      RetrievalTier = "strict"
	TierProvisional RetrievalTier = "provisional"
	TierExploratory RetrievalTier = "exploratory"
)

// Verification summarises the second-stage checks performed on a candidate.
type Verification struct {
	DetailChecked               bool `json:"detailChecked"`
	IssuesMatched               int  `json:"issuesMatched"`
	ProceduresMatched           int  `json:"proceduresMatched"`
	AnchorsMatched              int  `json:"anchorsMatched"`
	HasRelationSentence         bool `json:"hasRelationSentence"`
	HasPolaritySentence         bool `json:"hasPolaritySentence"`
	HasHookIntersectionSentence bool `json:"hasHookIntersectionSentence"`
	HasRoleSentence             bool `json:"hasRoleSentence"`
	HasChainSentence            bool `json:"hasChainSentence"`
}

// ScoredCase is a candidate carrying ranking, gate, and calibration results.
type ScoredCase struct {
	CaseCandidate

	Score                 float64        `json:"score"`
	RankingScore          float64        `json:"rankingScore"`
	ConfidenceScore       float64        `json:"confidenceScore"`
	ConfidenceBand        ConfidenceBand `json:"confidenceBand"`
	Reasons               []string       `json:"reasons,omitempty"`
	SelectionSummary      string         `json:"selectionSummary,omitempty"`
	Verification          Verification   `json:"verification"`
	ExactnessType         ExactnessType  `json:"exactnessType,omitempty"`
	MatchEvidence         []string       `json:"matchEvidence,omitempty"`
	MissingCoreElements   []string       `json:"missingCoreElements,omitempty"`
	MissingMandatorySteps []string       `json:"missingMandatorySteps,omitempty"`
	RetrievalTier         RetrievalTier  `json:"retrievalTier,omitempty"`
	FallbackReason        string         `json:"fallbackReason,omitempty"`
}

// =============================================================================
// SCHEDULER TELEMETRY
// =============================================================================

// BlockedKind distinguishes the three upstream blocking modes.
type BlockedKind string

const (
	BlockedLocalCooldown BlockedKind = "local_cooldown"
	BlockedChallenge     BlockedKind = "cloudflare_challenge"
	BlockedRateLimit     BlockedKind = "rate_limit"
)

// StopReason records why a scheduler run ended.
type StopReason string

const (
	StopCompleted        StopReason = "completed"
	StopEnoughCandidates StopReason = "enough_candidates"
	StopBudgetExhausted  StopReason = "budget_exhausted"
	StopBlocked          StopReason = "blocked"
)

// Attempt is the per-variant execution record kept for the pipeline trace.
type Attempt struct {
	Phase        Phase  `json:"phase"`
	VariantID    string `json:"variantId"`
	CanonicalKey string `json:"canonicalKey"`
	Priority     int    `json:"priority"`
	Phrase       string `json:"phrase"`
	Status       string `json:"status"`
	OK           bool   `json:"ok"`
	ParsedCount  int    `json:"parsedCount"`
	ElapsedMs    int64  `json:"elapsedMs"`
	Challenge    bool   `json:"challenge,omitempty"`
	Cooldown     bool   `json:"cooldown,omitempty"`
	RateLimited  bool   `json:"rateLimited,omitempty"`
	TimedOut     bool   `json:"timedOut,omitempty"`
	HTMLPreview  string `json:"htmlPreview,omitempty"`
	Error        string `json:"error,omitempty"`
}

// =============================================================================
// REASONER TELEMETRY
// =============================================================================

// ReasonerMode reports which planning path produced the plan.
type ReasonerMode string

const (
	ReasonerModeOpus          ReasonerMode = "opus"
	ReasonerModeDeterministic ReasonerMode = "deterministic"
)

// ReasonerTelemetry is the structured outcome of one orchestrator invocation.
// A skipped or failed invocation is not an error: callers continue on the
// deterministic path and surface the skip reason here.
type ReasonerTelemetry struct {
	Mode                   ReasonerMode `json:"mode"`
	Pass                   string       `json:"pass"`
	CacheHit               bool         `json:"cacheHit"`
	LatencyMs              int64        `json:"latencyMs"`
	Degraded               bool         `json:"degraded"`
	Timeout                bool         `json:"timeout"`
	TimeoutMsUsed          int64        `json:"timeoutMsUsed"`
	AdaptiveTimeoutApplied bool         `json:"adaptiveTimeoutApplied"`
	SkipReason             string       `json:"skipReason,omitempty"`
	Error                  string       `json:"error,omitempty"`
	Warnings               []string     `json:"warnings,omitempty"`
	Fingerprint            string       `json:"fingerprint,omitempty"`
}

// =============================================================================
// RESPONSE ASSEMBLY
// =============================================================================

// Status is the user-visible outcome of a request. It reflects outcome, not
// mechanism: all mechanism detail lives in the pipeline trace.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusBlocked   Status = "blocked"
	StatusNoMatch   Status = "no_match"
)

// GuaranteeSource names which backstop satisfied the always-return guarantee.
type GuaranteeSource string

const (
	GuaranteeLive       GuaranteeSource = "live"
	GuaranteeStaleCache GuaranteeSource = "stale_cache"
	GuaranteeSynthetic  GuaranteeSource = "synthetic"
	GuaranteeNone       GuaranteeSource = "none"
)

// Guarantee reports how the always-return target was (or was not) met.
type Guarantee struct {
	Target int             `json:"target"`
	Met    bool            `json:"met"`
	Used   bool            `json:"used"`
	Source GuaranteeSource `json:"source"`
}

// TierCounts holds the per-tier result counts.
type TierCounts struct {
	Strict      int `json:"strict"`
	Provisional int `json:"provisional"`
	Exploratory int `json:"exploratory"`
}

// Total sums the tiers.
func (t TierCounts) Total() int { return t.Strict + t.Provisional + t.Exploratory }

// SchedulerTrace summarises one scheduler run for the pipeline trace.
type SchedulerTrace struct {
	Label             string      `json:"label"`
	Attempts          []Attempt   `json:"attempts,omitempty"`
	AttemptsUsed      int         `json:"attemptsUsed"`
	SkippedDuplicates int         `json:"skippedDuplicates"`
	Candidates        int         `json:"candidates"`
	StopReason        StopReason  `json:"stopReason"`
	BlockedCount      int         `json:"blockedCount"`
	BlockedReason     string      `json:"blockedReason,omitempty"`
	BlockedKind       BlockedKind `json:"blockedKind,omitempty"`
	RetryAfterMs      int64       `json:"retryAfterMs,omitempty"`
	ElapsedMs         int64       `json:"elapsedMs"`
}

// VerifierTrace summarises the second-stage hydration sweep.
type VerifierTrace struct {
	Attempted               int     `json:"attempted"`
	DetailFetched           int     `json:"detailFetched"`
	DetailFetchFailed       int     `json:"detailFetchFailed"`
	DetailHydrationCoverage float64 `json:"detailHydrationCoverage"`
	PassedCaseGate          int     `json:"passedCaseGate"`
}

// GateTrace summarises the proposition-gate pass.
type GateTrace struct {
	Evaluated               int     `json:"evaluated"`
	ExactStrict             int     `json:"exactStrict"`
	ExactProvisional        int     `json:"exactProvisional"`
	NearMiss                int     `json:"nearMiss"`
	Rejected                int     `json:"rejected"`
	ContradictionRejects    int     `json:"contradictionRejects"`
	SaturationPrevented     int     `json:"saturationPrevented"`
	RequiredCoverageAverage float64 `json:"requiredCoverageAverage"`
}

// PipelineTrace is the mechanism-level telemetry attached to a response.
type PipelineTrace struct {
	RequestID      string              `json:"requestId"`
	Reasoner       []ReasonerTelemetry `json:"reasoner,omitempty"`
	SchedulerRuns  []SchedulerTrace    `json:"schedulerRuns,omitempty"`
	Verifier       *VerifierTrace      `json:"verifier,omitempty"`
	Gate           *GateTrace          `json:"gate,omitempty"`
	DiversityDrops int                 `json:"diversityDrops,omitempty"`
	SCBoosted      int                 `json:"scBoosted,omitempty"`
	StaleRecallHit bool                `json:"staleRecallHit,omitempty"`
	ElapsedMs      int64               `json:"elapsedMs"`
}

// Insights carries the analyst-facing summary of the run.
type Insights struct {
	Polarity            OutcomePolarity `json:"polarity"`
	HookGroups          []string        `json:"hookGroups,omitempty"`
	CourtHint           CourtScope      `json:"courtHint"`
	TopMissingElements  []string        `json:"topMissingElements,omitempty"`
	InteractionRequired bool            `json:"interactionRequired"`
}

// SearchResponse is the assembled result of one request.
type SearchResponse struct {
	Status                 Status        `json:"status"`
	Query                  string        `json:"query"`
	CasesExactStrict       []ScoredCase  `json:"casesExactStrict"`
	CasesExactProvisional  []ScoredCase  `json:"casesExactProvisional"`
	CasesExploratory       []ScoredCase  `json:"casesExploratory"`
	TierCounts             TierCounts    `json:"tierCounts"`
	Guarantee              Guarantee     `json:"guarantee"`
	PipelineTrace          PipelineTrace `json:"pipelineTrace"`
	Notes                  []string      `json:"notes,omitempty"`
	Insights               Insights      `json:"insights"`
}

// AllCases returns every tiered case in display order.
func (r *SearchResponse) AllCases() []ScoredCase {
	out := make([]ScoredCase, 0, r.TierCounts.Total())
	out = append(out, r.CasesExactStrict...)
	out = append(out, r.CasesExactProvisional...)
	out = append(out, r.CasesExploratory...)
	return out
}

// =============================================================================
// DATE WINDOW
// =============================================================================

// DateWindow bounds retrieval in D-M-YYYY form. Empty strings disable the
// corresponding bound.
type DateWindow struct {
	FromDate string `json:"fromDate,omitempty"`
	ToDate   string `json:"toDate,omitempty"`
}

// Empty reports whether no bound is set.
func (w DateWindow) Empty() bool { return w.FromDate == "" && w.ToDate == "" }

func (w DateWindow) String() string {
	if w.Empty() {
		return "open"
	}
	return fmt.Sprintf("%s..%s", w.FromDate, w.ToDate)
}
