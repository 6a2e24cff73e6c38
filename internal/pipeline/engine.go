// Package pipeline drives one search request end to end: profile the query,
// consult the reasoner, compile the checklist and variants, drain the
// scheduler in up to four accumulating runs (initial, trace expansion,
// pass-2, guarantee backfill), evaluate candidates through the classifier,
// verifier, scorer, diversifier and proposition gate, and assemble the
// tiered response under the always-return guarantee.
//
// The engine never fails a request for mechanism reasons. Reasoner skips,
// provider blocking, cache faults and empty retrievals all degrade into
// telemetry and notes; the only error Search returns is a malformed query.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"precedent/internal/cache"
	"precedent/internal/config"
	"precedent/internal/intent"
	"precedent/internal/lexicon"
	"precedent/internal/metrics"
	"precedent/internal/planner"
	"precedent/internal/proposition"
	"precedent/internal/provider"
	"precedent/internal/ranking"
	"precedent/internal/reasoner"
	"precedent/internal/recall"
	"precedent/internal/scheduler"
	"precedent/internal/types"
	"precedent/internal/verify"
)

// ErrQueryTooShort rejects queries below the minimum length. It is the only
// error Search surfaces; the HTTP layer maps it to a 400.
var ErrQueryTooShort = errors.New("query must be at least 12 characters")

const (
	minQueryChars = 12

	defaultMaxResults = 20
	minMaxResults     = 5
	maxMaxResults     = 40

	// extendedBudgetBonus is added to the global attempt budget when the
	// reasoner times out and retrieval continues purely deterministically.
	extendedBudgetBonus = 4

	// Trace expansion preconditions: attempts and wall clock that must
	// remain before a second scheduler run is worth firing.
	traceMinBudget    = 3
	traceMinRemaining = 2 * time.Second
	traceSeedCount    = 3
	traceVariantLimit = 4

	// Pass-2 preconditions mirror the trace ones but need more headroom:
	// the refinement call itself costs up to a reasoner timeout.
	pass2MinRemainingBudget = 3
	pass2MinRemaining       = 2500 * time.Millisecond
	pass2SnippetLimit       = 10

	backfillVariantLimit = 6

	defaultBlockedThreshold = 2
	maxResultsPerPhrase     = 10

	scPreferenceDelta = 0.05

	// recallSnapshotLimit caps how many cases one recall entry stores.
	recallSnapshotLimit = 10
)

func defaultPhaseLimits() map[types.Phase]int {
	return map[types.Phase]int{
		types.PhasePrimary:   4,
		types.PhaseFallback:  4,
		types.PhaseRescue:    2,
		types.PhaseMicro:     2,
		types.PhaseRevolving: 2,
		types.PhaseBrowse:    2,
	}
}

// Deps wires the engine's collaborators. Model and Recall may be nil: a nil
// model runs the reasoner in its degraded deterministic path, a nil recall
// store disables stale fallback.
type Deps struct {
	Lexicon  *lexicon.Holder
	Cache    cache.Cache
	Provider provider.Provider
	Model    reasoner.ModelClient
	Recall   recall.Store
	Weights  ranking.Weights
	Logger   *zap.Logger
}

// Engine executes search requests. Safe for concurrent use; all per-request
// state lives in a run value.
type Engine struct {
	cfg     config.Config
	holder  *lexicon.Holder
	shared  cache.Cache
	prov    provider.Provider
	orch    *reasoner.Orchestrator
	sched   *scheduler.Scheduler
	verif   *verify.Verifier
	gate    *proposition.Gate
	recall  recall.Store
	weights ranking.Weights
	log     *zap.Logger
	now     func() time.Time
}

// New builds the engine from configuration and dependencies.
func New(cfg config.Config, deps Deps) *Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("pipeline")
	return &Engine{
		cfg:     cfg,
		holder:  deps.Lexicon,
		shared:  deps.Cache,
		prov:    deps.Provider,
		orch:    reasoner.NewOrchestrator(cfg.Reasoner, deps.Cache, deps.Model, log),
		sched:   scheduler.New(deps.Provider, log),
		verif:   verify.New(deps.Provider, log),
		gate:    proposition.NewGate(cfg.Proposition, log),
		recall:  deps.Recall,
		weights: deps.Weights,
		log:     log,
		now:     time.Now,
	}
}

// Options tune one request.
type Options struct {
	// MaxResults caps the total tiered rows; clamped to [5,40], 0 means 20.
	MaxResults int
	// Debug keeps per-attempt records in the pipeline trace.
	Debug bool
}

func clampMaxResults(n int) int {
	switch {
	case n == 0:
		return defaultMaxResults
	case n < minMaxResults:
		return minMaxResults
	case n > maxMaxResults:
		return maxMaxResults
	}
	return n
}

// run is the single-owner state of one request as it moves through the
// pipeline steps.
type run struct {
	e   *Engine
	log *zap.Logger
	lx  *lexicon.Lexicon

	query      string
	maxResults int
	debug      bool

	start    time.Time
	deadline time.Time

	profile   intent.Profile
	plan      *reasoner.Plan
	calls     atomic.Int32
	pl        *planner.Planner
	scorer    *ranking.Scorer
	checklist proposition.Checklist
	variants  []types.QueryVariant

	budget      int
	phaseLimits map[types.Phase]int
	extended    bool

	st       scheduler.State
	attempts []types.Attempt
	blocked  bool
	lastStop types.StopReason
	lastWhy  string

	eval evaluation

	stale      []types.ScoredCase
	synthetic  *types.ScoredCase
	backfilled bool

	trace types.PipelineTrace
	notes []string
}

// Search answers one query. The response is always non-nil on a nil error;
// outcome problems surface in its status, trace, and notes, never as errors.
func (e *Engine) Search(ctx context.Context, query string, opts Options) (*types.SearchResponse, error) {
	if len(strings.TrimSpace(query)) < minQueryChars {
		return nil, ErrQueryTooShort
	}
	r, ctx, cancel := e.newRun(ctx, query, opts)
	defer cancel()

	r.buildProfile(ctx)
	r.reasonerPass1(ctx)
	r.compilePlan()

	r.schedule(ctx, "initial", r.variants)
	r.evaluate(ctx)

	r.traceExpansion(ctx)
	r.pass2(ctx)
	r.backfill(ctx)

	r.staleFallback(ctx)

	resp := r.assemble()
	r.persistRecall(ctx, resp)
	r.finish(resp)
	return resp, nil
}

// newRun pins the wall-clock deadline and builds the per-request state.
func (e *Engine) newRun(ctx context.Context, query string, opts Options) (*run, context.Context, context.CancelFunc) {
	start := e.now()
	ctx, cancel := context.WithDeadline(ctx, start.Add(e.cfg.Pipeline.MaxElapsed))

	requestID := uuid.NewString()[:8]
	r := &run{
		e:          e,
		log:        e.log.With(zap.String("requestId", requestID)),
		lx:         e.holder.Current(),
		query:      query,
		maxResults: clampMaxResults(opts.MaxResults),
		debug:      opts.Debug,
		start:      start,
		deadline:   start.Add(e.cfg.Pipeline.MaxElapsed),
		st:         scheduler.NewState(start),
	}
	r.trace.RequestID = requestID
	return r, ctx, cancel
}

// finish stamps elapsed time, records metrics and writes the summary line.
func (r *run) finish(resp *types.SearchResponse) {
	took := r.e.now().Sub(r.start)
	resp.PipelineTrace.ElapsedMs = took.Milliseconds()
	metrics.ObserveSearch(string(resp.Status), took, resp.TierCounts.Total())
	metrics.AddSaturationPrevented(r.eval.split.SaturationPrevented)

	r.log.Info("search complete",
		zap.String("status", string(resp.Status)),
		zap.Int("strict", resp.TierCounts.Strict),
		zap.Int("provisional", resp.TierCounts.Provisional),
		zap.Int("exploratory", resp.TierCounts.Exploratory),
		zap.Int("attempts", r.st.AttemptsUsed),
		zap.Int64("elapsedMs", took.Milliseconds()))
}

// buildProfile is step 1: the deterministic intent profile.
func (r *run) buildProfile(ctx context.Context) {
	r.profile = intent.Build(ctx, r.lx, r.query, intent.Options{
		Now:    r.e.now,
		Logger: r.log,
	})
}

// reasonerPass1 is step 2. A timed-out pass switches the request to
// extended deterministic retrieval: more attempts, wider phase limits.
func (r *run) reasonerPass1(ctx context.Context) {
	plan, tel := r.e.orch.Run(ctx, reasoner.Request{
		Pass:        reasoner.Pass1,
		Profile:     &r.profile,
		Lexicon:     r.lx,
		Fingerprint: reasoner.Fingerprint(&r.profile),
		Prompt:      reasoner.BuildPass1Prompt(&r.profile),
		CallsUsed:   &r.calls,
	})
	r.plan = plan
	r.trace.Reasoner = append(r.trace.Reasoner, tel)
	metrics.ObserveReasoner(reasonerOutcome(plan != nil, tel))

	r.budget = r.e.cfg.Pipeline.GlobalBudget
	r.phaseLimits = defaultPhaseLimits()
	if plan == nil && tel.Timeout {
		r.extended = true
		r.budget += extendedBudgetBonus
		for phase := range r.phaseLimits {
			r.phaseLimits[phase]++
		}
		r.notes = append(r.notes, "reasoner timed out; retrieval widened to extended deterministic budgets")
		r.log.Info("extended deterministic recovery",
			zap.Int("globalBudget", r.budget))
	}
}

// compilePlan is step 3: checklist plus the initial variant set.
func (r *run) compilePlan() {
	r.checklist = proposition.BuildChecklist(r.lx, &r.profile, r.plan, r.e.cfg.Proposition)
	r.pl = planner.New(r.lx, r.log)
	r.scorer = ranking.NewScorer(r.lx, r.e.weights, r.log)
	r.variants = r.pl.Build(&r.profile, &r.checklist, r.plan)
}

// schedule fires one scheduler run and folds its outcome into the request.
func (r *run) schedule(ctx context.Context, label string, variants []types.QueryVariant) *scheduler.Result {
	if len(variants) == 0 {
		return nil
	}
	res := r.e.sched.Run(ctx, variants, r.schedulerConfig(), r.st)
	r.st = res.State
	r.attempts = append(r.attempts, res.Attempts...)
	r.lastStop = res.StopReason
	r.lastWhy = res.Reason
	if res.Blocked() {
		r.blocked = true
	}

	tr := res.Trace(label)
	metrics.ObserveSchedulerRun(tr)
	if !r.debug {
		tr.Attempts = nil
	}
	r.trace.SchedulerRuns = append(r.trace.SchedulerRuns, tr)
	return &res
}

func (r *run) schedulerConfig() scheduler.Config {
	rcfg := r.e.cfg.Retrieval
	return scheduler.Config{
		StrictCaseOnly:        true,
		VerifyLimit:           r.e.cfg.Pipeline.VerifyLimit,
		GlobalBudget:          r.budget,
		PhaseLimits:           r.phaseLimits,
		BlockedThreshold:      defaultBlockedThreshold,
		MinCaseTarget:         r.e.cfg.Pipeline.VerifyLimit,
		RequireSupremeCourt:   r.profile.CourtHint == types.CourtScopeSC,
		MaxElapsed:            r.e.cfg.Pipeline.MaxElapsed,
		StopOnCandidateTarget: rcfg.StopOnCandidateTarget,
		AdaptiveReorder:       rcfg.AdaptiveScheduler,
		FetchTimeout:          rcfg.FetchTimeout,
		AttemptTimeoutCap:     rcfg.AttemptTimeoutCap,
		Max429Retries:         rcfg.Max429Retries,
		MaxRetryAfter:         rcfg.MaxRetryAfter,
		MaxPagesByPhase: scheduler.PageLimits{
			Primary:  rcfg.PrimaryMaxPages,
			Fallback: rcfg.FallbackMaxPages,
			Other:    rcfg.OtherMaxPages,
		},
		MaxResultsPerPhrase: maxResultsPerPhrase,
		DateWindow:          r.profile.DateWindow,
	}
}

func (r *run) remaining() time.Duration {
	return r.deadline.Sub(r.e.now())
}

func (r *run) budgetLeft() int {
	return r.budget - r.st.AttemptsUsed
}

// tierTotal counts the live gated rows before fallbacks are appended.
func (r *run) tierTotal() int {
	return len(r.eval.split.ExactStrict) +
		len(r.eval.split.ExactProvisional) +
		len(r.eval.split.NearMiss)
}

func (r *run) anySuccess() bool {
	for _, a := range r.attempts {
		if a.OK {
			return true
		}
	}
	return false
}

func reasonerOutcome(planned bool, tel types.ReasonerTelemetry) string {
	switch {
	case planned && tel.CacheHit:
		return "cached"
	case planned:
		return "planned"
	case tel.Timeout:
		return "timeout"
	case tel.SkipReason != "":
		return "skipped"
	default:
		return "failed"
	}
}
