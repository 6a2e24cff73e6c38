// Package scheduler drains query variants against a retrieval provider
// under strict budgets: a global attempt budget, per-phase limits, a hard
// wall clock, and blocking semantics that stop a run the moment the
// upstream turns hostile. State accumulates across runs so the pipeline can
// invoke the scheduler several times (initial, trace expansion, pass-2,
// guarantee backfill) as one budgeted whole.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"precedent/internal/classify"
	"precedent/internal/provider"
	"precedent/internal/types"
)

const (
	// minRemainingForAttempt stops a run rather than firing an attempt that
	// cannot finish; attemptHeadroom is shaved off the fetch timeout so the
	// attempt returns before the wall clock does.
	minRemainingForAttempt = time.Second
	attemptHeadroom        = 250 * time.Millisecond

	blockedDelayMin = 220 * time.Millisecond
	blockedDelayMax = 400 * time.Millisecond
	politeDelayMin  = 80 * time.Millisecond
	politeDelayMax  = 160 * time.Millisecond

	challengePenalty = 0.25
	timeoutPenalty   = 0.20
)

// PageLimits caps provider paging per lane.
type PageLimits struct {
	Primary  int
	Fallback int
	Other    int
}

func (p PageLimits) For(phase types.Phase) int {
	switch phase {
	case types.PhasePrimary:
		return p.Primary
	case types.PhaseFallback:
		return p.Fallback
	default:
		return p.Other
	}
}

// Config bounds one request's scheduling. The pipeline builds it from the
// process config plus per-request knobs and hands the same value to every
// run of the request.
type Config struct {
	StrictCaseOnly      bool
	VerifyLimit         int
	GlobalBudget        int
	PhaseLimits         map[types.Phase]int
	BlockedThreshold    int
	MinCaseTarget       int
	RequireSupremeCourt bool
	MaxElapsed          time.Duration

	StopOnCandidateTarget bool
	AdaptiveReorder       bool

	FetchTimeout        time.Duration
	AttemptTimeoutCap   time.Duration
	Max429Retries       int
	MaxRetryAfter       time.Duration
	MaxPagesByPhase     PageLimits
	MaxResultsPerPhrase int

	DateWindow types.DateWindow
}

// utilStat is the per-canonical-key feedback driving adaptive reordering.
type utilStat struct {
	UtilitySum  float64
	CaseLikeSum float64
	Runs        int
	Challenges  int
	Timeouts    int
}

func (u *utilStat) mean() float64 {
	if u == nil || u.Runs == 0 {
		return 0
	}
	return u.UtilitySum / float64(u.Runs)
}

func (u *utilStat) rate(n int) float64 {
	if u == nil || u.Runs == 0 {
		return 0
	}
	return float64(n) / float64(u.Runs)
}

// State is the carry state threaded through a request's scheduler runs.
// Single-owner: the pipeline passes it run to run and never shares it across
// goroutines.
type State struct {
	StartedAt         time.Time
	AttemptsUsed      int
	SkippedDuplicates int
	BlockedCount      int

	signatures map[string]struct{}
	utilities  map[string]*utilStat
	provenance map[string][]string
	candidates map[string]types.CaseCandidate
	order      []string
}

// NewState anchors the request's wall clock.
func NewState(now time.Time) State {
	return State{
		StartedAt:  now,
		signatures: make(map[string]struct{}),
		utilities:  make(map[string]*utilStat),
		provenance: make(map[string][]string),
		candidates: make(map[string]types.CaseCandidate),
	}
}

func (st *State) ensure() {
	if st.signatures == nil {
		st.signatures = make(map[string]struct{})
	}
	if st.utilities == nil {
		st.utilities = make(map[string]*utilStat)
	}
	if st.provenance == nil {
		st.provenance = make(map[string][]string)
	}
	if st.candidates == nil {
		st.candidates = make(map[string]types.CaseCandidate)
	}
}

// Candidates returns the merged candidate set in first-seen order.
func (st *State) Candidates() []types.CaseCandidate {
	out := make([]types.CaseCandidate, 0, len(st.order))
	for _, url := range st.order {
		out = append(out, st.candidates[url])
	}
	return out
}

// Provenance returns the canonical keys that surfaced the URL.
func (st *State) Provenance(url string) []string { return st.provenance[url] }

// absorb merges one search output into the carry state.
func (st *State) absorb(cases []types.CaseCandidate, canonicalKey string) {
	for _, c := range cases {
		if c.URL == "" {
			continue
		}
		if existing, ok := st.candidates[c.URL]; ok {
			st.candidates[c.URL] = types.MergeCandidates(existing, c)
		} else {
			st.candidates[c.URL] = c
			st.order = append(st.order, c.URL)
		}
		st.provenance[c.URL] = appendUnique(st.provenance[c.URL], canonicalKey)
	}
}

// caseCounts reports how many merged candidates classify as judgments and
// how many of those sit in the Supreme Court.
func (st *State) caseCounts() (caseLike, supreme int) {
	for _, url := range st.order {
		c := st.candidates[url]
		if classify.Candidate(&c).Kind != classify.KindCase {
			continue
		}
		caseLike++
		if c.Court == types.CourtSupreme {
			supreme++
		}
	}
	return caseLike, supreme
}

// Result is one run's outcome. State carries forward; everything else is
// per-run telemetry.
type Result struct {
	Attempts          []types.Attempt
	Candidates        []types.CaseCandidate
	StopReason        types.StopReason
	Reason            string
	BlockedCount      int
	BlockedKind       types.BlockedKind
	RetryAfterMs      int64
	SkippedDuplicates int
	ElapsedMs         int64
	State             State
}

// Blocked reports whether the run ended on upstream blocking.
func (r *Result) Blocked() bool { return r.StopReason == types.StopBlocked }

// Trace converts the run into its pipeline-trace form.
func (r *Result) Trace(label string) types.SchedulerTrace {
	return types.SchedulerTrace{
		Label:             label,
		Attempts:          r.Attempts,
		AttemptsUsed:      len(r.Attempts),
		SkippedDuplicates: r.SkippedDuplicates,
		Candidates:        len(r.Candidates),
		StopReason:        r.StopReason,
		BlockedCount:      r.BlockedCount,
		BlockedReason:     r.Reason,
		BlockedKind:       r.BlockedKind,
		RetryAfterMs:      r.RetryAfterMs,
		ElapsedMs:         r.ElapsedMs,
	}
}

// Scheduler executes variants strictly sequentially against one provider.
type Scheduler struct {
	prov provider.Provider
	log  *zap.Logger

	now    func() time.Time
	sleep  func(context.Context, time.Duration)
	jitter func(lo, hi time.Duration) time.Duration
}

func New(prov provider.Provider, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		prov:   prov,
		log:    log.Named("scheduler"),
		now:    time.Now,
		sleep:  sleepContext,
		jitter: randomBetween,
	}
}

// Run drains the variants phase by phase until a stop condition fires. The
// returned State must be passed to the next run of the same request.
func (s *Scheduler) Run(ctx context.Context, variants []types.QueryVariant, cfg Config, st State) Result {
	st.ensure()
	if st.StartedAt.IsZero() {
		st.StartedAt = s.now()
	}
	runStart := s.now()
	res := Result{StopReason: types.StopCompleted}
	byPhase := groupByPhase(variants)

loop:
	for _, phase := range types.AllPhases {
		pool := byPhase[phase]
		limit := cfg.PhaseLimits[phase]
		if limit <= 0 || len(pool) == 0 {
			continue
		}
		used := 0
		for used < limit && len(pool) > 0 {
			if cfg.AdaptiveReorder {
				s.sortAdaptive(pool, &st)
			}
			v := pool[0]
			pool = pool[1:]

			elapsed := s.now().Sub(st.StartedAt)
			if ctx.Err() != nil {
				res.StopReason = types.StopBudgetExhausted
				res.Reason = "context_cancelled"
				break loop
			}
			if elapsed >= cfg.MaxElapsed {
				res.StopReason = types.StopBudgetExhausted
				res.Reason = fmt.Sprintf("time_budget_exhausted:%d", elapsed.Milliseconds())
				break loop
			}
			if st.AttemptsUsed >= cfg.GlobalBudget {
				res.StopReason = types.StopBudgetExhausted
				res.Reason = "attempt_budget_exhausted"
				break loop
			}

			// Relaxed lanes widen the net: no court restriction, no date
			// window.
			courtScope := v.CourtScope
			window := cfg.DateWindow
			if v.Phase.Relaxed() {
				courtScope = types.CourtScopeAny
				window = types.DateWindow{}
			}

			sig := signature(v.Phase, v.Phrase, courtScope, window)
			if _, dup := st.signatures[sig]; dup {
				st.SkippedDuplicates++
				res.SkippedDuplicates++
				continue
			}

			remaining := cfg.MaxElapsed - elapsed
			if remaining < minRemainingForAttempt {
				// Stop without recording the signature: the variant was never
				// tried and stays eligible for a later run.
				res.StopReason = types.StopBudgetExhausted
				res.Reason = fmt.Sprintf("time_budget_exhausted:%d", elapsed.Milliseconds())
				break loop
			}
			st.signatures[sig] = struct{}{}
			fetchTimeout := minDuration(cfg.FetchTimeout, cfg.AttemptTimeoutCap, remaining-attemptHeadroom)

			attemptStart := s.now()
			out, err := s.prov.Search(ctx, provider.SearchInput{
				Phrase:          v.Phrase,
				CourtScope:      courtScope,
				MaxResults:      cfg.MaxResultsPerPhrase,
				MaxPages:        cfg.MaxPagesByPhase.For(v.Phase),
				FromDate:        window.FromDate,
				ToDate:          window.ToDate,
				FetchTimeout:    fetchTimeout,
				CrawlMaxElapsed: fetchTimeout,
				Max429Retries:   cfg.Max429Retries,
				MaxRetryAfter:   cfg.MaxRetryAfter,
				IncludeTokens:   v.MustIncludeTokens,
				ExcludeTokens:   v.MustExcludeTokens,
				ApplyExclusions: v.Directives.ApplyContradictionExclusions,
				QueryMode:       v.Directives.QueryMode,
				DoctypeProfile:  v.Directives.DoctypeProfile,
				ProviderHints:   v.ProviderHints,
				VariantPriority: v.Priority,
			})
			st.AttemptsUsed++
			used++

			debug := out.Debug
			if err != nil {
				debug, _ = provider.DebugOf(err)
			}
			att := s.recordAttempt(&res, v, debug, err, s.now().Sub(attemptStart))
			s.updateUtility(&st, v.CanonicalKey, debug, out.Cases)
			st.absorb(out.Cases, v.CanonicalKey)

			switch {
			case debug.BlockedType == types.BlockedLocalCooldown:
				st.BlockedCount++
				res.StopReason = types.StopBlocked
				res.Reason = "local_cooldown"
				res.BlockedKind = types.BlockedLocalCooldown
				res.RetryAfterMs = debug.RetryAfterMs
				break loop
			case debug.ChallengeDetected || debug.BlockedType == types.BlockedRateLimit || debug.Status == 429:
				st.BlockedCount++
				res.BlockedKind = types.BlockedRateLimit
				if debug.ChallengeDetected {
					res.BlockedKind = types.BlockedChallenge
				}
				if debug.RetryAfterMs > 0 {
					res.RetryAfterMs = debug.RetryAfterMs
				}
				if st.BlockedCount >= cfg.BlockedThreshold {
					res.StopReason = types.StopBlocked
					res.Reason = fmt.Sprintf("blocked_threshold_reached:%d", st.BlockedCount)
					break loop
				}
				s.sleep(ctx, s.jitter(blockedDelayMin, blockedDelayMax))
			default:
				st.BlockedCount = 0
			}

			if cfg.StopOnCandidateTarget && cfg.MinCaseTarget > 0 {
				caseLike, supreme := st.caseCounts()
				if caseLike >= cfg.MinCaseTarget && (!cfg.RequireSupremeCourt || supreme > 0) {
					res.StopReason = types.StopEnoughCandidates
					res.Reason = fmt.Sprintf("case_target_met:%d", caseLike)
					break loop
				}
			}

			if err == nil && att.OK {
				if cfg.MaxElapsed-s.now().Sub(st.StartedAt) > minRemainingForAttempt+attemptHeadroom {
					s.sleep(ctx, s.jitter(politeDelayMin, politeDelayMax))
				}
			}
		}
	}

	res.BlockedCount = st.BlockedCount
	res.Candidates = st.Candidates()
	res.ElapsedMs = s.now().Sub(runStart).Milliseconds()
	res.State = st
	s.log.Debug("scheduler run finished",
		zap.String("stopReason", string(res.StopReason)),
		zap.String("reason", res.Reason),
		zap.Int("attempts", len(res.Attempts)),
		zap.Int("attemptsUsedTotal", st.AttemptsUsed),
		zap.Int("candidates", len(res.Candidates)),
		zap.Int("skippedDuplicates", res.SkippedDuplicates),
		zap.Int64("elapsedMs", res.ElapsedMs))
	return res
}

func (s *Scheduler) recordAttempt(res *Result, v types.QueryVariant, debug provider.Debug, err error, took time.Duration) types.Attempt {
	att := types.Attempt{
		Phase:        v.Phase,
		VariantID:    v.ID,
		CanonicalKey: v.CanonicalKey,
		Priority:     v.Priority,
		Phrase:       v.Phrase,
		Status:       attemptStatus(debug, err),
		OK:           debug.OK,
		ParsedCount:  debug.ParsedCount,
		ElapsedMs:    took.Milliseconds(),
		Challenge:    debug.ChallengeDetected,
		Cooldown:     debug.CooldownActive,
		RateLimited:  debug.BlockedType == types.BlockedRateLimit,
		TimedOut:     debug.TimedOut,
		HTMLPreview:  debug.HTMLPreview,
	}
	if err != nil {
		att.Error = err.Error()
	}
	res.Attempts = append(res.Attempts, att)
	return att
}

// updateUtility folds one attempt into the canonical key's running feedback.
func (s *Scheduler) updateUtility(st *State, canonicalKey string, debug provider.Debug, cases []types.CaseCandidate) {
	caseLike, statuteLike := classify.Ratios(cases)
	parsedSignal := 0.0
	if debug.ParsedCount > 0 {
		parsedSignal = 1.0
	}
	utility := 0.40*parsedSignal + 0.45*caseLike - 0.18*statuteLike
	if debug.ChallengeDetected {
		utility -= challengePenalty
	}
	if debug.TimedOut {
		utility -= timeoutPenalty
	}
	utility = clamp01(utility)

	stat := st.utilities[canonicalKey]
	if stat == nil {
		stat = &utilStat{}
		st.utilities[canonicalKey] = stat
	}
	stat.UtilitySum += utility
	stat.CaseLikeSum += caseLike
	stat.Runs++
	if debug.ChallengeDetected {
		stat.Challenges++
	}
	if debug.TimedOut {
		stat.Timeouts++
	}
}

// sortAdaptive re-sorts the remaining pool by observed feedback. Keys with
// no history keep their planner priority.
func (s *Scheduler) sortAdaptive(pool []types.QueryVariant, st *State) {
	score := func(v types.QueryVariant) float64 {
		stat := st.utilities[v.CanonicalKey]
		base := float64(v.Priority)
		if stat == nil || stat.Runs == 0 {
			return base
		}
		return base +
			40*stat.mean() +
			18*stat.CaseLikeSum/float64(stat.Runs) -
			14*stat.rate(stat.Challenges) -
			8*stat.rate(stat.Timeouts)
	}
	// Insertion sort keeps equal-score variants in planner order.
	for i := 1; i < len(pool); i++ {
		for j := i; j > 0 && score(pool[j]) > score(pool[j-1]); j-- {
			pool[j], pool[j-1] = pool[j-1], pool[j]
		}
	}
}

func attemptStatus(debug provider.Debug, err error) string {
	switch {
	case debug.CooldownActive:
		return "cooldown"
	case debug.Status > 0:
		return strconv.Itoa(debug.Status)
	case err != nil:
		return "error"
	default:
		return "none"
	}
}

func signature(phase types.Phase, phrase string, scope types.CourtScope, window types.DateWindow) string {
	norm := strings.Join(strings.Fields(strings.ToLower(phrase)), " ")
	return fmt.Sprintf("%s|%s|%s|%s|%s", phase, norm, scope, window.FromDate, window.ToDate)
}

func groupByPhase(variants []types.QueryVariant) map[types.Phase][]types.QueryVariant {
	out := make(map[types.Phase][]types.QueryVariant, len(types.AllPhases))
	for _, v := range variants {
		out[v.Phase] = append(out[v.Phase], v)
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func randomBetween(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)))
}

func minDuration(ds ...time.Duration) time.Duration {
	out := ds[0]
	for _, d := range ds[1:] {
		if d < out {
			out = d
		}
	}
	return out
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func appendUnique(dst []string, v string) []string {
	for _, have := range dst {
		if have == v {
			return dst
		}
	}
	return append(dst, v)
}
