package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"precedent/internal/provider"
	"precedent/internal/types"
)

// scriptedProvider replays canned outputs keyed by phrase and records every
// search input it sees.
type scriptedProvider struct {
	outputs map[string]provider.SearchOutput
	errs    map[string]error
	calls   []provider.SearchInput
	onCall  func()
}

func (p *scriptedProvider) ID() string                { return "scripted" }
func (p *scriptedProvider) SupportsDetailFetch() bool { return false }

func (p *scriptedProvider) FetchDetail(ctx context.Context, docURL string) (provider.DetailDoc, error) {
	return provider.DetailDoc{}, errors.New("not used")
}

func (p *scriptedProvider) Search(ctx context.Context, in provider.SearchInput) (provider.SearchOutput, error) {
	p.calls = append(p.calls, in)
	if p.onCall != nil {
		p.onCall()
	}
	if err, ok := p.errs[in.Phrase]; ok {
		return provider.SearchOutput{}, err
	}
	if out, ok := p.outputs[in.Phrase]; ok {
		return out, nil
	}
	return provider.SearchOutput{Debug: provider.Debug{SearchQuery: in.Phrase, Status: 200, OK: true}}, nil
}

func (p *scriptedProvider) phrases() []string {
	out := make([]string, 0, len(p.calls))
	for _, c := range p.calls {
		out = append(out, c.Phrase)
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestScheduler(p provider.Provider) *Scheduler {
	s := New(p, nil)
	s.sleep = func(context.Context, time.Duration) {}
	s.jitter = func(lo, hi time.Duration) time.Duration { return lo }
	return s
}

func baseCfg() Config {
	return Config{
		GlobalBudget: 14,
		PhaseLimits: map[types.Phase]int{
			types.PhasePrimary:   4,
			types.PhaseFallback:  4,
			types.PhaseRescue:    2,
			types.PhaseMicro:     2,
			types.PhaseRevolving: 2,
			types.PhaseBrowse:    2,
		},
		BlockedThreshold:    2,
		MinCaseTarget:       3,
		MaxElapsed:          9 * time.Second,
		FetchTimeout:        3 * time.Second,
		AttemptTimeoutCap:   3500 * time.Millisecond,
		Max429Retries:       2,
		MaxRetryAfter:       4 * time.Second,
		MaxPagesByPhase:     PageLimits{Primary: 2, Fallback: 1, Other: 1},
		MaxResultsPerPhrase: 10,
	}
}

func variant(phase types.Phase, phrase string, priority int) types.QueryVariant {
	return types.QueryVariant{
		ID:           "qv_" + phrase[:min(len(phrase), 6)],
		Phrase:       phrase,
		Phase:        phase,
		CourtScope:   types.CourtScopeAny,
		Strictness:   types.StrictnessRelaxed,
		CanonicalKey: fmt.Sprintf("%s:relaxed:%s", phase, phrase),
		Priority:     priority,
	}
}

func caseHit(id int, court types.CourtKind) types.CaseCandidate {
	return types.CaseCandidate{
		URL:   fmt.Sprintf("https://indiankanoon.org/doc/%d/", id),
		Title: fmt.Sprintf("Appellant %d vs State on 1 January, 2001", id),
		Court: court,
	}
}

func okOutput(cases ...types.CaseCandidate) provider.SearchOutput {
	return provider.SearchOutput{
		Cases: cases,
		Debug: provider.Debug{Status: 200, OK: true, ParsedCount: len(cases), ParserMode: "dom"},
	}
}

func TestRun_PhaseOrderAndLimits(t *testing.T) {
	p := &scriptedProvider{}
	s := newTestScheduler(p)

	variants := []types.QueryVariant{
		variant(types.PhaseBrowse, "browse one", 42),
		variant(types.PhasePrimary, "primary one", 92),
		variant(types.PhasePrimary, "primary two", 91),
		variant(types.PhasePrimary, "primary three", 90),
		variant(types.PhaseFallback, "fallback one", 78),
	}
	cfg := baseCfg()
	cfg.PhaseLimits[types.PhasePrimary] = 2

	res := s.Run(context.Background(), variants, cfg, NewState(time.Now()))

	assert.Equal(t, types.StopCompleted, res.StopReason)
	assert.Equal(t, []string{"primary one", "primary two", "fallback one", "browse one"}, p.phrases(),
		"phases run in fixed order and the primary pool is sliced at its limit")
	assert.Len(t, res.Attempts, 4)
	assert.Equal(t, 4, res.State.AttemptsUsed)
}

func TestRun_GlobalBudgetAcrossRuns(t *testing.T) {
	p := &scriptedProvider{}
	s := newTestScheduler(p)
	cfg := baseCfg()
	cfg.GlobalBudget = 3

	st := NewState(time.Now())
	res := s.Run(context.Background(), []types.QueryVariant{
		variant(types.PhasePrimary, "alpha", 92),
		variant(types.PhasePrimary, "beta", 91),
	}, cfg, st)
	require.Equal(t, types.StopCompleted, res.StopReason)
	require.Equal(t, 2, res.State.AttemptsUsed)

	// The second run inherits attemptsUsed; only one attempt remains.
	res = s.Run(context.Background(), []types.QueryVariant{
		variant(types.PhaseFallback, "gamma", 78),
		variant(types.PhaseFallback, "delta", 77),
	}, cfg, res.State)
	assert.Equal(t, types.StopBudgetExhausted, res.StopReason)
	assert.Equal(t, "attempt_budget_exhausted", res.Reason)
	assert.Len(t, res.Attempts, 1)
	assert.Equal(t, 3, res.State.AttemptsUsed)
}

func TestRun_DuplicateSignatures(t *testing.T) {
	p := &scriptedProvider{}
	s := newTestScheduler(p)
	cfg := baseCfg()

	dup := variant(types.PhasePrimary, "condonation of delay", 92)
	st := NewState(time.Now())
	res := s.Run(context.Background(), []types.QueryVariant{dup, dup}, cfg, st)

	assert.Len(t, p.calls, 1)
	assert.Equal(t, 1, res.SkippedDuplicates)

	// A later run re-presenting the same variant is wholly deduplicated, and
	// case or whitespace differences fold into the same signature.
	shouty := variant(types.PhasePrimary, "  Condonation   OF  Delay ", 90)
	res = s.Run(context.Background(), []types.QueryVariant{dup, shouty}, cfg, res.State)
	assert.Len(t, p.calls, 1)
	assert.Equal(t, 2, res.SkippedDuplicates)
	assert.Equal(t, 3, res.State.SkippedDuplicates)
	assert.Equal(t, types.StopCompleted, res.StopReason)

	// Narrowing the court filter changes the signature, so the same phrase
	// fires again.
	scoped := variant(types.PhasePrimary, "condonation of delay", 92)
	scoped.CourtScope = types.CourtScopeSC
	res = s.Run(context.Background(), []types.QueryVariant{scoped}, cfg, res.State)
	assert.Len(t, p.calls, 2)
	assert.Equal(t, 0, res.SkippedDuplicates)
}

func TestRun_RelaxedLanesDropFilters(t *testing.T) {
	p := &scriptedProvider{}
	s := newTestScheduler(p)
	cfg := baseCfg()
	cfg.DateWindow = types.DateWindow{FromDate: "1-1-2015", ToDate: "31-12-2020"}

	strict := variant(types.PhasePrimary, "delay condoned appeal", 92)
	strict.CourtScope = types.CourtScopeSC
	rescue := variant(types.PhaseRescue, "condonation of delay rescue", 62)
	rescue.CourtScope = types.CourtScopeSC // scheduler must override, not trust the variant

	s.Run(context.Background(), []types.QueryVariant{strict, rescue}, cfg, NewState(time.Now()))

	require.Len(t, p.calls, 2)
	assert.Equal(t, types.CourtScopeSC, p.calls[0].CourtScope)
	assert.Equal(t, "1-1-2015", p.calls[0].FromDate)
	assert.Equal(t, types.CourtScopeAny, p.calls[1].CourtScope)
	assert.Empty(t, p.calls[1].FromDate)
	assert.Empty(t, p.calls[1].ToDate)
}

func TestRun_MergesCandidatesByURL(t *testing.T) {
	thin := caseHit(7, types.CourtUnknown)
	thin.Snippet = "short"
	rich := caseHit(7, types.CourtSupreme)
	rich.CourtText = "Supreme Court of India"
	rich.DetailText = "full body"

	p := &scriptedProvider{outputs: map[string]provider.SearchOutput{
		"alpha": okOutput(thin),
		"beta":  okOutput(rich),
	}}
	s := newTestScheduler(p)

	res := s.Run(context.Background(), []types.QueryVariant{
		variant(types.PhasePrimary, "alpha", 92),
		variant(types.PhasePrimary, "beta", 91),
	}, baseCfg(), NewState(time.Now()))

	require.Len(t, res.Candidates, 1)
	got := res.Candidates[0]
	assert.Equal(t, types.CourtSupreme, got.Court, "richer record wins the merge")
	assert.Equal(t, "full body", got.DetailText)
	assert.Equal(t, "short", got.Snippet, "thinner record backfills missing fields")

	prov := res.State.Provenance(got.URL)
	assert.Len(t, prov, 2, "both variants recorded as provenance")
}

func TestRun_LocalCooldownStopsImmediately(t *testing.T) {
	p := &scriptedProvider{outputs: map[string]provider.SearchOutput{
		"alpha": {Debug: provider.Debug{
			CooldownActive: true,
			BlockedType:    types.BlockedLocalCooldown,
			RetryAfterMs:   42000,
		}},
	}}
	s := newTestScheduler(p)

	res := s.Run(context.Background(), []types.QueryVariant{
		variant(types.PhasePrimary, "alpha", 92),
		variant(types.PhasePrimary, "beta", 91),
	}, baseCfg(), NewState(time.Now()))

	assert.Equal(t, types.StopBlocked, res.StopReason)
	assert.Equal(t, "local_cooldown", res.Reason)
	assert.Equal(t, types.BlockedLocalCooldown, res.BlockedKind)
	assert.EqualValues(t, 42000, res.RetryAfterMs)
	assert.Len(t, p.calls, 1, "nothing after a cooldown response")
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, "cooldown", res.Attempts[0].Status)
	assert.True(t, res.Attempts[0].Cooldown)
}

func TestRun_BlockedThreshold(t *testing.T) {
	challenge := provider.SearchOutput{Debug: provider.Debug{
		Status:            503,
		ChallengeDetected: true,
		BlockedType:       types.BlockedChallenge,
	}}
	p := &scriptedProvider{outputs: map[string]provider.SearchOutput{
		"alpha": challenge,
		"beta":  challenge,
	}}
	s := newTestScheduler(p)
	var delays []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) { delays = append(delays, d) }

	cfg := baseCfg()
	cfg.BlockedThreshold = 2

	res := s.Run(context.Background(), []types.QueryVariant{
		variant(types.PhasePrimary, "alpha", 92),
		variant(types.PhasePrimary, "beta", 91),
		variant(types.PhasePrimary, "gamma", 90),
	}, cfg, NewState(time.Now()))

	assert.Equal(t, types.StopBlocked, res.StopReason)
	assert.Equal(t, "blocked_threshold_reached:2", res.Reason)
	assert.Equal(t, types.BlockedChallenge, res.BlockedKind)
	assert.Equal(t, 2, res.BlockedCount)
	assert.Len(t, p.calls, 2, "third variant never fires")
	require.Len(t, delays, 1, "one backoff delay between the two challenges")
	assert.Equal(t, blockedDelayMin, delays[0])
}

func TestRun_BlockedCountResetsOnSuccess(t *testing.T) {
	challenge := provider.SearchOutput{Debug: provider.Debug{
		Status:            503,
		ChallengeDetected: true,
		BlockedType:       types.BlockedChallenge,
	}}
	p := &scriptedProvider{outputs: map[string]provider.SearchOutput{
		"alpha": challenge,
		"gamma": challenge,
	}}
	s := newTestScheduler(p)
	cfg := baseCfg()
	cfg.BlockedThreshold = 2

	res := s.Run(context.Background(), []types.QueryVariant{
		variant(types.PhasePrimary, "alpha", 92),
		variant(types.PhasePrimary, "beta", 91),
		variant(types.PhasePrimary, "gamma", 90),
	}, cfg, NewState(time.Now()))

	assert.Equal(t, types.StopCompleted, res.StopReason)
	assert.Equal(t, 1, res.BlockedCount, "the clean attempt between challenges resets the count")
	assert.Len(t, p.calls, 3)
}

func TestRun_EarlyStopOnCaseTarget(t *testing.T) {
	t.Run("target met", func(t *testing.T) {
		p := &scriptedProvider{outputs: map[string]provider.SearchOutput{
			"alpha": okOutput(caseHit(1, types.CourtHigh), caseHit(2, types.CourtHigh)),
		}}
		s := newTestScheduler(p)
		cfg := baseCfg()
		cfg.StopOnCandidateTarget = true
		cfg.MinCaseTarget = 2

		res := s.Run(context.Background(), []types.QueryVariant{
			variant(types.PhasePrimary, "alpha", 92),
			variant(types.PhasePrimary, "beta", 91),
		}, cfg, NewState(time.Now()))

		assert.Equal(t, types.StopEnoughCandidates, res.StopReason)
		assert.Equal(t, "case_target_met:2", res.Reason)
		assert.Len(t, p.calls, 1)
	})

	t.Run("supreme court requirement holds the run open", func(t *testing.T) {
		p := &scriptedProvider{outputs: map[string]provider.SearchOutput{
			"alpha": okOutput(caseHit(1, types.CourtHigh), caseHit(2, types.CourtHigh)),
			"beta":  okOutput(caseHit(3, types.CourtSupreme)),
		}}
		s := newTestScheduler(p)
		cfg := baseCfg()
		cfg.StopOnCandidateTarget = true
		cfg.MinCaseTarget = 2
		cfg.RequireSupremeCourt = true

		res := s.Run(context.Background(), []types.QueryVariant{
			variant(types.PhasePrimary, "alpha", 92),
			variant(types.PhasePrimary, "beta", 91),
			variant(types.PhasePrimary, "gamma", 90),
		}, cfg, NewState(time.Now()))

		assert.Equal(t, types.StopEnoughCandidates, res.StopReason)
		assert.Len(t, p.calls, 2, "keeps going until an SC judgment lands")
	})
}

func TestRun_WallClock(t *testing.T) {
	t.Run("elapsed stops the run", func(t *testing.T) {
		clk := &fakeClock{t: time.Unix(1000, 0)}
		p := &scriptedProvider{}
		p.onCall = func() { clk.Advance(2 * time.Second) }
		s := newTestScheduler(p)
		s.now = clk.Now

		cfg := baseCfg()
		cfg.MaxElapsed = 3 * time.Second

		res := s.Run(context.Background(), []types.QueryVariant{
			variant(types.PhasePrimary, "alpha", 92),
			variant(types.PhasePrimary, "beta", 91),
			variant(types.PhasePrimary, "gamma", 90),
		}, cfg, NewState(clk.Now()))

		assert.Equal(t, types.StopBudgetExhausted, res.StopReason)
		assert.Equal(t, "time_budget_exhausted:4000", res.Reason)
		assert.Len(t, p.calls, 2)
	})

	t.Run("thin remainder refuses the attempt", func(t *testing.T) {
		clk := &fakeClock{t: time.Unix(1000, 0)}
		p := &scriptedProvider{}
		p.onCall = func() { clk.Advance(2 * time.Second) }
		s := newTestScheduler(p)
		s.now = clk.Now

		cfg := baseCfg()
		cfg.MaxElapsed = 2500 * time.Millisecond

		res := s.Run(context.Background(), []types.QueryVariant{
			variant(types.PhasePrimary, "alpha", 92),
			variant(types.PhasePrimary, "beta", 91),
		}, cfg, NewState(clk.Now()))

		assert.Equal(t, types.StopBudgetExhausted, res.StopReason)
		assert.Equal(t, "time_budget_exhausted:2000", res.Reason)
		assert.Len(t, p.calls, 1, "under a second left is not enough for an attempt")
	})

	t.Run("fetch timeout shrinks near the wall", func(t *testing.T) {
		clk := &fakeClock{t: time.Unix(1000, 0)}
		p := &scriptedProvider{}
		p.onCall = func() { clk.Advance(7 * time.Second) }
		s := newTestScheduler(p)
		s.now = clk.Now

		cfg := baseCfg()
		cfg.MaxElapsed = 9 * time.Second

		s.Run(context.Background(), []types.QueryVariant{
			variant(types.PhasePrimary, "alpha", 92),
			variant(types.PhasePrimary, "beta", 91),
		}, cfg, NewState(clk.Now()))

		require.Len(t, p.calls, 2)
		assert.Equal(t, 3*time.Second, p.calls[0].FetchTimeout)
		assert.Equal(t, 2*time.Second-attemptHeadroom, p.calls[1].FetchTimeout,
			"remaining budget minus headroom caps the timeout")
	})
}

func TestRun_ErrorAttemptRecorded(t *testing.T) {
	p := &scriptedProvider{errs: map[string]error{
		"alpha": &provider.Error{Op: "search", Debug: provider.Debug{Status: 500}, Err: errors.New("upstream broke")},
	}}
	s := newTestScheduler(p)

	res := s.Run(context.Background(), []types.QueryVariant{
		variant(types.PhasePrimary, "alpha", 92),
		variant(types.PhasePrimary, "beta", 91),
	}, baseCfg(), NewState(time.Now()))

	assert.Equal(t, types.StopCompleted, res.StopReason, "a failed attempt does not end the run")
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, "500", res.Attempts[0].Status)
	assert.False(t, res.Attempts[0].OK)
	assert.Contains(t, res.Attempts[0].Error, "upstream broke")
	assert.True(t, res.Attempts[1].OK)
}

func TestSortAdaptive(t *testing.T) {
	s := newTestScheduler(&scriptedProvider{})
	st := NewState(time.Now())

	productive := variant(types.PhaseFallback, "productive", 80)
	st.utilities[productive.CanonicalKey] = &utilStat{UtilitySum: 0.9, CaseLikeSum: 1.0, Runs: 1}
	hostile := variant(types.PhaseFallback, "hostile", 95)
	st.utilities[hostile.CanonicalKey] = &utilStat{Runs: 1, Challenges: 1}
	fresh := variant(types.PhaseFallback, "fresh", 90)

	pool := []types.QueryVariant{hostile, fresh, productive}
	s.sortAdaptive(pool, &st)

	// productive: 80 + 40*0.9 + 18*1.0 = 134; fresh: 90; hostile: 95 - 14 = 81.
	assert.Equal(t, []string{"productive", "fresh", "hostile"}, []string{pool[0].Phrase, pool[1].Phrase, pool[2].Phrase})
}

func TestRun_PoliteSleepBetweenSuccesses(t *testing.T) {
	p := &scriptedProvider{}
	s := newTestScheduler(p)
	var delays []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) { delays = append(delays, d) }

	s.Run(context.Background(), []types.QueryVariant{
		variant(types.PhasePrimary, "alpha", 92),
		variant(types.PhasePrimary, "beta", 91),
	}, baseCfg(), NewState(time.Now()))

	require.Len(t, delays, 2)
	for _, d := range delays {
		assert.Equal(t, politeDelayMin, d)
	}
}

func TestResult_Trace(t *testing.T) {
	res := Result{
		Attempts:          []types.Attempt{{Phrase: "alpha"}},
		Candidates:        []types.CaseCandidate{{URL: "u"}},
		StopReason:        types.StopBlocked,
		Reason:            "blocked_threshold_reached:2",
		BlockedCount:      2,
		BlockedKind:       types.BlockedChallenge,
		RetryAfterMs:      1500,
		SkippedDuplicates: 1,
		ElapsedMs:         321,
	}
	tr := res.Trace("run1")
	assert.Equal(t, "run1", tr.Label)
	assert.Equal(t, 1, tr.AttemptsUsed)
	assert.Equal(t, 1, tr.Candidates)
	assert.Equal(t, types.StopBlocked, tr.StopReason)
	assert.Equal(t, "blocked_threshold_reached:2", tr.BlockedReason)
	assert.Equal(t, types.BlockedChallenge, tr.BlockedKind)
	assert.EqualValues(t, 1500, tr.RetryAfterMs)
	assert.EqualValues(t, 321, tr.ElapsedMs)
}
