package pipeline

import (
	"context"

	"go.uber.org/zap"

	"precedent/internal/metrics"
	"precedent/internal/proposition"
	"precedent/internal/reasoner"
	"precedent/internal/types"
)

// traceExpansion is step 5: when retrieval ran without a reasoner plan and
// the strict target is unmet, chase citations of the best seeds with
// synthesised browse variants.
func (r *run) traceExpansion(ctx context.Context) {
	if !r.extended || r.blocked {
		return
	}
	if len(r.eval.split.ExactStrict) >= r.e.cfg.Proposition.StrictStopTarget {
		return
	}
	if r.budgetLeft() < traceMinBudget || r.remaining() < traceMinRemaining {
		return
	}

	seeds := topSeeds(r.eval.ranked, traceSeedCount)
	tv := r.pl.TraceVariants(seeds, &r.checklist, traceVariantLimit)
	if len(tv) == 0 {
		return
	}
	r.variants = append(r.variants, tv...)
	r.log.Debug("trace expansion", zap.Int("variants", len(tv)))
	if res := r.schedule(ctx, "trace_expansion", tv); res != nil {
		r.evaluate(ctx)
	}
}

// pass2 is step 6: one reasoner refinement over the observed first round,
// fired only when a concrete quality shortfall justifies the spend.
func (r *run) pass2(ctx context.Context) {
	if r.plan == nil || r.blocked {
		return
	}
	if r.budgetLeft() < pass2MinRemainingBudget || r.remaining() < pass2MinRemaining {
		return
	}
	if !r.eval.split.Shortfall().Any() {
		return
	}

	snippets := buildSnippets(r.eval.ranked, pass2SnippetLimit)
	plan2, tel := r.e.orch.Run(ctx, reasoner.Request{
		Pass:        reasoner.Pass2,
		Profile:     &r.profile,
		Lexicon:     r.lx,
		Fingerprint: reasoner.Fingerprint(&r.profile),
		Seed:        reasoner.Pass2Seed(r.attempts),
		Prompt:      reasoner.BuildPass2Prompt(&r.profile, r.plan, snippets, r.attempts),
		BasePlan:    r.plan,
		CallsUsed:   &r.calls,
	})
	r.trace.Reasoner = append(r.trace.Reasoner, tel)
	metrics.ObserveReasoner(reasonerOutcome(plan2 != nil, tel))
	if plan2 == nil {
		return
	}

	r.plan = plan2
	r.checklist = proposition.BuildChecklist(r.lx, &r.profile, plan2, r.e.cfg.Proposition)
	fresh := r.pl.Build(&r.profile, &r.checklist, plan2)
	r.variants = append(r.variants, fresh...)
	r.log.Debug("pass-2 plan accepted", zap.Int("variants", len(fresh)))
	if res := r.schedule(ctx, "pass2", fresh); res != nil {
		r.evaluate(ctx)
	}
}

// backfill is step 7: the live leg of the always-return guarantee. Broad
// browse phrases get a small extra attempt allowance beyond the global
// budget; the wall clock still rules.
func (r *run) backfill(ctx context.Context) {
	g := r.e.cfg.Guarantee
	if !g.AlwaysReturn || r.blocked {
		return
	}
	if r.tierTotal() >= g.MinResults {
		return
	}
	if r.remaining() < g.MinRemaining {
		return
	}

	bv := r.pl.BackfillVariants(&r.profile, &r.checklist, r.plan, backfillVariantLimit)
	if len(bv) == 0 {
		return
	}
	before := r.tierTotal()
	r.budget += g.ExtraAttempts
	r.variants = append(r.variants, bv...)
	r.log.Debug("guarantee backfill", zap.Int("variants", len(bv)), zap.Int("tiered", before))
	if res := r.schedule(ctx, "guarantee_backfill", bv); res != nil {
		r.evaluate(ctx)
	}
	if r.tierTotal() > before {
		r.backfilled = true
	}
}

// topSeeds picks the best ranked case-like candidates to pivot trace
// variants around.
func topSeeds(ranked []types.ScoredCase, n int) []types.CaseCandidate {
	out := make([]types.CaseCandidate, 0, n)
	for i := range ranked {
		if len(out) >= n {
			break
		}
		out = append(out, ranked[i].CaseCandidate)
	}
	return out
}

// buildSnippets condenses the first-round shortlist for the refinement
// prompt.
func buildSnippets(ranked []types.ScoredCase, limit int) []reasoner.Snippet {
	out := make([]reasoner.Snippet, 0, limit)
	for i := range ranked {
		if len(out) >= limit {
			break
		}
		c := &ranked[i]
		excerpt := c.Snippet
		if len(excerpt) > 180 {
			excerpt = excerpt[:180]
		}
		out = append(out, reasoner.Snippet{
			Title:   c.Title,
			Excerpt: excerpt,
			Court:   string(c.Court),
		})
	}
	return out
}
