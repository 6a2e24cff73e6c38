package pipeline

import (
	"fmt"
	"strings"

	"precedent/internal/types"
)

// assemble folds the gated lanes, fallback rows and run flags into the final
// response. It is the last step that can change what the caller sees, so the
// synthetic advisory decision lives here: only once the assembled lanes are
// known to be empty does the advisory row get minted.
func (r *run) assemble() *types.SearchResponse {
	strict := append([]types.ScoredCase(nil), r.eval.split.ExactStrict...)
	provisional := append([]types.ScoredCase(nil), r.eval.split.ExactProvisional...)
	exploratory := append([]types.ScoredCase(nil), r.eval.split.NearMiss...)
	exploratory = append(exploratory, r.stale...)

	status := r.deriveStatus(len(strict) + len(provisional) + len(exploratory))

	r.syntheticAdvisory()
	if r.synthetic != nil {
		exploratory = append(exploratory, *r.synthetic)
		// The advisory never upgrades the outcome. A blocked run stays
		// blocked; anything else that reached this point found nothing.
		if status != types.StatusBlocked {
			status = types.StatusNoMatch
		}
	}

	strict, provisional, exploratory = capTiers(strict, provisional, exploratory, r.maxResults)
	counts := types.TierCounts{
		Strict:      len(strict),
		Provisional: len(provisional),
		Exploratory: len(exploratory),
	}

	r.noteStatus(status, counts)

	return &types.SearchResponse{
		Status:                status,
		Query:                 r.query,
		CasesExactStrict:      strict,
		CasesExactProvisional: provisional,
		CasesExploratory:      exploratory,
		TierCounts:            counts,
		Guarantee:             r.guarantee(counts),
		PipelineTrace:         r.trace,
		Notes:                 r.notes,
		Insights:              r.insights(),
	}
}

// deriveStatus reports the truthful request state before the synthetic
// advisory is considered. total counts live lane rows plus stale rows.
func (r *run) deriveStatus(total int) types.Status {
	switch {
	case r.blocked && !r.anySuccess() && len(r.stale) == 0:
		return types.StatusBlocked
	case r.blocked || len(r.stale) > 0 || r.timePartial(total):
		return types.StatusPartial
	case total == 0:
		return types.StatusNoMatch
	default:
		return types.StatusCompleted
	}
}

// timePartial reports a run that still held results when the wall clock
// lapsed mid-schedule.
func (r *run) timePartial(total int) bool {
	if total == 0 || r.lastStop != types.StopBudgetExhausted {
		return false
	}
	return strings.HasPrefix(r.lastWhy, "time_budget") || r.lastWhy == "context_cancelled"
}

// capTiers truncates the lanes to max rows in total, strict lane first.
func capTiers(strict, provisional, exploratory []types.ScoredCase, max int) ([]types.ScoredCase, []types.ScoredCase, []types.ScoredCase) {
	if len(strict) > max {
		strict = strict[:max]
	}
	rest := max - len(strict)
	if len(provisional) > rest {
		provisional = provisional[:rest]
	}
	rest -= len(provisional)
	if len(exploratory) > rest {
		exploratory = exploratory[:rest]
	}
	return strict, provisional, exploratory
}

func (r *run) guarantee(counts types.TierCounts) types.Guarantee {
	g := types.Guarantee{Target: r.e.cfg.Guarantee.MinResults}
	g.Met = counts.Total() >= g.Target
	switch {
	case len(r.stale) > 0:
		g.Used, g.Source = true, types.GuaranteeStaleCache
	case r.synthetic != nil:
		g.Used, g.Source = true, types.GuaranteeSynthetic
	case r.backfilled:
		g.Used, g.Source = true, types.GuaranteeLive
	case counts.Total() > 0:
		g.Source = types.GuaranteeLive
	default:
		g.Source = types.GuaranteeNone
	}
	return g
}

func (r *run) insights() types.Insights {
	polarity := r.profile.Polarity
	if r.checklist.Outcome.Required {
		polarity = r.checklist.Outcome.Polarity
	}
	var groups []string
	for _, g := range r.checklist.RequiredGroups() {
		groups = append(groups, g.GroupID)
	}
	return types.Insights{
		Polarity:            polarity,
		HookGroups:          groups,
		CourtHint:           r.profile.CourtHint,
		TopMissingElements:  r.eval.split.TopMissingElements(5),
		InteractionRequired: r.checklist.InteractionRequired,
	}
}

// noteStatus appends the reader-facing explanation for degraded outcomes.
// Stale and extended-recovery notes are appended where those paths fire.
func (r *run) noteStatus(status types.Status, counts types.TierCounts) {
	switch status {
	case types.StatusBlocked:
		r.notes = append(r.notes, "upstream blocked retrieval before any attempt succeeded")
	case types.StatusPartial:
		if r.blocked {
			r.notes = append(r.notes, "upstream began blocking mid-run; results reflect the attempts that landed")
		} else if len(r.stale) == 0 {
			r.notes = append(r.notes, "time budget lapsed before retrieval finished")
		}
	}
	gcfg := r.e.cfg.Guarantee
	if gcfg.AlwaysReturn && r.synthetic == nil && counts.Total() > 0 && counts.Total() < gcfg.MinResults {
		r.notes = append(r.notes, fmt.Sprintf("returned %d of the %d-result floor", counts.Total(), gcfg.MinResults))
	}
}
