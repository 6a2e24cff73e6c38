package pipeline

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"precedent/internal/classify"
	"precedent/internal/proposition"
	"precedent/internal/ranking"
	"precedent/internal/types"
)

// evaluation is the product of one pass through the candidate chain. Each
// scheduler run re-evaluates the full accumulated candidate set, so the
// latest evaluation always reflects everything retrieved so far.
type evaluation struct {
	ranked         []types.ScoredCase
	split          proposition.Split
	diversityDrops int
	scBoosted      int
}

// evaluate runs the accumulated candidates through classifier, verifier,
// scorer, diversifier, Supreme Court preference and the proposition gate.
func (r *run) evaluate(ctx context.Context) {
	r.evaluateCandidates(ctx, r.st.Candidates())
}

func (r *run) evaluateCandidates(ctx context.Context, cands []types.CaseCandidate) {
	kept := make([]types.CaseCandidate, 0, len(cands))
	for i := range cands {
		if classify.Keep(classify.Candidate(&cands[i]), true) {
			kept = append(kept, cands[i])
		}
	}

	hydrated, examined, vtr := r.e.verif.Hydrate(ctx, kept, &r.checklist, r.e.cfg.Pipeline.VerifyLimit)

	lexProfile := ranking.BuildProfile(r.lx, &r.checklist, r.variants)
	scored := r.scorer.ScoreAll(&r.profile, &r.checklist, lexProfile, hydrated)

	// A candidate counts as detail-checked only when the sweep actually
	// produced a body; a failed fetch leaves it unchecked and the
	// calibration ceiling lowered.
	for i := range scored {
		scored[i].Verification.DetailChecked = examined[scored[i].URL] && scored[i].DetailText != ""
	}

	ranked, drops := ranking.Diversify(scored)
	ranking.PreferSupremeCourt(ranked, scPreferenceDelta)

	split := r.e.gate.Evaluate(ranked, &r.checklist)

	r.eval = evaluation{
		ranked:         ranked,
		split:          split,
		diversityDrops: drops,
		scBoosted:      countBoosted(ranked),
	}
	r.trace.Verifier = &vtr
	gt := split.Trace()
	r.trace.Gate = &gt
	r.trace.DiversityDrops = drops
	r.trace.SCBoosted = r.eval.scBoosted

	r.log.Debug("candidates evaluated",
		zap.Int("raw", len(cands)),
		zap.Int("kept", len(kept)),
		zap.Int("ranked", len(ranked)),
		zap.Int("strict", len(split.ExactStrict)),
		zap.Int("provisional", len(split.ExactProvisional)),
		zap.Int("nearMiss", len(split.NearMiss)))
}

func countBoosted(cases []types.ScoredCase) int {
	n := 0
	for i := range cases {
		for _, reason := range cases[i].Reasons {
			if strings.HasPrefix(reason, "supreme_court_preference:") {
				n++
				break
			}
		}
	}
	return n
}
