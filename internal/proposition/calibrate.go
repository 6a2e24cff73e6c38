package proposition

import (
	"math"

	"precedent/internal/types"
)

// Confidence blend weights: lexical ranking vs structural proposition
// coverage.
const (
	weightRanking    = 0.45
	weightStructural = 0.55
)

// Lane ceilings. A strict verdict only earns strictCap when every structural
// sentence the checklist calls for was actually observed; otherwise it is
// held at the provisional ceiling.
const (
	strictCap      = 0.95
	provisionalCap = 0.70
	exploratoryCap = 0.45
	rejectCap      = 0.50
	noDetailCap    = 0.55
)

// Band floors.
const (
	bandVeryHighFloor    = 0.86
	bandHighFloor        = 0.71
	bandMediumFloor      = 0.51
	exploratoryBandFloor = 0.40
)

// calibrate computes the calibrated confidence for one candidate and reports
// whether the lane ceiling lowered the raw score, which feeds the
// saturation-prevented counter.
func (g *Gate) calibrate(c *types.ScoredCase, cl *Checklist, sig *signals, v Verdict) bool {
	structural := 0.34*sig.coreCoverage() +
		0.22*sig.mandatoryCoverage() +
		0.10*sig.chainCoverage() +
		0.12*sig.hookCoverage() +
		0.08*boolScore(sig.relationOK) +
		0.08*boolScore(sig.outcomeOK) +
		0.06*sig.peripheralCoverage()

	raw := weightRanking*c.RankingScore + weightStructural*structural

	if !sig.ver.DetailChecked {
		raw -= 0.06
	}
	if sig.ver.HasRoleSentence {
		raw += 0.02
	}
	if sig.ver.HasChainSentence {
		raw += 0.02
	}
	if sig.ver.HasRelationSentence {
		raw += 0.03
	}
	if sig.ver.HasPolaritySentence {
		raw += 0.03
	}
	if sig.ver.HasHookIntersectionSentence {
		raw += 0.03
	}
	if sig.actorMiss || !sig.rolesOK {
		raw -= 0.12
	}
	if sig.procMiss {
		raw -= 0.08
	}
	if sig.chainTot > 0 && sig.chainCoverage() < g.cfg.ChainMinCoverage {
		raw -= 0.12
	}
	switch {
	case sig.contradiction:
		raw -= 0.25
	case !sig.outcomeOK:
		raw -= 0.16
	}

	raw = clamp01(raw)

	ceiling := laneCeiling(v, cl, sig)
	if !sig.ver.DetailChecked && ceiling > noDetailCap {
		ceiling = noDetailCap
	}

	score := math.Min(raw, ceiling)
	c.ConfidenceScore = round4(score)
	c.ConfidenceBand = bandFor(v, score)
	return raw > ceiling
}

func laneCeiling(v Verdict, cl *Checklist, sig *signals) float64 {
	switch v {
	case VerdictStrict:
		if missingStructuralSentence(cl, sig) {
			return provisionalCap
		}
		return strictCap
	case VerdictProvisional:
		return provisionalCap
	case VerdictNearMiss:
		return exploratoryCap
	default:
		return rejectCap
	}
}

// missingStructuralSentence checks only the sentence kinds the checklist
// makes applicable, so a proposition without chains is not punished for
// lacking a chain sentence.
func missingStructuralSentence(cl *Checklist, sig *signals) bool {
	if len(cl.Relations) > 0 && !sig.ver.HasRelationSentence {
		return true
	}
	if cl.Outcome.Required && !sig.ver.HasPolaritySentence {
		return true
	}
	if len(cl.HookGroups) >= 2 && !sig.ver.HasHookIntersectionSentence {
		return true
	}
	if len(cl.Graph.RoleConstraints) > 0 && !sig.ver.HasRoleSentence {
		return true
	}
	if len(cl.Graph.ChainConstraints) > 0 && !sig.ver.HasChainSentence {
		return true
	}
	return false
}

// bandFor buckets the calibrated score. Near-miss results live on the
// exploratory scale, which tops out at MEDIUM.
func bandFor(v Verdict, score float64) types.ConfidenceBand {
	if v == VerdictNearMiss {
		if score >= exploratoryBandFloor {
			return types.BandMedium
		}
		return types.BandLow
	}
	switch {
	case score >= bandVeryHighFloor:
		return types.BandVeryHigh
	case score >= bandHighFloor:
		return types.BandHigh
	case score >= bandMediumFloor:
		return types.BandMedium
	default:
		return types.BandLow
	}
}

func boolScore(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

func round4(f float64) float64 { return math.Round(f*10000) / 10000 }
