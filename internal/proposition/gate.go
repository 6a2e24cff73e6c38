package proposition

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"precedent/internal/config"
	"precedent/internal/lexicon"
	"precedent/internal/types"
)

// Verdict is the gate lane a candidate lands in.
type Verdict string

const (
	VerdictStrict      Verdict = "exact_strict"
	VerdictProvisional Verdict = "exact_provisional"
	VerdictNearMiss    Verdict = "near_miss"
	VerdictReject      Verdict = "reject"
)

// Split is the gate output: candidates bucketed by lane plus counters the
// pipeline and trace consume.
type Split struct {
	ExactStrict      []types.ScoredCase
	ExactProvisional []types.ScoredCase
	NearMiss         []types.ScoredCase

	Evaluated            int
	Rejected             int
	ContradictionRejects int
	SaturationPrevented  int

	requiredCoverageSum float64
	missingCounts       map[string]int
	shortfall           Shortfall
}

// Trace converts the split into the telemetry shape.
func (s *Split) Trace() types.GateTrace {
	avg := 0.0
	if s.Evaluated > 0 {
		avg = s.requiredCoverageSum / float64(s.Evaluated)
	}
	return types.GateTrace{
		Evaluated:               s.Evaluated,
		ExactStrict:             len(s.ExactStrict),
		ExactProvisional:        len(s.ExactProvisional),
		NearMiss:                len(s.NearMiss),
		Rejected:                s.Rejected,
		ContradictionRejects:    s.ContradictionRejects,
		SaturationPrevented:     s.SaturationPrevented,
		RequiredCoverageAverage: avg,
	}
}

// TopMissingElements returns the most frequently missing core elements
// across all evaluated candidates, worst first, capped at n.
func (s *Split) TopMissingElements(n int) []string {
	type mc struct {
		id    string
		count int
	}
	all := make([]mc, 0, len(s.missingCounts))
	for id, count := range s.missingCounts {
		all = append(all, mc{id, count})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].id < all[j].id
	})
	var out []string
	for i := 0; i < len(all) && i < n; i++ {
		out = append(out, all[i].id)
	}
	return out
}

// QualityCount returns how many results count toward the best-effort target:
// all strict plus provisionals at or above the confidence floor.
func (s *Split) QualityCount(floor float64) int {
	n := len(s.ExactStrict)
	for _, c := range s.ExactProvisional {
		if c.ConfidenceScore >= floor {
			n++
		}
	}
	return n
}

// Shortfall reports the quality gaps that justify a reasoner second pass.
type Shortfall struct {
	BelowTarget      bool
	CoreCoverageLow  bool
	HookCoverageLow  bool
	RelationFailure  bool
	PolarityMismatch bool
}

// Any reports whether at least one shortfall condition holds.
func (sf Shortfall) Any() bool {
	return sf.BelowTarget || sf.CoreCoverageLow || sf.HookCoverageLow || sf.RelationFailure || sf.PolarityMismatch
}

// ============================================================================
// GATE
// ============================================================================

// Gate evaluates scored candidates against a checklist and calibrates their
// confidence. The zero value is not usable; construct with NewGate.
type Gate struct {
	cfg config.PropositionConfig
	log *zap.Logger
}

func NewGate(cfg config.PropositionConfig, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{cfg: cfg, log: log}
}

// Evaluate gates every candidate, mutating copies: the input slice is not
// modified. Candidates keep their relative order within each lane.
func (g *Gate) Evaluate(cases []types.ScoredCase, cl *Checklist) Split {
	split := Split{missingCounts: map[string]int{}}

	// Shortfall looks at the best any candidate managed: a floor nobody
	// reached is evidence retrieval missed the proposition, which is what
	// justifies a reasoner second pass.
	bestCore, bestHook := 0.0, 0.0
	relationSeen, polaritySeen := false, false

	for _, c := range cases {
		sig := g.measure(&c, cl)
		split.Evaluated++
		split.requiredCoverageSum += sig.requiredCoverage()
		for _, id := range sig.missingCore {
			split.missingCounts[id]++
		}

		v := g.decide(sig, cl)
		capped := g.calibrate(&c, cl, sig, v)
		if capped {
			split.SaturationPrevented++
		}

		c.Verification = sig.ver
		c.MatchEvidence = sig.evidence
		c.MissingCoreElements = sig.missingCore
		c.MissingMandatorySteps = sig.missingMandatory

		switch v {
		case VerdictStrict:
			c.ExactnessType = types.ExactnessStrict
			c.RetrievalTier = types.TierStrict
			split.ExactStrict = append(split.ExactStrict, c)
		case VerdictProvisional:
			c.ExactnessType = types.ExactnessProvisional
			c.RetrievalTier = types.TierProvisional
			split.ExactProvisional = append(split.ExactProvisional, c)
		case VerdictNearMiss:
			c.RetrievalTier = types.TierExploratory
			split.NearMiss = append(split.NearMiss, c)
		default:
			split.Rejected++
			if sig.contradiction {
				split.ContradictionRejects++
			}
		}

		if cc := sig.coreCoverage(); cc > bestCore {
			bestCore = cc
		}
		if hc := sig.hookCoverage(); hc > bestHook {
			bestHook = hc
		}
		if sig.relationOK {
			relationSeen = true
		}
		if sig.outcomeOK {
			polaritySeen = true
		}
	}

	if split.Evaluated > 0 {
		split.shortfall = Shortfall{
			CoreCoverageLow:  bestCore < 1,
			HookCoverageLow:  bestHook < 1,
			RelationFailure:  !relationSeen,
			PolarityMismatch: !polaritySeen,
		}
	}
	split.shortfall.BelowTarget = split.QualityCount(g.cfg.ProvisionalConfidenceFloor) < g.cfg.BestEffortStopTarget

	g.log.Debug("proposition gate evaluated",
		zap.Int("evaluated", split.Evaluated),
		zap.Int("strict", len(split.ExactStrict)),
		zap.Int("provisional", len(split.ExactProvisional)),
		zap.Int("nearMiss", len(split.NearMiss)),
		zap.Int("rejected", split.Rejected),
		zap.Int("contradictionRejects", split.ContradictionRejects))
	return split
}

// Shortfall returns the quality gaps observed during the last Evaluate.
func (s *Split) Shortfall() Shortfall { return s.shortfall }

// ============================================================================
// SIGNALS
// ============================================================================

// signals holds everything measured for one candidate before the decision
// ladder runs.
type signals struct {
	contradiction bool

	coreSat, coreTot   int
	periSat, periTot   int
	hookSat, hookTot   int
	mandSat, mandTot   int
	chainSat, chainTot int

	relationOK bool
	outcomeOK  bool
	rolesOK    bool
	actorMiss  bool
	procMiss   bool

	matched          int
	evidence         []string
	missingCore      []string
	missingMandatory []string
	ver              types.Verification
}

func cov(sat, tot int) float64 {
	if tot == 0 {
		return 1
	}
	return float64(sat) / float64(tot)
}

func (s *signals) coreCoverage() float64       { return cov(s.coreSat, s.coreTot) }
func (s *signals) peripheralCoverage() float64 { return cov(s.periSat, s.periTot) }
func (s *signals) hookCoverage() float64       { return cov(s.hookSat, s.hookTot) }
func (s *signals) mandatoryCoverage() float64  { return cov(s.mandSat, s.mandTot) }
func (s *signals) chainCoverage() float64      { return cov(s.chainSat, s.chainTot) }

// requiredCoverage counts core axes and peripheral steps together.
func (s *signals) requiredCoverage() float64 {
	return cov(s.coreSat+s.periSat, s.coreTot+s.periTot)
}

// measure computes every gate signal for one candidate. Axis and outcome
// probes run over the combined text; relation, chain, and sentence-level
// flags run over the bounded evidence windows.
func (g *Gate) measure(c *types.ScoredCase, cl *Checklist) *signals {
	text := lexicon.PrepareText(c.CombinedText())
	evid := lexicon.PrepareText(c.EvidenceText())

	sig := &signals{
		relationOK: true,
		outcomeOK:  true,
		rolesOK:    true,
		ver:        c.Verification,
	}

	g.measureAxes(sig, cl, text)
	if g.cfg.HookGroupsEnabled {
		g.measureHookGroups(sig, cl, text, evid)
		g.measureRelations(sig, cl, evid)
		g.measureOutcome(sig, cl, text, evid)
	}
	if g.cfg.GraphEnabled {
		g.measureGraph(sig, cl, text, evid)
	}
	return sig
}

func (g *Gate) measureAxes(sig *signals, cl *Checklist, text lexicon.Text) {
	for _, ax := range cl.Axes {
		if !ax.Required {
			continue
		}
		sig.coreTot++
		term, hit := firstHit(text, ax.Terms, ax.ID == AxisOutcome)
		if hit {
			sig.coreSat++
			sig.matched++
			sig.evidence = append(sig.evidence, fmt.Sprintf("%s:%s", ax.ID, term))
			continue
		}
		sig.missingCore = append(sig.missingCore, string(ax.ID))
		switch ax.ID {
		case AxisActor:
			sig.actorMiss = true
		case AxisProceeding:
			sig.procMiss = true
		}
	}
}

func (g *Gate) measureHookGroups(sig *signals, cl *Checklist, text, evid lexicon.Text) {
	for _, grp := range cl.HookGroups {
		hits := 0
		for _, term := range grp.Terms {
			if text.Contains(term) {
				hits++
			}
		}
		ok := hits >= grp.MinMatch
		if grp.Required {
			sig.hookTot++
			if ok {
				sig.hookSat++
				sig.matched++
				sig.evidence = append(sig.evidence, "hook:"+grp.GroupID)
			} else {
				sig.missingCore = append(sig.missingCore, "hook:"+grp.GroupID)
			}
		} else if ok {
			sig.matched++
		}
	}

	// Intersection sentence: two distinct groups evidenced inside the same
	// window.
	groups := cl.HookGroups
	for i := 0; i < len(groups) && !sig.ver.HasHookIntersectionSentence; i++ {
		for j := i + 1; j < len(groups); j++ {
			if termsNear(evid, groups[i].Terms, groups[j].Terms, relationWindowChars) {
				sig.ver.HasHookIntersectionSentence = true
				break
			}
		}
	}
}

func (g *Gate) measureRelations(sig *signals, cl *Checklist, evid lexicon.Text) {
	for _, rel := range cl.Relations {
		left := cl.GroupByID(rel.Left)
		right := cl.GroupByID(rel.Right)
		ok := left != nil && right != nil && termsNear(evid, left.Terms, right.Terms, relationWindowChars)
		if ok {
			sig.matched++
			sig.ver.HasRelationSentence = true
			sig.evidence = append(sig.evidence, "relation:"+rel.RelationID)
		} else if rel.Required {
			sig.relationOK = false
			sig.missingCore = append(sig.missingCore, "relation:"+rel.RelationID)
		}
	}
}

func (g *Gate) measureOutcome(sig *signals, cl *Checklist, text, evid lexicon.Text) {
	oc := cl.Outcome
	if !oc.Required {
		return
	}
	for _, term := range oc.ContradictionTerms {
		if text.ContainsAffirmed(term) {
			sig.contradiction = true
			sig.evidence = append(sig.evidence, "contradiction:"+term)
			break
		}
	}
	term, hit := firstHit(text, oc.Terms, true)
	if hit && !sig.contradiction {
		sig.matched++
		sig.evidence = append(sig.evidence, "polarity:"+term)
	} else {
		sig.outcomeOK = false
		if !hit {
			sig.missingCore = append(sig.missingCore, "polarity:"+string(oc.Polarity))
		}
	}
	if _, ok := firstHit(evid, oc.Terms, true); ok {
		sig.ver.HasPolaritySentence = true
	}
}

func (g *Gate) measureGraph(sig *signals, cl *Checklist, text, evid lexicon.Text) {
	for _, step := range cl.Graph.MandatorySteps {
		sig.mandTot++
		if _, ok := firstHit(text, step.Terms, false); ok {
			sig.mandSat++
			sig.matched++
			sig.ver.IssuesMatched++
		} else {
			sig.missingMandatory = append(sig.missingMandatory, step.ID)
		}
	}

	for _, step := range cl.Graph.PeripheralSteps {
		sig.periTot++
		if _, ok := firstHit(text, step.Terms, false); ok {
			sig.periSat++
			sig.matched++
			if strings.HasPrefix(step.ID, "anchor_") {
				sig.ver.AnchorsMatched++
			} else {
				sig.ver.ProceduresMatched++
			}
		}
	}

	for _, rc := range cl.Graph.RoleConstraints {
		ok := termsNear(text, []string{rc.Role}, rc.ActorTerms, relationWindowChars)
		if ok {
			sig.matched++
			if termsNear(evid, []string{rc.Role}, rc.ActorTerms, relationWindowChars) {
				sig.ver.HasRoleSentence = true
			}
		} else {
			sig.rolesOK = false
			sig.missingCore = append(sig.missingCore, "role:"+rc.Role)
		}
	}

	for _, ch := range cl.Graph.ChainConstraints {
		sig.chainTot++
		if termsNear(evid, ch.LeftTerms, ch.RightTerms, ch.WindowChars) {
			sig.chainSat++
			sig.matched++
			sig.ver.HasChainSentence = true
			sig.evidence = append(sig.evidence, "chain:"+ch.ID)
		}
	}
}

// firstHit returns the first term found in text. Affirmed probes skip
// negated occurrences, so a refusal never satisfies a grant.
func firstHit(text lexicon.Text, terms []string, affirmed bool) (string, bool) {
	for _, term := range terms {
		if affirmed {
			if text.ContainsAffirmed(term) {
				return term, true
			}
		} else if text.Contains(term) {
			return term, true
		}
	}
	return "", false
}

// termsNear reports whether any left-term occurrence sits within window
// normalised characters of any right-term occurrence.
func termsNear(text lexicon.Text, left, right []string, window int) bool {
	var leftPos []int
	for _, term := range left {
		leftPos = append(leftPos, text.Positions(term)...)
	}
	if len(leftPos) == 0 {
		return false
	}
	for _, term := range right {
		for _, rp := range text.Positions(term) {
			for _, lp := range leftPos {
				if abs(lp-rp) <= window {
					return true
				}
			}
		}
	}
	return false
}

// ============================================================================
// DECISION LADDER
// ============================================================================

// decide runs the ordered ladder. Each lane's conditions are a strict
// superset of the next, so relaxing a rule can promote but never demote.
func (g *Gate) decide(sig *signals, cl *Checklist) Verdict {
	chainOK := sig.chainTot == 0 || sig.chainCoverage() >= g.cfg.ChainMinCoverage

	strict := sig.ver.DetailChecked &&
		!sig.contradiction &&
		sig.coreCoverage() == 1 &&
		sig.mandatoryCoverage() == 1 &&
		sig.hookCoverage() == 1 &&
		sig.relationOK &&
		sig.outcomeOK &&
		chainOK &&
		sig.rolesOK &&
		sig.peripheralCoverage() >= 0.6
	if strict {
		if !g.cfg.StrictSplitEnabled {
			return VerdictProvisional
		}
		return VerdictStrict
	}

	mandFloor := 0.75
	if sig.ver.DetailChecked {
		mandFloor = 1
	}
	provisional := !sig.contradiction &&
		sig.coreCoverage() == 1 &&
		sig.hookCoverage() == 1 &&
		sig.relationOK &&
		sig.outcomeOK &&
		sig.mandatoryCoverage() >= mandFloor
	if provisional {
		return VerdictProvisional
	}

	if nearMissEligible(cl) &&
		!sig.contradiction &&
		sig.coreCoverage() >= 0.65 &&
		sig.requiredCoverage() >= requiredThreshold(sig.coreTot+sig.periTot) &&
		sig.matched >= 1 {
		return VerdictNearMiss
	}
	return VerdictReject
}

// nearMissEligible requires the checklist to actually assert a doctrine: at
// least one required hook group, a relation, or a required outcome.
func nearMissEligible(cl *Checklist) bool {
	if len(cl.Relations) > 0 || cl.Outcome.Required {
		return true
	}
	for _, grp := range cl.HookGroups {
		if grp.Required {
			return true
		}
	}
	if ax := cl.Axis(AxisLegalHook); ax != nil && ax.Required {
		return true
	}
	return false
}

// requiredThreshold is the near-miss floor by component count.
func requiredThreshold(total int) float64 {
	switch {
	case total <= 1:
		return 1
	case total == 2:
		return 0.5
	case total == 3:
		return 2.0 / 3.0
	default:
		return 0.75
	}
}
