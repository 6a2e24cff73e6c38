package proposition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"precedent/internal/lexicon"
	"precedent/internal/types"
)

// sanctionChecklist is a hand-built two-group proposition with every layer
// populated, used to drive the ladder precisely.
func sanctionChecklist() *Checklist {
	return &Checklist{
		Axes: []Axis{
			{ID: AxisActor, Required: true, Terms: []string{"public servant"}},
			{ID: AxisProceeding, Required: true, Terms: []string{"criminal appeal"}},
			{ID: AxisLegalHook, Required: true, Terms: []string{"section 197 crpc", "prevention of corruption act"}},
			{ID: AxisOutcome, Required: true, Terms: []string{"is required", "condition precedent"}},
		},
		HookGroups: []HookGroup{
			{GroupID: "sec_197_crpc", Terms: []string{"section 197 crpc", "sanction to prosecute"}, MinMatch: 1, Required: true},
			{GroupID: "pc_act", Terms: []string{"prevention of corruption act", "pc act"}, MinMatch: 1, Required: true},
		},
		Relations: []Relation{
			{RelationID: "rel_1", Type: types.RelationInteractsWith, Left: "sec_197_crpc", Right: "pc_act", Required: true},
		},
		InteractionRequired: true,
		Outcome: OutcomeConstraint{
			Polarity:           types.PolarityRequired,
			Required:           true,
			Terms:              []string{"is required", "condition precedent"},
			ContradictionTerms: []string{"not required", "no sanction"},
		},
		Graph: Graph{
			MandatorySteps:  []Step{{ID: "sanction_for_prosecution", Terms: []string{"prior sanction", "sanction for prosecution"}}},
			PeripheralSteps: []Step{{ID: "appeal", Terms: []string{"appeal"}}},
			RoleConstraints: []RoleConstraint{{Role: "appellant", ActorTerms: []string{"public servant"}}},
			ChainConstraints: []ChainConstraint{{
				ID:          "chain_sanction_required",
				LeftTerms:   []string{"prior sanction"},
				RightTerms:  []string{"is required", "condition precedent"},
				WindowChars: 220,
			}},
		},
	}
}

// fullCandidate satisfies every layer of sanctionChecklist.
func fullCandidate(detailChecked bool) types.ScoredCase {
	c := types.ScoredCase{
		CaseCandidate: types.CaseCandidate{
			URL:     "https://indiankanoon.org/doc/1001/",
			Title:   "State vs Public Servant Appellant",
			Snippet: "criminal appeal by the appellant public servant regarding prior sanction",
			DetailArtifact: &types.DetailArtifact{
				BodyExcerpt: []string{
					"in this criminal appeal the appellant public servant contended that prior sanction for prosecution had not been obtained",
					"sanction under section 197 crpc read with the prevention of corruption act is required as a condition precedent before cognizance",
				},
				EvidenceWindows: []string{
					"prior sanction under section 197 crpc read with the prevention of corruption act is required before cognizance",
					"the appellant public servant raised the plea of sanction for prosecution",
				},
			},
		},
		RankingScore: 0.9,
	}
	c.Verification.DetailChecked = detailChecked
	return c
}

func TestGate_ExactStrict(t *testing.T) {
	gate := NewGate(defaultPropCfg(), nil)
	cl := sanctionChecklist()

	split := gate.Evaluate([]types.ScoredCase{fullCandidate(true)}, cl)

	require.Len(t, split.ExactStrict, 1)
	got := split.ExactStrict[0]
	assert.Equal(t, types.ExactnessStrict, got.ExactnessType)
	assert.Equal(t, types.TierStrict, got.RetrievalTier)
	assert.True(t, got.Verification.HasRelationSentence)
	assert.True(t, got.Verification.HasPolaritySentence)
	assert.True(t, got.Verification.HasHookIntersectionSentence)
	assert.True(t, got.Verification.HasRoleSentence)
	assert.True(t, got.Verification.HasChainSentence)
	assert.InDelta(t, 0.95, got.ConfidenceScore, 1e-9, "strict cap applies to a saturated raw score")
	assert.Equal(t, types.BandVeryHigh, got.ConfidenceBand)
	assert.Equal(t, 1, split.SaturationPrevented)
}

func TestGate_NoDetailDemotesToProvisional(t *testing.T) {
	gate := NewGate(defaultPropCfg(), nil)
	cl := sanctionChecklist()

	split := gate.Evaluate([]types.ScoredCase{fullCandidate(false)}, cl)

	require.Len(t, split.ExactProvisional, 1, "losing only the detail check demotes exactly one lane")
	got := split.ExactProvisional[0]
	assert.Equal(t, types.ExactnessProvisional, got.ExactnessType)
	assert.LessOrEqual(t, got.ConfidenceScore, 0.55, "no-detail cap")
}

func TestGate_StrictCappedWhenSentenceMissing(t *testing.T) {
	gate := NewGate(defaultPropCfg(), nil)
	cl := sanctionChecklist()
	// Without relations the ladder can reach strict while the two-group
	// intersection sentence is still applicable and absent.
	cl.Relations = nil
	cl.InteractionRequired = false

	c := fullCandidate(true)
	c.DetailArtifact.EvidenceWindows = []string{
		"sanction under section 197 crpc is required as a condition precedent",
		"the appellant public servant had applied, prior sanction is required",
	}
	// Combined text still covers the corruption act group.
	c.DetailText = "the charge under the prevention of corruption act was framed separately much later in the narration " +
		"and nowhere near the discussion of the crpc provision"

	split := gate.Evaluate([]types.ScoredCase{c}, cl)

	require.Len(t, split.ExactStrict, 1)
	got := split.ExactStrict[0]
	assert.False(t, got.Verification.HasHookIntersectionSentence)
	assert.LessOrEqual(t, got.ConfidenceScore, 0.70, "missing structural sentence holds strict at the provisional ceiling")
}

func TestGate_ContradictionRejects(t *testing.T) {
	gate := NewGate(defaultPropCfg(), nil)
	cl := sanctionChecklist()

	c := fullCandidate(true)
	c.DetailText = "held that sanction not required where the act has no nexus with official duty"

	split := gate.Evaluate([]types.ScoredCase{c}, cl)

	assert.Empty(t, split.ExactStrict)
	assert.Empty(t, split.ExactProvisional)
	assert.Empty(t, split.NearMiss)
	assert.Equal(t, 1, split.Rejected)
	assert.Equal(t, 1, split.ContradictionRejects)
}

func TestGate_ContradictionOnlyDetailRejects(t *testing.T) {
	gate := NewGate(defaultPropCfg(), nil)
	cl := sanctionChecklist()

	c := types.ScoredCase{
		CaseCandidate: types.CaseCandidate{
			URL:        "https://indiankanoon.org/doc/1002/",
			Title:      "State vs Accused",
			DetailText: "sanction not required",
		},
		RankingScore: 0.95,
	}
	c.Verification.DetailChecked = true

	split := gate.Evaluate([]types.ScoredCase{c}, cl)
	assert.Equal(t, 1, split.Rejected)
	assert.Equal(t, 1, split.ContradictionRejects)
}

func TestGate_NegationGuard(t *testing.T) {
	gate := NewGate(defaultPropCfg(), nil)

	cl := &Checklist{
		Axes: []Axis{
			{ID: AxisOutcome, Required: true, Terms: []string{"condoned"}},
		},
		Outcome: OutcomeConstraint{
			Polarity:           types.PolarityAllowed,
			Required:           true,
			Terms:              []string{"condoned"},
			ContradictionTerms: []string{"not condoned", "refused"},
		},
	}

	c := types.ScoredCase{
		CaseCandidate: types.CaseCandidate{
			URL:     "https://indiankanoon.org/doc/1003/",
			Title:   "Delay matter",
			Snippet: "the delay was not condoned and the appeal was refused",
		},
		RankingScore: 0.9,
	}
	c.Verification.DetailChecked = true

	split := gate.Evaluate([]types.ScoredCase{c}, cl)
	assert.Equal(t, 1, split.Rejected, "negated cue must not satisfy the grant")
	assert.Equal(t, 1, split.ContradictionRejects)
}

func TestGate_ProvisionalMandatoryFloor(t *testing.T) {
	cl := &Checklist{
		Axes: []Axis{
			{ID: AxisLegalHook, Required: true, Terms: []string{"section 5 limitation act"}},
		},
		HookGroups: []HookGroup{
			{GroupID: "sec_5_limitation_act", Terms: []string{"section 5 limitation act"}, MinMatch: 1, Required: true},
		},
		Graph: Graph{
			MandatorySteps: []Step{
				{ID: "s1", Terms: []string{"condonation of delay"}},
				{ID: "s2", Terms: []string{"sufficient cause"}},
				{ID: "s3", Terms: []string{"time barred"}},
				{ID: "s4", Terms: []string{"laches"}},
			},
		},
	}

	// Three of four mandatory steps present.
	c := types.ScoredCase{
		CaseCandidate: types.CaseCandidate{
			URL:     "https://indiankanoon.org/doc/1004/",
			Title:   "Condonation appeal",
			Snippet: "condonation of delay under section 5 limitation act requires sufficient cause, appeal was time barred",
		},
		RankingScore: 0.7,
	}

	gate := NewGate(defaultPropCfg(), nil)

	split := gate.Evaluate([]types.ScoredCase{c}, cl)
	require.Len(t, split.ExactProvisional, 1, "0.75 mandatory coverage passes without detail check")
	assert.LessOrEqual(t, split.ExactProvisional[0].ConfidenceScore, 0.55)

	c.Verification.DetailChecked = true
	split = gate.Evaluate([]types.ScoredCase{c}, cl)
	assert.Empty(t, split.ExactProvisional, "detail check raises the mandatory floor to 1")
	require.Len(t, split.NearMiss, 1)
	assert.LessOrEqual(t, split.NearMiss[0].ConfidenceScore, 0.45)
}

func TestGate_NearMissPartialHooks(t *testing.T) {
	cl := &Checklist{
		Axes: []Axis{
			{ID: AxisLegalHook, Required: true, Terms: []string{"section 197 crpc", "prevention of corruption act"}},
			{ID: AxisOutcome, Required: true, Terms: []string{"is required"}},
		},
		HookGroups: []HookGroup{
			{GroupID: "sec_197_crpc", Terms: []string{"section 197 crpc"}, MinMatch: 1, Required: true},
			{GroupID: "pc_act", Terms: []string{"prevention of corruption act"}, MinMatch: 1, Required: true},
		},
		Outcome: OutcomeConstraint{
			Polarity: types.PolarityRequired,
			Required: true,
			Terms:    []string{"is required"},
		},
	}

	c := types.ScoredCase{
		CaseCandidate: types.CaseCandidate{
			URL:     "https://indiankanoon.org/doc/1005/",
			Title:   "Sanction matter",
			Snippet: "sanction under section 197 crpc is required before cognizance",
		},
		RankingScore: 0.8,
	}

	gate := NewGate(defaultPropCfg(), nil)
	split := gate.Evaluate([]types.ScoredCase{c}, cl)

	assert.Empty(t, split.ExactProvisional, "half the required hook groups is not exact")
	require.Len(t, split.NearMiss, 1)
	got := split.NearMiss[0]
	assert.Equal(t, types.TierExploratory, got.RetrievalTier)
	assert.LessOrEqual(t, got.ConfidenceScore, 0.45, "exploratory cap")
	assert.Contains(t, got.MissingCoreElements, "hook:pc_act")
	assert.Equal(t, types.BandMedium, got.ConfidenceBand)
}

func TestGate_RejectWhenNothingMatches(t *testing.T) {
	gate := NewGate(defaultPropCfg(), nil)
	cl := sanctionChecklist()

	c := types.ScoredCase{
		CaseCandidate: types.CaseCandidate{
			URL:     "https://indiankanoon.org/doc/1006/",
			Title:   "Landlord tenant eviction",
			Snippet: "eviction decree under the rent control act upheld",
		},
		RankingScore: 0.3,
	}

	split := gate.Evaluate([]types.ScoredCase{c}, cl)
	assert.Equal(t, 1, split.Rejected)
	assert.Zero(t, split.ContradictionRejects)
}

func TestGate_StrictSplitDisabled(t *testing.T) {
	cfg := defaultPropCfg()
	cfg.StrictSplitEnabled = false
	gate := NewGate(cfg, nil)

	split := gate.Evaluate([]types.ScoredCase{fullCandidate(true)}, sanctionChecklist())
	assert.Empty(t, split.ExactStrict)
	require.Len(t, split.ExactProvisional, 1)
	assert.LessOrEqual(t, split.ExactProvisional[0].ConfidenceScore, 0.70)
}

func TestGate_HookGroupsDisabled(t *testing.T) {
	cfg := defaultPropCfg()
	cfg.HookGroupsEnabled = false
	gate := NewGate(cfg, nil)
	cl := sanctionChecklist()

	// Contradicting detail text: with the polarity layer off it no longer
	// rejects, and the axes alone decide.
	c := fullCandidate(true)
	c.DetailText = "held that sanction not required"

	split := gate.Evaluate([]types.ScoredCase{c}, cl)
	assert.Zero(t, split.ContradictionRejects)
	assert.Zero(t, split.Rejected)
	assert.Equal(t, 1, len(split.ExactStrict)+len(split.ExactProvisional))
}

func TestGate_ShortfallSignals(t *testing.T) {
	gate := NewGate(defaultPropCfg(), nil)
	cl := sanctionChecklist()

	// One candidate misses the corruption-act group and the relation.
	c := types.ScoredCase{
		CaseCandidate: types.CaseCandidate{
			URL:     "https://indiankanoon.org/doc/1007/",
			Title:   "Public servant appeal",
			Snippet: "criminal appeal of a public servant, prior sanction under section 197 crpc is required",
		},
		RankingScore: 0.6,
	}

	split := gate.Evaluate([]types.ScoredCase{c}, cl)
	sf := split.Shortfall()
	assert.True(t, sf.BelowTarget)
	assert.True(t, sf.HookCoverageLow)
	assert.True(t, sf.RelationFailure)
	assert.True(t, sf.Any())
}

func TestGate_TraceAndTopMissing(t *testing.T) {
	gate := NewGate(defaultPropCfg(), nil)
	cl := sanctionChecklist()

	miss := types.ScoredCase{
		CaseCandidate: types.CaseCandidate{
			URL:     "https://indiankanoon.org/doc/1008/",
			Title:   "Unrelated civil suit",
			Snippet: "specific performance of an agreement to sell",
		},
	}

	split := gate.Evaluate([]types.ScoredCase{miss, miss}, cl)
	tr := split.Trace()
	assert.Equal(t, 2, tr.Evaluated)
	assert.Equal(t, 2, tr.Rejected)
	assert.GreaterOrEqual(t, tr.RequiredCoverageAverage, 0.0)

	top := split.TopMissingElements(3)
	require.NotEmpty(t, top)
	assert.Len(t, top, 3)
}

func TestGate_QualityCount(t *testing.T) {
	s := Split{
		ExactStrict: []types.ScoredCase{{}},
		ExactProvisional: []types.ScoredCase{
			{ConfidenceScore: 0.60},
			{ConfidenceScore: 0.40},
		},
	}
	assert.Equal(t, 2, s.QualityCount(0.55))
	assert.Equal(t, 3, s.QualityCount(0.30))
}

func TestLexiconTextProbes(t *testing.T) {
	text := lexicon.PrepareText("The delay was NOT condoned; appeal dismissed as time-barred.")

	assert.True(t, text.Contains("condoned"))
	assert.False(t, text.ContainsAffirmed("condoned"), "negated occurrence is guarded")
	assert.True(t, text.ContainsAffirmed("dismissed"))
	assert.True(t, text.Contains("time barred"), "normalisation folds the hyphen")
	assert.False(t, text.Contains("condone"), "word boundary holds")
	assert.NotEmpty(t, text.Positions("appeal"))
	assert.False(t, text.Empty())
}
