package reasoner

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"precedent/internal/intent"
	"precedent/internal/lexicon"
	"precedent/internal/types"
)

func testProfile(t *testing.T, raw string) *intent.Profile {
	t.Helper()
	p := intent.Build(context.Background(), lexicon.Default(), raw, intent.Options{})
	return &p
}

func TestParsePlan_ToleratesMarkdownFence(t *testing.T) {
	raw := "Here is the plan:\n```json\n" +
		`{"proposition":{"actors":["public servant"]},"query_variants_broad":["sanction prosecution public servant"]}` +
		"\n```\nLet me know if you need anything else."

	plan, warnings, err := ParsePlan(raw)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, []string{"public servant"}, plan.Proposition.Actors)
	assert.Equal(t, []string{"sanction prosecution public servant"}, plan.BroadVariants)
}

func TestParsePlan_ReportsUnknownFields(t *testing.T) {
	raw := `{"proposition":{"actors":["accused"],"reasoning":"trust me"},"confidence":0.9}`

	plan, warnings, err := ParsePlan(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"accused"}, plan.Proposition.Actors)
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], `"confidence"`)
	assert.Contains(t, warnings[1], `"proposition.reasoning"`)
}

func TestParsePlan_NoJSON(t *testing.T) {
	_, _, err := ParsePlan("I could not produce a plan for this query.")
	require.ErrorIs(t, err, ErrNoJSON)
}

func TestValidate_DropsUnresolvableGroupsAndBrokenRelations(t *testing.T) {
	profile := testProfile(t, "quashing of fir under section 482 crpc where allegations are civil in nature")
	plan := &Plan{
		Proposition: Proposition{
			HookGroups: []HookGroup{
				{GroupID: "sec_482_crpc", Required: true},
				{GroupID: "sec_77_zzz"},
			},
			Relations: []Relation{
				{Type: types.RelationRequires, LeftGroupID: "sec_482_crpc", RightGroupID: "sec_77_zzz"},
				{Type: "overrides", LeftGroupID: "sec_482_crpc", RightGroupID: "sec_482_crpc"},
			},
		},
	}

	warnings := Validate(lexicon.Default(), profile, plan)

	require.Len(t, plan.Proposition.HookGroups, 1)
	assert.Equal(t, "sec_482_crpc", plan.Proposition.HookGroups[0].GroupID)
	assert.Empty(t, plan.Proposition.Relations)
	assert.NotEmpty(t, warnings)
}

func TestValidate_FillsGroupTermsAndClampsMinMatch(t *testing.T) {
	profile := testProfile(t, "condonation of delay under section 5 limitation act refused")
	plan := &Plan{
		Proposition: Proposition{
			HookGroups: []HookGroup{{GroupID: "sec_5_limitation_act", MinMatch: 9, Required: true}},
		},
	}

	Validate(lexicon.Default(), profile, plan)

	g := plan.Proposition.HookGroups[0]
	require.NotEmpty(t, g.Terms)
	assert.LessOrEqual(t, g.MinMatch, len(g.Terms))
	assert.GreaterOrEqual(t, g.MinMatch, 1)

	joined := strings.Join(g.Terms, " | ")
	assert.Contains(t, joined, "limitation")
	assert.Contains(t, joined, "condonation of delay")
}

func TestValidate_RelationBetweenSurvivingGroupsKept(t *testing.T) {
	profile := testProfile(t, "sanction for prosecution of public servant under section 197 crpc and section 19 pc act")
	plan := &Plan{
		Proposition: Proposition{
			HookGroups: []HookGroup{
				{GroupID: "sec_197_crpc", Required: true},
				{GroupID: "sec_19_pc_act", Required: true},
			},
			Relations: []Relation{
				{Type: types.RelationInteractsWith, LeftGroupID: "SEC_197_CRPC", RightGroupID: "sec_19_pc_act", Required: true},
			},
			InteractionRequired: true,
		},
	}

	warnings := Validate(lexicon.Default(), profile, plan)

	require.Len(t, plan.Proposition.Relations, 1)
	assert.Equal(t, "sec_197_crpc", plan.Proposition.Relations[0].LeftGroupID)
	assert.True(t, plan.Proposition.InteractionRequired)
	assert.Empty(t, warnings)
}

func TestValidate_InteractionNeedsTwoRequiredGroups(t *testing.T) {
	profile := testProfile(t, "quashing of fir under section 482 crpc")
	plan := &Plan{
		Proposition: Proposition{
			HookGroups:          []HookGroup{{GroupID: "sec_482_crpc", Required: true}},
			InteractionRequired: true,
		},
	}

	warnings := Validate(lexicon.Default(), profile, plan)

	assert.False(t, plan.Proposition.InteractionRequired)
	assert.NotEmpty(t, warnings)
}

func TestValidate_GroundsMustHaveTerms(t *testing.T) {
	profile := testProfile(t, "appeal dismissed as time barred after condonation of delay was refused")
	plan := &Plan{
		MustHaveTerms: []string{"Condonation of Delay", "dying declaration"},
	}

	warnings := Validate(lexicon.Default(), profile, plan)

	assert.Equal(t, []string{"condonation of delay"}, plan.MustHaveTerms)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "dying declaration")
}

func TestValidate_VariantRules(t *testing.T) {
	profile := testProfile(t, "anticipatory bail under section 438 crpc in dowry case")

	t.Run("short strict variant dropped", func(t *testing.T) {
		plan := &Plan{StrictVariants: []string{"bail granted"}}
		Validate(lexicon.Default(), profile, plan)
		assert.Empty(t, plan.StrictVariants)
	})

	t.Run("no legal signal dropped", func(t *testing.T) {
		plan := &Plan{BroadVariants: []string{"happy summer holiday story"}}
		Validate(lexicon.Default(), profile, plan)
		assert.Empty(t, plan.BroadVariants)
	})

	t.Run("long variant truncated", func(t *testing.T) {
		long := "anticipatory bail section 438 crpc dowry harassment cruelty matrimonial dispute arrest apprehension custodial interrogation not required surrender condition"
		plan := &Plan{BroadVariants: []string{long}}
		Validate(lexicon.Default(), profile, plan)
		require.Len(t, plan.BroadVariants, 1)
		assert.LessOrEqual(t, len(strings.Fields(plan.BroadVariants[0])), maxVariantTokens)
	})

	t.Run("duplicates collapsed", func(t *testing.T) {
		plan := &Plan{BroadVariants: []string{"anticipatory bail 438 crpc", "Anticipatory Bail 438 CrPC"}}
		Validate(lexicon.Default(), profile, plan)
		assert.Len(t, plan.BroadVariants, 1)
	})
}

func TestValidate_OutcomeConstraint(t *testing.T) {
	profile := testProfile(t, "condonation of delay refused")

	t.Run("bad polarity and modality cleared", func(t *testing.T) {
		plan := &Plan{
			Proposition: Proposition{
				OutcomeConstraint: &OutcomeConstraint{
					Polarity: "sideways",
					Modality: "emphatic",
					Terms:    []string{"delay not condoned"},
				},
			},
		}
		warnings := Validate(lexicon.Default(), profile, plan)
		require.NotNil(t, plan.Proposition.OutcomeConstraint)
		assert.Empty(t, plan.Proposition.OutcomeConstraint.Polarity)
		assert.Empty(t, plan.Proposition.OutcomeConstraint.Modality)
		assert.Len(t, warnings, 2)
	})

	t.Run("hollow constraint removed", func(t *testing.T) {
		plan := &Plan{
			Proposition: Proposition{
				OutcomeConstraint: &OutcomeConstraint{Polarity: "diagonal"},
			},
		}
		Validate(lexicon.Default(), profile, plan)
		assert.Nil(t, plan.Proposition.OutcomeConstraint)
	})
}

func TestValidate_JurisdictionHint(t *testing.T) {
	profile := testProfile(t, "condonation of delay refused")

	plan := &Plan{Proposition: Proposition{JurisdictionHint: "Supreme Court"}}
	Validate(lexicon.Default(), profile, plan)
	assert.Equal(t, "SC", plan.Proposition.JurisdictionHint)

	plan = &Plan{Proposition: Proposition{JurisdictionHint: "tribunal"}}
	warnings := Validate(lexicon.Default(), profile, plan)
	assert.Empty(t, plan.Proposition.JurisdictionHint)
	assert.NotEmpty(t, warnings)
}

func TestUsable(t *testing.T) {
	rich := testProfile(t, "quashing of fir under section 482 crpc")
	sparse := testProfile(t, "neighbour dispute about a shared wall")

	var nilPlan *Plan
	assert.False(t, nilPlan.Usable(rich))

	assert.False(t, (&Plan{}).Usable(rich))
	assert.False(t, (&Plan{}).Usable(sparse))

	actorsOnly := &Plan{Proposition: Proposition{Actors: []string{"accused"}}}
	assert.False(t, actorsOnly.Usable(rich), "rich intent needs groups or variants")
	assert.True(t, actorsOnly.Usable(sparse), "sparse intent may yield a thin plan")

	withGroups := &Plan{Proposition: Proposition{HookGroups: []HookGroup{{GroupID: "sec_482_crpc"}}}}
	assert.True(t, withGroups.Usable(rich))

	withVariants := &Plan{BroadVariants: []string{"quashing fir inherent powers"}}
	assert.True(t, withVariants.Usable(rich))
}

func TestRequiredGroups(t *testing.T) {
	plan := &Plan{
		Proposition: Proposition{
			HookGroups: []HookGroup{
				{GroupID: "sec_197_crpc", Required: true},
				{GroupID: "ipc"},
				{GroupID: "sec_19_pc_act", Required: true},
			},
		},
	}
	got := plan.RequiredGroups()
	require.Len(t, got, 2)
	assert.Equal(t, "sec_197_crpc", got[0].GroupID)
	assert.Equal(t, "sec_19_pc_act", got[1].GroupID)
}

func TestFingerprint_StableAndSensitive(t *testing.T) {
	a := testProfile(t, "sanction for prosecution of public servant under section 197 crpc")
	b := testProfile(t, "sanction for prosecution of public servant under section 197 crpc")
	c := testProfile(t, "sanction not required for prosecution under section 197 crpc")

	require.Equal(t, Fingerprint(a), Fingerprint(b))
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c))
	assert.Len(t, Fingerprint(a), 24)
}

func TestPass2Seed(t *testing.T) {
	assert.Equal(t, "cold", Pass2Seed(nil))

	a := []types.Attempt{{Phase: types.PhasePrimary, Status: "ok", ParsedCount: 4}}
	b := []types.Attempt{{Phase: types.PhasePrimary, Status: "timeout", ParsedCount: 0}}
	assert.Len(t, Pass2Seed(a), 12)
	assert.NotEqual(t, Pass2Seed(a), Pass2Seed(b))
}

func TestBuildPrompts(t *testing.T) {
	profile := testProfile(t, "sanction for prosecution of public servant under section 197 crpc supreme court")

	p1 := BuildPass1Prompt(profile)
	assert.Contains(t, p1, "QUERY:")
	assert.Contains(t, p1, "sec_197_crpc")
	assert.Contains(t, p1, "exactly one JSON object")
	assert.Contains(t, p1, `"hook_groups"`)

	base := &Plan{
		Proposition:    Proposition{HookGroups: []HookGroup{{GroupID: "sec_197_crpc", Terms: []string{"section 197 crpc"}, Required: true}}},
		StrictVariants: []string{"sanction prosecution public servant section 197"},
	}
	snippets := []Snippet{{Title: "State v. Accused", Excerpt: "sanction was held necessary", Court: "SC"}}
	attempts := []types.Attempt{{Phase: types.PhasePrimary, Phrase: "sanction prosecution 197", Status: "ok", ParsedCount: 2}}

	p2 := BuildPass2Prompt(profile, base, snippets, attempts)
	assert.Contains(t, p2, "CURRENT PLAN")
	assert.Contains(t, p2, "State v. Accused")
	assert.Contains(t, p2, "FIRST ROUND: 1 candidate judgments")
	assert.Contains(t, p2, `[primary] "sanction prosecution 197"`)
}
