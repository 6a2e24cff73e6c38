package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"precedent/internal/intent"
	"precedent/internal/lexicon"
	"precedent/internal/proposition"
	"precedent/internal/types"
)

func delayChecklist() *proposition.Checklist {
	return &proposition.Checklist{
		Axes: []proposition.Axis{
			{ID: proposition.AxisActor, Required: true, Terms: []string{"appellant", "state"}},
			{ID: proposition.AxisLegalHook, Required: true, Terms: []string{"section 5", "limitation act"}},
			{ID: proposition.AxisOutcome, Required: true, Terms: []string{"refused", "dismissed"}},
		},
		HookGroups: []proposition.HookGroup{
			{
				GroupID:  "sec_5_limitation",
				Terms:    []string{"section 5 limitation act", "condonation of delay", "sufficient cause"},
				MinMatch: 1,
				Required: true,
			},
		},
		Outcome: proposition.OutcomeConstraint{
			Polarity:           types.PolarityRefused,
			Required:           true,
			Terms:              []string{"condonation refused", "delay not condoned"},
			ContradictionTerms: []string{"delay was condoned", "delay condoned"},
		},
	}
}

func matchingCandidate() types.CaseCandidate {
	return types.CaseCandidate{
		URL:       "https://indiankanoon.org/doc/100/",
		Title:     "Ramlal vs Rewa Coalfields Ltd on 1 May, 1961",
		Court:     types.CourtSupreme,
		CourtText: "Supreme Court of India",
		Date:      "1 May, 1961",
		Snippet: "The appellant filed an application for condonation of delay under " +
			"section 5 of the Limitation Act but failed to show sufficient cause. " +
			"Condonation refused and the appeal was dismissed as time barred.",
	}
}

func unrelatedCandidate() types.CaseCandidate {
	return types.CaseCandidate{
		URL:     "https://indiankanoon.org/doc/200/",
		Title:   "Acme Infra vs Zenith Builders on 2 March, 2010",
		Court:   types.CourtHigh,
		Date:    "2 March, 2010",
		Snippet: "Dispute over the arbitration award in a construction contract.",
	}
}

func TestBuildProfile(t *testing.T) {
	lx := lexicon.Default()
	variants := []types.QueryVariant{
		{
			Phrase:            "appellant condonation of delay refused",
			Strictness:        types.StrictnessStrict,
			Tokens:            []string{"appellant", "condonation", "delay", "refused"},
			MustIncludeTokens: []string{"Section 5 Limitation Act", "condonation of delay"},
			MustExcludeTokens: []string{"delay condoned"},
		},
		{
			Phrase:     "condonation of delay",
			Strictness: types.StrictnessRelaxed,
			Tokens:     []string{"condonation", "delay"},
			// Duplicate must-terms across variants fold together.
			MustIncludeTokens: []string{"condonation of delay"},
		},
	}
	cl := delayChecklist()

	lp := BuildProfile(lx, cl, variants)

	assert.Equal(t, []string{"section 5 limitation act", "condonation of delay"}, lp.MustPhrases)
	assert.Contains(t, lp.StrictTokens, "appellant")
	assert.Contains(t, lp.StrictTokens, "condonation")
	assert.NotContains(t, lp.StrictTokens, "delay", "non-signal tokens are filtered")
	assert.NotEmpty(t, lp.ChecklistTokens)
	assert.Contains(t, lp.Contradictions, "delay condoned")
	assert.Contains(t, lp.Contradictions, "delay was condoned")
	assert.False(t, lp.Empty())

	assert.True(t, BuildProfile(lx, nil, nil).Empty())
}

func TestScoreAll_OrdersByRelevance(t *testing.T) {
	lx := lexicon.Default()
	cl := delayChecklist()
	ip := &intent.Profile{Issues: []string{"condonation_of_delay"}}
	lp := BuildProfile(lx, cl, []types.QueryVariant{{
		Strictness:        types.StrictnessStrict,
		Tokens:            []string{"condonation", "appellant"},
		MustIncludeTokens: []string{"condonation of delay"},
	}})
	s := NewScorer(lx, Weights{}, nil)

	out := s.ScoreAll(ip, cl, lp, []types.CaseCandidate{unrelatedCandidate(), matchingCandidate()})

	require.Len(t, out, 2)
	assert.Equal(t, "https://indiankanoon.org/doc/100/", out[0].URL, "the on-point judgment ranks first")
	assert.Greater(t, out[0].RankingScore, out[1].RankingScore)
	for _, c := range out {
		assert.GreaterOrEqual(t, c.RankingScore, 0.0)
		assert.LessOrEqual(t, c.RankingScore, 1.0)
		assert.Equal(t, c.Score, c.RankingScore)
	}
	assert.Contains(t, out[0].Reasons, "hook_groups:1/1")
	assert.Contains(t, out[0].Reasons, "outcome_matched")
	assert.Contains(t, out[0].Reasons, "axes:3/3")
	assert.Contains(t, out[1].Reasons, "outcome_missing")
}

func TestScore_ContradictionPenalty(t *testing.T) {
	lx := lexicon.Default()
	cl := delayChecklist()
	lp := BuildProfile(lx, cl, nil)
	s := NewScorer(lx, Weights{}, nil)

	clean := matchingCandidate()
	tainted := matchingCandidate()
	tainted.Snippet = "The application was allowed and the delay was condoned on payment of costs."

	cleanScore, cleanReasons := s.score(nil, cl, lp, &clean)
	taintedScore, taintedReasons := s.score(nil, cl, lp, &tainted)

	assert.Greater(t, cleanScore, taintedScore)
	assert.Contains(t, taintedReasons, "contradiction_present:delay was condoned")
	for _, r := range cleanReasons {
		assert.NotContains(t, r, "contradiction_present")
	}
}

func TestScoreAll_TieKeepsFirstSeenOrder(t *testing.T) {
	lx := lexicon.Default()
	s := NewScorer(lx, Weights{}, nil)

	a := matchingCandidate()
	b := matchingCandidate()
	b.URL = "https://indiankanoon.org/doc/101/"

	out := s.ScoreAll(nil, delayChecklist(), Profile{}, []types.CaseCandidate{a, b})
	require.Len(t, out, 2)
	assert.Equal(t, out[0].RankingScore, out[1].RankingScore)
	assert.Equal(t, a.URL, out[0].URL)
	assert.Equal(t, b.URL, out[1].URL)
}

func TestScore_NoSignalsStaysBounded(t *testing.T) {
	lx := lexicon.Default()
	s := NewScorer(lx, Weights{}, nil)
	c := unrelatedCandidate()

	score, _ := s.score(nil, nil, Profile{}, &c)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestDefaultWeightsUsedForZeroValue(t *testing.T) {
	s := NewScorer(lexicon.Default(), Weights{}, nil)
	assert.Equal(t, DefaultWeights(), s.w)

	custom := Weights{Lexical: 1}
	assert.Equal(t, custom, NewScorer(lexicon.Default(), custom, nil).w)
}

func TestDiversify(t *testing.T) {
	mk := func(url, title string, court types.CourtKind, date string, score float64) types.ScoredCase {
		return types.ScoredCase{
			CaseCandidate: types.CaseCandidate{URL: url, Title: title, Court: court, Date: date},
			RankingScore:  score,
		}
	}
	in := []types.ScoredCase{
		mk("u1", "Katiji vs Collector", types.CourtSupreme, "19 February, 1987", 0.9),
		// Same fingerprint as u1, found under a second URL.
		mk("u2", "Katiji vs. Collector", types.CourtSupreme, "19 February, 1987", 0.8),
		// Different judgment, same court and day: court-day collapse.
		mk("u3", "Sharma vs Union", types.CourtSupreme, "19 February, 1987", 0.7),
		// Same day but a High Court: survives.
		mk("u4", "Sharma vs State", types.CourtHigh, "19 February, 1987", 0.6),
		// No date: the court-day rule never applies.
		mk("u5", "Verma vs State", types.CourtSupreme, "", 0.5),
		mk("u6", "Gupta vs State", types.CourtUnknown, "19 February, 1987", 0.4),
	}

	out, collapsed := Diversify(in)

	urls := make([]string, len(out))
	for i, c := range out {
		urls[i] = c.URL
	}
	assert.Equal(t, []string{"u1", "u4", "u5", "u6"}, urls)
	assert.Equal(t, 2, collapsed)
}

func TestPreferSupremeCourt(t *testing.T) {
	mk := func(url string, court types.CourtKind, score float64) types.ScoredCase {
		return types.ScoredCase{
			CaseCandidate: types.CaseCandidate{URL: url, Court: court},
			RankingScore:  score,
		}
	}

	t.Run("mixed list reorders", func(t *testing.T) {
		list := []types.ScoredCase{
			mk("hc", types.CourtHigh, 0.80),
			mk("sc", types.CourtSupreme, 0.78),
		}
		require.True(t, PreferSupremeCourt(list, 0.05))
		assert.Equal(t, "sc", list[0].URL)
		assert.InDelta(t, 0.83, list[0].RankingScore, 1e-9)
		assert.Contains(t, list[0].Reasons, "supreme_court_preference:+0.05")
		assert.Equal(t, 0.80, list[1].RankingScore, "non-SC scores untouched")
		assert.Empty(t, list[1].Reasons)
	})

	t.Run("homogeneous list untouched", func(t *testing.T) {
		list := []types.ScoredCase{
			mk("a", types.CourtSupreme, 0.80),
			mk("b", types.CourtSupreme, 0.78),
		}
		assert.False(t, PreferSupremeCourt(list, 0.05))
		assert.Empty(t, list[0].Reasons)
		assert.Equal(t, 0.80, list[0].RankingScore)
	})

	t.Run("delta clamped", func(t *testing.T) {
		list := []types.ScoredCase{
			mk("hc", types.CourtHigh, 0.90),
			mk("sc", types.CourtSupreme, 0.50),
		}
		require.True(t, PreferSupremeCourt(list, 0.50))
		assert.InDelta(t, 0.58, list[1].RankingScore, 1e-9)
		assert.Contains(t, list[1].Reasons, "supreme_court_preference:+0.08")
	})

	t.Run("zero delta is a no-op", func(t *testing.T) {
		list := []types.ScoredCase{
			mk("hc", types.CourtHigh, 0.80),
			mk("sc", types.CourtSupreme, 0.78),
		}
		assert.False(t, PreferSupremeCourt(list, 0))
	})

	t.Run("boost saturates at one", func(t *testing.T) {
		list := []types.ScoredCase{
			mk("sc", types.CourtSupreme, 0.97),
			mk("hc", types.CourtHigh, 0.40),
		}
		require.True(t, PreferSupremeCourt(list, 0.08))
		assert.Equal(t, 1.0, list[0].RankingScore)
	})
}
