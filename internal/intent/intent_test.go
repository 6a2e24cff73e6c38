package intent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"precedent/internal/lexicon"
	"precedent/internal/types"
)

var fixedNow = func() time.Time {
	return time.Date(2026, time.August, 25, 12, 0, 0, 0, time.UTC)
}

func TestCleanQuery_StripsStackedNoise(t *testing.T) {
	lx := lexicon.Default()
	got := CleanQuery(lx, "Please find me cases on sanction for prosecution thanks")
	assert.Equal(t, "sanction for prosecution", got)
}

func TestCleanQuery_LeavesPlainQueriesAlone(t *testing.T) {
	lx := lexicon.Default()
	got := CleanQuery(lx, "quashing of FIR under section 482 CrPC")
	assert.Equal(t, "quashing of fir under section 482 crpc", got)
}

func TestExtractDateWindow(t *testing.T) {
	now := fixedNow()
	cases := []struct {
		name     string
		in       string
		wantFrom string
		wantTo   string
		wantText string
	}{
		{"between", "sanction cases between 2010 and 2020", "1-1-2010", "31-12-2020", "sanction cases"},
		{"after and before", "condonation after 2012 and before 2018", "1-1-2012", "31-12-2018", "condonation and"},
		{"single year", "judgments in 2019 on bail", "1-1-2019", "31-12-2019", "judgments on bail"},
		{"last n years", "murder cases last 3 years", "1-1-2023", "", "murder cases"},
		{"recent", "recent judgments on parole", "1-1-2021", "", "judgments on parole"},
		{"invalid year ignored", "treaty disputes before 1500", "", "", "treaty disputes before 1500"},
		{"citation volume year ignored", "principle laid down in 2017 8 scc 1", "", "", "principle laid down in 2017 8 scc 1"},
		{"no window", "dowry death presumption", "", "", "dowry death presumption"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			win, text := ExtractDateWindow(tc.in, now)
			assert.Equal(t, tc.wantFrom, win.FromDate)
			assert.Equal(t, tc.wantTo, win.ToDate)
			assert.Equal(t, tc.wantText, text)
		})
	}
}

func TestInferCourtHint(t *testing.T) {
	lx := lexicon.Default()
	assert.Equal(t, types.CourtScopeSC, InferCourtHint(lx, "supreme court judgments on anticipatory bail"))
	assert.Equal(t, types.CourtScopeHC, InferCourtHint(lx, "bail before the high court"))
	assert.Equal(t, types.CourtScopeAny, InferCourtHint(lx, "supreme court or high court view on bail"))
	assert.Equal(t, types.CourtScopeAny, InferCourtHint(lx, "bail after chargesheet"))
}

func TestInferOutcomePolarity_RuleOrder(t *testing.T) {
	lx := lexicon.Default()
	cases := []struct {
		in   string
		want types.OutcomePolarity
	}{
		{"judgments holding sanction not required for prosecution", types.PolarityNotRequired},
		{"sanction is mandatory before cognizance", types.PolarityRequired},
		{"fir deserves to be quashed", types.PolarityQuashed},
		{"appeal liable to be dismissed as time barred", types.PolarityDismissed},
		{"condonation was refused by the high court", types.PolarityRefused},
		{"condonation refused and appeal dismissed as time barred", types.PolarityRefused},
		{"delay must be condoned", types.PolarityAllowed},
		{"interpretation of section 106 evidence act", types.PolarityUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, InferOutcomePolarity(lx, tc.in), "query %q", tc.in)
	}
}

func TestBuild_CondonationScenario(t *testing.T) {
	lx := lexicon.Default()
	p := Build(context.Background(), lx,
		"Find me cases where delay of 420 days in filing appeal was condoned after 2015",
		Options{Now: fixedNow})

	assert.NotContains(t, p.Cleaned, "after 2015")
	assert.Equal(t, "1-1-2015", p.DateWindow.FromDate)
	assert.Contains(t, p.Issues, "condonation_of_delay")
	assert.Equal(t, types.PolarityAllowed, p.Polarity)
	assert.Contains(t, p.Anchors, "delay of 420 days")

	require.NotEmpty(t, p.ImpliedHooks)
	assert.Equal(t, "sec_5_limitation_act", p.ImpliedHooks[0].ID)
	assert.Empty(t, p.Hooks, "no provision was named, only implied hooks expected")
}

func TestBuild_SanctionScenario(t *testing.T) {
	lx := lexicon.Default()
	p := Build(context.Background(), lx,
		"prosecution of a public servant under section 197 CrPC without prior sanction",
		Options{Now: fixedNow})

	assert.Contains(t, p.Issues, "sanction_for_prosecution")
	assert.Contains(t, p.Actors, "public_servant")
	assert.Contains(t, p.StatuteFamilies, "crpc")

	require.NotEmpty(t, p.Hooks)
	assert.Equal(t, "sec_197_crpc", p.Hooks[0].ID)
	assert.True(t, p.LegalSignal)
	assert.Greater(t, p.SignalCount, 0)
}

func TestBuild_CourtHintFromArticle(t *testing.T) {
	lx := lexicon.Default()
	p := Build(context.Background(), lx,
		"writ under article 32 for enforcement of fundamental rights",
		Options{Now: fixedNow})
	assert.Equal(t, types.CourtScopeSC, p.CourtHint)
}

func TestBuild_DomainFromStatuteFamily(t *testing.T) {
	lx := lexicon.Default()
	p := Build(context.Background(), lx,
		"scope of section 11 of the arbitration and conciliation act",
		Options{Now: fixedNow})
	assert.Equal(t, "arbitration", p.PrimaryDomain)
}

func TestBuild_EntityExtraction(t *testing.T) {
	lx := lexicon.Default()
	p := Build(context.Background(), lx,
		"maintenance claim by Smt. Sharma against the Delhi Development Authority relying on AIR 1996 SC 1623",
		Options{Now: fixedNow})

	assert.Equal(t, []string{"sharma"}, p.Persons)
	assert.Contains(t, p.Organisations, "delhi development authority")
	assert.Equal(t, []string{"air 1996 sc 1623"}, p.Citations)
	assert.Contains(t, p.Anchors, "air 1996 sc 1623", "citations double as anchors")
}

func TestBuild_PersonSpans(t *testing.T) {
	lx := lexicon.Default()
	cases := []struct {
		in   string
		want []string
	}{
		{"judgment of justice chandrachud on privacy", []string{"chandrachud"}},
		{"property sold by shri ram lal to the complainant", []string{"ram lal"}},
		{"justice was denied to the appellant", nil},
		{"suit by shri k k verma for specific performance", nil},
	}
	for _, tc := range cases {
		p := Build(context.Background(), lx, tc.in, Options{Now: fixedNow})
		assert.Equal(t, tc.want, p.Persons, "query %q", tc.in)
	}
}

func TestBuild_Organisations(t *testing.T) {
	lx := lexicon.Default()
	cases := []struct {
		in   string
		want []string
	}{
		{"appeal by the state of haryana against acquittal", []string{"state of haryana"}},
		{"land acquired by the state of madhya pradesh", []string{"state of madhya pradesh"}},
		{"writ against union of india and the ministry", []string{"union of india"}},
		{"accused state of mind at the time of occurrence", nil},
	}
	for _, tc := range cases {
		p := Build(context.Background(), lx, tc.in, Options{Now: fixedNow})
		assert.Equal(t, tc.want, p.Organisations, "query %q", tc.in)
	}
}

func TestBuild_CitationYearIsNotADateWindow(t *testing.T) {
	lx := lexicon.Default()
	p := Build(context.Background(), lx,
		"condonation of delay as held in (2014) 5 SCC 470",
		Options{Now: fixedNow})

	assert.Equal(t, []string{"2014 5 scc 470"}, p.Citations)
	assert.True(t, p.DateWindow.Empty())
	assert.Contains(t, p.Cleaned, "2014 5 scc 470", "volume year must survive cleaning")
}

func TestBuild_Deterministic(t *testing.T) {
	lx := lexicon.Default()
	q := "quashing of FIR under section 482 CrPC for offences under 420 IPC"
	a := Build(context.Background(), lx, q, Options{Now: fixedNow})
	b := Build(context.Background(), lx, q, Options{Now: fixedNow})
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("profile not deterministic (-first +second):\n%s", diff)
	}
}

// ============================================================================
// REGISTRY
// ============================================================================

type stubEnricher struct {
	name string
	err  error
	ran  *bool
}

func (s stubEnricher) Name() string { return s.name }
func (s stubEnricher) Enrich(context.Context, *lexicon.Lexicon, *Profile) error {
	if s.ran != nil {
		*s.ran = true
	}
	return s.err
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(stubEnricher{name: "a"}))
	assert.Error(t, r.Register(stubEnricher{name: "a"}))
	assert.Panics(t, func() { r.MustRegister(stubEnricher{name: "a"}) })
}

func TestRegistry_FailingEnricherIsNotFatal(t *testing.T) {
	r := NewRegistry()
	ranSecond := false
	require.NoError(t, r.Register(stubEnricher{name: "boom", err: errors.New("boom")}))
	require.NoError(t, r.Register(stubEnricher{name: "after", ran: &ranSecond}))

	lx := lexicon.Default()
	p := Build(context.Background(), lx, "bail after chargesheet", Options{
		Now:       fixedNow,
		Enrichers: r,
	})
	assert.True(t, ranSecond, "enrichers after a failure must still run")
	assert.NotEmpty(t, p.Tokens)
}
