// Package ranking orders merged retrieval candidates for presentation: a
// composite [0,1] score per candidate, near-duplicate collapsing, and the
// Supreme-Court preference nudge. The score blends lexical overlap with the
// canonical profile against proposition axis coverage; the exact split is a
// tuneable, not a constant.
package ranking

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"precedent/internal/intent"
	"precedent/internal/lexicon"
	"precedent/internal/proposition"
	"precedent/internal/types"
)

// maxSCPreferenceDelta bounds the Supreme-Court boost so the preference can
// reorder near-ties but never outvote the composite score.
const maxSCPreferenceDelta = 0.08

// qualityScale converts a candidate's merge quality score to [0,1]. The
// metadata bonuses in types.CaseCandidate.QualityScore top out near this.
const qualityScale = 40.0

// Profile is the canonical lexical profile scored against every candidate.
// Built once per request from the planned variants and the compiled
// proposition, so every candidate is measured against the same vocabulary
// regardless of which variant found it.
type Profile struct {
	// MustPhrases are the planner's must-include terms, normalized.
	MustPhrases []string
	// StrictTokens are the signal tokens of proposition-strict variants.
	StrictTokens []string
	// ChecklistTokens is the checklist's deduplicated signal vocabulary.
	ChecklistTokens []string
	// Contradictions are outcome-defeating phrases. Any hit is a scoring
	// penalty here and a hard stop at the gate.
	Contradictions []string
}

// BuildProfile derives the canonical lexical profile for one request.
func BuildProfile(lx *lexicon.Lexicon, cl *proposition.Checklist, variants []types.QueryVariant) Profile {
	var p Profile
	seenMust := map[string]bool{}
	seenStrict := map[string]bool{}
	seenContra := map[string]bool{}

	for _, v := range variants {
		for _, term := range v.MustIncludeTokens {
			if n := lexicon.Normalize(term); n != "" && !seenMust[n] {
				seenMust[n] = true
				p.MustPhrases = append(p.MustPhrases, n)
			}
		}
		for _, term := range v.MustExcludeTokens {
			if n := lexicon.Normalize(term); n != "" && !seenContra[n] {
				seenContra[n] = true
				p.Contradictions = append(p.Contradictions, n)
			}
		}
		if v.Strictness != types.StrictnessStrict {
			continue
		}
		for _, tok := range v.Tokens {
			if !lx.IsSignalToken(tok) || seenStrict[tok] {
				continue
			}
			seenStrict[tok] = true
			p.StrictTokens = append(p.StrictTokens, tok)
		}
	}

	if cl != nil {
		p.ChecklistTokens = cl.Tokens(lx)
		for _, term := range cl.Outcome.ContradictionTerms {
			if n := lexicon.Normalize(term); n != "" && !seenContra[n] {
				seenContra[n] = true
				p.Contradictions = append(p.Contradictions, n)
			}
		}
	}
	return p
}

// Empty reports whether the profile carries no scoring vocabulary at all.
func (p Profile) Empty() bool {
	return len(p.MustPhrases) == 0 && len(p.StrictTokens) == 0 && len(p.ChecklistTokens) == 0
}

// Weights is the scorer's component split. Components whose inputs are absent
// for a request (no hook groups, no outcome terms) drop out and the rest are
// renormalized, so the composite stays in [0,1] for any positive weights.
type Weights struct {
	Lexical float64
	Axes    float64
	Hooks   float64
	Outcome float64
	Context float64
	Quality float64

	// ContradictionPenalty is subtracted once when any contradiction phrase
	// appears in the candidate text.
	ContradictionPenalty float64
}

// DefaultWeights is the tuned split. The top six sum to 1 so the composite
// reads as a weighted mean when every component applies.
//
// TODO: calibrate against a labelled relevance set; current values are hand
// tuned.
func DefaultWeights() Weights {
	return Weights{
		Lexical: 0.34,
		Axes:    0.22,
		Hooks:   0.16,
		Outcome: 0.10,
		Context: 0.10,
		Quality: 0.08,

		ContradictionPenalty: 0.30,
	}
}

// Scorer scores candidates against one request's intent and proposition.
type Scorer struct {
	lx  *lexicon.Lexicon
	w   Weights
	log *zap.Logger
}

// NewScorer builds a scorer. A zero Weights value selects the defaults.
func NewScorer(lx *lexicon.Lexicon, w Weights, log *zap.Logger) *Scorer {
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scorer{lx: lx, w: w, log: log.Named("scorer")}
}

// ScoreAll scores every candidate and returns them sorted by ranking score,
// highest first. Ties keep the scheduler's first-seen order.
func (s *Scorer) ScoreAll(ip *intent.Profile, cl *proposition.Checklist, lp Profile, cands []types.CaseCandidate) []types.ScoredCase {
	out := make([]types.ScoredCase, 0, len(cands))
	for i := range cands {
		score, reasons := s.score(ip, cl, lp, &cands[i])
		out = append(out, types.ScoredCase{
			CaseCandidate: cands[i],
			Score:         score,
			RankingScore:  score,
			Reasons:       reasons,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RankingScore > out[j].RankingScore })
	if len(out) > 0 {
		s.log.Debug("scored candidates",
			zap.Int("count", len(out)),
			zap.Float64("top", out[0].RankingScore))
	}
	return out
}

type component struct {
	val    float64
	weight float64
}

func (s *Scorer) score(ip *intent.Profile, cl *proposition.Checklist, lp Profile, c *types.CaseCandidate) (float64, []string) {
	text := lexicon.PrepareText(c.CombinedText())
	var comps []component
	var reasons []string

	if v, ok := lexicalMatch(lp, text, &reasons); ok {
		comps = append(comps, component{v, s.w.Lexical})
	}
	if cl != nil {
		if sat, tot := axisCoverage(cl, text); tot > 0 {
			comps = append(comps, component{frac(sat, tot), s.w.Axes})
			reasons = append(reasons, fmt.Sprintf("axes:%d/%d", sat, tot))
		}
		if sat, tot := hookCoverage(cl, text); tot > 0 {
			comps = append(comps, component{frac(sat, tot), s.w.Hooks})
			reasons = append(reasons, fmt.Sprintf("hook_groups:%d/%d", sat, tot))
		}
		if len(cl.Outcome.Terms) > 0 {
			matched := anyAffirmed(text, cl.Outcome.Terms)
			comps = append(comps, component{boolVal(matched), s.w.Outcome})
			if matched {
				reasons = append(reasons, "outcome_matched")
			} else {
				reasons = append(reasons, "outcome_missing")
			}
		}
	}
	if v, sat, tot, ok := s.contextOverlap(ip, c); ok {
		comps = append(comps, component{v, s.w.Context})
		reasons = append(reasons, fmt.Sprintf("context:%d/%d", sat, tot))
	}
	comps = append(comps, component{clamp01(c.QualityScore() / qualityScale), s.w.Quality})

	var num, den float64
	for _, comp := range comps {
		num += comp.val * comp.weight
		den += comp.weight
	}
	score := 0.0
	if den > 0 {
		score = num / den
	}

	if hit, term := firstContradiction(text, lp.Contradictions); hit {
		score -= s.w.ContradictionPenalty
		reasons = append(reasons, "contradiction_present:"+term)
	}
	return round4(clamp01(score)), reasons
}

// lexicalMatch blends the three vocabulary buckets, weighting planner
// must-terms over strict-variant tokens over the broad checklist vocabulary.
func lexicalMatch(lp Profile, text lexicon.Text, reasons *[]string) (float64, bool) {
	buckets := []struct {
		name   string
		terms  []string
		weight float64
	}{
		{"must_terms", lp.MustPhrases, 0.45},
		{"strict_terms", lp.StrictTokens, 0.25},
		{"checklist_terms", lp.ChecklistTokens, 0.30},
	}
	var sum, wsum float64
	for _, b := range buckets {
		if len(b.terms) == 0 {
			continue
		}
		hits := countHits(text, b.terms)
		sum += b.weight * frac(hits, len(b.terms))
		wsum += b.weight
		*reasons = append(*reasons, fmt.Sprintf("%s:%d/%d", b.name, hits, len(b.terms)))
	}
	if wsum == 0 {
		return 0, false
	}
	return sum / wsum, true
}

func axisCoverage(cl *proposition.Checklist, text lexicon.Text) (sat, tot int) {
	for _, ax := range cl.Axes {
		if !ax.Required || len(ax.Terms) == 0 {
			continue
		}
		tot++
		if anyContains(text, ax.Terms) {
			sat++
		}
	}
	return sat, tot
}

func hookCoverage(cl *proposition.Checklist, text lexicon.Text) (sat, tot int) {
	for _, g := range cl.RequiredGroups() {
		tot++
		need := g.MinMatch
		if need <= 0 {
			need = 1
		}
		if countHits(text, g.Terms) >= need {
			sat++
		}
	}
	return sat, tot
}

// contextOverlap measures how much of the profiled issue and procedure
// context the candidate text reproduces.
func (s *Scorer) contextOverlap(ip *intent.Profile, c *types.CaseCandidate) (v float64, sat, tot int, ok bool) {
	if ip == nil || (len(ip.Issues) == 0 && len(ip.Procedures) == 0) {
		return 0, 0, 0, false
	}
	text := c.CombinedText()
	if len(ip.Issues) > 0 {
		tot += len(ip.Issues)
		sat += intersectCount(s.lx.MatchIssues(text), ip.Issues)
	}
	if len(ip.Procedures) > 0 {
		tot += len(ip.Procedures)
		sat += intersectCount(s.lx.MatchProcedures(text), ip.Procedures)
	}
	return frac(sat, tot), sat, tot, true
}

// =============================================================================
// DIVERSITY
// =============================================================================

// Diversify collapses near-duplicate judgments: one survivor per
// title+court+date fingerprint, then one per court per day. The input must
// already be sorted best-first; the first occurrence wins. Returns the kept
// list and how many candidates were collapsed.
func Diversify(in []types.ScoredCase) ([]types.ScoredCase, int) {
	seenFingerprint := map[string]bool{}
	seenCourtDay := map[string]bool{}
	out := make([]types.ScoredCase, 0, len(in))
	collapsed := 0
	for _, c := range in {
		fp := fingerprint(&c.CaseCandidate)
		if seenFingerprint[fp] {
			collapsed++
			continue
		}
		seenFingerprint[fp] = true

		if day, ok := courtDay(&c.CaseCandidate); ok {
			if seenCourtDay[day] {
				collapsed++
				continue
			}
			seenCourtDay[day] = true
		}
		out = append(out, c)
	}
	return out, collapsed
}

func fingerprint(c *types.CaseCandidate) string {
	return lexicon.Normalize(c.Title) + "|" + string(c.Court) + "|" + lexicon.Normalize(c.Date)
}

// courtDay keys a candidate by court and decision day. Candidates without a
// known court or a date are never collapsed by this rule.
func courtDay(c *types.CaseCandidate) (string, bool) {
	if c.Date == "" || c.Court == "" || c.Court == types.CourtUnknown {
		return "", false
	}
	return string(c.Court) + "|" + lexicon.Normalize(c.Date), true
}

// =============================================================================
// SUPREME-COURT PREFERENCE
// =============================================================================

// PreferSupremeCourt nudges Supreme Court judgments up the ranking when the
// list mixes SC and HC results. Homogeneous lists are left untouched: there
// is nothing to prefer between. Boosted items carry a reason string. Returns
// whether any boost was applied.
func PreferSupremeCourt(in []types.ScoredCase, delta float64) bool {
	if delta <= 0 {
		return false
	}
	if delta > maxSCPreferenceDelta {
		delta = maxSCPreferenceDelta
	}
	var hasSC, hasHC bool
	for i := range in {
		switch in[i].Court {
		case types.CourtSupreme:
			hasSC = true
		case types.CourtHigh:
			hasHC = true
		}
	}
	if !hasSC || !hasHC {
		return false
	}
	reason := fmt.Sprintf("supreme_court_preference:+%.2f", delta)
	for i := range in {
		if in[i].Court != types.CourtSupreme {
			continue
		}
		in[i].RankingScore = round4(math.Min(1, in[i].RankingScore+delta))
		in[i].Reasons = append(in[i].Reasons, reason)
	}
	sort.SliceStable(in, func(i, j int) bool { return in[i].RankingScore > in[j].RankingScore })
	return true
}

// =============================================================================
// HELPERS
// =============================================================================

func countHits(text lexicon.Text, terms []string) int {
	n := 0
	for _, term := range terms {
		if text.Contains(term) {
			n++
		}
	}
	return n
}

func anyContains(text lexicon.Text, terms []string) bool {
	for _, term := range terms {
		if text.Contains(term) {
			return true
		}
	}
	return false
}

func anyAffirmed(text lexicon.Text, terms []string) bool {
	for _, term := range terms {
		if text.ContainsAffirmed(term) {
			return true
		}
	}
	return false
}

func firstContradiction(text lexicon.Text, terms []string) (bool, string) {
	for _, term := range terms {
		if text.Contains(term) {
			return true, term
		}
	}
	return false, ""
}

func intersectCount(matched, wanted []string) int {
	if len(matched) == 0 || len(wanted) == 0 {
		return 0
	}
	set := make(map[string]bool, len(matched))
	for _, m := range matched {
		set[m] = true
	}
	n := 0
	for _, w := range wanted {
		if set[w] {
			n++
		}
	}
	return n
}

func frac(sat, tot int) float64 {
	if tot == 0 {
		return 0
	}
	return float64(sat) / float64(tot)
}

func boolVal(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func round4(f float64) float64 { return math.Round(f*10000) / 10000 }
