// Package verify runs the second-stage hydration sweep: fetching judgment
// detail documents for shortlisted candidates and distilling each into a
// bounded evidence artifact. A failed fetch still leaves a minimal artifact
// built from the surface snippet, so downstream evaluation always has
// something to scan.
package verify

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"precedent/internal/classify"
	"precedent/internal/lexicon"
	"precedent/internal/proposition"
	"precedent/internal/provider"
	"precedent/internal/types"
)

const (
	// evidenceWindowChars matches the proximity window used by relation and
	// chain checks, so a window never spans more text than those checks scan.
	evidenceWindowChars = 220
	maxEvidenceWindows  = 8
	maxBodyExcerpt      = 2
	minSentenceChars    = 20
	maxEvidenceTerms    = 40
	detailTextMaxChars  = 6000
)

// ratioCues mark dispositional sentences: the holdings, orders and outcome
// statements a judgment's ratio lives in.
var ratioCues = []string{
	"held",
	"holding",
	"we hold",
	"it is held",
	"allowed",
	"dismissed",
	"quashed",
	"set aside",
	"condoned",
	"convicted",
	"acquitted",
	"granted",
	"rejected",
	"refused",
	"observed",
	"directed",
	"disposed of",
}

var sentenceEndPattern = regexp.MustCompile(`[.!?]\s+|\n+`)

// Verifier hydrates shortlisted candidates through the provider's detail
// fetch. Fetches run strictly sequentially; the upstream source sees at most
// one in-flight request per sweep.
type Verifier struct {
	prov provider.Provider
	log  *zap.Logger
}

func New(prov provider.Provider, log *zap.Logger) *Verifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Verifier{prov: prov, log: log.Named("verify")}
}

// Hydrate examines up to limit candidates in order, fetching detail
// documents when the provider supports it and attaching evidence artifacts
// either way. It returns the updated candidates, the set of URLs examined,
// and the sweep stats.
func (v *Verifier) Hydrate(ctx context.Context, cands []types.CaseCandidate, cl *proposition.Checklist, limit int) ([]types.CaseCandidate, map[string]bool, types.VerifierTrace) {
	out := append([]types.CaseCandidate(nil), cands...)
	checked := make(map[string]bool)
	var trace types.VerifierTrace
	if limit <= 0 || len(out) == 0 {
		return out, checked, trace
	}

	canFetch := v.prov != nil && v.prov.SupportsDetailFetch()
	terms := evidenceTerms(cl)
	hydrated := 0

	for i := range out {
		if trace.Attempted >= limit {
			break
		}
		cand := &out[i]
		trace.Attempted++
		checked[cand.URL] = true

		switch {
		case cand.DetailArtifact != nil && len(cand.DetailArtifact.EvidenceWindows) > 0:
			// Already hydrated; no fetch spent.
			hydrated++
		case canFetch && ctx.Err() == nil:
			doc, err := v.prov.FetchDetail(ctx, cand.URL)
			if err != nil {
				trace.DetailFetchFailed++
				v.log.Debug("detail fetch failed",
					zap.String("url", cand.URL),
					zap.Error(err))
				applyFallbackArtifact(cand, terms)
			} else {
				trace.DetailFetched++
				hydrated++
				applyDetail(cand, doc, terms)
			}
		default:
			applyFallbackArtifact(cand, terms)
		}

		if passesCaseGate(cand) {
			trace.PassedCaseGate++
		}
	}

	if trace.Attempted > 0 {
		trace.DetailHydrationCoverage = float64(hydrated) / float64(trace.Attempted)
	}
	v.log.Debug("hydration sweep complete",
		zap.Int("attempted", trace.Attempted),
		zap.Int("fetched", trace.DetailFetched),
		zap.Int("failed", trace.DetailFetchFailed),
		zap.Int("passedCaseGate", trace.PassedCaseGate))
	return out, checked, trace
}

// applyDetail merges a fetched document into the candidate and builds its
// evidence artifact.
func applyDetail(c *types.CaseCandidate, doc provider.DetailDoc, terms []string) {
	if c.Title == "" && doc.Title != "" {
		c.Title = doc.Title
	}
	if c.CourtText == "" && doc.CourtText != "" {
		c.CourtText = doc.CourtText
	}
	if c.Court == "" || c.Court == types.CourtUnknown {
		c.Court = classify.CourtFromText(doc.CourtText + " " + doc.Title)
	}
	c.DetailText = truncate(doc.Body, detailTextMaxChars)
	c.DetailArtifact = buildArtifact(doc.Body, terms)
	if c.DetailArtifact == nil {
		applyFallbackArtifact(c, terms)
	}
}

// applyFallbackArtifact distils whatever surface text exists. The artifact
// may carry no evidence windows; an empty artifact is left nil.
func applyFallbackArtifact(c *types.CaseCandidate, terms []string) {
	if c.DetailArtifact != nil {
		return
	}
	if art := buildArtifact(c.Snippet, terms); art != nil {
		c.DetailArtifact = art
		return
	}
	if c.Snippet != "" {
		c.DetailArtifact = &types.DetailArtifact{
			BodyExcerpt: []string{truncate(c.Snippet, evidenceWindowChars)},
		}
	}
}

// buildArtifact selects ratio-like sentences as evidence windows and keeps a
// short leading excerpt. Returns nil when the text yields nothing.
func buildArtifact(body string, terms []string) *types.DetailArtifact {
	sentences := splitSentences(body)
	if len(sentences) == 0 {
		return nil
	}
	art := &types.DetailArtifact{}
	for _, s := range sentences {
		if len(art.BodyExcerpt) < maxBodyExcerpt {
			art.BodyExcerpt = append(art.BodyExcerpt, truncate(s, evidenceWindowChars))
		}
		if len(art.EvidenceWindows) >= maxEvidenceWindows {
			break
		}
		if isRatioLike(s, terms) {
			art.EvidenceWindows = append(art.EvidenceWindows, truncate(s, evidenceWindowChars))
		}
	}
	if len(art.EvidenceWindows) == 0 && len(art.BodyExcerpt) == 0 {
		return nil
	}
	return art
}

func isRatioLike(sentence string, terms []string) bool {
	text := lexicon.PrepareText(sentence)
	for _, cue := range ratioCues {
		if text.Contains(cue) {
			return true
		}
	}
	for _, term := range terms {
		if text.Contains(term) {
			return true
		}
	}
	return false
}

// evidenceTerms flattens the checklist vocabulary the windows should cover:
// hook phrasings, outcome terms and chain ends.
func evidenceTerms(cl *proposition.Checklist) []string {
	if cl == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	add := func(list []string) {
		for _, t := range list {
			t = lexicon.Normalize(t)
			if t == "" || len(out) >= maxEvidenceTerms {
				continue
			}
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	for _, g := range cl.HookGroups {
		add(g.Terms)
	}
	add(cl.Outcome.Terms)
	for _, chain := range cl.Graph.ChainConstraints {
		add(chain.LeftTerms)
		add(chain.RightTerms)
	}
	return out
}

// passesCaseGate reports whether a candidate is judgment-shaped after the
// sweep: classified as a case outright, or indeterminate with ratio evidence.
func passesCaseGate(c *types.CaseCandidate) bool {
	r := classify.Candidate(c)
	if r.Kind == classify.KindCase {
		return true
	}
	return r.Kind == classify.KindUnknown &&
		c.DetailArtifact != nil && len(c.DetailArtifact.EvidenceWindows) > 0
}

func splitSentences(body string) []string {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	parts := sentenceEndPattern.Split(body, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if len(p) < minSentenceChars {
			continue
		}
		out = append(out, p)
	}
	return out
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n])
}
