// Package classify sorts retrieved artifacts into judgments, statutes and
// noise. Search pages on the lexical source interleave judgment hits with
// bare statute sections and navigation chrome; everything downstream of
// retrieval (utility scoring, strict filtering, verification) keys off the
// kind assigned here.
package classify

import (
	"regexp"
	"strings"

	"precedent/internal/types"
)

// Kind is the classified artifact type.
type Kind string

const (
	KindCase    Kind = "case"
	KindStatute Kind = "statute"
	KindNoise   Kind = "noise"
	KindUnknown Kind = "unknown"
)

// Result carries the kind plus short reason codes for non-case outcomes.
type Result struct {
	Kind    Kind     `json:"kind"`
	Reasons []string `json:"reasons,omitempty"`
}

var (
	versusPattern = regexp.MustCompile(`(?i)\b(?:vs?\.?|versus)\b`)

	// Statute section pages title like "Section 5 in The Limitation Act, 1963".
	sectionInActPattern = regexp.MustCompile(`(?i)^(?:section|sec\.?|article|art\.?|order|rule)\s+\S+.*\bin\b\s+.+`)

	// Bare act titles: "The Limitation Act, 1963", "Code Of Criminal Procedure".
	actTitlePattern = regexp.MustCompile(`(?i)^(?:the\s+)?[a-z0-9 ,()&.'-]*\b(?:act|code|rules|regulations?|ordinance|constitution)\b[a-z ]*(?:,?\s*\d{4})?\s*$`)
)

var noiseURLMarkers = []string{
	"/search/", "/browse/", "/members/", "/advanced", "javascript:",
}

// Candidate classifies one retrieved artifact from its URL and title.
func Candidate(c *types.CaseCandidate) Result {
	title := strings.TrimSpace(c.Title)
	if title == "" {
		return Result{Kind: KindNoise, Reasons: []string{"title_empty"}}
	}

	lowerURL := strings.ToLower(c.URL)
	for _, marker := range noiseURLMarkers {
		if strings.Contains(lowerURL, marker) {
			return Result{Kind: KindNoise, Reasons: []string{"url_not_judgment"}}
		}
	}

	hasVersus := versusPattern.MatchString(title)
	if !hasVersus {
		if sectionInActPattern.MatchString(title) {
			return Result{Kind: KindStatute, Reasons: []string{"title_section_in_statute"}}
		}
		if actTitlePattern.MatchString(title) {
			return Result{Kind: KindStatute, Reasons: []string{"title_statute_prefix"}}
		}
	}

	if hasVersus {
		return Result{Kind: KindCase}
	}

	reasons := []string{"title_no_versus_separator"}
	if !isDocumentURL(lowerURL) {
		reasons = append(reasons, "url_not_document")
	}
	return Result{Kind: KindUnknown, Reasons: reasons}
}

func isDocumentURL(lowerURL string) bool {
	return strings.Contains(lowerURL, "/doc/") || strings.Contains(lowerURL, "/docfragment/")
}

// Keep reports whether a candidate of this kind survives filtering. Noise
// never survives; strict mode additionally drops bare statutes.
func Keep(r Result, strictCaseOnly bool) bool {
	switch r.Kind {
	case KindNoise:
		return false
	case KindStatute:
		return !strictCaseOnly
	default:
		return true
	}
}

// Ratios returns the case-like and statute-like fractions of a batch. Used
// by the scheduler's per-attempt utility score.
func Ratios(cases []types.CaseCandidate) (caseLike, statuteLike float64) {
	if len(cases) == 0 {
		return 0, 0
	}
	var nc, ns int
	for i := range cases {
		switch Candidate(&cases[i]).Kind {
		case KindCase:
			nc++
		case KindStatute:
			ns++
		}
	}
	n := float64(len(cases))
	return float64(nc) / n, float64(ns) / n
}

// CourtFromText attributes a court from source text like
// "Supreme Court of India - 21 November, 1990".
func CourtFromText(s string) types.CourtKind {
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "supreme court"):
		return types.CourtSupreme
	case strings.Contains(lower, "high court"):
		return types.CourtHigh
	default:
		return types.CourtUnknown
	}
}
