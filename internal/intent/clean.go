package intent

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"precedent/internal/lexicon"
	"precedent/internal/types"
)

// ============================================================================
// QUERY CLEANING
// ============================================================================

// CleanQuery normalises a raw query and strips conversational lead-ins
// ("please find me cases on ...") and trailing politeness until a fixed
// point. The result is lowercase matcher-form text; fingerprints and
// variants both build on it.
func CleanQuery(lx *lexicon.Lexicon, raw string) string {
	s := lexicon.Normalize(raw)

	prefixes := append([]string(nil), lx.NoisePrefixes...)
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })

	for pass := 0; pass < 6; pass++ {
		trimmed := s
		for _, p := range prefixes {
			if trimmed == p {
				trimmed = ""
				break
			}
			if strings.HasPrefix(trimmed, p+" ") {
				trimmed = trimmed[len(p)+1:]
			}
		}
		for _, suffix := range []string{"thank you", "thanks", "please"} {
			if trimmed == suffix {
				trimmed = ""
				break
			}
			trimmed = strings.TrimSuffix(trimmed, " "+suffix)
		}
		if trimmed == s {
			break
		}
		s = trimmed
	}
	return strings.TrimSpace(s)
}

// ============================================================================
// DATE WINDOW
// ============================================================================

var (
	betweenYearsRe = regexp.MustCompile(`\b(?:between|from) (\d{4}) (?:and|to) (\d{4})\b`)
	afterYearRe    = regexp.MustCompile(`\b(?:after|since|post) (\d{4})\b`)
	beforeYearRe   = regexp.MustCompile(`\b(?:before|till|until|upto|up to) (\d{4})\b`)
	inYearRe       = regexp.MustCompile(`\b(?:in|during) (\d{4})\b`)
	lastYearsRe    = regexp.MustCompile(`\b(?:last|past) (\d{1,2}) years?\b`)
	recentRe       = regexp.MustCompile(`\brecent(?:ly)?\b`)

	// citedYearRe spots a year acting as the volume year of a reporter
	// citation, "as held in (2017) 8 SCC 1". Such a year dates one
	// judgment, not the search window.
	citedYearRe = regexp.MustCompile(`^ \d{1,2} (?:scc|scr)\b`)
)

func citedYear(s string, end int) bool { return citedYearRe.MatchString(s[end:]) }

// ExtractDateWindow reads an explicit date constraint out of a cleaned query
// and removes the matched span so it does not pollute retrieval tokens.
// Dates use the D-M-YYYY form the upstream search engine expects.
func ExtractDateWindow(cleaned string, now time.Time) (types.DateWindow, string) {
	var win types.DateWindow
	var spans [][2]int
	maxYear := now.Year() + 1

	valid := func(s string) (int, bool) {
		y, err := strconv.Atoi(s)
		if err != nil || y < 1900 || y > maxYear {
			return 0, false
		}
		return y, true
	}

	if m := betweenYearsRe.FindStringSubmatchIndex(cleaned); m != nil {
		a, okA := valid(cleaned[m[2]:m[3]])
		b, okB := valid(cleaned[m[4]:m[5]])
		if okA && okB {
			if a > b {
				a, b = b, a
			}
			win.FromDate, win.ToDate = yearStart(a), yearEnd(b)
			spans = append(spans, [2]int{m[0], m[1]})
		}
	}
	if win.Empty() {
		if m := afterYearRe.FindStringSubmatchIndex(cleaned); m != nil && !citedYear(cleaned, m[1]) {
			if y, ok := valid(cleaned[m[2]:m[3]]); ok {
				win.FromDate = yearStart(y)
				spans = append(spans, [2]int{m[0], m[1]})
			}
		}
		if m := beforeYearRe.FindStringSubmatchIndex(cleaned); m != nil && !citedYear(cleaned, m[1]) {
			if y, ok := valid(cleaned[m[2]:m[3]]); ok {
				win.ToDate = yearEnd(y)
				spans = append(spans, [2]int{m[0], m[1]})
			}
		}
	}
	if win.Empty() {
		if m := inYearRe.FindStringSubmatchIndex(cleaned); m != nil && !citedYear(cleaned, m[1]) {
			if y, ok := valid(cleaned[m[2]:m[3]]); ok {
				win.FromDate, win.ToDate = yearStart(y), yearEnd(y)
				spans = append(spans, [2]int{m[0], m[1]})
			}
		}
	}
	if win.Empty() {
		if m := lastYearsRe.FindStringSubmatchIndex(cleaned); m != nil {
			if n, err := strconv.Atoi(cleaned[m[2]:m[3]]); err == nil && n > 0 {
				win.FromDate = yearStart(now.Year() - n)
				spans = append(spans, [2]int{m[0], m[1]})
			}
		} else if m := recentRe.FindStringIndex(cleaned); m != nil {
			win.FromDate = yearStart(now.Year() - 5)
			spans = append(spans, [2]int{m[0], m[1]})
		}
	}

	return win, removeSpans(cleaned, spans)
}

func yearStart(y int) string { return fmt.Sprintf("1-1-%d", y) }
func yearEnd(y int) string   { return fmt.Sprintf("31-12-%d", y) }

func removeSpans(s string, spans [][2]int) string {
	if len(spans) == 0 {
		return s
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i][0] < spans[j][0] })
	var b strings.Builder
	prev := 0
	for _, sp := range spans {
		if sp[0] > prev {
			b.WriteString(s[prev:sp[0]])
		}
		prev = sp[1]
	}
	b.WriteString(s[prev:])
	return strings.Join(strings.Fields(b.String()), " ")
}

// ============================================================================
// COURT HINT AND POLARITY
// ============================================================================

// InferCourtHint maps explicit court mentions to a scope. Mentioning both
// levels, or neither, leaves the scope open.
func InferCourtHint(lx *lexicon.Lexicon, text string) types.CourtScope {
	sc := anyPhrase(lx, text, lx.CourtTerms[types.CourtScopeSC])
	hc := anyPhrase(lx, text, lx.CourtTerms[types.CourtScopeHC])
	switch {
	case sc && !hc:
		return types.CourtScopeSC
	case hc && !sc:
		return types.CourtScopeHC
	default:
		return types.CourtScopeAny
	}
}

func anyPhrase(lx *lexicon.Lexicon, text string, phrases []string) bool {
	padded := " " + lexicon.Normalize(text) + " "
	for _, p := range phrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}

// polarityOrder is the rule order for outcome inference. Negated forms come
// first so "not required" never reads as a required cue. Refused precedes
// dismissed because a refusal is the doctrinal event and the dismissal its
// consequence: "condonation refused, appeal dismissed" asks for refusal
// cases.
var polarityOrder = []types.OutcomePolarity{
	types.PolarityNotRequired,
	types.PolarityRequired,
	types.PolarityQuashed,
	types.PolarityRefused,
	types.PolarityDismissed,
	types.PolarityAllowed,
}

// InferOutcomePolarity returns the disposition the query asks for, or
// unknown when no cue fires.
func InferOutcomePolarity(lx *lexicon.Lexicon, text string) types.OutcomePolarity {
	for _, p := range polarityOrder {
		if _, ok := lx.FirstCue(text, p); ok {
			return p
		}
	}
	return types.PolarityUnknown
}
