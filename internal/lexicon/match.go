package lexicon

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"precedent/internal/types"
)

// ============================================================================
// NORMALISATION
// ============================================================================

// Normalize folds text into matcher form: lowercase, abbreviation dots and
// apostrophes deleted (cr.p.c. becomes crpc, hon'ble becomes honble), every
// other non-alphanumeric run collapsed to a single space. All phrase tables
// are stored in this form, so matching is plain substring work.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "u/s", " section ")
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		case r == '.' || r == '\'' || r == '’':
			// deleted, not spaced, so dotted abbreviations collapse
		default:
			pendingSpace = true
		}
	}
	return b.String()
}

func pad(s string) string { return " " + s + " " }

func containsPhrase(padded, phrase string) bool {
	return strings.Contains(padded, " "+phrase+" ")
}

// findOccurrences returns every start offset of phrase in the unpadded text
// backing padded, honouring word boundaries on both sides.
func findOccurrences(padded, phrase string) []int {
	needle := " " + phrase + " "
	var out []int
	from := 0
	for {
		i := strings.Index(padded[from:], needle)
		if i < 0 {
			return out
		}
		abs := from + i
		out = append(out, abs) // padded[abs+1] == norm[abs]
		from = abs + 1
	}
}

// Text is a document normalised once and probed many times. Offsets from
// Positions are comparable across phrases over the same Text, which is what
// proximity windows need.
type Text struct {
	padded string
}

// PrepareText normalises s for repeated phrase probes.
func PrepareText(s string) Text { return Text{padded: pad(Normalize(s))} }

// Contains reports whether phrase occurs on word boundaries.
func (t Text) Contains(phrase string) bool {
	p := Normalize(phrase)
	return p != "" && containsPhrase(t.padded, p)
}

// ContainsAffirmed is Contains with the negation guard: at least one
// occurrence must not sit in a negator's shadow, so "not condoned" does not
// satisfy a probe for "condoned".
func (t Text) ContainsAffirmed(phrase string) bool {
	p := Normalize(phrase)
	if p == "" {
		return false
	}
	for _, pos := range findOccurrences(t.padded, p) {
		if !negatedAt(t.padded, pos) {
			return true
		}
	}
	return false
}

// Positions returns the start offsets of phrase in the normalised text.
func (t Text) Positions(phrase string) []int {
	p := Normalize(phrase)
	if p == "" {
		return nil
	}
	return findOccurrences(t.padded, p)
}

// Empty reports whether the underlying document had no matchable content.
func (t Text) Empty() bool { return strings.TrimSpace(t.padded) == "" }

// ============================================================================
// TOKENIZER AND SIGNALS
// ============================================================================

// Tokenize is the single tokenizer pipeline shared by every matcher:
// normalise, split, drop stop words and stray single letters. Digits
// survive so section numbers stay addressable.
func (lx *Lexicon) Tokenize(s string) []string {
	fields := strings.Fields(Normalize(s))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, stop := lx.stops[f]; stop {
			continue
		}
		if len(f) == 1 && f[0] >= 'a' && f[0] <= 'z' {
			continue
		}
		out = append(out, f)
	}
	return out
}

// IsSignalToken reports whether tok (already normalised) is a legal signal
// token.
func (lx *Lexicon) IsSignalToken(tok string) bool {
	_, ok := lx.signals[tok]
	return ok
}

// IsStopWord reports whether tok (already normalised) is a stop word.
func (lx *Lexicon) IsStopWord(tok string) bool {
	_, ok := lx.stops[tok]
	return ok
}

// CountSignals counts how many of the tokens are legal signal tokens.
func (lx *Lexicon) CountSignals(tokens []string) int {
	n := 0
	for _, tok := range tokens {
		if _, ok := lx.signals[tok]; ok {
			n++
		}
	}
	return n
}

// HasLegalSignal reports whether the text looks like a legal query at all:
// at least one signal token, or any domain, issue, or statute phrase.
func (lx *Lexicon) HasLegalSignal(text string) bool {
	norm := Normalize(text)
	for _, tok := range strings.Fields(norm) {
		if _, ok := lx.signals[tok]; ok {
			return true
		}
	}
	padded := pad(norm)
	if len(lx.matchIDs(padded, lx.ordered.domains, lx.Domains)) > 0 {
		return true
	}
	if len(lx.matchIDs(padded, lx.ordered.issues, lx.Issues)) > 0 {
		return true
	}
	return len(lx.scanAliases(norm)) > 0
}

// ============================================================================
// PROFILE MATCHERS
// ============================================================================

// MatchDomains returns the domain ids triggered by the text, in sorted id
// order for determinism.
func (lx *Lexicon) MatchDomains(text string) []string {
	return lx.matchIDs(pad(Normalize(text)), lx.ordered.domains, lx.Domains)
}

// MatchIssues returns the issue ids triggered by the text.
func (lx *Lexicon) MatchIssues(text string) []string {
	return lx.matchIDs(pad(Normalize(text)), lx.ordered.issues, lx.Issues)
}

// DomainHits returns per-domain phrase hit counts for the text.
func (lx *Lexicon) DomainHits(text string) map[string]int {
	padded := pad(Normalize(text))
	out := make(map[string]int)
	for _, id := range lx.ordered.domains {
		n := 0
		for _, phrase := range lx.Domains[id] {
			if containsPhrase(padded, phrase) {
				n++
			}
		}
		if n > 0 {
			out[id] = n
		}
	}
	return out
}

// MatchProcedures returns the procedural posture ids triggered by the text.
func (lx *Lexicon) MatchProcedures(text string) []string {
	return lx.matchIDs(pad(Normalize(text)), lx.ordered.procedures, lx.Procedures)
}

// MatchActors returns the actor ids triggered by the text.
func (lx *Lexicon) MatchActors(text string) []string {
	return lx.matchIDs(pad(Normalize(text)), lx.ordered.actors, lx.Actors)
}

// MatchStatuteFamilies returns the hook family ids whose aliases appear in
// the text, ordered by first occurrence.
func (lx *Lexicon) MatchStatuteFamilies(text string) []string {
	hits := lx.scanAliases(Normalize(text))
	seen := make(map[string]struct{}, len(hits))
	var out []string
	for _, h := range hits {
		if _, dup := seen[h.family]; dup {
			continue
		}
		seen[h.family] = struct{}{}
		out = append(out, h.family)
	}
	return out
}

func (lx *Lexicon) matchIDs(padded string, ids []string, table map[string][]string) []string {
	var out []string
	for _, id := range ids {
		for _, phrase := range table[id] {
			if containsPhrase(padded, phrase) {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

// ============================================================================
// EXPANSIONS, CUES, ANCHORS
// ============================================================================

// Expand returns the term followed by its synonym phrasings.
func (lx *Lexicon) Expand(term string) []string {
	n := Normalize(term)
	if n == "" {
		return nil
	}
	return append([]string{n}, lx.Synonyms[n]...)
}

// Pack returns the retrieval keyword pack for a domain.
func (lx *Lexicon) Pack(domain string) []string { return lx.KeywordPacks[domain] }

// TemplatesFor returns browse templates for a domain, domain-specific first,
// then the generic set.
func (lx *Lexicon) TemplatesFor(domain string) []string {
	out := append([]string(nil), lx.Templates[domain]...)
	return append(out, lx.Templates[""]...)
}

// Cues returns the cue phrases for a polarity. Callers must not mutate the
// returned slice.
func (lx *Lexicon) Cues(p types.OutcomePolarity) []string { return lx.PolarityCues[p] }

// Contradictions returns the defeating phrases for a polarity.
func (lx *Lexicon) Contradictions(p types.OutcomePolarity) []string {
	return lx.PolarityContradictions[p]
}

// FirstCue returns the first cue phrase for p found in the text. An
// occurrence immediately preceded by a negator does not count, so "delay not
// condoned" never reads as a condoned cue.
func (lx *Lexicon) FirstCue(text string, p types.OutcomePolarity) (string, bool) {
	padded := pad(Normalize(text))
	for _, cue := range lx.PolarityCues[p] {
		for _, start := range findOccurrences(padded, cue) {
			if !negatedAt(padded, start) {
				return cue, true
			}
		}
	}
	return "", false
}

// HasContradiction reports whether the text carries a phrase defeating p,
// with the same negation guard as FirstCue.
func (lx *Lexicon) HasContradiction(text string, p types.OutcomePolarity) bool {
	padded := pad(Normalize(text))
	for _, phrase := range lx.PolarityContradictions[p] {
		for _, start := range findOccurrences(padded, phrase) {
			if !negatedAt(padded, start) {
				return true
			}
		}
	}
	return false
}

var negators = []string{" not ", " no ", " never ", " without ", " nor "}

// negatedAt reports whether the phrase whose match starts at norm offset
// start is preceded by a negator within a short window.
func negatedAt(padded string, start int) bool {
	// padded[start] is the space before the phrase
	lo := start + 1 - 20
	if lo < 0 {
		lo = 0
	}
	window := padded[lo : start+1]
	for _, neg := range negators {
		if strings.Contains(window, neg) || strings.HasPrefix(window, strings.TrimLeft(neg, " ")+" ") {
			return true
		}
	}
	return false
}

var quotedRe = regexp.MustCompile(`"([^"]{3,120})"`)

// Anchors extracts distinctive fact anchors from a raw query: quoted spans
// plus delay, amount, and area patterns. Results are normalised and
// deduplicated, in order of appearance.
func (lx *Lexicon) Anchors(raw string) []string {
	var out []string
	for _, m := range quotedRe.FindAllStringSubmatch(raw, -1) {
		if n := Normalize(m[1]); n != "" {
			out = append(out, n)
		}
	}
	norm := Normalize(raw)
	for _, re := range lx.anchors {
		for _, m := range re.FindAllString(norm, -1) {
			out = append(out, strings.TrimSpace(m))
		}
	}
	return uniqueStrings(out)
}

func compileAnchors(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("anchor pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// ============================================================================
// HOOK EXTRACTION
// ============================================================================

// Hook is a statute anchor addressed by the checklist and the planner:
// either a bare family (pc_act), a section within a family (sec_197_crpc),
// a constitutional article (art_226), a CPC order and rule
// (order_7_rule_11_cpc), or an unrecognised act (hook_societies_registration_act).
type Hook struct {
	ID      string   `json:"id"`
	Family  string   `json:"family,omitempty"`
	Section string   `json:"section,omitempty"`
	Label   string   `json:"label"`
	Aliases []string `json:"aliases,omitempty"`
}

var (
	sectionMarkRe = regexp.MustCompile(`\b(?:sections?|sec|ss) (\d{1,4}[a-z]{0,2})\b`)
	articleMarkRe = regexp.MustCompile(`\barticles? (\d{1,3}[a-z]?)\b`)
	orderRuleRe   = regexp.MustCompile(`\border (\d{1,2}) rule (\d{1,2})\b`)
	numTailRe     = regexp.MustCompile(`(\d{1,4}[a-z]{0,2}) $`)
	yearLikeRe    = regexp.MustCompile(`^(?:1[89]|20)\d\d$`)
)

// associationWindow is how far, in normalised bytes, a section number looks
// for its statute.
const associationWindow = 48

type aliasHit struct {
	family     string
	start, end int
}

// scanAliases finds statute alias occurrences, longest alias first so
// "prevention of corruption act" claims its span before any shorter alias
// could.
func (lx *Lexicon) scanAliases(norm string) []aliasHit {
	padded := pad(norm)
	var hits []aliasHit
	for _, entry := range lx.aliases {
		for _, start := range findOccurrences(padded, entry.phrase) {
			end := start + len(entry.phrase)
			if overlapsAny(hits, start, end) {
				continue
			}
			hits = append(hits, aliasHit{family: entry.family, start: start, end: end})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].start < hits[j].start })
	return hits
}

func overlapsAny(hits []aliasHit, start, end int) bool {
	for _, h := range hits {
		if start < h.end && h.start < end {
			return true
		}
	}
	return false
}

type hookCand struct {
	hook Hook
	pos  int
}

// Hooks extracts every statute hook mentioned in the text, ordered by first
// occurrence. Section numbers are bound to the nearest statute alias within
// the association window, falling back to the only family in the text; an
// unbound section yields a family-less sec_<n> hook.
func (lx *Lexicon) Hooks(text string) []Hook {
	norm := Normalize(text)
	hits := lx.scanAliases(norm)

	famSet := make(map[string]struct{})
	for _, h := range hits {
		famSet[h.family] = struct{}{}
	}
	loneFamily := ""
	if len(famSet) == 1 {
		for f := range famSet {
			loneFamily = f
		}
	}

	var cands []hookCand
	consumed := make(map[string]bool) // families bound to a section or order hook
	claimedNums := make(map[int]bool) // start offsets of section numbers already used

	for _, m := range sectionMarkRe.FindAllStringSubmatchIndex(norm, -1) {
		numStart, numEnd := m[2], m[3]
		section := norm[numStart:numEnd]
		claimedNums[numStart] = true
		family := associateFamily(hits, numEnd, loneFamily)
		if family != "" {
			consumed[family] = true
		}
		cands = append(cands, hookCand{hook: lx.buildSectionHook(family, section), pos: m[0]})
	}

	for _, m := range articleMarkRe.FindAllStringSubmatchIndex(norm, -1) {
		n := norm[m[2]:m[3]]
		claimedNums[m[2]] = true
		consumed["constitution"] = true
		cands = append(cands, hookCand{hook: lx.buildArticleHook(n), pos: m[0]})
	}

	for _, m := range orderRuleRe.FindAllStringSubmatchIndex(norm, -1) {
		o, r := norm[m[2]:m[3]], norm[m[4]:m[5]]
		claimedNums[m[2]] = true
		claimedNums[m[4]] = true
		consumed["cpc"] = true
		cands = append(cands, hookCand{hook: lx.buildOrderHook(o, r), pos: m[0]})
	}

	// unmarked "302 ipc" style references: a number token directly before a
	// statute alias
	for _, h := range hits {
		if h.start == 0 {
			continue
		}
		tail := numTailRe.FindStringSubmatch(norm[:h.start])
		if tail == nil {
			continue
		}
		num := tail[1]
		numStart := h.start - 1 - len(num)
		if claimedNums[numStart] || yearLikeRe.MatchString(num) {
			continue
		}
		claimedNums[numStart] = true
		consumed[h.family] = true
		cands = append(cands, hookCand{hook: lx.buildSectionHook(h.family, num), pos: numStart})
	}

	// bare families not already bound to a section
	for _, h := range hits {
		if consumed[h.family] {
			continue
		}
		consumed[h.family] = true
		cands = append(cands, hookCand{hook: lx.buildFamilyHook(h.family), pos: h.start})
	}

	cands = append(cands, lx.unknownActs(norm, hits)...)

	sort.SliceStable(cands, func(i, j int) bool { return cands[i].pos < cands[j].pos })
	seen := make(map[string]struct{}, len(cands))
	out := make([]Hook, 0, len(cands))
	for _, c := range cands {
		if _, dup := seen[c.hook.ID]; dup {
			continue
		}
		seen[c.hook.ID] = struct{}{}
		out = append(out, c.hook)
	}
	return out
}

// associateFamily binds a section ending at pos to the nearest alias hit:
// forward within the window first, then backward, then the lone family.
func associateFamily(hits []aliasHit, pos int, loneFamily string) string {
	best, bestDist := "", associationWindow+1
	for _, h := range hits {
		if h.start >= pos && h.start-pos < bestDist {
			best, bestDist = h.family, h.start-pos
		}
	}
	if best != "" {
		return best
	}
	bestDist = associationWindow + 1
	for _, h := range hits {
		if h.end <= pos && pos-h.end < bestDist {
			best, bestDist = h.family, pos-h.end
		}
	}
	if best != "" {
		return best
	}
	return loneFamily
}

// unknownActs recovers "<name> act" references that matched no known alias.
func (lx *Lexicon) unknownActs(norm string, hits []aliasHit) []hookCand {
	var cands []hookCand
	words, offsets := splitWithOffsets(norm)
	for i, w := range words {
		if w != "act" {
			continue
		}
		ws, we := offsets[i], offsets[i]+len(w)
		if insideHit(hits, ws, we) {
			continue
		}
		var name []string
		for j := i - 1; j >= 0 && len(name) < 5; j-- {
			prev := words[j]
			if _, stop := lx.stops[prev]; stop {
				break
			}
			if !isAlphaWord(prev) {
				break
			}
			name = append([]string{prev}, name...)
		}
		if len(name) == 0 {
			continue
		}
		full := strings.Join(append(name, "act"), " ")
		cands = append(cands, hookCand{
			hook: Hook{
				ID:      "hook_" + strings.ReplaceAll(full, " ", "_"),
				Label:   full,
				Aliases: []string{full},
			},
			pos: offsets[i-len(name)],
		})
	}
	return cands
}

func insideHit(hits []aliasHit, start, end int) bool {
	for _, h := range hits {
		if h.start <= start && end <= h.end {
			return true
		}
	}
	return false
}

func isAlphaWord(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'a' || s[i] > 'z' {
			return false
		}
	}
	return len(s) > 1
}

func splitWithOffsets(norm string) ([]string, []int) {
	var words []string
	var offsets []int
	start := -1
	for i := 0; i <= len(norm); i++ {
		if i < len(norm) && norm[i] != ' ' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			words = append(words, norm[start:i])
			offsets = append(offsets, start)
			start = -1
		}
	}
	return words, offsets
}

// ============================================================================
// HOOK CONSTRUCTION
// ============================================================================

func (lx *Lexicon) buildSectionHook(family, section string) Hook {
	if family == "" {
		id := "sec_" + section
		return Hook{
			ID:      id,
			Section: section,
			Label:   "section " + section,
			Aliases: append([]string{"section " + section}, lx.HookAliases[id]...),
		}
	}
	info := lx.families[family]
	id := "sec_" + section + "_" + family
	aliases := []string{"section " + section + " " + info.short}
	if info.full != info.short {
		aliases = append(aliases, "section "+section+" of the "+info.full)
	}
	return Hook{
		ID:      id,
		Family:  family,
		Section: section,
		Label:   "section " + section + " " + info.short,
		Aliases: uniqueStrings(append(aliases, lx.HookAliases[id]...)),
	}
}

func (lx *Lexicon) buildArticleHook(n string) Hook {
	id := "art_" + n
	return Hook{
		ID:      id,
		Family:  "constitution",
		Section: n,
		Label:   "article " + n,
		Aliases: uniqueStrings(append([]string{
			"article " + n,
			"article " + n + " of the constitution",
		}, lx.HookAliases[id]...)),
	}
}

func (lx *Lexicon) buildOrderHook(order, rule string) Hook {
	id := "order_" + order + "_rule_" + rule + "_cpc"
	base := "order " + order + " rule " + rule
	return Hook{
		ID:      id,
		Family:  "cpc",
		Label:   base + " cpc",
		Aliases: uniqueStrings(append([]string{
			base + " cpc",
			base + " of the code of civil procedure",
		}, lx.HookAliases[id]...)),
	}
}

func (lx *Lexicon) buildFamilyHook(family string) Hook {
	info := lx.families[family]
	aliases := []string{info.full}
	if info.short != info.full {
		aliases = append(aliases, info.short)
	}
	return Hook{
		ID:      family,
		Family:  family,
		Label:   info.full,
		Aliases: uniqueStrings(append(aliases, lx.HookAliases[family]...)),
	}
}

// HookByID reconstructs a hook from its id. It accepts every id shape Hooks
// can produce, so reasoner plans can be validated against deterministic
// extraction.
func (lx *Lexicon) HookByID(id string) (Hook, bool) {
	switch {
	case strings.HasPrefix(id, "sec_"):
		rest := strings.TrimPrefix(id, "sec_")
		num, family, hasFamily := strings.Cut(rest, "_")
		if !validSectionNum(num) {
			return Hook{}, false
		}
		if !hasFamily {
			return lx.buildSectionHook("", num), true
		}
		if _, known := lx.families[family]; !known {
			return Hook{}, false
		}
		return lx.buildSectionHook(family, num), true
	case strings.HasPrefix(id, "art_"):
		n := strings.TrimPrefix(id, "art_")
		if !validSectionNum(n) {
			return Hook{}, false
		}
		return lx.buildArticleHook(n), true
	case strings.HasPrefix(id, "order_"):
		parts := strings.Split(id, "_")
		// order_<o>_rule_<r>_cpc
		if len(parts) != 5 || parts[2] != "rule" || parts[4] != "cpc" {
			return Hook{}, false
		}
		if !validSectionNum(parts[1]) || !validSectionNum(parts[3]) {
			return Hook{}, false
		}
		return lx.buildOrderHook(parts[1], parts[3]), true
	case strings.HasPrefix(id, "hook_"):
		name := strings.ReplaceAll(strings.TrimPrefix(id, "hook_"), "_", " ")
		if name == "" {
			return Hook{}, false
		}
		return Hook{ID: id, Label: name, Aliases: []string{name}}, true
	default:
		if _, known := lx.families[id]; known {
			return lx.buildFamilyHook(id), true
		}
		return Hook{}, false
	}
}

func validSectionNum(s string) bool {
	if s == "" || len(s) > 6 {
		return false
	}
	digits := 0
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] >= '0' && s[i] <= '9':
			if i > digits {
				return false // letters must trail
			}
			digits++
		case s[i] >= 'a' && s[i] <= 'z':
		default:
			return false
		}
	}
	return digits > 0
}

// GroupFor returns the substitution group a hook belongs to, if any.
func (lx *Lexicon) GroupFor(hookID string) (string, []string, bool) {
	group, ok := lx.groupOf[hookID]
	if !ok {
		return "", nil, false
	}
	return group, lx.HookGroups[group], true
}
