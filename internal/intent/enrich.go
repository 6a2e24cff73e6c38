package intent

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"precedent/internal/lexicon"
	"precedent/internal/types"
)

// Enricher is an optional pass over a freshly built profile. Enrichers run
// in registration order; a failing enricher is logged and skipped, never
// fatal.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, lx *lexicon.Lexicon, p *Profile) error
}

// Registry holds an ordered set of enrichers. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	enrichers []Enricher
	names     map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

// Register appends an enricher. Duplicate names are rejected.
func (r *Registry) Register(e Enricher) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.names[e.Name()]; dup {
		return fmt.Errorf("enricher %q already registered", e.Name())
	}
	r.names[e.Name()] = struct{}{}
	r.enrichers = append(r.enrichers, e)
	return nil
}

// MustRegister registers an enricher and panics on error. Use for static
// registration at startup.
func (r *Registry) MustRegister(e Enricher) {
	if err := r.Register(e); err != nil {
		panic(fmt.Sprintf("intent: %v", err))
	}
}

// Run applies every enricher to the profile in order.
func (r *Registry) Run(ctx context.Context, lx *lexicon.Lexicon, p *Profile, log *zap.Logger) {
	r.mu.RLock()
	enrichers := append([]Enricher(nil), r.enrichers...)
	r.mu.RUnlock()

	for _, e := range enrichers {
		if err := e.Enrich(ctx, lx, p); err != nil {
			log.Warn("profile enricher failed",
				zap.String("enricher", e.Name()), zap.Error(err))
		}
	}
}

// DefaultRegistry returns a registry with the built-in enrichers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(entities{})
	r.MustRegister(issueHooks{})
	r.MustRegister(courtFromHooks{})
	r.MustRegister(domainFromStatutes{})
	return r
}

// ============================================================================
// BUILT-IN ENRICHERS
// ============================================================================

// issueHooks backfills the statute hook a recognised issue implies when the
// query named the doctrine but not the provision. Implied hooks stay
// separate from extracted ones so the checklist can weight them lower.
type issueHooks struct{}

var issueHookIDs = map[string]string{
	"quashing_of_proceedings": "sec_482_crpc",
	"condonation_of_delay":    "sec_5_limitation_act",
	"anticipatory_bail":       "sec_438_crpc",
	"regular_bail":            "sec_439_crpc",
	"cheque_dishonour":        "sec_138_ni_act",
	"dowry_death":             "sec_304b_ipc",
	"dying_declaration":       "sec_32_evidence_act",
	"electronic_evidence":     "sec_65b_evidence_act",
	"arbitrability":           "sec_11_arbitration_act",
}

func (issueHooks) Name() string { return "issue_hooks" }

func (issueHooks) Enrich(_ context.Context, lx *lexicon.Lexicon, p *Profile) error {
	for _, issue := range p.Issues {
		id, ok := issueHookIDs[issue]
		if !ok {
			continue
		}
		hook, ok := lx.HookByID(id)
		if !ok {
			continue
		}
		// a query that already anchors this family was specific enough
		if p.HasHookFamily(hook.Family) {
			continue
		}
		p.ImpliedHooks = append(p.ImpliedHooks, hook)
	}
	return nil
}

// courtFromHooks narrows an open court hint when a hook only makes sense at
// one level: articles 32 and 136 and SLPs live in the Supreme Court, article
// 226 in the High Courts. Conflicting implications leave the hint open.
type courtFromHooks struct{}

func (courtFromHooks) Name() string { return "court_from_hooks" }

func (courtFromHooks) Enrich(_ context.Context, _ *lexicon.Lexicon, p *Profile) error {
	if p.CourtHint != types.CourtScopeAny {
		return nil
	}
	sc, hc := false, false
	for _, h := range p.Hooks {
		switch h.ID {
		case "art_32", "art_136":
			sc = true
		case "art_226":
			hc = true
		}
	}
	for _, proc := range p.Procedures {
		if proc == "slp" || proc == "curative" {
			sc = true
		}
	}
	switch {
	case sc && !hc:
		p.CourtHint = types.CourtScopeSC
	case hc && !sc:
		p.CourtHint = types.CourtScopeHC
	}
	return nil
}

// domainFromStatutes derives a primary domain from statute families when no
// domain phrase matched at all.
type domainFromStatutes struct{}

var familyDomains = map[string]string{
	"ipc": "criminal", "crpc": "criminal", "evidence_act": "criminal",
	"ndps_act": "criminal", "pocso_act": "criminal", "uapa": "criminal",
	"pmla": "criminal", "sc_st_act": "criminal", "bns": "criminal",
	"bnss": "criminal", "bsa": "criminal", "ni_act": "criminal",
	"pc_act": "corruption",
	"cpc":    "civil", "tp_act": "property", "contract_act": "civil",
	"mv_act": "civil", "sarfaesi": "civil",
	"limitation_act": "limitation",
	"constitution":   "constitutional",
	"hma":            "family", "hsa": "family", "dv_act": "family",
	"arbitration_act": "arbitration",
	"it_act":          "tax", "gst_act": "tax",
	"id_act":       "labour",
	"consumer_act": "consumer",
}

func (domainFromStatutes) Name() string { return "domain_from_statutes" }

func (domainFromStatutes) Enrich(_ context.Context, _ *lexicon.Lexicon, p *Profile) error {
	if p.PrimaryDomain != "" || len(p.StatuteFamilies) == 0 {
		return nil
	}
	for _, fam := range p.StatuteFamilies {
		if d, ok := familyDomains[fam]; ok {
			p.PrimaryDomain = d
			p.Domains = append(p.Domains, d)
			return nil
		}
	}
	return nil
}

// entities pulls named parties and reporter citations out of the cleaned
// text. All patterns target the normalised matcher form, so "AIR 1996 SC
// 1623" arrives as "air 1996 sc 1623" and "(2017) 8 SCC 1" as "2017 8 scc
// 1". Citations also join Anchors: a query naming a reported judgment wants
// that judgment and its progeny, not a thematic spread.
type entities struct{}

var (
	personRe = regexp.MustCompile(
		`\b(?:mr|mrs|ms|dr|shri|sri|smt|justice) ([a-z]+(?: [a-z]+)?)\b`)

	stateOfRe = regexp.MustCompile(
		`\b(?:state|government|govt) of (jammu and kashmir|[a-z]+(?: [a-z]+)?)\b`)
	orgSuffixRe = regexp.MustCompile(
		`\b((?:[a-z]+ ){1,2}(?:department|corporation|board|authority|bank|university|commission|nigam|panchayat|municipality))\b`)
	unionRe = regexp.MustCompile(`\bunion of india\b`)

	citationRes = []*regexp.Regexp{
		regexp.MustCompile(
			`\bair (?:19|20)\d\d (?:sc|scw|scr|all|bom|cal|del|mad|ker|guj|raj|pat|ap|mp|kar|ori|punj|gau|jk) \d{1,5}\b`),
		regexp.MustCompile(`\b(?:19|20)\d\d \d{1,2} (?:scc|scr) \d{1,5}\b`),
		regexp.MustCompile(`\b(?:19|20)\d\d scc online [a-z]{2,6} \d{1,6}\b`),
	}

	// narrativeVerbs end a person span where the sentence resumes. The stop
	// word and signal token tables cover function words and legal vocabulary
	// but not plain storytelling verbs.
	narrativeVerbs = map[string]struct{}{
		"filed": {}, "held": {}, "moved": {}, "sought": {}, "argued": {},
		"stated": {}, "observed": {}, "noted": {}, "ruled": {}, "said": {},
		"approached": {}, "challenged": {}, "alleged": {}, "claimed": {},
		"married": {}, "died": {}, "sold": {}, "purchased": {},
		"executed": {}, "borrowed": {}, "refused": {}, "denied": {},
	}

	// prepositions break an entity span at either edge. They sit outside
	// the stop word table because retrieval tokens keep them.
	prepositions = map[string]struct{}{
		"against": {}, "versus": {}, "vs": {}, "v": {}, "regarding": {},
		"towards": {}, "like": {},
	}
)

func (entities) Name() string { return "entities" }

func (entities) Enrich(_ context.Context, lx *lexicon.Lexicon, p *Profile) error {
	text := p.Cleaned

	for _, m := range personRe.FindAllStringSubmatch(text, -1) {
		if name := trimPersonSpan(lx, m[1]); name != "" {
			p.Persons = append(p.Persons, name)
		}
	}
	p.Persons = dedupe(p.Persons)

	var orgs []string
	for _, m := range stateOfRe.FindAllStringSubmatch(text, -1) {
		full, tail := m[0], m[1]
		if t := stateTail(lx, tail); t != "" {
			orgs = append(orgs, full[:len(full)-len(tail)]+t)
		}
	}
	for _, m := range orgSuffixRe.FindAllStringSubmatch(text, -1) {
		if org := trimOrgSpan(lx, m[1]); org != "" {
			orgs = append(orgs, org)
		}
	}
	if unionRe.MatchString(text) {
		orgs = append(orgs, "union of india")
	}
	p.Organisations = dedupe(append(p.Organisations, orgs...))

	// Citations run on the normalised raw text. Date window extraction may
	// have eaten a cited volume year out of the cleaned form.
	raw := lexicon.Normalize(p.Raw)
	var cites []string
	for _, re := range citationRes {
		cites = append(cites, re.FindAllString(raw, -1)...)
	}
	if len(cites) > 0 {
		p.Citations = dedupe(append(p.Citations, cites...))
		p.Anchors = dedupe(append(p.Anchors, p.Citations...))
	}
	return nil
}

// trimPersonSpan cuts a title-adjacent capture at the first word that reads
// as sentence rather than name, and drops spans with no substantial word
// left. "chandrachud held" becomes "chandrachud"; "k k" is discarded.
func trimPersonSpan(lx *lexicon.Lexicon, span string) string {
	var kept []string
	substantial := false
	for _, w := range strings.Fields(span) {
		if breaksEntitySpan(lx, w) {
			break
		}
		if _, verb := narrativeVerbs[w]; verb {
			break
		}
		kept = append(kept, w)
		if len(w) >= 3 {
			substantial = true
		}
	}
	if !substantial {
		return ""
	}
	return strings.Join(kept, " ")
}

// trimOrgSpan keeps the contiguous name run adjacent to the suffix word,
// walking left until a break word. A span reduced to the bare suffix is no
// organisation at all.
func trimOrgSpan(lx *lexicon.Lexicon, span string) string {
	words := strings.Fields(span)
	start := len(words) - 1
	for start > 0 && !breaksEntitySpan(lx, words[start-1]) {
		start--
	}
	if start == len(words)-1 {
		return ""
	}
	return strings.Join(words[start:], " ")
}

func breaksEntitySpan(lx *lexicon.Lexicon, w string) bool {
	if lx.IsStopWord(w) || lx.IsSignalToken(w) {
		return true
	}
	_, prep := prepositions[w]
	return prep
}

// stateIdioms are "state of X" tails that are English idiom, not polity.
var stateIdioms = map[string]struct{}{
	"mind": {}, "affairs": {}, "art": {}, "emergency": {}, "origin": {},
}

// stateTail validates the captured state name. The pattern window admits a
// stray second word ("haryana filed"), so two-word tails must end in a
// known state-name suffix; "jammu and kashmir" matches as a whole. Idiom
// tails and stop-word-first tails are rejected outright.
func stateTail(lx *lexicon.Lexicon, tail string) string {
	if tail == "jammu and kashmir" {
		return tail
	}
	words := strings.Fields(tail)
	if len(words) == 0 || lx.IsStopWord(words[0]) {
		return ""
	}
	if _, idiom := stateIdioms[words[0]]; idiom {
		return ""
	}
	if len(words) == 2 {
		switch words[1] {
		case "pradesh", "nadu", "bengal", "kashmir":
			return tail
		}
		return words[0]
	}
	return tail
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
