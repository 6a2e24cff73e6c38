// Package planner compiles an intent profile, its proposition checklist and
// an optional reasoner plan into a phase-ordered set of retrieval variants.
//
// Planning is deterministic and does not call the network: every phrase is
// assembled from lexicon-grounded terms, normalised, capped, keyed and
// priced here, so the scheduler downstream only decides when to fire each
// variant, never what it says. A missing reasoner plan degrades the set
// (fewer strict phrasings, no case anchors) but never empties it.
package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"precedent/internal/intent"
	"precedent/internal/lexicon"
	"precedent/internal/proposition"
	"precedent/internal/reasoner"
	"precedent/internal/types"
)

const (
	// Token caps applied after normalisation. Primary phrases carry the
	// full proposition so they get the longer budget.
	maxTokensPrimary = 12
	maxTokensOther   = 10

	// minStrictChars rejects strict phrases too short to discriminate.
	minStrictChars = 18

	strictBonus = 12

	maxStrictPhrases    = 8
	maxBroadPhrases     = 10
	maxRescuePhrases    = 8
	maxMicroPhrases     = 8
	maxRevolvingPhrases = 6
	maxBrowsePhrases    = 8

	maxMustTokens = 6
)

var phasePriority = map[types.Phase]int{
	types.PhasePrimary:   92,
	types.PhaseFallback:  78,
	types.PhaseRescue:    62,
	types.PhaseMicro:     56,
	types.PhaseRevolving: 48,
	types.PhaseBrowse:    42,
}

// operatorPattern strips provider search operators that leak into queries
// pasted from a search box. Runs before normalisation, while ":" survives.
var operatorPattern = regexp.MustCompile(`(?i)\b(?:doctypes|sortby|fromdate|todate|title|author|bench|cites|citedby|entity):\S*`)

// Planner builds query variants. Safe for concurrent use.
type Planner struct {
	lx  *lexicon.Lexicon
	log *zap.Logger

	courtPhrases []string
}

// New returns a Planner over the lexicon. A nil logger disables logging.
func New(lx *lexicon.Lexicon, log *zap.Logger) *Planner {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Planner{lx: lx, log: log}
	for _, scope := range []types.CourtScope{types.CourtScopeSC, types.CourtScopeHC} {
		for _, t := range lx.CourtTerms[scope] {
			if n := lexicon.Normalize(t); n != "" {
				p.courtPhrases = append(p.courtPhrases, n)
			}
		}
	}
	// Longest first so "supreme court of india" never leaves "of india"
	// behind after "supreme court" is removed.
	sort.SliceStable(p.courtPhrases, func(i, j int) bool {
		return len(p.courtPhrases[i]) > len(p.courtPhrases[j])
	})
	return p
}

// Build produces the full variant set for one query. cl may be nil when
// profiling failed outright; plan may be nil when the reasoner was skipped
// or unavailable.
func (p *Planner) Build(profile *intent.Profile, cl *proposition.Checklist, plan *reasoner.Plan) []types.QueryVariant {
	b := &builder{
		p:       p,
		profile: profile,
		cl:      cl,
		plan:    plan,
		seen:    make(map[string]struct{}),
	}

	b.buildOutcomeCues()
	b.buildAxisSets()
	b.buildMustTokens()

	b.primaryVariants()
	b.fallbackVariants()
	b.rescueVariants()
	b.microVariants()
	b.revolvingVariants()
	b.browseVariants()

	sort.SliceStable(b.out, func(i, j int) bool {
		return b.out[i].Priority > b.out[j].Priority
	})

	counts := map[types.Phase]int{}
	for _, v := range b.out {
		counts[v.Phase]++
	}
	p.log.Debug("query variants planned",
		zap.Int("total", len(b.out)),
		zap.Int("primary", counts[types.PhasePrimary]),
		zap.Int("fallback", counts[types.PhaseFallback]),
		zap.Int("rescue", counts[types.PhaseRescue]),
		zap.Int("micro", counts[types.PhaseMicro]),
		zap.Int("revolving", counts[types.PhaseRevolving]),
		zap.Int("browse", counts[types.PhaseBrowse]),
		zap.Bool("hasPlan", plan != nil),
	)
	return b.out
}

// ============================================================================
// BUILDER
// ============================================================================

type builder struct {
	p       *Planner
	profile *intent.Profile
	cl      *proposition.Checklist
	plan    *reasoner.Plan

	polarity      types.OutcomePolarity
	outcomeCues   []string
	outcomeTokens map[string]struct{}

	// axisSets is non-nil only when no required hook group exists; strict
	// phrases must then touch every set in it.
	axisSets map[string]map[string]struct{}

	mustInclude []string
	mustExclude []string

	seen map[string]struct{}
	out  []types.QueryVariant
}

// requiredGroups returns the checklist's required hook groups.
func (b *builder) requiredGroups() []proposition.HookGroup {
	if b.cl == nil {
		return nil
	}
	return b.cl.RequiredGroups()
}

// hookPhrase joins one representative term per required group. Empty when
// the proposition has no statutory hook.
func (b *builder) hookPhrase() string {
	var parts []string
	for _, g := range b.requiredGroups() {
		if len(g.Terms) > 0 {
			parts = append(parts, g.Terms[0])
		}
	}
	return strings.Join(parts, " ")
}

// hookShort is the first required group's representative term, used where a
// full joined hook phrase would blow the token budget.
func (b *builder) hookShort() string {
	for _, g := range b.requiredGroups() {
		if len(g.Terms) > 0 {
			return g.Terms[0]
		}
	}
	return ""
}

// buildOutcomeCues derives positive polarity phrasings and drops any cue a
// contradiction phrase would also match, so a "required" proposition never
// retrieves on "sanction not required".
func (b *builder) buildOutcomeCues() {
	pol := b.profile.Polarity
	if !pol.Known() && b.cl != nil && b.cl.Outcome.Required {
		pol = b.cl.Outcome.Polarity
	}
	if !pol.Known() {
		return
	}
	b.polarity = pol
	b.outcomeTokens = make(map[string]struct{})

	contradictions := b.p.lx.Contradictions(pol)
	seen := map[string]struct{}{}
	for _, cue := range b.p.lx.Cues(pol) {
		for _, c := range b.p.lx.Expand(cue) {
			if c == "" || contradicted(c, contradictions) {
				continue
			}
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			b.outcomeCues = append(b.outcomeCues, c)
			for _, tok := range strings.Fields(c) {
				b.outcomeTokens[tok] = struct{}{}
			}
		}
	}
}

// contradicted drops a cue only when a contradiction phrase appears in it
// affirmed, so "not condoned" survives as a refused cue even though the
// condoned contradiction is a substring of it.
func contradicted(cue string, contradictions []string) bool {
	probe := lexicon.PrepareText(cue)
	for _, bad := range contradictions {
		if probe.ContainsAffirmed(bad) {
			return true
		}
	}
	return false
}

// buildAxisSets activates the strict axis requirement when the proposition
// carries no required hook group: without a statute to anchor on, a strict
// phrase must instead touch every populated axis.
func (b *builder) buildAxisSets() {
	if b.cl == nil || len(b.requiredGroups()) > 0 {
		return
	}
	sets := map[string]map[string]struct{}{}
	add := func(name string, terms []string) {
		set := tokenSet(terms)
		if len(set) > 0 {
			sets[name] = set
		}
	}
	if ax := b.cl.Axis(proposition.AxisActor); ax != nil && ax.Required {
		add("actor", ax.Terms)
	}
	if ax := b.cl.Axis(proposition.AxisProceeding); ax != nil && ax.Required {
		add("proceeding", ax.Terms)
	}
	outcome := append([]string(nil), b.outcomeCues...)
	if ax := b.cl.Axis(proposition.AxisOutcome); ax != nil {
		outcome = append(outcome, ax.Terms...)
	}
	add("outcome", outcome)
	var role, chain []string
	for _, rc := range b.cl.Graph.RoleConstraints {
		role = append(role, rc.Role)
		role = append(role, rc.ActorTerms...)
	}
	add("role", role)
	for _, cc := range b.cl.Graph.ChainConstraints {
		chain = append(chain, cc.LeftTerms...)
		chain = append(chain, cc.RightTerms...)
	}
	add("chain", chain)
	if len(sets) > 0 {
		b.axisSets = sets
	}
}

// buildMustTokens compiles the include/exclude directives. Exclusions pick
// up contradiction phrases whose content words do not collide with positive
// cues, so excluding them can never suppress a correctly-polarised result.
func (b *builder) buildMustTokens() {
	if b.plan != nil {
		b.mustInclude = normalizeCap(b.plan.MustHaveTerms, maxMustTokens)
		b.mustExclude = normalizeCap(b.plan.MustNotHaveTerms, maxMustTokens)
	}
	if !b.polarity.Known() {
		return
	}
	for _, bad := range b.p.lx.Contradictions(b.polarity) {
		n := lexicon.Normalize(bad)
		if n == "" || collides(n, b.outcomeTokens) {
			continue
		}
		if len(b.mustExclude) >= maxMustTokens {
			break
		}
		b.mustExclude = appendUnique(b.mustExclude, n)
	}
}

// collides reports whether any non-negator token of the phrase also appears
// in the positive cue vocabulary.
func collides(phrase string, cueTokens map[string]struct{}) bool {
	for _, tok := range strings.Fields(phrase) {
		switch tok {
		case "not", "no", "without", "never", "nor":
			continue
		}
		if _, ok := cueTokens[tok]; ok {
			return true
		}
	}
	return false
}

// ============================================================================
// PHASES
// ============================================================================

// primaryVariants emits proposition-strict cross products followed by the
// reasoner's own strict phrasings.
func (b *builder) primaryVariants() {
	hook := b.hookPhrase()
	actors := b.axisLead(proposition.AxisActor, 2)
	proceedings := b.axisLead(proposition.AxisProceeding, 2)
	cues := lead(b.outcomeCues, 3)

	emitted := 0
	for _, actor := range orBlank(actors) {
		for _, proc := range orBlank(proceedings) {
			for _, cue := range orBlank(cues) {
				if emitted >= maxStrictPhrases {
					break
				}
				phrase := b.fitStrict(actor, proc, cue, hook)
				if phrase == "" {
					continue
				}
				if b.emitStrict(phrase, "proposition strict") {
					emitted++
				}
			}
		}
	}

	if b.plan != nil {
		for _, v := range b.plan.StrictVariants {
			b.emitStrict(v, "reasoner strict")
		}
	}
}

// fitStrict assembles a strict phrase and sheds the proceeding, then the
// actor, until it fits the primary token budget. The outcome cue and the
// hook are load-bearing and never shed.
func (b *builder) fitStrict(actor, proc, cue, hook string) string {
	for _, parts := range [][]string{
		{actor, proc, cue, hook},
		{actor, cue, hook},
		{cue, hook},
	} {
		phrase := joinParts(parts)
		if phrase == "" {
			continue
		}
		if len(strings.Fields(lexicon.Normalize(phrase))) <= maxTokensPrimary {
			return phrase
		}
	}
	return ""
}

// emitStrict applies the strict admission rules before emitting a primary
// variant: length floor, required-hook containment, axis requirement and
// the polarity-token floor.
func (b *builder) emitStrict(raw, purpose string) bool {
	phrase, toks, ok := b.normalise(raw, types.PhasePrimary)
	if !ok {
		return false
	}
	if len(phrase) < minStrictChars {
		return false
	}
	for _, g := range b.requiredGroups() {
		if !containsAnyTerm(phrase, g.Terms) {
			return false
		}
	}
	if b.axisSets != nil && !touchesAll(toks, b.axisSets) {
		return false
	}
	if b.polarity.Known() && !touches(toks, b.outcomeTokens) {
		return false
	}
	return b.emit(phrase, toks, types.PhasePrimary, types.StrictnessStrict, purpose)
}

// fallbackVariants emits the broad proposition phrasings plus the
// reasoner's broad variants.
func (b *builder) fallbackVariants() {
	hook := b.hookShort()
	proceedings := b.axisLead(proposition.AxisProceeding, 2)
	cues := lead(b.outcomeCues, 3)

	emitted := 0
	for _, proc := range orBlank(proceedings) {
		for _, cue := range orBlank(cues) {
			if emitted >= maxBroadPhrases {
				break
			}
			phrase := joinParts([]string{proc, cue, hook})
			if phrase == "" {
				continue
			}
			if b.emitRelaxed(phrase, types.PhaseFallback, "proposition broad") {
				emitted++
			}
		}
	}

	for _, kw := range b.p.lx.Pack(b.profile.PrimaryDomain) {
		if emitted >= maxBroadPhrases {
			break
		}
		if b.emitRelaxed(joinParts([]string{kw, hook}), types.PhaseFallback, "keyword pack") {
			emitted++
		}
	}

	if b.plan != nil {
		for _, v := range b.plan.BroadVariants {
			b.emitRelaxed(v, types.PhaseFallback, "reasoner broad")
		}
		// A case anchor that already names the hook is precise enough to
		// run before the browse pool.
		for _, anchor := range b.plan.CaseAnchors {
			n := lexicon.Normalize(anchor)
			if b.hookAnchored(n) {
				b.emitRelaxed(n, types.PhaseFallback, "case anchor")
			}
		}
	}
}

func (b *builder) hookAnchored(phrase string) bool {
	groups := b.requiredGroups()
	if len(groups) == 0 {
		return false
	}
	for _, g := range groups {
		if containsAnyTerm(phrase, g.Terms) {
			return true
		}
	}
	return false
}

// rescueVariants pair each outcome cue with the hook, or with the leading
// issue when no statute anchors the claim, then append the raw keyword pack.
func (b *builder) rescueVariants() {
	anchor := b.hookShort()
	if anchor == "" && len(b.profile.Issues) > 0 {
		anchor = strings.ReplaceAll(b.profile.Issues[0], "_", " ")
	}

	emitted := 0
	for _, cue := range b.outcomeCues {
		if emitted >= maxRescuePhrases {
			break
		}
		if b.emitRelaxed(joinParts([]string{cue, anchor}), types.PhaseRescue, "outcome rescue") {
			emitted++
		}
	}
	for _, kw := range b.p.lx.Pack(b.profile.PrimaryDomain) {
		if emitted >= maxRescuePhrases {
			break
		}
		if b.emitRelaxed(kw, types.PhaseRescue, "keyword pack") {
			emitted++
		}
	}
}

// microVariants are single-concept probes: one per statute, procedure and
// issue. They surface when compound phrases over-constrain.
func (b *builder) microVariants() {
	emitted := 0
	emit := func(phrase, purpose string) {
		if emitted < maxMicroPhrases && b.emitRelaxed(phrase, types.PhaseMicro, purpose) {
			emitted++
		}
	}
	if b.cl != nil {
		for _, g := range b.cl.HookGroups {
			if len(g.Terms) > 0 {
				emit(g.Terms[0], "statute singleton")
			}
		}
	}
	for _, proc := range b.profile.Procedures {
		if phrases := b.p.lx.Procedures[proc]; len(phrases) > 0 {
			emit(phrases[0], "procedure singleton")
		}
	}
	for _, issue := range b.profile.Issues {
		if phrases := b.p.lx.Issues[issue]; len(phrases) > 0 {
			emit(phrases[0], "issue singleton")
		}
	}
}

// revolvingVariants fill the browse templates for the primary domain. The
// generic set keeps the engine moving when the domain was never recognised.
func (b *builder) revolvingVariants() {
	issue := ""
	if len(b.profile.Issues) > 0 {
		if phrases := b.p.lx.Issues[b.profile.Issues[0]]; len(phrases) > 0 {
			issue = phrases[0]
		}
	}
	statute := b.hookShort()
	domain := b.profile.PrimaryDomain

	emitted := 0
	for _, tpl := range b.p.lx.TemplatesFor(domain) {
		if emitted >= maxRevolvingPhrases {
			break
		}
		phrase, ok := fillTemplate(tpl, issue, statute, domain)
		if !ok {
			continue
		}
		if b.emitRelaxed(phrase, types.PhaseRevolving, "browse template") {
			emitted++
		}
	}
}

// browseVariants emit the reasoner's case anchors. Trace pivots join this
// phase later, once retrieval has produced seed titles.
func (b *builder) browseVariants() {
	if b.plan == nil {
		return
	}
	emitted := 0
	for _, anchor := range b.plan.CaseAnchors {
		if emitted >= maxBrowsePhrases {
			break
		}
		if b.emitRelaxed(anchor, types.PhaseBrowse, "case anchor") {
			emitted++
		}
	}
}

// ============================================================================
// EMISSION
// ============================================================================

func (b *builder) emitRelaxed(raw string, phase types.Phase, purpose string) bool {
	phrase, toks, ok := b.normalise(raw, phase)
	if !ok {
		return false
	}
	return b.emit(phrase, toks, phase, types.StrictnessRelaxed, purpose)
}

// normalise lowercases, strips search operators, court words and structural
// punctuation, then applies the phase token cap. Primary and fallback
// phrases must still look legal afterwards.
func (b *builder) normalise(raw string, phase types.Phase) (string, []string, bool) {
	phrase := operatorPattern.ReplaceAllString(raw, " ")
	phrase = b.p.stripCourtWords(lexicon.Normalize(phrase))

	toks := strings.Fields(phrase)
	limit := maxTokensOther
	if phase == types.PhasePrimary {
		limit = maxTokensPrimary
	}
	if len(toks) > limit {
		toks = toks[:limit]
	}
	phrase = strings.Join(toks, " ")

	if len(toks) < 2 {
		return "", nil, false
	}
	if (phase == types.PhasePrimary || phase == types.PhaseFallback) && !b.p.lx.HasLegalSignal(phrase) {
		return "", nil, false
	}
	return phrase, toks, true
}

func (b *builder) emit(phrase string, toks []string, phase types.Phase, strictness types.Strictness, purpose string) bool {
	key := fmt.Sprintf("%s:%s:%s", phase, strictness, phrase)
	if _, dup := b.seen[key]; dup {
		return false
	}
	b.seen[key] = struct{}{}

	priority := phasePriority[phase]
	if strictness == types.StrictnessStrict {
		priority += strictBonus
	}

	scope := types.CourtScopeAny
	if !phase.Relaxed() && b.profile.CourtHint != "" && b.profile.CourtHint != types.CourtScopeAny {
		scope = b.profile.CourtHint
	}

	v := types.QueryVariant{
		ID:           variantID(phrase),
		Phrase:       phrase,
		Phase:        phase,
		Purpose:      purpose,
		CourtScope:   scope,
		Strictness:   strictness,
		Tokens:       toks,
		CanonicalKey: key,
		Priority:     priority,
		Directives: types.RetrievalDirectives{
			QueryMode:      modeFor(phase),
			DoctypeProfile: doctypeFor(scope),
		},
	}
	if phase == types.PhasePrimary || phase == types.PhaseFallback {
		v.MustIncludeTokens = b.mustInclude
		v.MustExcludeTokens = b.mustExclude
		v.Directives.ApplyContradictionExclusions = strictness == types.StrictnessStrict &&
			b.polarity.Known() && len(b.mustExclude) > 0
	}
	b.out = append(b.out, v)
	return true
}

// ============================================================================
// HELPERS
// ============================================================================

// axisLead picks up to n axis terms for phrase assembly, preferring
// wordings that occur in the query itself: the axis carries the whole
// recognised family ("union of india" for any state actor) and synthesising
// with an absent member would query for facts the user never stated.
func (b *builder) axisLead(id proposition.AxisID, n int) []string {
	if b.cl == nil {
		return nil
	}
	ax := b.cl.Axis(id)
	if ax == nil {
		return nil
	}
	cleaned := " " + lexicon.Normalize(b.profile.Cleaned) + " "
	var present []string
	for _, t := range ax.Terms {
		if strings.Contains(cleaned, " "+t+" ") {
			present = append(present, t)
			if len(present) == n {
				return present
			}
		}
	}
	if len(present) > 0 {
		return present
	}
	return lead(ax.Terms, n)
}

func (p *Planner) stripCourtWords(norm string) string {
	padded := " " + norm + " "
	for _, phrase := range p.courtPhrases {
		padded = strings.ReplaceAll(padded, " "+phrase+" ", " ")
	}
	for _, tok := range []string{"sc", "hc"} {
		padded = strings.ReplaceAll(padded, " "+tok+" ", " ")
	}
	return strings.Join(strings.Fields(padded), " ")
}

func variantID(phrase string) string {
	sum := sha256.Sum256([]byte(phrase))
	return "qv_" + hex.EncodeToString(sum[:6])
}

func modeFor(phase types.Phase) types.QueryMode {
	switch phase {
	case types.PhasePrimary:
		return types.QueryModePrecision
	case types.PhaseFallback, types.PhaseRescue, types.PhaseMicro:
		return types.QueryModeExpansion
	default:
		return types.QueryModeContext
	}
}

func doctypeFor(scope types.CourtScope) string {
	switch scope {
	case types.CourtScopeSC:
		return "supremecourt"
	case types.CourtScopeHC:
		return "highcourts"
	default:
		return "judgments"
	}
}

// fillTemplate substitutes {issue}, {statute} and {domain}. Templates with
// an unresolvable placeholder are skipped rather than emitted half-filled.
func fillTemplate(tpl, issue, statute, domain string) (string, bool) {
	repl := map[string]string{
		"{issue}":   issue,
		"{statute}": statute,
		"{domain}":  domain,
	}
	out := tpl
	for ph, val := range repl {
		if !strings.Contains(out, ph) {
			continue
		}
		if val == "" {
			return "", false
		}
		out = strings.ReplaceAll(out, ph, val)
	}
	return out, true
}

func containsAnyTerm(phrase string, terms []string) bool {
	padded := " " + phrase + " "
	for _, t := range terms {
		if t != "" && strings.Contains(padded, " "+t+" ") {
			return true
		}
	}
	return false
}

func touches(toks []string, set map[string]struct{}) bool {
	for _, tok := range toks {
		if _, ok := set[tok]; ok {
			return true
		}
	}
	return false
}

func touchesAll(toks []string, sets map[string]map[string]struct{}) bool {
	for _, set := range sets {
		if !touches(toks, set) {
			return false
		}
	}
	return true
}

func tokenSet(terms []string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, t := range terms {
		for _, tok := range strings.Fields(lexicon.Normalize(t)) {
			set[tok] = struct{}{}
		}
	}
	return set
}

func joinParts(parts []string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

func lead(terms []string, n int) []string {
	if len(terms) <= n {
		return terms
	}
	return terms[:n]
}

// orBlank keeps a cross product alive when one axis is empty.
func orBlank(terms []string) []string {
	if len(terms) == 0 {
		return []string{""}
	}
	return terms
}

func normalizeCap(terms []string, limit int) []string {
	var out []string
	for _, t := range terms {
		n := lexicon.Normalize(t)
		if n == "" {
			continue
		}
		out = appendUnique(out, n)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func appendUnique(list []string, term string) []string {
	for _, t := range list {
		if t == term {
			return list
		}
	}
	return append(list, term)
}
