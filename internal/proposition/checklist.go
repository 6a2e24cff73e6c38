// Package proposition compiles the structured legal claim behind a query and
// gates retrieved judgments against it. The Checklist is the contract between
// the intent profile, the reasoner plan, the variant planner, and the gate:
// everything downstream matches against its terms, never against raw input.
//
// Compilation is deterministic and grounded. Reasoner contributions are kept
// only when they can be tied back to the cleaned query (token overlap for
// free terms, hook resolution for groups), so a hallucinated statute never
// becomes a required axis.
package proposition

import (
	"fmt"
	"sort"
	"strings"

	"precedent/internal/config"
	"precedent/internal/intent"
	"precedent/internal/lexicon"
	"precedent/internal/reasoner"
	"precedent/internal/types"
)

const (
	// maxHookGroups bounds the checklist, required groups first.
	maxHookGroups = 8
	// relationWindowChars is the proximity window for relation and chain
	// evidence, in normalised characters.
	relationWindowChars = 220
	// roleWindowChars is the tighter window tying an actor to a role word.
	roleWindowChars = 80
)

// AxisID names one of the four proposition axes.
type AxisID string

const (
	AxisActor      AxisID = "actor"
	AxisProceeding AxisID = "proceeding"
	AxisLegalHook  AxisID = "legal_hook"
	AxisOutcome    AxisID = "outcome"
)

// Axis is one proposition dimension: a candidate satisfies it when any of
// its terms appears in the judgment text.
type Axis struct {
	ID       AxisID   `json:"id"`
	Required bool     `json:"required"`
	Terms    []string `json:"terms,omitempty"`
}

// HookGroup is one statutory axis: a family of phrasings for the same hook,
// satisfied when at least MinMatch of them appear.
type HookGroup struct {
	GroupID  string   `json:"groupId"`
	Terms    []string `json:"terms"`
	MinMatch int      `json:"minMatch"`
	Required bool     `json:"required"`
}

// Relation ties two hook groups that must co-occur within a bounded window.
type Relation struct {
	RelationID string             `json:"relationId"`
	Type       types.RelationType `json:"type"`
	Left       string             `json:"left"`
	Right      string             `json:"right"`
	Required   bool               `json:"required"`
}

// OutcomeConstraint is the disposition the judgment must evidence. Terms are
// matched with the negation guard; ContradictionTerms are matched plainly and
// defeat the candidate outright.
type OutcomeConstraint struct {
	Polarity           types.OutcomePolarity `json:"polarity"`
	Required           bool                  `json:"required"`
	Terms              []string              `json:"terms,omitempty"`
	ContradictionTerms []string              `json:"contradictionTerms,omitempty"`
}

// Step is a named checklist element evidenced by any of its terms.
type Step struct {
	ID    string   `json:"id"`
	Terms []string `json:"terms"`
}

// RoleConstraint requires an actor phrase near a procedural role word.
type RoleConstraint struct {
	Role       string   `json:"role"`
	ActorTerms []string `json:"actorTerms"`
}

// ChainConstraint requires a left-family term and a right-family term within
// WindowChars of each other, e.g. the condonation issue next to its refusal.
type ChainConstraint struct {
	ID          string   `json:"id"`
	LeftTerms   []string `json:"leftTerms"`
	RightTerms  []string `json:"rightTerms"`
	WindowChars int      `json:"windowChars"`
}

// Graph is the step and constraint layer sitting above the four axes.
type Graph struct {
	MandatorySteps   []Step            `json:"mandatorySteps,omitempty"`
	PeripheralSteps  []Step            `json:"peripheralSteps,omitempty"`
	RoleConstraints  []RoleConstraint  `json:"roleConstraints,omitempty"`
	ChainConstraints []ChainConstraint `json:"chainConstraints,omitempty"`
}

// Checklist is the compiled proposition. Invariants: every relation
// references two surviving hook groups, and InteractionRequired is only set
// when at least two required groups exist.
type Checklist struct {
	Axes                []Axis            `json:"axes"`
	HookGroups          []HookGroup       `json:"hookGroups,omitempty"`
	Relations           []Relation        `json:"relations,omitempty"`
	InteractionRequired bool              `json:"interactionRequired,omitempty"`
	Outcome             OutcomeConstraint `json:"outcomeConstraint"`
	Graph               Graph             `json:"graph"`
}

// Axis returns the axis with the given id, or nil.
func (c *Checklist) Axis(id AxisID) *Axis {
	for i := range c.Axes {
		if c.Axes[i].ID == id {
			return &c.Axes[i]
		}
	}
	return nil
}

// RequiredGroups returns the required hook groups in checklist order.
func (c *Checklist) RequiredGroups() []HookGroup {
	var out []HookGroup
	for _, g := range c.HookGroups {
		if g.Required {
			out = append(out, g)
		}
	}
	return out
}

// GroupByID returns the hook group with the given id, or nil.
func (c *Checklist) GroupByID(id string) *HookGroup {
	for i := range c.HookGroups {
		if c.HookGroups[i].GroupID == id {
			return &c.HookGroups[i]
		}
	}
	return nil
}

// Tokens returns the deduplicated signal vocabulary of the checklist, used
// by the scorer's canonical lexical profile.
func (c *Checklist) Tokens(lx *lexicon.Lexicon) []string {
	seen := map[string]bool{}
	var out []string
	add := func(terms []string) {
		for _, term := range terms {
			for _, tok := range lx.Tokenize(term) {
				if !seen[tok] {
					seen[tok] = true
					out = append(out, tok)
				}
			}
		}
	}
	for _, ax := range c.Axes {
		add(ax.Terms)
	}
	for _, g := range c.HookGroups {
		add(g.Terms)
	}
	add(c.Outcome.Terms)
	for _, s := range c.Graph.MandatorySteps {
		add(s.Terms)
	}
	return out
}

// ============================================================================
// COMPILER
// ============================================================================

// interactionCues in the cleaned query force the interaction requirement
// when two or more required groups exist.
var interactionCues = []string{"read with", "r w", "interplay", "conjointly"}

// BuildChecklist compiles the proposition from the intent profile and an
// optional reasoner plan. The plan may be nil (deterministic mode, reasoner
// skipped); compilation then relies on the profile alone. Output is
// deterministic for identical inputs.
func BuildChecklist(lx *lexicon.Lexicon, profile *intent.Profile, plan *reasoner.Plan, cfg config.PropositionConfig) Checklist {
	b := &builder{
		lx:      lx,
		profile: profile,
		plan:    plan,
		vocab:   buildVocab(lx, profile),
		cleaned: lexicon.PrepareText(profile.Cleaned),
	}

	var cl Checklist
	cl.HookGroups = b.hookGroups()
	cl.Axes = b.axes(cl.HookGroups)
	cl.Relations, cl.InteractionRequired = b.relations(cl.HookGroups)
	cl.Outcome = b.outcome()
	if cfg.GraphEnabled {
		cl.Graph = b.graph()
	}
	return cl
}

type builder struct {
	lx      *lexicon.Lexicon
	profile *intent.Profile
	plan    *reasoner.Plan
	vocab   map[string]bool
	cleaned lexicon.Text
}

// buildVocab collects the grounding vocabulary: query tokens plus the
// synonym, alias, and anchor expansions the profile legitimises.
func buildVocab(lx *lexicon.Lexicon, profile *intent.Profile) map[string]bool {
	vocab := map[string]bool{}
	add := func(s string) {
		for _, tok := range lx.Tokenize(s) {
			vocab[tok] = true
		}
	}
	for _, tok := range profile.Tokens {
		vocab[tok] = true
		for _, syn := range lx.Synonyms[tok] {
			add(syn)
		}
	}
	for _, h := range profile.AllHooks() {
		add(h.Label)
		for _, alias := range h.Aliases {
			add(alias)
		}
	}
	for _, a := range profile.Anchors {
		add(a)
	}
	return vocab
}

// grounded reports whether a reasoner term can be tied to the query: at
// least one of its signal tokens must be in the grounding vocabulary.
func (b *builder) grounded(term string) bool {
	toks := b.lx.Tokenize(term)
	if len(toks) == 0 {
		return false
	}
	for _, tok := range toks {
		if b.vocab[tok] {
			return true
		}
	}
	return false
}

func (b *builder) groundedTerms(terms []string) []string {
	var out []string
	for _, term := range terms {
		if norm := lexicon.Normalize(term); norm != "" && b.grounded(norm) {
			out = append(out, norm)
		}
	}
	return dedupe(out)
}

// ----------------------------------------------------------------------------
// Hook groups
// ----------------------------------------------------------------------------

// hookGroups merges context hooks (extracted, then implied) with the
// reasoner's groups. Context extraction wins on conflicts: a reasoner group
// that resolves to an already-present hook id only contributes extra terms.
func (b *builder) hookGroups() []HookGroup {
	ordered := []string{}
	byID := map[string]*HookGroup{}

	upsert := func(id string, terms []string, required bool, minMatch int) {
		g, ok := byID[id]
		if !ok {
			g = &HookGroup{GroupID: id, MinMatch: 1}
			byID[id] = g
			ordered = append(ordered, id)
		}
		g.Terms = dedupe(append(g.Terms, terms...))
		if required {
			g.Required = true
		}
		if minMatch > g.MinMatch {
			g.MinMatch = minMatch
		}
	}

	addHook := func(h lexicon.Hook, required bool) {
		terms := append([]string{lexicon.Normalize(h.Label)}, normalizeAll(h.Aliases)...)
		upsert(h.ID, terms, required, 1)
	}

	for _, h := range b.profile.Hooks {
		addHook(h, true)
	}
	for _, h := range b.profile.ImpliedHooks {
		addHook(h, false)
	}

	// A bare family mention folds into an existing sectioned group of the
	// same family rather than standing alone.
	b.foldFamilies(ordered, byID)

	if b.plan != nil {
		known := b.knownHookIDs()
		for _, pg := range b.plan.Proposition.HookGroups {
			hook, ok := b.lx.HookByID(pg.GroupID)
			if !ok {
				continue
			}
			terms := normalizeAll(pg.Terms)
			if len(terms) == 0 {
				terms = append([]string{lexicon.Normalize(hook.Label)}, normalizeAll(hook.Aliases)...)
			}
			if !b.groundedGroup(hook, terms, known) {
				continue
			}
			upsert(hook.ID, terms, pg.Required, pg.MinMatch)
		}
	}

	out := make([]HookGroup, 0, len(ordered))
	for _, id := range ordered {
		g := byID[id]
		if g == nil || len(g.Terms) == 0 {
			continue
		}
		if g.MinMatch > len(g.Terms) {
			g.MinMatch = len(g.Terms)
		}
		out = append(out, *g)
	}
	if len(out) > maxHookGroups {
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Required != out[j].Required {
				return out[i].Required
			}
			return false
		})
		out = out[:maxHookGroups]
	}
	return out
}

// knownHookIDs collects every hook id and family the profile extracted.
func (b *builder) knownHookIDs() map[string]bool {
	ids := map[string]bool{}
	for _, h := range b.profile.AllHooks() {
		ids[h.ID] = true
		if h.Family != "" {
			ids[h.Family] = true
		}
	}
	for _, fam := range b.profile.StatuteFamilies {
		ids[fam] = true
	}
	return ids
}

// groundedGroup reports whether a reasoner group can be tied to the query.
// Sectioned and article hooks must have been extracted from the text, since
// term overlap cannot distinguish section 197 from section 482 of the same
// code. Family and concept hooks may instead ground through term overlap.
func (b *builder) groundedGroup(hook lexicon.Hook, terms []string, known map[string]bool) bool {
	if known[hook.ID] {
		return true
	}
	if strings.HasPrefix(hook.ID, "sec_") || strings.HasPrefix(hook.ID, "art_") || strings.HasPrefix(hook.ID, "order_") {
		return false
	}
	for _, t := range terms {
		if b.grounded(t) {
			return true
		}
	}
	return false
}

// foldFamilies merges a family-level group (limitation_act) into a sectioned
// sibling (sec_5_limitation_act) when one exists, keeping the section id.
func (b *builder) foldFamilies(ordered []string, byID map[string]*HookGroup) {
	for _, id := range ordered {
		fam, ok := byID[id]
		if !ok {
			continue
		}
		if _, isFamily := b.lx.Statutes[id]; !isFamily {
			continue
		}
		for _, other := range ordered {
			g, ok := byID[other]
			if !ok || other == id || !strings.HasSuffix(other, "_"+id) {
				continue
			}
			g.Terms = dedupe(append(g.Terms, fam.Terms...))
			if fam.Required {
				g.Required = true
			}
			delete(byID, id)
			break
		}
	}
}

// ----------------------------------------------------------------------------
// Axes
// ----------------------------------------------------------------------------

func (b *builder) axes(groups []HookGroup) []Axis {
	actor := b.axisTerms(b.profile.Actors, b.lx.Actors)
	if b.plan != nil {
		actor = dedupe(append(actor, b.groundedTerms(b.plan.Proposition.Actors)...))
	}

	proceeding := b.axisTerms(b.profile.Procedures, b.lx.Procedures)
	if b.plan != nil {
		proceeding = dedupe(append(proceeding, b.groundedTerms(b.plan.Proposition.Proceeding)...))
	}

	var hookTerms []string
	for _, g := range groups {
		if g.Required {
			hookTerms = append(hookTerms, g.Terms...)
		}
	}
	if len(hookTerms) == 0 {
		for _, g := range groups {
			hookTerms = append(hookTerms, g.Terms...)
		}
	}
	if b.plan != nil {
		hookTerms = append(hookTerms, b.groundedTerms(b.plan.Proposition.LegalHooks)...)
	}
	hookTerms = dedupe(hookTerms)

	outcome := b.outcomeTerms()

	return []Axis{
		{ID: AxisActor, Required: len(actor) > 0, Terms: actor},
		{ID: AxisProceeding, Required: len(proceeding) > 0, Terms: proceeding},
		{ID: AxisLegalHook, Required: len(hookTerms) > 0, Terms: hookTerms},
		{ID: AxisOutcome, Required: len(outcome) > 0, Terms: outcome},
	}
}

// axisTerms expands matched table ids into their phrase lists.
func (b *builder) axisTerms(ids []string, table map[string][]string) []string {
	var out []string
	for _, id := range ids {
		out = append(out, normalizeAll(table[id])...)
	}
	return dedupe(out)
}

// ----------------------------------------------------------------------------
// Relations and interaction
// ----------------------------------------------------------------------------

func (b *builder) relations(groups []HookGroup) ([]Relation, bool) {
	exists := map[string]bool{}
	for _, g := range groups {
		exists[g.GroupID] = true
	}

	var out []Relation
	if b.plan != nil {
		for _, pr := range b.plan.Proposition.Relations {
			left, right := b.resolveGroupID(pr.LeftGroupID), b.resolveGroupID(pr.RightGroupID)
			if left == "" || right == "" || left == right || !exists[left] || !exists[right] {
				continue
			}
			out = append(out, Relation{
				RelationID: fmt.Sprintf("rel_%d", len(out)+1),
				Type:       pr.Type,
				Left:       left,
				Right:      right,
				Required:   pr.Required,
			})
		}
	}

	requiredGroups := 0
	for _, g := range groups {
		if g.Required {
			requiredGroups++
		}
	}

	interaction := b.plan != nil && b.plan.Proposition.InteractionRequired
	if !interaction && requiredGroups >= 2 {
		for _, cue := range interactionCues {
			if b.cleaned.Contains(cue) {
				interaction = true
				break
			}
		}
	}
	if interaction && requiredGroups < 2 {
		interaction = false
	}

	// An interaction with no explicit relation gets a synthetic one between
	// the first two required groups, so the gate has positions to check.
	if interaction && len(out) == 0 {
		var req []string
		for _, g := range groups {
			if g.Required {
				req = append(req, g.GroupID)
			}
		}
		if len(req) >= 2 {
			out = append(out, Relation{
				RelationID: "rel_1",
				Type:       types.RelationInteractsWith,
				Left:       req[0],
				Right:      req[1],
				Required:   true,
			})
		}
	}
	return out, interaction
}

// resolveGroupID maps a reasoner group id onto the surviving checklist id,
// tolerating the family-fold rename.
func (b *builder) resolveGroupID(id string) string {
	hook, ok := b.lx.HookByID(id)
	if !ok {
		return ""
	}
	return hook.ID
}

// ----------------------------------------------------------------------------
// Outcome
// ----------------------------------------------------------------------------

func (b *builder) outcome() OutcomeConstraint {
	polarity := b.profile.Polarity
	if !polarity.Known() && b.plan != nil && b.plan.Proposition.OutcomeConstraint != nil {
		// The reasoner may name a polarity the deterministic rules missed,
		// but only when at least one of its outcome terms is grounded.
		pc := b.plan.Proposition.OutcomeConstraint
		if pc.Polarity.Known() && len(b.groundedTerms(pc.Terms)) > 0 {
			polarity = pc.Polarity
		}
	}

	oc := OutcomeConstraint{Polarity: polarity, Required: polarity.Known()}
	if !polarity.Known() {
		return oc
	}

	oc.Terms = normalizeAll(b.lx.Cues(polarity))
	oc.ContradictionTerms = normalizeAll(b.lx.Contradictions(polarity))
	if b.plan != nil {
		if pc := b.plan.Proposition.OutcomeConstraint; pc != nil && pc.Polarity == polarity {
			oc.Terms = dedupe(append(oc.Terms, b.groundedTerms(pc.Terms)...))
			// Contradiction guards are defensive; reasoner additions are
			// kept without grounding.
			oc.ContradictionTerms = dedupe(append(oc.ContradictionTerms, normalizeAll(pc.ContradictionTerms)...))
		}
		oc.Terms = dedupe(append(oc.Terms, b.groundedTerms(b.plan.Proposition.OutcomeRequired)...))
	}
	return oc
}

func (b *builder) outcomeTerms() []string {
	oc := b.outcome()
	return oc.Terms
}

// ----------------------------------------------------------------------------
// Graph
// ----------------------------------------------------------------------------

// roleWords are the procedural roles a role constraint can pin an actor to.
var roleWords = []string{"appellant", "respondent", "petitioner", "complainant", "accused", "prosecution"}

func (b *builder) graph() Graph {
	var g Graph

	for _, issue := range b.profile.Issues {
		terms := normalizeAll(b.lx.Issues[issue])
		if len(terms) > 0 {
			g.MandatorySteps = append(g.MandatorySteps, Step{ID: issue, Terms: terms})
		}
	}

	for _, proc := range b.profile.Procedures {
		terms := normalizeAll(b.lx.Procedures[proc])
		if len(terms) > 0 {
			g.PeripheralSteps = append(g.PeripheralSteps, Step{ID: proc, Terms: terms})
		}
	}
	for i, anchor := range b.profile.Anchors {
		norm := lexicon.Normalize(anchor)
		if norm != "" {
			g.PeripheralSteps = append(g.PeripheralSteps, Step{ID: fmt.Sprintf("anchor_%d", i+1), Terms: []string{norm}})
		}
	}

	g.RoleConstraints = b.roleConstraints()
	g.ChainConstraints = b.chainConstraints()
	return g
}

// roleConstraints pins each role word that appears near an actor phrase in
// the query, so the gate can demand the same pairing in the judgment.
func (b *builder) roleConstraints() []RoleConstraint {
	var out []RoleConstraint
	for _, role := range roleWords {
		rolePos := b.cleaned.Positions(role)
		if len(rolePos) == 0 {
			continue
		}
		var actorTerms []string
		for _, actorID := range b.profile.Actors {
			phrases := normalizeAll(b.lx.Actors[actorID])
			if b.anyNear(phrases, rolePos, roleWindowChars) {
				actorTerms = append(actorTerms, phrases...)
			}
		}
		if len(actorTerms) > 0 {
			out = append(out, RoleConstraint{Role: role, ActorTerms: dedupe(actorTerms)})
			if len(out) == 2 {
				break
			}
		}
	}
	return out
}

func (b *builder) anyNear(phrases []string, anchorPos []int, window int) bool {
	for _, phrase := range phrases {
		for _, p := range b.cleaned.Positions(phrase) {
			for _, a := range anchorPos {
				if abs(p-a) <= window {
					return true
				}
			}
		}
	}
	return false
}

// chainConstraints tie each issue to the required disposition: the judgment
// must show the issue and an outcome cue within the window, not merely both
// somewhere in the document.
func (b *builder) chainConstraints() []ChainConstraint {
	oc := b.outcome()
	if !oc.Polarity.Known() {
		return nil
	}
	right := chainRightTerms(b.lx, oc.Polarity)
	if len(right) == 0 {
		return nil
	}
	var out []ChainConstraint
	for _, issue := range b.profile.Issues {
		left := normalizeAll(b.lx.Issues[issue])
		if len(left) == 0 {
			continue
		}
		out = append(out, ChainConstraint{
			ID:          fmt.Sprintf("chain_%s_%s", issue, oc.Polarity),
			LeftTerms:   left,
			RightTerms:  right,
			WindowChars: relationWindowChars,
		})
	}
	return out
}

// chainRightTerms widens refusal-flavoured polarities to the whole adverse
// disposition cluster, so "dismissed as time barred" satisfies a refusal
// chain.
func chainRightTerms(lx *lexicon.Lexicon, p types.OutcomePolarity) []string {
	terms := normalizeAll(lx.Cues(p))
	switch p {
	case types.PolarityRefused:
		terms = append(terms, normalizeAll(lx.Cues(types.PolarityDismissed))...)
	case types.PolarityDismissed:
		terms = append(terms, normalizeAll(lx.Cues(types.PolarityRefused))...)
	}
	return dedupe(terms)
}

// ----------------------------------------------------------------------------
// Small helpers
// ----------------------------------------------------------------------------

func normalizeAll(in []string) []string {
	var out []string
	for _, s := range in {
		if norm := lexicon.Normalize(s); norm != "" {
			out = append(out, norm)
		}
	}
	return dedupe(out)
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	out := in[:0]
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
