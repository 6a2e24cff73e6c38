// Package reasoner orchestrates the LLM planning passes. Model output is
// decoded permissively, validated against a field whitelist, and checked for
// shape before anything downstream sees it: unknown fields become warnings,
// malformed pieces are dropped, and a plan that loses too much structure is
// discarded in favour of deterministic planning. A skipped or failed pass is
// normal operation, not an error.
package reasoner

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"precedent/internal/intent"
	"precedent/internal/lexicon"
	"precedent/internal/types"
)

// Caps keep a misbehaving model from flooding downstream stages.
const (
	maxListTerms     = 6
	maxHookGroups    = 6
	maxGroupTerms    = 6
	maxRelations     = 6
	maxMustTerms     = 8
	maxVariants      = 6
	maxAnchors       = 4
	maxVariantTokens = 16
)

// Plan is a validated reasoner output for one pass. Every field is optional
// on the wire; Usable decides whether what survived validation is worth
// keeping.
type Plan struct {
	Proposition      Proposition `json:"proposition"`
	MustHaveTerms    []string    `json:"must_have_terms,omitempty"`
	MustNotHaveTerms []string    `json:"must_not_have_terms,omitempty"`
	StrictVariants   []string    `json:"query_variants_strict,omitempty"`
	BroadVariants    []string    `json:"query_variants_broad,omitempty"`
	CaseAnchors      []string    `json:"case_anchors,omitempty"`
}

// Proposition is the model's structured reading of the legal claim.
type Proposition struct {
	Actors              []string           `json:"actors,omitempty"`
	Proceeding          []string           `json:"proceeding,omitempty"`
	LegalHooks          []string           `json:"legal_hooks,omitempty"`
	OutcomeRequired     []string           `json:"outcome_required,omitempty"`
	OutcomeNegative     []string           `json:"outcome_negative,omitempty"`
	JurisdictionHint    string             `json:"jurisdiction_hint,omitempty"`
	HookGroups          []HookGroup        `json:"hook_groups,omitempty"`
	Relations           []Relation         `json:"relations,omitempty"`
	OutcomeConstraint   *OutcomeConstraint `json:"outcome_constraint,omitempty"`
	InteractionRequired bool               `json:"interaction_required,omitempty"`
}

// HookGroup is one statutory axis: a family of interchangeable terms of
// which at least MinMatch must appear for the axis to count as matched.
type HookGroup struct {
	GroupID  string   `json:"group_id"`
	Terms    []string `json:"terms,omitempty"`
	MinMatch int      `json:"min_match,omitempty"`
	Required bool     `json:"required,omitempty"`
}

// Relation connects two hook groups, e.g. sanction requires the accused to
// be a public servant.
type Relation struct {
	Type         types.RelationType `json:"type"`
	LeftGroupID  string             `json:"left_group_id"`
	RightGroupID string             `json:"right_group_id"`
	Required     bool               `json:"required,omitempty"`
}

// OutcomeConstraint pins the disposition a judgment must reach, with the
// phrases that evidence it and the phrases that contradict it.
type OutcomeConstraint struct {
	Polarity           types.OutcomePolarity `json:"polarity,omitempty"`
	Modality           string                `json:"modality,omitempty"`
	Terms              []string              `json:"terms,omitempty"`
	ContradictionTerms []string              `json:"contradiction_terms,omitempty"`
}

// RequiredGroups returns the hook groups marked required, in plan order.
func (p *Plan) RequiredGroups() []HookGroup {
	var out []HookGroup
	for _, g := range p.Proposition.HookGroups {
		if g.Required {
			out = append(out, g)
		}
	}
	return out
}

// Usable reports whether a validated plan still carries enough structure to
// steer planning. A sparse profile (no hooks, no issues) may legitimately
// yield a variant-free plan; anything richer must contribute hook groups or
// query variants, otherwise deterministic planning alone does better.
func (p *Plan) Usable(profile *intent.Profile) bool {
	if p == nil {
		return false
	}
	prop := p.Proposition
	hasShape := len(prop.HookGroups) > 0 || len(prop.Actors) > 0 || len(prop.Proceeding) > 0 ||
		len(prop.LegalHooks) > 0 || prop.OutcomeConstraint != nil
	hasVariants := len(p.StrictVariants) > 0 || len(p.BroadVariants) > 0
	if !hasShape && !hasVariants {
		return false
	}
	sparse := len(profile.AllHooks()) == 0 && len(profile.Issues) == 0
	if !sparse && !hasVariants && len(prop.HookGroups) == 0 {
		return false
	}
	return true
}

// ErrNoJSON is returned when a model response carries no JSON object.
var ErrNoJSON = errors.New("no json object in model response")

var planFields = map[string]struct{}{
	"proposition":           {},
	"must_have_terms":       {},
	"must_not_have_terms":   {},
	"query_variants_strict": {},
	"query_variants_broad":  {},
	"case_anchors":          {},
}

var propositionFields = map[string]struct{}{
	"actors":               {},
	"proceeding":           {},
	"legal_hooks":          {},
	"outcome_required":     {},
	"outcome_negative":     {},
	"jurisdiction_hint":    {},
	"hook_groups":          {},
	"relations":            {},
	"outcome_constraint":   {},
	"interaction_required": {},
}

// ParsePlan pulls the first balanced JSON object out of a raw model response
// (markdown fences and prose around it are tolerated) and decodes it. Fields
// outside the schema whitelist are reported as warnings and dropped by the
// decode.
func ParsePlan(raw string) (*Plan, []string, error) {
	blob := extractJSON(raw)
	if blob == "" {
		return nil, nil, ErrNoJSON
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(blob), &top); err != nil {
		return nil, nil, fmt.Errorf("decode plan: %w", err)
	}
	warnings := unknownKeys(top, planFields, "")
	if rawProp, ok := top["proposition"]; ok {
		var prop map[string]json.RawMessage
		if err := json.Unmarshal(rawProp, &prop); err == nil {
			warnings = append(warnings, unknownKeys(prop, propositionFields, "proposition.")...)
		}
	}

	var p Plan
	if err := json.Unmarshal([]byte(blob), &p); err != nil {
		return nil, nil, fmt.Errorf("decode plan: %w", err)
	}
	return &p, warnings, nil
}

// extractJSON finds the first balanced JSON object in a response. Braces
// inside string literals are not tracked; model plans never contain them.
func extractJSON(response string) string {
	start := strings.Index(response, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	for i := start; i < len(response); i++ {
		switch response[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return response[start : i+1]
			}
		}
	}
	return ""
}

func unknownKeys(m map[string]json.RawMessage, allowed map[string]struct{}, prefix string) []string {
	var out []string
	for k := range m {
		if _, ok := allowed[k]; !ok {
			out = append(out, fmt.Sprintf("unknown field %q dropped", prefix+k))
		}
	}
	sort.Strings(out)
	return out
}

// Validate normalises a parsed plan in place and returns warnings for
// everything it had to clear, drop, or truncate. It enforces shape, not
// semantics: hook group ids must reconstruct, relations must reference
// surviving groups, enums must be known, variants must read like legal
// queries, and every list is capped. Grounding against the query text is
// the checklist compiler's job.
func Validate(lx *lexicon.Lexicon, profile *intent.Profile, p *Plan) []string {
	var warnings []string
	prop := &p.Proposition

	prop.Actors, warnings = cleanList(prop.Actors, maxListTerms, "actor", warnings)
	prop.Proceeding, warnings = cleanList(prop.Proceeding, maxListTerms, "proceeding", warnings)
	prop.LegalHooks, warnings = cleanList(prop.LegalHooks, maxListTerms, "legal hook", warnings)
	prop.OutcomeRequired, warnings = cleanList(prop.OutcomeRequired, maxListTerms, "outcome term", warnings)
	prop.OutcomeNegative, warnings = cleanList(prop.OutcomeNegative, maxListTerms, "negative outcome term", warnings)

	if prop.JurisdictionHint != "" {
		scope, ok := parseCourtScope(prop.JurisdictionHint)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("jurisdiction hint %q not recognised, cleared", prop.JurisdictionHint))
			prop.JurisdictionHint = ""
		} else {
			prop.JurisdictionHint = string(scope)
		}
	}

	prop.HookGroups, warnings = validateGroups(lx, prop.HookGroups, warnings)
	prop.Relations, warnings = validateRelations(prop.HookGroups, prop.Relations, warnings)
	prop.OutcomeConstraint, warnings = validateOutcome(prop.OutcomeConstraint, warnings)

	if prop.InteractionRequired && requiredCount(prop.HookGroups) < 2 {
		warnings = append(warnings, "interaction_required needs two required hook groups, cleared")
		prop.InteractionRequired = false
	}

	known := profileTokenSet(lx, profile)
	p.MustHaveTerms, warnings = groundedList(p.MustHaveTerms, known, maxMustTerms, "must-have term", warnings)
	p.MustNotHaveTerms, warnings = cleanList(p.MustNotHaveTerms, maxMustTerms, "must-not term", warnings)

	p.StrictVariants, warnings = validateVariants(lx, p.StrictVariants, 3, "strict variant", warnings)
	p.BroadVariants, warnings = validateVariants(lx, p.BroadVariants, 2, "broad variant", warnings)

	var anchors []string
	for _, a := range p.CaseAnchors {
		n := lexicon.Normalize(a)
		if len(strings.Fields(n)) < 2 {
			warnings = append(warnings, fmt.Sprintf("case anchor %q too short, dropped", a))
			continue
		}
		anchors = append(anchors, n)
	}
	anchors = dedupe(anchors)
	if len(anchors) > maxAnchors {
		warnings = append(warnings, fmt.Sprintf("case anchors truncated to %d", maxAnchors))
		anchors = anchors[:maxAnchors]
	}
	p.CaseAnchors = anchors

	return warnings
}

func validateGroups(lx *lexicon.Lexicon, groups []HookGroup, warnings []string) ([]HookGroup, []string) {
	var out []HookGroup
	seen := make(map[string]struct{})
	for _, g := range groups {
		id := strings.TrimSpace(strings.ToLower(g.GroupID))
		if id == "" {
			continue
		}
		hook, ok := lx.HookByID(id)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("hook group %q does not resolve, dropped", id))
			continue
		}
		if _, dup := seen[id]; dup {
			warnings = append(warnings, fmt.Sprintf("hook group %q repeated, merged", id))
			continue
		}
		seen[id] = struct{}{}

		var terms []string
		for _, t := range g.Terms {
			if n := lexicon.Normalize(t); n != "" {
				terms = append(terms, n)
			}
		}
		terms = dedupe(terms)
		if len(terms) > maxGroupTerms {
			warnings = append(warnings, fmt.Sprintf("hook group %q terms truncated to %d", id, maxGroupTerms))
			terms = terms[:maxGroupTerms]
		}
		if len(terms) == 0 {
			terms = append([]string{hook.Label}, hook.Aliases...)
			terms = dedupe(terms)
			if len(terms) > maxGroupTerms {
				terms = terms[:maxGroupTerms]
			}
		}

		minMatch := g.MinMatch
		if minMatch < 1 {
			minMatch = 1
		}
		if minMatch > len(terms) {
			warnings = append(warnings, fmt.Sprintf("hook group %q min_match clamped to %d", id, len(terms)))
			minMatch = len(terms)
		}

		out = append(out, HookGroup{GroupID: id, Terms: terms, MinMatch: minMatch, Required: g.Required})
	}
	if len(out) > maxHookGroups {
		warnings = append(warnings, fmt.Sprintf("hook groups truncated to %d", maxHookGroups))
		out = out[:maxHookGroups]
	}
	return out, warnings
}

func validateRelations(groups []HookGroup, relations []Relation, warnings []string) ([]Relation, []string) {
	ids := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		ids[g.GroupID] = struct{}{}
	}
	var out []Relation
	for _, r := range relations {
		if !r.Type.Known() {
			warnings = append(warnings, fmt.Sprintf("relation type %q not recognised, dropped", r.Type))
			continue
		}
		left := strings.TrimSpace(strings.ToLower(r.LeftGroupID))
		right := strings.TrimSpace(strings.ToLower(r.RightGroupID))
		if _, ok := ids[left]; !ok {
			warnings = append(warnings, fmt.Sprintf("relation references unknown group %q, dropped", left))
			continue
		}
		if _, ok := ids[right]; !ok {
			warnings = append(warnings, fmt.Sprintf("relation references unknown group %q, dropped", right))
			continue
		}
		if left == right {
			warnings = append(warnings, fmt.Sprintf("relation links %q to itself, dropped", left))
			continue
		}
		out = append(out, Relation{Type: r.Type, LeftGroupID: left, RightGroupID: right, Required: r.Required})
	}
	if len(out) > maxRelations {
		warnings = append(warnings, fmt.Sprintf("relations truncated to %d", maxRelations))
		out = out[:maxRelations]
	}
	return out, warnings
}

func validateOutcome(oc *OutcomeConstraint, warnings []string) (*OutcomeConstraint, []string) {
	if oc == nil {
		return nil, warnings
	}
	if oc.Polarity != "" && !oc.Polarity.Known() {
		warnings = append(warnings, fmt.Sprintf("outcome polarity %q unknown, cleared", oc.Polarity))
		oc.Polarity = ""
	}
	switch oc.Modality {
	case "", "mandatory", "prohibitory", "permissive":
	default:
		warnings = append(warnings, fmt.Sprintf("outcome modality %q not recognised, cleared", oc.Modality))
		oc.Modality = ""
	}
	oc.Terms, warnings = cleanList(oc.Terms, maxListTerms, "outcome constraint term", warnings)
	oc.ContradictionTerms, warnings = cleanList(oc.ContradictionTerms, maxListTerms, "contradiction term", warnings)
	if oc.Polarity == "" && len(oc.Terms) == 0 && len(oc.ContradictionTerms) == 0 {
		return nil, warnings
	}
	return oc, warnings
}

func validateVariants(lx *lexicon.Lexicon, variants []string, minTokens int, kind string, warnings []string) ([]string, []string) {
	var out []string
	for _, v := range variants {
		text := lexicon.Normalize(v)
		tokens := strings.Fields(text)
		if len(tokens) < minTokens {
			warnings = append(warnings, fmt.Sprintf("%s %q too short, dropped", kind, v))
			continue
		}
		if len(tokens) > maxVariantTokens {
			tokens = tokens[:maxVariantTokens]
			text = strings.Join(tokens, " ")
			warnings = append(warnings, fmt.Sprintf("%s truncated to %d tokens", kind, maxVariantTokens))
		}
		if !lx.HasLegalSignal(text) {
			warnings = append(warnings, fmt.Sprintf("%s %q carries no legal signal, dropped", kind, text))
			continue
		}
		out = append(out, text)
	}
	out = dedupe(out)
	if len(out) > maxVariants {
		warnings = append(warnings, fmt.Sprintf("%ss truncated to %d", kind, maxVariants))
		out = out[:maxVariants]
	}
	return out, warnings
}

func requiredCount(groups []HookGroup) int {
	n := 0
	for _, g := range groups {
		if g.Required {
			n++
		}
	}
	return n
}

func parseCourtScope(s string) (types.CourtScope, bool) {
	switch lexicon.Normalize(s) {
	case "sc", "supreme court", "supreme court of india":
		return types.CourtScopeSC, true
	case "hc", "high court", "high courts":
		return types.CourtScopeHC, true
	case "any", "all", "sc hc":
		return types.CourtScopeAny, true
	}
	return "", false
}

// profileTokenSet is the vocabulary grounded terms may draw from: query
// tokens plus their synonym expansions, hook alias tokens, and fact anchors.
func profileTokenSet(lx *lexicon.Lexicon, profile *intent.Profile) map[string]struct{} {
	set := make(map[string]struct{}, len(profile.Tokens)*2)
	add := func(s string) {
		for _, tok := range strings.Fields(s) {
			set[tok] = struct{}{}
		}
	}
	for _, tok := range profile.Tokens {
		set[tok] = struct{}{}
		for _, syn := range lx.Expand(tok) {
			add(syn)
		}
	}
	for _, h := range profile.AllHooks() {
		for _, alias := range h.Aliases {
			add(alias)
		}
	}
	for _, anchor := range profile.Anchors {
		add(anchor)
	}
	return set
}

func cleanList(terms []string, limit int, kind string, warnings []string) ([]string, []string) {
	var out []string
	for _, t := range terms {
		if n := lexicon.Normalize(t); n != "" {
			out = append(out, n)
		}
	}
	out = dedupe(out)
	if len(out) > limit {
		warnings = append(warnings, fmt.Sprintf("%ss truncated to %d", kind, limit))
		out = out[:limit]
	}
	return out, warnings
}

func groundedList(terms []string, known map[string]struct{}, limit int, kind string, warnings []string) ([]string, []string) {
	var out []string
	for _, t := range terms {
		n := lexicon.Normalize(t)
		if n == "" {
			continue
		}
		if !overlaps(n, known) {
			warnings = append(warnings, fmt.Sprintf("%s %q not grounded in the query, dropped", kind, n))
			continue
		}
		out = append(out, n)
	}
	out = dedupe(out)
	if len(out) > limit {
		warnings = append(warnings, fmt.Sprintf("%ss truncated to %d", kind, limit))
		out = out[:limit]
	}
	return out, warnings
}

func overlaps(term string, known map[string]struct{}) bool {
	for _, tok := range strings.Fields(term) {
		if _, ok := known[tok]; ok {
			return true
		}
	}
	return false
}

func dedupe(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := list[:0]
	for _, s := range list {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
