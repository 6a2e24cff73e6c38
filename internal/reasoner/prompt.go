package reasoner

import (
	"fmt"
	"strings"

	"precedent/internal/intent"
	"precedent/internal/types"
)

// planSchema is shown to the model verbatim. Keep it in sync with Plan.
const planSchema = `{
  "proposition": {
    "actors": ["party roles, e.g. public servant, accused, appellant state"],
    "proceeding": ["procedural posture, e.g. criminal appeal, quashing petition"],
    "legal_hooks": ["statutory phrases taken from the query"],
    "outcome_required": ["disposition phrases the judgment must contain"],
    "outcome_negative": ["disposition phrases that defeat the query"],
    "jurisdiction_hint": "SC|HC|ANY",
    "hook_groups": [
      {"group_id": "sec_5_limitation_act", "terms": ["section 5 limitation act", "condonation of delay"], "min_match": 1, "required": true}
    ],
    "relations": [
      {"type": "requires|applies_to|interacts_with|excluded_by", "left_group_id": "...", "right_group_id": "...", "required": true}
    ],
    "outcome_constraint": {
      "polarity": "required|not_required|allowed|refused|dismissed|quashed",
      "modality": "mandatory|prohibitory|permissive",
      "terms": ["phrases evidencing the outcome"],
      "contradiction_terms": ["phrases contradicting the outcome"]
    },
    "interaction_required": false
  },
  "must_have_terms": ["terms every result must contain, max 8"],
  "must_not_have_terms": ["terms that mark an irrelevant result, max 8"],
  "query_variants_strict": ["search phrases carrying every required hook, max 6"],
  "query_variants_broad": ["relaxed search phrases, max 6"],
  "case_anchors": ["leading case names, only if certain, max 4"]
}`

// groupIDRule tells the model which group_id shapes validation will accept.
const groupIDRule = `Use group_id shapes: sec_<num>_<family> (e.g. sec_482_crpc), art_<num>,
a statute family id (e.g. limitation_act), order_<o>_rule_<r>_cpc, or hook_<slug> for
non-statutory doctrines.`

// BuildPass1Prompt asks the model for a structured proposition over the
// deterministic reading of the query. Validation clamps whatever comes back,
// so the prompt leans on instruction rather than enforcement.
func BuildPass1Prompt(profile *intent.Profile) string {
	var b strings.Builder
	b.WriteString("You compile a legal proposition for an Indian case-law retrieval engine.\n")
	b.WriteString("Work only with the analysis below. Do not invent statutes, sections, or facts.\n\n")

	writeProfileBlock(&b, profile)

	b.WriteString("\n")
	b.WriteString(groupIDRule)
	b.WriteString("\nRespond with exactly one JSON object, no prose, matching:\n")
	b.WriteString(planSchema)
	b.WriteString("\n")
	return b.String()
}

// Snippet is a first-round candidate surfaced to the refinement pass.
type Snippet struct {
	Title   string
	Excerpt string
	Court   string
}

// BuildPass2Prompt adds the base plan and the outcome of the first retrieval
// round so the model can rescue a thin result set with different emphasis.
func BuildPass2Prompt(profile *intent.Profile, base *Plan, snippets []Snippet, attempts []types.Attempt) string {
	var b strings.Builder
	b.WriteString("You refine a legal proposition for an Indian case-law retrieval engine after a weak first round.\n")
	b.WriteString("Work only with the analysis below. Do not invent statutes, sections, or facts.\n\n")

	writeProfileBlock(&b, profile)

	if base != nil {
		b.WriteString("\nCURRENT PLAN:\n")
		for _, g := range base.Proposition.HookGroups {
			fmt.Fprintf(&b, "- group %s (required=%t): %s\n", g.GroupID, g.Required, strings.Join(g.Terms, " | "))
		}
		if len(base.StrictVariants) > 0 {
			fmt.Fprintf(&b, "- strict variants tried: %s\n", strings.Join(base.StrictVariants, " ; "))
		}
	}

	fmt.Fprintf(&b, "\nFIRST ROUND: %d candidate judgments.\n", len(snippets))
	for i, s := range snippets {
		if i == 10 {
			break
		}
		line := s.Title
		if s.Court != "" {
			line += " [" + s.Court + "]"
		}
		if s.Excerpt != "" {
			line += ": " + s.Excerpt
		}
		fmt.Fprintf(&b, "- %s\n", line)
	}
	limit := len(attempts)
	if limit > 8 {
		limit = 8
	}
	if limit > 0 {
		b.WriteString("\nATTEMPTS:\n")
		for _, a := range attempts[:limit] {
			fmt.Fprintf(&b, "- [%s] %q -> %s, %d parsed\n", a.Phase, a.Phrase, a.Status, a.ParsedCount)
		}
	}

	b.WriteString("\nRework the weak axes: new broad variants, adjusted hook group terms, or corrected outcome terms.\n")
	b.WriteString(groupIDRule)
	b.WriteString("\nRespond with exactly one JSON object, no prose, matching:\n")
	b.WriteString(planSchema)
	b.WriteString("\n")
	return b.String()
}

func writeProfileBlock(b *strings.Builder, profile *intent.Profile) {
	fmt.Fprintf(b, "QUERY: %s\n", profile.Cleaned)
	if len(profile.Issues) > 0 {
		fmt.Fprintf(b, "ISSUES: %s\n", strings.Join(profile.Issues, ", "))
	}
	if profile.PrimaryDomain != "" {
		fmt.Fprintf(b, "DOMAIN: %s\n", profile.PrimaryDomain)
	}
	if hooks := profile.AllHooks(); len(hooks) > 0 {
		ids := make([]string, 0, len(hooks))
		for _, h := range hooks {
			ids = append(ids, h.ID)
		}
		fmt.Fprintf(b, "HOOKS: %s\n", strings.Join(ids, ", "))
	}
	if len(profile.Anchors) > 0 {
		fmt.Fprintf(b, "FACT ANCHORS: %s\n", strings.Join(profile.Anchors, "; "))
	}
	if profile.Polarity.Known() {
		fmt.Fprintf(b, "DESIRED OUTCOME: %s\n", profile.Polarity)
	}
	if profile.CourtHint != types.CourtScopeAny {
		fmt.Fprintf(b, "COURT: %s\n", profile.CourtHint)
	}
	if !profile.DateWindow.Empty() {
		fmt.Fprintf(b, "DATE WINDOW: %s\n", profile.DateWindow.String())
	}
}
