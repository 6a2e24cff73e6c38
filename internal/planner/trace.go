package planner

import (
	"strings"

	"precedent/internal/intent"
	"precedent/internal/lexicon"
	"precedent/internal/proposition"
	"precedent/internal/reasoner"
	"precedent/internal/types"
)

const maxTracePivots = 4

// TraceVariants synthesises browse follow-ups from retrieved seed titles:
// each pairs the party names of a promising judgment with one pivot term
// from the proposition, so citing and cited cases surface on the next pass.
// Every synthesised phrase must keep a legal signal token and at least six
// characters, which drops seeds whose titles were pure docket noise.
func (p *Planner) TraceVariants(seeds []types.CaseCandidate, cl *proposition.Checklist, limit int) []types.QueryVariant {
	if limit <= 0 || len(seeds) == 0 {
		return nil
	}
	pivots := pivotTerms(cl)
	if len(pivots) == 0 {
		return nil
	}

	b := &builder{
		p:       p,
		profile: &intent.Profile{},
		cl:      cl,
		seen:    make(map[string]struct{}),
	}
	for _, seed := range seeds {
		core := titleCore(seed.Title)
		if core == "" {
			continue
		}
		for _, pivot := range pivots {
			if len(b.out) >= limit {
				return b.out
			}
			phrase := core + " " + pivot
			if len(phrase) < 6 || !p.lx.HasLegalSignal(phrase) {
				continue
			}
			b.emitRelaxed(phrase, types.PhaseBrowse, "trace pivot")
		}
	}
	return b.out
}

// BackfillVariants assembles last-resort browse phrases for the
// always-return backstop: ontology templates filled from the profile,
// bare issue phrasings, and any reasoner case anchors. Everything is
// relaxed and low priority; signature dedup in the scheduler drops the
// ones the request already tried.
func (p *Planner) BackfillVariants(profile *intent.Profile, cl *proposition.Checklist, plan *reasoner.Plan, limit int) []types.QueryVariant {
	if limit <= 0 || profile == nil {
		return nil
	}
	b := &builder{
		p:       p,
		profile: profile,
		cl:      cl,
		plan:    plan,
		seen:    make(map[string]struct{}),
	}

	issue := ""
	if len(profile.Issues) > 0 {
		if phrases := p.lx.Issues[profile.Issues[0]]; len(phrases) > 0 {
			issue = phrases[0]
		}
	}
	statute := b.hookShort()

	for _, tpl := range p.lx.TemplatesFor(profile.PrimaryDomain) {
		if len(b.out) >= limit {
			return b.out
		}
		phrase, ok := fillTemplate(tpl, issue, statute, profile.PrimaryDomain)
		if !ok {
			continue
		}
		b.emitRelaxed(phrase, types.PhaseBrowse, "guarantee template")
	}
	for _, id := range profile.Issues {
		if len(b.out) >= limit {
			return b.out
		}
		for _, phrase := range p.lx.Issues[id] {
			b.emitRelaxed(phrase+" judgment", types.PhaseBrowse, "guarantee issue")
			break
		}
	}
	if plan != nil {
		for _, anchor := range plan.CaseAnchors {
			if len(b.out) >= limit {
				return b.out
			}
			b.emitRelaxed(anchor, types.PhaseBrowse, "guarantee anchor")
		}
	}
	return b.out
}

// pivotTerms picks the proposition terms worth chasing through citations:
// one per required hook group, one per mandatory step, then the outcome.
func pivotTerms(cl *proposition.Checklist) []string {
	if cl == nil {
		return nil
	}
	var out []string
	for _, g := range cl.RequiredGroups() {
		if len(g.Terms) > 0 {
			out = appendUnique(out, g.Terms[0])
		}
	}
	for _, step := range cl.Graph.MandatorySteps {
		if len(step.Terms) > 0 {
			out = appendUnique(out, step.Terms[0])
		}
	}
	if cl.Outcome.Required && len(cl.Outcome.Terms) > 0 {
		out = appendUnique(out, cl.Outcome.Terms[0])
	}
	if len(out) > maxTracePivots {
		out = out[:maxTracePivots]
	}
	return out
}

// titleCore keeps the party names of a judgment title. Versus markers drop
// out and the title is cut at the "on <date>" suffix search results carry.
func titleCore(title string) string {
	var kept []string
	for _, tok := range strings.Fields(lexicon.Normalize(title)) {
		switch tok {
		case "v", "vs", "versus":
			continue
		}
		if tok == "on" && len(kept) >= 2 {
			break
		}
		kept = append(kept, tok)
		if len(kept) == 5 {
			break
		}
	}
	if len(kept) < 2 {
		return ""
	}
	return strings.Join(kept, " ")
}
