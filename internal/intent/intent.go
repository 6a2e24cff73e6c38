// Package intent turns a raw fact scenario into a context profile: the
// cleaned query, recognised domains and issues, statute hooks, fact anchors,
// the outcome polarity the user wants, a court hint, and an optional date
// window. Everything here is deterministic; the profile is the ground truth
// later stages validate reasoner output against.
package intent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"precedent/internal/lexicon"
	"precedent/internal/types"
)

// Profile is the structured reading of one query.
type Profile struct {
	Raw     string   `json:"raw"`
	Cleaned string   `json:"cleaned"`
	Tokens  []string `json:"tokens"`

	Domains       []string `json:"domains,omitempty"`
	PrimaryDomain string   `json:"primaryDomain,omitempty"`
	Issues        []string `json:"issues,omitempty"`
	Procedures    []string `json:"procedures,omitempty"`
	Actors        []string `json:"actors,omitempty"`

	// Named entities extracted by the enricher registry. Citations also
	// join Anchors, where the planner treats them as retrieval pivots.
	Persons       []string `json:"persons,omitempty"`
	Organisations []string `json:"organisations,omitempty"`
	Citations     []string `json:"citations,omitempty"`

	// StatuteFamilies lists hook families mentioned in the text, in first
	// occurrence order. Hooks are the extracted anchors themselves;
	// ImpliedHooks were added by enrichers and carry less weight.
	StatuteFamilies []string       `json:"statuteFamilies,omitempty"`
	Hooks           []lexicon.Hook `json:"hooks,omitempty"`
	ImpliedHooks    []lexicon.Hook `json:"impliedHooks,omitempty"`

	Anchors []string `json:"anchors,omitempty"`

	Polarity   types.OutcomePolarity `json:"polarity"`
	CourtHint  types.CourtScope      `json:"courtHint"`
	DateWindow types.DateWindow      `json:"dateWindow"`

	SignalCount int  `json:"signalCount"`
	LegalSignal bool `json:"legalSignal"`
}

// AllHooks returns extracted hooks followed by implied ones.
func (p *Profile) AllHooks() []lexicon.Hook {
	out := make([]lexicon.Hook, 0, len(p.Hooks)+len(p.ImpliedHooks))
	out = append(out, p.Hooks...)
	return append(out, p.ImpliedHooks...)
}

// HasHookFamily reports whether any extracted or implied hook belongs to the
// family.
func (p *Profile) HasHookFamily(family string) bool {
	for _, h := range p.Hooks {
		if h.Family == family {
			return true
		}
	}
	for _, h := range p.ImpliedHooks {
		if h.Family == family {
			return true
		}
	}
	return false
}

// Options configure Build. The zero value works: time.Now, the default
// enricher registry, and a nop logger.
type Options struct {
	Now       func() time.Time
	Enrichers *Registry
	Logger    *zap.Logger
}

// Build constructs the profile for a raw query against one lexicon snapshot.
func Build(ctx context.Context, lx *lexicon.Lexicon, raw string, opts Options) Profile {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Enrichers == nil {
		opts.Enrichers = DefaultRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	cleaned := CleanQuery(lx, raw)
	window, cleaned := ExtractDateWindow(cleaned, opts.Now())

	p := Profile{
		Raw:        raw,
		Cleaned:    cleaned,
		Tokens:     lx.Tokenize(cleaned),
		Domains:    lx.MatchDomains(cleaned),
		Issues:     lx.MatchIssues(cleaned),
		Procedures: lx.MatchProcedures(cleaned),
		Actors:     lx.MatchActors(cleaned),

		StatuteFamilies: lx.MatchStatuteFamilies(cleaned),
		Hooks:           lx.Hooks(cleaned),
		Anchors:         lx.Anchors(raw),

		Polarity:   InferOutcomePolarity(lx, cleaned),
		CourtHint:  InferCourtHint(lx, cleaned),
		DateWindow: window,
	}
	p.SignalCount = lx.CountSignals(p.Tokens)
	p.LegalSignal = lx.HasLegalSignal(cleaned)
	p.PrimaryDomain = primaryDomain(lx, cleaned, p.Domains)

	opts.Enrichers.Run(ctx, lx, &p, opts.Logger)
	return p
}

// primaryDomain picks the domain with the most phrase hits, breaking ties
// alphabetically so the choice is stable.
func primaryDomain(lx *lexicon.Lexicon, text string, domains []string) string {
	if len(domains) == 0 {
		return ""
	}
	if len(domains) == 1 {
		return domains[0]
	}
	hits := lx.DomainHits(text)
	best, bestHits := "", -1
	for _, d := range domains {
		if hits[d] > bestHits || (hits[d] == bestHits && d < best) {
			best, bestHits = d, hits[d]
		}
	}
	return best
}
