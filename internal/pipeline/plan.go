package pipeline

import (
	"context"
	"strings"

	"precedent/internal/intent"
	"precedent/internal/proposition"
	"precedent/internal/reasoner"
	"precedent/internal/types"
)

// PlanResult is the deterministic front half of a request: everything the
// engine derives before the first retrieval attempt fires. Callers that run
// retrieval on their own side execute the variants in order and post the
// collected candidates back through Finalize.
type PlanResult struct {
	Query        string                    `json:"query"`
	Profile      intent.Profile            `json:"profile"`
	Plan         *reasoner.Plan            `json:"plan,omitempty"`
	Checklist    proposition.Checklist     `json:"checklist"`
	Variants     []types.QueryVariant      `json:"variants"`
	GlobalBudget int                       `json:"globalBudget"`
	Extended     bool                      `json:"extended"`
	Reasoner     []types.ReasonerTelemetry `json:"reasoner,omitempty"`
}

// Plan runs the profile, reasoner and compile steps and returns the variant
// schedule without touching the upstream provider.
func (e *Engine) Plan(ctx context.Context, query string) (*PlanResult, error) {
	if len(strings.TrimSpace(query)) < minQueryChars {
		return nil, ErrQueryTooShort
	}
	r, ctx, cancel := e.newRun(ctx, query, Options{})
	defer cancel()

	r.buildProfile(ctx)
	r.reasonerPass1(ctx)
	r.compilePlan()

	return &PlanResult{
		Query:        r.query,
		Profile:      r.profile,
		Plan:         r.plan,
		Checklist:    r.checklist,
		Variants:     r.variants,
		GlobalBudget: r.budget,
		Extended:     r.extended,
		Reasoner:     r.trace.Reasoner,
	}, nil
}

// Finalize pushes externally retrieved candidates through the same
// verification, scoring and gating chain Search uses, then assembles the
// response under the always-return guarantee. No scheduler run fires, so
// the response can never be blocked; an empty candidate set still falls
// through to the stale and synthetic fallbacks.
//
// The reasoner pass repeats here and resolves from the plan cache when Plan
// ran first for the same query.
func (e *Engine) Finalize(ctx context.Context, query string, candidates []types.CaseCandidate, opts Options) (*types.SearchResponse, error) {
	if len(strings.TrimSpace(query)) < minQueryChars {
		return nil, ErrQueryTooShort
	}
	r, ctx, cancel := e.newRun(ctx, query, opts)
	defer cancel()

	r.buildProfile(ctx)
	r.reasonerPass1(ctx)
	r.compilePlan()

	r.evaluateCandidates(ctx, candidates)
	r.staleFallback(ctx)

	resp := r.assemble()
	r.persistRecall(ctx, resp)
	r.finish(resp)
	return resp, nil
}
