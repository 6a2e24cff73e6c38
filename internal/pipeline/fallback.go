package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"precedent/internal/recall"
	"precedent/internal/types"
)

const (
	fallbackStale     = "stale_cache"
	fallbackSynthetic = "synthetic_advisory"

	// staleConfidenceCap holds recalled results to the exploratory ceiling
	// regardless of what they scored when live.
	staleConfidenceCap = 0.45
	staleBandFloor     = 0.40

	syntheticConfidence = 0.20
)

// staleFallback is step 8: when retrieval produced nothing and the upstream
// did not block us, a sufficiently similar prior response is served on the
// exploratory tier, marked.
func (r *run) staleFallback(ctx context.Context) {
	g := r.e.cfg.Guarantee
	if !g.AlwaysReturn || !g.StaleFallback || r.e.recall == nil {
		return
	}
	if r.blocked || r.tierTotal() > 0 {
		return
	}

	sigs := recall.BuildSignatures(&r.profile)
	hit, err := r.e.recall.Lookup(ctx, sigs, g.StaleMinSimilarity)
	if err != nil {
		r.log.Warn("stale recall lookup failed", zap.Error(err))
		return
	}
	if hit == nil {
		return
	}

	for _, c := range hit.Cases {
		c.RetrievalTier = types.TierExploratory
		c.FallbackReason = fallbackStale
		if c.ConfidenceScore > staleConfidenceCap {
			c.ConfidenceScore = staleConfidenceCap
		}
		if c.ConfidenceScore >= staleBandFloor {
			c.ConfidenceBand = types.BandMedium
		} else {
			c.ConfidenceBand = types.BandLow
		}
		r.stale = append(r.stale, c)
	}
	r.trace.StaleRecallHit = true
	r.notes = append(r.notes, fmt.Sprintf(
		"no live results; serving cached results from a similar earlier query (match level %s, similarity %.2f)",
		hit.Level, hit.Similarity))
	r.log.Info("stale fallback served",
		zap.String("level", string(hit.Level)),
		zap.Float64("similarity", hit.Similarity),
		zap.Int("cases", len(r.stale)))
}

// syntheticAdvisory is step 9: the last always-return leg. A single
// non-citation advisory row explains what was looked for and what was
// missing, without pretending to be a judgment.
func (r *run) syntheticAdvisory() {
	g := r.e.cfg.Guarantee
	if !g.AlwaysReturn || !g.SyntheticFallback {
		return
	}
	if r.tierTotal() > 0 || len(r.stale) > 0 {
		return
	}

	c := types.ScoredCase{
		CaseCandidate: types.CaseCandidate{
			URL:     r.upstreamSearchURL(),
			Title:   r.syntheticTitle(),
			Snippet: r.syntheticSnippet(),
			Court:   types.CourtUnknown,
		},
		ConfidenceScore: syntheticConfidence,
		ConfidenceBand:  types.BandLow,
		RetrievalTier:   types.TierExploratory,
		FallbackReason:  fallbackSynthetic,
	}
	r.synthetic = &c
	r.notes = append(r.notes, "no matching judgment found; a non-citation advisory describes the gap")
}

// upstreamSearchURL points the advisory at the provider's own search page
// for the cleaned query, so the row leads somewhere real.
func (r *run) upstreamSearchURL() string {
	base := strings.TrimRight(r.e.cfg.Retrieval.BaseURL, "/")
	return base + "/search/?formInput=" + url.QueryEscape(r.profile.Cleaned)
}

func (r *run) syntheticTitle() string {
	subject := r.profile.PrimaryDomain
	if len(r.profile.Issues) > 0 {
		subject = strings.ReplaceAll(r.profile.Issues[0], "_", " ")
	}
	if subject == "" {
		subject = "the stated proposition"
	}
	return fmt.Sprintf("Advisory (non-citation): no reported judgment matched %s", subject)
}

func (r *run) syntheticSnippet() string {
	var b strings.Builder
	b.WriteString("No Supreme Court or High Court judgment satisfying every element of the proposition was retrieved.")
	if missing := r.eval.split.TopMissingElements(3); len(missing) > 0 {
		b.WriteString(" Elements never matched together: ")
		b.WriteString(strings.Join(missing, ", "))
		b.WriteByte('.')
	}
	b.WriteString(" Consider relaxing the outcome requirement or searching the linked source directly.")
	return b.String()
}

// persistRecall is the write half of step 10: live results are snapshotted
// for future stale fallback. Served fallbacks are never re-persisted.
func (r *run) persistRecall(ctx context.Context, resp *types.SearchResponse) {
	if r.e.recall == nil || r.blocked || len(r.stale) > 0 || r.synthetic != nil {
		return
	}
	if resp.TierCounts.Total() == 0 {
		return
	}

	cases := resp.AllCases()
	if len(cases) > recallSnapshotLimit {
		cases = cases[:recallSnapshotLimit]
	}
	sigs := recall.BuildSignatures(&r.profile)
	entry := recall.Entry{
		Query:     r.profile.Cleaned,
		Tokens:    sigs.Tokens,
		Cases:     cases,
		SavedAtMs: r.e.now().UnixMilli(),
	}
	if err := r.e.recall.Save(context.WithoutCancel(ctx), sigs, entry); err != nil {
		r.log.Warn("recall persist failed", zap.Error(err))
	}
}
