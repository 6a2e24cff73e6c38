// Package recall is the stale-fallback memory: prior successful responses
// indexed at four signature levels, from the exact query down to the bare
// legal domain. When a live run comes back empty the pipeline walks the
// levels most-specific-first and serves the first prior response similar
// enough to the current query.
package recall

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"precedent/internal/intent"
	"precedent/internal/lexicon"
	"precedent/internal/types"
)

// Level is one signature specificity tier.
type Level string

const (
	LevelExact  Level = "exact"
	LevelFull   Level = "full"
	LevelMedium Level = "medium"
	LevelBroad  Level = "broad"
)

// AllLevels lists the tiers in lookup order, most specific first.
var AllLevels = []Level{LevelExact, LevelFull, LevelMedium, LevelBroad}

// Signatures are one query's recall keys. A level with an empty signature is
// skipped on both save and lookup.
type Signatures struct {
	Exact  string `json:"exact"`
	Full   string `json:"full"`
	Medium string `json:"medium,omitempty"`
	Broad  string `json:"broad,omitempty"`

	// Tokens is the query's token set, kept for similarity checks against
	// stored entries at the fuzzy levels.
	Tokens []string `json:"tokens"`
}

// For returns the signature at the given level.
func (s Signatures) For(level Level) string {
	switch level {
	case LevelExact:
		return s.Exact
	case LevelFull:
		return s.Full
	case LevelMedium:
		return s.Medium
	case LevelBroad:
		return s.Broad
	}
	return ""
}

// BuildSignatures derives the four-level signature set from an intent
// profile. Exact keys the normalized query verbatim; full keys the sorted
// token set; medium keys the recognised legal context (domains, issues,
// procedures, statute families); broad keys the primary domain alone.
func BuildSignatures(p *intent.Profile) Signatures {
	sigs := Signatures{Tokens: uniqueSorted(p.Tokens)}
	sigs.Exact = digest("q|" + lexicon.Normalize(p.Cleaned))
	sigs.Full = digest("t|" + strings.Join(sigs.Tokens, " "))

	var ctxParts []string
	ctxParts = append(ctxParts, p.Domains...)
	ctxParts = append(ctxParts, p.Issues...)
	ctxParts = append(ctxParts, p.Procedures...)
	ctxParts = append(ctxParts, p.StatuteFamilies...)
	if parts := uniqueSorted(ctxParts); len(parts) > 0 {
		sigs.Medium = digest("m|" + strings.Join(parts, " "))
	}
	if p.PrimaryDomain != "" {
		sigs.Broad = digest("b|" + p.PrimaryDomain)
	}
	return sigs
}

// Entry is one stored prior response.
type Entry struct {
	Query     string             `json:"query"`
	Tokens    []string           `json:"tokens"`
	Cases     []types.ScoredCase `json:"cases"`
	SavedAtMs int64              `json:"savedAtMs"`
}

// Hit is a lookup result: the stored entry plus where and how well it
// matched.
type Hit struct {
	Entry
	Level      Level   `json:"level"`
	Similarity float64 `json:"similarity"`
}

// Store persists and recalls prior responses. Implementations: the shared
// cache (default) and the durable sqlite store.
type Store interface {
	// Lookup walks the levels most-specific-first and returns the first
	// entry whose token similarity clears the threshold, or nil.
	Lookup(ctx context.Context, sigs Signatures, minSimilarity float64) (*Hit, error)

	// Save stores the entry under every non-empty signature level.
	Save(ctx context.Context, sigs Signatures, e Entry) error
}

// accept scores a stored entry against the current query at the given level.
// Exact and full signatures only collide for identical queries or identical
// token sets, so similarity is checked at the fuzzy levels alone.
func accept(e *Entry, sigs Signatures, level Level, minSimilarity float64) (float64, bool) {
	switch level {
	case LevelExact, LevelFull:
		return 1, true
	}
	sim := jaccard(e.Tokens, sigs.Tokens)
	return sim, sim >= minSimilarity
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	inter := 0
	setB := make(map[string]bool, len(b))
	for _, t := range b {
		if setB[t] {
			continue
		}
		setB[t] = true
		if setA[t] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
